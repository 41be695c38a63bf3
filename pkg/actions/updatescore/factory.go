package updatescore

import "github.com/leadwell/drip/pkg/protocol"

type ActionFactory struct {
	store ScoreStore
}

func NewActionFactory(store ScoreStore) *ActionFactory {
	return &ActionFactory{store: store}
}

func (f *ActionFactory) ID() string {
	return "update_score"
}

func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	return NewAction(config, f.store)
}

func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"delta": map[string]any{
				"type":        "number",
				"description": "Amount added to the entity's score. Negative values decrease it.",
			},
		},
		"required": []string{"delta"},
	}
}
