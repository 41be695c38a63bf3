package changesegment

import "github.com/leadwell/drip/pkg/protocol"

type ActionFactory struct {
	changer MembershipChanger
}

func NewActionFactory(changer MembershipChanger) *ActionFactory {
	return &ActionFactory{changer: changer}
}

func (f *ActionFactory) ID() string {
	return "change_segment"
}

func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	return NewAction(config, f.changer)
}

func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"segment_id": map[string]any{
				"type":        "string",
				"description": "Segment to change membership in.",
			},
			"op": map[string]any{
				"type":        "string",
				"description": "Whether to add or remove the entity.",
				"default":     "add",
				"enum":        []string{"add", "remove"},
			},
		},
		"required": []string{"segment_id"},
	}
}
