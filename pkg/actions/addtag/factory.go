package addtag

import "github.com/leadwell/drip/pkg/protocol"

type ActionFactory struct {
	tagger Tagger
}

func NewActionFactory(tagger Tagger) *ActionFactory {
	return &ActionFactory{tagger: tagger}
}

func (f *ActionFactory) ID() string {
	return "add_tag"
}

func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	return NewAction(config, f.tagger)
}

func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"tag": map[string]any{
				"type":        "string",
				"description": "Tag to attach. Supports templating.",
			},
		},
		"required": []string{"tag"},
	}
}
