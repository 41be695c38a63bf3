package webhook

import "github.com/leadwell/drip/pkg/protocol"

type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (f *ActionFactory) ID() string {
	return "webhook"
}

func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	return NewAction(config)
}

func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "Destination URL. Supports templating.",
			},
			"method": map[string]any{
				"type":        "string",
				"description": "HTTP method.",
				"default":     "POST",
				"enum":        []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
			},
			"headers": map[string]any{
				"type":        "object",
				"description": "Extra request headers.",
				"additionalProperties": map[string]any{
					"type": "string",
				},
			},
			"body": map[string]any{
				"type":        "string",
				"description": "Body template. Defaults to a JSON envelope with entity and trigger data.",
			},
		},
		"required": []string{"url"},
	}
}
