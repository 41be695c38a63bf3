package sendmessage

import "github.com/leadwell/drip/pkg/protocol"

// ActionFactory creates send_message actions bound to one Sender.
type ActionFactory struct {
	sender Sender
}

func NewActionFactory(sender Sender) *ActionFactory {
	return &ActionFactory{sender: sender}
}

func (f *ActionFactory) ID() string {
	return "send_message"
}

func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	return NewAction(config, f.sender)
}

func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"channel": map[string]any{
				"type":        "string",
				"description": "Delivery channel.",
				"enum":        []string{"email", "sms", "push"},
			},
			"template": map[string]any{
				"type":        "string",
				"description": "Provider-side message template name.",
			},
			"subject": map[string]any{
				"type":        "string",
				"description": "Subject line. Supports templating against trigger data and step outputs.",
			},
			"body": map[string]any{
				"type":        "string",
				"description": "Message body override. Supports templating.",
			},
		},
		"required": []string{"channel", "template"},
	}
}
