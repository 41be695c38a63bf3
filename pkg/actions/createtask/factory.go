package createtask

import "github.com/leadwell/drip/pkg/protocol"

type ActionFactory struct {
	creator TaskCreator
}

func NewActionFactory(creator TaskCreator) *ActionFactory {
	return &ActionFactory{creator: creator}
}

func (f *ActionFactory) ID() string {
	return "create_task"
}

func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	return NewAction(config, f.creator)
}

func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{
				"type":        "string",
				"description": "Task title. Supports templating.",
			},
			"description": map[string]any{
				"type":        "string",
				"description": "Task body. Supports templating.",
			},
			"assignee": map[string]any{
				"type":        "string",
				"description": "User or queue the task is assigned to.",
			},
			"due_in": map[string]any{
				"type":        "string",
				"description": "Due offset from creation, as a duration like \"48h\".",
			},
		},
		"required": []string{"title"},
	}
}
