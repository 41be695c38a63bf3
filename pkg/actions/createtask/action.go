// Package createtask provides the action that opens a follow-up task for a
// human, typically in a CRM queue.
package createtask

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leadwell/drip/pkg/protocol"
	"github.com/leadwell/drip/pkg/template"
)

// Task is one follow-up item.
type Task struct {
	EntityID    string
	Title       string
	Description string
	Assignee    string
	DueAt       *time.Time
}

// TaskCreator files tasks with whatever system owns the sales queue.
type TaskCreator interface {
	CreateTask(ctx context.Context, task Task) (taskID string, err error)
}

var ErrTitleRequired = errors.New("create_task requires a 'title' parameter")

type Action struct {
	title       string
	description string
	assignee    string
	dueIn       time.Duration
	creator     TaskCreator

	now func() time.Time
}

func NewAction(config map[string]any, creator TaskCreator) (*Action, error) {
	title, _ := config["title"].(string)
	if title == "" {
		return nil, ErrTitleRequired
	}

	description, _ := config["description"].(string)
	assignee, _ := config["assignee"].(string)

	var dueIn time.Duration

	if raw, ok := config["due_in"].(string); ok && raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid due_in %q: %w", raw, err)
		}

		dueIn = parsed
	}

	return &Action{
		title:       title,
		description: description,
		assignee:    assignee,
		dueIn:       dueIn,
		creator:     creator,
		now:         time.Now,
	}, nil
}

func (a *Action) Execute(ctx context.Context, req protocol.ActionRequest, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("module", "create_task_action", "assignee", a.assignee)

	title, err := template.RenderString(a.title, req)
	if err != nil {
		return nil, fmt.Errorf("failed to render title: %w", err)
	}

	description, err := template.RenderString(a.description, req)
	if err != nil {
		return nil, fmt.Errorf("failed to render description: %w", err)
	}

	task := Task{
		EntityID:    req.EntityID,
		Title:       title,
		Description: description,
		Assignee:    a.assignee,
	}

	if a.dueIn > 0 {
		due := a.now().Add(a.dueIn)
		task.DueAt = &due
	}

	taskID, err := a.creator.CreateTask(ctx, task)
	if err != nil {
		return nil, protocol.Retriable(fmt.Errorf("failed to create task: %w", err))
	}

	logger.InfoContext(ctx, "Task created", "task_id", taskID)

	return map[string]any{"task_id": taskID}, nil
}
