package createtask

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadwell/drip/pkg/protocol"
)

type fakeCreator struct {
	tasks []Task
}

func (f *fakeCreator) CreateTask(_ context.Context, task Task) (string, error) {
	f.tasks = append(f.tasks, task)

	return "task-1", nil
}

func TestCreateTask(t *testing.T) {
	creator := &fakeCreator{}

	action, err := NewAction(map[string]any{
		"title":    "Call {{.entity_id}}",
		"assignee": "sales-queue",
		"due_in":   "48h",
	}, creator)
	require.NoError(t, err)

	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	action.now = func() time.Time { return now }

	output, err := action.Execute(context.Background(), protocol.ActionRequest{EntityID: "lead-1"}, slog.Default())
	require.NoError(t, err)

	assert.Equal(t, "task-1", output["task_id"])
	require.Len(t, creator.tasks, 1)
	assert.Equal(t, "Call lead-1", creator.tasks[0].Title)
	assert.Equal(t, "sales-queue", creator.tasks[0].Assignee)
	require.NotNil(t, creator.tasks[0].DueAt)
	assert.Equal(t, now.Add(48*time.Hour), *creator.tasks[0].DueAt)
}

func TestCreateTaskNoDueDate(t *testing.T) {
	creator := &fakeCreator{}

	action, err := NewAction(map[string]any{"title": "Review lead"}, creator)
	require.NoError(t, err)

	_, err = action.Execute(context.Background(), protocol.ActionRequest{EntityID: "lead-1"}, slog.Default())
	require.NoError(t, err)
	assert.Nil(t, creator.tasks[0].DueAt)
}

func TestCreateTaskInvalidConfig(t *testing.T) {
	_, err := NewAction(map[string]any{}, &fakeCreator{})
	assert.ErrorIs(t, err, ErrTitleRequired)

	_, err = NewAction(map[string]any{"title": "x", "due_in": "two days"}, &fakeCreator{})
	assert.Error(t, err)
}
