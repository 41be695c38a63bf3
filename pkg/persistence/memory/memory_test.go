package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadwell/drip/pkg/models"
	"github.com/leadwell/drip/pkg/persistence"
)

func newExecution(id string) *models.ExecutionInstance {
	now := time.Now().UTC()

	return &models.ExecutionInstance{
		ID:         id,
		WorkflowID: "wf-1",
		EntityID:   "lead-1",
		Status:     models.ExecutionStatusRunning,
		Context:    map[string]any{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestCreateActiveEnforcesUniqueness(t *testing.T) {
	ctx := context.Background()
	store := NewPersistence().Executions()

	require.NoError(t, store.CreateActive(ctx, newExecution("exec-1")))

	err := store.CreateActive(ctx, newExecution("exec-2"))
	require.Error(t, err)
	assert.ErrorIs(t, err, persistence.ErrActiveExecutionExists)
}

func TestCreateActiveConcurrentTriggers(t *testing.T) {
	ctx := context.Background()
	store := NewPersistence().Executions()

	const attempts = 20

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)

	for i := range attempts {
		wg.Add(1)

		go func(n int) {
			defer wg.Done()

			exec := newExecution("exec-" + string(rune('a'+n)))
			if err := store.CreateActive(ctx, exec); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(i)
	}

	wg.Wait()
	assert.Equal(t, 1, succeeded, "exactly one concurrent trigger may win")
}

func TestUpdateVersionConflict(t *testing.T) {
	ctx := context.Background()
	store := NewPersistence().Executions()

	exec := newExecution("exec-1")
	require.NoError(t, store.CreateActive(ctx, exec))

	first, err := store.GetByID(ctx, "exec-1")
	require.NoError(t, err)

	second, err := store.GetByID(ctx, "exec-1")
	require.NoError(t, err)

	first.CurrentStepIndex = 1
	require.NoError(t, store.Update(ctx, first))

	second.CurrentStepIndex = 2
	err = store.Update(ctx, second)
	require.Error(t, err)
	assert.ErrorIs(t, err, persistence.ErrVersionConflict)
}

func TestUpdateTerminalIsImmutable(t *testing.T) {
	ctx := context.Background()
	store := NewPersistence().Executions()

	exec := newExecution("exec-1")
	require.NoError(t, store.CreateActive(ctx, exec))

	require.NoError(t, exec.TransitionTo(models.ExecutionStatusCompleted, time.Now().UTC()))
	require.NoError(t, store.Update(ctx, exec))

	exec.Error = "late edit"
	err := store.Update(ctx, exec)
	require.Error(t, err)
	assert.ErrorIs(t, err, persistence.ErrExecutionImmutable)
}

func TestTerminalUpdateFreesActiveSlot(t *testing.T) {
	ctx := context.Background()
	store := NewPersistence().Executions()

	exec := newExecution("exec-1")
	require.NoError(t, store.CreateActive(ctx, exec))

	require.NoError(t, exec.TransitionTo(models.ExecutionStatusCompleted, time.Now().UTC()))
	require.NoError(t, store.Update(ctx, exec))

	_, err := store.FindActive(ctx, "wf-1", "lead-1")
	assert.ErrorIs(t, err, persistence.ErrExecutionNotFound)

	assert.NoError(t, store.CreateActive(ctx, newExecution("exec-2")))
}

func TestFindLatestFinished(t *testing.T) {
	ctx := context.Background()
	store := NewPersistence().Executions()

	first := newExecution("exec-1")
	require.NoError(t, store.CreateActive(ctx, first))
	require.NoError(t, first.TransitionTo(models.ExecutionStatusFailed, time.Now().UTC().Add(-time.Hour)))
	require.NoError(t, store.Update(ctx, first))

	second := newExecution("exec-2")
	require.NoError(t, store.CreateActive(ctx, second))
	require.NoError(t, second.TransitionTo(models.ExecutionStatusCompleted, time.Now().UTC()))
	require.NoError(t, store.Update(ctx, second))

	latest, err := store.FindLatestFinished(ctx, "wf-1", "lead-1")
	require.NoError(t, err)
	assert.Equal(t, "exec-2", latest.ID)

	_, err = store.FindLatestFinished(ctx, "wf-1", "lead-other")
	assert.ErrorIs(t, err, persistence.ErrExecutionNotFound)
}

func TestMembershipJoinLeaveIdempotent(t *testing.T) {
	ctx := context.Background()
	members := NewPersistence().Memberships()
	now := time.Now().UTC()

	join := models.MembershipChange{
		SegmentID: "seg-1", EntityID: "lead-1",
		Op: models.MembershipAdded, Reason: models.ReasonRuleMatch, At: now,
	}

	require.NoError(t, members.Join(ctx, join))
	require.NoError(t, members.Join(ctx, join))

	current, err := members.Members(ctx, "seg-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"lead-1"}, current)

	leave := models.MembershipChange{
		SegmentID: "seg-1", EntityID: "lead-1",
		Op: models.MembershipRemoved, Reason: models.ReasonRuleUnmatch, At: now.Add(time.Minute),
	}

	require.NoError(t, members.Leave(ctx, leave))
	require.NoError(t, members.Leave(ctx, leave))

	current, err = members.Members(ctx, "seg-1")
	require.NoError(t, err)
	assert.Empty(t, current)

	history, err := members.History(ctx, "seg-1", "lead-1")
	require.NoError(t, err)
	require.Len(t, history, 1, "leave closes the row instead of deleting it")
	assert.NotNil(t, history[0].LeftAt)
	assert.Equal(t, models.ReasonRuleUnmatch, history[0].LeftReason)
}

func TestMembershipRejoinAppendsHistory(t *testing.T) {
	ctx := context.Background()
	members := NewPersistence().Memberships()
	now := time.Now().UTC()

	require.NoError(t, members.Join(ctx, models.MembershipChange{SegmentID: "seg-1", EntityID: "lead-1", Reason: models.ReasonRuleMatch, At: now}))
	require.NoError(t, members.Leave(ctx, models.MembershipChange{SegmentID: "seg-1", EntityID: "lead-1", Reason: models.ReasonRuleUnmatch, At: now.Add(time.Minute)}))
	require.NoError(t, members.Join(ctx, models.MembershipChange{SegmentID: "seg-1", EntityID: "lead-1", Reason: models.ReasonRuleMatch, At: now.Add(2 * time.Minute)}))

	history, err := members.History(ctx, "seg-1", "lead-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.NotNil(t, history[0].LeftAt)
	assert.Nil(t, history[1].LeftAt)
}

func TestScheduleDue(t *testing.T) {
	ctx := context.Background()
	schedules := NewPersistence().Schedules()

	entry, err := models.NewScheduledTrigger("sched-1", "nurture_tick", "*/5 * * * *")
	require.NoError(t, err)
	entry.EntityID = "lead-1"
	require.NoError(t, schedules.Save(ctx, entry))

	due, err := schedules.Due(ctx, entry.NextDueAt.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "sched-1", due[0].ID)

	due, err = schedules.Due(ctx, entry.NextDueAt.Add(-time.Second))
	require.NoError(t, err)
	assert.Empty(t, due)
}
