package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadwell/drip/pkg/eventbus"
	"github.com/leadwell/drip/pkg/events"
	"github.com/leadwell/drip/pkg/models"
	"github.com/leadwell/drip/pkg/persistence"
	"github.com/leadwell/drip/pkg/persistence/memory"
	"github.com/leadwell/drip/pkg/protocol"
	"github.com/leadwell/drip/pkg/registry"
	"github.com/leadwell/drip/pkg/rules"
	"github.com/leadwell/drip/pkg/timer"
)

// staticSnapshots serves a fixed entity snapshot.
type staticSnapshots struct {
	mu     sync.Mutex
	fields map[string]any
	err    error
}

func (s *staticSnapshots) Snapshot(_ context.Context, _ string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}

	snapshot := make(map[string]any, len(s.fields))
	for k, v := range s.fields {
		snapshot[k] = v
	}

	return snapshot, nil
}

func (s *staticSnapshots) Fields() models.FieldSchema {
	return models.FieldSchema{
		"score":  models.FieldTypeNumber,
		"status": models.FieldTypeString,
	}
}

func (s *staticSnapshots) set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fields[key] = value
}

// fakeTimer records scheduled wakes instead of delivering them.
type fakeTimer struct {
	mu        sync.Mutex
	scheduled map[string]time.Time
	cancelled []string
}

func newFakeTimer() *fakeTimer {
	return &fakeTimer{scheduled: make(map[string]time.Time)}
}

func (f *fakeTimer) ScheduleWake(_ context.Context, executionID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.scheduled[executionID] = at

	return nil
}

func (f *fakeTimer) CancelWake(_ context.Context, executionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.scheduled, executionID)
	f.cancelled = append(f.cancelled, executionID)

	return nil
}

func (f *fakeTimer) Start(_ context.Context, _ timer.Waker) error { return nil }
func (f *fakeTimer) Stop(_ context.Context) error                 { return nil }

func (f *fakeTimer) wakeAt(executionID string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	at, ok := f.scheduled[executionID]

	return at, ok
}

// capturingBus collects published events.
type capturingBus struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (b *capturingBus) Publish(_ context.Context, _ string, event eventbus.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, event)

	return nil
}

func (b *capturingBus) types() []events.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]events.EventType, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, e.GetType())
	}

	return out
}

// scriptedAction counts calls and fails the first failTimes of them.
type scriptedAction struct {
	calls     *atomic.Int32
	failTimes int32
	fatal     bool
	output    map[string]any
}

func (a *scriptedAction) Execute(_ context.Context, _ protocol.ActionRequest, _ *slog.Logger) (map[string]any, error) {
	n := a.calls.Add(1)

	if a.fatal {
		return nil, errors.New("boom")
	}

	if n <= a.failTimes {
		return nil, protocol.Retriable(errors.New("provider unavailable"))
	}

	return a.output, nil
}

type scriptedFactory struct {
	id     string
	action protocol.Action
}

func (f *scriptedFactory) ID() string { return f.id }

func (f *scriptedFactory) Create(_ map[string]any) (protocol.Action, error) {
	return f.action, nil
}

func (f *scriptedFactory) Schema() map[string]any { return nil }

type engineFixture struct {
	engine    *Engine
	persist   persistence.Persistence
	timers    *fakeTimer
	bus       *capturingBus
	snapshots *staticSnapshots
	registry  *registry.Registry
	now       time.Time
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	logger := slog.Default()
	persist := memory.NewPersistence()
	timers := newFakeTimer()
	bus := &capturingBus{}
	snapshots := &staticSnapshots{fields: map[string]any{"score": float64(80), "status": "new"}}
	reg := registry.NewRegistry(logger)

	f := &engineFixture{
		persist:   persist,
		timers:    timers,
		bus:       bus,
		snapshots: snapshots,
		registry:  reg,
		now:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	dispatcher := NewDispatcher(reg, logger)
	evaluator := rules.NewEvaluator(logger)
	f.engine = NewEngine(persist, dispatcher, evaluator, snapshots, timers, bus, "worker-test", logger)
	f.engine.now = func() time.Time { return f.now }

	t.Cleanup(func() { _ = persist.Close(context.Background()) })

	return f
}

func (f *engineFixture) registerAction(id string, action protocol.Action) {
	f.registry.RegisterAction(&scriptedFactory{id: id, action: action})
}

func (f *engineFixture) saveDefinition(t *testing.T, def *models.WorkflowDefinition) {
	t.Helper()
	require.NoError(t, f.persist.Workflows().Save(context.Background(), def))
}

func singleStepDefinition(kind string) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:          "wf-welcome",
		Name:        "Welcome flow",
		TriggerKind: "form_submitted",
		IsActive:    true,
		Steps: []models.StepDefinition{
			{Index: 0, ActionKind: kind},
		},
	}
}

func TestEngineRunsSingleStepToCompletion(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	calls := &atomic.Int32{}
	f.registerAction("send_message", &scriptedAction{calls: calls, output: map[string]any{"message_id": "m-1"}})

	def := singleStepDefinition("send_message")
	f.saveDefinition(t, def)

	exec, err := f.engine.Start(ctx, def, "lead-1", map[string]any{"form": "signup"})
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, models.ExecutionStatusCompleted, exec.Status)
	require.NotNil(t, exec.CompletedAt)

	result, ok := exec.StepResult(0)
	require.True(t, ok)
	assert.Equal(t, string(models.StepResultSuccess), result["status"])
	assert.Equal(t, map[string]any{"message_id": "m-1"}, result["output"])

	assert.Equal(t, []events.EventType{
		events.ExecutionStartedEvent,
		events.StepDispatchedEvent,
		events.ExecutionCompletedEvent,
	}, f.bus.types())

	// Terminal execution frees the active slot.
	_, err = f.persist.Executions().FindActive(ctx, def.ID, "lead-1")
	assert.ErrorIs(t, err, persistence.ErrExecutionNotFound)
}

func TestEngineDelayParksThenAdvancesOnWake(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	first := &atomic.Int32{}
	second := &atomic.Int32{}
	f.registerAction("send_message", &scriptedAction{calls: first})
	f.registerAction("add_tag", &scriptedAction{calls: second})

	def := &models.WorkflowDefinition{
		ID:          "wf-drip",
		Name:        "Two step drip",
		TriggerKind: "form_submitted",
		IsActive:    true,
		Steps: []models.StepDefinition{
			{Index: 0, ActionKind: "send_message", Delay: models.Duration(time.Minute)},
			{Index: 1, ActionKind: "add_tag"},
		},
	}
	f.saveDefinition(t, def)

	exec, err := f.engine.Start(ctx, def, "lead-1", nil)
	require.NoError(t, err)

	// Step 0 dispatched, then parked for the delay before advancing.
	assert.Equal(t, int32(1), first.Load())
	assert.Equal(t, int32(0), second.Load())
	assert.Equal(t, models.ExecutionStatusWaiting, exec.Status)
	assert.Equal(t, models.WakeOpAdvance, exec.WakeOp)
	assert.Equal(t, 0, exec.CurrentStepIndex)

	wakeAt, ok := f.timers.wakeAt(exec.ID)
	require.True(t, ok)
	assert.Equal(t, f.now.Add(time.Minute), wakeAt)

	f.now = f.now.Add(time.Minute)
	require.NoError(t, f.engine.OnWake(ctx, exec.ID))

	assert.Equal(t, int32(1), second.Load())

	stored, err := f.persist.Executions().GetByID(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, stored.Status)
}

func TestEngineRetriesExhaustBudgetThenFail(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	calls := &atomic.Int32{}
	f.registerAction("webhook", &scriptedAction{calls: calls, failTimes: 100})

	def := &models.WorkflowDefinition{
		ID:          "wf-hook",
		Name:        "Webhook flow",
		TriggerKind: "form_submitted",
		IsActive:    true,
		Steps: []models.StepDefinition{
			{Index: 0, ActionKind: "webhook", MaxRetries: 3},
		},
	}
	f.saveDefinition(t, def)

	exec, err := f.engine.Start(ctx, def, "lead-1", nil)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusWaiting, exec.Status)
	assert.Equal(t, models.WakeOpDispatch, exec.WakeOp)
	assert.Equal(t, 1, exec.RetryCount)

	// Each wake re-dispatches. After max_retries retries the failure is final.
	for range 3 {
		_, pending := f.timers.wakeAt(exec.ID)
		require.True(t, pending)
		f.now = f.now.Add(2 * time.Hour)
		require.NoError(t, f.engine.OnWake(ctx, exec.ID))
	}

	stored, err := f.persist.Executions().GetByID(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, stored.Status)
	assert.Equal(t, 3, stored.RetryCount)
	assert.Equal(t, int32(4), calls.Load())
	assert.Contains(t, stored.Error, "provider unavailable")
}

func TestEngineRetrySucceedsAndResetsCount(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	calls := &atomic.Int32{}
	f.registerAction("webhook", &scriptedAction{calls: calls, failTimes: 1})

	def := &models.WorkflowDefinition{
		ID:          "wf-hook",
		Name:        "Webhook flow",
		TriggerKind: "form_submitted",
		IsActive:    true,
		Steps: []models.StepDefinition{
			{Index: 0, ActionKind: "webhook", MaxRetries: 3},
		},
	}
	f.saveDefinition(t, def)

	exec, err := f.engine.Start(ctx, def, "lead-1", nil)
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusWaiting, exec.Status)

	f.now = f.now.Add(time.Hour)
	require.NoError(t, f.engine.OnWake(ctx, exec.ID))

	stored, err := f.persist.Executions().GetByID(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, stored.Status)
	assert.Equal(t, 0, stored.RetryCount)
}

func TestEngineFatalErrorFailsWithoutRetry(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	calls := &atomic.Int32{}
	f.registerAction("webhook", &scriptedAction{calls: calls, fatal: true})

	def := &models.WorkflowDefinition{
		ID:          "wf-hook",
		Name:        "Webhook flow",
		TriggerKind: "form_submitted",
		IsActive:    true,
		Steps: []models.StepDefinition{
			{Index: 0, ActionKind: "webhook", MaxRetries: 3},
		},
	}
	f.saveDefinition(t, def)

	exec, err := f.engine.Start(ctx, def, "lead-1", nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, exec.Status)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 0, exec.RetryCount)
}

func TestEngineSkipIfAgainstFreshSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	calls := &atomic.Int32{}
	f.registerAction("send_message", &scriptedAction{calls: calls})

	def := &models.WorkflowDefinition{
		ID:          "wf-skip",
		Name:        "Conditional flow",
		TriggerKind: "form_submitted",
		IsActive:    true,
		Steps: []models.StepDefinition{
			{
				Index:      0,
				ActionKind: "send_message",
				SkipIf: models.RuleSet{
					{Field: "status", Operator: models.OperatorEq, Value: "converted"},
				},
			},
		},
	}
	f.saveDefinition(t, def)

	f.snapshots.set("status", "converted")

	exec, err := f.engine.Start(ctx, def, "lead-1", nil)
	require.NoError(t, err)

	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, models.ExecutionStatusCompleted, exec.Status)

	result, ok := exec.StepResult(0)
	require.True(t, ok)
	assert.Equal(t, string(models.StepResultSkipped), result["status"])
	assert.Contains(t, f.bus.types(), events.StepSkippedEvent)
}

func TestEngineSkipIfSnapshotErrorRunsStep(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	calls := &atomic.Int32{}
	f.registerAction("send_message", &scriptedAction{calls: calls})

	def := &models.WorkflowDefinition{
		ID:          "wf-skip",
		Name:        "Conditional flow",
		TriggerKind: "form_submitted",
		IsActive:    true,
		Steps: []models.StepDefinition{
			{
				Index:      0,
				ActionKind: "send_message",
				SkipIf: models.RuleSet{
					{Field: "status", Operator: models.OperatorEq, Value: "converted"},
				},
			},
		},
	}
	f.saveDefinition(t, def)

	f.snapshots.err = errors.New("store offline")

	exec, err := f.engine.Start(ctx, def, "lead-1", nil)
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, models.ExecutionStatusCompleted, exec.Status)
}

func TestEngineCancelWaitingExecution(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	f.registerAction("send_message", &scriptedAction{calls: &atomic.Int32{}})

	def := &models.WorkflowDefinition{
		ID:          "wf-drip",
		Name:        "Two step drip",
		TriggerKind: "form_submitted",
		IsActive:    true,
		Steps: []models.StepDefinition{
			{Index: 0, ActionKind: "send_message", Delay: models.Duration(time.Hour)},
			{Index: 1, ActionKind: "send_message"},
		},
	}
	f.saveDefinition(t, def)

	exec, err := f.engine.Start(ctx, def, "lead-1", nil)
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusWaiting, exec.Status)

	require.NoError(t, f.engine.Cancel(ctx, exec.ID, "entity unsubscribed"))

	stored, err := f.persist.Executions().GetByID(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, stored.Status)
	assert.Contains(t, f.timers.cancelled, exec.ID)

	// A wake that fires anyway is dropped.
	require.NoError(t, f.engine.OnWake(ctx, exec.ID))
	stored, err = f.persist.Executions().GetByID(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, stored.Status)

	// The slot is free for a new execution.
	_, err = f.engine.Start(ctx, def, "lead-1", nil)
	require.NoError(t, err)
}

func TestEngineCancelTerminalIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	f.registerAction("send_message", &scriptedAction{calls: &atomic.Int32{}})

	def := singleStepDefinition("send_message")
	f.saveDefinition(t, def)

	exec, err := f.engine.Start(ctx, def, "lead-1", nil)
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusCompleted, exec.Status)

	err = f.engine.Cancel(ctx, exec.ID, "too late")
	assert.ErrorIs(t, err, models.ErrTerminalState)
}

func TestEnginePauseAndResumeKeepsRemainingDelay(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	second := &atomic.Int32{}
	f.registerAction("send_message", &scriptedAction{calls: &atomic.Int32{}})
	f.registerAction("add_tag", &scriptedAction{calls: second})

	def := &models.WorkflowDefinition{
		ID:          "wf-drip",
		Name:        "Two step drip",
		TriggerKind: "form_submitted",
		IsActive:    true,
		Steps: []models.StepDefinition{
			{Index: 0, ActionKind: "send_message", Delay: models.Duration(time.Hour)},
			{Index: 1, ActionKind: "add_tag"},
		},
	}
	f.saveDefinition(t, def)

	exec, err := f.engine.Start(ctx, def, "lead-1", nil)
	require.NoError(t, err)

	require.NoError(t, f.engine.Pause(ctx, exec.ID))

	stored, err := f.persist.Executions().GetByID(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPaused, stored.Status)
	assert.Contains(t, f.timers.cancelled, exec.ID)

	// Resume before the delay elapsed: back to waiting with the original wake.
	f.now = f.now.Add(10 * time.Minute)
	require.NoError(t, f.engine.Resume(ctx, exec.ID))

	stored, err = f.persist.Executions().GetByID(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusWaiting, stored.Status)
	assert.Equal(t, int32(0), second.Load())

	wakeAt, ok := f.timers.wakeAt(exec.ID)
	require.True(t, ok)
	assert.Equal(t, f.now.Add(50*time.Minute), wakeAt)
}

func TestEngineResumeAfterDelayElapsedAdvances(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	second := &atomic.Int32{}
	f.registerAction("send_message", &scriptedAction{calls: &atomic.Int32{}})
	f.registerAction("add_tag", &scriptedAction{calls: second})

	def := &models.WorkflowDefinition{
		ID:          "wf-drip",
		Name:        "Two step drip",
		TriggerKind: "form_submitted",
		IsActive:    true,
		Steps: []models.StepDefinition{
			{Index: 0, ActionKind: "send_message", Delay: models.Duration(time.Hour)},
			{Index: 1, ActionKind: "add_tag"},
		},
	}
	f.saveDefinition(t, def)

	exec, err := f.engine.Start(ctx, def, "lead-1", nil)
	require.NoError(t, err)

	require.NoError(t, f.engine.Pause(ctx, exec.ID))

	f.now = f.now.Add(2 * time.Hour)
	require.NoError(t, f.engine.Resume(ctx, exec.ID))

	assert.Equal(t, int32(1), second.Load())

	stored, err := f.persist.Executions().GetByID(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, stored.Status)
}

func TestEngineStuckReportsOverdueWakes(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	// A lost wake leaves the execution waiting with a long-overdue
	// next_wake_at even though the record itself was written recently.
	overdue := f.now.Add(-2 * time.Hour)
	lostWake := &models.ExecutionInstance{
		ID:         "exec-lost-wake",
		WorkflowID: "wf-1",
		EntityID:   "lead-1",
		Status:     models.ExecutionStatusWaiting,
		CreatedAt:  f.now.Add(-3 * time.Hour),
		UpdatedAt:  f.now,
		NextWakeAt: &overdue,
		WakeOp:     models.WakeOpAdvance,
	}
	require.NoError(t, f.persist.Executions().CreateActive(ctx, lostWake))

	soon := f.now.Add(10 * time.Minute)
	pending := &models.ExecutionInstance{
		ID:         "exec-pending",
		WorkflowID: "wf-1",
		EntityID:   "lead-2",
		Status:     models.ExecutionStatusWaiting,
		CreatedAt:  f.now,
		UpdatedAt:  f.now,
		NextWakeAt: &soon,
		WakeOp:     models.WakeOpAdvance,
	}
	require.NoError(t, f.persist.Executions().CreateActive(ctx, pending))

	stuck, err := f.engine.Stuck(ctx, 30*time.Minute)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, "exec-lost-wake", stuck[0].ID)
}

func TestEngineStuckReportsStaleRunning(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	stale := &models.ExecutionInstance{
		ID:         "exec-stale",
		WorkflowID: "wf-1",
		EntityID:   "lead-1",
		Status:     models.ExecutionStatusRunning,
		CreatedAt:  f.now.Add(-time.Hour),
		UpdatedAt:  f.now.Add(-time.Hour),
	}
	require.NoError(t, f.persist.Executions().CreateActive(ctx, stale))

	fresh := &models.ExecutionInstance{
		ID:         "exec-fresh",
		WorkflowID: "wf-1",
		EntityID:   "lead-2",
		Status:     models.ExecutionStatusRunning,
		CreatedAt:  f.now,
		UpdatedAt:  f.now,
	}
	require.NoError(t, f.persist.Executions().CreateActive(ctx, fresh))

	stuck, err := f.engine.Stuck(ctx, 30*time.Minute)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, "exec-stale", stuck[0].ID)
}
