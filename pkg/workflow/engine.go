// Package workflow contains the execution engine: trigger matching, the
// execution state machine, and step dispatch.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/leadwell/drip/pkg/eventbus"
	"github.com/leadwell/drip/pkg/events"
	"github.com/leadwell/drip/pkg/models"
	"github.com/leadwell/drip/pkg/persistence"
	"github.com/leadwell/drip/pkg/protocol"
	"github.com/leadwell/drip/pkg/rules"
	"github.com/leadwell/drip/pkg/timer"
)

const triggerContextKey = "trigger"

// Engine drives execution instances through their lifecycle. A step is
// dispatched, its result recorded, then the step's delay is waited out via a
// durable timer wake before the engine advances. The engine never sleeps
// in-process; an execution with a future wake is parked in waiting status and
// picked up again by OnWake, possibly on a different worker.
type Engine struct {
	persistence persistence.Persistence
	dispatcher  *Dispatcher
	evaluator   *rules.Evaluator
	snapshots   rules.SnapshotProvider
	timers      timer.TimerService
	publisher   eventbus.EventPublisher
	backoff     BackoffPolicy
	workerID    string
	logger      *slog.Logger

	now func() time.Time
}

func NewEngine(
	p persistence.Persistence,
	dispatcher *Dispatcher,
	evaluator *rules.Evaluator,
	snapshots rules.SnapshotProvider,
	timers timer.TimerService,
	publisher eventbus.EventPublisher,
	workerID string,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		persistence: p,
		dispatcher:  dispatcher,
		evaluator:   evaluator,
		snapshots:   snapshots,
		timers:      timers,
		publisher:   publisher,
		backoff:     DefaultBackoff(),
		workerID:    workerID,
		logger:      logger.With("module", "engine", "worker_id", workerID),
		now:         time.Now,
	}
}

// Start creates an execution instance for the pair and runs it until it
// parks or terminates. ErrActiveExecutionExists is returned as-is when the
// pair already has an active execution; callers treat it as a no-op.
func (e *Engine) Start(ctx context.Context, def *models.WorkflowDefinition, entityID string, triggerPayload map[string]any) (*models.ExecutionInstance, error) {
	now := e.now()

	exec := &models.ExecutionInstance{
		ID:         "exec-" + uuid.New().String(),
		WorkflowID: def.ID,
		EntityID:   entityID,
		Status:     models.ExecutionStatusRunning,
		Context:    map[string]any{triggerContextKey: triggerPayload},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := e.persistence.Executions().CreateActive(ctx, exec)
	if err != nil {
		if errors.Is(err, persistence.ErrActiveExecutionExists) {
			return nil, err
		}

		return nil, fmt.Errorf("failed to create execution for workflow %s entity %s: %w", def.ID, entityID, err)
	}

	e.publish(ctx, exec.EntityID, events.ExecutionStarted{
		BaseEvent:    e.baseEvent(events.ExecutionStartedEvent, def.ID),
		ExecutionID:  exec.ID,
		EntityID:     entityID,
		WorkflowName: def.Name,
		TriggerKind:  def.TriggerKind,
		TriggerData:  triggerPayload,
	})

	err = e.run(ctx, def, exec)
	if err != nil {
		return exec, err
	}

	return exec, nil
}

// run advances the execution from its current step until it completes, fails,
// or parks on a timer wake. It returns an error only for infrastructure
// failures; step failures terminate the execution through its own lifecycle.
func (e *Engine) run(ctx context.Context, def *models.WorkflowDefinition, exec *models.ExecutionInstance) error {
	logger := e.logger.With("execution_id", exec.ID, "workflow_id", exec.WorkflowID, "entity_id", exec.EntityID)

	for {
		step, ok := def.Step(exec.CurrentStepIndex)
		if !ok {
			return e.complete(ctx, exec)
		}

		if e.shouldSkip(ctx, exec, step, logger) {
			exec.RecordStepResult(step.Index, models.StepResultSkipped, nil)
			exec.RetryCount = 0
			exec.CurrentStepIndex++
			exec.UpdatedAt = e.now()

			err := e.persistence.Executions().Update(ctx, exec)
			if err != nil {
				return fmt.Errorf("failed to save execution %s: %w", exec.ID, err)
			}

			e.publish(ctx, exec.EntityID, events.StepSkipped{
				BaseEvent:   e.baseEvent(events.StepSkippedEvent, exec.WorkflowID),
				ExecutionID: exec.ID,
				EntityID:    exec.EntityID,
				StepIndex:   step.Index,
				ActionKind:  step.ActionKind,
			})

			continue
		}

		started := e.now()

		output, err := e.dispatcher.Dispatch(ctx, exec, step)
		if err != nil {
			if protocol.IsRetriable(err) && exec.RetryCount < step.MaxRetries {
				return e.scheduleRetry(ctx, exec, step, err)
			}

			return e.fail(ctx, exec, step, err)
		}

		exec.RecordStepResult(step.Index, models.StepResultSuccess, output)
		exec.RetryCount = 0

		e.publish(ctx, exec.EntityID, events.StepDispatched{
			BaseEvent:   e.baseEvent(events.StepDispatchedEvent, exec.WorkflowID),
			ExecutionID: exec.ID,
			EntityID:    exec.EntityID,
			StepIndex:   step.Index,
			ActionKind:  step.ActionKind,
			Output:      output,
			DurationMs:  e.now().Sub(started).Milliseconds(),
		})

		if step.Delay > 0 {
			return e.parkUntil(ctx, exec, step, e.now().Add(step.Delay.Std()), models.WakeOpAdvance)
		}

		exec.CurrentStepIndex++
		exec.UpdatedAt = e.now()

		err = e.persistence.Executions().Update(ctx, exec)
		if err != nil {
			return fmt.Errorf("failed to save execution %s: %w", exec.ID, err)
		}
	}
}

// shouldSkip evaluates the step's skip_if rules against a fresh entity
// snapshot. Evaluation failures never skip: an unevaluable guard means the
// step runs.
func (e *Engine) shouldSkip(ctx context.Context, exec *models.ExecutionInstance, step models.StepDefinition, logger *slog.Logger) bool {
	if len(step.SkipIf) == 0 {
		return false
	}

	snapshot, err := e.snapshots.Snapshot(ctx, exec.EntityID)
	if err != nil {
		logger.WarnContext(ctx, "Failed to load entity snapshot for skip rules, step will run",
			"step_index", step.Index, "error", err)

		return false
	}

	skip, err := e.evaluator.Evaluate(snapshot, step.SkipIf, e.now())
	if err != nil {
		logger.WarnContext(ctx, "Skip rules could not be evaluated, step will run",
			"step_index", step.Index, "error", err)

		return false
	}

	return skip
}

// parkUntil transitions the execution to waiting and schedules a durable wake.
func (e *Engine) parkUntil(ctx context.Context, exec *models.ExecutionInstance, step models.StepDefinition, wakeAt time.Time, op models.WakeOp) error {
	err := exec.TransitionTo(models.ExecutionStatusWaiting, e.now())
	if err != nil {
		return err
	}

	exec.WakeOp = op
	exec.NextWakeAt = &wakeAt

	err = e.persistence.Executions().Update(ctx, exec)
	if err != nil {
		return fmt.Errorf("failed to save execution %s: %w", exec.ID, err)
	}

	err = e.timers.ScheduleWake(ctx, exec.ID, wakeAt)
	if err != nil {
		return fmt.Errorf("failed to schedule wake for execution %s: %w", exec.ID, err)
	}

	e.publish(ctx, exec.EntityID, events.ExecutionWaiting{
		BaseEvent:   e.baseEvent(events.ExecutionWaitingEvent, exec.WorkflowID),
		ExecutionID: exec.ID,
		EntityID:    exec.EntityID,
		StepIndex:   step.Index,
		WakeAt:      wakeAt,
	})

	return nil
}

func (e *Engine) scheduleRetry(ctx context.Context, exec *models.ExecutionInstance, step models.StepDefinition, stepErr error) error {
	exec.RetryCount++
	retryAt := e.now().Add(e.backoff.NextDelay(exec.RetryCount))

	err := exec.TransitionTo(models.ExecutionStatusWaiting, e.now())
	if err != nil {
		return err
	}

	exec.WakeOp = models.WakeOpDispatch
	exec.NextWakeAt = &retryAt

	err = e.persistence.Executions().Update(ctx, exec)
	if err != nil {
		return fmt.Errorf("failed to save execution %s: %w", exec.ID, err)
	}

	err = e.timers.ScheduleWake(ctx, exec.ID, retryAt)
	if err != nil {
		return fmt.Errorf("failed to schedule retry for execution %s: %w", exec.ID, err)
	}

	e.publish(ctx, exec.EntityID, events.StepRetried{
		BaseEvent:   e.baseEvent(events.StepRetriedEvent, exec.WorkflowID),
		ExecutionID: exec.ID,
		EntityID:    exec.EntityID,
		StepIndex:   step.Index,
		ActionKind:  step.ActionKind,
		RetryCount:  exec.RetryCount,
		Error:       stepErr.Error(),
		RetryAt:     retryAt,
	})

	return nil
}

func (e *Engine) complete(ctx context.Context, exec *models.ExecutionInstance) error {
	err := exec.TransitionTo(models.ExecutionStatusCompleted, e.now())
	if err != nil {
		return err
	}

	err = e.persistence.Executions().Update(ctx, exec)
	if err != nil {
		return fmt.Errorf("failed to save execution %s: %w", exec.ID, err)
	}

	e.publish(ctx, exec.EntityID, events.ExecutionCompleted{
		BaseEvent:     e.baseEvent(events.ExecutionCompletedEvent, exec.WorkflowID),
		ExecutionID:   exec.ID,
		EntityID:      exec.EntityID,
		DurationMs:    e.now().Sub(exec.CreatedAt).Milliseconds(),
		StepsExecuted: exec.CurrentStepIndex,
	})

	return nil
}

func (e *Engine) fail(ctx context.Context, exec *models.ExecutionInstance, step models.StepDefinition, stepErr error) error {
	exec.Error = stepErr.Error()

	err := exec.TransitionTo(models.ExecutionStatusFailed, e.now())
	if err != nil {
		return err
	}

	err = e.persistence.Executions().Update(ctx, exec)
	if err != nil {
		return fmt.Errorf("failed to save execution %s: %w", exec.ID, err)
	}

	e.publish(ctx, exec.EntityID, events.ExecutionFailed{
		BaseEvent:   e.baseEvent(events.ExecutionFailedEvent, exec.WorkflowID),
		ExecutionID: exec.ID,
		EntityID:    exec.EntityID,
		StepIndex:   step.Index,
		Error:       stepErr.Error(),
		RetryCount:  exec.RetryCount,
	})

	return nil
}

// OnWake resumes a waiting execution when its timer fires. Stale wakes, for
// executions that were paused, cancelled, or already advanced by another
// worker, are dropped silently.
func (e *Engine) OnWake(ctx context.Context, executionID string) error {
	exec, err := e.persistence.Executions().GetByID(ctx, executionID)
	if err != nil {
		if errors.Is(err, persistence.ErrExecutionNotFound) {
			e.logger.WarnContext(ctx, "Wake for unknown execution", "execution_id", executionID)

			return nil
		}

		return fmt.Errorf("failed to load execution %s: %w", executionID, err)
	}

	if exec.Status != models.ExecutionStatusWaiting {
		e.logger.DebugContext(ctx, "Dropping stale wake",
			"execution_id", executionID, "status", exec.Status)

		return nil
	}

	def, err := e.persistence.Workflows().GetByID(ctx, exec.WorkflowID)
	if err != nil {
		return fmt.Errorf("failed to load workflow %s: %w", exec.WorkflowID, err)
	}

	op := exec.WakeOp

	err = exec.TransitionTo(models.ExecutionStatusRunning, e.now())
	if err != nil {
		return err
	}

	exec.WakeOp = ""
	exec.NextWakeAt = nil

	if op == models.WakeOpAdvance {
		exec.CurrentStepIndex++
		exec.RetryCount = 0
	}

	err = e.persistence.Executions().Update(ctx, exec)
	if err != nil {
		if errors.Is(err, persistence.ErrVersionConflict) {
			e.logger.DebugContext(ctx, "Wake lost the claim to another worker", "execution_id", executionID)

			return nil
		}

		return fmt.Errorf("failed to save execution %s: %w", exec.ID, err)
	}

	return e.run(ctx, def, exec)
}

// Pause parks an active execution indefinitely. A pending wake is cancelled
// but its target time is kept, so Resume can honor the remaining delay.
func (e *Engine) Pause(ctx context.Context, executionID string) error {
	exec, err := e.persistence.Executions().GetByID(ctx, executionID)
	if err != nil {
		return err
	}

	stepIndex := exec.CurrentStepIndex

	err = exec.TransitionTo(models.ExecutionStatusPaused, e.now())
	if err != nil {
		return err
	}

	err = e.persistence.Executions().Update(ctx, exec)
	if err != nil {
		return fmt.Errorf("failed to save execution %s: %w", exec.ID, err)
	}

	err = e.timers.CancelWake(ctx, exec.ID)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to cancel wake for paused execution",
			"execution_id", exec.ID, "error", err)
	}

	e.publish(ctx, exec.EntityID, events.ExecutionPaused{
		BaseEvent:   e.baseEvent(events.ExecutionPausedEvent, exec.WorkflowID),
		ExecutionID: exec.ID,
		EntityID:    exec.EntityID,
		StepIndex:   stepIndex,
	})

	return nil
}

// Resume continues a paused execution. If the execution was waiting out a
// delay when it was paused and that delay has not elapsed, it goes back to
// waiting with the original wake time.
func (e *Engine) Resume(ctx context.Context, executionID string) error {
	exec, err := e.persistence.Executions().GetByID(ctx, executionID)
	if err != nil {
		return err
	}

	def, err := e.persistence.Workflows().GetByID(ctx, exec.WorkflowID)
	if err != nil {
		return fmt.Errorf("failed to load workflow %s: %w", exec.WorkflowID, err)
	}

	err = exec.TransitionTo(models.ExecutionStatusRunning, e.now())
	if err != nil {
		return err
	}

	e.publish(ctx, exec.EntityID, events.ExecutionResumed{
		BaseEvent:   e.baseEvent(events.ExecutionResumedEvent, exec.WorkflowID),
		ExecutionID: exec.ID,
		EntityID:    exec.EntityID,
		StepIndex:   exec.CurrentStepIndex,
	})

	if exec.NextWakeAt != nil && exec.NextWakeAt.After(e.now()) {
		err = exec.TransitionTo(models.ExecutionStatusWaiting, e.now())
		if err != nil {
			return err
		}

		err = e.persistence.Executions().Update(ctx, exec)
		if err != nil {
			return fmt.Errorf("failed to save execution %s: %w", exec.ID, err)
		}

		return e.timers.ScheduleWake(ctx, exec.ID, *exec.NextWakeAt)
	}

	op := exec.WakeOp
	exec.WakeOp = ""
	exec.NextWakeAt = nil

	if op == models.WakeOpAdvance {
		exec.CurrentStepIndex++
		exec.RetryCount = 0
	}

	err = e.persistence.Executions().Update(ctx, exec)
	if err != nil {
		return fmt.Errorf("failed to save execution %s: %w", exec.ID, err)
	}

	return e.run(ctx, def, exec)
}

// Cancel terminates an active execution. Cancelling a terminal execution is
// an error; the record is immutable.
func (e *Engine) Cancel(ctx context.Context, executionID, reason string) error {
	exec, err := e.persistence.Executions().GetByID(ctx, executionID)
	if err != nil {
		return err
	}

	err = exec.TransitionTo(models.ExecutionStatusCancelled, e.now())
	if err != nil {
		return err
	}

	err = e.persistence.Executions().Update(ctx, exec)
	if err != nil {
		return fmt.Errorf("failed to save execution %s: %w", exec.ID, err)
	}

	err = e.timers.CancelWake(ctx, exec.ID)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to cancel wake for cancelled execution",
			"execution_id", exec.ID, "error", err)
	}

	e.publish(ctx, exec.EntityID, events.ExecutionCancelled{
		BaseEvent:   e.baseEvent(events.ExecutionCancelledEvent, exec.WorkflowID),
		ExecutionID: exec.ID,
		EntityID:    exec.EntityID,
		Reason:      reason,
	})

	return nil
}

// Stuck returns executions that appear abandoned: waiting executions whose
// wake is overdue by more than the given window (a lost or undelivered
// timer), plus running executions untouched for that long, usually because a
// worker died mid-step. Stuck executions are reported, never auto-advanced.
func (e *Engine) Stuck(ctx context.Context, olderThan time.Duration) ([]*models.ExecutionInstance, error) {
	cutoff := e.now().Add(-olderThan)

	var stuck []*models.ExecutionInstance

	waiting, err := e.persistence.Executions().ListByStatus(ctx, models.ExecutionStatusWaiting)
	if err != nil {
		return nil, err
	}

	for _, exec := range waiting {
		if exec.NextWakeAt != nil && exec.NextWakeAt.Before(cutoff) {
			stuck = append(stuck, exec)
		}
	}

	running, err := e.persistence.Executions().ListByStatus(ctx, models.ExecutionStatusRunning)
	if err != nil {
		return nil, err
	}

	for _, exec := range running {
		if exec.UpdatedAt.Before(cutoff) {
			stuck = append(stuck, exec)
		}
	}

	return stuck, nil
}

func (e *Engine) baseEvent(eventType events.EventType, workflowID string) events.BaseEvent {
	base := events.NewBaseEvent(eventType, workflowID)
	base.WorkerID = e.workerID

	return base
}

// publish sends a lifecycle event. Publishing is best-effort: a bus failure
// is logged and never affects the execution itself.
func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	err := e.publisher.Publish(ctx, key, event)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to publish event",
			"event_type", event.GetType(), "error", err)
	}
}
