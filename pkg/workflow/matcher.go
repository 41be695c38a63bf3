package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leadwell/drip/pkg/eventbus"
	"github.com/leadwell/drip/pkg/events"
	"github.com/leadwell/drip/pkg/models"
	"github.com/leadwell/drip/pkg/persistence"
	"github.com/leadwell/drip/pkg/rules"
)

// TriggerMatcher decides which workflow definitions react to an incoming
// trigger. It implements protocol.TriggerIngress: ingress points call
// OnTrigger for every candidate event and the matcher evaluates entry rules,
// cooldowns, and the one-active-execution invariant before starting anything.
type TriggerMatcher struct {
	persistence persistence.Persistence
	evaluator   *rules.Evaluator
	snapshots   rules.SnapshotProvider
	engine      *Engine
	publisher   eventbus.EventPublisher
	logger      *slog.Logger

	now func() time.Time
}

func NewTriggerMatcher(
	p persistence.Persistence,
	evaluator *rules.Evaluator,
	snapshots rules.SnapshotProvider,
	engine *Engine,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *TriggerMatcher {
	return &TriggerMatcher{
		persistence: p,
		evaluator:   evaluator,
		snapshots:   snapshots,
		engine:      engine,
		publisher:   publisher,
		logger:      logger.With("module", "trigger_matcher"),
		now:         time.Now,
	}
}

// OnTrigger matches one trigger event against all active definitions for its
// kind and starts an execution per matching definition. Definitions are
// isolated from each other: a failure evaluating or starting one never
// prevents the others from matching. The returned ids are the executions
// actually created.
func (tm *TriggerMatcher) OnTrigger(ctx context.Context, triggerKind, entityID string, payload map[string]any) ([]string, error) {
	logger := tm.logger.With("trigger_kind", triggerKind, "entity_id", entityID)

	defs, err := tm.persistence.Workflows().ActiveByTriggerKind(ctx, triggerKind)
	if err != nil {
		return nil, fmt.Errorf("failed to load definitions for trigger %s: %w", triggerKind, err)
	}

	if len(defs) == 0 {
		return nil, nil
	}

	snapshot, err := tm.snapshots.Snapshot(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot for entity %s: %w", entityID, err)
	}

	combined := rules.WithTriggerPayload(snapshot, payload)

	var started []string

	for _, def := range defs {
		executionID, ok := tm.tryStart(ctx, def, entityID, combined, payload, logger)
		if ok {
			started = append(started, executionID)
		}
	}

	logger.InfoContext(ctx, "Completed trigger matching",
		"definitions", len(defs), "executions_started", len(started))

	return started, nil
}

// tryStart runs one definition's gates and starts it if they all pass.
func (tm *TriggerMatcher) tryStart(
	ctx context.Context,
	def *models.WorkflowDefinition,
	entityID string,
	combined, payload map[string]any,
	logger *slog.Logger,
) (string, bool) {
	logger = logger.With("workflow_id", def.ID)

	matched, err := tm.evaluator.Evaluate(combined, def.EntryRules, tm.now())
	if err != nil {
		// Fail closed: an unevaluable entry rule never admits the entity.
		logger.WarnContext(ctx, "Entry rules could not be evaluated", "error", err)

		return "", false
	}

	if !matched {
		return "", false
	}

	if tm.inCooldown(ctx, def, entityID, logger) {
		return "", false
	}

	exec, err := tm.engine.Start(ctx, def, entityID, payload)
	if err != nil {
		if errors.Is(err, persistence.ErrActiveExecutionExists) {
			logger.DebugContext(ctx, "Entity already has an active execution")

			return "", false
		}

		logger.ErrorContext(ctx, "Failed to start execution", "error", err)

		return "", false
	}

	tm.publishMatched(ctx, def, exec.ID, entityID, payload)

	return exec.ID, true
}

// inCooldown reports whether the entity finished an execution of this
// definition too recently to start another.
func (tm *TriggerMatcher) inCooldown(ctx context.Context, def *models.WorkflowDefinition, entityID string, logger *slog.Logger) bool {
	if def.Cooldown <= 0 {
		return false
	}

	last, err := tm.persistence.Executions().FindLatestFinished(ctx, def.ID, entityID)
	if err != nil {
		if errors.Is(err, persistence.ErrExecutionNotFound) {
			return false
		}

		// Fail closed on storage errors too: better to miss a send than to
		// double-send inside a cooldown window.
		logger.WarnContext(ctx, "Failed to check cooldown", "error", err)

		return true
	}

	if last.CompletedAt == nil {
		return false
	}

	until := last.CompletedAt.Add(def.Cooldown.Std())
	if tm.now().Before(until) {
		logger.DebugContext(ctx, "Entity is in cooldown", "until", until)

		return true
	}

	return false
}

func (tm *TriggerMatcher) publishMatched(ctx context.Context, def *models.WorkflowDefinition, executionID, entityID string, payload map[string]any) {
	if tm.publisher == nil {
		return
	}

	event := events.TriggerMatched{
		BaseEvent:   events.NewBaseEvent(events.TriggerMatchedEvent, def.ID),
		ExecutionID: executionID,
		EntityID:    entityID,
		TriggerKind: def.TriggerKind,
		TriggerData: payload,
	}

	err := tm.publisher.Publish(ctx, entityID, event)
	if err != nil {
		tm.logger.WarnContext(ctx, "Failed to publish trigger matched event", "error", err)
	}
}
