// Package segment recomputes dynamic segment membership from segment rules.
package segment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/leadwell/drip/pkg/eventbus"
	"github.com/leadwell/drip/pkg/events"
	"github.com/leadwell/drip/pkg/models"
	"github.com/leadwell/drip/pkg/persistence"
	"github.com/leadwell/drip/pkg/rules"
)

// EntityDirectory enumerates the entities a recalculation pass considers.
type EntityDirectory interface {
	EntityIDs(ctx context.Context) ([]string, error)
}

// RecalcResult summarizes one recalculation pass.
type RecalcResult struct {
	SegmentID string
	Added     []string
	Removed   []string

	// Failed lists entities whose snapshot or rules could not be evaluated.
	// Their membership is left untouched.
	Failed []string
}

// Evaluator recomputes segment membership. A pass is idempotent: running it
// twice against unchanged entity state produces no further changes. Failures
// are per-entity; one bad snapshot never aborts the pass.
type Evaluator struct {
	persistence persistence.Persistence
	evaluator   *rules.Evaluator
	snapshots   rules.SnapshotProvider
	directory   EntityDirectory
	publisher   eventbus.EventPublisher
	logger      *slog.Logger

	now func() time.Time
}

func NewEvaluator(
	p persistence.Persistence,
	evaluator *rules.Evaluator,
	snapshots rules.SnapshotProvider,
	directory EntityDirectory,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *Evaluator {
	return &Evaluator{
		persistence: p,
		evaluator:   evaluator,
		snapshots:   snapshots,
		directory:   directory,
		publisher:   publisher,
		logger:      logger.With("module", "segment_evaluator"),
		now:         time.Now,
	}
}

// Recalculate brings the segment's membership in line with its rules.
func (e *Evaluator) Recalculate(ctx context.Context, segmentID string) (*RecalcResult, error) {
	def, err := e.persistence.Segments().GetByID(ctx, segmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load segment %s: %w", segmentID, err)
	}

	if !def.IsDynamic {
		return nil, fmt.Errorf("segment %s: %w", segmentID, ErrNotDynamic)
	}

	members, err := e.persistence.Memberships().Members(ctx, segmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load members of segment %s: %w", segmentID, err)
	}

	current := make(map[string]bool, len(members))
	for _, entityID := range members {
		current[entityID] = true
	}

	entityIDs, err := e.directory.EntityIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate entities: %w", err)
	}

	result := &RecalcResult{SegmentID: segmentID}
	logger := e.logger.With("segment_id", segmentID)

	for _, entityID := range entityIDs {
		matched, err := e.matches(ctx, def, entityID)
		if err != nil {
			logger.WarnContext(ctx, "Entity could not be evaluated, membership unchanged",
				"entity_id", entityID, "error", err)
			result.Failed = append(result.Failed, entityID)

			continue
		}

		switch {
		case matched && !current[entityID]:
			err = e.apply(ctx, segmentID, entityID, models.MembershipAdded, models.ReasonRuleMatch)
			if err != nil {
				result.Failed = append(result.Failed, entityID)

				continue
			}

			result.Added = append(result.Added, entityID)
		case !matched && current[entityID]:
			err = e.apply(ctx, segmentID, entityID, models.MembershipRemoved, models.ReasonRuleUnmatch)
			if err != nil {
				result.Failed = append(result.Failed, entityID)

				continue
			}

			result.Removed = append(result.Removed, entityID)
		}
	}

	logger.InfoContext(ctx, "Segment recalculated",
		"added", len(result.Added), "removed", len(result.Removed), "failed", len(result.Failed))

	return result, nil
}

func (e *Evaluator) matches(ctx context.Context, def *models.SegmentDefinition, entityID string) (bool, error) {
	snapshot, err := e.snapshots.Snapshot(ctx, entityID)
	if err != nil {
		return false, err
	}

	return e.evaluator.Evaluate(snapshot, def.Rules, e.now())
}

// AddMember adds an entity outside a recalculation pass, recorded as a manual
// change. Dynamic segments reject manual changes; their membership is derived
// from rules and the next recalculation would revert the edit.
func (e *Evaluator) AddMember(ctx context.Context, segmentID, entityID string) error {
	if err := e.requireManual(ctx, segmentID); err != nil {
		return err
	}

	return e.apply(ctx, segmentID, entityID, models.MembershipAdded, models.ReasonManual)
}

// RemoveMember removes an entity outside a recalculation pass, recorded as a
// manual change. Dynamic segments reject manual changes.
func (e *Evaluator) RemoveMember(ctx context.Context, segmentID, entityID string) error {
	if err := e.requireManual(ctx, segmentID); err != nil {
		return err
	}

	return e.apply(ctx, segmentID, entityID, models.MembershipRemoved, models.ReasonManual)
}

func (e *Evaluator) requireManual(ctx context.Context, segmentID string) error {
	def, err := e.persistence.Segments().GetByID(ctx, segmentID)
	if err != nil {
		return fmt.Errorf("failed to load segment %s: %w", segmentID, err)
	}

	if def.IsDynamic {
		return fmt.Errorf("segment %s: %w", segmentID, ErrDynamicSegment)
	}

	return nil
}

func (e *Evaluator) apply(ctx context.Context, segmentID, entityID string, op models.MembershipOp, reason string) error {
	change := models.MembershipChange{
		SegmentID: segmentID,
		EntityID:  entityID,
		Op:        op,
		Reason:    reason,
		At:        e.now(),
	}

	var err error

	switch op {
	case models.MembershipAdded:
		err = e.persistence.Memberships().Join(ctx, change)
	case models.MembershipRemoved:
		err = e.persistence.Memberships().Leave(ctx, change)
	}

	if err != nil {
		return fmt.Errorf("failed to apply membership change for %s in %s: %w", entityID, segmentID, err)
	}

	e.publishChange(ctx, change)

	return nil
}

func (e *Evaluator) publishChange(ctx context.Context, change models.MembershipChange) {
	if e.publisher == nil {
		return
	}

	event := events.SegmentMembershipChanged{
		BaseEvent: events.NewBaseEvent(events.SegmentMembershipChangedEvent, ""),
		SegmentID: change.SegmentID,
		EntityID:  change.EntityID,
		Op:        change.Op,
		Reason:    change.Reason,
	}

	err := e.publisher.Publish(ctx, change.EntityID, event)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to publish membership change", "error", err)
	}
}
