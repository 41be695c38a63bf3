// Package schedule runs the cron trigger source: a single poller that finds
// due scheduled triggers and injects them into the trigger matcher. Schedules
// carry a precomputed next due time, so one database query per tick covers
// every cron expression in the system.
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/leadwell/drip/pkg/models"
	"github.com/leadwell/drip/pkg/persistence"
	"github.com/leadwell/drip/pkg/protocol"
)

// Source polls the schedule repository and fires due triggers. A schedule
// targets either a single entity or a segment; segment schedules fan out to
// every current member.
type Source struct {
	persistence persistence.Persistence
	ingress     protocol.TriggerIngress
	interval    time.Duration
	logger      *slog.Logger
	stopCh      chan struct{}
	wg          sync.WaitGroup
	now         func() time.Time
}

func NewSource(persistence persistence.Persistence, ingress protocol.TriggerIngress, logger *slog.Logger) *Source {
	return &Source{
		persistence: persistence,
		ingress:     ingress,
		interval:    time.Minute,
		logger:      logger.With("module", "schedule_source"),
		stopCh:      make(chan struct{}),
		now:         time.Now,
	}
}

// Start begins the poll loop. It returns immediately; the loop runs until
// Stop is called or the context is cancelled.
func (s *Source) Start(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Starting schedule source", "interval", s.interval)

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.processDue(ctx)
			}
		}
	}()

	return nil
}

func (s *Source) Stop(_ context.Context) error {
	close(s.stopCh)
	s.wg.Wait()

	s.logger.Info("Schedule source stopped")

	return nil
}

// processDue fires every due schedule exactly once per tick. Each schedule is
// advanced and saved before its triggers are injected, so a crash mid-fanout
// skips the remainder rather than replaying the whole schedule next tick.
func (s *Source) processDue(ctx context.Context) {
	now := s.now().UTC()

	due, err := s.persistence.Schedules().Due(ctx, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to query due schedules", "error", err)

		return
	}

	if len(due) > 0 {
		s.logger.InfoContext(ctx, "Processing due schedules", "count", len(due))
	}

	for _, schedule := range due {
		s.fire(ctx, schedule, now)
	}
}

func (s *Source) fire(ctx context.Context, schedule *models.ScheduledTrigger, now time.Time) {
	logger := s.logger.With(
		"schedule_id", schedule.ID,
		"trigger_kind", schedule.TriggerKind,
		"due_at", schedule.NextDueAt)

	dueAt := schedule.NextDueAt

	if err := schedule.Advance(now); err != nil {
		logger.ErrorContext(ctx, "Failed to advance schedule", "error", err)

		return
	}

	if err := s.persistence.Schedules().Save(ctx, schedule); err != nil {
		logger.ErrorContext(ctx, "Failed to save advanced schedule", "error", err)

		return
	}

	entityIDs, err := s.targets(ctx, schedule)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to resolve schedule targets", "error", err)

		return
	}

	started := 0

	for _, entityID := range entityIDs {
		ids, err := s.ingress.OnTrigger(ctx, schedule.TriggerKind, entityID, s.payload(schedule, dueAt))
		if err != nil {
			logger.ErrorContext(ctx, "Schedule trigger rejected",
				"entity_id", entityID,
				"error", err)

			continue
		}

		started += len(ids)
	}

	logger.InfoContext(ctx, "Schedule fired",
		"targets", len(entityIDs),
		"executions_started", started,
		"next_due_at", schedule.NextDueAt)
}

// targets resolves the entities a schedule fires for. Segment schedules read
// the member list at firing time, so entities joining between ticks are
// picked up automatically.
func (s *Source) targets(ctx context.Context, schedule *models.ScheduledTrigger) ([]string, error) {
	if schedule.SegmentID == "" {
		return []string{schedule.EntityID}, nil
	}

	return s.persistence.Memberships().Members(ctx, schedule.SegmentID)
}

func (s *Source) payload(schedule *models.ScheduledTrigger, dueAt time.Time) map[string]any {
	payload := map[string]any{
		"schedule_id": schedule.ID,
		"due_at":      dueAt.Format(time.RFC3339),
	}

	for k, v := range schedule.Payload {
		payload[k] = v
	}

	return payload
}
