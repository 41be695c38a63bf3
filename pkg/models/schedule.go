package models

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidSchedule is returned when schedule validation fails.
var ErrInvalidSchedule = errors.New("invalid schedule configuration")

// ScheduledTrigger is a recurring trigger stored with a precomputed next due
// time, so a single poller can find due schedules without per-entry timers.
// When due, it injects a trigger event for its entity (or fans out over a
// segment's members) and rolls NextDueAt forward.
type ScheduledTrigger struct {
	ID             string `json:"id"              validate:"required"`
	TriggerKind    string `json:"trigger_kind"    validate:"required"`
	CronExpression string `json:"cron_expression" validate:"required"`

	// Exactly one of EntityID and SegmentID should be set. A SegmentID fans
	// the trigger out to every current member of the segment.
	EntityID  string `json:"entity_id,omitempty"`
	SegmentID string `json:"segment_id,omitempty"`

	Payload   map[string]any `json:"payload,omitempty"`
	NextDueAt time.Time      `json:"next_due_at"`
	Active    bool           `json:"active"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NewScheduledTrigger creates a scheduled trigger with its first due time
// computed from now.
func NewScheduledTrigger(id, triggerKind, cronExpression string) (*ScheduledTrigger, error) {
	now := time.Now().UTC()
	schedule := &ScheduledTrigger{
		ID:             id,
		TriggerKind:    triggerKind,
		CronExpression: cronExpression,
		CreatedAt:      now,
		UpdatedAt:      now,
		Active:         true,
	}

	if err := schedule.rollForward(now); err != nil {
		return nil, err
	}

	return schedule, nil
}

// Advance recomputes NextDueAt from the given reference time, typically right
// after the schedule fired.
func (s *ScheduledTrigger) Advance(from time.Time) error {
	return s.rollForward(from)
}

func (s *ScheduledTrigger) rollForward(from time.Time) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

	schedule, err := parser.Parse(s.CronExpression)
	if err != nil {
		return err
	}

	s.NextDueAt = schedule.Next(from)
	s.UpdatedAt = time.Now().UTC()

	return nil
}

// Due reports whether the schedule should fire at the given time.
func (s *ScheduledTrigger) Due(now time.Time) bool {
	return s.Active && !s.NextDueAt.After(now)
}

// Validate checks identity fields, the cron expression, and the target.
func (s *ScheduledTrigger) Validate() error {
	if s.ID == "" || s.TriggerKind == "" || s.CronExpression == "" {
		return ErrInvalidSchedule
	}

	if (s.EntityID == "") == (s.SegmentID == "") {
		return ErrInvalidSchedule
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser.Parse(s.CronExpression)

	return err
}
