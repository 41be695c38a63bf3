package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leadwell/drip/pkg/models"
	"github.com/leadwell/drip/pkg/persistence"
)

// ScheduleRepository stores recurring trigger schedules. Due lookups hit a
// partial index on next_due_at over active rows.
type ScheduleRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewScheduleRepository(db *sql.DB, logger *slog.Logger) *ScheduleRepository {
	return &ScheduleRepository{db: db, logger: logger}
}

const scheduleColumns = `
	id
  , trigger_kind
  , cron_expression
  , entity_id
  , segment_id
  , payload
  , next_due_at
  , active
  , created_at
  , updated_at
`

func (r *ScheduleRepository) Save(ctx context.Context, schedule *models.ScheduledTrigger) error {
	payloadJSON, err := json.Marshal(schedule.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal schedule payload: %w", err)
	}

	query := `
		INSERT INTO scheduled_triggers (id, trigger_kind, cron_expression, entity_id,
			segment_id, payload, next_due_at, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			trigger_kind = EXCLUDED.trigger_kind,
			cron_expression = EXCLUDED.cron_expression,
			entity_id = EXCLUDED.entity_id,
			segment_id = EXCLUDED.segment_id,
			payload = EXCLUDED.payload,
			next_due_at = EXCLUDED.next_due_at,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		schedule.ID,
		schedule.TriggerKind,
		schedule.CronExpression,
		schedule.EntityID,
		schedule.SegmentID,
		payloadJSON,
		schedule.NextDueAt,
		schedule.Active,
		schedule.CreatedAt,
		schedule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save schedule %s: %w", schedule.ID, err)
	}

	return nil
}

func (r *ScheduleRepository) GetByID(ctx context.Context, id string) (*models.ScheduledTrigger, error) {
	query := `SELECT ` + scheduleColumns + ` FROM scheduled_triggers WHERE id = $1`

	schedule, err := scanSchedule(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrScheduleNotFound
		}

		return nil, fmt.Errorf("failed to scan schedule %s: %w", id, err)
	}

	return schedule, nil
}

func (r *ScheduleRepository) All(ctx context.Context) ([]*models.ScheduledTrigger, error) {
	query := `SELECT ` + scheduleColumns + ` FROM scheduled_triggers ORDER BY created_at`

	return r.querySchedules(ctx, query)
}

func (r *ScheduleRepository) Due(ctx context.Context, at time.Time) ([]*models.ScheduledTrigger, error) {
	query := `SELECT ` + scheduleColumns + ` FROM scheduled_triggers WHERE active AND next_due_at <= $1 ORDER BY next_due_at`

	return r.querySchedules(ctx, query, at)
}

func (r *ScheduleRepository) querySchedules(ctx context.Context, query string, args ...any) ([]*models.ScheduledTrigger, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}
	defer closeRows(ctx, rows, r.logger)

	schedules := make([]*models.ScheduledTrigger, 0)

	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}

		schedules = append(schedules, schedule)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating schedules: %w", err)
	}

	return schedules, nil
}

func scanSchedule(row rowScanner) (*models.ScheduledTrigger, error) {
	var (
		schedule    models.ScheduledTrigger
		payloadJSON []byte
	)

	err := row.Scan(
		&schedule.ID,
		&schedule.TriggerKind,
		&schedule.CronExpression,
		&schedule.EntityID,
		&schedule.SegmentID,
		&payloadJSON,
		&schedule.NextDueAt,
		&schedule.Active,
		&schedule.CreatedAt,
		&schedule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(payloadJSON, &schedule.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schedule payload: %w", err)
	}

	return &schedule, nil
}
