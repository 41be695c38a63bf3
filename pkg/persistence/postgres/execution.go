package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/leadwell/drip/pkg/models"
	"github.com/leadwell/drip/pkg/persistence"
)

const uniqueViolation = pq.ErrorCode("23505")

// ExecutionRepository stores execution instances. The one-active-execution
// invariant is enforced by a partial unique index on (workflow_id, entity_id)
// over non-terminal rows, and updates are compare-and-swap on version.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

const executionColumns = `
	id
  , workflow_id
  , entity_id
  , status
  , current_step_index
  , context
  , retry_count
  , wake_op
  , next_wake_at
  , completed_at
  , error
  , created_at
  , updated_at
  , version
`

func (r *ExecutionRepository) CreateActive(ctx context.Context, exec *models.ExecutionInstance) error {
	exec.Version = 1

	contextJSON, err := json.Marshal(exec.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal execution context: %w", err)
	}

	query := `
		INSERT INTO executions (id, workflow_id, entity_id, status, current_step_index,
			context, retry_count, wake_op, next_wake_at, completed_at, error,
			created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err = r.db.ExecContext(ctx, query,
		exec.ID,
		exec.WorkflowID,
		exec.EntityID,
		exec.Status,
		exec.CurrentStepIndex,
		contextJSON,
		exec.RetryCount,
		string(exec.WakeOp),
		exec.NextWakeAt,
		exec.CompletedAt,
		exec.Error,
		exec.CreatedAt,
		exec.UpdatedAt,
		exec.Version,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && pqErr.Constraint == "idx_executions_active_pair" {
			return &persistence.ExecutionError{
				Op:         "CreateActive",
				WorkflowID: exec.WorkflowID,
				EntityID:   exec.EntityID,
				Err:        persistence.ErrActiveExecutionExists,
			}
		}

		return fmt.Errorf("failed to insert execution %s: %w", exec.ID, err)
	}

	return nil
}

// Update performs the optimistic save. The single UPDATE statement carries
// all three preconditions; on a miss a follow-up read distinguishes
// not-found, terminal, and version conflict.
func (r *ExecutionRepository) Update(ctx context.Context, exec *models.ExecutionInstance) error {
	contextJSON, err := json.Marshal(exec.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal execution context: %w", err)
	}

	query := `
		UPDATE executions SET
			status = $1,
			current_step_index = $2,
			context = $3,
			retry_count = $4,
			wake_op = $5,
			next_wake_at = $6,
			completed_at = $7,
			error = $8,
			updated_at = $9,
			version = version + 1
		WHERE id = $10
		  AND version = $11
		  AND status NOT IN ('completed', 'failed', 'cancelled')
	`

	result, err := r.db.ExecContext(ctx, query,
		exec.Status,
		exec.CurrentStepIndex,
		contextJSON,
		exec.RetryCount,
		string(exec.WakeOp),
		exec.NextWakeAt,
		exec.CompletedAt,
		exec.Error,
		exec.UpdatedAt,
		exec.ID,
		exec.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update execution %s: %w", exec.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result for execution %s: %w", exec.ID, err)
	}

	if affected == 0 {
		return r.classifyUpdateMiss(ctx, exec.ID)
	}

	exec.Version++

	return nil
}

func (r *ExecutionRepository) classifyUpdateMiss(ctx context.Context, id string) error {
	var status models.ExecutionStatus

	err := r.db.QueryRowContext(ctx, `SELECT status FROM executions WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &persistence.ExecutionError{Op: "Update", ExecutionID: id, Err: persistence.ErrExecutionNotFound}
		}

		return fmt.Errorf("failed to inspect execution %s: %w", id, err)
	}

	if status.Terminal() {
		return &persistence.ExecutionError{Op: "Update", ExecutionID: id, Err: persistence.ErrExecutionImmutable}
	}

	return &persistence.ExecutionError{Op: "Update", ExecutionID: id, Err: persistence.ErrVersionConflict}
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.ExecutionInstance, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE id = $1`

	exec, err := scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.ExecutionError{Op: "GetByID", ExecutionID: id, Err: persistence.ErrExecutionNotFound}
		}

		return nil, fmt.Errorf("failed to scan execution %s: %w", id, err)
	}

	return exec, nil
}

func (r *ExecutionRepository) FindActive(ctx context.Context, workflowID, entityID string) (*models.ExecutionInstance, error) {
	query := `SELECT ` + executionColumns + `
		FROM executions
		WHERE workflow_id = $1 AND entity_id = $2
		  AND status IN ('running', 'waiting', 'paused')
	`

	exec, err := scanExecution(r.db.QueryRowContext(ctx, query, workflowID, entityID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.ExecutionError{
				Op:         "FindActive",
				WorkflowID: workflowID,
				EntityID:   entityID,
				Err:        persistence.ErrExecutionNotFound,
			}
		}

		return nil, fmt.Errorf("failed to find active execution: %w", err)
	}

	return exec, nil
}

func (r *ExecutionRepository) FindLatestFinished(ctx context.Context, workflowID, entityID string) (*models.ExecutionInstance, error) {
	query := `SELECT ` + executionColumns + `
		FROM executions
		WHERE workflow_id = $1 AND entity_id = $2
		  AND status IN ('completed', 'failed')
		ORDER BY completed_at DESC
		LIMIT 1
	`

	exec, err := scanExecution(r.db.QueryRowContext(ctx, query, workflowID, entityID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.ExecutionError{
				Op:         "FindLatestFinished",
				WorkflowID: workflowID,
				EntityID:   entityID,
				Err:        persistence.ErrExecutionNotFound,
			}
		}

		return nil, fmt.Errorf("failed to find latest finished execution: %w", err)
	}

	return exec, nil
}

func (r *ExecutionRepository) ListByStatus(ctx context.Context, status models.ExecutionStatus) ([]*models.ExecutionInstance, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE status = $1 ORDER BY updated_at`

	rows, err := r.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions by status: %w", err)
	}
	defer closeRows(ctx, rows, r.logger)

	out := make([]*models.ExecutionInstance, 0)

	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		out = append(out, exec)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return out, nil
}

func scanExecution(row rowScanner) (*models.ExecutionInstance, error) {
	var (
		exec        models.ExecutionInstance
		contextJSON []byte
		wakeOp      string
	)

	err := row.Scan(
		&exec.ID,
		&exec.WorkflowID,
		&exec.EntityID,
		&exec.Status,
		&exec.CurrentStepIndex,
		&contextJSON,
		&exec.RetryCount,
		&wakeOp,
		&exec.NextWakeAt,
		&exec.CompletedAt,
		&exec.Error,
		&exec.CreatedAt,
		&exec.UpdatedAt,
		&exec.Version,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(contextJSON, &exec.Context); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution context: %w", err)
	}

	exec.WakeOp = models.WakeOp(wakeOp)

	return &exec, nil
}
