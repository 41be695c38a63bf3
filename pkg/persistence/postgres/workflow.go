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

// WorkflowRepository stores workflow definitions. Rule sets and steps are
// kept as JSONB documents; the columns the matcher filters on are relational.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

const workflowColumns = `
	id
  , name
  , description
  , trigger_kind
  , entry_rules
  , steps
  , is_active
  , max_concurrent_per_entity
  , cooldown_ns
  , created_at
  , published_at
`

func (r *WorkflowRepository) Save(ctx context.Context, def *models.WorkflowDefinition) error {
	if def.CreatedAt.IsZero() {
		def.CreatedAt = time.Now().UTC()
	}

	entryRulesJSON, err := json.Marshal(def.EntryRules)
	if err != nil {
		return fmt.Errorf("failed to marshal entry rules: %w", err)
	}

	stepsJSON, err := json.Marshal(def.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	query := `
		INSERT INTO workflows (id, name, description, trigger_kind, entry_rules, steps,
			is_active, max_concurrent_per_entity, cooldown_ns, created_at, published_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			trigger_kind = EXCLUDED.trigger_kind,
			entry_rules = EXCLUDED.entry_rules,
			steps = EXCLUDED.steps,
			is_active = EXCLUDED.is_active,
			max_concurrent_per_entity = EXCLUDED.max_concurrent_per_entity,
			cooldown_ns = EXCLUDED.cooldown_ns,
			published_at = EXCLUDED.published_at
	`

	_, err = r.db.ExecContext(ctx, query,
		def.ID,
		def.Name,
		def.Description,
		def.TriggerKind,
		entryRulesJSON,
		stepsJSON,
		def.IsActive,
		def.MaxConcurrentPerEntity,
		int64(def.Cooldown),
		def.CreatedAt,
		def.PublishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow %s: %w", def.ID, err)
	}

	return nil
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE id = $1`

	def, err := scanWorkflow(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrWorkflowNotFound
		}

		return nil, fmt.Errorf("failed to scan workflow %s: %w", id, err)
	}

	return def, nil
}

func (r *WorkflowRepository) All(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows ORDER BY created_at DESC`

	return r.queryWorkflows(ctx, query)
}

func (r *WorkflowRepository) ActiveByTriggerKind(ctx context.Context, kind string) ([]*models.WorkflowDefinition, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE is_active AND trigger_kind = $1 ORDER BY created_at`

	return r.queryWorkflows(ctx, query, kind)
}

func (r *WorkflowRepository) queryWorkflows(ctx context.Context, query string, args ...any) ([]*models.WorkflowDefinition, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}
	defer closeRows(ctx, rows, r.logger)

	defs := make([]*models.WorkflowDefinition, 0)

	for rows.Next() {
		def, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		defs = append(defs, def)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return defs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*models.WorkflowDefinition, error) {
	var (
		def            models.WorkflowDefinition
		entryRulesJSON []byte
		stepsJSON      []byte
		cooldownNS     int64
	)

	err := row.Scan(
		&def.ID,
		&def.Name,
		&def.Description,
		&def.TriggerKind,
		&entryRulesJSON,
		&stepsJSON,
		&def.IsActive,
		&def.MaxConcurrentPerEntity,
		&cooldownNS,
		&def.CreatedAt,
		&def.PublishedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(entryRulesJSON, &def.EntryRules); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry rules: %w", err)
	}

	if err := json.Unmarshal(stepsJSON, &def.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
	}

	def.Cooldown = models.Duration(cooldownNS)

	return &def, nil
}

func closeRows(ctx context.Context, rows *sql.Rows, logger *slog.Logger) {
	err := rows.Close()
	if err != nil {
		logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
