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

// SegmentRepository stores segment definitions.
type SegmentRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSegmentRepository(db *sql.DB, logger *slog.Logger) *SegmentRepository {
	return &SegmentRepository{db: db, logger: logger}
}

func (r *SegmentRepository) Save(ctx context.Context, def *models.SegmentDefinition) error {
	rulesJSON, err := json.Marshal(def.Rules)
	if err != nil {
		return fmt.Errorf("failed to marshal segment rules: %w", err)
	}

	query := `
		INSERT INTO segments (id, name, rules, is_dynamic, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			rules = EXCLUDED.rules,
			is_dynamic = EXCLUDED.is_dynamic,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		def.ID, def.Name, rulesJSON, def.IsDynamic, def.CreatedAt, def.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save segment %s: %w", def.ID, err)
	}

	return nil
}

func (r *SegmentRepository) GetByID(ctx context.Context, id string) (*models.SegmentDefinition, error) {
	query := `SELECT id, name, rules, is_dynamic, created_at, updated_at FROM segments WHERE id = $1`

	def, err := scanSegment(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrSegmentNotFound
		}

		return nil, fmt.Errorf("failed to scan segment %s: %w", id, err)
	}

	return def, nil
}

func (r *SegmentRepository) All(ctx context.Context) ([]*models.SegmentDefinition, error) {
	query := `SELECT id, name, rules, is_dynamic, created_at, updated_at FROM segments ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query segments: %w", err)
	}
	defer closeRows(ctx, rows, r.logger)

	defs := make([]*models.SegmentDefinition, 0)

	for rows.Next() {
		def, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}

		defs = append(defs, def)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating segments: %w", err)
	}

	return defs, nil
}

func scanSegment(row rowScanner) (*models.SegmentDefinition, error) {
	var (
		def       models.SegmentDefinition
		rulesJSON []byte
	)

	err := row.Scan(&def.ID, &def.Name, &rulesJSON, &def.IsDynamic, &def.CreatedAt, &def.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(rulesJSON, &def.Rules); err != nil {
		return nil, fmt.Errorf("failed to unmarshal segment rules: %w", err)
	}

	return &def, nil
}

// MembershipRepository stores segment memberships as append-and-close rows.
// A partial unique index keeps at most one open row per (segment, entity);
// removals set left_at instead of deleting.
type MembershipRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewMembershipRepository(db *sql.DB, logger *slog.Logger) *MembershipRepository {
	return &MembershipRepository{db: db, logger: logger}
}

func (r *MembershipRepository) Members(ctx context.Context, segmentID string) ([]string, error) {
	query := `
		SELECT entity_id FROM segment_memberships
		WHERE segment_id = $1 AND left_at IS NULL
		ORDER BY entity_id
	`

	rows, err := r.db.QueryContext(ctx, query, segmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query members of segment %s: %w", segmentID, err)
	}
	defer closeRows(ctx, rows, r.logger)

	members := make([]string, 0)

	for rows.Next() {
		var entityID string

		if err := rows.Scan(&entityID); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}

		members = append(members, entityID)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating members: %w", err)
	}

	return members, nil
}

func (r *MembershipRepository) Join(ctx context.Context, change models.MembershipChange) error {
	query := `
		INSERT INTO segment_memberships (segment_id, entity_id, reason, joined_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.db.ExecContext(ctx, query, change.SegmentID, change.EntityID, change.Reason, change.At)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && pqErr.Constraint == "idx_memberships_open" {
			// Already an open member.
			return nil
		}

		return fmt.Errorf("failed to join segment %s: %w", change.SegmentID, err)
	}

	return nil
}

func (r *MembershipRepository) Leave(ctx context.Context, change models.MembershipChange) error {
	query := `
		UPDATE segment_memberships
		SET left_at = $1, left_reason = $2
		WHERE segment_id = $3 AND entity_id = $4 AND left_at IS NULL
	`

	_, err := r.db.ExecContext(ctx, query, change.At, change.Reason, change.SegmentID, change.EntityID)
	if err != nil {
		return fmt.Errorf("failed to leave segment %s: %w", change.SegmentID, err)
	}

	return nil
}

func (r *MembershipRepository) History(ctx context.Context, segmentID, entityID string) ([]*models.Membership, error) {
	query := `
		SELECT segment_id, entity_id, reason, joined_at, left_at, left_reason
		FROM segment_memberships
		WHERE segment_id = $1 AND entity_id = $2
		ORDER BY joined_at
	`

	rows, err := r.db.QueryContext(ctx, query, segmentID, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query membership history: %w", err)
	}
	defer closeRows(ctx, rows, r.logger)

	history := make([]*models.Membership, 0)

	for rows.Next() {
		var m models.Membership

		err := rows.Scan(&m.SegmentID, &m.EntityID, &m.Reason, &m.JoinedAt, &m.LeftAt, &m.LeftReason)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}

		history = append(history, &m)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating membership history: %w", err)
	}

	return history, nil
}
