// Package persistence provides the storage abstraction for workflow
// definitions, execution instances, segments, and schedules.
package persistence

import (
	"context"
	"time"

	"github.com/leadwell/drip/pkg/models"
)

// Persistence bundles the repositories backing the engine. Implementations
// live in subpackages (memory for tests and local runs, postgres for
// production).
type Persistence interface {
	Workflows() WorkflowRepository
	Executions() ExecutionRepository
	Segments() SegmentRepository
	Memberships() MembershipRepository
	Schedules() ScheduleRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores workflow definitions.
type WorkflowRepository interface {
	Save(ctx context.Context, def *models.WorkflowDefinition) error
	GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	All(ctx context.Context) ([]*models.WorkflowDefinition, error)

	// ActiveByTriggerKind returns active definitions reacting to the given
	// trigger kind, the candidate set for trigger matching.
	ActiveByTriggerKind(ctx context.Context, kind string) ([]*models.WorkflowDefinition, error)
}

// ExecutionRepository stores execution instances. It is the unit of mutual
// exclusion for the engine: creation of active instances is atomic per
// (workflow, entity) pair, and updates are optimistic on Version.
type ExecutionRepository interface {
	// CreateActive inserts a new active execution, failing with
	// ErrActiveExecutionExists if the (workflow, entity) pair already has
	// one. The check and the insert are a single atomic operation.
	CreateActive(ctx context.Context, exec *models.ExecutionInstance) error

	// Update persists a mutated execution. The stored version must match
	// exec.Version or ErrVersionConflict is returned; on success the version
	// is incremented. Updating a record already in a terminal state fails
	// with ErrExecutionImmutable.
	Update(ctx context.Context, exec *models.ExecutionInstance) error

	GetByID(ctx context.Context, id string) (*models.ExecutionInstance, error)

	// FindActive returns the active execution for the pair, or
	// ErrExecutionNotFound.
	FindActive(ctx context.Context, workflowID, entityID string) (*models.ExecutionInstance, error)

	// FindLatestFinished returns the most recently completed or failed
	// execution for the pair, for cooldown checks. ErrExecutionNotFound if
	// none exists.
	FindLatestFinished(ctx context.Context, workflowID, entityID string) (*models.ExecutionInstance, error)

	ListByStatus(ctx context.Context, status models.ExecutionStatus) ([]*models.ExecutionInstance, error)
}

// SegmentRepository stores segment definitions.
type SegmentRepository interface {
	Save(ctx context.Context, def *models.SegmentDefinition) error
	GetByID(ctx context.Context, id string) (*models.SegmentDefinition, error)
	All(ctx context.Context) ([]*models.SegmentDefinition, error)
}

// MembershipRepository stores segment memberships with their audit history.
// Rows are closed, never deleted: Leave sets left_at on the open row.
type MembershipRepository interface {
	// Members returns entity ids with an open membership in the segment.
	Members(ctx context.Context, segmentID string) ([]string, error)

	// Join opens a membership. Idempotent: joining an already-open
	// membership is a no-op.
	Join(ctx context.Context, change models.MembershipChange) error

	// Leave closes the open membership. Idempotent: leaving a closed or
	// absent membership is a no-op.
	Leave(ctx context.Context, change models.MembershipChange) error

	// History returns all membership rows for the pair, oldest first.
	History(ctx context.Context, segmentID, entityID string) ([]*models.Membership, error)
}

// ScheduleRepository stores recurring trigger schedules.
type ScheduleRepository interface {
	Save(ctx context.Context, schedule *models.ScheduledTrigger) error
	GetByID(ctx context.Context, id string) (*models.ScheduledTrigger, error)
	All(ctx context.Context) ([]*models.ScheduledTrigger, error)

	// Due returns active schedules whose NextDueAt is at or before the given
	// time.
	Due(ctx context.Context, at time.Time) ([]*models.ScheduledTrigger, error)
}
