// Package postgres provides the PostgreSQL persistence implementation.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // postgres driver

	"github.com/leadwell/drip/pkg/persistence"
	"github.com/leadwell/drip/pkg/persistence/sqlbase"
)

// Persistence backs every repository with a shared *sql.DB. Concurrency
// control lives in the schema: a partial unique index enforces the single
// active execution per (workflow, entity) pair, and execution updates are
// optimistic on the version column.
type Persistence struct {
	db          *sql.DB
	logger      *slog.Logger
	workflows   *WorkflowRepository
	executions  *ExecutionRepository
	segments    *SegmentRepository
	memberships *MembershipRepository
	schedules   *ScheduleRepository
}

// NewPersistence opens the database, verifies connectivity, and runs pending
// migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:          database,
		logger:      logger,
		workflows:   NewWorkflowRepository(database, logger),
		executions:  NewExecutionRepository(database, logger),
		segments:    NewSegmentRepository(database, logger),
		memberships: NewMembershipRepository(database, logger),
		schedules:   NewScheduleRepository(database, logger),
	}, nil
}

func (p *Persistence) Workflows() persistence.WorkflowRepository {
	return p.workflows
}

func (p *Persistence) Executions() persistence.ExecutionRepository {
	return p.executions
}

func (p *Persistence) Segments() persistence.SegmentRepository {
	return p.segments
}

func (p *Persistence) Memberships() persistence.MembershipRepository {
	return p.memberships
}

func (p *Persistence) Schedules() persistence.ScheduleRepository {
	return p.schedules
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}
