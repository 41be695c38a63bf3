package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/leadwell/drip/pkg/models"
	"github.com/leadwell/drip/pkg/persistence"
	"github.com/leadwell/drip/pkg/registry"
	"github.com/leadwell/drip/pkg/rules"
)

// Definitions is the write path for workflow definitions. Every save passes
// the full definition-time gate: structural validation, rule sets checked
// against the entity field schema, and step parameters checked against each
// action kind's schema. Published definitions are immutable; a change ships
// as a new definition with a new ID.
type Definitions struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	snapshots   rules.SnapshotProvider
	validate    *validator.Validate
	logger      *slog.Logger

	now func() time.Time
}

func NewDefinitions(p persistence.Persistence, reg *registry.Registry, snapshots rules.SnapshotProvider, logger *slog.Logger) *Definitions {
	return &Definitions{
		persistence: p,
		registry:    reg,
		snapshots:   snapshots,
		validate:    validator.New(),
		logger:      logger.With("module", "definitions"),
		now:         time.Now,
	}
}

// Save stores a definition after running the full gate. Saving over an
// already published definition returns ErrDefinitionPublished.
func (d *Definitions) Save(ctx context.Context, def *models.WorkflowDefinition) error {
	if err := d.Check(def); err != nil {
		return err
	}

	existing, err := d.persistence.Workflows().GetByID(ctx, def.ID)
	if err != nil && !errors.Is(err, persistence.ErrWorkflowNotFound) {
		return fmt.Errorf("failed to load workflow %s: %w", def.ID, err)
	}

	if existing != nil && existing.PublishedAt != nil {
		return fmt.Errorf("workflow %s: %w", def.ID, models.ErrDefinitionPublished)
	}

	if def.CreatedAt.IsZero() {
		def.CreatedAt = d.now()
	}

	return d.persistence.Workflows().Save(ctx, def)
}

// Publish seals a definition and activates it. Publishing is the last write a
// definition receives; subsequent saves are rejected. Publishing an already
// published definition is a no-op.
func (d *Definitions) Publish(ctx context.Context, id string) error {
	def, err := d.persistence.Workflows().GetByID(ctx, id)
	if err != nil {
		return err
	}

	if def.PublishedAt != nil {
		return nil
	}

	if err := d.Check(def); err != nil {
		return err
	}

	publishedAt := d.now()
	def.PublishedAt = &publishedAt
	def.IsActive = true

	return d.persistence.Workflows().Save(ctx, def)
}

// Check runs the definition-time gate without touching the store.
func (d *Definitions) Check(def *models.WorkflowDefinition) error {
	if err := def.Validate(d.validate, d.snapshots.Fields()); err != nil {
		return err
	}

	for _, step := range def.Steps {
		if err := d.registry.ValidateParameters(step.ActionKind, step.Parameters); err != nil {
			return fmt.Errorf("workflow %s step %d: %w", def.ID, step.Index, err)
		}
	}

	return nil
}

// ValidateStored re-checks every active definition already in the store,
// catching definitions written before an entity schema or action registry
// change. Returns the failures keyed by workflow ID.
func (d *Definitions) ValidateStored(ctx context.Context) (map[string]error, error) {
	defs, err := d.persistence.Workflows().All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	failures := make(map[string]error)

	for _, def := range defs {
		if !def.IsActive {
			continue
		}

		if err := d.Check(def); err != nil {
			failures[def.ID] = err

			d.logger.ErrorContext(ctx, "Stored workflow definition is invalid",
				"workflow_id", def.ID, "error", err)
		}
	}

	return failures, nil
}
