package memory

import (
	"context"
	"sync"

	"github.com/leadwell/drip/pkg/models"
	"github.com/leadwell/drip/pkg/persistence"
)

// WorkflowRepository stores workflow definitions as encoded records.
type WorkflowRepository struct {
	mu   sync.RWMutex
	defs map[string]string
}

func (r *WorkflowRepository) Save(_ context.Context, def *models.WorkflowDefinition) error {
	data, err := encode(def)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.ID] = data

	return nil
}

func (r *WorkflowRepository) GetByID(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	r.mu.RLock()
	data, ok := r.defs[id]
	r.mu.RUnlock()

	if !ok {
		return nil, persistence.ErrWorkflowNotFound
	}

	return decode[models.WorkflowDefinition](data)
}

func (r *WorkflowRepository) All(_ context.Context) ([]*models.WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.WorkflowDefinition, 0, len(r.defs))

	for _, data := range r.defs {
		def, err := decode[models.WorkflowDefinition](data)
		if err != nil {
			return nil, err
		}

		out = append(out, def)
	}

	return out, nil
}

func (r *WorkflowRepository) ActiveByTriggerKind(ctx context.Context, kind string) ([]*models.WorkflowDefinition, error) {
	all, err := r.All(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*models.WorkflowDefinition, 0)

	for _, def := range all {
		if def.IsActive && def.TriggerKind == kind {
			out = append(out, def)
		}
	}

	return out, nil
}
