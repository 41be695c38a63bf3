package memory

import (
	"context"
	"sync"

	"github.com/leadwell/drip/pkg/models"
	"github.com/leadwell/drip/pkg/persistence"
)

// ExecutionRepository stores execution instances with an active-pair index
// enforcing the one-active-execution invariant, mirroring the partial unique
// index the postgres implementation relies on.
type ExecutionRepository struct {
	mu      sync.Mutex
	records map[string]string // execution id -> encoded record
	active  map[string]string // workflow|entity  -> execution id
}

func NewExecutionRepository() *ExecutionRepository {
	return &ExecutionRepository{
		records: make(map[string]string),
		active:  make(map[string]string),
	}
}

func pairKey(workflowID, entityID string) string {
	return workflowID + "|" + entityID
}

func (r *ExecutionRepository) CreateActive(_ context.Context, exec *models.ExecutionInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := pairKey(exec.WorkflowID, exec.EntityID)
	if _, exists := r.active[key]; exists {
		return &persistence.ExecutionError{
			Op:         "CreateActive",
			WorkflowID: exec.WorkflowID,
			EntityID:   exec.EntityID,
			Err:        persistence.ErrActiveExecutionExists,
		}
	}

	exec.Version = 1

	data, err := encode(exec)
	if err != nil {
		return err
	}

	r.records[exec.ID] = data
	r.active[key] = exec.ID

	return nil
}

func (r *ExecutionRepository) Update(_ context.Context, exec *models.ExecutionInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, ok := r.records[exec.ID]
	if !ok {
		return &persistence.ExecutionError{Op: "Update", ExecutionID: exec.ID, Err: persistence.ErrExecutionNotFound}
	}

	stored, err := decode[models.ExecutionInstance](data)
	if err != nil {
		return err
	}

	if stored.Status.Terminal() {
		return &persistence.ExecutionError{Op: "Update", ExecutionID: exec.ID, Err: persistence.ErrExecutionImmutable}
	}

	if stored.Version != exec.Version {
		return &persistence.ExecutionError{Op: "Update", ExecutionID: exec.ID, Err: persistence.ErrVersionConflict}
	}

	exec.Version++

	encoded, err := encode(exec)
	if err != nil {
		exec.Version--

		return err
	}

	r.records[exec.ID] = encoded

	if exec.Status.Terminal() {
		delete(r.active, pairKey(exec.WorkflowID, exec.EntityID))
	}

	return nil
}

func (r *ExecutionRepository) GetByID(_ context.Context, id string) (*models.ExecutionInstance, error) {
	r.mu.Lock()
	data, ok := r.records[id]
	r.mu.Unlock()

	if !ok {
		return nil, &persistence.ExecutionError{Op: "GetByID", ExecutionID: id, Err: persistence.ErrExecutionNotFound}
	}

	return decode[models.ExecutionInstance](data)
}

func (r *ExecutionRepository) FindActive(_ context.Context, workflowID, entityID string) (*models.ExecutionInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.active[pairKey(workflowID, entityID)]
	if !ok {
		return nil, &persistence.ExecutionError{
			Op:         "FindActive",
			WorkflowID: workflowID,
			EntityID:   entityID,
			Err:        persistence.ErrExecutionNotFound,
		}
	}

	return decode[models.ExecutionInstance](r.records[id])
}

func (r *ExecutionRepository) FindLatestFinished(_ context.Context, workflowID, entityID string) (*models.ExecutionInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var latest *models.ExecutionInstance

	for _, data := range r.records {
		exec, err := decode[models.ExecutionInstance](data)
		if err != nil {
			return nil, err
		}

		if exec.WorkflowID != workflowID || exec.EntityID != entityID {
			continue
		}

		if exec.Status != models.ExecutionStatusCompleted && exec.Status != models.ExecutionStatusFailed {
			continue
		}

		if latest == nil || (exec.CompletedAt != nil && latest.CompletedAt != nil && exec.CompletedAt.After(*latest.CompletedAt)) {
			latest = exec
		}
	}

	if latest == nil {
		return nil, &persistence.ExecutionError{
			Op:         "FindLatestFinished",
			WorkflowID: workflowID,
			EntityID:   entityID,
			Err:        persistence.ErrExecutionNotFound,
		}
	}

	return latest, nil
}

func (r *ExecutionRepository) ListByStatus(_ context.Context, status models.ExecutionStatus) ([]*models.ExecutionInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*models.ExecutionInstance, 0)

	for _, data := range r.records {
		exec, err := decode[models.ExecutionInstance](data)
		if err != nil {
			return nil, err
		}

		if exec.Status == status {
			out = append(out, exec)
		}
	}

	return out, nil
}
