package memory

import (
	"context"
	"sync"
	"time"

	"github.com/leadwell/drip/pkg/models"
	"github.com/leadwell/drip/pkg/persistence"
)

// ScheduleRepository stores recurring trigger schedules.
type ScheduleRepository struct {
	mu      sync.RWMutex
	entries map[string]string
}

func (r *ScheduleRepository) Save(_ context.Context, schedule *models.ScheduledTrigger) error {
	data, err := encode(schedule)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[schedule.ID] = data

	return nil
}

func (r *ScheduleRepository) GetByID(_ context.Context, id string) (*models.ScheduledTrigger, error) {
	r.mu.RLock()
	data, ok := r.entries[id]
	r.mu.RUnlock()

	if !ok {
		return nil, persistence.ErrScheduleNotFound
	}

	return decode[models.ScheduledTrigger](data)
}

func (r *ScheduleRepository) All(_ context.Context) ([]*models.ScheduledTrigger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.ScheduledTrigger, 0, len(r.entries))

	for _, data := range r.entries {
		entry, err := decode[models.ScheduledTrigger](data)
		if err != nil {
			return nil, err
		}

		out = append(out, entry)
	}

	return out, nil
}

func (r *ScheduleRepository) Due(ctx context.Context, at time.Time) ([]*models.ScheduledTrigger, error) {
	all, err := r.All(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*models.ScheduledTrigger, 0)

	for _, entry := range all {
		if entry.Due(at) {
			out = append(out, entry)
		}
	}

	return out, nil
}
