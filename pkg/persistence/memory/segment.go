package memory

import (
	"context"
	"sync"

	"github.com/leadwell/drip/pkg/models"
	"github.com/leadwell/drip/pkg/persistence"
)

// SegmentRepository stores segment definitions.
type SegmentRepository struct {
	mu   sync.RWMutex
	defs map[string]string
}

func (r *SegmentRepository) Save(_ context.Context, def *models.SegmentDefinition) error {
	data, err := encode(def)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.ID] = data

	return nil
}

func (r *SegmentRepository) GetByID(_ context.Context, id string) (*models.SegmentDefinition, error) {
	r.mu.RLock()
	data, ok := r.defs[id]
	r.mu.RUnlock()

	if !ok {
		return nil, persistence.ErrSegmentNotFound
	}

	return decode[models.SegmentDefinition](data)
}

func (r *SegmentRepository) All(_ context.Context) ([]*models.SegmentDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.SegmentDefinition, 0, len(r.defs))

	for _, data := range r.defs {
		def, err := decode[models.SegmentDefinition](data)
		if err != nil {
			return nil, err
		}

		out = append(out, def)
	}

	return out, nil
}

// MembershipRepository stores membership rows per (segment, entity) pair.
// Rows are append-only: Leave closes the last open row instead of removing
// it, preserving the audit trail.
type MembershipRepository struct {
	mu   sync.Mutex
	rows map[string][]string // segment|entity -> encoded rows, oldest first
}

func (r *MembershipRepository) Members(_ context.Context, segmentID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0)

	for _, rows := range r.rows {
		if len(rows) == 0 {
			continue
		}

		last, err := decode[models.Membership](rows[len(rows)-1])
		if err != nil {
			return nil, err
		}

		if last.SegmentID == segmentID && last.Open() {
			out = append(out, last.EntityID)
		}
	}

	return out, nil
}

func (r *MembershipRepository) Join(_ context.Context, change models.MembershipChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := pairKey(change.SegmentID, change.EntityID)
	rows := r.rows[key]

	if len(rows) > 0 {
		last, err := decode[models.Membership](rows[len(rows)-1])
		if err != nil {
			return err
		}

		if last.Open() {
			return nil
		}
	}

	row, err := encode(&models.Membership{
		SegmentID: change.SegmentID,
		EntityID:  change.EntityID,
		Reason:    change.Reason,
		JoinedAt:  change.At,
	})
	if err != nil {
		return err
	}

	r.rows[key] = append(rows, row)

	return nil
}

func (r *MembershipRepository) Leave(_ context.Context, change models.MembershipChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := pairKey(change.SegmentID, change.EntityID)
	rows := r.rows[key]

	if len(rows) == 0 {
		return nil
	}

	last, err := decode[models.Membership](rows[len(rows)-1])
	if err != nil {
		return err
	}

	if !last.Open() {
		return nil
	}

	left := change.At
	last.LeftAt = &left
	last.LeftReason = change.Reason

	closed, err := encode(last)
	if err != nil {
		return err
	}

	rows[len(rows)-1] = closed

	return nil
}

func (r *MembershipRepository) History(_ context.Context, segmentID, entityID string) ([]*models.Membership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows := r.rows[pairKey(segmentID, entityID)]
	out := make([]*models.Membership, 0, len(rows))

	for _, data := range rows {
		row, err := decode[models.Membership](data)
		if err != nil {
			return nil, err
		}

		out = append(out, row)
	}

	return out, nil
}
