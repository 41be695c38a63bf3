// Package memory provides an in-memory persistence implementation used by
// tests and single-process runs.
package memory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/leadwell/drip/pkg/persistence"
)

// Persistence implements persistence.Persistence with mutex-guarded maps.
type Persistence struct {
	workflows   *WorkflowRepository
	executions  *ExecutionRepository
	segments    *SegmentRepository
	memberships *MembershipRepository
	schedules   *ScheduleRepository
}

func NewPersistence() *Persistence {
	return &Persistence{
		workflows:   &WorkflowRepository{defs: make(map[string]string)},
		executions:  NewExecutionRepository(),
		segments:    &SegmentRepository{defs: make(map[string]string)},
		memberships: &MembershipRepository{rows: make(map[string][]string)},
		schedules:   &ScheduleRepository{entries: make(map[string]string)},
	}
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

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// Records are kept as JSON so readers always get an independent copy and the
// serialization boundary matches the durable implementations.
func encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode record: %w", err)
	}

	return string(data), nil
}

func decode[T any](data string) (*T, error) {
	var out T
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}

	return &out, nil
}
