// Package persistence provides standardized error types for storage
// operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow definition was not found.
	ErrWorkflowNotFound = errors.New("workflow definition not found")

	// ErrExecutionNotFound indicates an execution instance was not found.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrSegmentNotFound indicates a segment definition was not found.
	ErrSegmentNotFound = errors.New("segment definition not found")

	// ErrScheduleNotFound indicates a scheduled trigger was not found.
	ErrScheduleNotFound = errors.New("schedule not found")

	// ErrActiveExecutionExists indicates the (workflow, entity) pair already
	// has an active execution; the conditional insert was rejected.
	ErrActiveExecutionExists = errors.New("active execution already exists for workflow and entity")

	// ErrVersionConflict indicates the record changed since it was read and
	// the optimistic update was rejected.
	ErrVersionConflict = errors.New("execution modified concurrently")

	// ErrExecutionImmutable indicates an update against an execution already
	// in a terminal state.
	ErrExecutionImmutable = errors.New("execution is terminal and immutable")
)

// ExecutionError wraps execution storage errors with operation context.
type ExecutionError struct {
	Op          string // operation being performed, e.g. "CreateActive", "Update"
	ExecutionID string
	WorkflowID  string
	EntityID    string
	Err         error
}

func (e *ExecutionError) Error() string {
	target := e.ExecutionID
	if target == "" {
		target = fmt.Sprintf("workflow %s entity %s", e.WorkflowID, e.EntityID)
	}

	return fmt.Sprintf("%s failed for execution %s: %v", e.Op, target, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}
