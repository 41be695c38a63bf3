package models

import (
	"strconv"
	"time"
)

// ExecutionStatus is the lifecycle state of one workflow execution instance.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusWaiting   ExecutionStatus = "waiting"
	ExecutionStatusPaused    ExecutionStatus = "paused"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status is final. Terminal executions are
// immutable and reject further transitions.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	default:
		return false
	}
}

// Active reports whether the status counts against the one-active-execution
// invariant per (workflow, entity) pair.
func (s ExecutionStatus) Active() bool {
	switch s {
	case ExecutionStatusRunning, ExecutionStatusWaiting, ExecutionStatusPaused:
		return true
	default:
		return false
	}
}

var allowedTransitions = map[ExecutionStatus]map[ExecutionStatus]bool{
	ExecutionStatusRunning: {
		ExecutionStatusWaiting:   true,
		ExecutionStatusPaused:    true,
		ExecutionStatusCompleted: true,
		ExecutionStatusFailed:    true,
		ExecutionStatusCancelled: true,
	},
	ExecutionStatusWaiting: {
		ExecutionStatusRunning:   true,
		ExecutionStatusPaused:    true,
		ExecutionStatusFailed:    true,
		ExecutionStatusCancelled: true,
	},
	ExecutionStatusPaused: {
		ExecutionStatusRunning:   true,
		ExecutionStatusCancelled: true,
	},
}

// WakeOp tells the engine what a pending timer wake should do when it fires:
// advance past the current step, or dispatch it again (retry backoff).
type WakeOp string

const (
	WakeOpAdvance  WakeOp = "advance"
	WakeOpDispatch WakeOp = "dispatch"
)

// StepResultStatus records how a step index was satisfied.
type StepResultStatus string

const (
	StepResultSuccess StepResultStatus = "success"
	StepResultSkipped StepResultStatus = "skipped"
)

const stepResultsKey = "steps"

// ExecutionInstance is one entity's progress through one workflow definition.
// It is created by trigger matching, mutated only by the execution engine,
// and becomes immutable once it reaches a terminal status.
type ExecutionInstance struct {
	ID               string          `json:"id"`
	WorkflowID       string          `json:"workflow_id"`
	EntityID         string          `json:"entity_id"`
	Status           ExecutionStatus `json:"status"`
	CurrentStepIndex int             `json:"current_step_index"`
	Context          map[string]any  `json:"context"`
	RetryCount       int             `json:"retry_count_for_current_step"`
	WakeOp           WakeOp          `json:"wake_op,omitempty"`
	NextWakeAt       *time.Time      `json:"next_wake_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	Error            string          `json:"error,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`

	// Version supports optimistic concurrency: stores reject a save whose
	// version does not match the stored record.
	Version int64 `json:"version"`
}

// TransitionTo validates and applies a status transition. Terminal states are
// final: attempting to leave one is an explicit error, never a silent no-op.
func (e *ExecutionInstance) TransitionTo(to ExecutionStatus, now time.Time) error {
	if e.Status.Terminal() {
		return &TransitionError{ExecutionID: e.ID, From: e.Status, To: to, Err: ErrTerminalState}
	}

	if !allowedTransitions[e.Status][to] {
		return &TransitionError{ExecutionID: e.ID, From: e.Status, To: to, Err: ErrInvalidTransition}
	}

	e.Status = to
	e.UpdatedAt = now

	if to.Terminal() {
		completed := now
		e.CompletedAt = &completed
		e.NextWakeAt = nil
		e.WakeOp = ""
	}

	return nil
}

// RecordStepResult stores the outcome of a step index in the execution
// context, namespaced to avoid collisions across steps.
func (e *ExecutionInstance) RecordStepResult(index int, status StepResultStatus, output map[string]any) {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}

	results, ok := e.Context[stepResultsKey].(map[string]any)
	if !ok {
		results = make(map[string]any)
		e.Context[stepResultsKey] = results
	}

	entry := map[string]any{"status": string(status)}
	if len(output) > 0 {
		entry["output"] = output
	}

	results[strconv.Itoa(index)] = entry
}

// StepResult returns the recorded outcome for a step index, if any.
func (e *ExecutionInstance) StepResult(index int) (map[string]any, bool) {
	results, ok := e.Context[stepResultsKey].(map[string]any)
	if !ok {
		return nil, false
	}

	entry, ok := results[strconv.Itoa(index)].(map[string]any)

	return entry, ok
}
