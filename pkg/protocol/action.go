// Package protocol defines the contracts between the engine and its
// pluggable collaborators.
package protocol

import (
	"context"
	"errors"
	"log/slog"
)

// ActionRequest carries everything a handler needs to execute one step.
type ActionRequest struct {
	ExecutionID string
	WorkflowID  string
	EntityID    string
	StepIndex   int

	// Parameters is the step's declared configuration.
	Parameters map[string]any

	// Context is the execution's accumulated context (trigger payload and
	// prior step results), read-only for handlers.
	Context map[string]any
}

// Action executes one step. The returned map is merged into the execution
// context, namespaced by step index. Failures that are worth retrying must be
// wrapped with Retriable; anything else is treated as fatal for the
// execution. Handlers own their timeouts; the engine only enforces the step's
// retry budget.
type Action interface {
	Execute(ctx context.Context, req ActionRequest, logger *slog.Logger) (map[string]any, error)
}

// ActionFactory creates handler instances for one action kind and describes
// the parameters it accepts.
type ActionFactory interface {
	// ID returns the action kind this factory serves.
	ID() string

	Create(config map[string]any) (Action, error)

	// Schema returns the JSON schema step parameters are validated against
	// at definition time.
	Schema() map[string]any
}

// RetriableError marks a handler failure as transient.
type RetriableError struct {
	Err error
}

func (e *RetriableError) Error() string {
	return "retriable: " + e.Err.Error()
}

func (e *RetriableError) Unwrap() error {
	return e.Err
}

// Retriable wraps an error as transient so the engine retries the step.
func Retriable(err error) error {
	if err == nil {
		return nil
	}

	return &RetriableError{Err: err}
}

// IsRetriable reports whether an error anywhere in the chain is marked
// transient.
func IsRetriable(err error) bool {
	var retriable *RetriableError

	return errors.As(err, &retriable)
}
