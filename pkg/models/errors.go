package models

import (
	"errors"
	"fmt"
)

// Definition-time rule validation errors. A rule set failing any of these is
// rejected when the workflow or segment is defined and never reaches
// evaluation.
var (
	ErrEmptyField           = errors.New("rule field is empty")
	ErrUnknownOperator      = errors.New("unknown operator")
	ErrUnknownField         = errors.New("field not declared in schema")
	ErrOperatorTypeMismatch = errors.New("operator not valid for field type")
	ErrValueTypeMismatch    = errors.New("value not valid for field type")
	ErrValueNotList         = errors.New("operator requires a list value")
	ErrValueNotString       = errors.New("operator requires a string value")
	ErrInvalidRelativeExpr  = errors.New("invalid relative time expression")
)

// Workflow definition errors.
var (
	ErrNoSteps             = errors.New("workflow has no steps")
	ErrStepIndexMismatch   = errors.New("step indexes must be contiguous from zero")
	ErrNegativeDelay       = errors.New("step delay must not be negative")
	ErrNegativeMaxRetries  = errors.New("step max retries must not be negative")
	ErrDefinitionPublished = errors.New("published definitions are immutable")
)

// Execution state machine errors.
var (
	ErrTerminalState     = errors.New("execution is in a terminal state")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// RuleError wraps a rule validation failure with the offending field and
// operator.
type RuleError struct {
	Field    string
	Operator Operator
	Err      error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rule on field %q with operator %q: %v", e.Field, e.Operator, e.Err)
}

func (e *RuleError) Unwrap() error {
	return e.Err
}

// TransitionError records a rejected execution status transition.
type TransitionError struct {
	ExecutionID string
	From        ExecutionStatus
	To          ExecutionStatus
	Err         error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("execution %s: cannot transition %s -> %s: %v", e.ExecutionID, e.From, e.To, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}
