package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Duration wraps time.Duration with a human-readable JSON form ("90s", "48h").
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}

		*d = Duration(parsed)
	case float64:
		// Bare numbers are seconds, matching how upstream systems express
		// step delays.
		*d = Duration(time.Duration(v) * time.Second)
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}

	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// StepDefinition is one action within a workflow: what to do, how long to
// wait afterwards before advancing, and an optional guard evaluated against
// fresh entity state just before dispatch.
type StepDefinition struct {
	Index      int            `json:"index"`
	ActionKind string         `json:"action_kind" validate:"required"`
	Parameters map[string]any `json:"parameters"`
	Delay      Duration       `json:"delay"`
	SkipIf     RuleSet        `json:"skip_if,omitempty"`
	MaxRetries int            `json:"max_retries"`
}

// WorkflowDefinition describes a publishable workflow: the trigger it reacts
// to, the entry gate, and the ordered steps. Definitions are immutable once
// published; a change is a new definition with a new ID.
type WorkflowDefinition struct {
	ID                     string           `json:"id"`
	Name                   string           `json:"name"         validate:"required,min=3"`
	Description            string           `json:"description"`
	TriggerKind            string           `json:"trigger_kind" validate:"required"`
	EntryRules             RuleSet          `json:"entry_rules"`
	Steps                  []StepDefinition `json:"steps"        validate:"required,min=1"`
	IsActive               bool             `json:"is_active"`
	MaxConcurrentPerEntity int              `json:"max_concurrent_per_entity"`
	Cooldown               Duration         `json:"cooldown"`
	CreatedAt              time.Time        `json:"created_at"`
	PublishedAt            *time.Time       `json:"published_at,omitempty"`
}

// Validate checks structural constraints plus the entry and skip rule sets
// against the entity field schema. A definition that fails here is rejected
// before it can ever be triggered.
func (w *WorkflowDefinition) Validate(validate *validator.Validate, schema FieldSchema) error {
	if err := validate.Struct(w); err != nil {
		return fmt.Errorf("workflow %s: %w", w.ID, err)
	}

	if err := w.EntryRules.Validate(schema); err != nil {
		return fmt.Errorf("workflow %s entry rules: %w", w.ID, err)
	}

	if len(w.Steps) == 0 {
		return fmt.Errorf("workflow %s: %w", w.ID, ErrNoSteps)
	}

	for i, step := range w.Steps {
		if step.Index != i {
			return fmt.Errorf("workflow %s step %d: %w", w.ID, i, ErrStepIndexMismatch)
		}

		if step.Delay < 0 {
			return fmt.Errorf("workflow %s step %d: %w", w.ID, i, ErrNegativeDelay)
		}

		if step.MaxRetries < 0 {
			return fmt.Errorf("workflow %s step %d: %w", w.ID, i, ErrNegativeMaxRetries)
		}

		if err := step.SkipIf.Validate(schema); err != nil {
			return fmt.Errorf("workflow %s step %d skip_if: %w", w.ID, i, err)
		}
	}

	return nil
}

// Step returns the step at the given index.
func (w *WorkflowDefinition) Step(index int) (StepDefinition, bool) {
	if index < 0 || index >= len(w.Steps) {
		return StepDefinition{}, false
	}

	return w.Steps[index], true
}
