// Package models defines the core domain models for rule-driven lead workflows.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Operator is a comparison operator applied between an entity field and an
// expected value inside a rule expression.
type Operator string

const (
	OperatorEq         Operator = "eq"
	OperatorNotEq      Operator = "not_eq"
	OperatorGt         Operator = "gt"
	OperatorLt         Operator = "lt"
	OperatorGte        Operator = "gte"
	OperatorLte        Operator = "lte"
	OperatorIn         Operator = "in"
	OperatorContains   Operator = "contains"
	OperatorStartsWith Operator = "starts_with"
	OperatorEndsWith   Operator = "ends_with"
)

// FieldType declares the type of an entity field for definition-time rule
// validation. Operators are only valid against compatible field types.
type FieldType string

const (
	FieldTypeString   FieldType = "string"
	FieldTypeNumber   FieldType = "number"
	FieldTypeBool     FieldType = "bool"
	FieldTypeDatetime FieldType = "datetime"
	FieldTypeList     FieldType = "list"
)

// FieldSchema maps field names to their declared types.
type FieldSchema map[string]FieldType

// TriggerFieldPrefix is the reserved namespace under which trigger payload
// fields are addressable in rule expressions (e.g. "trigger.form_id").
// Trigger fields carry no declared type and skip type validation.
const TriggerFieldPrefix = "trigger."

var operatorsByType = map[FieldType]map[Operator]bool{
	FieldTypeString: {
		OperatorEq: true, OperatorNotEq: true, OperatorIn: true,
		OperatorContains: true, OperatorStartsWith: true, OperatorEndsWith: true,
	},
	FieldTypeNumber: {
		OperatorEq: true, OperatorNotEq: true, OperatorIn: true,
		OperatorGt: true, OperatorLt: true, OperatorGte: true, OperatorLte: true,
	},
	FieldTypeBool: {
		OperatorEq: true, OperatorNotEq: true,
	},
	FieldTypeDatetime: {
		OperatorEq: true, OperatorNotEq: true,
		OperatorGt: true, OperatorLt: true, OperatorGte: true, OperatorLte: true,
	},
	FieldTypeList: {
		OperatorContains: true,
	},
}

// ValidOperator reports whether op is defined at all.
func ValidOperator(op Operator) bool {
	for _, ops := range operatorsByType {
		if ops[op] {
			return true
		}
	}

	return false
}

// RuleExpression is a single field/operator/value condition. Value holds a
// literal (string, number, bool, list) or a RelativeExpr for symbolic time
// offsets resolved at evaluation time.
type RuleExpression struct {
	Field    string   `json:"field"    validate:"required"`
	Operator Operator `json:"operator" validate:"required"`
	Value    any      `json:"value"`
}

// relativeWrapper is the serialized form of a RelativeExpr rule value.
type relativeWrapper struct {
	Relative string `json:"relative"`
}

// MarshalJSON keeps RelativeExpr values distinguishable from plain strings in
// the persisted form.
func (r RuleExpression) MarshalJSON() ([]byte, error) {
	type alias RuleExpression

	out := alias(r)
	if rel, ok := r.Value.(RelativeExpr); ok {
		out.Value = relativeWrapper{Relative: rel.String()}
	}

	return json.Marshal(out)
}

// UnmarshalJSON restores RelativeExpr values from their serialized form.
func (r *RuleExpression) UnmarshalJSON(data []byte) error {
	type alias RuleExpression

	var out alias
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}

	*r = RuleExpression(out)

	if wrapped, ok := r.Value.(map[string]any); ok && len(wrapped) == 1 {
		if raw, ok := wrapped["relative"].(string); ok {
			rel, err := ParseRelativeExpr(raw)
			if err != nil {
				return fmt.Errorf("invalid relative expression in rule for field %q: %w", r.Field, err)
			}

			r.Value = rel
		}
	}

	return nil
}

// Validate checks the expression against the declared field schema. Fields in
// the trigger namespace are exempt from type validation since their types are
// only known when a payload arrives.
func (r RuleExpression) Validate(schema FieldSchema) error {
	if r.Field == "" {
		return &RuleError{Field: r.Field, Operator: r.Operator, Err: ErrEmptyField}
	}

	if !ValidOperator(r.Operator) {
		return &RuleError{Field: r.Field, Operator: r.Operator, Err: ErrUnknownOperator}
	}

	if strings.HasPrefix(r.Field, TriggerFieldPrefix) {
		return r.validateValueShape()
	}

	fieldType, declared := schema[r.Field]
	if !declared {
		return &RuleError{Field: r.Field, Operator: r.Operator, Err: ErrUnknownField}
	}

	if !operatorsByType[fieldType][r.Operator] {
		return &RuleError{Field: r.Field, Operator: r.Operator, Err: ErrOperatorTypeMismatch}
	}

	// Shape runs first so operator-specific sentinels (ErrValueNotString,
	// ErrValueNotList) win over the generic type mismatch.
	if err := r.validateValueShape(); err != nil {
		return err
	}

	return r.validateValueType(fieldType)
}

// validateValueShape checks operator-specific value constraints that hold for
// every field type.
func (r RuleExpression) validateValueShape() error {
	switch r.Operator {
	case OperatorIn:
		if _, ok := asList(r.Value); !ok {
			return &RuleError{Field: r.Field, Operator: r.Operator, Err: ErrValueNotList}
		}
	case OperatorStartsWith, OperatorEndsWith:
		if _, ok := r.Value.(string); !ok {
			return &RuleError{Field: r.Field, Operator: r.Operator, Err: ErrValueNotString}
		}
	}

	return nil
}

func (r RuleExpression) validateValueType(fieldType FieldType) error {
	// Membership operators are validated by shape, not element type.
	if r.Operator == OperatorIn || r.Operator == OperatorContains {
		return nil
	}

	mismatch := &RuleError{Field: r.Field, Operator: r.Operator, Err: ErrValueTypeMismatch}

	switch fieldType {
	case FieldTypeNumber:
		if !isNumeric(r.Value) {
			return mismatch
		}
	case FieldTypeBool:
		if _, ok := r.Value.(bool); !ok {
			return mismatch
		}
	case FieldTypeDatetime:
		if !isTemporal(r.Value) {
			return mismatch
		}
	case FieldTypeString:
		if _, ok := r.Value.(string); !ok {
			return mismatch
		}
	case FieldTypeList:
	}

	return nil
}

// RuleSet is an ordered list of rule expressions combined with AND semantics:
// every expression must hold for the set to match. An empty set matches
// unconditionally.
type RuleSet []RuleExpression

// Validate rejects rule sets whose operators are incompatible with the
// declared field types. Invalid sets never reach evaluation.
func (rs RuleSet) Validate(schema FieldSchema) error {
	for _, expr := range rs {
		if err := expr.Validate(schema); err != nil {
			return err
		}
	}

	return nil
}

func isNumeric(v any) bool {
	switch v.(type) {
	case int, int32, int64, float32, float64, json.Number:
		return true
	default:
		return false
	}
}

func isTemporal(v any) bool {
	switch v.(type) {
	case RelativeExpr:
		return true
	case string:
		// RFC 3339 literals are accepted; the resolver parses them at
		// evaluation time.
		return true
	default:
		return false
	}
}

func asList(v any) ([]any, bool) {
	switch list := v.(type) {
	case []any:
		return list, true
	case []string:
		out := make([]any, len(list))
		for i, s := range list {
			out[i] = s
		}

		return out, true
	default:
		return nil, false
	}
}
