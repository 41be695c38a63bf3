package rules

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/leadwell/drip/pkg/models"
)

// EvalError marks a rule that could not be evaluated, as opposed to one that
// evaluated to false. Gating callers fail closed on it but log it distinctly
// so operators can tell "didn't qualify" from "couldn't be evaluated".
type EvalError struct {
	Field string
	Err   error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("evaluating rule on field %q: %v", e.Field, e.Err)
}

func (e *EvalError) Unwrap() error {
	return e.Err
}

// Evaluator applies a rule set to an entity snapshot. Evaluation is pure:
// given the same snapshot and the same evaluation timestamp it always returns
// the same result, which keeps retries idempotent.
type Evaluator struct {
	resolver *Resolver
	logger   *slog.Logger
}

func NewEvaluator(logger *slog.Logger) *Evaluator {
	return &Evaluator{
		resolver: NewResolver(),
		logger:   logger.With("module", "rule_evaluator"),
	}
}

// Evaluate reports whether every expression in the rule set holds against the
// snapshot (AND semantics, short-circuiting on the first failing rule). A
// missing or nil field never satisfies a rule. A returned error is an
// EvalError; the boolean is false in that case.
func (e *Evaluator) Evaluate(snapshot map[string]any, rules models.RuleSet, now time.Time) (bool, error) {
	for _, expr := range rules {
		matched, err := e.evaluateExpr(snapshot, expr, now)
		if err != nil {
			e.logger.Debug("rule could not be evaluated", "field", expr.Field, "operator", expr.Operator, "error", err)

			return false, &EvalError{Field: expr.Field, Err: err}
		}

		if !matched {
			return false, nil
		}
	}

	return true, nil
}

func (e *Evaluator) evaluateExpr(snapshot map[string]any, expr models.RuleExpression, now time.Time) (bool, error) {
	actual, present := snapshot[expr.Field]
	if !present || actual == nil {
		return false, nil
	}

	expected, err := e.resolver.Resolve(expr.Value, now)
	if err != nil {
		return false, err
	}

	switch expr.Operator {
	case models.OperatorEq:
		return valuesEqual(actual, expected), nil
	case models.OperatorNotEq:
		return !valuesEqual(actual, expected), nil
	case models.OperatorGt, models.OperatorLt, models.OperatorGte, models.OperatorLte:
		return evaluateOrdering(expr.Operator, actual, expected), nil
	case models.OperatorIn:
		return evaluateIn(actual, expected), nil
	case models.OperatorContains:
		return evaluateContains(actual, expected), nil
	case models.OperatorStartsWith:
		s, ok := actual.(string)
		prefix, pok := expected.(string)

		return ok && pok && strings.HasPrefix(s, prefix), nil
	case models.OperatorEndsWith:
		s, ok := actual.(string)
		suffix, sok := expected.(string)

		return ok && sok && strings.HasSuffix(s, suffix), nil
	default:
		return false, fmt.Errorf("%w: %q", models.ErrUnknownOperator, expr.Operator)
	}
}

// evaluateOrdering compares under gt/lt/gte/lte. Values that cannot be
// compared (type drift between snapshot and rule) evaluate to false rather
// than raising.
func evaluateOrdering(op models.Operator, actual, expected any) bool {
	cmp, ok := compareValues(actual, expected)
	if !ok {
		return false
	}

	switch op {
	case models.OperatorGt:
		return cmp > 0
	case models.OperatorLt:
		return cmp < 0
	case models.OperatorGte:
		return cmp >= 0
	case models.OperatorLte:
		return cmp <= 0
	default:
		return false
	}
}

func evaluateIn(actual, expected any) bool {
	list, ok := expected.([]any)
	if !ok {
		return false
	}

	for _, candidate := range list {
		if valuesEqual(actual, candidate) {
			return true
		}
	}

	return false
}

// evaluateContains checks list membership on collection-valued fields and
// case-insensitive substring match on string-valued fields.
func evaluateContains(actual, expected any) bool {
	switch v := actual.(type) {
	case string:
		needle, ok := expected.(string)

		return ok && strings.Contains(strings.ToLower(v), strings.ToLower(needle))
	case []any:
		for _, item := range v {
			if valuesEqual(item, expected) {
				return true
			}
		}

		return false
	case []string:
		for _, item := range v {
			if valuesEqual(item, expected) {
				return true
			}
		}

		return false
	default:
		return false
	}
}

func valuesEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}

		return false
	}

	if at, aok := toTime(a); aok {
		if bt, bok := toTime(b); bok {
			return at.Equal(bt)
		}
	}

	if as, aok := a.(string); aok {
		if bs, bok := b.(string); bok {
			return as == bs
		}

		return false
	}

	if ab, aok := a.(bool); aok {
		if bb, bok := b.(bool); bok {
			return ab == bb
		}

		return false
	}

	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// compareValues returns -1/0/1 for ordered comparison, or ok=false when the
// two values are not comparable.
func compareValues(a, b any) (int, bool) {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		if !bok {
			return 0, false
		}

		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}

	if at, aok := toTime(a); aok {
		bt, bok := toTime(b)
		if !bok {
			return 0, false
		}

		switch {
		case at.Before(bt):
			return -1, true
		case at.After(bt):
			return 1, true
		default:
			return 0, true
		}
	}

	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()

		return f, err == nil
	default:
		return 0, false
	}
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)

		return parsed, err == nil
	default:
		return time.Time{}, false
	}
}
