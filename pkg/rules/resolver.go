package rules

import (
	"fmt"
	"time"

	"github.com/leadwell/drip/pkg/models"
)

// Resolver turns symbolic rule values into concrete comparison values.
// Relative time expressions are resolved against the evaluation timestamp on
// every call and never cached, since their concrete value moves with the
// clock.
type Resolver struct{}

func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve returns the concrete value for a rule's expected side at the given
// evaluation time.
func (r *Resolver) Resolve(value any, now time.Time) (any, error) {
	switch v := value.(type) {
	case models.RelativeExpr:
		return v.At(now), nil
	case []any:
		resolved := make([]any, len(v))
		for i, item := range v {
			out, err := r.Resolve(item, now)
			if err != nil {
				return nil, fmt.Errorf("resolving list element %d: %w", i, err)
			}

			resolved[i] = out
		}

		return resolved, nil
	default:
		return value, nil
	}
}
