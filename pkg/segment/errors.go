package segment

import "errors"

var (
	// ErrNotDynamic is returned when recalculation is requested for a segment
	// whose membership is managed manually.
	ErrNotDynamic = errors.New("segment is not dynamic")

	// ErrDynamicSegment is returned when a manual membership change targets a
	// dynamic segment. Dynamic membership is derived; only recalculation
	// writes it.
	ErrDynamicSegment = errors.New("segment membership is rule-derived")
)
