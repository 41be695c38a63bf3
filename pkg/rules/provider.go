// Package rules implements pure rule-set evaluation over entity snapshots.
package rules

import (
	"context"

	"github.com/leadwell/drip/pkg/models"
)

// SnapshotProvider supplies the current field values of an entity for rule
// evaluation. Implementations may include computed fields (event counts, days
// since last activity) alongside stored attributes; the evaluator only ever
// sees the flattened map.
type SnapshotProvider interface {
	Snapshot(ctx context.Context, entityID string) (map[string]any, error)

	// Fields returns the declared schema used to validate rule sets at
	// definition time.
	Fields() models.FieldSchema
}

// WithTriggerPayload overlays a trigger payload onto an entity snapshot under
// the reserved trigger namespace, so entry rules can address payload fields
// as "trigger.<key>". The inputs are not mutated.
func WithTriggerPayload(snapshot, payload map[string]any) map[string]any {
	combined := make(map[string]any, len(snapshot)+len(payload))

	for k, v := range snapshot {
		combined[k] = v
	}

	for k, v := range payload {
		combined[models.TriggerFieldPrefix+k] = v
	}

	return combined
}
