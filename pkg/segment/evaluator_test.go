package segment

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadwell/drip/pkg/models"
	"github.com/leadwell/drip/pkg/persistence"
	"github.com/leadwell/drip/pkg/persistence/memory"
	"github.com/leadwell/drip/pkg/rules"
)

// fleetSnapshots serves per-entity snapshots and can fail selected entities.
type fleetSnapshots struct {
	entities map[string]map[string]any
	failing  map[string]bool
}

func (s *fleetSnapshots) Snapshot(_ context.Context, entityID string) (map[string]any, error) {
	if s.failing[entityID] {
		return nil, errors.New("snapshot unavailable")
	}

	snapshot, ok := s.entities[entityID]
	if !ok {
		return nil, errors.New("unknown entity")
	}

	return snapshot, nil
}

func (s *fleetSnapshots) Fields() models.FieldSchema {
	return models.FieldSchema{"score": models.FieldTypeNumber}
}

func (s *fleetSnapshots) EntityIDs(_ context.Context) ([]string, error) {
	ids := make([]string, 0, len(s.entities))
	for id := range s.entities {
		ids = append(ids, id)
	}

	return ids, nil
}

type segmentFixture struct {
	evaluator *Evaluator
	persist   persistence.Persistence
	snapshots *fleetSnapshots
}

func newSegmentFixture(t *testing.T) *segmentFixture {
	t.Helper()

	logger := slog.Default()
	persist := memory.NewPersistence()
	snapshots := &fleetSnapshots{
		entities: map[string]map[string]any{
			"lead-hot":  {"score": float64(90)},
			"lead-warm": {"score": float64(60)},
			"lead-cold": {"score": float64(10)},
		},
		failing: map[string]bool{},
	}

	eval := NewEvaluator(persist, rules.NewEvaluator(logger), snapshots, snapshots, nil, logger)

	t.Cleanup(func() { _ = persist.Close(context.Background()) })

	return &segmentFixture{evaluator: eval, persist: persist, snapshots: snapshots}
}

func hotLeadSegment(t *testing.T, f *segmentFixture) *models.SegmentDefinition {
	t.Helper()

	def := &models.SegmentDefinition{
		ID:        "seg-hot",
		Name:      "Hot leads",
		IsDynamic: true,
		Rules: models.RuleSet{
			{Field: "score", Operator: models.OperatorGte, Value: float64(75)},
		},
	}
	require.NoError(t, f.persist.Segments().Save(context.Background(), def))

	return def
}

func TestRecalculateAddsMatchingEntities(t *testing.T) {
	ctx := context.Background()
	f := newSegmentFixture(t)
	hotLeadSegment(t, f)

	result, err := f.evaluator.Recalculate(ctx, "seg-hot")
	require.NoError(t, err)

	assert.Equal(t, []string{"lead-hot"}, result.Added)
	assert.Empty(t, result.Removed)
	assert.Empty(t, result.Failed)

	members, err := f.persist.Memberships().Members(ctx, "seg-hot")
	require.NoError(t, err)
	assert.Equal(t, []string{"lead-hot"}, members)
}

func TestRecalculateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newSegmentFixture(t)
	hotLeadSegment(t, f)

	_, err := f.evaluator.Recalculate(ctx, "seg-hot")
	require.NoError(t, err)

	result, err := f.evaluator.Recalculate(ctx, "seg-hot")
	require.NoError(t, err)
	assert.Empty(t, result.Added)
	assert.Empty(t, result.Removed)
	assert.Empty(t, result.Failed)
}

func TestRecalculateRemovesUnmatchedAndKeepsHistory(t *testing.T) {
	ctx := context.Background()
	f := newSegmentFixture(t)
	hotLeadSegment(t, f)

	_, err := f.evaluator.Recalculate(ctx, "seg-hot")
	require.NoError(t, err)

	// Lead cooled off.
	f.snapshots.entities["lead-hot"]["score"] = float64(40)

	result, err := f.evaluator.Recalculate(ctx, "seg-hot")
	require.NoError(t, err)
	assert.Equal(t, []string{"lead-hot"}, result.Removed)

	members, err := f.persist.Memberships().Members(ctx, "seg-hot")
	require.NoError(t, err)
	assert.Empty(t, members)

	// The row is closed, not deleted.
	history, err := f.persist.Memberships().History(ctx, "seg-hot", "lead-hot")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.False(t, history[0].Open())
	assert.Equal(t, models.ReasonRuleMatch, history[0].Reason)
	assert.Equal(t, models.ReasonRuleUnmatch, history[0].LeftReason)
}

func TestRecalculateToleratesPerEntityFailures(t *testing.T) {
	ctx := context.Background()
	f := newSegmentFixture(t)
	hotLeadSegment(t, f)

	f.snapshots.entities["lead-warm"]["score"] = float64(80)
	f.snapshots.failing["lead-warm"] = true

	result, err := f.evaluator.Recalculate(ctx, "seg-hot")
	require.NoError(t, err)

	assert.Equal(t, []string{"lead-warm"}, result.Failed)
	assert.Contains(t, result.Added, "lead-hot")

	members, err := f.persist.Memberships().Members(ctx, "seg-hot")
	require.NoError(t, err)
	assert.NotContains(t, members, "lead-warm")
}

func TestRecalculateFailedEntityMembershipUntouched(t *testing.T) {
	ctx := context.Background()
	f := newSegmentFixture(t)
	hotLeadSegment(t, f)

	_, err := f.evaluator.Recalculate(ctx, "seg-hot")
	require.NoError(t, err)

	// Snapshot becomes unavailable: the existing membership stays.
	f.snapshots.failing["lead-hot"] = true

	result, err := f.evaluator.Recalculate(ctx, "seg-hot")
	require.NoError(t, err)
	assert.Equal(t, []string{"lead-hot"}, result.Failed)

	members, err := f.persist.Memberships().Members(ctx, "seg-hot")
	require.NoError(t, err)
	assert.Equal(t, []string{"lead-hot"}, members)
}

func TestRecalculateRejectsStaticSegment(t *testing.T) {
	ctx := context.Background()
	f := newSegmentFixture(t)

	def := &models.SegmentDefinition{
		ID:        "seg-manual",
		Name:      "Curated accounts",
		IsDynamic: false,
	}
	require.NoError(t, f.persist.Segments().Save(ctx, def))

	_, err := f.evaluator.Recalculate(ctx, "seg-manual")
	assert.ErrorIs(t, err, ErrNotDynamic)
}

func TestManualMembershipChanges(t *testing.T) {
	ctx := context.Background()
	f := newSegmentFixture(t)

	def := &models.SegmentDefinition{
		ID:        "seg-curated",
		Name:      "Curated accounts",
		IsDynamic: false,
	}
	require.NoError(t, f.persist.Segments().Save(ctx, def))

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	f.evaluator.now = func() time.Time { return now }

	require.NoError(t, f.evaluator.AddMember(ctx, "seg-curated", "lead-cold"))

	history, err := f.persist.Memberships().History(ctx, "seg-curated", "lead-cold")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.ReasonManual, history[0].Reason)
	assert.Equal(t, now, history[0].JoinedAt)

	require.NoError(t, f.evaluator.RemoveMember(ctx, "seg-curated", "lead-cold"))

	members, err := f.persist.Memberships().Members(ctx, "seg-curated")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestManualChangesRejectDynamicSegment(t *testing.T) {
	ctx := context.Background()
	f := newSegmentFixture(t)
	hotLeadSegment(t, f)

	err := f.evaluator.AddMember(ctx, "seg-hot", "lead-cold")
	require.ErrorIs(t, err, ErrDynamicSegment)

	err = f.evaluator.RemoveMember(ctx, "seg-hot", "lead-cold")
	require.ErrorIs(t, err, ErrDynamicSegment)

	members, err := f.persist.Memberships().Members(ctx, "seg-hot")
	require.NoError(t, err)
	assert.Empty(t, members)
}
