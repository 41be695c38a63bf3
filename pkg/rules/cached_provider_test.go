package rules_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadwell/drip/pkg/cache"
	"github.com/leadwell/drip/pkg/models"
	"github.com/leadwell/drip/pkg/rules"
)

type countingProvider struct {
	calls    int
	snapshot map[string]any
	err      error
}

func (p *countingProvider) Snapshot(_ context.Context, _ string) (map[string]any, error) {
	p.calls++

	if p.err != nil {
		return nil, p.err
	}

	return p.snapshot, nil
}

func (p *countingProvider) Fields() models.FieldSchema {
	return models.FieldSchema{"score": models.FieldTypeNumber}
}

func newCachedProvider(t *testing.T) (*rules.CachedSnapshotProvider, *countingProvider, cache.Cache) {
	t.Helper()

	upstream := &countingProvider{snapshot: map[string]any{"score": float64(80)}}
	store := cache.NewMemoryCache()

	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	return rules.NewCachedSnapshotProvider(upstream, store, time.Minute, logger), upstream, store
}

func TestCachedSnapshotServesRepeatReadsFromCache(t *testing.T) {
	provider, upstream, _ := newCachedProvider(t)
	ctx := context.Background()

	first, err := provider.Snapshot(ctx, "lead-1")
	require.NoError(t, err)
	assert.Equal(t, float64(80), first["score"])

	second, err := provider.Snapshot(ctx, "lead-1")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.Equal(t, 1, upstream.calls)
}

func TestCachedSnapshotInvalidateReadsThrough(t *testing.T) {
	provider, upstream, _ := newCachedProvider(t)
	ctx := context.Background()

	_, err := provider.Snapshot(ctx, "lead-1")
	require.NoError(t, err)

	upstream.snapshot = map[string]any{"score": float64(95)}
	require.NoError(t, provider.Invalidate(ctx, "lead-1"))

	fresh, err := provider.Snapshot(ctx, "lead-1")
	require.NoError(t, err)
	assert.Equal(t, float64(95), fresh["score"])
	assert.Equal(t, 2, upstream.calls)
}

func TestCachedSnapshotUpstreamErrorPropagates(t *testing.T) {
	provider, upstream, _ := newCachedProvider(t)
	ctx := context.Background()

	upstream.err = assert.AnError

	_, err := provider.Snapshot(ctx, "lead-1")
	assert.Error(t, err)
}

func TestCachedSnapshotFieldsDelegates(t *testing.T) {
	provider, _, _ := newCachedProvider(t)

	assert.Equal(t, models.FieldTypeNumber, provider.Fields()["score"])
}
