package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leadwell/drip/pkg/cache"
	"github.com/leadwell/drip/pkg/models"
)

// CachedSnapshotProvider wraps another provider with a short-lived snapshot
// cache. Trigger bursts (one score update matching many workflows) then cost
// one upstream read instead of one per candidate workflow. The TTL must stay
// well below workflow delays so skip guards still see fresh state.
type CachedSnapshotProvider struct {
	upstream SnapshotProvider
	cache    cache.Cache
	ttl      time.Duration
	logger   *slog.Logger
}

func NewCachedSnapshotProvider(upstream SnapshotProvider, c cache.Cache, ttl time.Duration, logger *slog.Logger) *CachedSnapshotProvider {
	return &CachedSnapshotProvider{
		upstream: upstream,
		cache:    c,
		ttl:      ttl,
		logger:   logger.With("module", "snapshot_cache"),
	}
}

func (p *CachedSnapshotProvider) Snapshot(ctx context.Context, entityID string) (map[string]any, error) {
	key := "snapshot:" + entityID

	data, err := p.cache.Get(ctx, key)
	if err == nil {
		var snapshot map[string]any

		if err := json.Unmarshal(data, &snapshot); err == nil {
			return snapshot, nil
		}

		p.logger.WarnContext(ctx, "Discarding undecodable cached snapshot", "entity_id", entityID)
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		// Cache trouble must not block evaluation.
		p.logger.WarnContext(ctx, "Snapshot cache read failed", "entity_id", entityID, "error", err)
	}

	snapshot, err := p.upstream.Snapshot(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("snapshot for entity %s: %w", entityID, err)
	}

	encoded, err := json.Marshal(snapshot)
	if err != nil {
		p.logger.WarnContext(ctx, "Failed to encode snapshot for caching", "entity_id", entityID, "error", err)

		return snapshot, nil
	}

	if err := p.cache.Set(ctx, key, encoded, p.ttl); err != nil {
		p.logger.WarnContext(ctx, "Snapshot cache write failed", "entity_id", entityID, "error", err)
	}

	return snapshot, nil
}

func (p *CachedSnapshotProvider) Fields() models.FieldSchema {
	return p.upstream.Fields()
}

// Invalidate drops the cached snapshot after a known entity mutation, so the
// next evaluation reads through.
func (p *CachedSnapshotProvider) Invalidate(ctx context.Context, entityID string) error {
	return p.cache.Delete(ctx, "snapshot:"+entityID)
}
