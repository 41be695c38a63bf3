// Package updatescore provides the action that adjusts an entity's score.
package updatescore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leadwell/drip/pkg/protocol"
)

// ScoreStore mutates entity scores.
type ScoreStore interface {
	// AdjustScore applies a delta and returns the resulting score.
	AdjustScore(ctx context.Context, entityID string, delta float64) (float64, error)
}

var ErrDeltaRequired = errors.New("update_score requires a numeric 'delta' parameter")

type Action struct {
	delta float64
	store ScoreStore
}

func NewAction(config map[string]any, store ScoreStore) (*Action, error) {
	delta, ok := config["delta"].(float64)
	if !ok {
		return nil, ErrDeltaRequired
	}

	return &Action{delta: delta, store: store}, nil
}

func (a *Action) Execute(ctx context.Context, req protocol.ActionRequest, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("module", "update_score_action", "delta", a.delta)

	score, err := a.store.AdjustScore(ctx, req.EntityID, a.delta)
	if err != nil {
		return nil, protocol.Retriable(fmt.Errorf("failed to adjust score: %w", err))
	}

	logger.InfoContext(ctx, "Score adjusted", "score", score)

	return map[string]any{
		"delta": a.delta,
		"score": score,
	}, nil
}
