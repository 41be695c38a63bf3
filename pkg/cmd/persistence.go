package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leadwell/drip/pkg/persistence"
	"github.com/leadwell/drip/pkg/persistence/memory"
	"github.com/leadwell/drip/pkg/persistence/postgres"
)

// NewPersistence picks the store from the database URL scheme. Memory is for
// local runs only; anything durable goes through postgres.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch parseScheme(databaseURL) {
	case "postgres", "postgresql":
		store, err := postgres.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to create postgres persistence: %w", err))
		}

		return store
	case "memory", "":
		return memory.NewPersistence()
	default:
		panic("Unsupported database URL: " + databaseURL)
	}
}

func parseScheme(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		// A bare word like "memory" is its own scheme.
		return databaseURL
	}

	return scheme
}
