package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leadwell/drip/pkg/timer"
)

// NewTimerService returns the redis-backed durable timer when an address is
// configured, and the in-process timer otherwise. Production workers need the
// durable one: step delays span days and must survive restarts.
func NewTimerService(ctx context.Context, redisAddr, redisPassword string, redisDB int, logger *slog.Logger) timer.TimerService {
	if redisAddr == "" {
		logger.WarnContext(ctx, "No redis address configured, timer wakes will not survive restarts")

		return timer.NewMemoryTimerService(logger)
	}

	service, err := timer.NewRedisTimerService(ctx, redisAddr, redisPassword, redisDB, logger)
	if err != nil {
		panic(fmt.Errorf("failed to create redis timer service: %w", err))
	}

	return service
}
