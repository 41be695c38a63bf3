package timer

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const wakeSetKey = "drip:timer:wakes"

// RedisTimerService stores wakes in a Redis sorted set scored by wake time in
// unix milliseconds. Multiple workers may poll the same set; ZREM is the claim,
// so each due wake fires on exactly one worker.
type RedisTimerService struct {
	client   redis.UniversalClient
	interval time.Duration
	logger   *slog.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewRedisTimerService(ctx context.Context, addr, password string, db int, logger *slog.Logger) (*RedisTimerService, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := client.Ping(pingCtx).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisTimerService{
		client:   client,
		interval: 500 * time.Millisecond,
		logger:   logger.With("module", "timer"),
		stopCh:   make(chan struct{}),
	}, nil
}

func (s *RedisTimerService) ScheduleWake(ctx context.Context, executionID string, at time.Time) error {
	err := s.client.ZAdd(ctx, wakeSetKey, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: executionID,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to schedule wake for %s: %w", executionID, err)
	}

	return nil
}

func (s *RedisTimerService) CancelWake(ctx context.Context, executionID string) error {
	err := s.client.ZRem(ctx, wakeSetKey, executionID).Err()
	if err != nil {
		return fmt.Errorf("failed to cancel wake for %s: %w", executionID, err)
	}

	return nil
}

func (s *RedisTimerService) Start(ctx context.Context, waker Waker) error {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := s.deliverDue(ctx, waker)
				if err != nil {
					s.logger.ErrorContext(ctx, "Timer poll failed", "error", err)
				}
			}
		}
	}()

	return nil
}

func (s *RedisTimerService) deliverDue(ctx context.Context, waker Waker) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)

	due, err := s.client.ZRangeByScore(ctx, wakeSetKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: 100,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to read due wakes: %w", err)
	}

	for _, executionID := range due {
		removed, err := s.client.ZRem(ctx, wakeSetKey, executionID).Result()
		if err != nil {
			return fmt.Errorf("failed to claim wake for %s: %w", executionID, err)
		}

		// Another worker claimed it first.
		if removed == 0 {
			continue
		}

		err = waker.OnWake(ctx, executionID)
		if err != nil {
			s.logger.ErrorContext(ctx, "Wake delivery failed", "execution_id", executionID, "error", err)
		}
	}

	return nil
}

func (s *RedisTimerService) Stop(ctx context.Context) error {
	close(s.stopCh)
	s.wg.Wait()

	err := s.client.Close()
	if err != nil {
		s.logger.ErrorContext(ctx, "Error closing Redis client", "error", err)
	}

	return nil
}
