package timer

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MemoryTimerService keeps wakes in process memory. Wakes do not survive a
// restart, so it is only suitable for tests and local development.
type MemoryTimerService struct {
	mu       sync.Mutex
	wakes    map[string]time.Time
	interval time.Duration
	logger   *slog.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
	now      func() time.Time
}

func NewMemoryTimerService(logger *slog.Logger) *MemoryTimerService {
	return &MemoryTimerService{
		wakes:    make(map[string]time.Time),
		interval: 50 * time.Millisecond,
		logger:   logger.With("module", "timer"),
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
}

func (s *MemoryTimerService) ScheduleWake(_ context.Context, executionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.wakes[executionID] = at

	return nil
}

func (s *MemoryTimerService) CancelWake(_ context.Context, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.wakes, executionID)

	return nil
}

func (s *MemoryTimerService) Start(ctx context.Context, waker Waker) error {
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
				s.deliverDue(ctx, waker)
			}
		}
	}()

	return nil
}

func (s *MemoryTimerService) deliverDue(ctx context.Context, waker Waker) {
	now := s.now()

	s.mu.Lock()

	var due []string

	for executionID, at := range s.wakes {
		if !at.After(now) {
			due = append(due, executionID)
			delete(s.wakes, executionID)
		}
	}

	s.mu.Unlock()

	for _, executionID := range due {
		err := waker.OnWake(ctx, executionID)
		if err != nil {
			s.logger.ErrorContext(ctx, "Wake delivery failed", "execution_id", executionID, "error", err)
		}
	}
}

func (s *MemoryTimerService) Stop(_ context.Context) error {
	close(s.stopCh)
	s.wg.Wait()

	return nil
}
