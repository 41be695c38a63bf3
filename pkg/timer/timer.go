// Package timer provides durable wake scheduling for waiting executions.
//
// The engine never sleeps in-process while an execution waits out a step delay
// or a retry backoff. It records the wake time here and the timer service
// calls back when the time arrives, surviving worker restarts in between.
package timer

import (
	"context"
	"time"
)

// Waker receives due wakes. OnWake is invoked at most once per scheduled wake
// per service instance; the engine revalidates execution state on wake, so a
// late or duplicate delivery is harmless.
type Waker interface {
	OnWake(ctx context.Context, executionID string) error
}

type TimerService interface {
	// ScheduleWake records that executionID must be woken at the given time.
	// Scheduling again for the same execution replaces the previous wake.
	ScheduleWake(ctx context.Context, executionID string, at time.Time) error

	// CancelWake removes a pending wake. Cancelling an unknown execution is a no-op.
	CancelWake(ctx context.Context, executionID string) error

	// Start begins delivering due wakes to the waker until Stop or context cancellation.
	Start(ctx context.Context, waker Waker) error

	Stop(ctx context.Context) error
}
