package workflow

import (
	"math"
	"math/rand"
	"time"
)

// BackoffPolicy computes the wait before re-dispatching a failed step.
type BackoffPolicy struct {
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration

	// Multiplier is applied after each retry. 2.0 doubles the delay each time.
	Multiplier float64

	// Jitter is a random factor (0-1) applied to the delay.
	Jitter float64
}

// DefaultBackoff returns the policy used when the worker config does not
// override it: 30 second initial delay, 1 hour cap, 2x multiplier, 10% jitter.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		InitialDelay: 30 * time.Second,
		MaxDelay:     time.Hour,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// NextDelay calculates the delay before the given retry attempt.
// Attempt is 1-indexed: attempt 1 is the first retry after the initial try.
func (p BackoffPolicy) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	multiplier := math.Pow(p.Multiplier, float64(attempt-1))
	delay := time.Duration(float64(p.InitialDelay) * multiplier)

	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	if p.Jitter > 0 {
		jitterFactor := 1 - p.Jitter + 2*p.Jitter*rand.Float64()
		delay = time.Duration(float64(delay) * jitterFactor)
	}

	return delay
}
