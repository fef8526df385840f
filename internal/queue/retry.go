package queue

import (
	"math/rand/v2"
	"time"
)

// RetryStrategy bounds delivery attempts and optionally spaces retries out
// with a jittered schedule.
type RetryStrategy struct {
	MaxAttempts int
	Schedule    []time.Duration
}

// NewRetryStrategy creates a RetryStrategy with the given attempt budget and
// backoff schedule. A nil schedule disables time-based backoff.
func NewRetryStrategy(maxAttempts int, schedule []time.Duration) *RetryStrategy {
	return &RetryStrategy{
		MaxAttempts: maxAttempts,
		Schedule:    schedule,
	}
}

// ShouldRetry returns true if a message that has failed attempts times has
// not exhausted its budget.
func (r *RetryStrategy) ShouldRetry(attempts int) bool {
	return attempts < r.MaxAttempts
}

// NextBackoff returns the delay before the given retry (1-based failed
// attempt count) with jitter applied: base * (0.5 + rand * 0.5). It returns
// zero when no schedule is configured.
func (r *RetryStrategy) NextBackoff(attempts int) time.Duration {
	if len(r.Schedule) == 0 {
		return 0
	}

	idx := attempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(r.Schedule) {
		idx = len(r.Schedule) - 1
	}

	base := r.Schedule[idx]
	jitter := 0.5 + rand.Float64()*0.5
	return time.Duration(float64(base) * jitter)
}
