package llmclient

import (
	"sync"
	"time"
)

// breaker is a per-instance circuit breaker. It counts consecutive
// failures regardless of kind; at the threshold it opens. While open,
// calls fail fast with KindCircuitOpen. After the reset timeout has
// elapsed since the last failure, the next call is let through as a
// probe: success fully closes the breaker and zeroes the counter, a
// failure during the probe re-opens the timer.
type breaker struct {
	mu sync.Mutex

	threshold int
	reset     time.Duration
	now       func() time.Time

	failures    int
	open        bool
	lastFailure time.Time
}

func newBreaker(threshold int, reset time.Duration) *breaker {
	return &breaker{threshold: threshold, reset: reset, now: time.Now}
}

// Allow reports whether a call may proceed. It does not itself count as a
// failure or success — the caller must report the outcome via
// RecordSuccess/RecordFailure.
func (b *breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return true
	}
	if b.now().Sub(b.lastFailure) > b.reset {
		return true // half-open probe
	}
	return false
}

func (b *breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.open = false
}

func (b *breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = b.now()
	if b.failures >= b.threshold {
		b.open = true
	}
}

// IsOpen reports the breaker's current state for health checks, without
// the half-open probe semantics of Allow.
func (b *breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}
