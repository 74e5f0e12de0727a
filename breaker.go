package tracksync

import (
	"sync"
	"time"
)

const (
	// BreakerThreshold is how many consecutive failed attempts trip the
	// breaker. Attempts, not mutations: a chunked push of N mutations is
	// ceil(N/chunkSize) attempts.
	BreakerThreshold = 3

	// BreakerBaseBackoff is the open window after the first trip; it doubles
	// on every subsequent trip.
	BreakerBaseBackoff = 30 * time.Second

	// BreakerMaxBackoff caps the window regardless of multiplier growth.
	BreakerMaxBackoff = 30 * time.Minute
)

// CircuitBreaker suspends sync attempts after repeated rate-limit/failure
// signals. The server sends 429 with no guaranteed Retry-After, so the
// backoff schedule is entirely client-side.
//
// closed -> open after BreakerThreshold consecutive failed attempts;
// open -> half-open when the backoff window elapses; half-open -> closed on
// the first success, half-open -> open (window doubled) on the next failure.
type CircuitBreaker struct {
	mu                  sync.Mutex
	now                 func() time.Time
	consecutiveFailures int
	trippedUntil        time.Time
	backoffMultiplier   float64
}

func NewCircuitBreaker() *CircuitBreaker {
	return &CircuitBreaker{
		now:               time.Now,
		backoffMultiplier: 1.0,
	}
}

// RecordFailure counts one failed attempt. Crossing the threshold opens the
// breaker; further failures while the window is still open do not extend it.
// A failure after the window has elapsed (half-open) re-opens it with the
// multiplier doubled.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	if b.consecutiveFailures < BreakerThreshold {
		return
	}
	if b.now().Before(b.trippedUntil) {
		// Still open; re-tripping here would extend the window prematurely.
		return
	}

	window := time.Duration(float64(BreakerBaseBackoff) * b.backoffMultiplier)
	if window > BreakerMaxBackoff {
		window = BreakerMaxBackoff
	}
	b.trippedUntil = b.now().Add(window)
	b.backoffMultiplier *= 2
}

// RecordSuccess closes the breaker and zeroes the failure count. The backoff
// multiplier is left alone: it resets only on a fully successful cycle, via
// Reset.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	b.trippedUntil = time.Time{}
}

// Reset is RecordSuccess plus a multiplier reset to 1x. Called when push and
// pull both succeed in one cycle.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	b.trippedUntil = time.Time{}
	b.backoffMultiplier = 1.0
}

// IsTripped reports whether sync attempts are currently suspended.
func (b *CircuitBreaker) IsTripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now().Before(b.trippedUntil)
}

// BackoffRemaining returns how long until the breaker half-opens, zero when
// it is not tripped.
func (b *CircuitBreaker) BackoffRemaining() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	remaining := b.trippedUntil.Sub(b.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ConsecutiveFailures exposes the current failure count for status reporting.
func (b *CircuitBreaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}
