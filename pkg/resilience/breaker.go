package resilience

import (
	"context"
	"sync"
	"time"
)

// CircuitState is the observable state of a CircuitBreaker.
type CircuitState string

const (
	StateClosed   CircuitState = "closed"
	StateOpen     CircuitState = "open"
	StateHalfOpen CircuitState = "half_open"
)

// CircuitBreaker stops calling a persistently failing dependency until
// a cooldown elapses. One instance is owned per service and survives
// refresh cycles. The Open -> HalfOpen transition is evaluated lazily
// from lastFailureAt; there is no background timer.
type CircuitBreaker struct {
	FailureThreshold int
	SuccessThreshold int
	OpenTimeout      time.Duration

	// TripOn reports whether an error should count against the
	// breaker. When nil every error counts. Deterministic failures
	// (missing credentials, hard 4xx rejections) are typically
	// excluded: they say nothing about dependency health.
	TripOn func(error) bool

	mu            sync.Mutex
	open          bool
	failureCount  int
	successCount  int
	lastFailureAt time.Time
	now           func() time.Time
}

// NewCircuitBreaker returns a breaker with the given thresholds.
func NewCircuitBreaker(failureThreshold, successThreshold int, openTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		FailureThreshold: failureThreshold,
		SuccessThreshold: successThreshold,
		OpenTimeout:      openTimeout,
		now:              time.Now,
	}
}

// State reports the current state, promoting Open to HalfOpen once
// OpenTimeout has elapsed since the last failure.
func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *CircuitBreaker) stateLocked() CircuitState {
	if !b.open {
		return StateClosed
	}
	if b.now().Sub(b.lastFailureAt) > b.OpenTimeout {
		return StateHalfOpen
	}
	return StateOpen
}

// Execute runs fn under the breaker. While Open it rejects with a
// circuit_open Failure without invoking fn.
func (b *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	b.mu.Lock()
	state := b.stateLocked()
	b.mu.Unlock()

	if state == StateOpen {
		return &Failure{Class: ClassCircuitOpen}
	}

	err := fn(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		if b.TripOn != nil && !b.TripOn(err) {
			// Neutral failure: passes through without moving the
			// state machine either way.
			return err
		}
		b.failureCount++
		b.successCount = 0
		b.lastFailureAt = b.now()
		// A failure during HalfOpen reopens immediately; in Closed the
		// threshold has to be met first.
		if state == StateHalfOpen || b.failureCount >= b.FailureThreshold {
			b.open = true
		}
		return err
	}

	if state == StateHalfOpen {
		b.successCount++
		if b.successCount >= b.SuccessThreshold {
			b.open = false
			b.failureCount = 0
			b.successCount = 0
		}
	} else {
		b.failureCount = 0
	}
	return nil
}
