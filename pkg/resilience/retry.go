package resilience

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy retries a fallible operation with exponential backoff
// and jitter. Only failures whose class appears in Retryable consume
// an attempt; anything else short-circuits immediately.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Retryable   map[FailureClass]bool
}

// DefaultRetryPolicy returns the policy used by the service adapters.
// Base: 500ms, Max: 8s, Multiplier: 2.0, 3 attempts, transient-only.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
		Multiplier:  2.0,
		Retryable: map[FailureClass]bool{
			ClassUpstreamUnavailable: true,
			ClassNetwork:             true,
		},
	}
}

// Do invokes fn until it succeeds, a non-retryable failure occurs, or
// MaxAttempts is exhausted. The last failure is returned verbatim.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !p.Retryable[ClassOf(lastErr)] {
			return lastErr
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(p.delay(attempt)):
		}
	}
	return lastErr
}

// delay computes the backoff before the next attempt. attempt is
// 1-based: the wait after the first failure uses BaseDelay.
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
	}
	if max := float64(p.MaxDelay); p.MaxDelay > 0 && d > max {
		d = max
	}
	// Up to 30% additive jitter to avoid synchronized retries.
	d += d * rand.Float64() * 0.3
	return time.Duration(d)
}
