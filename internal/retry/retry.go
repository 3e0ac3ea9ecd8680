package retry

import (
	"context"
	"math"
	"time"
)

// Policy configures Do's backoff behaviour for a single call site.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// OnRetry is invoked after a failed attempt, before the backoff sleep.
	// The attempt number is 1-based.
	OnRetry func(err error, attempt int)

	// Retryable decides whether an error is worth another attempt.
	// When nil every error is retried.
	Retryable func(err error) bool
}

// DefaultPolicy returns the policy the forwarder applies to GET requests.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
}

// Do runs fn up to p.MaxAttempts times, sleeping an exponentially growing
// delay between attempts. The last error is returned unchanged so callers
// can match on sentinel errors from the wrapped call.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}

		if attempt == p.MaxAttempts {
			break
		}

		if p.OnRetry != nil {
			p.OnRetry(lastErr, attempt)
		}

		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(p.backoff(attempt)):
		}
	}

	return lastErr
}

// backoff computes min(MaxDelay, InitialDelay * Multiplier^(attempt-1)).
func (p Policy) backoff(attempt int) time.Duration {
	multiplier := p.Multiplier
	if multiplier <= 0 {
		multiplier = 1
	}

	delay := float64(p.InitialDelay) * math.Pow(multiplier, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	return time.Duration(delay)
}
