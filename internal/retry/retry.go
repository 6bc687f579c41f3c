// Package retry implements the bounded exponential-backoff policy used
// by the bundle assembler's fetches (pkg/bundle): a small, fixed number
// of attempts, with retry gated on a
// classifier rather than applied blindly to every error.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Classifier decides whether an error is worth retrying. Returning false
// stops the loop immediately and surfaces err to the caller.
type Classifier func(err error) bool

// Policy bounds a retry loop: at most MaxAttempts total tries (the first
// try plus MaxAttempts-1 retries), starting at BaseDelay and doubling up
// to MaxDelay between attempts.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Default is the policy every assembler fetch runs under: up to 2
// retries (3 attempts total), waiting 500ms and then 1s (MaxDelay caps
// any wait at 2s).
func Default() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 2 * time.Second}
}

// Do runs fn under the policy, retrying only while retryable(err) is true.
// It returns the last error once attempts are exhausted or the context is
// canceled.
func Do(ctx context.Context, p Policy, retryable Classifier, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0

	var lastErr error
	attempt := 0
	for {
		attempt++
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt >= p.MaxAttempts || !retryable(lastErr) {
			return lastErr
		}

		delay := b.NextBackOff()
		if delay == backoff.Stop {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
