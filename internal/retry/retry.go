// Package retry provides the bounded retry policies used when waiting for
// the Zotero store to materialize records. Delays go through an injectable
// Sleeper so tests can use fake time instead of real sleeps.
package retry

import (
	"context"
	"time"
)

// Sleeper blocks for a duration or until the context is cancelled.
type Sleeper func(ctx context.Context, d time.Duration) error

// Policy bounds a polling loop: how many attempts, how long between them.
// Backoff, when set, overrides Delay for the wait after attempt i (0-based).
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	Backoff     func(attempt int) time.Duration
	Sleeper     Sleeper
}

// Wait returns the delay to apply after the given 0-based attempt.
func (p Policy) Wait(attempt int) time.Duration {
	if p.Backoff != nil {
		return p.Backoff(attempt)
	}
	return p.Delay
}

// Sleep blocks for d, honoring ctx cancellation. A nil Sleeper uses real time.
func (p Policy) Sleep(ctx context.Context, d time.Duration) error {
	s := p.Sleeper
	if s == nil {
		s = RealSleeper
	}
	return s(ctx, d)
}

// RealSleeper waits on the wall clock.
func RealSleeper(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NopSleeper returns immediately; used by tests to skip real delays.
func NopSleeper(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

// Linear returns a backoff function growing by step for each attempt:
// base, base+step, base+2*step, ...
func Linear(base, step time.Duration) func(attempt int) time.Duration {
	return func(attempt int) time.Duration {
		return base + time.Duration(attempt)*step
	}
}
