package utils

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// NewExponentialBackoff creates the policy used by Retry around
// long-running connect loops such as the telemetry sink.
func NewExponentialBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 5 * time.Minute
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.1
	return b
}

// Retry runs op under the given backoff policy until it succeeds, the
// policy gives up, or ctx ends. Each failed attempt is logged with the
// wait before the next one.
func Retry(ctx context.Context, b backoff.BackOff, name string, op func() error) error {
	return backoff.RetryNotify(op, backoff.WithContext(b, ctx),
		func(err error, next time.Duration) {
			if Logger != nil {
				Logger.Warnw("Operation failed, retrying",
					"op", name, "error", err, "next_attempt_in", next.String())
			}
		})
}

// FailoverWait returns the sleep before retry attempt n (0-based) of a
// failed RPC operation: 1s, 2s, 4s, capped at 5s.
func FailoverWait(attempt int) time.Duration {
	wait := time.Second << uint(attempt)
	if wait > 5*time.Second {
		wait = 5 * time.Second
	}
	return wait
}

// Sleep blocks for d or until ctx is cancelled, returning ctx.Err() in the
// latter case.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
