package domainstore

import (
	"context"
	"log/slog"
	"time"
)

const (
	DefaultAttempts = 3
	DefaultBackoff  = 200 * time.Millisecond
)

// RetryPolicy bounds retries of transient store errors. The backoff doubles
// after every failed attempt.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
	Logger   *slog.Logger
}

// Retry calls fn until it succeeds, fails with a non-transient error, runs
// out of attempts, or ctx ends.
func Retry[T any](ctx context.Context, p RetryPolicy, fn func(context.Context) (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := p.Backoff
	for attempt := 1; ; attempt++ {
		v, err := fn(ctx)
		if err == nil || !IsTransient(err) || attempt >= attempts {
			return v, err
		}
		if p.Logger != nil {
			p.Logger.Debug("store lookup retry", "attempt", attempt, "backoff", backoff, "err", err)
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			var zero T
			return zero, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
}
