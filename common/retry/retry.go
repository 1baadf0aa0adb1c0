// Package retry provides bounded retry with linear backoff for transient
// errors at the data-access boundary.
//
// Usage:
//
//	err := retry.Do(ctx, retry.Config{MaxAttempts: 3, Delay: time.Second}, func() error {
//	    return store.Query()
//	})
//
// Callers classify errors as transient via the ShouldRetry predicate;
// permanent errors (e.g. a malformed query) propagate immediately without
// another attempt.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Config controls the retry behaviour.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Zero or negative values are treated as 1 (no retries).
	MaxAttempts int
	// Delay is the base wait between attempts. The wait grows linearly:
	// Delay after the first failure, 2×Delay after the second, and so on.
	Delay time.Duration
	// ShouldRetry is an optional predicate classifying errors as transient.
	// When nil, every non-nil error is retried.
	ShouldRetry func(err error) bool
}

// DefaultConfig matches the data-layer policy: three attempts with a one
// second base delay.
var DefaultConfig = Config{
	MaxAttempts: 3,
	Delay:       time.Second,
}

// Do calls fn up to cfg.MaxAttempts times, waiting Delay×attempt between
// attempts. It stops early when ctx is cancelled, fn returns nil, or
// ShouldRetry reports the error as permanent. The error from the last
// attempt is returned.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultConfig.Delay
	}
	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = func(err error) bool { return true }
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(lastErr, err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if !shouldRetry(lastErr) {
			return lastErr
		}

		if attempt < cfg.MaxAttempts {
			delay := cfg.Delay * time.Duration(attempt)
			slog.Debug("retry: attempt failed, retrying",
				"attempt", attempt, "max", cfg.MaxAttempts,
				"err", lastErr, "delay", delay)

			select {
			case <-ctx.Done():
				return errors.Join(lastErr, ctx.Err())
			case <-time.After(delay):
			}
		}
	}

	return lastErr
}
