// Package retry runs fallible storage-engine operations with exponential
// backoff and jitter.
//
// The storage engines this project targets fail transiently all the time:
// concurrent query limits, vague internal engine errors, resource
// exhaustion at scale. Those are worth retrying. Everything else (syntax
// errors, missing tables) is deterministic and is surfaced immediately.
package retry

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// maxDelay caps the backoff wait between attempts.
const maxDelay = 15 * time.Minute

// Classifier reports whether an error is transient and worth retrying.
type Classifier func(error) bool

// Options configures a retry loop.
type Options struct {
	// MaxAttempts is the total number of tries, including the first one.
	// Values below 1 are treated as 1.
	MaxAttempts int

	// BaseDelay is the wait before the first retry. It doubles after each
	// failed attempt, capped at 15 minutes, then multiplied by a random
	// factor in [0.5, 1.0) to avoid retry storms across concurrent callers.
	// Unset (or negative) means one second.
	BaseDelay time.Duration

	// IsTransient classifies errors. A nil classifier retries nothing.
	IsTransient Classifier

	// Logger receives one record per retry. Defaults to slog.Default().
	Logger *slog.Logger
}

// Do invokes op, retrying transient failures per opts. Fatal errors
// propagate immediately; after the final attempt the last error is
// returned unchanged. The backoff sleep honors ctx cancellation.
func Do(ctx context.Context, opts Options, op func() error) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attempts := opts.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		err = op()
		if err == nil {
			return nil
		}
		if opts.IsTransient == nil || !opts.IsTransient(err) {
			return err
		}
		if i == attempts-1 {
			break
		}

		wait := Backoff(opts.BaseDelay, i)
		logger.Warn("transient failure, will retry", "error", err, "attempt", i+1, "wait", wait)
		if serr := sleep(ctx, wait); serr != nil {
			return serr
		}
	}
	return err
}

// Backoff computes the wait before retry i (0-indexed):
// min(15m, base*2^i) scaled by a uniform random factor in [0.5, 1.0).
// A non-positive base is treated as one second, not as the cap.
func Backoff(base time.Duration, i int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	d := base << uint(i)
	if d > maxDelay || d <= 0 {
		d = maxDelay
	}
	return time.Duration(float64(d) * (0.5 + 0.5*rand.Float64()))
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
