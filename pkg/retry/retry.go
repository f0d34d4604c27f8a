// Package retry provides a bounded exponential-backoff loop for transient
// infrastructure failures: redis connects, artifact uploads, outbound
// webhook probes. Delays double from BaseDelay up to MaxDelay, with a
// jitter fraction so concurrent workers do not retry in lockstep.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// Config controls the retry loop.
type Config struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int

	// BaseDelay is the delay before the second attempt.
	BaseDelay time.Duration

	// MaxDelay caps any single delay.
	MaxDelay time.Duration

	// Jitter is the fraction of each delay randomized, in [0, 1].
	Jitter float64
}

// DefaultConfig returns conservative defaults suited to in-process
// infrastructure calls.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Jitter:      0.2,
	}
}

func (c Config) normalized() Config {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	if c.Jitter > 1 {
		c.Jitter = 1
	}
	return c
}

// permanentError marks an error the retry loop must not retry.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps an error so Do returns it immediately instead of
// retrying. Use it for failures more attempts cannot fix, such as
// authorization rejections.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs fn until it succeeds, the attempts are exhausted, the error is
// marked Permanent, or ctx is cancelled. The last error is returned
// wrapped with the attempt count.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	cfg = cfg.normalized()

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("%w (last error: %w)", err, lastErr)
			}
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		lastErr = err
		if attempt == cfg.MaxAttempts-1 {
			break
		}

		if err := sleep(ctx, cfg.delay(attempt)); err != nil {
			return fmt.Errorf("%w (last error: %w)", err, lastErr)
		}
	}

	return fmt.Errorf("after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// delay computes the backoff before attempt+2: BaseDelay doubled per
// attempt, capped at MaxDelay, then jittered.
func (c Config) delay(attempt int) time.Duration {
	// Shift safely: past 62 doubles everything exceeds MaxDelay anyway.
	if attempt > 62 {
		attempt = 62
	}
	d := c.BaseDelay << uint(attempt)
	if d <= 0 || d > c.MaxDelay {
		d = c.MaxDelay
	}
	if c.Jitter > 0 {
		// Spread the delay across [d*(1-jitter), d].
		span := float64(d) * c.Jitter
		d = time.Duration(float64(d) - span*rand.Float64())
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
