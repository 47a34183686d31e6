package provider

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"
)

// RetryConfig holds retry configuration for provider requests.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts per call.
	MaxAttempts int

	// BackoffBase is the initial backoff duration.
	BackoffBase time.Duration

	// BackoffMultiplier is applied to backoff on each retry.
	BackoffMultiplier float64

	// MaxBackoff caps the maximum backoff duration.
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns the standard schedule: three attempts with
// waits of 1s then 4s between them.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       time.Second,
		BackoffMultiplier: 4.0,
		MaxBackoff:        30 * time.Second,
	}
}

// Backoff computes the wait after the given attempt (1-based), with +/- 25%
// jitter to avoid synchronized retries.
func (rc RetryConfig) Backoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= rc.BackoffMultiplier
	}

	backoff := time.Duration(float64(rc.BackoffBase) * multiplier)
	if backoff > rc.MaxBackoff {
		backoff = rc.MaxBackoff
	}

	jitter := float64(backoff) * 0.25 * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}

// Do runs op up to MaxAttempts times, backing off between attempts. It
// stops early on non-retryable errors and on context cancellation.
func (rc RetryConfig) Do(ctx context.Context, logger *slog.Logger, op func(context.Context) error) error {
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	for attempt := 1; attempt <= rc.MaxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !Retryable(lastErr) {
			return lastErr
		}

		if attempt < rc.MaxAttempts {
			backoff := rc.Backoff(attempt)
			logger.Debug("Provider call failed, retrying",
				"attempt", attempt,
				"max_attempts", rc.MaxAttempts,
				"backoff", backoff,
				"error", lastErr)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return lastErr
}
