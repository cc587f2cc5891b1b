package exchange

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryConfig configures retry behavior for venue operations
type RetryConfig struct {
	MaxRetries     int           // maximum number of retry attempts
	InitialBackoff time.Duration // first backoff duration
	MaxBackoff     time.Duration // backoff cap
	BackoffFactor  float64       // exponential multiplier
	JitterPct      float64       // symmetric jitter, 0.10 = ±10%
}

// DefaultRetryConfig returns default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     60 * time.Second,
		BackoffFactor:  2.0,
		JitterPct:      0.10,
	}
}

// jittered spreads a backoff symmetrically so that clients sharing a
// reconnect schedule do not stampede the venue.
func (c RetryConfig) jittered(d time.Duration) time.Duration {
	if c.JitterPct <= 0 {
		return d
	}
	span := float64(d) * c.JitterPct
	return time.Duration(float64(d) + (rand.Float64()*2-1)*span)
}

// RetryableOperation represents an operation that can be retried
type RetryableOperation func() error

// WithRetry executes an operation with exponential backoff retry.
// A RateLimitError waits its own retry-after hint instead of the
// backoff schedule and consumes a single extra attempt.
func WithRetry(ctx context.Context, config RetryConfig, operation RetryableOperation) error {
	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("operation cancelled: %w", ctx.Err())
		default:
		}

		err := operation()
		if err == nil {
			if attempt > 0 {
				log.Info().
					Int("attempt", attempt+1).
					Msg("operation succeeded after retry")
			}
			return nil
		}

		lastErr = err

		if !IsRetryable(err) {
			log.Debug().Err(err).Msg("error is not retryable, aborting")
			return err
		}

		if attempt == config.MaxRetries {
			break
		}

		wait := config.jittered(backoff)
		var rateErr *RateLimitError
		if errors.As(err, &rateErr) && rateErr.RetryAfter > 0 {
			wait = rateErr.RetryAfter
		}

		log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("max_attempts", config.MaxRetries+1).
			Dur("backoff", wait).
			Msg("operation failed, retrying with backoff")

		select {
		case <-ctx.Done():
			return fmt.Errorf("operation cancelled during backoff: %w", ctx.Err())
		case <-time.After(wait):
		}

		backoff = time.Duration(float64(backoff) * config.BackoffFactor)
		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", config.MaxRetries+1, lastErr)
}
