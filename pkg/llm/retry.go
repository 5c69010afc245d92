package llm

import (
	"context"
	"errors"
	"math"
	"time"
)

const (
	// DefaultMaxRetries is the default number of retries
	DefaultMaxRetries = 3

	// DefaultBaseDelay is the base delay for exponential backoff
	DefaultBaseDelay = 500 * time.Millisecond

	// DefaultMaxDelay is the maximum delay for exponential backoff
	DefaultMaxDelay = 10 * time.Second
)

// RetryableError marks a provider failure worth retrying (rate limits,
// 5xx responses, transport timeouts).
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }

func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err so the retry loop will attempt it again.
func Retryable(err error) error {
	return &RetryableError{Err: err}
}

// RetryConfig controls the shared retry loop used by provider clients.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryConfig returns the standard retry settings.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
	}
}

// Backoff returns the delay before the given retry attempt (0-based).
func (c RetryConfig) Backoff(attempt int) time.Duration {
	delay := time.Duration(float64(c.BaseDelay) * math.Pow(2, float64(attempt)))
	if delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	return delay
}

// WithRetries runs fn until it succeeds, returns a non-retryable error, or
// the retry budget is exhausted. The last error is returned unwrapped.
func WithRetries[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(cfg.Backoff(attempt - 1)):
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var re *RetryableError
		if !errors.As(err, &re) {
			return zero, err
		}
	}

	return zero, lastErr
}
