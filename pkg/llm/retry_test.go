package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(max int) RetryConfig {
	return RetryConfig{MaxRetries: max, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestWithRetriesSucceedsAfterRetryableFailures(t *testing.T) {
	calls := 0
	result, err := WithRetries(context.Background(), fastRetry(3), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", Retryable(fmt.Errorf("attempt %d", calls))
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, calls)
}

func TestWithRetriesStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("bad request")
	calls := 0
	_, err := WithRetries(context.Background(), fastRetry(3), func(ctx context.Context) (int, error) {
		calls++
		return 0, permanent
	})

	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestWithRetriesExhaustsBudget(t *testing.T) {
	calls := 0
	_, err := WithRetries(context.Background(), fastRetry(2), func(ctx context.Context) (int, error) {
		calls++
		return 0, Retryable(errors.New("overloaded"))
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)

	var re *RetryableError
	assert.True(t, errors.As(err, &re))
}

func TestWithRetriesHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := WithRetries(ctx, fastRetry(5), func(ctx context.Context) (int, error) {
		calls++
		return 0, Retryable(errors.New("overloaded"))
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	cfg := RetryConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, MaxRetries: 10}

	assert.Equal(t, 100*time.Millisecond, cfg.Backoff(0))
	assert.Equal(t, 200*time.Millisecond, cfg.Backoff(1))
	assert.Equal(t, 400*time.Millisecond, cfg.Backoff(2))
	assert.Equal(t, time.Second, cfg.Backoff(5))
}

func TestDisabledClientAlwaysFails(t *testing.T) {
	_, err := Disabled().Complete(context.Background(), Request{Model: "m", Prompt: "p"})
	require.ErrorIs(t, err, ErrDisabled)
}
