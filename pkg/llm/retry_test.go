package llm

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRetrySucceedsFirstAttempt(t *testing.T) {
	calls := 0
	got, err := withRetry(context.Background(), slog.Default(), "test", func() (string, error) {
		calls++
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 1, calls)
}

func TestWithRetryRecoversAfterFailure(t *testing.T) {
	calls := 0
	got, err := withRetry(context.Background(), slog.Default(), "test", func() (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 2, calls)
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := withRetry(context.Background(), slog.Default(), "test", func() (int, error) {
		calls++
		return 0, errors.New("still down")
	})
	require.Error(t, err)
	assert.EqualError(t, err, "still down")
	assert.Equal(t, maxAttempts, calls)
}

func TestWithRetryNonRetryableStopsImmediately(t *testing.T) {
	terminal := errors.New("invalid_api_key")
	calls := 0
	_, err := withRetry(context.Background(), slog.Default(), "test", func() (int, error) {
		calls++
		return 0, NonRetryable(terminal)
	})
	require.Error(t, err)
	// The wrapper is stripped before the error surfaces.
	assert.Equal(t, terminal, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetryCancelledContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := withRetry(ctx, slog.Default(), "test", func() (int, error) {
		calls++
		return 0, errors.New("transient")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
