package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const (
	maxAttempts    = 3
	initialBackoff = 1 * time.Second
	maxBackoff     = 5 * time.Second
)

// errNonRetryable wraps provider errors that must not be retried
// (authentication and quota exhaustion).
type errNonRetryable struct{ err error }

func (e *errNonRetryable) Error() string { return e.err.Error() }
func (e *errNonRetryable) Unwrap() error { return e.err }

// NonRetryable marks err as terminal for the retry loop.
func NonRetryable(err error) error { return &errNonRetryable{err: err} }

// withRetry runs fn up to maxAttempts times with exponential backoff
// (1s, 2s, capped at 5s). Non-retryable and context errors stop immediately.
func withRetry[T any](ctx context.Context, logger *slog.Logger, op string, fn func() (T, error)) (T, error) {
	var zero T
	backoff := initialBackoff

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		var nr *errNonRetryable
		if errors.As(err, &nr) {
			return zero, nr.err
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if attempt == maxAttempts {
			break
		}

		logger.Warn("llm call failed, retrying",
			"operation", op,
			"attempt", attempt,
			"backoff", backoff,
			"error", err)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return zero, lastErr
}
