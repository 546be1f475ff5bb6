package summarize

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// RetryConfig configures exponential backoff for backend calls.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

// DefaultRetryConfig returns the backoff used by the built-in backends.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   8 * time.Second,
		Multiplier: 2.0,
	}
}

// statusError is a non-200 answer from a backend.
type statusError struct {
	Backend string
	Code    int
	Body    string
}

func (e *statusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s returned status %d: %s", e.Backend, e.Code, e.Body)
	}
	return fmt.Sprintf("%s returned status %d", e.Backend, e.Code)
}

// retryable reports whether err is worth another attempt: rate limits, server
// errors and transport failures. Client errors and empty answers are final.
func retryable(err error) bool {
	if errors.Is(err, ErrEmptySummary) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	var pe *parseError
	return !errors.As(err, &pe)
}

// parseError is an undecodable backend answer.
type parseError struct{ err error }

func (e *parseError) Error() string { return "parsing response: " + e.err.Error() }
func (e *parseError) Unwrap() error { return e.err }

// retryWithBackoff runs fn until it succeeds, fails with a final error, or the
// attempts run out. Context cancellation stops immediately.
func retryWithBackoff[T any](ctx context.Context, config RetryConfig, fn func() (T, error)) (T, error) {
	var lastErr error
	var zero T
	backoff := config.BaseDelay
	attempts := config.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}

		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if !retryable(err) {
			return zero, err
		}

		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(backoff):
				backoff = time.Duration(float64(backoff) * config.Multiplier)
				if backoff > config.MaxDelay {
					backoff = config.MaxDelay
				}
			}
		}
	}

	return zero, lastErr
}
