// Package retry provides utilities for retrying operations that may fail due
// to transient errors: network failures, 5xx responses, and rate limiting.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/auriora/uploadengine/pkg/errors"
	"github.com/auriora/uploadengine/pkg/logging"
)

// RetryableFunc is a function that can be retried.
type RetryableFunc func() error

// RetryableFuncWithResult is a function that returns a result and can be retried.
type RetryableFuncWithResult[T any] func() (T, error)

// Config holds configuration for retry operations.
type Config struct {
	// MaxRetries is the maximum number of retry attempts after the first try.
	MaxRetries int

	// BaseDelay is the base delay used to compute the backoff cap.
	BaseDelay time.Duration

	// MaxDelay is the maximum delay between retries.
	MaxDelay time.Duration

	// RetryableErrors classify which errors are worth retrying. An error is
	// retried if ANY of these return true.
	RetryableErrors []RetryableError
}

// RetryableError defines a function that determines if an error should be retried.
type RetryableError func(error) bool

// DefaultConfig returns the default retry configuration: 5 retries, 1s base
// delay, 30s cap, full jitter.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 5,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		RetryableErrors: []RetryableError{
			IsRetryableNetworkError,
			IsRetryableServerError,
			IsRetryableRateLimitError,
			IsRetryableTimeoutError,
		},
	}
}

// IsRetryableNetworkError returns true if err occurred with no HTTP response
// at all (DNS failure, connection refused, connection reset).
func IsRetryableNetworkError(err error) bool {
	return errors.IsNetworkError(err)
}

// IsRetryableServerError returns true if err is a 5xx response.
func IsRetryableServerError(err error) bool {
	return errors.IsOperationError(err)
}

// IsRetryableRateLimitError returns true if err is a 425/429 response.
func IsRetryableRateLimitError(err error) bool {
	return errors.IsResourceBusyError(err)
}

// IsRetryableTimeoutError returns true if err is a 408 response.
func IsRetryableTimeoutError(err error) bool {
	return errors.IsTimeoutError(err)
}

// IsRetryable reports whether err should be retried under the classification
// in config.RetryableErrors. All other failures (404, validation, auth) are fatal.
func IsRetryable(err error, config Config) bool {
	if err == nil {
		return false
	}
	for _, retryableError := range config.RetryableErrors {
		if retryableError(err) {
			return true
		}
	}
	return false
}

// BackoffDelay computes the full-jitter backoff delay for the given attempt
// number (0-indexed): cap = min(max, base * 2^attempt), and the result is a
// uniformly random duration in [0, cap).
func BackoffDelay(attempt int, base, maxDelay time.Duration) time.Duration {
	delayCap := base << attempt
	if delayCap <= 0 || delayCap > maxDelay {
		delayCap = maxDelay
	}
	if delayCap <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(delayCap)))
}

// Do retries op with full-jitter exponential backoff until it succeeds, a
// non-retryable error occurs, retries are exhausted, or ctx is canceled.
func Do(ctx context.Context, op RetryableFunc, config Config) error {
	var err error

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		err = op()
		if err == nil {
			return nil
		}

		if !IsRetryable(err, config) || attempt == config.MaxRetries {
			return err
		}

		delay := BackoffDelay(attempt, config.BaseDelay, config.MaxDelay)

		logging.Info().
			Err(err).
			Int("attempt", attempt+1).
			Int("maxRetries", config.MaxRetries).
			Dur("delay", delay).
			Msg("operation failed, retrying after delay")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "retry canceled by context")
		}
	}

	return err
}

// DoWithResult retries op with full-jitter exponential backoff and returns
// its result once it succeeds or retries are exhausted.
func DoWithResult[T any](ctx context.Context, op RetryableFuncWithResult[T], config Config) (T, error) {
	var result T
	var err error

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		result, err = op()
		if err == nil {
			return result, nil
		}

		if !IsRetryable(err, config) || attempt == config.MaxRetries {
			return result, err
		}

		delay := BackoffDelay(attempt, config.BaseDelay, config.MaxDelay)

		logging.Info().
			Err(err).
			Int("attempt", attempt+1).
			Int("maxRetries", config.MaxRetries).
			Dur("delay", delay).
			Msg("operation failed, retrying after delay")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			var zero T
			return zero, errors.Wrap(ctx.Err(), "retry canceled by context")
		}
	}

	return result, err
}
