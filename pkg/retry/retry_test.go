package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUT_RT_01_01_Do_WithSuccessfulOperation_ReturnsNoError(t *testing.T) {
	ctx := context.Background()
	config := Config{
		MaxRetries:      0,
		BaseDelay:       1 * time.Millisecond,
		MaxDelay:        10 * time.Millisecond,
		RetryableErrors: []RetryableError{},
	}

	op := func() error {
		return nil
	}

	err := Do(ctx, op, config)

	assert.NoError(t, err)
}

func TestUT_RT_01_02_Do_WithNonRetryableError_ReturnsError(t *testing.T) {
	ctx := context.Background()
	config := Config{
		MaxRetries:      3,
		BaseDelay:       1 * time.Millisecond,
		MaxDelay:        10 * time.Millisecond,
		RetryableErrors: []RetryableError{},
	}

	expectedErr := errors.New("non-retryable error")
	op := func() error {
		return expectedErr
	}

	err := Do(ctx, op, config)

	assert.Error(t, err)
	assert.Equal(t, expectedErr, err)
}

func TestUT_RT_01_03_Do_WithRetryableError_EventuallySucceeds(t *testing.T) {
	ctx := context.Background()
	config := Config{
		MaxRetries: 3,
		BaseDelay:  1 * time.Millisecond,
		MaxDelay:   10 * time.Millisecond,
		RetryableErrors: []RetryableError{
			func(err error) bool { return err.Error() == "retryable error" },
		},
	}

	attempts := 0
	op := func() error {
		attempts++
		if attempts <= 2 {
			return errors.New("retryable error")
		}
		return nil
	}

	err := Do(ctx, op, config)

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestUT_RT_01_04_Do_WithRetryableError_ExceedsMaxRetries(t *testing.T) {
	ctx := context.Background()
	config := Config{
		MaxRetries: 2,
		BaseDelay:  1 * time.Millisecond,
		MaxDelay:   10 * time.Millisecond,
		RetryableErrors: []RetryableError{
			func(err error) bool { return err.Error() == "retryable error" },
		},
	}

	expectedErr := errors.New("retryable error")
	attempts := 0
	op := func() error {
		attempts++
		return expectedErr
	}

	err := Do(ctx, op, config)

	assert.Error(t, err)
	assert.Equal(t, expectedErr, err)
	assert.Equal(t, 3, attempts) // initial attempt + 2 retries
}

func TestUT_RT_01_05_Do_WithCanceledContext_ReturnsError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	config := Config{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   10 * time.Second,
		RetryableErrors: []RetryableError{
			func(err error) bool { return err.Error() == "retryable error" },
		},
	}

	op := func() error {
		return errors.New("retryable error")
	}

	err := Do(ctx, op, config)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "retry canceled by context")
}

func TestUT_RT_02_01_DoWithResult_WithSuccessfulOperation_ReturnsResult(t *testing.T) {
	ctx := context.Background()
	config := Config{
		MaxRetries:      0,
		BaseDelay:       1 * time.Millisecond,
		MaxDelay:        10 * time.Millisecond,
		RetryableErrors: []RetryableError{},
	}

	expectedResult := "success"
	op := func() (string, error) {
		return expectedResult, nil
	}

	result, err := DoWithResult(ctx, op, config)

	assert.NoError(t, err)
	assert.Equal(t, expectedResult, result)
}

func TestUT_RT_02_02_DoWithResult_WithNonRetryableError_ReturnsError(t *testing.T) {
	ctx := context.Background()
	config := Config{
		MaxRetries:      3,
		BaseDelay:       1 * time.Millisecond,
		MaxDelay:        10 * time.Millisecond,
		RetryableErrors: []RetryableError{},
	}

	expectedErr := errors.New("non-retryable error")
	op := func() (string, error) {
		return "", expectedErr
	}

	result, err := DoWithResult(ctx, op, config)

	assert.Error(t, err)
	assert.Equal(t, expectedErr, err)
	assert.Equal(t, "", result)
}

func TestUT_RT_02_03_DoWithResult_WithRetryableError_EventuallySucceeds(t *testing.T) {
	ctx := context.Background()
	config := Config{
		MaxRetries: 3,
		BaseDelay:  1 * time.Millisecond,
		MaxDelay:   10 * time.Millisecond,
		RetryableErrors: []RetryableError{
			func(err error) bool { return err.Error() == "retryable error" },
		},
	}

	attempts := 0
	expectedResult := "success"
	op := func() (string, error) {
		attempts++
		if attempts <= 2 {
			return "", errors.New("retryable error")
		}
		return expectedResult, nil
	}

	result, err := DoWithResult(ctx, op, config)

	assert.NoError(t, err)
	assert.Equal(t, expectedResult, result)
	assert.Equal(t, 3, attempts)
}

func TestUT_RT_03_01_DefaultConfig_ReturnsExpectedValues(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, 5, config.MaxRetries)
	assert.Equal(t, 1*time.Second, config.BaseDelay)
	assert.Equal(t, 30*time.Second, config.MaxDelay)
	assert.Len(t, config.RetryableErrors, 4)
}

func TestUT_RT_04_01_BackoffDelay_NeverExceedsCap(t *testing.T) {
	base := 1 * time.Second
	maxDelay := 30 * time.Second

	for attempt := 0; attempt < 10; attempt++ {
		for i := 0; i < 20; i++ {
			delay := BackoffDelay(attempt, base, maxDelay)
			assert.True(t, delay >= 0)
			assert.True(t, delay < maxDelay || (base<<uint(attempt)) <= 0)
		}
	}
}

func TestUT_RT_04_02_BackoffDelay_CapsAtMaxDelay(t *testing.T) {
	base := 1 * time.Second
	maxDelay := 5 * time.Second

	// At attempt 10, base*2^10 vastly exceeds maxDelay, so the cap is maxDelay.
	for i := 0; i < 20; i++ {
		delay := BackoffDelay(10, base, maxDelay)
		assert.True(t, delay < maxDelay)
	}
}

func TestUT_RT_05_01_IsRetryable_ClassifiesByConfiguredCheckers(t *testing.T) {
	config := Config{
		RetryableErrors: []RetryableError{
			func(err error) bool { return err.Error() == "retryable error" },
		},
	}

	assert.True(t, IsRetryable(errors.New("retryable error"), config))
	assert.False(t, IsRetryable(errors.New("other error"), config))
	assert.False(t, IsRetryable(nil, config))
}
