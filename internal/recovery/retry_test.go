package recovery

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildappswith/booking-engine/internal/faults"
	"github.com/buildappswith/booking-engine/pkg/logging"
)

func fastRetryOptions() RetryOptions {
	return RetryOptions{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	logger := logging.NewWithWriter("error", io.Discard)
	attempts := 0
	result, err := Retry(context.Background(), logger, fastRetryOptions(), func(ctx context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", faults.Tag(errors.New("connection reset"), faults.CategoryNetwork)
		}
		return "done", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", result)
	assert.Equal(t, 3, attempts)
}

func TestRetryAbortsOnNonRetryable(t *testing.T) {
	logger := logging.NewWithWriter("error", io.Discard)
	attempts := 0
	_, err := Retry(context.Background(), logger, fastRetryOptions(), func(ctx context.Context) (int, error) {
		attempts++
		return 0, errors.New("validation failed: missing builder id")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryExhaustsBudget(t *testing.T) {
	logger := logging.NewWithWriter("error", io.Discard)
	attempts := 0
	cause := faults.Tag(errors.New("db down"), faults.CategoryDatabase)
	_, err := Retry(context.Background(), logger, fastRetryOptions(), func(ctx context.Context) (int, error) {
		attempts++
		return 0, cause
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	// Initial attempt plus MaxRetries.
	assert.Equal(t, 4, attempts)
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	logger := logging.NewWithWriter("error", io.Discard)
	opts := RetryOptions{MaxRetries: 5, InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 2.0}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := Retry(ctx, logger, opts, func(ctx context.Context) (int, error) {
		return 0, faults.Tag(errors.New("timeout waiting for lock"), faults.CategoryTimeout)
	})
	require.ErrorIs(t, err, context.Canceled)
}
