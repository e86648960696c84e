package recovery

import (
	"context"
	"time"

	"github.com/buildappswith/booking-engine/internal/faults"
	"github.com/buildappswith/booking-engine/pkg/logging"
)

// RetryOptions configures the exponential backoff wrapper.
type RetryOptions struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryOptions mirrors the service configuration defaults.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
}

func (o RetryOptions) normalized() RetryOptions {
	def := DefaultRetryOptions()
	if o.MaxRetries <= 0 {
		o.MaxRetries = def.MaxRetries
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = def.InitialDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = def.MaxDelay
	}
	if o.Multiplier <= 1 {
		o.Multiplier = def.Multiplier
	}
	return o
}

// Retry runs op with exponential backoff. Each failure is re-classified; a
// non-retryable error aborts immediately with that error, as does exhausting
// the retry budget. The delay grows geometrically and is capped at MaxDelay.
func Retry[T any](ctx context.Context, logger *logging.Logger, opts RetryOptions, op func(context.Context) (T, error)) (T, error) {
	if logger == nil {
		logger = logging.Default()
	}
	opts = opts.normalized()

	var zero T
	delay := opts.InitialDelay
	for attempt := 0; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		categorized := faults.Classify(err)
		if !categorized.Retryable || attempt >= opts.MaxRetries {
			return zero, err
		}

		if delay > opts.MaxDelay {
			delay = opts.MaxDelay
		}
		logger.Warn("operation failed, retrying",
			"attempt", attempt+1,
			"max_retries", opts.MaxRetries,
			"category", categorized.Category,
			"delay_ms", delay.Milliseconds(),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
		delay = time.Duration(float64(delay) * opts.Multiplier)
	}
}
