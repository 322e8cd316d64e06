// Package retry runs a provider call a bounded number of times with a fixed
// pause between attempts.
package retry

import (
	"context"
	"errors"
	"time"

	"imagepump/internal/clock"
	"imagepump/internal/infra"
	"imagepump/internal/providers/image"
)

const (
	DefaultAttempts = 2
	DefaultDelay    = 2 * time.Second
)

// Controller bounds how often a call is repeated. Attempts counts every call,
// the first one included.
type Controller struct {
	Attempts int
	Delay    time.Duration
	Clock    clock.Clock
	Logger   *infra.Logger
	// Retryable decides whether an error is worth another attempt. It
	// defaults to image.Retryable.
	Retryable func(error) bool
}

// Outcome is the result of Do. Exactly one of Result, Err or Cancelled is
// meaningful.
type Outcome struct {
	Result    []byte
	Err       error
	Cancelled bool
	Attempts  int
}

// Succeeded reports whether the call produced a result.
func (o Outcome) Succeeded() bool {
	return !o.Cancelled && o.Err == nil
}

// Do invokes fn until it succeeds, the attempts are exhausted, the error is
// not retryable or ctx is cancelled. Cancellation is never reported as an
// error.
func (c Controller) Do(ctx context.Context, fn func(context.Context) ([]byte, error)) Outcome {
	attempts := c.Attempts
	if attempts < 1 {
		attempts = DefaultAttempts
	}
	clk := c.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	logger := c.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	retryable := c.Retryable
	if retryable == nil {
		retryable = image.Retryable
	}

	var out Outcome
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			out.Cancelled = true
			out.Err = nil
			return out
		}
		out.Attempts = attempt
		result, err := fn(ctx)
		if cancelled(ctx, err) {
			out.Cancelled = true
			out.Err = nil
			return out
		}
		if err == nil {
			out.Result = result
			out.Err = nil
			return out
		}
		out.Err = err
		if !retryable(err) || attempt == attempts {
			break
		}
		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", attempts).
			Dur("delay", c.Delay).
			Msg("retry: attempt failed, retrying")
		if err := clk.Sleep(ctx, c.Delay); err != nil {
			out.Cancelled = true
			out.Err = nil
			return out
		}
	}
	return out
}

func cancelled(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, context.Canceled)
}
