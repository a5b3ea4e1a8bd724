// Package resilience provides bounded retry helpers.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/normanking/talkingavatar/internal/loop"
)

// ErrExhausted is wrapped by every error returned after the last attempt.
var ErrExhausted = errors.New("retry attempts exhausted")

// RetryConfig holds configuration for retry logic
type RetryConfig struct {
	MaxAttempts       int           // Total attempts including the first
	InitialBackoff    time.Duration // Delay before the second attempt
	MaxBackoff        time.Duration // Upper bound on any delay
	BackoffMultiplier float64       // 1 for a fixed interval
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// FixedInterval returns a config that polls every interval, up to attempts times.
func FixedInterval(interval time.Duration, attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    interval,
		MaxBackoff:        interval,
		BackoffMultiplier: 1,
	}
}

// Backoff returns the delay before attempt n+1, where n counts from 1.
func (c RetryConfig) Backoff(n int) time.Duration {
	return CalculateBackoff(n-1, c.InitialBackoff, c.MaxBackoff, c.BackoffMultiplier)
}

// CalculateBackoff calculates the backoff duration for a given attempt
func CalculateBackoff(attempt int, initialBackoff, maxBackoff time.Duration, multiplier float64) time.Duration {
	if multiplier <= 0 {
		multiplier = 1
	}
	backoff := time.Duration(float64(initialBackoff) * math.Pow(multiplier, float64(attempt)))
	if maxBackoff > 0 && backoff > maxBackoff {
		return maxBackoff
	}
	return backoff
}

// ExhaustedError reports the number of attempts made and the last failure.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	if e.Last != nil {
		return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
	}
	return fmt.Sprintf("gave up after %d attempts", e.Attempts)
}

// Unwrap exposes both ErrExhausted and the last attempt's error.
func (e *ExhaustedError) Unwrap() []error {
	if e.Last == nil {
		return []error{ErrExhausted}
	}
	return []error{ErrExhausted, e.Last}
}

// Retry runs fn until it succeeds, returns a non-retryable error, or the
// attempts run out. It blocks between attempts and honours ctx.
func Retry(ctx context.Context, cfg RetryConfig, isRetryable func(error) bool, fn func(context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if isRetryable != nil && !isRetryable(err) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.Backoff(attempt)):
		}
	}

	return &ExhaustedError{Attempts: cfg.MaxAttempts, Last: lastErr}
}

// Attempt is one non-blocking poll. It returns true when the operation has
// succeeded and no further attempts are needed.
type Attempt func(n int) bool

// Poll runs attempt on l immediately and then after each backoff until it
// reports success or MaxAttempts polls have been made. done is called exactly
// once on the loop with nil or an *ExhaustedError, unless the returned cancel
// function is called first. Poll must be called from the loop goroutine.
func Poll(l *loop.Loop, cfg RetryConfig, attempt Attempt, done func(error)) (cancel func()) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var (
		timer    *loop.Timer
		finished bool
		n        int
	)

	var step func()
	step = func() {
		if finished {
			return
		}
		n++
		if attempt(n) {
			finished = true
			done(nil)
			return
		}
		if n >= cfg.MaxAttempts {
			finished = true
			done(&ExhaustedError{Attempts: n})
			return
		}
		timer = l.AfterFunc(cfg.Backoff(n), step)
	}

	step()

	return func() {
		finished = true
		timer.Stop()
	}
}
