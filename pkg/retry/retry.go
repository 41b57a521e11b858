// Package retry runs a function with exponential backoff.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy configures retry behavior.
type Policy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration
	// Retryable decides whether an error is worth another attempt. Nil retries everything.
	Retryable func(error) bool
}

// DefaultPolicy returns the 3-attempt policy used at provider boundaries.
func DefaultPolicy(retryable func(error) bool) Policy {
	return Policy{
		MaxAttempts:   3,
		InitialDelay:  time.Second,
		BackoffFactor: 2.0,
		MaxDelay:      10 * time.Second,
		Retryable:     retryable,
	}
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Do executes fn until it succeeds, returns a non-retryable error, or runs out of attempts.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BackoffFactor < 1 {
		p.BackoffFactor = 1
	}

	var lastErr error
	delay := p.InitialDelay

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if p.Retryable != nil && !p.Retryable(err) {
			return zero, err
		}

		if attempt < p.MaxAttempts {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * p.BackoffFactor)
			if p.MaxDelay > 0 && delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}
	}

	return zero, &ExhaustedError{Attempts: p.MaxAttempts, Err: lastErr}
}
