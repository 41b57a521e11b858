package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"syscall"
	"time"
)

// RateLimitError is returned when the provider answers 429.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("provider rate limited, retry after %s: %s", e.RetryAfter, e.Message)
}

// RetryAfterSeconds rounds the hint up to whole seconds, at least 1.
func (e *RateLimitError) RetryAfterSeconds() int {
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// StatusError is a non-2xx reply other than 429.
type StatusError struct {
	StatusCode int
	Body       string
	APIError   *Error
}

func (e *StatusError) Error() string {
	if e.APIError != nil && e.APIError.Message != "" {
		return fmt.Sprintf("API request failed with status %d: %s", e.StatusCode, e.APIError.Message)
	}
	return fmt.Sprintf("API request failed with status %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	if e.APIError == nil {
		return nil
	}
	return e.APIError
}

// IsTransient reports whether err is a network level failure or a 5xx reply
// that is worth retrying. Cancellation and 429 are not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == http.StatusRequestTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// parseRetryAfter reads a Retry-After header in delta-seconds or HTTP-date form.
func parseRetryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return time.Second
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 1 {
			return time.Second
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return time.Second
}
