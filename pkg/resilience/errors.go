// Package resilience provides retry, backoff and circuit breaking for the
// pipeline's collaborator calls: reverse-search providers, the archive
// backend and the moderation model.
package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

// ErrorType classifies an error for retry handling
type ErrorType int

const (
	UnknownError ErrorType = iota
	NetworkError
	TimeoutError
	RateLimitError
	TransientError
	PermanentError
)

// String returns the string representation of ErrorType
func (et ErrorType) String() string {
	switch et {
	case NetworkError:
		return "NetworkError"
	case TimeoutError:
		return "TimeoutError"
	case RateLimitError:
		return "RateLimitError"
	case TransientError:
		return "TransientError"
	case PermanentError:
		return "PermanentError"
	default:
		return "UnknownError"
	}
}

// ClassifiedError wraps an error with its retry classification
type ClassifiedError struct {
	Err       error
	Type      ErrorType
	Retryable bool
	Component string
	Timestamp time.Time
}

func (ce *ClassifiedError) Error() string {
	return "[" + ce.Component + ":" + ce.Type.String() + "] " + ce.Err.Error()
}

func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsRetryable returns whether this error should trigger retry logic
func (ce *ClassifiedError) IsRetryable() bool {
	return ce.Retryable
}

// ClassifyError analyzes an error and returns its classification
func ClassifyError(err error, component string) *ClassifiedError {
	if err == nil {
		return nil
	}

	classified := &ClassifiedError{
		Err:       err,
		Component: component,
		Timestamp: time.Now(),
	}

	switch {
	case isTimeoutError(err):
		classified.Type = TimeoutError
		classified.Retryable = true
	case isNetworkError(err):
		classified.Type = NetworkError
		classified.Retryable = true
	case isRateLimitError(err):
		classified.Type = RateLimitError
		classified.Retryable = true
	case isPermanentError(err):
		classified.Type = PermanentError
		classified.Retryable = false
	case isTransientError(err):
		classified.Type = TransientError
		classified.Retryable = true
	default:
		// Unknown collaborator faults get one more chance
		classified.Type = UnknownError
		classified.Retryable = true
	}

	return classified
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	return matchesAny(err, []string{
		"connection refused",
		"connection reset",
		"network is unreachable",
		"no route to host",
		"dial tcp",
		"provider unavailable",
		"store unavailable",
	})
}

func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return matchesAny(err, []string{
		"timeout",
		"deadline exceeded",
	})
}

func isRateLimitError(err error) bool {
	return matchesAny(err, []string{
		"rate limit",
		"too many requests",
		"429",
	})
}

func isTransientError(err error) bool {
	return matchesAny(err, []string{
		"temporary failure",
		"service unavailable",
		"try again",
		"502",
		"503",
		"504",
		"bad gateway",
	})
}

func isPermanentError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	return matchesAny(err, []string{
		"malformed",
		"not found",
		"invalid format",
		"bad request",
		"unauthorized",
		"forbidden",
		"400",
		"401",
		"403",
		"404",
	})
}

func matchesAny(err error, patterns []string) bool {
	msg := strings.ToLower(err.Error())
	for _, pattern := range patterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// NewPermanentError creates a classified permanent error
func NewPermanentError(err error, component string) *ClassifiedError {
	return &ClassifiedError{
		Err:       err,
		Type:      PermanentError,
		Retryable: false,
		Component: component,
		Timestamp: time.Now(),
	}
}

// NewNetworkError creates a classified network error
func NewNetworkError(err error, component string) *ClassifiedError {
	return &ClassifiedError{
		Err:       err,
		Type:      NetworkError,
		Retryable: true,
		Component: component,
		Timestamp: time.Now(),
	}
}
