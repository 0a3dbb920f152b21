package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func fastRetryConfig(maxRetries int) *RetryConfig {
	return &RetryConfig{
		MaxRetries:        maxRetries,
		InitialDelay:      time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestRetrySucceedsEventually(t *testing.T) {
	attempts := 0
	err := RetryWithConfig(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("connection refused")
		}
		return nil
	}, fastRetryConfig(5))

	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryExhaustsBudget(t *testing.T) {
	attempts := 0
	wantErr := errors.New("service unavailable")
	err := RetryWithConfig(context.Background(), func(ctx context.Context) error {
		attempts++
		return wantErr
	}, fastRetryConfig(2))

	if !errors.Is(err, wantErr) {
		t.Fatalf("expected last error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts (initial + 2 retries), got %d", attempts)
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	attempts := 0
	err := RetryWithConfig(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.New("bad request: malformed fingerprint")
	}, fastRetryConfig(5))

	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("permanent error should not be retried, got %d attempts", attempts)
	}
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := RetryWithConfig(ctx, func(ctx context.Context) error {
		attempts++
		cancel()
		return errors.New("connection reset")
	}, fastRetryConfig(5))

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt before cancellation, got %d", attempts)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err       error
		wantType  ErrorType
		retryable bool
	}{
		{errors.New("dial tcp 10.0.0.1:443: connection refused"), NetworkError, true},
		{context.DeadlineExceeded, TimeoutError, true},
		{errors.New("429 too many requests"), RateLimitError, true},
		{errors.New("503 service unavailable"), TransientError, true},
		{errors.New("400 bad request"), PermanentError, false},
		{errors.New("malformed input"), PermanentError, false},
		{errors.New("something odd happened"), UnknownError, true},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			classified := ClassifyError(tt.err, "test")
			if classified.Type != tt.wantType {
				t.Errorf("type = %s, want %s", classified.Type, tt.wantType)
			}
			if classified.IsRetryable() != tt.retryable {
				t.Errorf("retryable = %v, want %v", classified.IsRetryable(), tt.retryable)
			}
			if !errors.Is(classified, tt.err) {
				t.Error("classified error should unwrap to the original")
			}
		})
	}
}

func TestClassifyNilError(t *testing.T) {
	if ClassifyError(nil, "test") != nil {
		t.Error("nil error should classify as nil")
	}
}

func TestClassifiedErrorMessage(t *testing.T) {
	ce := NewPermanentError(fmt.Errorf("no such fingerprint"), "provider")
	msg := ce.Error()
	if msg != "[provider:PermanentError] no such fingerprint" {
		t.Errorf("unexpected message: %s", msg)
	}
}
