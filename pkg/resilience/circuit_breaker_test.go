package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:             "test-provider",
		FailureThreshold: 3,
		RecoveryTimeout:  20 * time.Millisecond,
		SuccessThreshold: 2,
		MaxProbes:        2,
	}
}

func failing(ctx context.Context) error { return errors.New("connection refused") }
func succeeding(ctx context.Context) error { return nil }

func TestBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(testBreakerConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, failing); err == nil {
			t.Fatal("expected failure")
		}
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("expected open state, got %s", cb.GetState())
	}

	err := cb.Execute(ctx, succeeding)
	if !IsCircuitOpenError(err) {
		t.Errorf("open breaker should fail fast, got %v", err)
	}
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker(testBreakerConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		cb.Execute(ctx, failing)
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("expected open state, got %s", cb.GetState())
	}

	time.Sleep(30 * time.Millisecond)

	// First probe transitions to half-open.
	if err := cb.Execute(ctx, succeeding); err != nil {
		t.Fatalf("probe should pass through: %v", err)
	}
	if cb.GetState() != StateHalfOpen {
		t.Fatalf("expected half-open state, got %s", cb.GetState())
	}

	if err := cb.Execute(ctx, succeeding); err != nil {
		t.Fatalf("second probe should pass through: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("expected closed after successful probes, got %s", cb.GetState())
	}
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	cb := NewCircuitBreaker(testBreakerConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		cb.Execute(ctx, failing)
	}
	time.Sleep(30 * time.Millisecond)

	cb.Execute(ctx, failing)
	if cb.GetState() != StateOpen {
		t.Errorf("failed probe should reopen the circuit, got %s", cb.GetState())
	}
}

func TestBreakerClosedSuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker(testBreakerConfig())
	ctx := context.Background()

	cb.Execute(ctx, failing)
	cb.Execute(ctx, failing)
	cb.Execute(ctx, succeeding)
	cb.Execute(ctx, failing)
	cb.Execute(ctx, failing)

	if cb.GetState() != StateClosed {
		t.Errorf("interleaved successes should keep circuit closed, got %s", cb.GetState())
	}
}

func TestIsCircuitOpenError(t *testing.T) {
	if IsCircuitOpenError(nil) {
		t.Error("nil is not a circuit error")
	}
	if IsCircuitOpenError(errors.New("connection refused")) {
		t.Error("plain network error is not a circuit error")
	}
}
