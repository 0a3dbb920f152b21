package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func fastMonitorConfig() *HealthMonitorConfig {
	return &HealthMonitorConfig{
		CheckInterval:      5 * time.Millisecond,
		CheckTimeout:       50 * time.Millisecond,
		DegradedThreshold:  1,
		UnhealthyThreshold: 3,
	}
}

func TestHealthMonitorReportsHealthy(t *testing.T) {
	monitor := NewHealthMonitor(fastMonitorConfig())
	monitor.Register("database", func(ctx context.Context) error { return nil })

	monitor.CheckNow(context.Background())

	health := monitor.Snapshot()["database"]
	if health.Status != HealthHealthy {
		t.Fatalf("expected healthy, got %v", health.Status)
	}
	if health.TotalChecks != 1 {
		t.Errorf("expected 1 check, got %d", health.TotalChecks)
	}
	if health.LastHealthy.IsZero() {
		t.Error("expected last healthy timestamp to be set")
	}
	if monitor.OverallStatus() != HealthHealthy {
		t.Errorf("expected overall healthy, got %v", monitor.OverallStatus())
	}
}

func TestHealthMonitorDegradesThenRecovers(t *testing.T) {
	monitor := NewHealthMonitor(fastMonitorConfig())
	var failing atomic.Bool
	failing.Store(true)
	monitor.Register("leak-provider", func(ctx context.Context) error {
		if failing.Load() {
			return errors.New("connection refused")
		}
		return nil
	})

	monitor.CheckNow(context.Background())
	health := monitor.Snapshot()["leak-provider"]
	if health.Status != HealthDegraded {
		t.Fatalf("expected degraded after one failure, got %v", health.Status)
	}
	if health.LastError == "" {
		t.Error("expected last error to be recorded")
	}

	failing.Store(false)
	monitor.CheckNow(context.Background())
	health = monitor.Snapshot()["leak-provider"]
	if health.Status != HealthHealthy {
		t.Fatalf("expected healthy after recovery, got %v", health.Status)
	}
	if health.ConsecutiveFailures != 0 {
		t.Errorf("expected failure streak reset, got %d", health.ConsecutiveFailures)
	}
}

func TestHealthMonitorMarksUnhealthyAfterThreshold(t *testing.T) {
	monitor := NewHealthMonitor(fastMonitorConfig())
	monitor.Register("archive", func(ctx context.Context) error {
		return errors.New("store unavailable")
	})

	for i := 0; i < 3; i++ {
		monitor.CheckNow(context.Background())
	}

	health := monitor.Snapshot()["archive"]
	if health.Status != HealthUnhealthy {
		t.Fatalf("expected unhealthy after 3 failures, got %v", health.Status)
	}
	if health.TotalFailures != 3 {
		t.Errorf("expected 3 failures, got %d", health.TotalFailures)
	}
}

func TestHealthMonitorOverallIsWorstComponent(t *testing.T) {
	monitor := NewHealthMonitor(fastMonitorConfig())
	monitor.Register("database", func(ctx context.Context) error { return nil })
	monitor.Register("model", func(ctx context.Context) error {
		return errors.New("timeout")
	})

	monitor.CheckNow(context.Background())

	if monitor.OverallStatus() != HealthDegraded {
		t.Errorf("expected overall degraded, got %v", monitor.OverallStatus())
	}
}

func TestHealthMonitorCheckTimeout(t *testing.T) {
	config := fastMonitorConfig()
	config.CheckTimeout = 10 * time.Millisecond
	monitor := NewHealthMonitor(config)
	monitor.Register("slow", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})

	monitor.CheckNow(context.Background())

	health := monitor.Snapshot()["slow"]
	if health.Status != HealthDegraded {
		t.Fatalf("expected degraded from timeout, got %v", health.Status)
	}
}

func TestHealthMonitorStartStop(t *testing.T) {
	monitor := NewHealthMonitor(fastMonitorConfig())
	var checks atomic.Int64
	monitor.Register("database", func(ctx context.Context) error {
		checks.Add(1)
		return nil
	})

	monitor.Start()
	deadline := time.Now().Add(time.Second)
	for checks.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	monitor.Stop()

	if checks.Load() < 2 {
		t.Fatalf("expected periodic checks to run, got %d", checks.Load())
	}

	// Stop after Stop and Stop without Start are both no-ops.
	monitor.Stop()
	NewHealthMonitor(nil).Stop()
}

func TestHealthStatusString(t *testing.T) {
	cases := map[HealthStatus]string{
		HealthUnknown:   "unknown",
		HealthHealthy:   "healthy",
		HealthDegraded:  "degraded",
		HealthUnhealthy: "unhealthy",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Errorf("status %d: expected %q, got %q", status, want, got)
		}
	}
}
