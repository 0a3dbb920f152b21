package resilience

import (
	"context"
	"sync"
	"time"
)

// HealthStatus represents the observed state of a pipeline collaborator
type HealthStatus int

const (
	// HealthUnknown - no check has completed yet
	HealthUnknown HealthStatus = iota
	// HealthHealthy - the last check succeeded
	HealthHealthy
	// HealthDegraded - checks are failing but below the unhealthy threshold
	HealthDegraded
	// HealthUnhealthy - consecutive failures crossed the unhealthy threshold
	HealthUnhealthy
)

func (hs HealthStatus) String() string {
	switch hs {
	case HealthHealthy:
		return "healthy"
	case HealthDegraded:
		return "degraded"
	case HealthUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// HealthCheck probes a single collaborator, such as the audit database,
// a leak provider, or the archive backend.
type HealthCheck func(ctx context.Context) error

// ComponentHealth is a snapshot of one monitored collaborator.
type ComponentHealth struct {
	Name                string        `json:"name"`
	Status              HealthStatus  `json:"-"`
	StatusText          string        `json:"status"`
	LastError           string        `json:"last_error,omitempty"`
	LastCheck           time.Time     `json:"last_check"`
	LastHealthy         time.Time     `json:"last_healthy,omitempty"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	TotalChecks         int64         `json:"total_checks"`
	TotalFailures       int64         `json:"total_failures"`
	LastDuration        time.Duration `json:"last_duration_ns"`
}

// HealthMonitorConfig holds configuration for the health monitor
type HealthMonitorConfig struct {
	// CheckInterval is how often each registered check runs
	CheckInterval time.Duration
	// CheckTimeout bounds a single check
	CheckTimeout time.Duration
	// DegradedThreshold is the consecutive failure count that marks degraded
	DegradedThreshold int
	// UnhealthyThreshold is the consecutive failure count that marks unhealthy
	UnhealthyThreshold int
}

// DefaultHealthMonitorConfig returns a sensible default configuration
func DefaultHealthMonitorConfig() *HealthMonitorConfig {
	return &HealthMonitorConfig{
		CheckInterval:      30 * time.Second,
		CheckTimeout:       5 * time.Second,
		DegradedThreshold:  1,
		UnhealthyThreshold: 3,
	}
}

type monitoredComponent struct {
	check  HealthCheck
	health ComponentHealth
}

// HealthMonitor runs registered checks on an interval and keeps a rolling
// view of collaborator health for the health endpoint.
type HealthMonitor struct {
	config     *HealthMonitorConfig
	components map[string]*monitoredComponent
	mu         sync.RWMutex
	cancel     context.CancelFunc
	done       chan struct{}
	started    bool
}

// NewHealthMonitor creates a monitor. Register checks before calling Start.
func NewHealthMonitor(config *HealthMonitorConfig) *HealthMonitor {
	if config == nil {
		config = DefaultHealthMonitorConfig()
	}
	return &HealthMonitor{
		config:     config,
		components: make(map[string]*monitoredComponent),
	}
}

// Register adds a named check. Registering an existing name replaces the
// check and resets its history.
func (hm *HealthMonitor) Register(name string, check HealthCheck) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.components[name] = &monitoredComponent{
		check:  check,
		health: ComponentHealth{Name: name, Status: HealthUnknown},
	}
}

// Start runs all checks once immediately and then on the configured interval.
func (hm *HealthMonitor) Start() {
	hm.mu.Lock()
	if hm.started {
		hm.mu.Unlock()
		return
	}
	hm.started = true
	ctx, cancel := context.WithCancel(context.Background())
	hm.cancel = cancel
	hm.done = make(chan struct{})
	hm.mu.Unlock()

	go hm.run(ctx)
}

// Stop halts the check loop. Safe to call when never started.
func (hm *HealthMonitor) Stop() {
	hm.mu.Lock()
	if !hm.started {
		hm.mu.Unlock()
		return
	}
	hm.started = false
	cancel := hm.cancel
	done := hm.done
	hm.mu.Unlock()

	cancel()
	<-done
}

func (hm *HealthMonitor) run(ctx context.Context) {
	defer close(hm.done)

	hm.CheckNow(ctx)
	ticker := time.NewTicker(hm.config.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hm.CheckNow(ctx)
		}
	}
}

// CheckNow runs every registered check once and records the results.
func (hm *HealthMonitor) CheckNow(ctx context.Context) {
	hm.mu.RLock()
	names := make([]string, 0, len(hm.components))
	for name := range hm.components {
		names = append(names, name)
	}
	hm.mu.RUnlock()

	for _, name := range names {
		hm.runCheck(ctx, name)
	}
}

func (hm *HealthMonitor) runCheck(ctx context.Context, name string) {
	hm.mu.RLock()
	component, ok := hm.components[name]
	hm.mu.RUnlock()
	if !ok {
		return
	}

	checkCtx, cancel := context.WithTimeout(ctx, hm.config.CheckTimeout)
	start := time.Now()
	err := component.check(checkCtx)
	duration := time.Since(start)
	cancel()

	hm.mu.Lock()
	defer hm.mu.Unlock()
	health := &component.health
	health.LastCheck = time.Now()
	health.LastDuration = duration
	health.TotalChecks++
	if err != nil {
		health.TotalFailures++
		health.ConsecutiveFailures++
		health.LastError = err.Error()
		if health.ConsecutiveFailures >= hm.config.UnhealthyThreshold {
			health.Status = HealthUnhealthy
		} else if health.ConsecutiveFailures >= hm.config.DegradedThreshold {
			health.Status = HealthDegraded
		}
	} else {
		health.ConsecutiveFailures = 0
		health.LastError = ""
		health.LastHealthy = health.LastCheck
		health.Status = HealthHealthy
	}
	health.StatusText = health.Status.String()
}

// Snapshot returns a copy of every component's current health.
func (hm *HealthMonitor) Snapshot() map[string]ComponentHealth {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	snapshot := make(map[string]ComponentHealth, len(hm.components))
	for name, component := range hm.components {
		snapshot[name] = component.health
	}
	return snapshot
}

// OverallStatus is the worst status among all components. A monitor with no
// components reports healthy.
func (hm *HealthMonitor) OverallStatus() HealthStatus {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	overall := HealthHealthy
	for _, component := range hm.components {
		status := component.health.Status
		if status == HealthUnknown {
			continue
		}
		if status > overall {
			overall = status
		}
	}
	return overall
}
