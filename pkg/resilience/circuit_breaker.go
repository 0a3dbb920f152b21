package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CircuitBreakerState represents the current state of the circuit breaker
type CircuitBreakerState int

const (
	// StateClosed - requests pass through
	StateClosed CircuitBreakerState = iota
	// StateOpen - requests fail fast
	StateOpen
	// StateHalfOpen - limited requests probe for recovery
	StateHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpen:
		return "Open"
	case StateHalfOpen:
		return "HalfOpen"
	default:
		return "Unknown"
	}
}

// CircuitBreakerConfig holds configuration for the circuit breaker
type CircuitBreakerConfig struct {
	// Name identifies the guarded collaborator, usually a provider URL
	Name string
	// FailureThreshold is the failure count that opens the circuit
	FailureThreshold int
	// RecoveryTimeout is how long to wait before probing after opening
	RecoveryTimeout time.Duration
	// SuccessThreshold is the probe success count that closes the circuit
	SuccessThreshold int
	// MaxProbes bounds concurrent requests while half-open
	MaxProbes int
}

// DefaultCircuitBreakerConfig returns a sensible default configuration
func DefaultCircuitBreakerConfig(name string) *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 2,
		MaxProbes:        3,
	}
}

// CircuitBreaker fails fast against a collaborator that keeps erroring,
// then probes for recovery after a cooldown.
type CircuitBreaker struct {
	config *CircuitBreakerConfig

	mu               sync.Mutex
	state            CircuitBreakerState
	failures         int
	successes        int
	probes           int
	stateChangedTime time.Time
}

// NewCircuitBreaker creates a circuit breaker with the given configuration
func NewCircuitBreaker(config *CircuitBreakerConfig) *CircuitBreaker {
	if config == nil {
		config = DefaultCircuitBreakerConfig("default")
	}
	return &CircuitBreaker{
		config:           config,
		state:            StateClosed,
		stateChangedTime: time.Now(),
	}
}

// Execute runs fn with circuit breaker protection
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !cb.allowRequest() {
		return fmt.Errorf("circuit breaker '%s' is open", cb.config.Name)
	}

	err := fn(ctx)
	if err != nil {
		cb.recordFailure()
		return err
	}
	cb.recordSuccess()
	return nil
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.stateChangedTime) >= cb.config.RecoveryTimeout {
			cb.setState(StateHalfOpen)
			cb.probes = 1
			return true
		}
		return false
	case StateHalfOpen:
		if cb.probes < cb.config.MaxProbes {
			cb.probes++
			return true
		}
		return false
	default:
		return false
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.setState(StateClosed)
		}
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.setState(StateOpen)
		}
	case StateHalfOpen:
		// One failed probe reopens immediately
		cb.setState(StateOpen)
	}
}

// setState must be called with cb.mu held.
func (cb *CircuitBreaker) setState(newState CircuitBreakerState) {
	cb.state = newState
	cb.stateChangedTime = time.Now()
	cb.failures = 0
	cb.successes = 0
	cb.probes = 0
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns the name of this circuit breaker
func (cb *CircuitBreaker) Name() string {
	return cb.config.Name
}

// IsCircuitOpenError reports whether err came from an open circuit
func IsCircuitOpenError(err error) bool {
	if err == nil {
		return false
	}
	return matchesAny(err, []string{"circuit breaker"})
}
