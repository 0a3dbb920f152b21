// Package storage archives approved content in a content-addressed backend.
// The identifier returned for a byte sequence is stable: storing the same
// bytes twice always yields the same address.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrStoreUnavailable indicates the archive backend could not be reached.
// The pipeline absorbs it into a partial verdict rather than aborting.
var ErrStoreUnavailable = errors.New("store unavailable")

// Backend is a content-addressed storage backend.
type Backend interface {
	// Put stores bytes and returns their content address. Idempotent:
	// identical bytes yield identical identifiers.
	Put(ctx context.Context, data []byte) (string, error)
	// Has reports whether the address is known to the backend.
	Has(ctx context.Context, identifier string) (bool, error)
	// Name identifies the backend type.
	Name() string
	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error
}

// Factory creates a backend from its configuration.
type Factory func(config *BackendConfig) (Backend, error)

// BackendConfig holds backend connection settings.
type BackendConfig struct {
	Endpoint       string
	TimeoutSeconds int
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// RegisterBackend registers a backend factory under a type name.
// Panics on duplicate registration.
func RegisterBackend(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("storage backend %q registered twice", name))
	}
	registry[name] = factory
}

// NewBackend creates a backend of the named type.
func NewBackend(name string, config *BackendConfig) (Backend, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown storage backend %q (registered: %v)", name, RegisteredBackends())
	}
	return factory(config)
}

// RegisteredBackends lists the registered backend type names.
func RegisteredBackends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
