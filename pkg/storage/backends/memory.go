package backends

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/trunet-labs/trunet/pkg/storage"
)

func init() {
	storage.RegisterBackend("memory", func(config *storage.BackendConfig) (storage.Backend, error) {
		return NewMemoryBackend(), nil
	})
}

// MemoryBackend is an in-process content-addressed store for tests and
// standalone mode. Addresses are hex SHA-256 digests of the content.
type MemoryBackend struct {
	mu    sync.RWMutex
	items map[string][]byte

	// fail forces Put/Has to report the store unavailable, for tests.
	fail bool
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{items: make(map[string][]byte)}
}

// Name identifies the backend type.
func (b *MemoryBackend) Name() string { return "memory" }

// Put stores the bytes under their SHA-256 address.
func (b *MemoryBackend) Put(ctx context.Context, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return "", storage.ErrStoreUnavailable
	}

	digest := sha256.Sum256(data)
	id := hex.EncodeToString(digest[:])
	if _, exists := b.items[id]; !exists {
		stored := make([]byte, len(data))
		copy(stored, data)
		b.items[id] = stored
	}
	return id, nil
}

// Has reports whether the address was stored.
func (b *MemoryBackend) Has(ctx context.Context, identifier string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.fail {
		return false, storage.ErrStoreUnavailable
	}
	_, ok := b.items[identifier]
	return ok, nil
}

// HealthCheck always succeeds unless failure is forced.
func (b *MemoryBackend) HealthCheck(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.fail {
		return storage.ErrStoreUnavailable
	}
	return nil
}

// SetFailing toggles forced failure for fault-path tests.
func (b *MemoryBackend) SetFailing(fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail = fail
}

// Len returns the number of stored items.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items)
}
