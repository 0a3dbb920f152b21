package matching

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"golang.org/x/crypto/sha3"

	"github.com/trunet-labs/trunet/pkg/core/content"
)

const (
	bloomExpectedItems     = 1_000_000
	bloomFalsePositiveRate = 0.001

	// A bloom hit is strong but not certain evidence; similarity stays
	// below the confirmed threshold so a hit alone reads as suspected.
	bloomHitSimilarity = 0.75
)

// BloomProvider answers leak lookups from a local bloom filter of known
// leaked content hashes. It needs no network and serves as the degraded
// mode when no remote providers are configured. A membership test can
// false-positive at the configured rate but never false-negatives.
type BloomProvider struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
	source string
}

// NewBloomProvider creates an empty provider.
func NewBloomProvider() *BloomProvider {
	return &BloomProvider{
		filter: bloom.NewWithEstimates(bloomExpectedItems, bloomFalsePositiveRate),
		source: "local-index",
	}
}

// LoadBloomProvider reads a filter snapshot written by Save.
func LoadBloomProvider(path string) (*BloomProvider, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bloom snapshot: %w", err)
	}
	defer f.Close()

	filter := &bloom.BloomFilter{}
	if _, err := filter.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("failed to read bloom snapshot: %w", err)
	}

	return &BloomProvider{filter: filter, source: "local-index"}, nil
}

// Save writes the filter to a snapshot file.
func (p *BloomProvider) Save(path string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create bloom snapshot: %w", err)
	}
	defer f.Close()

	if _, err := p.filter.WriteTo(f); err != nil {
		return fmt.Errorf("failed to write bloom snapshot: %w", err)
	}
	return nil
}

// AddHash records a content hash as known-leaked.
func (p *BloomProvider) AddHash(contentHash string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filter.Add(keyFor(contentHash))
}

// Name identifies the provider in logs and stats.
func (p *BloomProvider) Name() string {
	return "bloom-local"
}

// Search tests the fingerprint's content hash against the filter.
func (p *BloomProvider) Search(_ context.Context, fp *content.Fingerprint) ([]Match, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.filter.Test(keyFor(fp.ContentHash)) {
		return nil, nil
	}

	return []Match{{
		Source:     p.source,
		Similarity: bloomHitSimilarity,
	}}, nil
}

// keyFor domain-separates filter keys from raw content hashes so a filter
// built for this index cannot be probed with plain digests.
func keyFor(contentHash string) []byte {
	digest := sha3.Sum256([]byte("trunet-leak-index:" + contentHash))
	return digest[:]
}
