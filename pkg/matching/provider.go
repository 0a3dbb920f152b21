// Package matching aggregates reverse-content-search evidence from external
// providers into a single leak assessment per file. Provider faults never
// fail a match: missing answers lower the reported confidence instead.
package matching

import (
	"context"
	"errors"
	"time"

	"github.com/trunet-labs/trunet/pkg/core/content"
)

// ErrProviderUnavailable indicates a reverse-search provider could not be
// reached or refused to answer.
var ErrProviderUnavailable = errors.New("provider unavailable")

// Match is one provider hit for a fingerprint.
type Match struct {
	Source     string     `json:"source"`
	Similarity float64    `json:"similarity"`
	FirstSeen  *time.Time `json:"first_seen,omitempty"`
}

// Provider answers reverse-content searches for a fingerprint.
type Provider interface {
	// Name identifies the provider in logs and stats.
	Name() string
	// Search returns all known matches for the fingerprint. An empty
	// result means the provider knows nothing about the content.
	Search(ctx context.Context, fp *content.Fingerprint) ([]Match, error)
}
