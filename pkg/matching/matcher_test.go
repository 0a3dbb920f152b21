package matching

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/trunet-labs/trunet/pkg/core/content"
	"github.com/trunet-labs/trunet/pkg/resilience"
)

type stubProvider struct {
	name    string
	matches []Match
	err     error
	calls   int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Search(_ context.Context, _ *content.Fingerprint) ([]Match, error) {
	s.calls++
	return s.matches, s.err
}

func testFingerprint() *content.Fingerprint {
	return &content.Fingerprint{
		ContentHash: "aabbccddeeff00112233445566778899aabbccddeeff00112233445566778899",
		SizeBytes:   1024,
		MimeType:    "image/jpeg",
	}
}

func noRetry() *resilience.RetryConfig {
	return &resilience.RetryConfig{
		MaxRetries:        0,
		InitialDelay:      time.Millisecond,
		MaxDelay:          time.Millisecond,
		BackoffMultiplier: 1,
	}
}

func TestMatchTakesMaximumSimilarity(t *testing.T) {
	providers := []Provider{
		&stubProvider{name: "a", matches: []Match{{Source: "site-a", Similarity: 0.4}}},
		&stubProvider{name: "b", matches: []Match{{Source: "site-b", Similarity: 0.9}}},
		&stubProvider{name: "c", matches: []Match{{Source: "site-c", Similarity: 0.6}}},
	}
	result := NewMatcher(providers, noRetry(), nil).Match(context.Background(), testFingerprint())

	if result.Similarity != 0.9 {
		t.Errorf("expected max similarity 0.9, got %f", result.Similarity)
	}
	if result.OriginalSource != "site-b" {
		t.Errorf("expected source of best match, got %s", result.OriginalSource)
	}
	if result.Status != content.LeakConfirmed {
		t.Errorf("expected confirmed, got %s", result.Status)
	}
	if result.Evidence != content.EvidenceFull {
		t.Errorf("expected full evidence, got %s", result.Evidence)
	}
}

func TestStatusThresholds(t *testing.T) {
	tests := []struct {
		similarity float64
		want       content.LeakStatus
	}{
		{0.0, content.LeakClean},
		{0.49, content.LeakClean},
		{0.5, content.LeakSuspected},
		{0.79, content.LeakSuspected},
		{0.8, content.LeakConfirmed},
		{1.0, content.LeakConfirmed},
	}

	for _, tt := range tests {
		if got := statusFor(tt.similarity); got != tt.want {
			t.Errorf("statusFor(%f) = %s, want %s", tt.similarity, got, tt.want)
		}
	}
}

func TestAllProvidersFailYieldsUncertainClean(t *testing.T) {
	providers := []Provider{
		&stubProvider{name: "a", err: ErrProviderUnavailable},
		&stubProvider{name: "b", err: ErrProviderUnavailable},
	}
	result := NewMatcher(providers, noRetry(), nil).Match(context.Background(), testFingerprint())

	if result.Status != content.LeakClean {
		t.Errorf("expected clean status, got %s", result.Status)
	}
	if result.Confidence != 0 {
		t.Errorf("total failure must report zero confidence, got %f", result.Confidence)
	}
	if result.Evidence != content.EvidenceNone {
		t.Errorf("expected no evidence, got %s", result.Evidence)
	}
	if !result.Incomplete {
		t.Error("total failure should mark the result incomplete")
	}
}

func TestPartialFailureScalesConfidence(t *testing.T) {
	providers := []Provider{
		&stubProvider{name: "a", matches: []Match{{Source: "site-a", Similarity: 0.3}}},
		&stubProvider{name: "b", err: ErrProviderUnavailable},
	}
	result := NewMatcher(providers, noRetry(), nil).Match(context.Background(), testFingerprint())

	if result.Evidence != content.EvidencePartial {
		t.Errorf("expected partial evidence, got %s", result.Evidence)
	}
	if result.Confidence >= fullEvidenceConfidence {
		t.Errorf("partial evidence should lower confidence, got %f", result.Confidence)
	}
	if result.Confidence == 0 {
		t.Error("one answering provider should leave nonzero confidence")
	}
}

func TestNoProvidersConfigured(t *testing.T) {
	result := NewMatcher(nil, noRetry(), nil).Match(context.Background(), testFingerprint())

	if result.Status != content.LeakClean {
		t.Errorf("expected clean, got %s", result.Status)
	}
	if result.Confidence != 0 || result.Evidence != content.EvidenceNone {
		t.Error("no providers means no evidence")
	}
}

func TestRetryStopsOnPermanentProviderError(t *testing.T) {
	p := &stubProvider{name: "a", err: ErrProviderUnavailable}
	retry := &resilience.RetryConfig{
		MaxRetries:        3,
		InitialDelay:      time.Millisecond,
		MaxDelay:          time.Millisecond,
		BackoffMultiplier: 1,
	}

	NewMatcher([]Provider{p}, retry, nil).Match(context.Background(), testFingerprint())
	if p.calls != 4 {
		t.Errorf("unavailable provider should be retried, got %d calls", p.calls)
	}

	permanent := &stubProvider{name: "b", err: context.Canceled}
	NewMatcher([]Provider{permanent}, retry, nil).Match(context.Background(), testFingerprint())
	if permanent.calls != 1 {
		t.Errorf("permanent error should not be retried, got %d calls", permanent.calls)
	}
}

func TestBloomProviderNeverForgetsKnownHash(t *testing.T) {
	p := NewBloomProvider()
	fp := testFingerprint()
	p.AddHash(fp.ContentHash)

	for i := 0; i < 10; i++ {
		matches, err := p.Search(context.Background(), fp)
		if err != nil {
			t.Fatalf("bloom search should not fail: %v", err)
		}
		if len(matches) != 1 {
			t.Fatal("known hash must always hit")
		}
		if matches[0].Similarity < 0.5 || matches[0].Similarity >= 0.8 {
			t.Errorf("bloom hit should read as suspected, got similarity %f", matches[0].Similarity)
		}
	}
}

func TestBloomProviderSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leaks.bloom")
	p := NewBloomProvider()
	fp := testFingerprint()
	p.AddHash(fp.ContentHash)

	if err := p.Save(path); err != nil {
		t.Fatalf("failed to save snapshot: %v", err)
	}

	loaded, err := LoadBloomProvider(path)
	if err != nil {
		t.Fatalf("failed to load snapshot: %v", err)
	}
	matches, err := loaded.Search(context.Background(), fp)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Error("snapshot should preserve known hashes")
	}
}

func TestHTTPProviderSearch(t *testing.T) {
	firstSeen := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"matches": [{"source": "darkweb-forum", "similarity": 0.85, "first_seen": "2025-06-01T00:00:00Z"}]}`))
	}))
	defer server.Close()

	p, err := NewHTTPProvider(&HTTPProviderConfig{Name: "test", Endpoint: server.URL, Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	matches, err := p.Search(context.Background(), testFingerprint())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 1 || matches[0].Similarity != 0.85 {
		t.Fatalf("unexpected matches: %+v", matches)
	}
	if matches[0].FirstSeen == nil || !matches[0].FirstSeen.Equal(firstSeen) {
		t.Errorf("expected first seen timestamp, got %v", matches[0].FirstSeen)
	}
}

func TestHTTPProviderUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	server.Close() // refuse all connections

	p, err := NewHTTPProvider(&HTTPProviderConfig{Endpoint: server.URL, Timeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Search(context.Background(), testFingerprint()); err == nil {
		t.Error("closed server should yield an error")
	}
}

func TestHTTPProviderClampsSimilarity(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"matches": [{"source": "x", "similarity": 1.7}, {"source": "y", "similarity": -0.2}]}`))
	}))
	defer server.Close()

	p, err := NewHTTPProvider(&HTTPProviderConfig{Endpoint: server.URL})
	if err != nil {
		t.Fatal(err)
	}
	matches, err := p.Search(context.Background(), testFingerprint())
	if err != nil {
		t.Fatal(err)
	}
	if matches[0].Similarity != 1 || matches[1].Similarity != 0 {
		t.Errorf("similarities should be clamped to [0,1]: %+v", matches)
	}
}
