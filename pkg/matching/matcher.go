package matching

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/trunet-labs/trunet/pkg/core/content"
	"github.com/trunet-labs/trunet/pkg/infrastructure/logging"
	"github.com/trunet-labs/trunet/pkg/resilience"
)

// Leak status thresholds on the aggregated similarity. Boundary values
// belong to the more severe status.
const (
	confirmedThreshold = 0.8
	suspectedThreshold = 0.5
)

// fullEvidenceConfidence is the confidence reported when every provider
// answered. Partial answers scale it down by the answered fraction.
const fullEvidenceConfidence = 0.9

// Matcher fans a fingerprint out to all configured providers and takes the
// maximum similarity across the answers that arrived.
type Matcher struct {
	providers []Provider
	retry     *resilience.RetryConfig
	breakers  map[string]*resilience.CircuitBreaker
	logger    *logging.Logger
}

// NewMatcher creates a matcher over the given providers. Each provider gets
// its own circuit breaker so one flapping provider cannot slow the rest.
func NewMatcher(providers []Provider, retry *resilience.RetryConfig, logger *logging.Logger) *Matcher {
	if retry == nil {
		retry = resilience.DefaultRetryConfig()
	}
	if logger == nil {
		logger = logging.GetGlobalLogger().WithComponent("matching")
	}

	breakers := make(map[string]*resilience.CircuitBreaker, len(providers))
	for _, p := range providers {
		breakers[p.Name()] = resilience.NewCircuitBreaker(
			resilience.DefaultCircuitBreakerConfig(p.Name()))
	}

	return &Matcher{
		providers: providers,
		retry:     retry,
		breakers:  breakers,
		logger:    logger,
	}
}

type providerAnswer struct {
	matches []Match
	err     error
}

// Match queries all providers concurrently and aggregates their evidence.
// Never returns an error: total provider failure yields a clean result with
// zero confidence so the caller can tell "no evidence" from "evidence of
// absence".
func (m *Matcher) Match(ctx context.Context, fp *content.Fingerprint) *content.LeakMatchResult {
	if len(m.providers) == 0 {
		return &content.LeakMatchResult{
			MatchID:    uuid.New().String(),
			Similarity: 0,
			Confidence: 0,
			Status:     content.LeakClean,
			Evidence:   content.EvidenceNone,
		}
	}

	answers := make([]providerAnswer, len(m.providers))
	var wg sync.WaitGroup
	for i, provider := range m.providers {
		wg.Add(1)
		go func(i int, provider Provider) {
			defer wg.Done()
			answers[i] = m.queryProvider(ctx, provider, fp)
		}(i, provider)
	}
	wg.Wait()

	answered := 0
	best := Match{}
	for i, answer := range answers {
		if answer.err != nil {
			m.logger.Warn("provider failed after retries", map[string]interface{}{
				"provider": m.providers[i].Name(),
				"error":    answer.err.Error(),
			})
			continue
		}
		answered++
		for _, match := range answer.matches {
			if match.Similarity > best.Similarity {
				best = match
			}
		}
	}

	result := &content.LeakMatchResult{
		MatchID:    uuid.New().String(),
		Similarity: best.Similarity,
		Status:     statusFor(best.Similarity),
	}

	switch {
	case answered == 0:
		result.Confidence = 0
		result.Evidence = content.EvidenceNone
		result.Incomplete = true
	case answered < len(m.providers):
		result.Confidence = fullEvidenceConfidence * float64(answered) / float64(len(m.providers))
		result.Evidence = content.EvidencePartial
		result.Incomplete = true
	default:
		result.Confidence = fullEvidenceConfidence
		result.Evidence = content.EvidenceFull
	}

	if best.Similarity > 0 {
		result.OriginalSource = best.Source
		result.FirstSeen = best.FirstSeen
	}

	return result
}

// queryProvider runs one provider search under its circuit breaker with
// bounded retry.
func (m *Matcher) queryProvider(ctx context.Context, provider Provider, fp *content.Fingerprint) providerAnswer {
	breaker := m.breakers[provider.Name()]

	var matches []Match
	err := breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.RetryWithConfig(ctx, func(ctx context.Context) error {
			found, err := provider.Search(ctx, fp)
			if err != nil {
				return err
			}
			matches = found
			return nil
		}, m.retry)
	})

	return providerAnswer{matches: matches, err: err}
}

// statusFor maps aggregated similarity to a leak status. Boundary values
// fall into the more severe status.
func statusFor(similarity float64) content.LeakStatus {
	switch {
	case similarity >= confirmedThreshold:
		return content.LeakConfirmed
	case similarity >= suspectedThreshold:
		return content.LeakSuspected
	default:
		return content.LeakClean
	}
}
