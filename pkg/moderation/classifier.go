// Package moderation scores free text against a fixed set of weighted
// category detectors. Classification is fully deterministic: identical text
// always yields identical score, flags and recommendation. An optional
// external model can refine category scores; when it is unreachable the
// classifier falls back to its built-in detectors with reduced confidence.
package moderation

import (
	"context"
	"errors"
	"regexp"
	"sort"

	"github.com/trunet-labs/trunet/pkg/core/content"
	"github.com/trunet-labs/trunet/pkg/infrastructure/logging"
)

// ErrModelUnavailable indicates the external moderation model could not be
// reached. The classifier absorbs it and degrades to detector-only scoring.
var ErrModelUnavailable = errors.New("moderation model unavailable")

// Recommendation thresholds. Boundaries belong to the stricter tier.
const (
	reviewThreshold = 0.3
	rejectThreshold = 0.7
)

const (
	confidenceWithModel    = 0.90
	confidenceDetectorOnly = 0.85
	confidenceDegraded     = 0.70

	// A category's contribution saturates after this many pattern hits.
	saturationHits = 3
)

// detector is one weighted category pattern.
type detector struct {
	category content.ModerationCategory
	pattern  *regexp.Regexp
	weight   float64
}

var defaultDetectors = []detector{
	{content.CategoryMisinformation, regexp.MustCompile(`(?i)fake|hoax|false|lie|misinformation|conspiracy`), 0.6},
	{content.CategoryViralManipulation, regexp.MustCompile(`(?i)urgent|share now|forward this|breaking|exclusive|must see|before (they|it.?s) (delete|remove|taken down)`), 0.4},
	{content.CategoryHarmfulContent, regexp.MustCompile(`(?i)hate|violence|threat|harm|kill|die|attack`), 0.8},
	{content.CategorySpamContent, regexp.MustCompile(`(?i)spam|scam|phishing|click here|free money|win now`), 0.7},
	{content.CategoryAdultContent, regexp.MustCompile(`(?i)leaked|intimate|nude|sex|adult|explicit`), 0.5},
	{content.CategorySyntheticContent, regexp.MustCompile(`(?i)deepfake|ai generated|synthetic|manipulated|edited`), 0.6},
}

// emotionalPattern contributes a flat weight when any hook phrase appears.
var emotionalPattern = regexp.MustCompile(`(?i)amazing|incredible|shocking|unbelievable|you won.?t believe|mind.?blown`)

const emotionalWeight = 0.3

// ModelClient scores text with an external moderation model.
type ModelClient interface {
	Score(ctx context.Context, text string) (map[content.ModerationCategory]float64, error)
}

// Classifier runs the category detectors, optionally refined by a model.
type Classifier struct {
	detectors []detector
	model     ModelClient
	logger    *logging.Logger
}

// NewClassifier creates a detector-only classifier.
func NewClassifier(logger *logging.Logger) *Classifier {
	if logger == nil {
		logger = logging.GetGlobalLogger().WithComponent("moderation")
	}
	return &Classifier{
		detectors: defaultDetectors,
		logger:    logger,
	}
}

// NewClassifierWithModel creates a classifier backed by an external model.
func NewClassifierWithModel(model ModelClient, logger *logging.Logger) *Classifier {
	c := NewClassifier(logger)
	c.model = model
	return c
}

// Classify scores text and derives flags and a recommendation. Never fails;
// a missing or unreachable model only lowers the reported confidence.
func (c *Classifier) Classify(ctx context.Context, text string) *content.ModerationResult {
	categoryScores := make(map[content.ModerationCategory]float64)

	for _, d := range c.detectors {
		hits := len(d.pattern.FindAllStringIndex(text, -1))
		if hits == 0 {
			continue
		}
		saturation := float64(hits) / saturationHits
		if saturation > 1 {
			saturation = 1
		}
		categoryScores[d.category] = d.weight * saturation
	}

	if emotionalPattern.MatchString(text) {
		categoryScores[content.CategoryEmotionalHooks] = emotionalWeight
	}

	confidence := confidenceDetectorOnly
	evidence := content.EvidenceFull

	if c.model != nil {
		modelScores, err := c.model.Score(ctx, text)
		if err != nil {
			c.logger.Warn("moderation model unavailable, using detectors only", map[string]interface{}{
				"error": err.Error(),
			})
			confidence = confidenceDegraded
			evidence = content.EvidencePartial
		} else {
			confidence = confidenceWithModel
			for _, d := range c.detectors {
				if s, ok := modelScores[d.category]; ok {
					contribution := d.weight * clamp01(s)
					if contribution > categoryScores[d.category] {
						categoryScores[d.category] = contribution
					}
				}
			}
			if s, ok := modelScores[content.CategoryEmotionalHooks]; ok && s > 0 {
				if emotionalWeight > categoryScores[content.CategoryEmotionalHooks] {
					categoryScores[content.CategoryEmotionalHooks] = emotionalWeight
				}
			}
		}
	}

	total := 0.0
	flags := make([]content.ModerationCategory, 0, len(categoryScores))
	for category, score := range categoryScores {
		if score <= 0 {
			continue
		}
		total += score
		flags = append(flags, category)
	}
	sort.Slice(flags, func(i, j int) bool { return flags[i] < flags[j] })

	if total > 1.0 {
		total = 1.0
	}

	return &content.ModerationResult{
		Score:          total,
		Flags:          flags,
		Recommendation: recommend(total),
		Confidence:     confidence,
		Evidence:       evidence,
	}
}

// recommend maps a score to a disposition. Exact boundary values fall into
// the stricter tier.
func recommend(score float64) content.Recommendation {
	switch {
	case score < reviewThreshold:
		return content.RecommendApprove
	case score < rejectThreshold:
		return content.RecommendReview
	default:
		return content.RecommendReject
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
