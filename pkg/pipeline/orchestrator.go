// Package pipeline coordinates the verification of one submission: it fans
// file analyses and text moderation out concurrently, gates archiving on the
// moderation recommendation, and assembles a single verdict. Collaborator
// faults degrade result fields; only a malformed submission is fatal.
package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/trunet-labs/trunet/pkg/core/content"
	"github.com/trunet-labs/trunet/pkg/core/fingerprint"
	"github.com/trunet-labs/trunet/pkg/core/forensics"
	"github.com/trunet-labs/trunet/pkg/infrastructure/logging"
	"github.com/trunet-labs/trunet/pkg/matching"
	"github.com/trunet-labs/trunet/pkg/moderation"
	"github.com/trunet-labs/trunet/pkg/storage"
)

// State is one stage of a submission's run through the pipeline.
type State string

const (
	StateReceived  State = "received"
	StateAnalyzing State = "analyzing"
	StateGating    State = "gating"
	StateArchiving State = "archiving"
	StateSkipped   State = "skipped"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// ProgressEvent reports a stage transition for one submission.
type ProgressEvent struct {
	SubmissionID string    `json:"submission_id"`
	State        State     `json:"state"`
	Timestamp    time.Time `json:"timestamp"`
	Detail       string    `json:"detail,omitempty"`
}

// ProgressFunc receives stage transitions. Must not block.
type ProgressFunc func(ProgressEvent)

// Options are per-call processing options.
type Options struct {
	// Timeout bounds the whole Process call. Zero means no limit. On
	// expiry the verdict is assembled from whatever results completed,
	// with the rest marked incomplete.
	Timeout time.Duration
}

// Stats holds pipeline counters.
type Stats struct {
	Processed int64 `json:"processed"`
	Approved  int64 `json:"approved"`
	Reviewed  int64 `json:"reviewed"`
	Rejected  int64 `json:"rejected"`
	Failed    int64 `json:"failed"`
	Archived  int64 `json:"archived"`
}

// Orchestrator runs submissions through the verification pipeline.
type Orchestrator struct {
	analyzer   *forensics.Analyzer
	classifier *moderation.Classifier
	matcher    *matching.Matcher
	store      *storage.Client
	logger     *logging.Logger
	progress   ProgressFunc

	processed int64
	approved  int64
	reviewed  int64
	rejected  int64
	failed    int64
	archived  int64
}

// Config wires the orchestrator's components.
type Config struct {
	Analyzer   *forensics.Analyzer
	Classifier *moderation.Classifier
	Matcher    *matching.Matcher
	Store      *storage.Client
	Logger     *logging.Logger
	Progress   ProgressFunc
}

// NewOrchestrator creates a pipeline from the given components.
func NewOrchestrator(config Config) *Orchestrator {
	logger := config.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger().WithComponent("pipeline")
	}
	return &Orchestrator{
		analyzer:   config.Analyzer,
		classifier: config.Classifier,
		matcher:    config.Matcher,
		store:      config.Store,
		logger:     logger,
		progress:   config.Progress,
	}
}

type fileOutcome struct {
	index   int
	verdict content.FileVerdict
}

// Process runs one submission through the pipeline and returns its verdict.
// Fails only with MalformedInput; provider, model and store faults are
// absorbed into the verdict's fields.
func (o *Orchestrator) Process(ctx context.Context, sub *content.Submission, opts *Options) (*content.Verdict, error) {
	started := time.Now().UTC()
	atomic.AddInt64(&o.processed, 1)

	if err := sub.Validate(); err != nil {
		atomic.AddInt64(&o.failed, 1)
		o.emit(sub.ID, StateFailed, err.Error())
		return nil, fmt.Errorf("rejecting submission %s: %w", sub.ID, err)
	}

	if opts != nil && opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	o.emit(sub.ID, StateReceived, "")
	o.emit(sub.ID, StateAnalyzing, fmt.Sprintf("%d files", len(sub.Files)))

	// Moderation runs concurrently with all file analyses.
	moderationCh := make(chan *content.ModerationResult, 1)
	go func() {
		moderationCh <- o.classifier.Classify(ctx, sub.TextContent)
	}()

	outcomes := make(chan fileOutcome, len(sub.Files))
	for i, file := range sub.Files {
		go func(i int, file content.FileBlob) {
			outcomes <- fileOutcome{index: i, verdict: o.analyzeFile(ctx, file)}
		}(i, file)
	}

	// Collect into index-addressed slots so the verdict preserves the
	// submission's file order no matter which analysis finishes first.
	fileVerdicts := make([]content.FileVerdict, len(sub.Files))
	for i, file := range sub.Files {
		fileVerdicts[i] = content.FileVerdict{OriginalName: file.OriginalName, Incomplete: true}
	}

	received := 0
	var moderationResult *content.ModerationResult
collect:
	for received < len(sub.Files) || moderationResult == nil {
		select {
		case outcome := <-outcomes:
			fileVerdicts[outcome.index] = outcome.verdict
			received++
		case result := <-moderationCh:
			moderationResult = result
			moderationCh = nil
		case <-ctx.Done():
			o.logger.Warn("submission timed out, assembling partial verdict", map[string]interface{}{
				"submission": sub.ID,
				"completed":  received,
				"files":      len(sub.Files),
			})
			break collect
		}
	}

	if moderationResult == nil {
		// Moderation never finished; without a recommendation nothing
		// can be approved for archiving.
		moderationResult = &content.ModerationResult{
			Recommendation: content.RecommendReview,
			Evidence:       content.EvidenceNone,
		}
	}

	o.emit(sub.ID, StateGating, string(moderationResult.Recommendation))
	o.countRecommendation(moderationResult.Recommendation)

	allArchived := false
	if moderationResult.Recommendation == content.RecommendApprove && ctx.Err() == nil {
		o.emit(sub.ID, StateArchiving, "")
		allArchived = o.archiveFiles(ctx, sub, fileVerdicts)
		if allArchived && len(sub.Files) > 0 {
			atomic.AddInt64(&o.archived, 1)
		}
	} else {
		o.emit(sub.ID, StateSkipped, "")
	}

	verdict := &content.Verdict{
		ID:           uuid.New().String(),
		SubmissionID: sub.ID,
		SubmitterID:  sub.SubmitterID,
		State:        content.VerdictCompleted,
		Moderation:   moderationResult,
		Files:        fileVerdicts,
		Archived:     allArchived && len(sub.Files) > 0,
		StartedAt:    started,
		CompletedAt:  time.Now().UTC(),
	}

	o.emit(sub.ID, StateCompleted, "")
	return verdict, nil
}

// analyzeFile runs fingerprinting, then forensics and leak matching
// concurrently, for a single file.
func (o *Orchestrator) analyzeFile(ctx context.Context, file content.FileBlob) content.FileVerdict {
	fv := content.FileVerdict{OriginalName: file.OriginalName}

	fp, err := fingerprint.Extract(file)
	if err != nil {
		// Validation should have caught this; degrade rather than fail
		// the whole submission.
		o.logger.Error("fingerprint extraction failed", map[string]interface{}{
			"file":  file.OriginalName,
			"error": err.Error(),
		})
		fv.Incomplete = true
		return fv
	}
	fv.Fingerprint = fp

	forensicCh := make(chan *content.ForensicResult, 1)
	go func() {
		forensicCh <- o.analyzer.Analyze(file, fp)
	}()

	matchCh := make(chan *content.LeakMatchResult, 1)
	go func() {
		matchCh <- o.matcher.Match(ctx, fp)
	}()

	for fv.Forensic == nil || fv.LeakMatch == nil {
		select {
		case fv.Forensic = <-forensicCh:
			forensicCh = nil
		case fv.LeakMatch = <-matchCh:
			matchCh = nil
		case <-ctx.Done():
			fv.Incomplete = true
			if fv.Forensic == nil {
				fv.Forensic = &content.ForensicResult{Incomplete: true}
			}
			if fv.LeakMatch == nil {
				fv.LeakMatch = &content.LeakMatchResult{
					MatchID:    uuid.New().String(),
					Status:     content.LeakClean,
					Evidence:   content.EvidenceNone,
					Incomplete: true,
				}
			}
			return fv
		}
	}

	if fv.LeakMatch.Incomplete {
		fv.Incomplete = true
	}
	return fv
}

// archiveFiles stores every analyzed file and attaches receipts in place.
// Returns true when all files were archived.
func (o *Orchestrator) archiveFiles(ctx context.Context, sub *content.Submission, fileVerdicts []content.FileVerdict) bool {
	if o.store == nil {
		return false
	}

	all := true
	for i, file := range sub.Files {
		if fileVerdicts[i].Fingerprint == nil {
			all = false
			continue
		}
		receipt, err := o.store.Store(ctx, file)
		if err != nil {
			o.logger.Warn("archiving failed, verdict stays partial", map[string]interface{}{
				"submission": sub.ID,
				"file":       file.OriginalName,
				"error":      err.Error(),
			})
			fileVerdicts[i].Incomplete = true
			all = false
			continue
		}
		fileVerdicts[i].Receipt = receipt
	}
	return all
}

func (o *Orchestrator) countRecommendation(rec content.Recommendation) {
	switch rec {
	case content.RecommendApprove:
		atomic.AddInt64(&o.approved, 1)
	case content.RecommendReview:
		atomic.AddInt64(&o.reviewed, 1)
	case content.RecommendReject:
		atomic.AddInt64(&o.rejected, 1)
	}
}

// GetStats returns a snapshot of the pipeline counters.
func (o *Orchestrator) GetStats() Stats {
	return Stats{
		Processed: atomic.LoadInt64(&o.processed),
		Approved:  atomic.LoadInt64(&o.approved),
		Reviewed:  atomic.LoadInt64(&o.reviewed),
		Rejected:  atomic.LoadInt64(&o.rejected),
		Failed:    atomic.LoadInt64(&o.failed),
		Archived:  atomic.LoadInt64(&o.archived),
	}
}

func (o *Orchestrator) emit(submissionID string, state State, detail string) {
	if o.progress != nil {
		o.progress(ProgressEvent{
			SubmissionID: submissionID,
			State:        state,
			Timestamp:    time.Now().UTC(),
			Detail:       detail,
		})
	}
}
