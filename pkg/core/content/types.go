package content

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// MaxTextLength is the maximum length of a submission's text content
	MaxTextLength = 2000
)

// ErrMalformedInput indicates a structurally invalid submission. It is the
// only error the pipeline surfaces to callers; collaborator faults degrade
// the verdict instead.
var ErrMalformedInput = errors.New("malformed input")

// EvidenceLevel describes how much of the evidence backing a result section
// was actually gathered.
type EvidenceLevel string

const (
	EvidenceFull    EvidenceLevel = "full"
	EvidencePartial EvidenceLevel = "partial"
	EvidenceNone    EvidenceLevel = "none"
)

// FileBlob is one uploaded file. Read-only once attached to a Submission.
type FileBlob struct {
	Bytes        []byte    `json:"-"`
	OriginalName string    `json:"original_name"`
	DeclaredMime string    `json:"declared_mime"`
	LastModified time.Time `json:"last_modified"`
	SizeBytes    int64     `json:"size_bytes"`
}

// Submission is one verification request: a text payload plus an ordered
// set of files. Immutable once handed to the pipeline.
type Submission struct {
	ID          string     `json:"id"`
	TextContent string     `json:"text_content"`
	Files       []FileBlob `json:"files"`
	SubmittedAt time.Time  `json:"submitted_at"`
	// SubmitterID identifies the caller; passed in explicitly, never read
	// from ambient state.
	SubmitterID string `json:"submitter_id,omitempty"`
}

// NewSubmission creates a submission with a fresh ID and validates its shape.
func NewSubmission(text string, files []FileBlob, submitterID string) (*Submission, error) {
	sub := &Submission{
		ID:          uuid.New().String(),
		TextContent: text,
		Files:       files,
		SubmittedAt: time.Now().UTC(),
		SubmitterID: submitterID,
	}
	if err := sub.Validate(); err != nil {
		return nil, err
	}
	return sub, nil
}

// Validate checks structural requirements. Violations are MalformedInput.
func (s *Submission) Validate() error {
	if s.TextContent == "" && len(s.Files) == 0 {
		return fmt.Errorf("%w: submission must carry text or at least one file", ErrMalformedInput)
	}
	if len(s.TextContent) > MaxTextLength {
		return fmt.Errorf("%w: text content exceeds %d characters", ErrMalformedInput, MaxTextLength)
	}
	for i, f := range s.Files {
		if len(f.Bytes) == 0 {
			return fmt.Errorf("%w: file %d (%s) is empty", ErrMalformedInput, i, f.OriginalName)
		}
		if f.SizeBytes != int64(len(f.Bytes)) {
			return fmt.Errorf("%w: file %d (%s) declared size %d does not match %d bytes",
				ErrMalformedInput, i, f.OriginalName, f.SizeBytes, len(f.Bytes))
		}
	}
	return nil
}

// Fingerprint is the stable derived identity of one file's content.
// Keyed by ContentHash: byte-identical files always produce the same value.
type Fingerprint struct {
	ContentHash        string    `json:"content_hash"`
	PerceptualFeatures []float64 `json:"perceptual_features,omitempty"`
	SizeBytes          int64     `json:"size_bytes"`
	MimeType           string    `json:"mime_type"`
}

// LeakStatus classifies aggregated reverse-search similarity.
type LeakStatus string

const (
	LeakClean     LeakStatus = "clean"
	LeakSuspected LeakStatus = "suspected"
	LeakConfirmed LeakStatus = "confirmed"
)

// LeakMatchResult is the aggregated outcome of the reverse-search fan-out
// for one file. Immutable after creation.
type LeakMatchResult struct {
	MatchID        string        `json:"match_id"`
	OriginalSource string        `json:"original_source,omitempty"`
	Similarity     float64       `json:"similarity"`
	Confidence     float64       `json:"confidence"`
	FirstSeen      *time.Time    `json:"first_seen,omitempty"`
	Status         LeakStatus    `json:"status"`
	Evidence       EvidenceLevel `json:"evidence"`
	Incomplete     bool          `json:"incomplete,omitempty"`
}

// ManipulationType tags one forensic manipulation indicator.
type ManipulationType string

const (
	ManipMetadataStripped ManipulationType = "metadata-stripped"
	ManipMultiCompression ManipulationType = "multiple-compression"
	ManipEditingSoftware  ManipulationType = "editing-software-detected"
	ManipCompressionAnom  ManipulationType = "compression-anomaly"
	ManipRecentlyCreated  ManipulationType = "recently-created"
)

// FileMetadata is the snapshot of file facts recorded alongside forensic
// findings.
type FileMetadata struct {
	SizeBytes    int64     `json:"size_bytes"`
	MimeType     string    `json:"mime_type"`
	LastModified time.Time `json:"last_modified"`
	HashPrefix   string    `json:"hash_prefix"`
}

// ForensicResult is the manipulation assessment for one file.
// Authentic is true iff no manipulation tags were detected.
type ForensicResult struct {
	Authentic         bool               `json:"authentic"`
	Confidence        float64            `json:"confidence"`
	ManipulationTypes []ManipulationType `json:"manipulation_types,omitempty"`
	Metadata          FileMetadata       `json:"metadata"`
	Incomplete        bool               `json:"incomplete,omitempty"`
}

// ModerationCategory tags one disallowed content category.
type ModerationCategory string

const (
	CategoryMisinformation    ModerationCategory = "misinformation"
	CategoryViralManipulation ModerationCategory = "viral-manipulation"
	CategoryHarmfulContent    ModerationCategory = "harmful-content"
	CategorySpamContent       ModerationCategory = "spam-content"
	CategoryAdultContent      ModerationCategory = "adult-content"
	CategorySyntheticContent  ModerationCategory = "synthetic-content"
	CategoryEmotionalHooks    ModerationCategory = "emotional-manipulation"
)

// Recommendation is the moderation disposition for a submission's text.
type Recommendation string

const (
	RecommendApprove Recommendation = "approve"
	RecommendReview  Recommendation = "review"
	RecommendReject  Recommendation = "reject"
)

// ModerationResult is the moderation outcome for a submission's text.
type ModerationResult struct {
	Score          float64              `json:"score"`
	Flags          []ModerationCategory `json:"flags,omitempty"`
	Recommendation Recommendation       `json:"recommendation"`
	Confidence     float64              `json:"confidence"`
	Evidence       EvidenceLevel        `json:"evidence"`
}

// StorageReceipt records the content address of an archived file.
type StorageReceipt struct {
	ContentIdentifier string `json:"content_identifier"`
}

// FileVerdict is the per-file slice of a Verdict, at the same ordinal
// index as the submission file it describes.
type FileVerdict struct {
	OriginalName string           `json:"original_name"`
	Fingerprint  *Fingerprint     `json:"fingerprint,omitempty"`
	Forensic     *ForensicResult  `json:"forensic,omitempty"`
	LeakMatch    *LeakMatchResult `json:"leak_match,omitempty"`
	Receipt      *StorageReceipt  `json:"receipt,omitempty"`
	Incomplete   bool             `json:"incomplete,omitempty"`
}

// VerdictState is the terminal pipeline state recorded on the verdict.
type VerdictState string

const (
	VerdictCompleted VerdictState = "completed"
	VerdictFailed    VerdictState = "failed"
)

// Verdict is the final, immutable output of one pipeline run. File results
// appear in the same order as the submission's files regardless of the
// completion order of the underlying analyses.
type Verdict struct {
	ID           string            `json:"id"`
	SubmissionID string            `json:"submission_id"`
	SubmitterID  string            `json:"submitter_id,omitempty"`
	State        VerdictState      `json:"state"`
	Moderation   *ModerationResult `json:"moderation,omitempty"`
	Files        []FileVerdict     `json:"files"`
	Archived     bool              `json:"archived"`
	StartedAt    time.Time         `json:"started_at"`
	CompletedAt  time.Time         `json:"completed_at"`
	// FailureCause is set only when State == failed.
	FailureCause string `json:"failure_cause,omitempty"`
}
