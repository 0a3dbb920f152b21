package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trunet-labs/trunet/pkg/core/content"
)

func sampleVerdict(id, submissionID string, rec content.Recommendation) *content.Verdict {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &content.Verdict{
		ID:           id,
		SubmissionID: submissionID,
		SubmitterID:  "reviewer-1",
		State:        content.VerdictCompleted,
		Moderation: &content.ModerationResult{
			Score:          0.42,
			Flags:          []content.ModerationCategory{content.CategoryViralManipulation},
			Recommendation: rec,
			Confidence:     0.85,
			Evidence:       content.EvidenceFull,
		},
		Files: []content.FileVerdict{
			{
				OriginalName: "photo.jpg",
				Fingerprint: &content.Fingerprint{
					ContentHash: "aabbcc",
					SizeBytes:   100,
					MimeType:    "image/jpeg",
				},
			},
		},
		StartedAt:   now.Add(-time.Second),
		CompletedAt: now,
	}
}

func TestVerdictRoundTrip(t *testing.T) {
	ctx := context.Background()
	container, connStr := setupTestContainer(t, ctx)
	defer container.Terminate(ctx)

	db := setupTestDatabase(t, ctx, connStr)
	defer db.Close()

	verdict := sampleVerdict("v-1", "s-1", content.RecommendReview)
	require.NoError(t, db.SaveVerdict(ctx, verdict, "BREAKING: share now"))

	record, err := db.GetVerdict(ctx, "v-1")
	require.NoError(t, err)
	assert.Equal(t, "v-1", record.Verdict.ID)
	assert.Equal(t, "s-1", record.Verdict.SubmissionID)
	assert.Equal(t, content.RecommendReview, record.Verdict.Moderation.Recommendation)
	assert.Equal(t, "BREAKING: share now", record.TextContent)
	require.Len(t, record.Verdict.Files, 1)
	assert.Equal(t, "aabbcc", record.Verdict.Files[0].Fingerprint.ContentHash)
}

func TestGetVerdictNotFound(t *testing.T) {
	ctx := context.Background()
	container, connStr := setupTestContainer(t, ctx)
	defer container.Terminate(ctx)

	db := setupTestDatabase(t, ctx, connStr)
	defer db.Close()

	_, err := db.GetVerdict(ctx, "missing")
	assert.ErrorIs(t, err, ErrVerdictNotFound)
}

func TestListRecentOrdersByCompletion(t *testing.T) {
	ctx := context.Background()
	container, connStr := setupTestContainer(t, ctx)
	defer container.Terminate(ctx)

	db := setupTestDatabase(t, ctx, connStr)
	defer db.Close()

	older := sampleVerdict("v-old", "s-1", content.RecommendApprove)
	older.CompletedAt = time.Now().UTC().Add(-time.Hour)
	newer := sampleVerdict("v-new", "s-2", content.RecommendReject)

	require.NoError(t, db.SaveVerdict(ctx, older, "old text"))
	require.NoError(t, db.SaveVerdict(ctx, newer, "new text"))

	records, err := db.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "v-new", records[0].Verdict.ID)
	assert.Equal(t, "v-old", records[1].Verdict.ID)
}

func TestCountByRecommendation(t *testing.T) {
	ctx := context.Background()
	container, connStr := setupTestContainer(t, ctx)
	defer container.Terminate(ctx)

	db := setupTestDatabase(t, ctx, connStr)
	defer db.Close()

	require.NoError(t, db.SaveVerdict(ctx, sampleVerdict("v-1", "s-1", content.RecommendApprove), ""))
	require.NoError(t, db.SaveVerdict(ctx, sampleVerdict("v-2", "s-2", content.RecommendApprove), ""))
	require.NoError(t, db.SaveVerdict(ctx, sampleVerdict("v-3", "s-3", content.RecommendReject), ""))

	counts, err := db.CountByRecommendation(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts["approve"])
	assert.Equal(t, int64(1), counts["reject"])
}
