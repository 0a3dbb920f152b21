package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/trunet-labs/trunet/pkg/core/content"
)

// ErrVerdictNotFound indicates no verdict exists for the requested ID.
var ErrVerdictNotFound = errors.New("verdict not found")

// VerdictRecord pairs a verdict with the submission text it judged, so
// compliance reviewers can see what was moderated.
type VerdictRecord struct {
	Verdict     *content.Verdict `json:"verdict"`
	TextContent string           `json:"text_content"`
}

// SaveVerdict persists a verdict and the text it judged.
func (db *AuditDatabase) SaveVerdict(ctx context.Context, verdict *content.Verdict, textContent string) error {
	payload, err := json.Marshal(verdict)
	if err != nil {
		return fmt.Errorf("failed to encode verdict: %w", err)
	}

	query := `
		INSERT INTO verdicts (
			verdict_id, submission_id, submitter_id, state, recommendation,
			moderation_score, archived, text_content, payload, started_at, completed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)`

	recommendation := ""
	score := 0.0
	if verdict.Moderation != nil {
		recommendation = string(verdict.Moderation.Recommendation)
		score = verdict.Moderation.Score
	}

	_, err = db.pool.Exec(ctx, query,
		verdict.ID,
		verdict.SubmissionID,
		verdict.SubmitterID,
		string(verdict.State),
		recommendation,
		score,
		verdict.Archived,
		textContent,
		payload,
		verdict.StartedAt,
		verdict.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save verdict: %w", err)
	}

	return nil
}

// GetVerdict retrieves a verdict record by verdict ID.
func (db *AuditDatabase) GetVerdict(ctx context.Context, verdictID string) (*VerdictRecord, error) {
	query := `SELECT payload, text_content FROM verdicts WHERE verdict_id = $1`

	var payload []byte
	var textContent string
	err := db.pool.QueryRow(ctx, query, verdictID).Scan(&payload, &textContent)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", ErrVerdictNotFound, verdictID)
		}
		return nil, fmt.Errorf("failed to get verdict: %w", err)
	}

	verdict := &content.Verdict{}
	if err := json.Unmarshal(payload, verdict); err != nil {
		return nil, fmt.Errorf("failed to decode verdict payload: %w", err)
	}

	return &VerdictRecord{Verdict: verdict, TextContent: textContent}, nil
}

// ListRecent returns the most recently completed verdicts, newest first.
func (db *AuditDatabase) ListRecent(ctx context.Context, limit int) ([]*VerdictRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT payload, text_content
		FROM verdicts
		ORDER BY completed_at DESC
		LIMIT $1`

	rows, err := db.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list verdicts: %w", err)
	}
	defer rows.Close()

	var records []*VerdictRecord
	for rows.Next() {
		var payload []byte
		var textContent string
		if err := rows.Scan(&payload, &textContent); err != nil {
			return nil, fmt.Errorf("failed to scan verdict row: %w", err)
		}
		verdict := &content.Verdict{}
		if err := json.Unmarshal(payload, verdict); err != nil {
			return nil, fmt.Errorf("failed to decode verdict payload: %w", err)
		}
		records = append(records, &VerdictRecord{Verdict: verdict, TextContent: textContent})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate verdict rows: %w", err)
	}

	return records, nil
}

// CountByRecommendation returns verdict counts grouped by moderation
// recommendation.
func (db *AuditDatabase) CountByRecommendation(ctx context.Context) (map[string]int64, error) {
	query := `SELECT recommendation, COUNT(*) FROM verdicts GROUP BY recommendation`

	rows, err := db.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count verdicts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var recommendation string
		var count int64
		if err := rows.Scan(&recommendation, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count row: %w", err)
		}
		counts[recommendation] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate count rows: %w", err)
	}

	return counts, nil
}
