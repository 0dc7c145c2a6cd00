package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/regwatch/backend/internal/storage/models"
)

const reviewColumns = `id, offender_id, status, confidence_score, candidates,
	selected_candidate, reviewed_by, reviewed_at, created_at`

func (c *Client) CreateMatchReview(ctx context.Context, review *models.MatchReview) error {
	candidatesJSON, err := json.Marshal(review.Candidates)
	if err != nil {
		return fmt.Errorf("failed to marshal review candidates: %w", err)
	}

	query := `
		INSERT INTO match_reviews
			(id, offender_id, status, confidence_score, candidates, selected_candidate, reviewed_by, reviewed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = c.db.ExecContext(ctx, query,
		review.ID,
		review.OffenderID,
		review.Status,
		review.ConfidenceScore,
		string(candidatesJSON),
		review.SelectedCandidate,
		review.ReviewedBy,
		nullableUnix(review.ReviewedAt),
		review.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert match review: %w", err)
	}
	return nil
}

func (c *Client) GetMatchReview(ctx context.Context, id string) (*models.MatchReview, error) {
	query := fmt.Sprintf(`SELECT %s FROM match_reviews WHERE id = ?`, reviewColumns)

	review, err := scanReview(c.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return review, err
}

// UpdateMatchReview persists a reviewer action. Reviews are never deleted;
// the row is the audit trail.
func (c *Client) UpdateMatchReview(ctx context.Context, review *models.MatchReview) error {
	query := `
		UPDATE match_reviews SET
			status = ?,
			selected_candidate = ?,
			reviewed_by = ?,
			reviewed_at = ?
		WHERE id = ?
	`
	result, err := c.db.ExecContext(ctx, query,
		review.Status,
		review.SelectedCandidate,
		review.ReviewedBy,
		nullableUnix(review.ReviewedAt),
		review.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update match review: %w", err)
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("match review %s not found", review.ID)
	}
	return nil
}

func (c *Client) ListMatchReviews(ctx context.Context, status string) ([]models.MatchReview, error) {
	query := fmt.Sprintf(`SELECT %s FROM match_reviews WHERE status = ? ORDER BY created_at`, reviewColumns)

	rows, err := c.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list match reviews: %w", err)
	}
	defer rows.Close()

	var reviews []models.MatchReview
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		reviews = append(reviews, *r)
	}
	return reviews, rows.Err()
}

func scanReview(row rowScanner) (*models.MatchReview, error) {
	var r models.MatchReview
	var candidatesJSON string
	var reviewedAt sql.NullInt64
	var createdAt int64

	err := row.Scan(
		&r.ID,
		&r.OffenderID,
		&r.Status,
		&r.ConfidenceScore,
		&candidatesJSON,
		&r.SelectedCandidate,
		&r.ReviewedBy,
		&reviewedAt,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan match review: %w", err)
	}

	if candidatesJSON != "" {
		if err := json.Unmarshal([]byte(candidatesJSON), &r.Candidates); err != nil {
			return nil, fmt.Errorf("failed to unmarshal review candidates: %w", err)
		}
	}
	if reviewedAt.Valid {
		t := time.Unix(reviewedAt.Int64, 0)
		r.ReviewedAt = &t
	}
	r.CreatedAt = time.Unix(createdAt, 0)
	return &r, nil
}
