package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/regwatch/backend/internal/storage/models"
)

const sessionColumns = `id, agency_code, target_database, range_params, status,
	pages_processed, records_found, records_created, records_updated, records_existing,
	errors_count, error, started_at, finished_at`

func (c *Client) InsertSession(ctx context.Context, s *models.ScrapeSession) error {
	query := `
		INSERT INTO sessions (id, agency_code, target_database, range_params, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := c.db.ExecContext(ctx, query,
		s.ID,
		s.AgencyCode,
		s.TargetDatabase,
		s.RangeParams,
		s.Status,
		s.StartedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// UpdateSession persists the session's current status and counters. Only the
// owning controller calls this, so no read-modify-write is needed.
func (c *Client) UpdateSession(ctx context.Context, s *models.ScrapeSession) error {
	query := `
		UPDATE sessions SET
			status = ?,
			pages_processed = ?,
			records_found = ?,
			records_created = ?,
			records_updated = ?,
			records_existing = ?,
			errors_count = ?,
			error = ?,
			finished_at = ?
		WHERE id = ?
	`
	_, err := c.db.ExecContext(ctx, query,
		s.Status,
		s.Counters.PagesProcessed,
		s.Counters.RecordsFound,
		s.Counters.RecordsCreated,
		s.Counters.RecordsUpdated,
		s.Counters.RecordsExisting,
		s.Counters.ErrorsCount,
		s.Error,
		nullableUnix(s.FinishedAt),
		s.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

func (c *Client) GetSession(ctx context.Context, id string) (*models.ScrapeSession, error) {
	query := fmt.Sprintf(`SELECT %s FROM sessions WHERE id = ?`, sessionColumns)

	s, err := scanSession(c.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

func (c *Client) ListSessions(ctx context.Context, limit int) ([]models.ScrapeSession, error) {
	query := fmt.Sprintf(`SELECT %s FROM sessions ORDER BY started_at DESC LIMIT ?`, sessionColumns)

	rows, err := c.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.ScrapeSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

func scanSession(row rowScanner) (*models.ScrapeSession, error) {
	var s models.ScrapeSession
	var errText sql.NullString
	var startedAt int64
	var finishedAt sql.NullInt64

	err := row.Scan(
		&s.ID,
		&s.AgencyCode,
		&s.TargetDatabase,
		&s.RangeParams,
		&s.Status,
		&s.Counters.PagesProcessed,
		&s.Counters.RecordsFound,
		&s.Counters.RecordsCreated,
		&s.Counters.RecordsUpdated,
		&s.Counters.RecordsExisting,
		&s.Counters.ErrorsCount,
		&errText,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	s.Error = errText.String
	s.StartedAt = time.Unix(startedAt, 0)
	if finishedAt.Valid {
		t := time.Unix(finishedAt.Int64, 0)
		s.FinishedAt = &t
	}
	return &s, nil
}
