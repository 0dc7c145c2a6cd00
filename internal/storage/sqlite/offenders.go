package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/regwatch/backend/internal/storage/models"
)

const offenderColumns = `id, name, normalized_name, registration_number, address_line,
	town, postcode, total_cases, total_notices, placeholder, created_at, updated_at`

func (c *Client) FindOffenderByRegNumber(ctx context.Context, regNumber string) (*models.Offender, error) {
	query := fmt.Sprintf(`SELECT %s FROM offenders WHERE registration_number = ? LIMIT 1`, offenderColumns)
	return c.scanOffenderRow(c.db.QueryRowContext(ctx, query, regNumber))
}

func (c *Client) FindOffenderByNormalizedName(ctx context.Context, normalized string) (*models.Offender, error) {
	query := fmt.Sprintf(`SELECT %s FROM offenders WHERE normalized_name = ? LIMIT 1`, offenderColumns)
	return c.scanOffenderRow(c.db.QueryRowContext(ctx, query, normalized))
}

func (c *Client) ListOffenders(ctx context.Context) ([]models.Offender, error) {
	query := fmt.Sprintf(`SELECT %s FROM offenders ORDER BY id`, offenderColumns)

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list offenders: %w", err)
	}
	defer rows.Close()

	var offenders []models.Offender
	for rows.Next() {
		o, err := scanOffender(rows)
		if err != nil {
			return nil, err
		}
		offenders = append(offenders, *o)
	}
	return offenders, rows.Err()
}

// CreateOffender inserts the offender or returns the existing row with the
// same normalized name. INSERT OR IGNORE plus re-select keeps concurrent
// sessions from racing duplicate offenders into being.
func (c *Client) CreateOffender(ctx context.Context, o models.Offender) (*models.Offender, error) {
	now := time.Now().Unix()
	query := `
		INSERT OR IGNORE INTO offenders
			(name, normalized_name, registration_number, address_line, town, postcode, placeholder, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	placeholder := 0
	if o.Placeholder {
		placeholder = 1
	}

	if _, err := c.db.ExecContext(ctx, query,
		o.Name,
		o.NormalizedName,
		nullableString(o.RegistrationNumber),
		o.AddressLine,
		o.Town,
		o.Postcode,
		placeholder,
		now,
		now,
	); err != nil {
		return nil, fmt.Errorf("failed to insert offender: %w", err)
	}

	created, err := c.FindOffenderByNormalizedName(ctx, o.NormalizedName)
	if err != nil {
		return nil, err
	}
	if created == nil {
		return nil, fmt.Errorf("offender %q not found after insert", o.NormalizedName)
	}
	return created, nil
}

// RelinkOffenderRecords moves every record from one offender to another.
// Used when a review approval resolves a placeholder.
func (c *Client) RelinkOffenderRecords(ctx context.Context, fromOffenderID, toOffenderID int64) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE records SET offender_id = ?, updated_at = ? WHERE offender_id = ?`,
		toOffenderID, time.Now().Unix(), fromOffenderID,
	)
	if err != nil {
		return fmt.Errorf("failed to relink offender records: %w", err)
	}
	return nil
}

// RecomputeOffenderTotals recalculates the aggregate case/notice counters
// from the records table. Counters are derived, never hand-maintained.
func (c *Client) RecomputeOffenderTotals(ctx context.Context, offenderID int64) error {
	query := `
		UPDATE offenders SET
			total_cases = (SELECT COUNT(*) FROM records WHERE offender_id = offenders.id AND kind = 'case'),
			total_notices = (SELECT COUNT(*) FROM records WHERE offender_id = offenders.id AND kind = 'notice'),
			updated_at = ?
		WHERE id = ?
	`
	if _, err := c.db.ExecContext(ctx, query, time.Now().Unix(), offenderID); err != nil {
		return fmt.Errorf("failed to recompute offender totals: %w", err)
	}
	return nil
}

// ListOffendersWithRegNumber returns offenders carrying a registration
// number, for the duplicate detector's collision pass.
func (c *Client) ListOffendersWithRegNumber(ctx context.Context) ([]models.Offender, error) {
	query := fmt.Sprintf(`SELECT %s FROM offenders
		WHERE registration_number IS NOT NULL AND registration_number != ''
		ORDER BY registration_number`, offenderColumns)

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list offenders with registration number: %w", err)
	}
	defer rows.Close()

	var offenders []models.Offender
	for rows.Next() {
		o, err := scanOffender(rows)
		if err != nil {
			return nil, err
		}
		offenders = append(offenders, *o)
	}
	return offenders, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (c *Client) scanOffenderRow(row *sql.Row) (*models.Offender, error) {
	o, err := scanOffender(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return o, err
}

func scanOffender(row rowScanner) (*models.Offender, error) {
	var o models.Offender
	var regNumber sql.NullString
	var placeholder int
	var createdAt, updatedAt int64

	err := row.Scan(
		&o.ID,
		&o.Name,
		&o.NormalizedName,
		&regNumber,
		&o.AddressLine,
		&o.Town,
		&o.Postcode,
		&o.TotalCases,
		&o.TotalNotices,
		&placeholder,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan offender: %w", err)
	}

	o.RegistrationNumber = regNumber.String
	o.Placeholder = placeholder != 0
	o.CreatedAt = time.Unix(createdAt, 0)
	o.UpdatedAt = time.Unix(updatedAt, 0)
	return &o, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
