package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/regwatch/backend/internal/storage/models"
)

const recordColumns = `id, agency_code, source_id, kind, action_type, offender_id, title,
	description, event_date, fine_amount, costs_amount, legal_citation, detail_url,
	water_impact, land_impact, air_impact, created_at, updated_at`

// HasRecord reports whether a canonical record with the identity key already
// exists.
func (c *Client) HasRecord(ctx context.Context, agencyCode, sourceID string) (bool, error) {
	var count int
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE agency_code = ? AND source_id = ?`,
		agencyCode, sourceID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check record existence: %w", err)
	}
	return count > 0, nil
}

// UpsertRecord inserts or field-updates the canonical record keyed on
// (agency_code, source_id). The verdict distinguishes a fresh insert, a
// changed re-scrape, and an identical re-scrape.
func (c *Client) UpsertRecord(ctx context.Context, attrs models.CanonicalAttrs, offenderID int64) (string, *models.Record, error) {
	existing, err := c.GetRecord(ctx, attrs.AgencyCode, attrs.SourceID)
	if err != nil {
		return "", nil, err
	}

	if existing != nil && !recordChanged(existing, attrs, offenderID) {
		return UpsertUnchanged, existing, nil
	}

	now := time.Now().Unix()
	query := `
		INSERT INTO records
			(agency_code, source_id, kind, action_type, offender_id, title, description,
			 event_date, fine_amount, costs_amount, legal_citation, detail_url,
			 water_impact, land_impact, air_impact, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agency_code, source_id) DO UPDATE SET
			action_type = excluded.action_type,
			offender_id = excluded.offender_id,
			title = excluded.title,
			description = excluded.description,
			event_date = excluded.event_date,
			fine_amount = excluded.fine_amount,
			costs_amount = excluded.costs_amount,
			legal_citation = excluded.legal_citation,
			detail_url = excluded.detail_url,
			water_impact = excluded.water_impact,
			land_impact = excluded.land_impact,
			air_impact = excluded.air_impact,
			updated_at = excluded.updated_at
	`

	_, err = c.db.ExecContext(ctx, query,
		attrs.AgencyCode,
		attrs.SourceID,
		attrs.Kind,
		attrs.ActionType,
		offenderID,
		attrs.Title,
		attrs.Description,
		nullableUnix(attrs.EventDate),
		attrs.FineAmount,
		attrs.CostsAmount,
		attrs.LegalCitation,
		attrs.DetailURL,
		boolInt(attrs.WaterImpact),
		boolInt(attrs.LandImpact),
		boolInt(attrs.AirImpact),
		now,
		now,
	)
	if err != nil {
		return "", nil, fmt.Errorf("failed to upsert record: %w", err)
	}

	record, err := c.GetRecord(ctx, attrs.AgencyCode, attrs.SourceID)
	if err != nil {
		return "", nil, err
	}

	if existing == nil {
		return UpsertCreated, record, nil
	}
	return UpsertUpdated, record, nil
}

func (c *Client) GetRecord(ctx context.Context, agencyCode, sourceID string) (*models.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM records WHERE agency_code = ? AND source_id = ?`, recordColumns)

	r, err := scanRecord(c.db.QueryRowContext(ctx, query, agencyCode, sourceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// ListRecordsByKind returns all cases or notices, for the duplicate
// detector.
func (c *Client) ListRecordsByKind(ctx context.Context, kind string) ([]models.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM records WHERE kind = ? ORDER BY offender_id, event_date`, recordColumns)

	rows, err := c.db.QueryContext(ctx, query, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var records []models.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

func recordChanged(existing *models.Record, attrs models.CanonicalAttrs, offenderID int64) bool {
	if existing.OffenderID != offenderID ||
		existing.Kind != attrs.Kind ||
		existing.ActionType != attrs.ActionType ||
		existing.Title != attrs.Title ||
		existing.Description != attrs.Description ||
		existing.FineAmount != attrs.FineAmount ||
		existing.CostsAmount != attrs.CostsAmount ||
		existing.LegalCitation != attrs.LegalCitation ||
		existing.DetailURL != attrs.DetailURL ||
		existing.WaterImpact != attrs.WaterImpact ||
		existing.LandImpact != attrs.LandImpact ||
		existing.AirImpact != attrs.AirImpact {
		return true
	}
	return !equalDates(existing.EventDate, attrs.EventDate)
}

func equalDates(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Unix() == b.Unix()
}

func scanRecord(row rowScanner) (*models.Record, error) {
	var r models.Record
	var eventDate sql.NullInt64
	var water, land, air int
	var createdAt, updatedAt int64

	err := row.Scan(
		&r.ID,
		&r.AgencyCode,
		&r.SourceID,
		&r.Kind,
		&r.ActionType,
		&r.OffenderID,
		&r.Title,
		&r.Description,
		&eventDate,
		&r.FineAmount,
		&r.CostsAmount,
		&r.LegalCitation,
		&r.DetailURL,
		&water,
		&land,
		&air,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}

	if eventDate.Valid {
		t := time.Unix(eventDate.Int64, 0).UTC()
		r.EventDate = &t
	}
	r.WaterImpact = water != 0
	r.LandImpact = land != 0
	r.AirImpact = air != 0
	r.CreatedAt = time.Unix(createdAt, 0)
	r.UpdatedAt = time.Unix(updatedAt, 0)
	return &r, nil
}

func nullableUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
