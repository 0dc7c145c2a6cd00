// Package normalize maps agency detail records into the canonical schema.
// Everything here is pure: no I/O, no clock, same input same output.
package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/regwatch/backend/internal/scrape"
	"github.com/regwatch/backend/internal/storage/models"
)

// dateFormats are tried in order; the first successful parse wins.
var dateFormats = []string{
	"02/01/2006",
	"2 January 2006",
	"02 January 2006",
	"2006-01-02",
	"January 2, 2006",
}

// ParseDate attempts each known agency date format. Unparsable dates yield
// nil, not an error: the record is kept with a null date.
func ParseDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}

// Citation combines act and section into a single legal-citation string.
// It is only synthesized when both parts are present.
func Citation(act, section string) string {
	act = strings.TrimSpace(act)
	section = strings.TrimSpace(section)
	if act == "" || section == "" {
		return ""
	}
	return fmt.Sprintf("%s, s.%s", act, section)
}

// Record maps a detail record into canonical attributes for the given target
// database (case or notice).
func Record(detail scrape.Detail, kind string) models.CanonicalAttrs {
	switch d := detail.(type) {
	case scrape.EADetail:
		return normalizeEA(d, kind)
	case scrape.HSEDetail:
		return normalizeHSE(d, kind)
	default:
		// The Detail set is closed; reaching this means a new variant was
		// added without a normalizer arm.
		panic(fmt.Sprintf("normalize: unknown detail variant %T", detail))
	}
}

func normalizeEA(d scrape.EADetail, kind string) models.CanonicalAttrs {
	summary := d.Record
	return models.CanonicalAttrs{
		AgencyCode:    models.AgencyEA,
		SourceID:      summary.SourceID,
		Kind:          kind,
		ActionType:    summary.ActionType,
		Title:         d.CompanyName,
		Description:   d.Description,
		EventDate:     ParseDate(d.EventDate),
		FineAmount:    d.FineAmount,
		CostsAmount:   d.TotalCosts,
		LegalCitation: Citation(d.Act, d.Section),
		DetailURL:     summary.DetailURL,

		OffenderName:     d.CompanyName,
		OffenderRegNum:   strings.TrimSpace(d.RegistrationNumber),
		OffenderAddress:  d.AddressLine,
		OffenderTown:     d.Town,
		OffenderPostcode: d.Postcode,

		// Environmental impact flags derive from the presence of the
		// corresponding free-text description fields.
		WaterImpact: strings.TrimSpace(d.WaterImpactDesc) != "",
		LandImpact:  strings.TrimSpace(d.LandImpactDesc) != "",
		AirImpact:   strings.TrimSpace(d.AirImpactDesc) != "",
	}
}

func normalizeHSE(d scrape.HSEDetail, kind string) models.CanonicalAttrs {
	summary := d.Record
	description := d.BreachDetails
	if d.NoticeType != "" {
		if description != "" {
			description = d.NoticeType + ": " + description
		} else {
			description = d.NoticeType
		}
	}
	return models.CanonicalAttrs{
		AgencyCode:    models.AgencyHSE,
		SourceID:      summary.SourceID,
		Kind:          kind,
		ActionType:    summary.ActionType,
		Title:         d.DefendantName,
		Description:   description,
		EventDate:     ParseDate(d.HearingDate),
		FineAmount:    d.FineAmount,
		CostsAmount:   d.CostsAwarded,
		LegalCitation: Citation(d.Act, d.Section),
		DetailURL:     summary.DetailURL,

		OffenderName:     d.DefendantName,
		OffenderRegNum:   strings.TrimSpace(d.RegistrationNumber),
		OffenderAddress:  d.AddressLine,
		OffenderTown:     d.Town,
		OffenderPostcode: d.Postcode,
	}
}
