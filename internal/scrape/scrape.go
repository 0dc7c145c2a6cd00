package scrape

import (
	"context"
	"time"

	"github.com/regwatch/backend/internal/scrape/fetcher"
)

// SummaryRecord is one row of an agency listing page, prior to enrichment.
// SourceID is derived from the detail URL and is the join key for the
// corresponding detail record.
type SummaryRecord struct {
	SourceID    string
	DisplayName string
	RawAddress  string
	EventDate   string
	ActionType  string
	DetailURL   string
	ScrapedAt   time.Time
}

// RangeParams bounds one scraping run.
type RangeParams struct {
	StartPage       int        `json:"start_page"`
	MaxPages        int        `json:"max_pages"`
	DateFrom        *time.Time `json:"date_from,omitempty"`
	DateTo          *time.Time `json:"date_to,omitempty"`
	ActionType      string     `json:"action_type,omitempty"`
	RefreshExisting bool       `json:"refresh_existing,omitempty"`
}

// Detail is the enriched record for one summary row. It is a closed set:
// each agency contributes its own variant and the normalizer dispatches on
// the concrete type.
type Detail interface {
	Summary() SummaryRecord
	isDetail()
}

// EADetail is the Environment Agency detail-page shape.
type EADetail struct {
	Record             SummaryRecord
	CompanyName        string
	RegistrationNumber string
	AddressLine        string
	Town               string
	Postcode           string
	EventDate          string
	FineAmount         float64
	TotalCosts         float64
	Act                string
	Section            string
	Description        string
	WaterImpactDesc    string
	LandImpactDesc     string
	AirImpactDesc      string
}

func (d EADetail) Summary() SummaryRecord { return d.Record }
func (EADetail) isDetail()                {}

// HSEDetail is the HSE prosecution/notice detail-page shape.
type HSEDetail struct {
	Record             SummaryRecord
	DefendantName      string
	RegistrationNumber string
	AddressLine        string
	Town               string
	Postcode           string
	HearingDate        string
	FineAmount         float64
	CostsAwarded       float64
	Act                string
	Section            string
	BreachDetails      string
	NoticeType         string
}

func (d HSEDetail) Summary() SummaryRecord { return d.Record }
func (HSEDetail) isDetail()                {}

// Source is one scrapable agency site. Implementations are stateless; the
// session controller drives paging and pacing.
type Source interface {
	Code() string
	// SummaryURL builds the listing URL for one page of the range.
	SummaryURL(params RangeParams, page int) string
	// ParseSummary extracts listing rows from a summary page body. Malformed
	// rows are skipped, not errors; duplicate source IDs are dropped.
	ParseSummary(body []byte, actionType string) ([]SummaryRecord, error)
	// Enrich fetches and parses the detail page for one summary row.
	Enrich(ctx context.Context, client *fetcher.Client, rec SummaryRecord) (Detail, error)
}
