package agencies

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/regwatch/backend/internal/scrape"
	"github.com/regwatch/backend/internal/scrape/fetcher"
	"github.com/regwatch/backend/internal/storage/models"
	"github.com/regwatch/backend/pkg/logger"
	"github.com/regwatch/backend/pkg/utils"
)

// EA scrapes the Environment Agency enforcement-action register.
type EA struct {
	BaseURL string
}

func NewEA(baseURL string) *EA {
	return &EA{BaseURL: strings.TrimRight(baseURL, "/")}
}

func (e *EA) Code() string { return models.AgencyEA }

func (e *EA) SummaryURL(params scrape.RangeParams, page int) string {
	q := url.Values{}
	q.Set("page", fmt.Sprintf("%d", page))
	if params.ActionType != "" {
		q.Set("action-type", params.ActionType)
	}
	if params.DateFrom != nil {
		q.Set("from", params.DateFrom.Format("2006-01-02"))
	}
	if params.DateTo != nil {
		q.Set("to", params.DateTo.Format("2006-01-02"))
	}
	return fmt.Sprintf("%s/enforcement-actions?%s", e.BaseURL, q.Encode())
}

// ParseSummary walks the results table. Rows carrying an address column are
// read with the rich layout; shorter rows fall back to the minimal layout.
// Rows missing a name, date or detail link are skipped, never fatal.
func (e *EA) ParseSummary(body []byte, actionType string) ([]scrape.SummaryRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse EA summary page: %w", err)
	}

	var records []scrape.SummaryRecord
	doc.Find("table.results tbody tr, table.results tr").Each(func(i int, tr *goquery.Selection) {
		if tr.Find("th").Length() > 0 {
			return
		}
		rec, ok := e.parseSummaryRow(tr, actionType)
		if !ok {
			logger.Debug("Skipping malformed EA summary row", zap.Int("row", i))
			return
		}
		records = append(records, rec)
	})

	return dedupeSummaries(records), nil
}

func (e *EA) parseSummaryRow(tr *goquery.Selection, actionType string) (scrape.SummaryRecord, bool) {
	cells := tr.Find("td")

	var name, address, date string
	switch {
	case cells.Length() >= 4:
		name = cleanText(cells.Eq(0).Text())
		address = cleanText(cells.Eq(1).Text())
		date = cleanText(cells.Eq(2).Text())
	case cells.Length() == 3:
		name = cleanText(cells.Eq(0).Text())
		date = cleanText(cells.Eq(1).Text())
	default:
		return scrape.SummaryRecord{}, false
	}

	href, ok := tr.Find("a").First().Attr("href")
	if !ok || name == "" || date == "" {
		return scrape.SummaryRecord{}, false
	}
	detailURL := e.absoluteURL(href)

	return scrape.SummaryRecord{
		SourceID:    utils.SourceIDFromURL(detailURL),
		DisplayName: name,
		RawAddress:  address,
		EventDate:   date,
		ActionType:  actionType,
		DetailURL:   detailURL,
		ScrapedAt:   time.Now(),
	}, true
}

// Enrich fetches the detail page and reads its definition list. Missing
// labels leave fields empty rather than failing the record.
func (e *EA) Enrich(ctx context.Context, client *fetcher.Client, rec scrape.SummaryRecord) (scrape.Detail, error) {
	res, err := client.Fetch(ctx, rec.DetailURL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse EA detail page %s: %w", rec.DetailURL, err)
	}

	pairs := definitionPairs(doc)
	detail := scrape.EADetail{
		Record:             rec,
		CompanyName:        firstNonEmpty(pairs["company name"], pairs["operator name"], rec.DisplayName),
		RegistrationNumber: pairs["company registration number"],
		AddressLine:        firstNonEmpty(pairs["address"], rec.RawAddress),
		Town:               pairs["town"],
		Postcode:           pairs["postcode"],
		EventDate:          firstNonEmpty(pairs["date of offence"], pairs["hearing date"], rec.EventDate),
		FineAmount:         parseCurrency(pairs["fine"]),
		TotalCosts:         parseCurrency(pairs["total costs"]),
		Act:                pairs["act"],
		Section:            pairs["section"],
		Description:        pairs["offence description"],
		WaterImpactDesc:    pairs["water impact"],
		LandImpactDesc:     pairs["land impact"],
		AirImpactDesc:      pairs["air impact"],
	}

	return detail, nil
}

func (e *EA) absoluteURL(href string) string {
	return absoluteURL(e.BaseURL, href)
}
