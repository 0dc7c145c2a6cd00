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

// HSE scrapes the Health and Safety Executive public enforcement databases
// (prosecutions and notices).
type HSE struct {
	BaseURL string
}

func NewHSE(baseURL string) *HSE {
	return &HSE{BaseURL: strings.TrimRight(baseURL, "/")}
}

func (h *HSE) Code() string { return models.AgencyHSE }

func (h *HSE) SummaryURL(params scrape.RangeParams, page int) string {
	q := url.Values{}
	// HSE uses a row offset rather than a page number.
	q.Set("ST", params.ActionType)
	q.Set("start", fmt.Sprintf("%d", (page-1)*20))
	if params.DateFrom != nil {
		q.Set("SD", params.DateFrom.Format("02/01/2006"))
	}
	if params.DateTo != nil {
		q.Set("ED", params.DateTo.Format("02/01/2006"))
	}
	return fmt.Sprintf("%s/search.asp?%s", h.BaseURL, q.Encode())
}

// ParseSummary reads the search-results table: case number, defendant,
// hearing date, each row linking to a case detail page.
func (h *HSE) ParseSummary(body []byte, actionType string) ([]scrape.SummaryRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HSE summary page: %w", err)
	}

	var records []scrape.SummaryRecord
	doc.Find("table#results tr, table.results tr").Each(func(i int, tr *goquery.Selection) {
		if tr.Find("th").Length() > 0 {
			return
		}
		cells := tr.Find("td")
		if cells.Length() < 3 {
			logger.Debug("Skipping malformed HSE summary row", zap.Int("row", i))
			return
		}

		name := cleanText(cells.Eq(1).Text())
		date := cleanText(cells.Eq(2).Text())
		href, ok := cells.Eq(0).Find("a").Attr("href")
		if !ok {
			href, ok = tr.Find("a").First().Attr("href")
		}
		if !ok || name == "" || date == "" {
			logger.Debug("Skipping malformed HSE summary row", zap.Int("row", i))
			return
		}
		detailURL := h.absoluteURL(href)

		records = append(records, scrape.SummaryRecord{
			SourceID:    utils.SourceIDFromURL(detailURL),
			DisplayName: name,
			EventDate:   date,
			ActionType:  actionType,
			DetailURL:   detailURL,
			ScrapedAt:   time.Now(),
		})
	})

	return dedupeSummaries(records), nil
}

// Enrich fetches the case detail page, a two-column label/value table.
func (h *HSE) Enrich(ctx context.Context, client *fetcher.Client, rec scrape.SummaryRecord) (scrape.Detail, error) {
	res, err := client.Fetch(ctx, rec.DetailURL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HSE detail page %s: %w", rec.DetailURL, err)
	}

	pairs := tablePairs(doc)
	detail := scrape.HSEDetail{
		Record:             rec,
		DefendantName:      firstNonEmpty(pairs["defendant"], pairs["recipient"], rec.DisplayName),
		RegistrationNumber: pairs["company registration number"],
		AddressLine:        pairs["address"],
		Town:               pairs["town"],
		Postcode:           pairs["postcode"],
		HearingDate:        firstNonEmpty(pairs["hearing date"], pairs["issue date"], rec.EventDate),
		FineAmount:         parseCurrency(pairs["fine"]),
		CostsAwarded:       parseCurrency(pairs["costs awarded"]),
		Act:                pairs["act"],
		Section:            pairs["section"],
		BreachDetails:      firstNonEmpty(pairs["breach details"], pairs["description"]),
		NoticeType:         pairs["notice type"],
	}

	return detail, nil
}

func (h *HSE) absoluteURL(href string) string {
	return absoluteURL(h.BaseURL, href)
}
