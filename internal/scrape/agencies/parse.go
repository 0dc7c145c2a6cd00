package agencies

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/regwatch/backend/internal/scrape"
)

var (
	currencyJunk = regexp.MustCompile(`[£$€,\s]`)
	spaceRun     = regexp.MustCompile(`\s+`)
)

// parseCurrency strips currency symbols and thousands separators before
// numeric parsing. Unparsable amounts come back as zero: enforcement data is
// messy and a dirty fine field must not sink the record.
func parseCurrency(raw string) float64 {
	cleaned := currencyJunk.ReplaceAllString(raw, "")
	if cleaned == "" {
		return 0
	}
	amount, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || amount < 0 {
		return 0
	}
	return amount
}

func cleanText(s string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}

// definitionPairs reads a dt/dd definition list into a label->value map.
// Labels are lowercased and trimmed of trailing colons.
func definitionPairs(doc *goquery.Document) map[string]string {
	pairs := make(map[string]string)
	doc.Find("dl dt").Each(func(i int, dt *goquery.Selection) {
		dd := dt.NextFiltered("dd")
		if dd.Length() == 0 {
			return
		}
		label := normalizeLabel(dt.Text())
		if label == "" {
			return
		}
		pairs[label] = cleanText(dd.Text())
	})
	return pairs
}

// tablePairs reads th/td label-value rows into a map, for detail pages laid
// out as two-column tables.
func tablePairs(doc *goquery.Document) map[string]string {
	pairs := make(map[string]string)
	doc.Find("table tr").Each(func(i int, tr *goquery.Selection) {
		th := tr.Find("th").First()
		td := tr.Find("td").First()
		if th.Length() == 0 || td.Length() == 0 {
			return
		}
		label := normalizeLabel(th.Text())
		if label == "" {
			return
		}
		pairs[label] = cleanText(td.Text())
	})
	return pairs
}

func normalizeLabel(s string) string {
	return strings.ToLower(strings.TrimSuffix(cleanText(s), ":"))
}

func absoluteURL(base, href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return base + "/" + strings.TrimPrefix(href, "/")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// dedupeSummaries drops rows whose source ID was already seen, preserving
// first-seen order.
func dedupeSummaries(records []scrape.SummaryRecord) []scrape.SummaryRecord {
	seen := make(map[string]struct{}, len(records))
	out := records[:0]
	for _, r := range records {
		if _, ok := seen[r.SourceID]; ok {
			continue
		}
		seen[r.SourceID] = struct{}{}
		out = append(out, r)
	}
	return out
}
