package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/regwatch/backend/internal/storage/models"
)

type memCache struct {
	entries map[string][]models.CandidateCompany
	sets    int
	gets    int
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string][]models.CandidateCompany)}
}

func (c *memCache) GetLookup(_ context.Context, key string) ([]models.CandidateCompany, bool, error) {
	c.gets++
	candidates, ok := c.entries[key]
	return candidates, ok, nil
}

func (c *memCache) SetLookup(_ context.Context, key string, candidates []models.CandidateCompany) error {
	c.sets++
	c.entries[key] = candidates
	return nil
}

const searchResponse = `{
	"items": [
		{"title": "ACME CHEMICALS LIMITED", "company_number": "01234567", "address_snippet": "1 Riverside Way, Leeds"},
		{"title": "ACME HOLDINGS PLC", "company_number": "07654321", "address_snippet": "2 City Road, London"}
	]
}`

func TestLookupParsesResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "ACME" {
			t.Errorf("unexpected query: %q", got)
		}
		if got := r.URL.Query().Get("items_per_page"); got != "5" {
			t.Errorf("unexpected page size: %q", got)
		}
		w.Write([]byte(searchResponse))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, MaxResults: 5, Timeout: 5 * time.Second}, nil)

	candidates, err := client.Lookup(context.Background(), "ACME")
	if err != nil {
		t.Fatalf("Lookup returned error: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}
	if candidates[0].Name != "ACME CHEMICALS LIMITED" || candidates[0].RegistrationNumber != "01234567" {
		t.Errorf("unexpected first candidate: %+v", candidates[0])
	}
}

func TestLookupUsesCache(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(searchResponse))
	}))
	defer server.Close()

	cache := newMemCache()
	client := NewClient(Config{BaseURL: server.URL, Timeout: 5 * time.Second}, cache)

	for i := 0; i < 3; i++ {
		if _, err := client.Lookup(context.Background(), "ACME"); err != nil {
			t.Fatalf("Lookup returned error: %v", err)
		}
	}

	if calls != 1 {
		t.Errorf("expected 1 upstream call with cache, got %d", calls)
	}
	if cache.sets != 1 {
		t.Errorf("expected 1 cache write, got %d", cache.sets)
	}
}

func TestLookupUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, Timeout: 5 * time.Second}, nil)

	if _, err := client.Lookup(context.Background(), "ACME"); err == nil {
		t.Fatal("expected error for upstream failure")
	}
}

func TestLookupCircuitOpensAfterFailures(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, Timeout: 5 * time.Second}, nil)

	// The breaker trips after 5 consecutive failures; later lookups fail
	// without reaching upstream.
	for i := 0; i < 8; i++ {
		client.Lookup(context.Background(), "ACME")
	}
	if calls != 5 {
		t.Errorf("expected 5 upstream calls before the circuit opened, got %d", calls)
	}
}
