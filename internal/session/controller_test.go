package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/regwatch/backend/internal/resolver"
	"github.com/regwatch/backend/internal/scrape"
	"github.com/regwatch/backend/internal/scrape/fetcher"
	"github.com/regwatch/backend/internal/storage/models"
	"github.com/regwatch/backend/internal/storage/sqlite"
)

// lineSource is a scrape.Source backed by a plain-text listing format, so
// controller tests exercise the full fetch pipeline without HTML fixtures.
// Each summary line reads "sourceID|name|date|detailPath".
type lineSource struct {
	baseURL string
}

func (s *lineSource) Code() string { return models.AgencyEA }

func (s *lineSource) SummaryURL(_ scrape.RangeParams, page int) string {
	return fmt.Sprintf("%s/page/%d", s.baseURL, page)
}

func (s *lineSource) ParseSummary(body []byte, actionType string) ([]scrape.SummaryRecord, error) {
	var records []scrape.SummaryRecord
	for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
		parts := strings.Split(line, "|")
		if len(parts) != 4 {
			continue
		}
		records = append(records, scrape.SummaryRecord{
			SourceID:    parts[0],
			DisplayName: parts[1],
			EventDate:   parts[2],
			ActionType:  actionType,
			DetailURL:   s.baseURL + parts[3],
			ScrapedAt:   time.Now(),
		})
	}
	return records, nil
}

func (s *lineSource) Enrich(ctx context.Context, client *fetcher.Client, rec scrape.SummaryRecord) (scrape.Detail, error) {
	res, err := client.Fetch(ctx, rec.DetailURL)
	if err != nil {
		return nil, err
	}
	return scrape.EADetail{
		Record:      rec,
		CompanyName: rec.DisplayName,
		EventDate:   rec.EventDate,
		Description: string(res.Body),
	}, nil
}

// fakeSessionStore is an in-memory Store. Verdicts come from the existing
// set: known source IDs are unchanged, everything else is created.
type fakeSessionStore struct {
	mu        sync.Mutex
	existing  map[string]bool
	upserts   []string
	sessions  map[string]models.ScrapeSession
	nextRecID int64

	// onHasRecord runs inside HasRecord, for deterministic mid-run stops.
	onHasRecord func(sourceID string)
}

func newFakeSessionStore(existing ...string) *fakeSessionStore {
	s := &fakeSessionStore{
		existing: make(map[string]bool),
		sessions: make(map[string]models.ScrapeSession),
	}
	for _, id := range existing {
		s.existing[id] = true
	}
	return s
}

func (s *fakeSessionStore) HasRecord(_ context.Context, _, sourceID string) (bool, error) {
	if s.onHasRecord != nil {
		s.onHasRecord(sourceID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.existing[sourceID], nil
}

func (s *fakeSessionStore) UpsertRecord(_ context.Context, attrs models.CanonicalAttrs, offenderID int64) (string, *models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts = append(s.upserts, attrs.SourceID)

	verdict := sqlite.UpsertCreated
	if s.existing[attrs.SourceID] {
		verdict = sqlite.UpsertUnchanged
	}
	s.existing[attrs.SourceID] = true
	s.nextRecID++
	return verdict, &models.Record{ID: s.nextRecID, SourceID: attrs.SourceID, OffenderID: offenderID}, nil
}

func (s *fakeSessionStore) RecomputeOffenderTotals(_ context.Context, _ int64) error { return nil }

func (s *fakeSessionStore) InsertSession(_ context.Context, session *models.ScrapeSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = *session
	return nil
}

func (s *fakeSessionStore) UpdateSession(_ context.Context, session *models.ScrapeSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = *session
	return nil
}

func (s *fakeSessionStore) stored(id string) models.ScrapeSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

type fakeOffenderResolver struct{}

func (fakeOffenderResolver) Resolve(_ context.Context, _ models.CanonicalAttrs) (*resolver.Resolution, error) {
	return &resolver.Resolution{
		Offender: &models.Offender{ID: 1, Name: "Test Offender"},
		Outcome:  resolver.OutcomeCreated,
	}, nil
}

// testSite serves summary pages and detail pages. pages maps page number to
// its listing body; any path under /detail/ returns a small description.
func testSite(t *testing.T, pages map[int]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/detail/") {
			w.Write([]byte("description for " + r.URL.Path))
			return
		}
		var page int
		fmt.Sscanf(r.URL.Path, "/page/%d", &page)
		w.Write([]byte(pages[page]))
	}))
}

func summaryLine(id string) string {
	return fmt.Sprintf("%s|Company %s|12/03/2024|/detail/%s", id, id, id)
}

func newTestController(server *httptest.Server, store *fakeSessionStore, hub *Hub, params scrape.RangeParams, limits Limits) *Controller {
	return NewController(ControllerConfig{
		ID:       "sess-1",
		Source:   &lineSource{baseURL: server.URL},
		Client:   fetcher.NewClient(fetcher.Config{Timeout: 5 * time.Second, BackoffBase: time.Millisecond}),
		Store:    store,
		Resolver: fakeOffenderResolver{},
		Hub:      hub,
		Kind:     models.RecordKindCase,
		Params:   params,
		Limits:   limits,
	})
}

func TestControllerCompletesAndCountersAddUp(t *testing.T) {
	server := testSite(t, map[int]string{
		1: summaryLine("a1") + "\n" + summaryLine("a2"),
		2: summaryLine("a3") + "\n" + summaryLine("a2"), // a2 repeats across pages
		3: "",
	})
	defer server.Close()

	store := newFakeSessionStore()
	ctrl := newTestController(server, store, nil, scrape.RangeParams{}, Limits{MaxPages: 10})
	ctrl.Run(context.Background())

	s := ctrl.Snapshot()
	if s.Status != models.SessionCompleted {
		t.Fatalf("expected completed, got %s (%s)", s.Status, s.Error)
	}

	c := s.Counters
	if c.RecordsFound != 3 {
		t.Errorf("expected 3 found after cross-page dedupe, got %d", c.RecordsFound)
	}
	if c.RecordsCreated != 3 || c.RecordsUpdated != 0 || c.RecordsExisting != 0 || c.ErrorsCount != 0 {
		t.Errorf("unexpected counters: %+v", c)
	}
	if got := c.RecordsCreated + c.RecordsUpdated + c.RecordsExisting + c.ErrorsCount; got != c.RecordsFound {
		t.Errorf("counters do not add up to found: %d vs %d", got, c.RecordsFound)
	}
	// Two listing pages plus the empty page that ended the run.
	if c.PagesProcessed != 3 {
		t.Errorf("expected 3 pages processed, got %d", c.PagesProcessed)
	}

	// Terminal state reached the store too.
	if stored := store.stored("sess-1"); stored.Status != models.SessionCompleted {
		t.Errorf("stored status = %s, want completed", stored.Status)
	}
}

func TestControllerStopsEarlyOnConsecutiveExisting(t *testing.T) {
	pages := map[int]string{
		1: summaryLine("n1"),
		2: summaryLine("n2"),
		3: summaryLine("e1"),
		4: summaryLine("e2"),
		5: summaryLine("e3"),
		6: summaryLine("n3"), // never reached
	}
	server := testSite(t, pages)
	defer server.Close()

	store := newFakeSessionStore("e1", "e2", "e3")
	ctrl := newTestController(server, store, nil, scrape.RangeParams{},
		Limits{MaxPages: 10, ConsecutiveExisting: 3})
	ctrl.Run(context.Background())

	s := ctrl.Snapshot()
	if s.Status != models.SessionCompleted {
		t.Fatalf("expected completed, got %s (%s)", s.Status, s.Error)
	}
	if s.Counters.PagesProcessed != 5 {
		t.Errorf("expected stop after page 5, got %d pages", s.Counters.PagesProcessed)
	}
	if s.Counters.RecordsCreated != 2 || s.Counters.RecordsExisting != 3 {
		t.Errorf("unexpected counters: %+v", s.Counters)
	}
	// n3 on page 6 was never touched.
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.existing["n3"] {
		t.Error("page beyond the early stop was scraped")
	}
}

func TestControllerNewRecordResetsExistingStreak(t *testing.T) {
	pages := map[int]string{
		1: summaryLine("e1") + "\n" + summaryLine("e2"),
		2: summaryLine("n1") + "\n" + summaryLine("e3"),
		3: summaryLine("e4"),
		4: "",
	}
	server := testSite(t, pages)
	defer server.Close()

	store := newFakeSessionStore("e1", "e2", "e3", "e4")
	ctrl := newTestController(server, store, nil, scrape.RangeParams{},
		Limits{MaxPages: 10, ConsecutiveExisting: 3})
	ctrl.Run(context.Background())

	s := ctrl.Snapshot()
	if s.Status != models.SessionCompleted {
		t.Fatalf("expected completed, got %s (%s)", s.Status, s.Error)
	}
	// The streak broke at n1, so the run reached the empty page 4 instead of
	// stopping after page 3.
	if s.Counters.PagesProcessed != 4 {
		t.Errorf("expected 4 pages processed, got %d", s.Counters.PagesProcessed)
	}
}

func TestControllerRespectsMaxPages(t *testing.T) {
	pages := make(map[int]string)
	for i := 1; i <= 10; i++ {
		pages[i] = summaryLine(fmt.Sprintf("p%d", i))
	}
	server := testSite(t, pages)
	defer server.Close()

	store := newFakeSessionStore()
	ctrl := newTestController(server, store, nil, scrape.RangeParams{MaxPages: 4}, Limits{MaxPages: 10})
	ctrl.Run(context.Background())

	s := ctrl.Snapshot()
	if s.Status != models.SessionCompleted {
		t.Fatalf("expected completed, got %s", s.Status)
	}
	if s.Counters.PagesProcessed != 4 {
		t.Errorf("params.MaxPages should cap the run at 4 pages, got %d", s.Counters.PagesProcessed)
	}
}

func TestControllerStopRequest(t *testing.T) {
	pages := map[int]string{
		1: summaryLine("s1") + "\n" + summaryLine("s2") + "\n" + summaryLine("s3"),
		2: summaryLine("s4"),
	}
	server := testSite(t, pages)
	defer server.Close()

	store := newFakeSessionStore()
	var ctrl *Controller
	store.onHasRecord = func(sourceID string) {
		if sourceID == "s2" {
			ctrl.Stop()
		}
	}
	ctrl = newTestController(server, store, nil, scrape.RangeParams{}, Limits{MaxPages: 10})
	ctrl.Run(context.Background())

	s := ctrl.Snapshot()
	if s.Status != models.SessionStopped {
		t.Fatalf("expected stopped, got %s", s.Status)
	}
	// s1 and s2 were processed; the stop landed before s3.
	if s.Counters.RecordsCreated != 2 {
		t.Errorf("expected 2 created before stop, got %d", s.Counters.RecordsCreated)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.existing["s3"] || store.existing["s4"] {
		t.Error("records after the stop boundary were processed")
	}
}

func TestControllerFailsOnSummaryFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	store := newFakeSessionStore()
	ctrl := newTestController(server, store, nil, scrape.RangeParams{}, Limits{MaxPages: 10})
	ctrl.Run(context.Background())

	s := ctrl.Snapshot()
	if s.Status != models.SessionFailed {
		t.Fatalf("expected failed, got %s", s.Status)
	}
	if s.Error == "" {
		t.Error("expected a failure reason")
	}
}

func TestControllerFailsAfterConsecutiveRecordErrors(t *testing.T) {
	// Listing works, but every detail fetch 404s.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/detail/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(summaryLine("x1") + "\n" + summaryLine("x2") + "\n" +
			summaryLine("x3") + "\n" + summaryLine("x4")))
	}))
	defer server.Close()

	store := newFakeSessionStore()
	ctrl := newTestController(server, store, nil, scrape.RangeParams{},
		Limits{MaxPages: 10, MaxConsecutiveErrors: 3})
	ctrl.Run(context.Background())

	s := ctrl.Snapshot()
	if s.Status != models.SessionFailed {
		t.Fatalf("expected failed, got %s", s.Status)
	}
	if s.Counters.ErrorsCount != 3 {
		t.Errorf("expected 3 errors before aborting, got %d", s.Counters.ErrorsCount)
	}
}

func TestControllerPublishesLifecycleEvents(t *testing.T) {
	server := testSite(t, map[int]string{
		1: summaryLine("ev1"),
		2: "",
	})
	defer server.Close()

	hub := NewHub()
	events, cancel := hub.Subscribe("sess-1")
	defer cancel()

	store := newFakeSessionStore()
	ctrl := newTestController(server, store, hub, scrape.RangeParams{}, Limits{MaxPages: 10})
	ctrl.Run(context.Background())

	var types []EventType
	var last Event
drain:
	for {
		select {
		case ev := <-events:
			types = append(types, ev.Type)
			last = ev
			if ev.Type == EventCompleted || ev.Type == EventFailed || ev.Type == EventStopped {
				break drain
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for terminal event")
		}
	}

	if types[0] != EventStarted {
		t.Errorf("first event = %s, want started", types[0])
	}
	if last.Type != EventCompleted {
		t.Errorf("terminal event = %s, want completed", last.Type)
	}
	if last.Counters.RecordsCreated != 1 {
		t.Errorf("terminal counters = %+v", last.Counters)
	}
}

func TestControllerContextCancellation(t *testing.T) {
	server := testSite(t, map[int]string{1: summaryLine("c1")})
	defer server.Close()

	store := newFakeSessionStore()
	ctrl := newTestController(server, store, nil, scrape.RangeParams{}, Limits{MaxPages: 10})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ctrl.Run(ctx)

	s := ctrl.Snapshot()
	if s.Status != models.SessionStopped {
		t.Fatalf("expected stopped on cancelled context, got %s", s.Status)
	}
	// Terminal persistence still happened despite the cancelled context.
	if stored := store.stored("sess-1"); stored.Status != models.SessionStopped {
		t.Errorf("stored status = %s, want stopped", stored.Status)
	}
}
