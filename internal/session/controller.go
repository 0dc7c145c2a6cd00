package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/regwatch/backend/internal/metrics"
	"github.com/regwatch/backend/internal/resolver"
	"github.com/regwatch/backend/internal/scrape"
	"github.com/regwatch/backend/internal/scrape/fetcher"
	"github.com/regwatch/backend/internal/scrape/normalize"
	"github.com/regwatch/backend/internal/storage/models"
	"github.com/regwatch/backend/internal/storage/sqlite"
	"github.com/regwatch/backend/pkg/logger"
)

// Store is the persistence the controller needs. Implemented by the sqlite
// client; tests use an in-memory fake.
type Store interface {
	HasRecord(ctx context.Context, agencyCode, sourceID string) (bool, error)
	UpsertRecord(ctx context.Context, attrs models.CanonicalAttrs, offenderID int64) (string, *models.Record, error)
	RecomputeOffenderTotals(ctx context.Context, offenderID int64) error
	InsertSession(ctx context.Context, s *models.ScrapeSession) error
	UpdateSession(ctx context.Context, s *models.ScrapeSession) error
}

// OffenderResolver resolves scraped organization attributes to an offender.
type OffenderResolver interface {
	Resolve(ctx context.Context, attrs models.CanonicalAttrs) (*resolver.Resolution, error)
}

// Limits are the stopping heuristics for one session. All externally
// configurable; zero values fall back to defaults.
type Limits struct {
	MaxPages             int
	ConsecutiveExisting  int
	MaxConsecutiveErrors int
}

func (l *Limits) applyDefaults() {
	if l.MaxPages == 0 {
		l.MaxPages = 50
	}
	if l.ConsecutiveExisting == 0 {
		l.ConsecutiveExisting = 10
	}
	if l.MaxConsecutiveErrors == 0 {
		l.MaxConsecutiveErrors = 5
	}
}

// Controller owns one scrape session end to end: it drives the
// summary->enrich->normalize->resolve->persist pipeline page by page,
// maintains the session state machine and is its only writer.
type Controller struct {
	id         string
	source     scrape.Source
	client     *fetcher.Client
	pageWait   *fetcher.Limiter
	detailWait *fetcher.Limiter
	store      Store
	resolver   OffenderResolver
	hub        *Hub
	kind       string
	params     scrape.RangeParams
	limits     Limits

	stopRequested atomic.Bool

	mu      sync.Mutex
	session models.ScrapeSession

	// per-run heuristics state, touched only by the run goroutine
	consecutiveExisting int
	consecutiveErrors   int
	seenSourceIDs       map[string]struct{}
}

type ControllerConfig struct {
	ID          string
	Source      scrape.Source
	Client      *fetcher.Client
	PageDelay   time.Duration
	DetailDelay time.Duration
	Store       Store
	Resolver    OffenderResolver
	Hub         *Hub
	Kind        string
	Params      scrape.RangeParams
	Limits      Limits
}

func NewController(cfg ControllerConfig) *Controller {
	cfg.Limits.applyDefaults()
	if cfg.Params.StartPage == 0 {
		cfg.Params.StartPage = 1
	}
	if cfg.Params.MaxPages > 0 {
		cfg.Limits.MaxPages = cfg.Params.MaxPages
	}
	rangeJSON := marshalParams(cfg.Params)
	return &Controller{
		id:         cfg.ID,
		source:     cfg.Source,
		client:     cfg.Client,
		pageWait:   fetcher.NewLimiter(cfg.PageDelay),
		detailWait: fetcher.NewLimiter(cfg.DetailDelay),
		store:      cfg.Store,
		resolver:   cfg.Resolver,
		hub:        cfg.Hub,
		kind:       cfg.Kind,
		params:     cfg.Params,
		limits:     cfg.Limits,
		session: models.ScrapeSession{
			ID:             cfg.ID,
			AgencyCode:     cfg.Source.Code(),
			TargetDatabase: cfg.Kind,
			RangeParams:    rangeJSON,
			Status:         models.SessionPending,
			StartedAt:      time.Now(),
		},
		seenSourceIDs: make(map[string]struct{}),
	}
}

// ID returns the session identifier.
func (c *Controller) ID() string { return c.id }

// Snapshot returns a copy of the session's current state. Safe to call from
// any goroutine.
func (c *Controller) Snapshot() models.ScrapeSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Stop requests cooperative cancellation. Honored only while running; the
// controller transitions to stopped at the next page or record boundary.
func (c *Controller) Stop() {
	c.stopRequested.Store(true)
}

// Run executes the session to a terminal status. It never returns a non-nil
// error for per-record trouble; only the terminal status reflects failure.
func (c *Controller) Run(ctx context.Context) {
	start := time.Now()
	if err := c.store.InsertSession(ctx, &c.session); err != nil {
		logger.Error("Failed to persist session", zap.String("session_id", c.id), zap.Error(err))
		c.finish(ctx, models.SessionFailed, fmt.Sprintf("failed to persist session: %v", err))
		return
	}

	c.setStatus(ctx, models.SessionRunning)
	c.publish(EventStarted, "")

	status, reason := c.runPages(ctx)
	c.finish(ctx, status, reason)

	metrics.SessionsFinished.WithLabelValues(c.source.Code(), status).Inc()
	metrics.SessionDuration.WithLabelValues(c.source.Code()).Observe(time.Since(start).Seconds())
}

func (c *Controller) runPages(ctx context.Context) (status, reason string) {
	lastPage := c.params.StartPage + c.limits.MaxPages - 1

	for page := c.params.StartPage; page <= lastPage; page++ {
		if c.stopped(ctx) {
			return models.SessionStopped, ""
		}

		summaries, err := c.fetchPage(ctx, page)
		if err != nil {
			// A failed summary fetch is session-fatal: without the listing
			// there is nothing to continue from.
			return models.SessionFailed, fmt.Sprintf("summary fetch for page %d failed: %v", page, err)
		}

		if len(summaries) == 0 {
			c.bumpPage()
			return models.SessionCompleted, ""
		}

		for _, rec := range summaries {
			if c.stopped(ctx) {
				c.bumpPage()
				return models.SessionStopped, ""
			}
			c.processRecord(ctx, rec)

			if c.consecutiveErrors >= c.limits.MaxConsecutiveErrors {
				c.bumpPage()
				return models.SessionFailed, fmt.Sprintf("aborted after %d consecutive record errors", c.consecutiveErrors)
			}
		}

		c.bumpPage()
		c.persistCounters(ctx)
		c.publish(EventProgress, "")
		metrics.PagesScraped.WithLabelValues(c.source.Code()).Inc()

		if c.consecutiveExisting >= c.limits.ConsecutiveExisting {
			logger.Info("Stopping early, no new records",
				zap.String("session_id", c.id),
				zap.Int("consecutive_existing", c.consecutiveExisting),
			)
			return models.SessionCompleted, ""
		}
	}

	return models.SessionCompleted, ""
}

func (c *Controller) fetchPage(ctx context.Context, page int) ([]scrape.SummaryRecord, error) {
	if err := c.pageWait.Wait(ctx); err != nil {
		return nil, err
	}

	url := c.source.SummaryURL(c.params, page)
	res, err := c.client.Fetch(ctx, url)
	if err != nil {
		c.countFetchError(err)
		return nil, err
	}
	metrics.FetchRetries.Add(float64(res.Retries))

	summaries, err := c.source.ParseSummary(res.Body, c.params.ActionType)
	if err != nil {
		return nil, err
	}

	// Dedupe against rows already seen on earlier pages of this run.
	fresh := summaries[:0]
	for _, s := range summaries {
		if _, ok := c.seenSourceIDs[s.SourceID]; ok {
			continue
		}
		c.seenSourceIDs[s.SourceID] = struct{}{}
		fresh = append(fresh, s)
	}

	c.mu.Lock()
	c.session.Counters.RecordsFound += len(fresh)
	c.mu.Unlock()

	logger.Info("Summary page parsed",
		zap.String("session_id", c.id),
		zap.Int("page", page),
		zap.Int("records", len(fresh)),
	)
	return fresh, nil
}

func (c *Controller) processRecord(ctx context.Context, rec scrape.SummaryRecord) {
	exists, err := c.store.HasRecord(ctx, c.source.Code(), rec.SourceID)
	if err != nil {
		c.recordError(rec, err)
		return
	}
	if exists && !c.params.RefreshExisting {
		c.markExisting()
		return
	}

	if err := c.detailWait.Wait(ctx); err != nil {
		c.recordError(rec, err)
		return
	}

	detail, err := c.source.Enrich(ctx, c.client, rec)
	if err != nil {
		c.countFetchError(err)
		c.recordError(rec, err)
		return
	}

	attrs := normalize.Record(detail, c.kind)

	resolution, err := c.resolver.Resolve(ctx, attrs)
	if err != nil {
		c.recordError(rec, err)
		return
	}

	verdict, record, err := c.store.UpsertRecord(ctx, attrs, resolution.Offender.ID)
	if err != nil {
		c.recordError(rec, err)
		return
	}
	if err := c.store.RecomputeOffenderTotals(ctx, resolution.Offender.ID); err != nil {
		logger.Warn("Failed to recompute offender totals",
			zap.Int64("offender_id", resolution.Offender.ID),
			zap.Error(err),
		)
	}

	c.consecutiveErrors = 0
	metrics.RecordsProcessed.WithLabelValues(c.source.Code(), verdict).Inc()

	c.mu.Lock()
	switch verdict {
	case sqlite.UpsertCreated:
		c.session.Counters.RecordsCreated++
		c.consecutiveExisting = 0
	case sqlite.UpsertUpdated:
		c.session.Counters.RecordsUpdated++
		c.consecutiveExisting = 0
	default:
		c.session.Counters.RecordsExisting++
		c.consecutiveExisting++
	}
	c.mu.Unlock()

	logger.Debug("Record processed",
		zap.String("session_id", c.id),
		zap.String("source_id", rec.SourceID),
		zap.String("verdict", verdict),
		zap.Int64("record_id", record.ID),
		zap.String("resolution", string(resolution.Outcome)),
	)
}

func (c *Controller) markExisting() {
	c.mu.Lock()
	c.session.Counters.RecordsExisting++
	c.mu.Unlock()
	c.consecutiveExisting++
	c.consecutiveErrors = 0
	metrics.RecordsProcessed.WithLabelValues(c.source.Code(), "existing").Inc()
}

// recordError counts a per-record failure and moves on. Only the
// consecutive-error threshold escalates to session failure.
func (c *Controller) recordError(rec scrape.SummaryRecord, err error) {
	c.mu.Lock()
	c.session.Counters.ErrorsCount++
	c.mu.Unlock()
	c.consecutiveErrors++
	logger.Warn("Record processing failed",
		zap.String("session_id", c.id),
		zap.String("source_id", rec.SourceID),
		zap.String("url", rec.DetailURL),
		zap.Error(err),
	)
}

func (c *Controller) countFetchError(err error) {
	var fe *fetcher.Error
	if errors.As(err, &fe) {
		metrics.FetchErrors.WithLabelValues(fe.Kind.String()).Inc()
	}
}

func (c *Controller) stopped(ctx context.Context) bool {
	return c.stopRequested.Load() || ctx.Err() != nil
}

func (c *Controller) bumpPage() {
	c.mu.Lock()
	c.session.Counters.PagesProcessed++
	c.mu.Unlock()
}

func (c *Controller) setStatus(ctx context.Context, status string) {
	c.mu.Lock()
	c.session.Status = status
	snapshot := c.session
	c.mu.Unlock()

	if err := c.store.UpdateSession(ctx, &snapshot); err != nil {
		logger.Error("Failed to persist session status",
			zap.String("session_id", c.id),
			zap.Error(err),
		)
	}
}

func (c *Controller) persistCounters(ctx context.Context) {
	c.mu.Lock()
	snapshot := c.session
	c.mu.Unlock()

	if err := c.store.UpdateSession(ctx, &snapshot); err != nil {
		logger.Error("Failed to persist session counters",
			zap.String("session_id", c.id),
			zap.Error(err),
		)
	}
}

func (c *Controller) finish(ctx context.Context, status, reason string) {
	now := time.Now()
	c.mu.Lock()
	c.session.Status = status
	c.session.Error = reason
	c.session.FinishedAt = &now
	snapshot := c.session
	c.mu.Unlock()

	// Terminal persistence must not be lost to the caller's cancellation.
	if err := c.store.UpdateSession(context.WithoutCancel(ctx), &snapshot); err != nil {
		logger.Error("Failed to persist terminal session state",
			zap.String("session_id", c.id),
			zap.Error(err),
		)
	}

	eventType := EventCompleted
	switch status {
	case models.SessionFailed:
		eventType = EventFailed
	case models.SessionStopped:
		eventType = EventStopped
	}
	c.publish(eventType, reason)

	logger.Info("Session finished",
		zap.String("session_id", c.id),
		zap.String("status", status),
		zap.Int("pages", snapshot.Counters.PagesProcessed),
		zap.Int("created", snapshot.Counters.RecordsCreated),
		zap.Int("updated", snapshot.Counters.RecordsUpdated),
		zap.Int("existing", snapshot.Counters.RecordsExisting),
		zap.Int("errors", snapshot.Counters.ErrorsCount),
	)
}

func (c *Controller) publish(eventType EventType, errText string) {
	if c.hub == nil {
		return
	}
	c.mu.Lock()
	counters := c.session.Counters
	c.mu.Unlock()
	c.hub.Publish(Event{
		SessionID: c.id,
		Type:      eventType,
		Counters:  counters,
		Error:     errText,
	})
}
