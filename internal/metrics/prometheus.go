package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PagesScraped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regwatch_pages_scraped_total",
			Help: "Summary pages fetched and parsed",
		},
		[]string{"agency"},
	)

	RecordsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regwatch_records_processed_total",
			Help: "Records processed by outcome",
		},
		[]string{"agency", "outcome"},
	)

	FetchRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "regwatch_fetch_retries_total",
			Help: "HTTP fetch retries across all sessions",
		},
	)

	FetchErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regwatch_fetch_errors_total",
			Help: "HTTP fetch failures after retry by error kind",
		},
		[]string{"kind"},
	)

	SessionsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regwatch_sessions_finished_total",
			Help: "Scrape sessions reaching a terminal status",
		},
		[]string{"agency", "status"},
	)

	SessionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "regwatch_session_duration_seconds",
			Help:    "Wall-clock duration of finished scrape sessions",
			Buckets: []float64{1, 10, 30, 60, 300, 900, 3600},
		},
		[]string{"agency"},
	)

	FuzzyMatchScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "regwatch_fuzzy_match_score",
			Help:    "Best fuzzy similarity score per resolved organization",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	MatchReviewsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "regwatch_match_reviews_created_total",
			Help: "Match reviews opened for ambiguous offender matches",
		},
	)

	RegistryLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regwatch_registry_lookups_total",
			Help: "External company registry lookups by result",
		},
		[]string{"result"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regwatch_cache_hits_total",
			Help: "Registry cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regwatch_cache_misses_total",
			Help: "Registry cache misses",
		},
		[]string{"cache_type"},
	)
)

func Init() {
	prometheus.MustRegister(PagesScraped)
	prometheus.MustRegister(RecordsProcessed)
	prometheus.MustRegister(FetchRetries)
	prometheus.MustRegister(FetchErrors)
	prometheus.MustRegister(SessionsFinished)
	prometheus.MustRegister(SessionDuration)
	prometheus.MustRegister(FuzzyMatchScore)
	prometheus.MustRegister(MatchReviewsCreated)
	prometheus.MustRegister(RegistryLookups)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
