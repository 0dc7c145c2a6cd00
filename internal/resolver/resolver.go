package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/regwatch/backend/internal/metrics"
	"github.com/regwatch/backend/internal/storage/models"
	"github.com/regwatch/backend/pkg/logger"
)

// Outcome says how an organization was resolved to an offender.
type Outcome string

const (
	OutcomeLinked        Outcome = "linked"
	OutcomeCreated       Outcome = "created"
	OutcomeReviewPending Outcome = "review_pending"
)

var (
	ErrReviewNotFound   = errors.New("match review not found")
	ErrReviewTerminal   = errors.New("match review already in a terminal state")
	ErrUnknownCandidate = errors.New("selected candidate not in review candidate list")
)

// Store is the offender-side persistence the resolver needs. Implemented by
// the sqlite client; tests use an in-memory fake.
type Store interface {
	FindOffenderByRegNumber(ctx context.Context, regNumber string) (*models.Offender, error)
	FindOffenderByNormalizedName(ctx context.Context, normalized string) (*models.Offender, error)
	ListOffenders(ctx context.Context) ([]models.Offender, error)
	// CreateOffender is insert-or-get keyed on normalized name, so
	// concurrent sessions cannot race duplicate offenders into being.
	CreateOffender(ctx context.Context, o models.Offender) (*models.Offender, error)
	CreateMatchReview(ctx context.Context, review *models.MatchReview) error
	GetMatchReview(ctx context.Context, id string) (*models.MatchReview, error)
	UpdateMatchReview(ctx context.Context, review *models.MatchReview) error
	RelinkOffenderRecords(ctx context.Context, fromOffenderID, toOffenderID int64) error
	RecomputeOffenderTotals(ctx context.Context, offenderID int64) error
}

// Registry is the external company-register lookup. Best effort: failures
// degrade to an empty candidate list.
type Registry interface {
	Lookup(ctx context.Context, nameOrNumber string) ([]models.CandidateCompany, error)
}

type Config struct {
	HighThreshold float64
	LowThreshold  float64
	TopK          int
}

func DefaultConfig() Config {
	return Config{HighThreshold: 0.85, LowThreshold: 0.5, TopK: 5}
}

// Resolution is the result of resolving one organization.
type Resolution struct {
	Offender *models.Offender
	Outcome  Outcome
	Score    float64
	Review   *models.MatchReview
}

// Resolver matches scraped organization attributes against known offenders:
// exact registration number, then exact normalized name, then fuzzy name
// similarity with an ambiguous band escalated to human review.
type Resolver struct {
	store    Store
	registry Registry
	cfg      Config

	// scoreFn is swappable in tests.
	scoreFn func(a, b string) float64
}

func New(store Store, registry Registry, cfg Config) *Resolver {
	if cfg.HighThreshold == 0 {
		cfg.HighThreshold = 0.85
	}
	if cfg.LowThreshold == 0 {
		cfg.LowThreshold = 0.5
	}
	if cfg.TopK == 0 {
		cfg.TopK = 5
	}
	return &Resolver{store: store, registry: registry, cfg: cfg, scoreFn: Similarity}
}

// Resolve finds or creates the offender for the given record attributes.
//
// Ambiguous fuzzy matches attach the record to a newly created placeholder
// offender and open a pending review; approval later re-links the
// placeholder's records to the chosen company. This keeps every record linked
// at all times at the cost of a temporary extra offender row.
func (r *Resolver) Resolve(ctx context.Context, attrs models.CanonicalAttrs) (*Resolution, error) {
	if attrs.OffenderName == "" {
		return nil, fmt.Errorf("cannot resolve offender with empty name")
	}

	if attrs.OffenderRegNum != "" {
		existing, err := r.store.FindOffenderByRegNumber(ctx, attrs.OffenderRegNum)
		if err != nil {
			return nil, fmt.Errorf("failed to look up offender by registration number: %w", err)
		}
		if existing != nil {
			return &Resolution{Offender: existing, Outcome: OutcomeLinked, Score: 1}, nil
		}
	}

	normalized := NormalizeName(attrs.OffenderName)
	existing, err := r.store.FindOffenderByNormalizedName(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to look up offender by name: %w", err)
	}
	if existing != nil {
		return &Resolution{Offender: existing, Outcome: OutcomeLinked, Score: 1}, nil
	}

	best, bestScore, err := r.bestFuzzyMatch(ctx, attrs.OffenderName)
	if err != nil {
		return nil, err
	}
	metrics.FuzzyMatchScore.Observe(bestScore)

	switch {
	case best != nil && bestScore >= r.cfg.HighThreshold:
		logger.Info("Fuzzy match auto-linked",
			zap.String("name", attrs.OffenderName),
			zap.String("matched", best.Name),
			zap.Float64("score", bestScore),
		)
		return &Resolution{Offender: best, Outcome: OutcomeLinked, Score: bestScore}, nil

	case best != nil && bestScore >= r.cfg.LowThreshold:
		return r.escalate(ctx, attrs, normalized, bestScore, best)

	default:
		offender, err := r.createOffender(ctx, attrs, normalized, false)
		if err != nil {
			return nil, err
		}
		return &Resolution{Offender: offender, Outcome: OutcomeCreated, Score: bestScore}, nil
	}
}

func (r *Resolver) bestFuzzyMatch(ctx context.Context, name string) (*models.Offender, float64, error) {
	offenders, err := r.store.ListOffenders(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list offenders for fuzzy match: %w", err)
	}

	var best *models.Offender
	bestScore := 0.0
	for i := range offenders {
		score := r.scoreFn(name, offenders[i].Name)
		if score > bestScore {
			best = &offenders[i]
			bestScore = score
		}
	}
	return best, bestScore, nil
}

// escalate creates a placeholder offender, gathers registry candidates and
// opens a pending review.
func (r *Resolver) escalate(ctx context.Context, attrs models.CanonicalAttrs, normalized string, score float64, localBest *models.Offender) (*Resolution, error) {
	placeholder, err := r.createOffender(ctx, attrs, normalized, true)
	if err != nil {
		return nil, err
	}

	candidates := r.lookupCandidates(ctx, attrs.OffenderName)
	// The best local match is always a candidate, ahead of anything the
	// registry did not score higher.
	candidates = append(candidates, models.CandidateCompany{
		Name:               localBest.Name,
		RegistrationNumber: localBest.RegistrationNumber,
		Address:            localBest.AddressLine,
		Score:              score,
	})
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	if len(candidates) > r.cfg.TopK {
		candidates = candidates[:r.cfg.TopK]
	}

	review := &models.MatchReview{
		ID:              uuid.NewString(),
		OffenderID:      placeholder.ID,
		Status:          models.ReviewPending,
		ConfidenceScore: score,
		Candidates:      candidates,
		CreatedAt:       time.Now(),
	}
	if err := r.store.CreateMatchReview(ctx, review); err != nil {
		return nil, fmt.Errorf("failed to create match review: %w", err)
	}
	metrics.MatchReviewsCreated.Inc()

	logger.Info("Ambiguous fuzzy match escalated to review",
		zap.String("name", attrs.OffenderName),
		zap.Float64("score", score),
		zap.String("review_id", review.ID),
	)

	return &Resolution{Offender: placeholder, Outcome: OutcomeReviewPending, Score: score, Review: review}, nil
}

func (r *Resolver) lookupCandidates(ctx context.Context, name string) []models.CandidateCompany {
	if r.registry == nil {
		return nil
	}
	candidates, err := r.registry.Lookup(ctx, name)
	if err != nil {
		logger.Warn("Registry lookup failed, continuing without candidates",
			zap.String("name", name),
			zap.Error(err),
		)
		return nil
	}
	for i := range candidates {
		candidates[i].Score = r.scoreFn(name, candidates[i].Name)
	}
	return candidates
}

func (r *Resolver) createOffender(ctx context.Context, attrs models.CanonicalAttrs, normalized string, placeholder bool) (*models.Offender, error) {
	offender, err := r.store.CreateOffender(ctx, models.Offender{
		Name:               attrs.OffenderName,
		NormalizedName:     normalized,
		RegistrationNumber: attrs.OffenderRegNum,
		AddressLine:        attrs.OffenderAddress,
		Town:               attrs.OffenderTown,
		Postcode:           attrs.OffenderPostcode,
		Placeholder:        placeholder,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create offender: %w", err)
	}
	return offender, nil
}

// Approve re-links every record attached to the review's placeholder offender
// to the offender identified by the selected candidate, then marks the review
// approved. Reviews are an audit trail and are never deleted.
func (r *Resolver) Approve(ctx context.Context, reviewID, selectedRegNumber, reviewedBy string) (*models.MatchReview, error) {
	review, err := r.loadPendingReview(ctx, reviewID)
	if err != nil {
		return nil, err
	}

	var selected *models.CandidateCompany
	for i := range review.Candidates {
		if review.Candidates[i].RegistrationNumber == selectedRegNumber {
			selected = &review.Candidates[i]
			break
		}
	}
	if selected == nil {
		return nil, ErrUnknownCandidate
	}

	target, err := r.store.CreateOffender(ctx, models.Offender{
		Name:               selected.Name,
		NormalizedName:     NormalizeName(selected.Name),
		RegistrationNumber: selected.RegistrationNumber,
		AddressLine:        selected.Address,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve selected candidate: %w", err)
	}

	if target.ID != review.OffenderID {
		if err := r.store.RelinkOffenderRecords(ctx, review.OffenderID, target.ID); err != nil {
			return nil, fmt.Errorf("failed to relink offender records: %w", err)
		}
		if err := r.store.RecomputeOffenderTotals(ctx, target.ID); err != nil {
			return nil, fmt.Errorf("failed to recompute offender totals: %w", err)
		}
		if err := r.store.RecomputeOffenderTotals(ctx, review.OffenderID); err != nil {
			return nil, fmt.Errorf("failed to recompute placeholder totals: %w", err)
		}
	}

	return r.closeReview(ctx, review, models.ReviewApproved, selectedRegNumber, reviewedBy)
}

// Skip closes the review leaving the placeholder offender in place.
func (r *Resolver) Skip(ctx context.Context, reviewID, reviewedBy string) (*models.MatchReview, error) {
	review, err := r.loadPendingReview(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	return r.closeReview(ctx, review, models.ReviewSkipped, "", reviewedBy)
}

// Flag marks the review for later follow-up without changing any links.
// Flagged is not terminal; the review stays actionable.
func (r *Resolver) Flag(ctx context.Context, reviewID, reviewedBy string) (*models.MatchReview, error) {
	review, err := r.loadPendingReview(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	return r.closeReview(ctx, review, models.ReviewFlagged, "", reviewedBy)
}

func (r *Resolver) loadPendingReview(ctx context.Context, reviewID string) (*models.MatchReview, error) {
	review, err := r.store.GetMatchReview(ctx, reviewID)
	if err != nil {
		return nil, fmt.Errorf("failed to load match review: %w", err)
	}
	if review == nil {
		return nil, ErrReviewNotFound
	}
	if review.Status == models.ReviewApproved || review.Status == models.ReviewSkipped {
		return nil, ErrReviewTerminal
	}
	return review, nil
}

func (r *Resolver) closeReview(ctx context.Context, review *models.MatchReview, status, selected, reviewedBy string) (*models.MatchReview, error) {
	now := time.Now()
	review.Status = status
	review.SelectedCandidate = selected
	review.ReviewedBy = reviewedBy
	review.ReviewedAt = &now
	if err := r.store.UpdateMatchReview(ctx, review); err != nil {
		return nil, fmt.Errorf("failed to update match review: %w", err)
	}
	return review, nil
}

// SetScoreFunc overrides the similarity function. Intended for tests.
func (r *Resolver) SetScoreFunc(fn func(a, b string) float64) {
	r.scoreFn = fn
}
