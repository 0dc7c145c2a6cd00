package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/regwatch/backend/internal/resolver"
	"github.com/regwatch/backend/internal/storage/models"
	"github.com/regwatch/backend/pkg/logger"
)

// ReviewLister is the list surface the handler needs beyond the resolver's
// per-review actions.
type ReviewLister interface {
	ListMatchReviews(ctx context.Context, status string) ([]models.MatchReview, error)
}

type ReviewHandler struct {
	resolver *resolver.Resolver
	store    ReviewLister
}

func NewReviewHandler(res *resolver.Resolver, store ReviewLister) *ReviewHandler {
	return &ReviewHandler{
		resolver: res,
		store:    store,
	}
}

func (h *ReviewHandler) ListReviews(c *fiber.Ctx) error {
	status := c.Query("status", models.ReviewPending)

	reviews, err := h.store.ListMatchReviews(c.Context(), status)
	if err != nil {
		logger.Error("Failed to list match reviews", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list reviews",
		})
	}

	views := make([]fiber.Map, 0, len(reviews))
	for i := range reviews {
		views = append(views, reviewView(&reviews[i]))
	}
	return c.JSON(fiber.Map{
		"reviews": views,
	})
}

func (h *ReviewHandler) ApproveReview(c *fiber.Ctx) error {
	var req struct {
		RegistrationNumber string `json:"registration_number"`
		ReviewedBy         string `json:"reviewed_by"`
	}
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	review, err := h.resolver.Approve(c.Context(), c.Params("id"), req.RegistrationNumber, req.ReviewedBy)
	if err != nil {
		return h.reviewError(c, err, "Failed to approve review")
	}
	return c.JSON(reviewView(review))
}

func (h *ReviewHandler) SkipReview(c *fiber.Ctx) error {
	review, err := h.resolver.Skip(c.Context(), c.Params("id"), reviewedBy(c))
	if err != nil {
		return h.reviewError(c, err, "Failed to skip review")
	}
	return c.JSON(reviewView(review))
}

func (h *ReviewHandler) FlagReview(c *fiber.Ctx) error {
	review, err := h.resolver.Flag(c.Context(), c.Params("id"), reviewedBy(c))
	if err != nil {
		return h.reviewError(c, err, "Failed to flag review")
	}
	return c.JSON(reviewView(review))
}

func (h *ReviewHandler) reviewError(c *fiber.Ctx, err error, fallback string) error {
	switch {
	case errors.Is(err, resolver.ErrReviewNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Review not found",
		})
	case errors.Is(err, resolver.ErrReviewTerminal):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Review already resolved",
		})
	case errors.Is(err, resolver.ErrUnknownCandidate):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Selected candidate is not in the review candidate list",
		})
	default:
		logger.Error(fallback, zap.String("review_id", c.Params("id")), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": fallback,
		})
	}
}

func reviewedBy(c *fiber.Ctx) string {
	var req struct {
		ReviewedBy string `json:"reviewed_by"`
	}
	if err := c.BodyParser(&req); err != nil {
		return ""
	}
	return req.ReviewedBy
}

func reviewView(r *models.MatchReview) fiber.Map {
	view := fiber.Map{
		"id":               r.ID,
		"offender_id":      r.OffenderID,
		"status":           r.Status,
		"confidence_score": r.ConfidenceScore,
		"candidates":       r.Candidates,
		"created_at":       r.CreatedAt.UTC().Format(time.RFC3339),
	}
	if r.SelectedCandidate != "" {
		view["selected_candidate"] = r.SelectedCandidate
	}
	if r.ReviewedBy != "" {
		view["reviewed_by"] = r.ReviewedBy
	}
	if r.ReviewedAt != nil {
		view["reviewed_at"] = r.ReviewedAt.UTC().Format(time.RFC3339)
	}
	return view
}
