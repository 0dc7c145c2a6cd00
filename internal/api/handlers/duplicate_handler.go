package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/regwatch/backend/internal/dedupe"
	"github.com/regwatch/backend/pkg/logger"
)

type DuplicateHandler struct {
	detector *dedupe.Detector
}

func NewDuplicateHandler(detector *dedupe.Detector) *DuplicateHandler {
	return &DuplicateHandler{
		detector: detector,
	}
}

func (h *DuplicateHandler) FindDuplicates(c *fiber.Ctx) error {
	resourceType := c.Params("type")
	switch resourceType {
	case dedupe.ResourceOffenders, dedupe.ResourceCases, dedupe.ResourceNotices:
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown resource type, expected offenders, cases or notices",
		})
	}

	groups, err := h.detector.FindDuplicates(c.Context(), resourceType)
	if err != nil {
		logger.Error("Duplicate scan failed", zap.String("type", resourceType), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Duplicate scan failed",
		})
	}

	return c.JSON(fiber.Map{
		"type":   resourceType,
		"groups": groups,
	})
}
