package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/regwatch/backend/internal/scrape"
	"github.com/regwatch/backend/internal/session"
	"github.com/regwatch/backend/internal/storage/models"
	"github.com/regwatch/backend/pkg/logger"
)

type SessionHandler struct {
	manager *session.Manager
}

func NewSessionHandler(manager *session.Manager) *SessionHandler {
	return &SessionHandler{
		manager: manager,
	}
}

func (h *SessionHandler) StartSession(c *fiber.Ctx) error {
	var req struct {
		Agency          string `json:"agency"`
		Database        string `json:"database"`
		StartPage       int    `json:"start_page"`
		MaxPages        int    `json:"max_pages"`
		DateFrom        string `json:"date_from"`
		DateTo          string `json:"date_to"`
		ActionType      string `json:"action_type"`
		RefreshExisting bool   `json:"refresh_existing"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	params := scrape.RangeParams{
		StartPage:       req.StartPage,
		MaxPages:        req.MaxPages,
		ActionType:      req.ActionType,
		RefreshExisting: req.RefreshExisting,
	}

	var err error
	if params.DateFrom, err = parseDate(req.DateFrom); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid date_from, expected YYYY-MM-DD",
		})
	}
	if params.DateTo, err = parseDate(req.DateTo); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid date_to, expected YYYY-MM-DD",
		})
	}

	sessionID, err := h.manager.Start(req.Agency, req.Database, params)
	if err != nil {
		if errors.Is(err, session.ErrUnknownAgency) || errors.Is(err, session.ErrUnknownDatabase) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		logger.Error("Failed to start session", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to start session",
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"session_id": sessionID,
	})
}

func (h *SessionHandler) StopSession(c *fiber.Ctx) error {
	sessionID := c.Params("id")

	if err := h.manager.Stop(sessionID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Session not running",
			})
		}
		logger.Error("Failed to stop session", zap.String("session_id", sessionID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to stop session",
		})
	}

	return c.JSON(fiber.Map{
		"session_id": sessionID,
		"stopping":   true,
	})
}

func (h *SessionHandler) GetSession(c *fiber.Ctx) error {
	sessionID := c.Params("id")

	s, err := h.manager.Get(c.Context(), sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Session not found",
			})
		}
		logger.Error("Failed to load session", zap.String("session_id", sessionID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load session",
		})
	}

	return c.JSON(sessionView(s))
}

func (h *SessionHandler) ListSessions(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)

	sessions, err := h.manager.List(c.Context(), limit)
	if err != nil {
		logger.Error("Failed to list sessions", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list sessions",
		})
	}

	views := make([]fiber.Map, 0, len(sessions))
	for i := range sessions {
		views = append(views, sessionView(&sessions[i]))
	}
	return c.JSON(fiber.Map{
		"sessions": views,
	})
}

func sessionView(s *models.ScrapeSession) fiber.Map {
	view := fiber.Map{
		"id":           s.ID,
		"agency":       s.AgencyCode,
		"database":     s.TargetDatabase,
		"range_params": s.RangeParams,
		"status":       s.Status,
		"counters":     s.Counters,
		"started_at":   s.StartedAt.UTC().Format(time.RFC3339),
	}
	if s.Error != "" {
		view["error"] = s.Error
	}
	if s.FinishedAt != nil {
		view["finished_at"] = s.FinishedAt.UTC().Format(time.RFC3339)
	}
	return view
}

func parseDate(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
