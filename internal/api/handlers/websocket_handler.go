package handlers

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/regwatch/backend/internal/session"
	"github.com/regwatch/backend/pkg/logger"
)

type WebSocketHandler struct {
	manager *session.Manager
}

func NewWebSocketHandler(manager *session.Manager) *WebSocketHandler {
	return &WebSocketHandler{
		manager: manager,
	}
}

// HandleProgress streams session progress events to the client until the
// session reaches a terminal state or the client disconnects. Events are
// best-effort: a slow client misses intermediate updates, never blocks the
// pipeline.
func (h *WebSocketHandler) HandleProgress(c *websocket.Conn) {
	sessionID := c.Params("id")
	logger.Info("Progress stream opened", zap.String("session_id", sessionID))

	events, cancel := h.manager.Subscribe(sessionID)
	defer func() {
		cancel()
		c.Close()
		logger.Info("Progress stream closed", zap.String("session_id", sessionID))
	}()

	// Drain reads so client-initiated close is noticed.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Send the current snapshot first so late subscribers see state at all.
	if s, err := h.manager.Get(context.Background(), sessionID); err == nil {
		snapshot := session.Event{
			SessionID: s.ID,
			Type:      session.EventProgress,
			Counters:  s.Counters,
			Error:     s.Error,
		}
		if err := c.WriteJSON(snapshot); err != nil {
			return
		}
	}

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := c.WriteJSON(event); err != nil {
				logger.Debug("Failed to write progress event",
					zap.String("session_id", sessionID),
					zap.Error(err),
				)
				return
			}
			switch event.Type {
			case session.EventCompleted, session.EventFailed, session.EventStopped:
				return
			}
		case <-closed:
			return
		}
	}
}
