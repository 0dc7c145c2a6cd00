package session

import (
	"sync"

	"github.com/regwatch/backend/internal/storage/models"
)

type EventType string

const (
	EventStarted   EventType = "started"
	EventProgress  EventType = "progress"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventStopped   EventType = "stopped"
)

type Event struct {
	SessionID string                 `json:"session_id"`
	Type      EventType              `json:"type"`
	Counters  models.SessionCounters `json:"counters"`
	Error     string                 `json:"error,omitempty"`
}

// Hub fans session progress events out to subscribers. Delivery is
// fire-and-forget: a slow subscriber loses events rather than stalling the
// scrape. The durable session counters are the source of truth.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan Event]struct{})}
}

// Subscribe returns a buffered event channel for one session and a cancel
// function that must be called when the subscriber is done.
func (h *Hub) Subscribe(sessionID string) (<-chan Event, func()) {
	ch := make(chan Event, 16)

	h.mu.Lock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[chan Event]struct{})
	}
	h.subs[sessionID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if subs, ok := h.subs[sessionID]; ok {
			delete(subs, ch)
			if len(subs) == 0 {
				delete(h.subs, sessionID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish sends the event to every subscriber without blocking.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[ev.SessionID] {
		select {
		case ch <- ev:
		default:
		}
	}
}
