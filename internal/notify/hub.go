// Package notify buffers dashboard events so browser clients can poll for
// updates without holding server connections open.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one dashboard notification.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

const maxBuffered = 100

// Hub keeps a bounded in-memory ring of recent events. A nil Hub drops
// everything, so wiring it is optional.
type Hub struct {
	mu     sync.Mutex
	events []Event
}

func NewHub() *Hub {
	return &Hub{}
}

// Publish appends an event, evicting the oldest past the buffer cap.
func (h *Hub) Publish(eventType string, data map[string]any) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	})
	if len(h.events) > maxBuffered {
		h.events = h.events[len(h.events)-maxBuffered:]
	}
}

// Since returns events published after the event with the given id. An
// unknown or empty id returns the whole buffer, so new pollers catch up.
func (h *Hub) Since(lastID string) []Event {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	start := 0
	if lastID != "" {
		for i, ev := range h.events {
			if ev.ID == lastID {
				start = i + 1
				break
			}
		}
	}
	out := make([]Event, len(h.events)-start)
	copy(out, h.events[start:])
	return out
}
