package notify

import (
	"context"
	"log"
	"sync"
	"time"

	"signal-engine/internal/events"
)

// Hub is an in-process connection registry: consumers (websocket handlers,
// tests) register per-user channels and the hub fans notifications out to
// them. It is an explicit instance with its own lifecycle, passed to
// whatever needs to push notifications; nothing here is process-global.
type Hub struct {
	Bus      *events.Bus
	Fallback Dispatcher

	mu    sync.RWMutex
	conns map[string][]chan Message
}

func NewHub(bus *events.Bus, fallback Dispatcher) *Hub {
	return &Hub{
		Bus:      bus,
		Fallback: fallback,
		conns:    make(map[string][]chan Message),
	}
}

// Register adds a delivery channel for a user and returns it with an
// unregister function.
func (h *Hub) Register(userID string, buffer int) (<-chan Message, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Message, buffer)
	h.conns[userID] = append(h.conns[userID], ch)

	unregister := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		chans := h.conns[userID]
		for i, c := range chans {
			if c == ch {
				close(c)
				h.conns[userID] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
		if len(h.conns[userID]) == 0 {
			delete(h.conns, userID)
		}
	}

	return ch, unregister
}

// Notify delivers to every registered channel for the user, falling back to
// the fallback dispatcher when the user has no live connection. Slow
// consumers are skipped rather than blocked on.
func (h *Hub) Notify(ctx context.Context, userID string, typ Type, payload any) bool {
	msg := Message{
		UserID:    userID,
		Type:      typ,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	h.mu.RLock()
	chans := h.conns[userID]
	h.mu.RUnlock()

	delivered := false
	for _, ch := range chans {
		select {
		case ch <- msg:
			delivered = true
		default:
			log.Printf("notify: dropping message for slow consumer user=%s", userID)
		}
	}

	if !delivered && h.Fallback != nil {
		delivered = h.Fallback.Notify(ctx, userID, typ, payload)
	}

	if delivered && h.Bus != nil {
		h.Bus.Publish(events.EventNotificationSent, msg)
	}
	return delivered
}
