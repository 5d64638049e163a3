package tabs

import "sync"

// Event is a UI-facing notification pushed over SSE or the websocket
// channel.
type Event struct {
	Type string `json:"type"`
	// RemainingSeconds accompanies cooldown ticks.
	RemainingSeconds float64 `json:"remaining_seconds,omitempty"`
}

const (
	EventCooldown = "cooldown"
	EventReady    = "ready"
	EventHistory  = "history_changed"
)

// hub fans events out to every subscriber of one tab. Slow subscribers
// drop events rather than block the tab's actor.
type hub struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Event
}

func newHub() *hub {
	return &hub{subs: make(map[int]chan Event)}
}

// Subscribe returns a buffered event channel and its cancel function.
func (h *hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	id := h.next
	h.next++
	ch := make(chan Event, 16)
	h.subs[id] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Broadcast delivers an event to every live subscriber.
func (h *hub) Broadcast(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		select {
		case sub <- event:
		default:
			// Subscriber is not draining; drop rather than stall.
		}
	}
}

// Close drops every subscriber.
func (h *hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub)
	}
}
