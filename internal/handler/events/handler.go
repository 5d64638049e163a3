// Package events pushes rate-limit countdown and history-change
// notifications to the UI, over SSE or a websocket.
package events

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/enoki-chat/backend/internal/middleware"
	"github.com/enoki-chat/backend/internal/tabs"
	"github.com/enoki-chat/backend/pkg/utils"
)

const heartbeatInterval = 30 * time.Second

// Handler serves the per-tab event channels.
type Handler struct {
	registry *tabs.Registry
	upgrader websocket.Upgrader
}

// New creates the events handler.
func New(registry *tabs.Registry) *Handler {
	return &Handler{
		registry: registry,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes wires the event routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/events", h.handleSSE)
	r.Get("/ws", h.handleWebSocket)
}

// handleSSE streams tab events until the client disconnects.
func (h *Handler) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	tab, err := h.registry.Get(middleware.TabID(r.Context()))
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to resolve tab state")
		return
	}

	events, cancel := tab.Subscribe()
	defer cancel()

	utils.SetupSSEHeaders(w)
	utils.SendSSEEvent(w, flusher, "status", map[string]string{"message": "stream established"})

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			utils.SendSSEEvent(w, flusher, "heartbeat", map[string]string{
				"time": time.Now().UTC().Format(time.RFC3339),
			})
		case event, open := <-events:
			if !open {
				return
			}
			utils.SendSSEEvent(w, flusher, event.Type, event)
		}
	}
}

// handleWebSocket carries the same events for UIs that prefer a socket.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	tab, err := h.registry.Get(middleware.TabID(r.Context()))
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to resolve tab state")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[events] websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	events, cancel := tab.Subscribe()
	defer cancel()

	// Reader loop only to observe the close handshake.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-done:
			return
		case <-heartbeat.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case event, open := <-events:
			if !open {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				log.Printf("[events] websocket write failed: %v", err)
				return
			}
		}
	}
}
