package chat

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/enoki-chat/backend/internal/middleware"
	"github.com/enoki-chat/backend/internal/tabs"
	"github.com/enoki-chat/backend/pkg/utils"
)

// Handler exposes the chat dispatcher and session operations over HTTP.
type Handler struct {
	registry *tabs.Registry
}

// New creates the chat handler.
func New(registry *tabs.Registry) *Handler {
	return &Handler{registry: registry}
}

// RegisterRoutes wires the chat routes. sendLimit guards the dispatch
// endpoint only; reads are not rate limited.
func (h *Handler) RegisterRoutes(r chi.Router, sendLimit func(http.Handler) http.Handler) {
	r.With(sendLimit).Post("/chat", h.handleSend)
	r.Get("/chat/context", h.handleContext)
	r.Get("/chat/history", h.handleHistory)
	r.Post("/chat/new", h.handleNewChat)
	r.Get("/chat/session/{sessionID}", h.handleSessionDetail)
	r.Post("/chat/switch/{sessionID}", h.handleSwitch)
	r.Delete("/chat/session/{sessionID}", h.handleDelete)
}

func (h *Handler) tab(w http.ResponseWriter, r *http.Request) (*tabs.Tab, bool) {
	tab, err := h.registry.Get(middleware.TabID(r.Context()))
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to resolve tab state")
		return nil, false
	}
	return tab, true
}

// handleSend dispatches one user message.
func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Message  string `json:"message"`
		Tone     string `json:"tone"`
		Language string `json:"language"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Message == "" {
		utils.RespondError(w, http.StatusBadRequest, "message is required")
		return
	}

	tab, ok := h.tab(w, r)
	if !ok {
		return
	}

	result, err := tab.Chat.Send(r.Context(), payload.Message, payload.Tone, payload.Language)
	if err != nil {
		utils.RespondTaxonomy(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, result)
}

// handleContext returns the active regime's current session and
// transcript in one shot, replacing any page-reload refresh flow.
func (h *Handler) handleContext(w http.ResponseWriter, r *http.Request) {
	tab, ok := h.tab(w, r)
	if !ok {
		return
	}

	status, err := tab.Consent.Load(r.Context())
	if err != nil {
		utils.RespondTaxonomy(w, err)
		return
	}

	sessionID, messages, err := tab.Chat.LoadTranscript(r.Context())
	if err != nil {
		utils.RespondTaxonomy(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"consent_status": status,
		"session_id":     sessionID,
		"messages":       messages,
	})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	tab, ok := h.tab(w, r)
	if !ok {
		return
	}

	sessions, err := tab.Chat.History(r.Context())
	if err != nil {
		utils.RespondTaxonomy(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (h *Handler) handleNewChat(w http.ResponseWriter, r *http.Request) {
	tab, ok := h.tab(w, r)
	if !ok {
		return
	}

	id, err := tab.Chat.NewChat(r.Context())
	if err != nil {
		utils.RespondTaxonomy(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, map[string]string{"session_id": id})
}

func (h *Handler) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	tab, ok := h.tab(w, r)
	if !ok {
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	messages, err := tab.Chat.LoadSession(r.Context(), sessionID)
	if err != nil {
		utils.RespondTaxonomy(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"messages":   messages,
	})
}

func (h *Handler) handleSwitch(w http.ResponseWriter, r *http.Request) {
	tab, ok := h.tab(w, r)
	if !ok {
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	if err := tab.Chat.SwitchSession(r.Context(), sessionID); err != nil {
		utils.RespondTaxonomy(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"session_id": sessionID})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	tab, ok := h.tab(w, r)
	if !ok {
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	if err := tab.Chat.DeleteSession(r.Context(), sessionID); err != nil {
		utils.RespondTaxonomy(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
