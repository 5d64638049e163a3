package consent

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/enoki-chat/backend/internal/middleware"
	"github.com/enoki-chat/backend/internal/model/chat"
	"github.com/enoki-chat/backend/internal/tabs"
	"github.com/enoki-chat/backend/pkg/utils"
)

// Handler exposes consent state and the migration endpoints.
type Handler struct {
	registry *tabs.Registry
}

// New creates the consent handler.
func New(registry *tabs.Registry) *Handler {
	return &Handler{registry: registry}
}

// RegisterRoutes wires the consent routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/consent", h.handleStatus)
	r.Post("/consent", h.handleUpdate)
	r.Post("/consent/migrate", h.handleMigrate)
	r.Post("/consent/discard", h.handleDiscard)
}

func (h *Handler) tab(w http.ResponseWriter, r *http.Request) (*tabs.Tab, bool) {
	tab, err := h.registry.Get(middleware.TabID(r.Context()))
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to resolve tab state")
		return nil, false
	}
	return tab, true
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	tab, ok := h.tab(w, r)
	if !ok {
		return
	}

	status, err := tab.Consent.Load(r.Context())
	if err != nil {
		utils.RespondTaxonomy(w, err)
		return
	}

	hasLocal, err := tab.Store.HasMessages(r.Context())
	if err != nil {
		utils.RespondTaxonomy(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"consent_status":     status,
		"has_local_messages": hasLocal,
	})
}

// handleUpdate applies a consent transition. An upgrade that needs
// migration does not flip; the 409 body tells the UI to offer the
// migrate/discard choice.
func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	target, err := chat.ParseConsentStatus(payload.Status)
	if err != nil || target == chat.ConsentUnset {
		utils.RespondError(w, http.StatusBadRequest, "status must be anonymous or secure")
		return
	}

	tab, ok := h.tab(w, r)
	if !ok {
		return
	}

	result, err := tab.Chat.SetConsent(r.Context(), target)
	if err != nil {
		utils.RespondTaxonomy(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"consent_status": result.Status,
		"session_id":     result.NewAnonymousSessionID,
	})
}

// handleMigrate runs the coordinator. Partial failure keeps the
// anonymous data and reports per-session outcomes so the whole
// operation can be retried.
func (h *Handler) handleMigrate(w http.ResponseWriter, r *http.Request) {
	tab, ok := h.tab(w, r)
	if !ok {
		return
	}

	report, err := tab.Migrator.Migrate(r.Context())
	if err != nil {
		if report != nil {
			utils.RespondJSON(w, http.StatusBadGateway, map[string]any{
				"error":    err.Error(),
				"outcomes": report.Outcomes,
			})
			return
		}
		utils.RespondTaxonomy(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"consent_status": tab.Consent.Status(),
		"outcomes":       report.Outcomes,
	})
}

func (h *Handler) handleDiscard(w http.ResponseWriter, r *http.Request) {
	tab, ok := h.tab(w, r)
	if !ok {
		return
	}

	sessionID, err := tab.Migrator.Discard(r.Context())
	if err != nil {
		utils.RespondTaxonomy(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"consent_status": tab.Consent.Status(),
		"session_id":     sessionID,
	})
}
