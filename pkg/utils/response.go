package utils

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/enoki-chat/backend/internal/model/chat"
)

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// RespondError writes a uniform error body.
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, map[string]string{"error": message})
}

// RespondTaxonomy maps the core failure taxonomy onto HTTP. Everything
// here is recoverable; the body always carries enough for the UI to
// offer a retry path instead of silently dropping data.
func RespondTaxonomy(w http.ResponseWriter, err error) {
	var limited *chat.RateLimitedError
	var migration *chat.MigrationRequired

	switch {
	case errors.As(err, &limited):
		seconds := int(limited.RetryAfter.Round(time.Second) / time.Second)
		if seconds < 1 {
			seconds = 1
		}
		RespondJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":       err.Error(),
			"retry_after": seconds,
		})
	case errors.As(err, &migration):
		RespondJSON(w, http.StatusConflict, map[string]any{
			"error":              err.Error(),
			"migration_required": true,
			"pending_sessions":   migration.PendingSessions,
		})
	case errors.Is(err, chat.ErrConsentRequired):
		RespondJSON(w, http.StatusConflict, map[string]any{
			"error":            err.Error(),
			"consent_required": true,
		})
	case errors.Is(err, chat.ErrAuthRequired):
		RespondJSON(w, http.StatusForbidden, map[string]any{
			"error":          err.Error(),
			"login_required": true,
		})
	case errors.Is(err, chat.ErrMigrationInFlight):
		RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, chat.ErrSessionNotFound):
		RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chat.ErrPersistenceFailed):
		RespondError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, chat.ErrNetwork):
		RespondError(w, http.StatusBadGateway, err.Error())
	default:
		RespondError(w, http.StatusInternalServerError, err.Error())
	}
}
