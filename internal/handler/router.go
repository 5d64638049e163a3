package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	chathandler "github.com/enoki-chat/backend/internal/handler/chat"
	consenthandler "github.com/enoki-chat/backend/internal/handler/consent"
	eventshandler "github.com/enoki-chat/backend/internal/handler/events"
	"github.com/enoki-chat/backend/internal/middleware"
	"github.com/enoki-chat/backend/internal/tabs"
	"github.com/enoki-chat/backend/pkg/utils"
)

// NewRouter wires HTTP routes to the per-tab services.
func NewRouter(registry *tabs.Registry, sendCooldown time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS)
	r.Use(middleware.ResolveTab)

	chatHandler := chathandler.New(registry)
	consentHandler := consenthandler.New(registry)
	eventsHandler := eventshandler.New(registry)

	// Backstop limiter on the send endpoint, keyed by tab. Bursts allow
	// a quick retry after a local countdown expires; the per-tab
	// cooldown and the collaborator's check remain authoritative.
	sendLimit := middleware.PerClientLimit(sendCooldown, 3,
		func(r *http.Request) string { return middleware.TabID(r.Context()) },
		func(w http.ResponseWriter, _ *http.Request) {
			utils.RespondJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":       "rate limit exceeded",
				"retry_after": int(sendCooldown / time.Second),
			})
		},
	)

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api, sendLimit)
		consentHandler.RegisterRoutes(api)
		eventsHandler.RegisterRoutes(api)
	})

	return r
}
