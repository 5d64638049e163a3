package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const tabIDKey contextKey = "tabID"

// TabCookie is the cookie that pins a browser tab to its volatile state.
const TabCookie = "enoki_tab"

// ResolveTab assigns each request a tab identity, minting a cookie for
// first-time visitors.
func ResolveTab(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ""
		if cookie, err := r.Cookie(TabCookie); err == nil && cookie.Value != "" {
			id = cookie.Value
		}
		if id == "" {
			id = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     TabCookie,
				Value:    id,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}

		ctx := context.WithValue(r.Context(), tabIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TabID extracts the tab identity resolved by ResolveTab.
func TabID(ctx context.Context) string {
	id, _ := ctx.Value(tabIDKey).(string)
	return id
}
