package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// PerClientLimit guards an endpoint with a token bucket per client key.
// This is the service's own backstop; the client-side cooldown and the
// collaborator's authoritative check still apply.
func PerClientLimit(every time.Duration, burst int, key func(r *http.Request) string, reject http.HandlerFunc) func(http.Handler) http.Handler {
	var mu sync.Mutex
	limiters := make(map[string]*rate.Limiter)

	get := func(id string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		limiter, ok := limiters[id]
		if !ok {
			limiter = rate.NewLimiter(rate.Every(every), burst)
			limiters[id] = limiter
		}
		return limiter
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !get(key(r)).Allow() {
				reject(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
