package middleware

import (
	"net/http"
	"strings"

	"github.com/tfchat/server/internal/limiter"
)

// RateLimit rejects requests over the limiter's budget with 429. A limiter
// backend failure fails open: throttling is protection, not correctness.
func RateLimit(l limiter.Limiter, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, err := l.Allow(r.Context(), keyFunc(r))
			if err == nil && !allowed {
				respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IPKey extracts the client IP for rate limiting.
func IPKey(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return "ip:" + strings.TrimSpace(parts[0])
	}
	return "ip:" + r.RemoteAddr
}
