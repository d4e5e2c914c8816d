package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/tfchat/server/internal/auth"
)

type contextKey string

const adminClaimsKey contextKey = "admin_claims"

// RequireAdmin validates the bearer token and rejects anything that is not
// an admin credential. Phone session tokens do not pass.
func RequireAdmin(jwtService *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
				respondWithError(w, http.StatusUnauthorized, "auth required")
				return
			}

			claims, err := jwtService.VerifyToken(strings.TrimSpace(parts[1]))
			if err != nil || claims.Kind != auth.KindAdmin {
				respondWithError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), adminClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAdmin returns the admin claims attached by RequireAdmin.
func GetAdmin(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(adminClaimsKey).(*auth.Claims)
	return claims, ok
}

// respondWithError sends a JSON error response.
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
