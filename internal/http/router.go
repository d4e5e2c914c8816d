package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/tfchat/server/internal/auth"
	"github.com/tfchat/server/internal/http/handlers"
	"github.com/tfchat/server/internal/limiter"
	"github.com/tfchat/server/internal/middleware"
)

// RouterDeps bundles what the router wires together.
type RouterDeps struct {
	Auth       *handlers.AuthHandler
	Rooms      *handlers.RoomHandler
	Admin      *handlers.AdminHandler
	WS         http.Handler
	JWTService *auth.JWTService
	// AuthLimiter throttles the two verification endpoints by client IP.
	// Defaults to an in-memory sliding window when nil.
	AuthLimiter limiter.Limiter
}

// NewRouter creates the HTTP router with all routes configured.
func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	r.Get("/health", handlers.NewHealthHandler().ServeHTTP)

	authLimiter := deps.AuthLimiter
	if authLimiter == nil {
		authLimiter = limiter.NewMemory(10*time.Minute, 20)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Use(middleware.RateLimit(authLimiter, middleware.IPKey))
		r.Post("/request_otp", deps.Auth.HandleRequestCode)
		r.Post("/verify_otp", deps.Auth.HandleVerifyCode)
	})

	r.Post("/rooms", deps.Rooms.HandleCreate)
	r.Get("/rooms/{id}", deps.Rooms.HandleGet)

	r.Get("/ws", deps.WS.ServeHTTP)

	r.Route("/admin", func(r chi.Router) {
		r.Post("/login", deps.Admin.HandleLogin)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin(deps.JWTService))
			r.Get("/rooms", deps.Admin.HandleListRooms)
			r.Get("/rooms/{id}/sessions", deps.Admin.HandleRoomSessions)
			r.Post("/rooms/{id}/capacity", deps.Admin.HandleSetCapacity)
			r.Get("/whitelist", deps.Admin.HandleListWhitelist)
			r.Post("/whitelist", deps.Admin.HandleAddWhitelist)
			r.Delete("/whitelist/{id}", deps.Admin.HandleRemoveWhitelist)
			r.Get("/sessions/active", deps.Admin.HandleActiveSessions)
			r.Get("/logs", deps.Admin.HandleLogs)
			r.Post("/test_sms", deps.Admin.HandleTestSMS)
		})
	})

	return r
}
