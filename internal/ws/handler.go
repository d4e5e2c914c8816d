// Package ws is the real-time transport: one websocket per client,
// authenticated by the phone-bound session credential.
package ws

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/tfchat/server/internal/auth"
	"github.com/tfchat/server/internal/room"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// In production, restrict to configured origins.
		return true
	},
}

// Handler upgrades authenticated requests into chat connections.
type Handler struct {
	jwtService  *auth.JWTService
	coordinator *room.Coordinator
	relay       *room.Relay
}

// NewHandler creates the websocket entry point.
func NewHandler(jwtService *auth.JWTService, coordinator *room.Coordinator, relay *room.Relay) *Handler {
	return &Handler{jwtService: jwtService, coordinator: coordinator, relay: relay}
}

// ServeHTTP handles GET /ws?token=... The token is the session credential
// from code verification; it binds the connection to a phone, nothing more.
// Room membership is negotiated after upgrade via join_room.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "token required", http.StatusUnauthorized)
		return
	}
	claims, err := h.jwtService.VerifyToken(token)
	if err != nil || claims.Kind != auth.KindSession || claims.Phone == "" {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := newClient(conn, h.coordinator, h.relay, claims.Phone, clientAddr(r), r.UserAgent())
	go c.writePump()
	go c.readPump()
}

func clientAddr(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	return r.RemoteAddr
}
