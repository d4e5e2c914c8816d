package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/tfchat/server/internal/apperr"
	"github.com/tfchat/server/internal/auth"
	"github.com/tfchat/server/internal/middleware"
	"github.com/tfchat/server/internal/model"
	"github.com/tfchat/server/internal/repo"
	"github.com/tfchat/server/internal/room"
	"github.com/tfchat/server/internal/sms"
)

// AdminHandler serves the administrative surface: room inspection, capacity
// changes, whitelist management, session audit, and the action log.
type AdminHandler struct {
	admins      repo.AdminRepo
	sessions    repo.SessionRepo
	registry    *room.Registry
	coordinator *room.Coordinator
	jwtService  *auth.JWTService
	sender      sms.Sender
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(
	admins repo.AdminRepo,
	sessions repo.SessionRepo,
	registry *room.Registry,
	coordinator *room.Coordinator,
	jwtService *auth.JWTService,
	sender sms.Sender,
) *AdminHandler {
	return &AdminHandler{
		admins:      admins,
		sessions:    sessions,
		registry:    registry,
		coordinator: coordinator,
		jwtService:  jwtService,
		sender:      sender,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// HandleLogin handles POST /admin/login. Unknown username and wrong
// password get the same answer.
func (h *AdminHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	admin, err := h.admins.GetByUsername(r.Context(), req.Username)
	if err != nil {
		if !errors.Is(err, repo.ErrAdminMissing) {
			log.Printf("admin lookup: %v", err)
		}
		respondWithError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if bcrypt.CompareHashAndPassword(admin.PasswordHash, []byte(req.Password)) != nil {
		respondWithError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := h.jwtService.SignAdminToken(admin.ID, admin.Username)
	if err != nil {
		log.Printf("sign admin token: %v", err)
		respondWithError(w, http.StatusInternalServerError, "login failed")
		return
	}

	h.audit(r.Context(), admin.ID, "login", nil, nil)
	respondJSON(w, http.StatusOK, loginResponse{Token: token})
}

// HandleListRooms handles GET /admin/rooms.
func (h *AdminHandler) HandleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.registry.ListRooms(r.Context())
	if err != nil {
		log.Printf("list rooms: %v", err)
		respondWithError(w, http.StatusInternalServerError, "failed to list rooms")
		return
	}
	out := make([]roomWithPresence, 0, len(rooms))
	for _, rm := range rooms {
		out = append(out, roomWithPresence{
			RoomID:          rm.RoomID,
			MaxParticipants: rm.MaxParticipants,
			HostPhone:       rm.HostPhone,
			CreatedAt:       rm.CreatedAt,
			Present:         h.coordinator.Present(rm.RoomID),
		})
	}
	respondJSON(w, http.StatusOK, out)
}

type roomWithPresence struct {
	RoomID          string    `json:"room_id"`
	MaxParticipants int       `json:"max_participants"`
	HostPhone       *string   `json:"host_phone,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	Present         []string  `json:"present"`
}

// HandleRoomSessions handles GET /admin/rooms/{id}/sessions: the live and
// historical connection audit for one room.
func (h *AdminHandler) HandleRoomSessions(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	sessions, err := h.sessions.ListByRoom(r.Context(), roomID)
	if err != nil {
		log.Printf("list sessions for %s: %v", roomID, err)
		respondWithError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	respondJSON(w, http.StatusOK, sessionViews(sessions))
}

type setCapacityRequest struct {
	Max int `json:"max"`
}

// HandleSetCapacity handles POST /admin/rooms/{id}/capacity.
func (h *AdminHandler) HandleSetCapacity(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	var req setCapacityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.registry.SetCapacity(r.Context(), roomID, req.Max); err != nil {
		switch {
		case errors.Is(err, apperr.ErrInvalidArgument):
			respondWithError(w, http.StatusBadRequest, "capacity must be at least 2")
		case errors.Is(err, apperr.ErrRoomNotFound):
			respondWithError(w, http.StatusNotFound, "room not found")
		default:
			log.Printf("set capacity %s: %v", roomID, err)
			respondWithError(w, http.StatusInternalServerError, "failed to set capacity")
		}
		return
	}

	if claims, ok := middleware.GetAdmin(r.Context()); ok {
		meta := fmt.Sprintf("max=%d", req.Max)
		h.audit(r.Context(), claims.AdminID, "set-capacity", &roomID, &meta)
	}
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// HandleListWhitelist handles GET /admin/whitelist.
func (h *AdminHandler) HandleListWhitelist(w http.ResponseWriter, r *http.Request) {
	entries, err := h.registry.ListWhitelist(r.Context())
	if err != nil {
		log.Printf("list whitelist: %v", err)
		respondWithError(w, http.StatusInternalServerError, "failed to list whitelist")
		return
	}
	out := make([]whitelistView, 0, len(entries))
	for _, e := range entries {
		out = append(out, whitelistView{ID: e.ID, RoomID: e.RoomID, Phone: e.Phone, AddedBy: e.AddedBy})
	}
	respondJSON(w, http.StatusOK, out)
}

type whitelistView struct {
	ID      int64  `json:"id"`
	RoomID  string `json:"room_id"`
	Phone   string `json:"phone"`
	AddedBy string `json:"added_by"`
}

type addWhitelistRequest struct {
	RoomID string `json:"room_id"`
	Phone  string `json:"phone"`
}

// HandleAddWhitelist handles POST /admin/whitelist.
func (h *AdminHandler) HandleAddWhitelist(w http.ResponseWriter, r *http.Request) {
	var req addWhitelistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	claims, ok := middleware.GetAdmin(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "auth required")
		return
	}

	entry, err := h.registry.AddWhitelist(r.Context(), req.RoomID, req.Phone, claims.Username)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrInvalidArgument):
			respondWithError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, apperr.ErrRoomNotFound):
			respondWithError(w, http.StatusNotFound, "room not found")
		default:
			log.Printf("add whitelist: %v", err)
			respondWithError(w, http.StatusInternalServerError, "failed to add whitelist entry")
		}
		return
	}

	h.audit(r.Context(), claims.AdminID, "whitelist-add", &req.RoomID, &req.Phone)
	respondJSON(w, http.StatusOK, whitelistView{ID: entry.ID, RoomID: entry.RoomID, Phone: entry.Phone, AddedBy: entry.AddedBy})
}

// HandleRemoveWhitelist handles DELETE /admin/whitelist/{id}.
func (h *AdminHandler) HandleRemoveWhitelist(w http.ResponseWriter, r *http.Request) {
	entryID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid entry id")
		return
	}

	if err := h.registry.RemoveWhitelist(r.Context(), entryID); err != nil {
		log.Printf("remove whitelist %d: %v", entryID, err)
		respondWithError(w, http.StatusInternalServerError, "failed to remove whitelist entry")
		return
	}

	if claims, ok := middleware.GetAdmin(r.Context()); ok {
		target := strconv.FormatInt(entryID, 10)
		h.audit(r.Context(), claims.AdminID, "whitelist-remove", &target, nil)
	}
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// HandleActiveSessions handles GET /admin/sessions/active.
func (h *AdminHandler) HandleActiveSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessions.ListRecent(r.Context(), 200)
	if err != nil {
		log.Printf("list recent sessions: %v", err)
		respondWithError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	respondJSON(w, http.StatusOK, sessionViews(sessions))
}

// HandleLogs handles GET /admin/logs.
func (h *AdminHandler) HandleLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.admins.ListLogs(r.Context(), 500)
	if err != nil {
		log.Printf("list admin logs: %v", err)
		respondWithError(w, http.StatusInternalServerError, "failed to list logs")
		return
	}
	out := make([]logView, 0, len(logs))
	for _, l := range logs {
		out = append(out, logView{
			ID: l.ID, AdminID: l.AdminID.String(), Action: l.Action,
			Target: l.Target, Metadata: l.Metadata, At: l.At,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

type logView struct {
	ID       int64     `json:"id"`
	AdminID  string    `json:"admin_id"`
	Action   string    `json:"action"`
	Target   *string   `json:"target,omitempty"`
	Metadata *string   `json:"metadata,omitempty"`
	At       time.Time `json:"ts"`
}

type testSMSRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// HandleTestSMS handles POST /admin/test_sms: a delivery check through the
// configured provider.
func (h *AdminHandler) HandleTestSMS(w http.ResponseWriter, r *http.Request) {
	var req testSMSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Phone == "" {
		respondWithError(w, http.StatusBadRequest, "phone required")
		return
	}
	body := req.Message
	if body == "" {
		body = "Test SMS"
	}

	if err := h.sender.Send(r.Context(), req.Phone, body); err != nil {
		respondWithError(w, http.StatusInternalServerError, "sms delivery failed")
		return
	}

	if claims, ok := middleware.GetAdmin(r.Context()); ok {
		h.audit(r.Context(), claims.AdminID, "test-sms", &req.Phone, &body)
	}
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type sessionView struct {
	ID             int64              `json:"id"`
	RoomID         string             `json:"room_id"`
	Phone          string             `json:"phone"`
	ConnectedAt    time.Time          `json:"connected_at"`
	DisconnectedAt *time.Time         `json:"disconnected_at,omitempty"`
	NetworkAddress string             `json:"ip"`
	UserAgent      string             `json:"ua"`
	Platform       string             `json:"platform"`
	Geo            *model.GeoLocation `json:"geo,omitempty"`
}

func sessionViews(sessions []model.LiveSession) []sessionView {
	out := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionView{
			ID: s.ID, RoomID: s.RoomID, Phone: s.Phone,
			ConnectedAt: s.ConnectedAt, DisconnectedAt: s.DisconnectedAt,
			NetworkAddress: s.NetworkAddress, UserAgent: s.UserAgent,
			Platform: s.Platform, Geo: s.Geo,
		})
	}
	return out
}

func (h *AdminHandler) audit(ctx context.Context, adminID uuid.UUID, action string, target, metadata *string) {
	if err := h.admins.Log(ctx, adminID, action, target, metadata); err != nil {
		log.Printf("audit log %s: %v", action, err)
	}
}
