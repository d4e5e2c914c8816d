package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/tfchat/server/internal/apperr"
	"github.com/tfchat/server/internal/room"
)

// RoomHandler handles public room endpoints.
type RoomHandler struct {
	registry *room.Registry
}

// NewRoomHandler creates a new room handler.
func NewRoomHandler(registry *room.Registry) *RoomHandler {
	return &RoomHandler{registry: registry}
}

type createRoomRequest struct {
	Phone string `json:"phone"`
}

type createRoomResponse struct {
	RoomID string `json:"room_id"`
}

// HandleCreate handles POST /rooms.
func (h *RoomHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	_ = json.NewDecoder(r.Body).Decode(&req) // body optional

	var host *string
	if phone := strings.TrimSpace(req.Phone); phone != "" {
		host = &phone
	}

	roomID, err := h.registry.CreateRoom(r.Context(), host)
	if err != nil {
		log.Printf("create room: %v", err)
		respondWithError(w, http.StatusInternalServerError, "failed to create room")
		return
	}
	respondJSON(w, http.StatusOK, createRoomResponse{RoomID: roomID})
}

type roomResponse struct {
	RoomID          string  `json:"room_id"`
	MaxParticipants int     `json:"max_participants"`
	HostPhone       *string `json:"host_phone,omitempty"`
}

// HandleGet handles GET /rooms/{id}.
func (h *RoomHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	rm, err := h.registry.GetRoom(r.Context(), roomID)
	if err != nil {
		if errors.Is(err, apperr.ErrRoomNotFound) {
			respondWithError(w, http.StatusNotFound, "not found")
			return
		}
		log.Printf("get room %s: %v", roomID, err)
		respondWithError(w, http.StatusInternalServerError, "failed to load room")
		return
	}
	respondJSON(w, http.StatusOK, roomResponse{
		RoomID:          rm.RoomID,
		MaxParticipants: rm.MaxParticipants,
		HostPhone:       rm.HostPhone,
	})
}
