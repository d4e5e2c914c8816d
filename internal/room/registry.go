// Package room contains the room registry, the admission/presence
// coordinator, and the message relay.
package room

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/tfchat/server/internal/apperr"
	"github.com/tfchat/server/internal/model"
	"github.com/tfchat/server/internal/repo"
)

const defaultCapacity = 10

// minCapacity is the floor for administrator capacity changes; a chat room
// with fewer than two seats is useless.
const minCapacity = 2

// Registry is the authoritative view of rooms and whitelist membership.
type Registry struct {
	rooms repo.RoomRepo
}

// NewRegistry creates a Registry over the given store.
func NewRegistry(rooms repo.RoomRepo) *Registry {
	return &Registry{rooms: rooms}
}

// CreateRoom mints a new room with the default capacity and returns its id.
func (g *Registry) CreateRoom(ctx context.Context, hostPhone *string) (string, error) {
	roomID := uuid.NewString()
	if err := g.rooms.CreateRoom(ctx, roomID, defaultCapacity, hostPhone); err != nil {
		return "", err
	}
	return roomID, nil
}

// GetRoom fetches a room by id.
func (g *Registry) GetRoom(ctx context.Context, roomID string) (model.Room, error) {
	room, err := g.rooms.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, repo.ErrRoomMissing) {
			return model.Room{}, apperr.ErrRoomNotFound
		}
		return model.Room{}, err
	}
	return room, nil
}

// SetCapacity changes a room's participant limit.
func (g *Registry) SetCapacity(ctx context.Context, roomID string, max int) error {
	if max < minCapacity {
		return fmt.Errorf("%w: capacity must be at least %d", apperr.ErrInvalidArgument, minCapacity)
	}
	err := g.rooms.SetCapacity(ctx, roomID, max)
	if errors.Is(err, repo.ErrRoomMissing) {
		return apperr.ErrRoomNotFound
	}
	return err
}

// IsWhitelisted reports whether the phone may join the room.
func (g *Registry) IsWhitelisted(ctx context.Context, roomID, phone string) (bool, error) {
	return g.rooms.IsWhitelisted(ctx, roomID, phone)
}

// AddWhitelist allows a phone into a room. One entry per (room, phone);
// duplicates are rejected.
func (g *Registry) AddWhitelist(ctx context.Context, roomID, phone, addedBy string) (model.WhitelistEntry, error) {
	if roomID == "" || phone == "" {
		return model.WhitelistEntry{}, apperr.ErrInvalidArgument
	}
	if _, err := g.GetRoom(ctx, roomID); err != nil {
		return model.WhitelistEntry{}, err
	}
	entry, err := g.rooms.AddWhitelist(ctx, roomID, phone, addedBy)
	if errors.Is(err, repo.ErrDuplicateWhitelist) {
		return model.WhitelistEntry{}, fmt.Errorf("%w: phone already whitelisted for room", apperr.ErrInvalidArgument)
	}
	return entry, err
}

// RemoveWhitelist deletes a whitelist entry by id.
func (g *Registry) RemoveWhitelist(ctx context.Context, entryID int64) error {
	return g.rooms.RemoveWhitelist(ctx, entryID)
}

// ListRooms returns all rooms, newest first.
func (g *Registry) ListRooms(ctx context.Context) ([]model.Room, error) {
	return g.rooms.ListRooms(ctx)
}

// ListWhitelist returns all whitelist entries.
func (g *Registry) ListWhitelist(ctx context.Context) ([]model.WhitelistEntry, error) {
	return g.rooms.ListWhitelist(ctx)
}
