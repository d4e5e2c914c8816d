package room

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tfchat/server/internal/apperr"
	"github.com/tfchat/server/internal/repo"
)

func TestCreateRoom_defaultCapacity(t *testing.T) {
	registry := NewRegistry(repo.NewMemoryRoomRepo())
	ctx := context.Background()

	host := "+1"
	roomID, err := registry.CreateRoom(ctx, &host)
	require.NoError(t, err)
	require.NotEmpty(t, roomID)

	room, err := registry.GetRoom(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, defaultCapacity, room.MaxParticipants)
	require.NotNil(t, room.HostPhone)
	assert.Equal(t, "+1", *room.HostPhone)
}

func TestGetRoom_unknownID(t *testing.T) {
	registry := NewRegistry(repo.NewMemoryRoomRepo())
	_, err := registry.GetRoom(context.Background(), "missing")
	require.ErrorIs(t, err, apperr.ErrRoomNotFound)
}

func TestSetCapacity_enforcesFloor(t *testing.T) {
	registry := NewRegistry(repo.NewMemoryRoomRepo())
	ctx := context.Background()

	roomID, err := registry.CreateRoom(ctx, nil)
	require.NoError(t, err)

	err = registry.SetCapacity(ctx, roomID, 1)
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)

	require.NoError(t, registry.SetCapacity(ctx, roomID, minCapacity))
	room, err := registry.GetRoom(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, minCapacity, room.MaxParticipants)
}

func TestSetCapacity_unknownRoom(t *testing.T) {
	registry := NewRegistry(repo.NewMemoryRoomRepo())
	err := registry.SetCapacity(context.Background(), "missing", 5)
	require.ErrorIs(t, err, apperr.ErrRoomNotFound)
}

func TestAddWhitelist_rejectsDuplicate(t *testing.T) {
	registry := NewRegistry(repo.NewMemoryRoomRepo())
	ctx := context.Background()

	roomID, err := registry.CreateRoom(ctx, nil)
	require.NoError(t, err)

	entry, err := registry.AddWhitelist(ctx, roomID, "+1", "admin")
	require.NoError(t, err)
	assert.NotZero(t, entry.ID)

	_, err = registry.AddWhitelist(ctx, roomID, "+1", "admin")
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)

	// The same phone in another room is a distinct entry.
	otherID, err := registry.CreateRoom(ctx, nil)
	require.NoError(t, err)
	_, err = registry.AddWhitelist(ctx, otherID, "+1", "admin")
	require.NoError(t, err)
}

func TestAddWhitelist_unknownRoom(t *testing.T) {
	registry := NewRegistry(repo.NewMemoryRoomRepo())
	_, err := registry.AddWhitelist(context.Background(), "missing", "+1", "admin")
	require.ErrorIs(t, err, apperr.ErrRoomNotFound)
}

func TestAddWhitelist_emptyArguments(t *testing.T) {
	registry := NewRegistry(repo.NewMemoryRoomRepo())
	_, err := registry.AddWhitelist(context.Background(), "", "+1", "admin")
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)
	_, err = registry.AddWhitelist(context.Background(), "room", "", "admin")
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestRemoveWhitelist(t *testing.T) {
	registry := NewRegistry(repo.NewMemoryRoomRepo())
	ctx := context.Background()

	roomID, err := registry.CreateRoom(ctx, nil)
	require.NoError(t, err)
	entry, err := registry.AddWhitelist(ctx, roomID, "+1", "admin")
	require.NoError(t, err)

	require.NoError(t, registry.RemoveWhitelist(ctx, entry.ID))

	allowed, err := registry.IsWhitelisted(ctx, roomID, "+1")
	require.NoError(t, err)
	assert.False(t, allowed)
}
