package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/tfchat/server/internal/model"
)

// ErrRoomMissing is returned when a room_id has no row.
var ErrRoomMissing = errors.New("room not in store")

// ErrDuplicateWhitelist is returned when a (room, phone) pair is already
// whitelisted.
var ErrDuplicateWhitelist = errors.New("whitelist entry already exists")

// RoomRepo is the authoritative store of rooms and whitelist membership.
// All reads go straight to the database; there is no caching layer.
type RoomRepo interface {
	CreateRoom(ctx context.Context, roomID string, maxParticipants int, hostPhone *string) error
	GetRoom(ctx context.Context, roomID string) (model.Room, error)
	SetCapacity(ctx context.Context, roomID string, max int) error
	ListRooms(ctx context.Context) ([]model.Room, error)

	IsWhitelisted(ctx context.Context, roomID, phone string) (bool, error)
	// PhoneWhitelistedAnywhere reports whether the phone appears on any
	// room's whitelist, used to gate code issuance.
	PhoneWhitelistedAnywhere(ctx context.Context, phone string) (bool, error)
	AddWhitelist(ctx context.Context, roomID, phone, addedBy string) (model.WhitelistEntry, error)
	RemoveWhitelist(ctx context.Context, entryID int64) error
	ListWhitelist(ctx context.Context) ([]model.WhitelistEntry, error)
}

type roomRepo struct {
	db *sql.DB
}

// NewRoomRepo creates a new RoomRepo instance.
func NewRoomRepo(db *sql.DB) RoomRepo {
	return &roomRepo{db: db}
}

func (r *roomRepo) CreateRoom(ctx context.Context, roomID string, maxParticipants int, hostPhone *string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO rooms (room_id, max_participants, host_phone)
		VALUES ($1, $2, $3)
	`, roomID, maxParticipants, hostPhone)
	if err != nil {
		return fmt.Errorf("insert room: %w", err)
	}
	return nil
}

func (r *roomRepo) GetRoom(ctx context.Context, roomID string) (model.Room, error) {
	query := `
		SELECT room_id, max_participants, host_phone, created_at
		FROM rooms
		WHERE room_id = $1
	`
	var room model.Room
	err := r.db.QueryRowContext(ctx, query, roomID).Scan(
		&room.RoomID,
		&room.MaxParticipants,
		&room.HostPhone,
		&room.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Room{}, ErrRoomMissing
		}
		return model.Room{}, fmt.Errorf("query room: %w", err)
	}
	return room, nil
}

func (r *roomRepo) SetCapacity(ctx context.Context, roomID string, max int) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE rooms SET max_participants = $1 WHERE room_id = $2
	`, max, roomID)
	if err != nil {
		return fmt.Errorf("update capacity: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrRoomMissing
	}
	return nil
}

func (r *roomRepo) ListRooms(ctx context.Context) ([]model.Room, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT room_id, max_participants, host_phone, created_at
		FROM rooms
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	var rooms []model.Room
	for rows.Next() {
		var room model.Room
		if err := rows.Scan(&room.RoomID, &room.MaxParticipants, &room.HostPhone, &room.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func (r *roomRepo) IsWhitelisted(ctx context.Context, roomID, phone string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM room_whitelist WHERE room_id = $1 AND phone = $2)
	`, roomID, phone).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check whitelist: %w", err)
	}
	return exists, nil
}

func (r *roomRepo) PhoneWhitelistedAnywhere(ctx context.Context, phone string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM room_whitelist WHERE phone = $1)
	`, phone).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check whitelist membership: %w", err)
	}
	return exists, nil
}

func (r *roomRepo) AddWhitelist(ctx context.Context, roomID, phone, addedBy string) (model.WhitelistEntry, error) {
	var entry model.WhitelistEntry
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO room_whitelist (room_id, phone, added_by)
		VALUES ($1, $2, $3)
		RETURNING id, room_id, phone, added_by
	`, roomID, phone, addedBy).Scan(&entry.ID, &entry.RoomID, &entry.Phone, &entry.AddedBy)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return model.WhitelistEntry{}, ErrDuplicateWhitelist
		}
		return model.WhitelistEntry{}, fmt.Errorf("insert whitelist entry: %w", err)
	}
	return entry, nil
}

func (r *roomRepo) RemoveWhitelist(ctx context.Context, entryID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM room_whitelist WHERE id = $1`, entryID)
	if err != nil {
		return fmt.Errorf("delete whitelist entry: %w", err)
	}
	return nil
}

func (r *roomRepo) ListWhitelist(ctx context.Context) ([]model.WhitelistEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, room_id, phone, added_by FROM room_whitelist ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list whitelist: %w", err)
	}
	defer rows.Close()

	var entries []model.WhitelistEntry
	for rows.Next() {
		var e model.WhitelistEntry
		if err := rows.Scan(&e.ID, &e.RoomID, &e.Phone, &e.AddedBy); err != nil {
			return nil, fmt.Errorf("scan whitelist entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
