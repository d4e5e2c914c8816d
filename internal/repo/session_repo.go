package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tfchat/server/internal/model"
)

// SessionRepo stores connection-audit rows. A session is opened on room
// admission and closed at most once; geo enrichment arrives asynchronously
// and may land after the session has already closed.
type SessionRepo interface {
	Open(ctx context.Context, s model.LiveSession) (int64, error)
	// Close sets disconnected_at on the open session for (room, phone).
	// Returns false when no open session exists, which is a no-op, not an
	// error: leave and transport disconnect may both race to close.
	Close(ctx context.Context, roomID, phone string, at time.Time) (bool, error)
	SetGeo(ctx context.Context, sessionID int64, geo *model.GeoLocation) error
	ListByRoom(ctx context.Context, roomID string) ([]model.LiveSession, error)
	ListRecent(ctx context.Context, limit int) ([]model.LiveSession, error)
}

type sessionRepo struct {
	db *sql.DB
}

// NewSessionRepo creates a new SessionRepo instance.
func NewSessionRepo(db *sql.DB) SessionRepo {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) Open(ctx context.Context, s model.LiveSession) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO live_sessions (room_id, phone, connected_at, network_address, user_agent, platform)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, s.RoomID, s.Phone, s.ConnectedAt, s.NetworkAddress, s.UserAgent, s.Platform).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert live session: %w", err)
	}
	return id, nil
}

func (r *sessionRepo) Close(ctx context.Context, roomID, phone string, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE live_sessions
		SET disconnected_at = $1
		WHERE room_id = $2 AND phone = $3 AND disconnected_at IS NULL
	`, at, roomID, phone)
	if err != nil {
		return false, fmt.Errorf("close live session: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func (r *sessionRepo) SetGeo(ctx context.Context, sessionID int64, geo *model.GeoLocation) error {
	if geo == nil {
		return nil
	}
	b, err := json.Marshal(geo)
	if err != nil {
		return fmt.Errorf("marshal geo: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE live_sessions SET geo = $1 WHERE id = $2
	`, b, sessionID)
	if err != nil {
		return fmt.Errorf("set session geo: %w", err)
	}
	return nil
}

func (r *sessionRepo) ListByRoom(ctx context.Context, roomID string) ([]model.LiveSession, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, room_id, phone, connected_at, disconnected_at,
		       network_address, user_agent, platform, geo
		FROM live_sessions
		WHERE room_id = $1
		ORDER BY connected_at DESC
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("list sessions by room: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (r *sessionRepo) ListRecent(ctx context.Context, limit int) ([]model.LiveSession, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, room_id, phone, connected_at, disconnected_at,
		       network_address, user_agent, platform, geo
		FROM live_sessions
		ORDER BY connected_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

func scanSessions(rows *sql.Rows) ([]model.LiveSession, error) {
	var sessions []model.LiveSession
	for rows.Next() {
		var s model.LiveSession
		var geoRaw []byte
		err := rows.Scan(&s.ID, &s.RoomID, &s.Phone, &s.ConnectedAt, &s.DisconnectedAt,
			&s.NetworkAddress, &s.UserAgent, &s.Platform, &geoRaw)
		if err != nil {
			return nil, fmt.Errorf("scan live session: %w", err)
		}
		if len(geoRaw) > 0 {
			var geo model.GeoLocation
			if err := json.Unmarshal(geoRaw, &geo); err == nil {
				s.Geo = &geo
			}
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
