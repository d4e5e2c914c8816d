package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tfchat/server/internal/model"
)

// MessageRepo stores chat messages, append-only.
type MessageRepo interface {
	Insert(ctx context.Context, msg model.Message) error
	// Recent returns up to limit newest messages for the room in
	// chronological order.
	Recent(ctx context.Context, roomID string, limit int) ([]model.Message, error)
	// MarkSeen sets the seen flag on a message belonging to the room;
	// idempotent. Returns true when the flag actually transitioned from
	// false to true.
	MarkSeen(ctx context.Context, roomID, messageID string) (bool, error)
}

type messageRepo struct {
	db *sql.DB
}

// NewMessageRepo creates a new MessageRepo instance.
func NewMessageRepo(db *sql.DB) MessageRepo {
	return &messageRepo{db: db}
}

func (r *messageRepo) Insert(ctx context.Context, msg model.Message) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (message_id, room_id, sender_phone, text, seen, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, msg.MessageID, msg.RoomID, msg.SenderPhone, msg.Text, msg.Seen, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *messageRepo) Recent(ctx context.Context, roomID string, limit int) ([]model.Message, error) {
	// Newest first from the index, then reversed to chronological order.
	rows, err := r.db.QueryContext(ctx, `
		SELECT message_id, room_id, sender_phone, text, seen, created_at
		FROM messages
		WHERE room_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.MessageID, &m.RoomID, &m.SenderPhone, &m.Text, &m.Seen, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (r *messageRepo) MarkSeen(ctx context.Context, roomID, messageID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE messages SET seen = TRUE WHERE message_id = $1 AND room_id = $2 AND seen = FALSE
	`, messageID, roomID)
	if err != nil {
		return false, fmt.Errorf("mark message seen: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}
