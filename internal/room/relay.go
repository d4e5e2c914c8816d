package room

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/tfchat/server/internal/model"
	"github.com/tfchat/server/internal/repo"
)

// TypingEvent is broadcast to the other members of a room.
type TypingEvent struct {
	Phone  string `json:"phone"`
	Typing bool   `json:"typing"`
}

// ReadReceiptEvent is broadcast when a member marks a message seen.
type ReadReceiptEvent struct {
	MessageID string `json:"message_id"`
	Phone     string `json:"phone"`
}

// Relay distributes chat events within a room. Acceptance order under the
// room's lock is the delivery order every member observes; there is no
// ordering across rooms.
type Relay struct {
	coordinator *Coordinator
	messages    repo.MessageRepo
	now         func() time.Time
}

// NewRelay creates a Relay sharing the coordinator's room state.
func NewRelay(coordinator *Coordinator, messages repo.MessageRepo) *Relay {
	return &Relay{coordinator: coordinator, messages: messages, now: time.Now}
}

// Send persists a message and fans it out to every present member of the
// room, sender included. Returns the assigned message id.
func (r *Relay) Send(ctx context.Context, roomID, senderPhone string, text *string) (string, error) {
	rs := r.coordinator.room(roomID)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	msg := model.Message{
		MessageID:   uuid.NewString(),
		RoomID:      roomID,
		SenderPhone: senderPhone,
		Text:        text,
		CreatedAt:   r.now(),
	}
	if err := r.messages.Insert(ctx, msg); err != nil {
		return "", fmt.Errorf("persist message: %w", err)
	}

	r.coordinator.pushLocked(rs, "message", msg, "")
	return msg.MessageID, nil
}

// Typing forwards a typing indicator to the other members. Not persisted.
func (r *Relay) Typing(roomID, phone string, isTyping bool) {
	rs := r.coordinator.room(roomID)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	r.coordinator.pushLocked(rs, "typing", TypingEvent{Phone: phone, Typing: isTyping}, phone)
}

// MarkSeen flips the message's seen flag and tells the other members.
// Re-marking an already-seen message is a storage no-op but the receipt is
// still forwarded, matching the transport's at-least-once receipt contract.
func (r *Relay) MarkSeen(ctx context.Context, roomID, messageID, phone string) {
	rs := r.coordinator.room(roomID)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if _, err := r.messages.MarkSeen(ctx, roomID, messageID); err != nil {
		log.Printf("mark seen %s: %v", messageID, err)
	}
	r.coordinator.pushLocked(rs, "read_receipt", ReadReceiptEvent{MessageID: messageID, Phone: phone}, phone)
}
