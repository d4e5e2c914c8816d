package model

import (
	"time"

	"github.com/google/uuid"
)

// User is a phone identity known to the system. Verified is set the first
// time the phone completes code verification.
type User struct {
	ID        uuid.UUID
	Phone     string
	Verified  bool
	CreatedAt time.Time
}

// OtpChallenge is one issued verification code. Only the newest challenge
// per phone is consulted during verification; older rows are history.
type OtpChallenge struct {
	ID         uuid.UUID
	Phone      string
	CodeHash   []byte
	IssuedAt   time.Time
	ExpiresAt  time.Time
	Credential *string // session token recorded on successful verification, for audit
}

// LockoutRecord tracks failed verification attempts for one subject, which
// is either a phone number or a network origin address. Phone and origin
// lineages are independent.
type LockoutRecord struct {
	Subject       string
	FailedCount   int
	LastAttemptAt time.Time
	LockedUntil   *time.Time
}

// Locked reports whether the record's lockout window covers now.
func (r LockoutRecord) Locked(now time.Time) bool {
	return r.LockedUntil != nil && now.Before(*r.LockedUntil)
}

// Room is an ephemeral chat room. Rooms are created on demand and live
// until process restart; only capacity is mutable, by an administrator.
type Room struct {
	RoomID          string
	MaxParticipants int
	HostPhone       *string
	CreatedAt       time.Time
}

// WhitelistEntry allows one phone into one room's live session.
type WhitelistEntry struct {
	ID     int64
	RoomID string
	Phone  string
	AddedBy string
}

// LiveSession is the audit record of one connection's lifetime in a room.
// It is created on admission and closed exactly once, on leave or
// transport disconnect, whichever comes first.
type LiveSession struct {
	ID             int64
	RoomID         string
	Phone          string
	ConnectedAt    time.Time
	DisconnectedAt *time.Time
	NetworkAddress string
	UserAgent      string
	Platform       string
	Geo            *GeoLocation
}

// GeoLocation is coarse location derived from a network address,
// best-effort only.
type GeoLocation struct {
	Country string  `json:"country"`
	Region  string  `json:"region"`
	City    string  `json:"city"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// Message is one chat message. Ordering within a room is the order the
// relay accepted the send, not client send time.
type Message struct {
	MessageID   string    `json:"id"`
	RoomID      string    `json:"room_id"`
	SenderPhone string    `json:"sender_phone"`
	Text        *string   `json:"text"`
	Seen        bool      `json:"seen"`
	CreatedAt   time.Time `json:"timestamp"`
}

// Admin is an administrative account, authenticated by username/password,
// separate from the phone verification flow.
type Admin struct {
	ID           uuid.UUID
	Username     string
	PasswordHash []byte
	CreatedAt    time.Time
}

// AdminLog is one audited administrative action.
type AdminLog struct {
	ID       int64
	AdminID  uuid.UUID
	Action   string
	Target   *string
	Metadata *string
	At       time.Time
}
