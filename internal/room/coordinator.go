package room

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tfchat/server/internal/apperr"
	"github.com/tfchat/server/internal/geo"
	"github.com/tfchat/server/internal/model"
	"github.com/tfchat/server/internal/repo"
)

// Outlet is one connected client's push channel. Push must not block; slow
// receivers are the transport's problem, not the coordinator's.
type Outlet interface {
	Push(event string, payload interface{})
}

// ClientMeta is transport metadata recorded on the session audit row.
type ClientMeta struct {
	UserAgent string
	Platform  string
}

// PresenceEvent is broadcast on join, leave, and disconnect.
type PresenceEvent struct {
	Phone  string `json:"phone"`
	Status string `json:"status"`
}

const (
	StatusJoined       = "joined"
	StatusLeft         = "left"
	StatusDisconnected = "disconnected"
)

const recentMessageLimit = 50

// roomState is everything mutable about one live room. Its mutex serializes
// admission decisions, presence mutation, and relay acceptance, so a
// capacity check can never race a concurrent admission past the limit.
type roomState struct {
	mu      sync.Mutex
	members map[string]Outlet
}

// Coordinator gates connection admission and owns per-room presence. It is
// the only writer of the presence sets and of live-session lifecycle rows.
type Coordinator struct {
	registry *Registry
	sessions repo.SessionRepo
	messages repo.MessageRepo
	geo      geo.Lookup
	now      func() time.Time

	mu    sync.Mutex
	state map[string]*roomState
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(registry *Registry, sessions repo.SessionRepo, messages repo.MessageRepo, lookup geo.Lookup) *Coordinator {
	return &Coordinator{
		registry: registry,
		sessions: sessions,
		messages: messages,
		geo:      lookup,
		now:      time.Now,
		state:    make(map[string]*roomState),
	}
}

func (c *Coordinator) room(roomID string) *roomState {
	c.mu.Lock()
	defer c.mu.Unlock()
	rs, ok := c.state[roomID]
	if !ok {
		rs = &roomState{members: make(map[string]Outlet)}
		c.state[roomID] = rs
	}
	return rs
}

// Admit runs the admission gates in order: the room must exist, the phone
// must not already be present, the room must have a free seat, and the
// whitelist must carry the phone. On success the phone joins the presence
// set, a session audit row opens, geo enrichment starts in the background,
// a join event goes to the room, and the newest messages are returned to
// the admitted party only. A phone holds at most one connection per room;
// a second connection has to wait for the first one to leave.
func (c *Coordinator) Admit(ctx context.Context, roomID, phone string, meta ClientMeta, networkAddress string, outlet Outlet) ([]model.Message, error) {
	room, err := c.registry.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	rs := c.room(roomID)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if _, already := rs.members[phone]; already {
		return nil, apperr.ErrAlreadyJoined
	}
	if len(rs.members) >= room.MaxParticipants {
		return nil, apperr.ErrRoomFull
	}

	allowed, err := c.registry.IsWhitelisted(ctx, roomID, phone)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, apperr.ErrNotWhitelisted
	}

	now := c.now()
	sessionID, err := c.sessions.Open(ctx, model.LiveSession{
		RoomID:         roomID,
		Phone:          phone,
		ConnectedAt:    now,
		NetworkAddress: networkAddress,
		UserAgent:      meta.UserAgent,
		Platform:       meta.Platform,
	})
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}

	rs.members[phone] = outlet
	c.pushLocked(rs, "presence_update", PresenceEvent{Phone: phone, Status: StatusJoined}, "")

	// Best-effort enrichment, off the admission path. Uses a fresh context:
	// the admission request finishing must not cancel the lookup.
	go func() {
		enrichCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		loc := c.geo.Lookup(enrichCtx, networkAddress)
		if loc == nil {
			return
		}
		if err := c.sessions.SetGeo(enrichCtx, sessionID, loc); err != nil {
			log.Printf("geo enrichment for session %d: %v", sessionID, err)
		}
	}()

	recent, err := c.messages.Recent(ctx, roomID, recentMessageLimit)
	if err != nil {
		log.Printf("recent messages for room %s: %v", roomID, err)
		recent = nil
	}
	return recent, nil
}

// Leave removes the phone from the room's presence set and closes the open
// session row. Explicit leave and transport disconnect both land here; the
// presence set makes the cleanup idempotent, so exactly one departure event
// is broadcast however many times it is invoked.
func (c *Coordinator) Leave(ctx context.Context, roomID, phone, status string) {
	rs := c.room(roomID)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if _, present := rs.members[phone]; !present {
		return
	}
	delete(rs.members, phone)

	if _, err := c.sessions.Close(ctx, roomID, phone, c.now()); err != nil {
		log.Printf("close session %s/%s: %v", roomID, phone, err)
	}
	c.pushLocked(rs, "presence_update", PresenceEvent{Phone: phone, Status: status}, "")
}

// Present returns the phones currently joined to the room.
func (c *Coordinator) Present(roomID string) []string {
	rs := c.room(roomID)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	phones := make([]string, 0, len(rs.members))
	for phone := range rs.members {
		phones = append(phones, phone)
	}
	return phones
}

// pushLocked fans an event out to the room's members. Callers hold rs.mu,
// which is what gives every member the same event order.
func (c *Coordinator) pushLocked(rs *roomState, event string, payload interface{}, excludePhone string) {
	for phone, outlet := range rs.members {
		if phone == excludePhone {
			continue
		}
		outlet.Push(event, payload)
	}
}
