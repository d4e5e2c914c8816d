package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/tfchat/server/internal/auth"
	"github.com/tfchat/server/internal/geo"
	"github.com/tfchat/server/internal/http/handlers"
	"github.com/tfchat/server/internal/repo"
	"github.com/tfchat/server/internal/room"
	"github.com/tfchat/server/internal/verify"
	"github.com/tfchat/server/internal/ws"
)

type pinnedCodes struct{ code string }

func (p pinnedCodes) Code() (string, error) { return p.code, nil }

type silentSender struct{}

func (silentSender) Send(context.Context, string, string) error { return nil }

// stack is a full service wired on in-memory stores, served over httptest.
type stack struct {
	server      *httptest.Server
	jwt         *auth.JWTService
	users       *repo.MemoryUserRepo
	admins      *repo.MemoryAdminRepo
	registry    *room.Registry
	coordinator *room.Coordinator
}

func newStack(t *testing.T) *stack {
	t.Helper()

	users := repo.NewMemoryUserRepo()
	rooms := repo.NewMemoryRoomRepo()
	admins := repo.NewMemoryAdminRepo()
	sessions := repo.NewMemorySessionRepo()
	messages := repo.NewMemoryMessageRepo()

	jwtService := auth.NewJWTService("test-secret", 12*time.Hour, 8*time.Hour)
	verifier := verify.NewVerifier(
		repo.NewMemoryChallengeRepo(),
		repo.NewMemoryLockoutRepo(),
		users, rooms, jwtService, silentSender{}, "salt",
		verify.Options{Codes: pinnedCodes{"123456"}},
	)

	registry := room.NewRegistry(rooms)
	coordinator := room.NewCoordinator(registry, sessions, messages, geo.NoopLookup{})
	relay := room.NewRelay(coordinator, messages)

	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, admins.EnsureSeed(context.Background(), "root", hash))

	router := NewRouter(RouterDeps{
		Auth:       handlers.NewAuthHandler(verifier),
		Rooms:      handlers.NewRoomHandler(registry),
		Admin:      handlers.NewAdminHandler(admins, sessions, registry, coordinator, jwtService, silentSender{}),
		WS:         ws.NewHandler(jwtService, coordinator, relay),
		JWTService: jwtService,
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &stack{
		server:      server,
		jwt:         jwtService,
		users:       users,
		admins:      admins,
		registry:    registry,
		coordinator: coordinator,
	}
}

func (s *stack) post(t *testing.T, path, token string, body interface{}, out interface{}) int {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, s.server.URL+path, bytes.NewReader(buf))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (s *stack) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type wireFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   int64           `json:"ack,omitempty"`
}

func send(t *testing.T, conn *websocket.Conn, event string, ack int64, data interface{}) {
	t.Helper()
	buf, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"event": event, "ack": ack, "data": json.RawMessage(buf),
	}))
}

// awaitEvent reads frames until one matches the event name, failing on
// timeout. Interleaved frames of other kinds are skipped.
func awaitEvent(t *testing.T, conn *websocket.Conn, event string) wireFrame {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for {
		var f wireFrame
		require.NoError(t, conn.ReadJSON(&f), "waiting for %q", event)
		if f.Event == event {
			return f
		}
	}
}

// verifyPhone walks a phone through the code request and verification
// endpoints, returning the issued credential.
func (s *stack) verifyPhone(t *testing.T, phone string) string {
	t.Helper()
	code := s.post(t, "/auth/request_otp", "", map[string]string{"phone": phone}, nil)
	require.Equal(t, http.StatusOK, code)

	var verified struct {
		Token string `json:"token"`
	}
	code = s.post(t, "/auth/verify_otp", "", map[string]string{"phone": phone, "otp": "123456"}, &verified)
	require.Equal(t, http.StatusOK, code)
	require.NotEmpty(t, verified.Token)
	return verified.Token
}

func TestTwoPartyChatFlow(t *testing.T) {
	s := newStack(t)
	alice, bob := "+15550000001", "+15550000002"

	// Room setup through the admin surface.
	var login struct {
		Token string `json:"token"`
	}
	require.Equal(t, http.StatusOK,
		s.post(t, "/admin/login", "", map[string]string{"username": "root", "password": "hunter2"}, &login))

	var created struct {
		RoomID string `json:"room_id"`
	}
	require.Equal(t, http.StatusOK, s.post(t, "/rooms", "", map[string]string{}, &created))
	roomID := created.RoomID

	require.Equal(t, http.StatusOK,
		s.post(t, fmt.Sprintf("/admin/rooms/%s/capacity", roomID), login.Token, map[string]int{"max": 2}, nil))
	for _, phone := range []string{alice, bob} {
		require.Equal(t, http.StatusOK,
			s.post(t, "/admin/whitelist", login.Token, map[string]string{"room_id": roomID, "phone": phone}, nil))
	}

	// A whitelist entry is all it takes to request a code.
	aliceToken := s.verifyPhone(t, alice)
	bobToken := s.verifyPhone(t, bob)

	aliceConn := s.dial(t, aliceToken)
	send(t, aliceConn, "join_room", 1, map[string]string{"room_id": roomID})
	joinAck := awaitEvent(t, aliceConn, "ack")
	assert.Equal(t, int64(1), joinAck.Ack)
	awaitEvent(t, aliceConn, "recent_messages")

	bobConn := s.dial(t, bobToken)
	send(t, bobConn, "join_room", 1, map[string]string{"room_id": roomID})
	awaitEvent(t, bobConn, "ack")
	awaitEvent(t, bobConn, "recent_messages")

	// The member already present learns about the join.
	presence := awaitEvent(t, aliceConn, "presence_update")
	var pev struct {
		Phone  string `json:"phone"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(presence.Data, &pev))
	assert.Equal(t, bob, pev.Phone)
	assert.Equal(t, "joined", pev.Status)

	// Message flows to both, sender included.
	send(t, aliceConn, "message_send", 2, map[string]interface{}{"room_id": roomID, "text": "hello bob"})
	for _, conn := range []*websocket.Conn{aliceConn, bobConn} {
		msg := awaitEvent(t, conn, "message")
		var mev struct {
			ID          string  `json:"id"`
			SenderPhone string  `json:"sender_phone"`
			Text        *string `json:"text"`
		}
		require.NoError(t, json.Unmarshal(msg.Data, &mev))
		assert.Equal(t, alice, mev.SenderPhone)
		require.NotNil(t, mev.Text)
		assert.Equal(t, "hello bob", *mev.Text)
	}

	// Departure is broadcast to whoever stays.
	send(t, bobConn, "leave_room", 3, nil)
	left := awaitEvent(t, aliceConn, "presence_update")
	require.NoError(t, json.Unmarshal(left.Data, &pev))
	assert.Equal(t, bob, pev.Phone)
	assert.Equal(t, "left", pev.Status)
}

func TestRejoinMovesConnectionBetweenRooms(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	mover, visitor := "+15550000021", "+15550000022"

	roomA, err := s.registry.CreateRoom(ctx, nil)
	require.NoError(t, err)
	roomB, err := s.registry.CreateRoom(ctx, nil)
	require.NoError(t, err)
	for _, roomID := range []string{roomA, roomB} {
		_, err = s.registry.AddWhitelist(ctx, roomID, mover, "test")
		require.NoError(t, err)
	}
	_, err = s.registry.AddWhitelist(ctx, roomA, visitor, "test")
	require.NoError(t, err)

	conn := s.dial(t, s.verifyPhone(t, mover))
	send(t, conn, "join_room", 1, map[string]string{"room_id": roomA})
	awaitEvent(t, conn, "ack")
	send(t, conn, "join_room", 2, map[string]string{"room_id": roomB})
	ack := awaitEvent(t, conn, "ack")
	require.Equal(t, int64(2), ack.Ack)

	// Switching rooms releases the seat in the first one.
	assert.Empty(t, s.coordinator.Present(roomA))
	assert.Equal(t, []string{mover}, s.coordinator.Present(roomB))

	// The vacated room keeps working: a new member joins the freed seat and
	// its traffic fans out without reaching the moved connection.
	vconn := s.dial(t, s.verifyPhone(t, visitor))
	send(t, vconn, "join_room", 1, map[string]string{"room_id": roomA})
	awaitEvent(t, vconn, "ack")
	send(t, vconn, "message_send", 2, map[string]interface{}{"room_id": roomA, "text": "anyone here"})
	awaitEvent(t, vconn, "message")

	// Dropping the transport clears exactly the room currently joined.
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return len(s.coordinator.Present(roomB)) == 0
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{visitor}, s.coordinator.Present(roomA))
}

func TestWSRejectsBadCredentials(t *testing.T) {
	s := newStack(t)

	wsURL := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// An admin token is not a chat credential.
	adminToken, err := s.jwt.SignAdminToken(uuid.New(), "root")
	require.NoError(t, err)
	_, resp, err = websocket.DefaultDialer.Dial(wsURL+"?token="+adminToken, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestJoinGateFailuresOverWire(t *testing.T) {
	s := newStack(t)
	phone := "+15550000009"
	s.users.Add(phone, true)
	token := s.verifyPhone(t, phone)

	conn := s.dial(t, token)
	send(t, conn, "join_room", 7, map[string]string{"room_id": "no-such-room"})
	ack := awaitEvent(t, conn, "ack")
	require.Equal(t, int64(7), ack.Ack)

	var body map[string]string
	require.NoError(t, json.Unmarshal(ack.Data, &body))
	assert.Equal(t, "room not found", body["error"])
}
