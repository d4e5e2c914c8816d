package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tfchat/server/internal/apperr"
	"github.com/tfchat/server/internal/room"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxFrame   = 8 * 1024
)

// frame is the wire format in both directions. Client frames carry an
// optional ack id that the server echoes on the response.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   int64           `json:"ack,omitempty"`
}

type outFrame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
	Ack   int64       `json:"ack,omitempty"`
}

// Client is one websocket connection, bound to a verified phone. It is the
// coordinator's Outlet for that phone while joined to a room.
type Client struct {
	conn        *websocket.Conn
	coordinator *room.Coordinator
	relay       *room.Relay
	phone       string
	remoteAddr  string
	userAgent   string

	send      chan []byte
	closeOnce sync.Once

	mu     sync.Mutex
	roomID string
}

func newClient(conn *websocket.Conn, coordinator *room.Coordinator, relay *room.Relay, phone, remoteAddr, userAgent string) *Client {
	return &Client{
		conn:        conn,
		coordinator: coordinator,
		relay:       relay,
		phone:       phone,
		remoteAddr:  remoteAddr,
		userAgent:   userAgent,
		send:        make(chan []byte, 256),
	}
}

// Push implements room.Outlet. It never blocks; a client whose buffer is
// full is torn down instead of stalling the room.
func (c *Client) Push(event string, payload interface{}) {
	b, err := json.Marshal(outFrame{Event: event, Data: payload})
	if err != nil {
		return
	}
	select {
	case c.send <- b:
	default:
		go c.Close(room.StatusDisconnected)
	}
}

func (c *Client) ack(ackID int64, payload interface{}) {
	if ackID == 0 {
		return
	}
	b, err := json.Marshal(outFrame{Event: "ack", Ack: ackID, Data: payload})
	if err != nil {
		return
	}
	select {
	case c.send <- b:
	default:
	}
}

// Close tears the connection down and runs the room cleanup path exactly
// once, however it is reached (explicit leave, transport error, slow buffer).
func (c *Client) Close(status string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		roomID := c.roomID
		c.roomID = ""
		c.mu.Unlock()

		if roomID != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			c.coordinator.Leave(ctx, roomID, c.phone, status)
			cancel()
		}
		close(c.send)
		_ = c.conn.Close()
	})
}

func (c *Client) readPump() {
	defer c.Close(room.StatusDisconnected)
	c.conn.SetReadLimit(maxFrame)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			continue
		}
		c.dispatch(f)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type joinRequest struct {
	RoomID   string `json:"room_id"`
	Platform string `json:"platform"`
}

type sendRequest struct {
	RoomID string  `json:"room_id"`
	Text   *string `json:"text"`
}

type typingRequest struct {
	RoomID string `json:"room_id"`
	Typing bool   `json:"typing"`
}

type receiptRequest struct {
	RoomID    string `json:"room_id"`
	MessageID string `json:"message_id"`
}

func (c *Client) dispatch(f frame) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch f.Event {
	case "join_room":
		var req joinRequest
		if err := json.Unmarshal(f.Data, &req); err != nil || req.RoomID == "" {
			c.ack(f.Ack, map[string]string{"error": "room_id required"})
			return
		}
		// Switching rooms leaves the old one first. The presence entry
		// must always track c.roomID, or Close cannot tear it down and
		// the stale registration keeps receiving broadcasts.
		c.mu.Lock()
		prev := c.roomID
		c.mu.Unlock()
		if prev != "" && prev != req.RoomID {
			c.coordinator.Leave(ctx, prev, c.phone, room.StatusLeft)
			c.mu.Lock()
			c.roomID = ""
			c.mu.Unlock()
		}
		meta := room.ClientMeta{UserAgent: c.userAgent, Platform: req.Platform}
		recent, err := c.coordinator.Admit(ctx, req.RoomID, c.phone, meta, c.remoteAddr, c)
		if err != nil {
			c.ack(f.Ack, map[string]string{"error": admissionError(err)})
			return
		}
		c.mu.Lock()
		c.roomID = req.RoomID
		c.mu.Unlock()
		c.ack(f.Ack, map[string]bool{"ok": true})
		c.Push("recent_messages", recent)

	case "leave_room":
		c.mu.Lock()
		roomID := c.roomID
		c.roomID = ""
		c.mu.Unlock()
		if roomID != "" {
			c.coordinator.Leave(ctx, roomID, c.phone, room.StatusLeft)
		}
		c.ack(f.Ack, map[string]bool{"ok": true})

	case "message_send":
		var req sendRequest
		if err := json.Unmarshal(f.Data, &req); err != nil {
			c.ack(f.Ack, map[string]string{"error": "bad payload"})
			return
		}
		if !c.joined(req.RoomID) {
			c.ack(f.Ack, map[string]string{"error": "not in room"})
			return
		}
		id, err := c.relay.Send(ctx, req.RoomID, c.phone, req.Text)
		if err != nil {
			log.Printf("message send in %s: %v", req.RoomID, err)
			c.ack(f.Ack, map[string]string{"error": "send failed"})
			return
		}
		c.ack(f.Ack, map[string]interface{}{"ok": true, "message_id": id})

	case "typing":
		var req typingRequest
		if err := json.Unmarshal(f.Data, &req); err != nil || !c.joined(req.RoomID) {
			return
		}
		c.relay.Typing(req.RoomID, c.phone, req.Typing)

	case "read_receipt":
		var req receiptRequest
		if err := json.Unmarshal(f.Data, &req); err != nil || !c.joined(req.RoomID) {
			return
		}
		c.relay.MarkSeen(ctx, req.RoomID, req.MessageID, c.phone)
	}
}

func (c *Client) joined(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return roomID != "" && c.roomID == roomID
}

// admissionError maps expected admission failures to wire strings without
// leaking internal detail for anything else.
func admissionError(err error) string {
	switch {
	case errors.Is(err, apperr.ErrRoomNotFound):
		return "room not found"
	case errors.Is(err, apperr.ErrRoomFull):
		return "room full"
	case errors.Is(err, apperr.ErrNotWhitelisted):
		return "not whitelisted"
	case errors.Is(err, apperr.ErrAlreadyJoined):
		return "already joined"
	default:
		log.Printf("admission failed: %v", err)
		return "join failed"
	}
}
