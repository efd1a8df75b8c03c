// internal/chat/client.go

package chat

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/internlink/internhub-backend/internal/identity"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024
)

// Client is one principal's live channel. A channel receives nothing until
// its authenticate event is verified.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	verifier identity.Verifier
	service  Service
	send     chan []byte

	// Set by handleAuthenticate; nil means unauthenticated.
	principal *identity.Principal

	// Rooms this channel joined; touched only by the read pump.
	rooms map[string]struct{}

	// sendMu serializes queueing against Close so a fan-out working from a
	// stale snapshot can never hit a closed channel.
	sendMu     sync.Mutex
	sendClosed bool
}

func NewClient(hub *Hub, conn *websocket.Conn, verifier identity.Verifier, service Service) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		verifier: verifier,
		service:  service,
		send:     make(chan []byte, 256),
		rooms:    make(map[string]struct{}),
	}
}

func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// Close releases the channel's send queue. Safe to call more than once.
func (c *Client) Close() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return
	}
	c.sendClosed = true
	close(c.send)
}

// enqueue queues data for the write pump without blocking. Returns false when
// the buffer is full or the channel is already closed.
func (c *Client) enqueue(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.requestUnregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if c.principal != nil {
			c.hub.presence.Touch(context.Background(), c.principal.ID)
		}
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}
		c.processEvent(data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Flush queued events into the same frame
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) processEvent(data []byte) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		c.sendError("BAD_EVENT", "malformed event")
		return
	}

	if event.Type == ClientAuthenticate {
		c.handleAuthenticate(event.Data)
		return
	}

	if c.principal == nil {
		c.sendError("UNAUTHENTICATED", "authenticate first")
		return
	}

	ctx := context.Background()
	switch event.Type {
	case ClientJoinConversation:
		c.handleJoin(ctx, event.Data)

	case ClientLeaveConversation:
		c.handleLeave(event.Data)

	case ClientTyping:
		c.handleTyping(event.Data, EventTyping)

	case ClientStopTyping:
		c.handleTyping(event.Data, EventStopTyping)

	case ClientMarkAsRead:
		c.handleMarkRead(ctx, event.Data)

	default:
		c.sendError("UNKNOWN_EVENT", "unknown event type: "+event.Type)
	}
}

func (c *Client) handleAuthenticate(data json.RawMessage) {
	if c.principal != nil {
		return
	}

	var payload authenticatePayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.Token == "" {
		c.sendError("BAD_TOKEN", "token is required")
		return
	}

	principal, err := c.verifier.Verify(payload.Token)
	if err != nil {
		c.sendError("BAD_TOKEN", "invalid or expired token")
		return
	}

	c.principal = principal
	c.hub.requestRegister(c)
	c.sendEvent(NewEvent(EventAuthenticated, ChatUser{
		ID:     principal.ID,
		Name:   principal.Name,
		Role:   principal.Role,
		Online: true,
	}))
}

func (c *Client) handleJoin(ctx context.Context, data json.RawMessage) {
	var payload roomPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.ConversationID == "" {
		c.sendError("BAD_EVENT", "conversation_id is required")
		return
	}

	if !c.service.IsParticipant(ctx, c.principal.ID, payload.ConversationID) && !c.principal.Role.CanAudit() {
		c.sendError("FORBIDDEN", "not a participant in this conversation")
		return
	}

	c.hub.JoinRoom(c, payload.ConversationID)
	c.rooms[payload.ConversationID] = struct{}{}
}

func (c *Client) handleLeave(data json.RawMessage) {
	var payload roomPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.ConversationID == "" {
		return
	}
	c.hub.LeaveRoom(c, payload.ConversationID)
	delete(c.rooms, payload.ConversationID)
}

// handleTyping relays a typing indicator to the room. Ephemeral: nothing is
// stored and delivery is best effort.
func (c *Client) handleTyping(data json.RawMessage, eventType string) {
	var payload roomPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.ConversationID == "" {
		return
	}
	if _, joined := c.rooms[payload.ConversationID]; !joined {
		return
	}

	c.hub.SendToRoom(payload.ConversationID, NewEvent(eventType, typingPayload{
		ConversationID: payload.ConversationID,
		UserID:         c.principal.ID,
		UserName:       c.principal.Name,
	}), c.principal.ID)
}

func (c *Client) handleMarkRead(ctx context.Context, data json.RawMessage) {
	var payload markReadPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.ConversationID == "" || payload.MessageID == "" {
		c.sendError("BAD_EVENT", "conversation_id and message_id are required")
		return
	}

	if err := c.service.MarkRead(ctx, payload.ConversationID, *c.principal, payload.MessageID); err != nil {
		c.sendError("MARK_READ_FAILED", err.Error())
	}
}

func (c *Client) sendEvent(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *Client) sendError(code, message string) {
	c.sendEvent(NewEvent(EventError, errorPayload{Code: code, Message: message}))
}
