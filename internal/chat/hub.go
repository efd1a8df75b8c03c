// internal/chat/hub.go
// Real-time broadcaster. Delivery is best effort: a slow or disconnected
// channel is dropped and the client re-fetches state over REST on reconnect.
// Correctness lives in the store, never here.

package chat

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/internlink/internhub-backend/internal/identity"
)

// Hub maintains the set of authenticated channels, indexed by user, by role
// and by conversation room.
type Hub struct {
	mu     sync.RWMutex
	byUser map[string]map[*Client]struct{}
	byRole map[identity.Role]map[*Client]struct{}
	rooms  map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client

	service  Service
	presence Presence

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewHub(service Service, presence Presence) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		byUser:     make(map[string]map[*Client]struct{}),
		byRole:     make(map[identity.Role]map[*Client]struct{}),
		rooms:      make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		service:    service,
		presence:   presence,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case <-h.ctx.Done():
			h.closeAll()
			return
		}
	}
}

// registerClient admits an authenticated channel. First channel for a user
// flips them online.
func (h *Hub) registerClient(client *Client) {
	p := client.principal
	if p == nil {
		return
	}

	h.mu.Lock()
	if h.byUser[p.ID] == nil {
		h.byUser[p.ID] = make(map[*Client]struct{})
	}
	first := len(h.byUser[p.ID]) == 0
	h.byUser[p.ID][client] = struct{}{}

	if h.byRole[p.Role] == nil {
		h.byRole[p.Role] = make(map[*Client]struct{})
	}
	h.byRole[p.Role][client] = struct{}{}
	total := h.channelCountLocked()
	h.mu.Unlock()

	activeChannels.Set(float64(total))
	log.Printf("Channel connected for user %s (%s). Active channels: %d", p.ID, p.Role, total)

	if first {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.presence.NoteOnline(h.ctx, p.ID)
			h.broadcastAll(NewEvent(EventUserOnline, presencePayload{UserID: p.ID}), client)
		}()
	}
}

func (h *Hub) unregisterClient(client *Client) {
	p := client.principal
	if p == nil {
		client.Close()
		return
	}

	h.mu.Lock()
	if _, ok := h.byUser[p.ID][client]; !ok {
		h.mu.Unlock()
		client.Close()
		return
	}
	delete(h.byUser[p.ID], client)
	last := len(h.byUser[p.ID]) == 0
	if last {
		delete(h.byUser, p.ID)
	}
	delete(h.byRole[p.Role], client)
	for _, members := range h.rooms {
		delete(members, client)
	}
	total := h.channelCountLocked()
	h.mu.Unlock()

	client.Close()
	activeChannels.Set(float64(total))
	log.Printf("Channel disconnected for user %s. Active channels: %d", p.ID, total)

	if last {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.presence.NoteOffline(h.ctx, p.ID)
			h.broadcastAll(NewEvent(EventUserOffline, presencePayload{UserID: p.ID}), nil)
		}()
	}
}

func (h *Hub) channelCountLocked() int {
	total := 0
	for _, clients := range h.byUser {
		total += len(clients)
	}
	return total
}

// JoinRoom subscribes an authenticated channel to a conversation's message
// fan-out. Admission is checked by the caller.
func (h *Hub) JoinRoom(client *Client, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[conversationID] == nil {
		h.rooms[conversationID] = make(map[*Client]struct{})
	}
	h.rooms[conversationID][client] = struct{}{}
}

func (h *Hub) LeaveRoom(client *Client, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[conversationID]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, conversationID)
		}
	}
}

// PublishRequestEvent fans a request lifecycle event out to its audience:
// the single recipient's channels for direct requests, every online holder
// of the pool role for shared-queue requests, and always the requester.
func (h *Hub) PublishRequestEvent(eventType string, req *ChatRequest) {
	event := NewEvent(eventType, req)

	recipient := req.Recipient()
	if recipient.IsRolePool() {
		h.SendToRole(recipient.Role, event)
	} else {
		h.SendToUser(recipient.UserID, event)
	}
	h.SendToUser(req.FromUser.ID, event)
}

func (h *Hub) SendToUser(userID string, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("Error marshaling event: %v", err)
		return
	}

	h.mu.RLock()
	clients := snapshotClients(h.byUser[userID])
	h.mu.RUnlock()

	h.deliver(clients, data)
}

func (h *Hub) SendToUsers(userIDs []string, event Event) {
	for _, id := range userIDs {
		h.SendToUser(id, event)
	}
}

func (h *Hub) SendToRole(role identity.Role, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("Error marshaling event: %v", err)
		return
	}

	h.mu.RLock()
	clients := snapshotClients(h.byRole[role])
	h.mu.RUnlock()

	h.deliver(clients, data)
}

// SendToRoom delivers to every channel in the conversation's room, skipping
// the excluded user's channels (usually the sender).
func (h *Hub) SendToRoom(conversationID string, event Event, excludeUserID string) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("Error marshaling event: %v", err)
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.rooms[conversationID]))
	for client := range h.rooms[conversationID] {
		if excludeUserID != "" && client.principal != nil && client.principal.ID == excludeUserID {
			continue
		}
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	h.deliver(clients, data)
}

func (h *Hub) broadcastAll(event Event, exclude *Client) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0)
	for _, userClients := range h.byUser {
		for client := range userClients {
			if client != exclude {
				clients = append(clients, client)
			}
		}
	}
	h.mu.RUnlock()

	h.deliver(clients, data)
}

func (h *Hub) deliver(clients []*Client, data []byte) {
	for _, client := range clients {
		// enqueue checks the closed flag under the client's lock; a channel
		// unregistered between snapshot and send is just a failed delivery.
		if !client.enqueue(data) {
			droppedBroadcastsTotal.Inc()
			go h.requestUnregister(client)
		}
	}
}

// requestRegister hands a client to the hub goroutine. After shutdown nobody
// drains the channel, so give up instead of blocking forever.
func (h *Hub) requestRegister(c *Client) {
	select {
	case h.register <- c:
	case <-h.ctx.Done():
		c.Close()
	}
}

func (h *Hub) requestUnregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
		c.Close()
	}
}

func snapshotClients(set map[*Client]struct{}) []*Client {
	clients := make([]*Client, 0, len(set))
	for client := range set {
		clients = append(clients, client)
	}
	return clients
}

func (h *Hub) IsUserOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID]) > 0
}

func (h *Hub) ActiveChannels() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channelCountLocked()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	for _, userClients := range h.byUser {
		for client := range userClients {
			client.Close()
		}
	}
	h.byUser = make(map[string]map[*Client]struct{})
	h.byRole = make(map[identity.Role]map[*Client]struct{})
	h.rooms = make(map[string]map[*Client]struct{})
	h.mu.Unlock()
}

func (h *Hub) Shutdown() {
	h.cancel()
	h.wg.Wait()
}
