// internal/chat/events.go
// Wire format for the real-time channel, both directions.

package chat

import (
	"encoding/json"
	"log"
	"time"
)

// Server→client event types.
const (
	EventNewChatRequest      = "newChatRequest"
	EventRequestUpdated      = "requestUpdated"
	EventNewConversation     = "newConversation"
	EventConversationUpdated = "conversationUpdated"
	EventConversationEnded   = "conversationEnded"
	EventNewMessage          = "newMessage"
	EventMessageRead         = "messageRead"
	EventUserOnline          = "userOnline"
	EventUserOffline         = "userOffline"
	EventTyping              = "typing"
	EventStopTyping          = "stopTyping"
	EventError               = "error"
	EventAuthenticated       = "authenticated"
)

// Client→server event types.
const (
	ClientAuthenticate      = "authenticate"
	ClientJoinConversation  = "joinConversation"
	ClientLeaveConversation = "leaveConversation"
	ClientTyping            = "typing"
	ClientStopTyping        = "stopTyping"
	ClientMarkAsRead        = "markAsRead"
)

// Event is the envelope for every frame on the real-time channel.
type Event struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent wraps a payload in an envelope stamped with the current time.
func NewEvent(eventType string, payload interface{}) Event {
	return Event{
		Type:      eventType,
		Data:      mustMarshal(payload),
		Timestamp: time.Now(),
	}
}

// Client→server payloads.

type authenticatePayload struct {
	Token string `json:"token"`
}

type roomPayload struct {
	ConversationID string `json:"conversation_id"`
}

type markReadPayload struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

// Server→client payloads that are not full entities.

type typingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	UserName       string `json:"user_name"`
}

type messageReadPayload struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	UserID         string    `json:"user_id"`
	UserName       string    `json:"user_name"`
	ReadAt         time.Time `json:"read_at"`
}

type presencePayload struct {
	UserID string `json:"user_id"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func mustMarshal(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("Error marshaling event payload: %v", err)
		return json.RawMessage(`{}`)
	}
	return data
}
