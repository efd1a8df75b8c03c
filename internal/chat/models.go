// internal/chat/models.go

package chat

import (
	"time"

	"github.com/internlink/internhub-backend/internal/identity"
)

// RequestStatus is the lifecycle state of a chat request. A request leaves
// pending exactly once; every other state is terminal.
type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestAccepted  RequestStatus = "accepted"
	RequestDeclined  RequestStatus = "declined"
	RequestExpired   RequestStatus = "expired"
	RequestCancelled RequestStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s RequestStatus) Terminal() bool {
	return s != RequestPending
}

type ConversationType string

const (
	ConversationSupport ConversationType = "support"
	ConversationDirect  ConversationType = "direct"
	// Reserved for future group chats; no flow creates one today.
	ConversationGroup ConversationType = "group"
)

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageFile   MessageType = "file"
	MessageSystem MessageType = "system"
)

// ChatUser is a snapshot of a principal taken at write time. Snapshots are
// deliberately denormalized: a later name or role change does not rewrite
// history.
type ChatUser struct {
	ID     string        `json:"id"`
	Name   string        `json:"name"`
	Role   identity.Role `json:"role"`
	Online bool          `json:"online"`
}

// Snapshot captures a principal as a ChatUser.
func Snapshot(p identity.Principal) ChatUser {
	return ChatUser{ID: p.ID, Name: p.Name, Role: p.Role}
}

// Recipient is the target of a chat request: either one principal or the
// pool of everyone holding a shared-queue role.
type Recipient struct {
	UserID string        `json:"user_id,omitempty"`
	Role   identity.Role `json:"role"`
}

// IsRolePool reports whether the recipient is a role pool rather than a
// single principal.
func (r Recipient) IsRolePool() bool {
	return r.UserID == ""
}

// ChatRequest is a pending ask for support directed at a person or a role
// pool.
type ChatRequest struct {
	ID              string        `json:"request_id"`
	FromUser        ChatUser      `json:"from_user"`
	ToUser          ChatUser      `json:"to_user"` // role-pool targets carry an empty ID
	Message         string        `json:"message"`
	Subject         string        `json:"subject,omitempty"`
	RequestType     string        `json:"request_type"`
	Priority        string        `json:"priority"`
	Status          RequestStatus `json:"status"`
	AssignedTo      *ChatUser     `json:"assigned_to,omitempty"`
	IsAssigned      bool          `json:"is_assigned"`
	ConversationID  *string       `json:"conversation_id,omitempty"`
	ResponseMessage string        `json:"response_message,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	RespondedAt     *time.Time    `json:"responded_at,omitempty"`
}

// Recipient returns the request target as a tagged recipient.
func (r *ChatRequest) Recipient() Recipient {
	return Recipient{UserID: r.ToUser.ID, Role: r.ToUser.Role}
}

// Conversation is a bounded, endable thread of messages between a fixed
// participant set.
type Conversation struct {
	ID                 string           `json:"conversation_id"`
	Type               ConversationType `json:"conversation_type"`
	Title              string           `json:"title,omitempty"`
	IsActive           bool             `json:"is_active"`
	CreatedBy          string           `json:"created_by"`
	EndedBy            *string          `json:"ended_by,omitempty"`
	EndedAt            *time.Time       `json:"ended_at,omitempty"`
	EndReason          string           `json:"end_reason,omitempty"`
	LastMessagePreview *string          `json:"last_message_preview,omitempty"`
	LastMessageAt      *time.Time       `json:"last_message_at,omitempty"`
	MessageCount       int              `json:"message_count"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`

	// Loaded with the conversation
	Participants []*Participant `json:"participants,omitempty"`
	// Unread count for the requesting principal, filled per caller
	UnreadCount int `json:"unread_count"`
}

// HasParticipant reports whether userID is in the participant set.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.User.ID == userID {
			return true
		}
	}
	return false
}

// Participant is one member of a conversation with their read cursor.
type Participant struct {
	ConversationID    string     `json:"conversation_id"`
	User              ChatUser   `json:"user"`
	JoinedAt          time.Time  `json:"joined_at"`
	LastReadAt        *time.Time `json:"last_read_at,omitempty"`
	LastReadMessageID *string    `json:"last_read_message_id,omitempty"`
	UnreadCount       int        `json:"unread_count"`
}

// Attachment is the descriptor returned by the blob store. The chat core
// stores it verbatim and never touches the underlying bytes.
type Attachment struct {
	FileName     string `json:"file_name"`
	OriginalName string `json:"original_name"`
	FileURL      string `json:"file_url"`
	FileSize     int64  `json:"file_size"`
	MimeType     string `json:"mime_type"`
}

// Receipt records one reader having seen a message.
type Receipt struct {
	UserID   string    `json:"user_id"`
	UserName string    `json:"user_name"`
	ReadAt   time.Time `json:"read_at"`
}

// Message is immutable once created; there is no edit or delete path.
type Message struct {
	ID             string        `json:"message_id"`
	ConversationID string        `json:"conversation_id"`
	SenderID       string        `json:"sender_id"`
	SenderName     string        `json:"sender_name"`
	SenderRole     identity.Role `json:"sender_role"`
	Content        string        `json:"content"`
	Type           MessageType   `json:"type"`
	Attachment     *Attachment   `json:"attachment,omitempty"`
	ReadBy         []*Receipt    `json:"read_by,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Request DTOs

type CreateRequestInput struct {
	ToUserID    string `json:"to_user_id" validate:"omitempty"`
	ToRole      string `json:"to_role" validate:"omitempty,oneof=front-office"`
	Message     string `json:"message" validate:"required,max=2000"`
	Subject     string `json:"subject" validate:"max=200"`
	RequestType string `json:"request_type" validate:"omitempty,oneof=support internship report grading other"`
	Priority    string `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
}

type RespondRequestInput struct {
	ResponseMessage string `json:"response_message" validate:"max=2000"`
}

type AssignRequestInput struct {
	AssignToUserID string `json:"assign_to_user_id" validate:"required"`
}

type CreateConversationInput struct {
	ParticipantIDs   []string `json:"participant_ids" validate:"required,min=1,max=1"`
	Title            string   `json:"title" validate:"max=200"`
	ConversationType string   `json:"conversation_type" validate:"omitempty,oneof=direct"`
}

type SendMessageInput struct {
	Content    string      `json:"content" validate:"required_without=Attachment,max=4000"`
	Type       MessageType `json:"type" validate:"omitempty,oneof=text file"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

type EndConversationInput struct {
	Reason string `json:"reason" validate:"max=500"`
}

type MarkReadInput struct {
	MessageID string `json:"message_id" validate:"required"`
}

// ListDirection filters request listings by the caller's relation to them.
type ListDirection string

const (
	DirectionIncoming ListDirection = "incoming"
	DirectionOutgoing ListDirection = "outgoing"
	DirectionAll      ListDirection = "all"
)

// MessagePage is a cursor window over a conversation's messages. Before and
// After are message IDs; an empty page means "newest window".
type MessagePage struct {
	Before string
	After  string
	Limit  int
}
