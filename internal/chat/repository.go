// internal/chat/repository.go

package chat

import (
	"context"
	"time"

	"github.com/internlink/internhub-backend/internal/identity"
)

// Repository persists requests, conversations and messages. Lifecycle
// mutations are conditional updates keyed on the current status so that
// concurrent callers race safely: a lost race surfaces as ErrConflict (or
// ErrConversationClosed for appends), never as a duplicate side effect.
type Repository interface {
	// Requests
	CreateRequest(ctx context.Context, r *ChatRequest) error
	GetRequest(ctx context.Context, id string) (*ChatRequest, error)
	ListIncomingRequests(ctx context.Context, userID string, role identity.Role, status RequestStatus, isAssigned *bool) ([]*ChatRequest, error)
	ListOutgoingRequests(ctx context.Context, userID string, status RequestStatus, isAssigned *bool) ([]*ChatRequest, error)

	// AcceptRequest atomically flips a pending request to accepted and
	// creates conv with its participants in the same transaction. Exactly
	// one concurrent acceptor wins; losers get ErrConflict. A request
	// assigned to someone else yields ErrForbidden.
	AcceptRequest(ctx context.Context, requestID string, acceptor ChatUser, responseMessage string, conv *Conversation) (*ChatRequest, error)

	// ResolveRequest moves a pending request to a terminal state other
	// than accepted (declined, cancelled). Non-pending yields ErrConflict.
	ResolveRequest(ctx context.Context, requestID string, to RequestStatus, by ChatUser, responseMessage string) (*ChatRequest, error)

	// AssignRequest sets the assignee while the request is still pending.
	AssignRequest(ctx context.Context, requestID string, assignee ChatUser) (*ChatRequest, error)

	// ExpireRequests flips every pending request created before cutoff to
	// expired and returns the affected requests.
	ExpireRequests(ctx context.Context, cutoff time.Time) ([]*ChatRequest, error)

	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversationsForUser(ctx context.Context, userID string, isActive *bool) ([]*Conversation, error)

	// EndConversation closes an active conversation; a lost race yields
	// ErrConflict. A non-nil marker message is inserted in the same
	// transaction, so only the winning caller leaves one in the transcript.
	EndConversation(ctx context.Context, id string, by ChatUser, reason string, marker *Message) (*Conversation, error)
	GetParticipants(ctx context.Context, convID string) ([]*Participant, error)
	IsParticipant(ctx context.Context, userID, convID string) (bool, error)

	// Messages. CreateMessage applies the insert, the unread increments
	// and the last-message summary in one transaction.
	CreateMessage(ctx context.Context, m *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	ListMessages(ctx context.Context, convID string, page MessagePage) ([]*Message, error)
	MarkRead(ctx context.Context, convID, messageID string, reader ChatUser, at time.Time) error
	TotalUnread(ctx context.Context, userID string) (int, error)

	// Directory is a read-only view of the accounts service's users table.
	GetUserInfo(ctx context.Context, userID string) (*ChatUser, error)
}
