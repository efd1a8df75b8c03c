// internal/chat/service.go

package chat

import (
	"context"
	"time"

	"github.com/internlink/internhub-backend/internal/identity"
)

// Service is the chat core: request lifecycle, conversations, messages and
// read tracking. All mutations go through conditional updates in the
// repository, so concurrent callers race safely and a loser sees ErrConflict.
type Service interface {
	// Request ledger
	CreateRequest(ctx context.Context, from identity.Principal, in *CreateRequestInput) (*ChatRequest, error)
	AcceptRequest(ctx context.Context, requestID string, by identity.Principal, responseMessage string) (*ChatRequest, *Conversation, error)
	DeclineRequest(ctx context.Context, requestID string, by identity.Principal, responseMessage string) (*ChatRequest, error)
	AssignRequest(ctx context.Context, requestID, assignToUserID string, by identity.Principal) (*ChatRequest, error)
	ListRequests(ctx context.Context, p identity.Principal, direction ListDirection, status RequestStatus, isAssigned *bool) ([]*ChatRequest, error)
	ExpireStaleRequests(ctx context.Context, olderThan time.Duration) (int, error)

	// Conversation store
	CreateDirectConversation(ctx context.Context, initiator identity.Principal, in *CreateConversationInput) (*Conversation, error)
	GetConversation(ctx context.Context, conversationID string, p identity.Principal) (*Conversation, error)
	ListConversations(ctx context.Context, p identity.Principal, isActive *bool) ([]*Conversation, error)
	AppendMessage(ctx context.Context, conversationID string, sender identity.Principal, in *SendMessageInput) (*Message, error)
	ListMessages(ctx context.Context, conversationID string, p identity.Principal, page MessagePage) ([]*Message, error)
	EndConversation(ctx context.Context, conversationID string, by identity.Principal, reason string) (*Conversation, error)
	MarkRead(ctx context.Context, conversationID string, reader identity.Principal, messageID string) error

	// Delivery/read tracking
	GetUnreadCount(ctx context.Context, userID string) (int, error)

	// Used by the hub for fan-out and room admission
	GetConversationParticipants(ctx context.Context, conversationID string) ([]*Participant, error)
	IsParticipant(ctx context.Context, userID, conversationID string) bool

	// SetHub wires the broadcaster after construction to avoid a
	// circular dependency.
	SetHub(hub *Hub)
}

type chatService struct {
	repo     Repository
	presence Presence
	hub      *Hub
}

func NewService(repo Repository, presence Presence) Service {
	return &chatService{repo: repo, presence: presence}
}

func (s *chatService) SetHub(hub *Hub) {
	s.hub = hub
}

func (s *chatService) GetConversationParticipants(ctx context.Context, conversationID string) ([]*Participant, error) {
	return s.repo.GetParticipants(ctx, conversationID)
}

func (s *chatService) IsParticipant(ctx context.Context, userID, conversationID string) bool {
	ok, err := s.repo.IsParticipant(ctx, userID, conversationID)
	if err != nil {
		return false
	}
	return ok
}

func (s *chatService) GetUnreadCount(ctx context.Context, userID string) (int, error) {
	return s.repo.TotalUnread(ctx, userID)
}

// markOnline fills the presence flag on participant snapshots.
func (s *chatService) markOnline(ctx context.Context, participants []*Participant) {
	if s.presence == nil {
		return
	}
	for _, p := range participants {
		p.User.Online = s.presence.IsOnline(ctx, p.User.ID)
	}
}
