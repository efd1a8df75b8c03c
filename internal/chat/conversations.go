// internal/chat/conversations.go
// Conversation store: direct conversations, messages, ending, read tracking.

package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/internlink/internhub-backend/internal/identity"
)

func (s *chatService) CreateDirectConversation(ctx context.Context, initiator identity.Principal, in *CreateConversationInput) (*Conversation, error) {
	if len(in.ParticipantIDs) != 1 {
		return nil, fmt.Errorf("%w: exactly one other participant is required", ErrValidation)
	}
	otherID := in.ParticipantIDs[0]
	if otherID == initiator.ID {
		return nil, fmt.Errorf("%w: cannot start a conversation with yourself", ErrValidation)
	}

	other, err := s.repo.GetUserInfo(ctx, otherID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown participant", ErrValidation)
		}
		return nil, err
	}

	// Student-to-student chats stay out of the support surface; everything
	// else (staff to student, staff to staff) may skip the request step.
	if initiator.Role == identity.RoleStudent && other.Role == identity.RoleStudent {
		return nil, ErrForbidden
	}

	now := time.Now()
	conv := &Conversation{
		ID:        uuid.New().String(),
		Type:      ConversationDirect,
		Title:     in.Title,
		IsActive:  true,
		CreatedBy: initiator.ID,
		CreatedAt: now,
		UpdatedAt: now,
		Participants: []*Participant{
			{User: Snapshot(initiator), JoinedAt: now},
			{User: *other, JoinedAt: now},
		},
	}
	for _, p := range conv.Participants {
		p.ConversationID = conv.ID
	}

	if err := s.repo.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}

	if s.hub != nil {
		s.hub.SendToUsers(participantIDs(conv.Participants), NewEvent(EventNewConversation, conv))
	}
	return conv, nil
}

func (s *chatService) GetConversation(ctx context.Context, conversationID string, p identity.Principal) (*Conversation, error) {
	conv, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(p.ID) && !p.Role.CanAudit() {
		return nil, ErrForbidden
	}

	s.markOnline(ctx, conv.Participants)
	for _, part := range conv.Participants {
		if part.User.ID == p.ID {
			conv.UnreadCount = part.UnreadCount
		}
	}
	return conv, nil
}

func (s *chatService) ListConversations(ctx context.Context, p identity.Principal, isActive *bool) ([]*Conversation, error) {
	conversations, err := s.repo.ListConversationsForUser(ctx, p.ID, isActive)
	if err != nil {
		return nil, err
	}
	for _, conv := range conversations {
		s.markOnline(ctx, conv.Participants)
	}
	return conversations, nil
}

func (s *chatService) AppendMessage(ctx context.Context, conversationID string, sender identity.Principal, in *SendMessageInput) (*Message, error) {
	isParticipant, err := s.repo.IsParticipant(ctx, sender.ID, conversationID)
	if err != nil {
		return nil, err
	}
	if !isParticipant {
		return nil, ErrNotParticipant
	}

	msgType := in.Type
	if msgType == "" {
		msgType = MessageText
	}
	if in.Attachment != nil {
		msgType = MessageFile
	}

	content := in.Content
	if content == "" {
		if msgType != MessageFile {
			return nil, fmt.Errorf("%w: message content is required", ErrValidation)
		}
		// File messages without a caption get a readable placeholder.
		content = fmt.Sprintf("Sent a file: %s", in.Attachment.OriginalName)
	}

	msg := &Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       sender.ID,
		SenderName:     sender.Name,
		SenderRole:     sender.Role,
		Content:        content,
		Type:           msgType,
		Attachment:     in.Attachment,
		CreatedAt:      time.Now(),
	}

	if err := s.repo.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	messagesTotal.WithLabelValues(string(msgType)).Inc()

	s.broadcastMessage(msg)
	return msg, nil
}

func (s *chatService) broadcastMessage(msg *Message) {
	if s.hub == nil {
		return
	}
	// Room members get the message itself; every participant gets the
	// summary update so list screens refresh without joining the room.
	s.hub.SendToRoom(msg.ConversationID, NewEvent(EventNewMessage, msg), msg.SenderID)

	participants, err := s.repo.GetParticipants(context.Background(), msg.ConversationID)
	if err != nil {
		log.Printf("Error loading participants for broadcast: %v", err)
		return
	}
	s.hub.SendToUsers(participantIDs(participants), NewEvent(EventConversationUpdated, map[string]interface{}{
		"conversation_id":      msg.ConversationID,
		"last_message_preview": msg.Content,
		"last_message_at":      msg.CreatedAt,
	}))
}

func (s *chatService) ListMessages(ctx context.Context, conversationID string, p identity.Principal, page MessagePage) ([]*Message, error) {
	conv, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(p.ID) && !p.Role.CanAudit() {
		return nil, ErrForbidden
	}
	return s.repo.ListMessages(ctx, conversationID, page)
}

func (s *chatService) EndConversation(ctx context.Context, conversationID string, by identity.Principal, reason string) (*Conversation, error) {
	if !by.Role.CanEndConversations() {
		return nil, ErrForbidden
	}

	content := fmt.Sprintf("%s ended the conversation", by.Name)
	if reason != "" {
		content = fmt.Sprintf("%s: %s", content, reason)
	}
	// The marker rides the closing transaction, so a caller who loses the
	// end race leaves nothing in the transcript.
	marker := &Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       by.ID,
		SenderName:     by.Name,
		SenderRole:     by.Role,
		Content:        content,
		Type:           MessageSystem,
		CreatedAt:      time.Now(),
	}

	conv, err := s.repo.EndConversation(ctx, conversationID, Snapshot(by), reason, marker)
	if err != nil {
		return nil, err
	}

	conversationsEndedTotal.Inc()
	messagesTotal.WithLabelValues(string(MessageSystem)).Inc()
	s.broadcastMessage(marker)

	if s.hub != nil {
		event := NewEvent(EventConversationEnded, conv)
		s.hub.SendToUsers(participantIDs(conv.Participants), event)
		s.hub.SendToRoom(conversationID, event, "")
	}
	return conv, nil
}

func (s *chatService) MarkRead(ctx context.Context, conversationID string, reader identity.Principal, messageID string) error {
	isParticipant, err := s.repo.IsParticipant(ctx, reader.ID, conversationID)
	if err != nil {
		return err
	}
	if !isParticipant {
		return ErrNotParticipant
	}

	readAt := time.Now()
	if err := s.repo.MarkRead(ctx, conversationID, messageID, Snapshot(reader), readAt); err != nil {
		return err
	}

	if s.hub != nil {
		s.hub.SendToRoom(conversationID, NewEvent(EventMessageRead, messageReadPayload{
			ConversationID: conversationID,
			MessageID:      messageID,
			UserID:         reader.ID,
			UserName:       reader.Name,
			ReadAt:         readAt,
		}), reader.ID)
	}
	return nil
}

// appendSystemMessage writes a transcript marker. Best effort: a failure is
// logged, never propagated to the triggering operation.
func (s *chatService) appendSystemMessage(ctx context.Context, conversationID string, actor ChatUser, content string) {
	msg := &Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       actor.ID,
		SenderName:     actor.Name,
		SenderRole:     actor.Role,
		Content:        content,
		Type:           MessageSystem,
		CreatedAt:      time.Now(),
	}
	if err := s.repo.CreateMessage(ctx, msg); err != nil {
		log.Printf("Error appending system message: %v", err)
		return
	}
	messagesTotal.WithLabelValues(string(MessageSystem)).Inc()
	s.broadcastMessage(msg)
}
