// internal/chat/fake_repo_test.go
// In-memory Repository with the same conditional-update contract as the
// Postgres implementation, so the service races the same way in tests.

package chat

import (
	"context"
	"sync"
	"time"

	"github.com/internlink/internhub-backend/internal/identity"
)

type fakeRepo struct {
	mu            sync.Mutex
	requests      map[string]*ChatRequest
	conversations map[string]*Conversation
	participants  map[string][]*Participant
	messages      map[string][]*Message
	users         map[string]*ChatUser
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		requests:      make(map[string]*ChatRequest),
		conversations: make(map[string]*Conversation),
		participants:  make(map[string][]*Participant),
		messages:      make(map[string][]*Message),
		users:         make(map[string]*ChatUser),
	}
}

func (f *fakeRepo) addUser(u ChatUser) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := u
	f.users[u.ID] = &stored
}

func copyRequest(r *ChatRequest) *ChatRequest {
	cp := *r
	if r.AssignedTo != nil {
		assigned := *r.AssignedTo
		cp.AssignedTo = &assigned
	}
	if r.ConversationID != nil {
		id := *r.ConversationID
		cp.ConversationID = &id
	}
	return &cp
}

func (f *fakeRepo) copyConversationLocked(id string) *Conversation {
	conv := f.conversations[id]
	cp := *conv
	cp.Participants = nil
	for _, p := range f.participants[id] {
		part := *p
		cp.Participants = append(cp.Participants, &part)
	}
	return &cp
}

// Requests

func (f *fakeRepo) CreateRequest(ctx context.Context, r *ChatRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests[r.ID] = copyRequest(r)
	return nil
}

func (f *fakeRepo) GetRequest(ctx context.Context, id string) (*ChatRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRequest(req), nil
}

func (f *fakeRepo) ListIncomingRequests(ctx context.Context, userID string, role identity.Role, status RequestStatus, isAssigned *bool) ([]*ChatRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*ChatRequest
	for _, r := range f.requests {
		if status != "" && r.Status != status {
			continue
		}
		if isAssigned != nil && (r.AssignedTo != nil) != *isAssigned {
			continue
		}
		direct := r.ToUser.ID == userID
		pooled := r.ToUser.ID == "" && r.ToUser.Role == role &&
			(r.AssignedTo == nil || r.AssignedTo.ID == userID)
		if direct || pooled {
			out = append(out, copyRequest(r))
		}
	}
	return out, nil
}

func (f *fakeRepo) ListOutgoingRequests(ctx context.Context, userID string, status RequestStatus, isAssigned *bool) ([]*ChatRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*ChatRequest
	for _, r := range f.requests {
		if r.FromUser.ID != userID {
			continue
		}
		if status != "" && r.Status != status {
			continue
		}
		if isAssigned != nil && (r.AssignedTo != nil) != *isAssigned {
			continue
		}
		out = append(out, copyRequest(r))
	}
	return out, nil
}

func (f *fakeRepo) AcceptRequest(ctx context.Context, requestID string, acceptor ChatUser, responseMessage string, conv *Conversation) (*ChatRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	req, ok := f.requests[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	if req.Status != RequestPending {
		return nil, ErrConflict
	}
	if req.AssignedTo != nil && req.AssignedTo.ID != acceptor.ID {
		return nil, ErrForbidden
	}

	now := time.Now()
	req.Status = RequestAccepted
	req.AssignedTo = &acceptor
	req.IsAssigned = true
	req.ResponseMessage = responseMessage
	convID := conv.ID
	req.ConversationID = &convID
	req.RespondedAt = &now
	req.UpdatedAt = now

	f.insertConversationLocked(conv)
	return copyRequest(req), nil
}

func (f *fakeRepo) ResolveRequest(ctx context.Context, requestID string, to RequestStatus, by ChatUser, responseMessage string) (*ChatRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	req, ok := f.requests[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	if req.Status != RequestPending {
		return nil, ErrConflict
	}

	now := time.Now()
	req.Status = to
	req.ResponseMessage = responseMessage
	req.RespondedAt = &now
	req.UpdatedAt = now
	return copyRequest(req), nil
}

func (f *fakeRepo) AssignRequest(ctx context.Context, requestID string, assignee ChatUser) (*ChatRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	req, ok := f.requests[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	if req.Status != RequestPending {
		return nil, ErrConflict
	}

	req.AssignedTo = &assignee
	req.IsAssigned = true
	req.UpdatedAt = time.Now()
	return copyRequest(req), nil
}

func (f *fakeRepo) ExpireRequests(ctx context.Context, cutoff time.Time) ([]*ChatRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var expired []*ChatRequest
	for _, r := range f.requests {
		if r.Status == RequestPending && r.CreatedAt.Before(cutoff) {
			r.Status = RequestExpired
			r.UpdatedAt = time.Now()
			expired = append(expired, copyRequest(r))
		}
	}
	return expired, nil
}

// Conversations

func (f *fakeRepo) insertConversationLocked(conv *Conversation) {
	stored := *conv
	stored.Participants = nil
	f.conversations[conv.ID] = &stored
	for _, p := range conv.Participants {
		part := *p
		f.participants[conv.ID] = append(f.participants[conv.ID], &part)
	}
}

func (f *fakeRepo) CreateConversation(ctx context.Context, conv *Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertConversationLocked(conv)
	return nil
}

func (f *fakeRepo) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.conversations[id]; !ok {
		return nil, ErrNotFound
	}
	return f.copyConversationLocked(id), nil
}

func (f *fakeRepo) ListConversationsForUser(ctx context.Context, userID string, isActive *bool) ([]*Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*Conversation
	for id := range f.conversations {
		var member *Participant
		for _, p := range f.participants[id] {
			if p.User.ID == userID {
				member = p
				break
			}
		}
		if member == nil {
			continue
		}
		if isActive != nil && f.conversations[id].IsActive != *isActive {
			continue
		}
		conv := f.copyConversationLocked(id)
		conv.UnreadCount = member.UnreadCount
		out = append(out, conv)
	}
	return out, nil
}

func (f *fakeRepo) EndConversation(ctx context.Context, id string, by ChatUser, reason string, marker *Message) (*Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	conv, ok := f.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !conv.IsActive {
		return nil, ErrConflict
	}

	now := time.Now()
	endedBy := by.ID
	conv.IsActive = false
	conv.EndedBy = &endedBy
	conv.EndedAt = &now
	conv.EndReason = reason
	conv.UpdatedAt = now

	if marker != nil {
		stored := *marker
		f.messages[id] = append(f.messages[id], &stored)
		preview := previewOf(marker.Content)
		conv.MessageCount++
		conv.LastMessagePreview = &preview
		at := marker.CreatedAt
		conv.LastMessageAt = &at
		for _, p := range f.participants[id] {
			if p.User.ID != marker.SenderID {
				p.UnreadCount++
			}
		}
	}
	return f.copyConversationLocked(id), nil
}

func (f *fakeRepo) GetParticipants(ctx context.Context, convID string) ([]*Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Participant
	for _, p := range f.participants[convID] {
		part := *p
		out = append(out, &part)
	}
	return out, nil
}

func (f *fakeRepo) IsParticipant(ctx context.Context, userID, convID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.participants[convID] {
		if p.User.ID == userID {
			return true, nil
		}
	}
	return false, nil
}

// Messages

func (f *fakeRepo) CreateMessage(ctx context.Context, m *Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	conv, ok := f.conversations[m.ConversationID]
	if !ok {
		return ErrNotFound
	}
	if !conv.IsActive {
		return ErrConversationClosed
	}

	stored := *m
	f.messages[m.ConversationID] = append(f.messages[m.ConversationID], &stored)

	preview := previewOf(m.Content)
	conv.MessageCount++
	conv.LastMessagePreview = &preview
	at := m.CreatedAt
	conv.LastMessageAt = &at
	conv.UpdatedAt = at

	for _, p := range f.participants[m.ConversationID] {
		if p.User.ID != m.SenderID {
			p.UnreadCount++
		}
	}
	return nil
}

func (f *fakeRepo) GetMessage(ctx context.Context, id string) (*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, msgs := range f.messages {
		for _, m := range msgs {
			if m.ID == id {
				cp := *m
				return &cp, nil
			}
		}
	}
	return nil, ErrNotFound
}

func (f *fakeRepo) ListMessages(ctx context.Context, convID string, page MessagePage) ([]*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	msgs := f.messages[convID]
	limit := page.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	indexOf := func(id string) int {
		for i, m := range msgs {
			if m.ID == id {
				return i
			}
		}
		return -1
	}

	start, end := 0, len(msgs)
	switch {
	case page.Before != "":
		if i := indexOf(page.Before); i >= 0 {
			end = i
		}
		if end-start > limit {
			start = end - limit
		}
	case page.After != "":
		if i := indexOf(page.After); i >= 0 {
			start = i + 1
		}
		if end-start > limit {
			end = start + limit
		}
	default:
		if end-start > limit {
			end = start + limit
		}
	}

	var out []*Message
	for _, m := range msgs[start:end] {
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeRepo) MarkRead(ctx context.Context, convID, messageID string, reader ChatUser, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var msg *Message
	for _, m := range f.messages[convID] {
		if m.ID == messageID {
			msg = m
			break
		}
	}
	if msg == nil {
		return ErrNotFound
	}

	for _, receipt := range msg.ReadBy {
		if receipt.UserID == reader.ID {
			return nil
		}
	}
	msg.ReadBy = append(msg.ReadBy, &Receipt{
		UserID:   reader.ID,
		UserName: reader.Name,
		ReadAt:   at,
	})

	for _, p := range f.participants[convID] {
		if p.User.ID == reader.ID {
			p.UnreadCount = 0
			readAt := at
			msgID := messageID
			p.LastReadAt = &readAt
			p.LastReadMessageID = &msgID
		}
	}
	return nil
}

func (f *fakeRepo) TotalUnread(ctx context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, parts := range f.participants {
		for _, p := range parts {
			if p.User.ID == userID {
				total += p.UnreadCount
			}
		}
	}
	return total, nil
}

// Directory

func (f *fakeRepo) GetUserInfo(ctx context.Context, userID string) (*ChatUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *user
	return &cp, nil
}
