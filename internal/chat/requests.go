// internal/chat/requests.go
// Request ledger: create, assign, accept, decline, expire.

package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/internlink/internhub-backend/internal/identity"
)

func (s *chatService) CreateRequest(ctx context.Context, from identity.Principal, in *CreateRequestInput) (*ChatRequest, error) {
	if in.Message == "" {
		return nil, fmt.Errorf("%w: message is required", ErrValidation)
	}
	if (in.ToUserID == "") == (in.ToRole == "") {
		return nil, fmt.Errorf("%w: exactly one of to_user_id and to_role is required", ErrValidation)
	}

	var target ChatUser
	if in.ToUserID != "" {
		info, err := s.repo.GetUserInfo(ctx, in.ToUserID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("%w: unknown target user", ErrValidation)
			}
			return nil, err
		}
		if !info.Role.IsSupport() {
			return nil, fmt.Errorf("%w: target cannot receive chat requests", ErrValidation)
		}
		target = *info
	} else {
		role := identity.Role(in.ToRole)
		if role != identity.SharedQueueRole {
			return nil, fmt.Errorf("%w: unknown target role", ErrValidation)
		}
		// Role-pool target: no single recipient, every holder of the
		// role sees the request.
		target = ChatUser{Role: role}
	}

	requestType := in.RequestType
	if requestType == "" {
		requestType = "support"
	}
	priority := in.Priority
	if priority == "" {
		priority = "normal"
	}

	now := time.Now()
	req := &ChatRequest{
		ID:          uuid.New().String(),
		FromUser:    Snapshot(from),
		ToUser:      target,
		Message:     in.Message,
		Subject:     in.Subject,
		RequestType: requestType,
		Priority:    priority,
		Status:      RequestPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.CreateRequest(ctx, req); err != nil {
		return nil, err
	}

	requestsTotal.WithLabelValues(string(RequestPending)).Inc()

	if s.hub != nil {
		s.hub.PublishRequestEvent(EventNewChatRequest, req)
	}
	return req, nil
}

func (s *chatService) AcceptRequest(ctx context.Context, requestID string, by identity.Principal, responseMessage string) (*ChatRequest, *Conversation, error) {
	req, err := s.repo.GetRequest(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}

	// Resolved requests conflict before any permission question arises, so
	// a late acceptor always sees "already handled".
	if req.Status.Terminal() {
		acceptConflictsTotal.Inc()
		return nil, nil, ErrConflict
	}
	if err := acceptPermitted(req, by); err != nil {
		return nil, nil, err
	}

	now := time.Now()
	conv := &Conversation{
		ID:        uuid.New().String(),
		Type:      ConversationSupport,
		Title:     req.Subject,
		IsActive:  true,
		CreatedBy: by.ID,
		CreatedAt: now,
		UpdatedAt: now,
		Participants: []*Participant{
			{User: req.FromUser, JoinedAt: now},
			{User: Snapshot(by), JoinedAt: now},
		},
	}
	for _, p := range conv.Participants {
		p.ConversationID = conv.ID
	}

	accepted, err := s.repo.AcceptRequest(ctx, requestID, Snapshot(by), responseMessage, conv)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			acceptConflictsTotal.Inc()
		}
		return nil, nil, err
	}

	requestsTotal.WithLabelValues(string(RequestAccepted)).Inc()

	// Transcript opener; failure here never unwinds the accept.
	s.appendSystemMessage(ctx, conv.ID, Snapshot(by),
		fmt.Sprintf("%s accepted the request", by.Name))

	if s.hub != nil {
		s.hub.PublishRequestEvent(EventRequestUpdated, accepted)
		s.hub.SendToUsers(participantIDs(conv.Participants), NewEvent(EventNewConversation, conv))
	}
	return accepted, conv, nil
}

// acceptPermitted checks who may claim the request. The repository's
// conditional update re-checks assignment, so a stale read here cannot let
// two acceptors through.
func acceptPermitted(req *ChatRequest, by identity.Principal) error {
	if req.Recipient().IsRolePool() {
		if by.Role != req.ToUser.Role {
			return ErrForbidden
		}
		if req.AssignedTo != nil && req.AssignedTo.ID != by.ID {
			return ErrForbidden
		}
		return nil
	}
	if req.ToUser.ID != by.ID {
		return ErrForbidden
	}
	return nil
}

func (s *chatService) DeclineRequest(ctx context.Context, requestID string, by identity.Principal, responseMessage string) (*ChatRequest, error) {
	req, err := s.repo.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status.Terminal() {
		return nil, ErrConflict
	}

	// The requester declining their own request is a cancellation; the
	// two outcomes stay distinguishable in the ledger.
	to := RequestDeclined
	switch {
	case req.FromUser.ID == by.ID:
		to = RequestCancelled
	case req.Recipient().IsRolePool():
		if by.Role != req.ToUser.Role {
			return nil, ErrForbidden
		}
		if req.AssignedTo != nil && req.AssignedTo.ID != by.ID {
			return nil, ErrForbidden
		}
	case req.ToUser.ID != by.ID:
		return nil, ErrForbidden
	}

	resolved, err := s.repo.ResolveRequest(ctx, requestID, to, Snapshot(by), responseMessage)
	if err != nil {
		return nil, err
	}

	requestsTotal.WithLabelValues(string(to)).Inc()

	if s.hub != nil {
		s.hub.PublishRequestEvent(EventRequestUpdated, resolved)
	}
	return resolved, nil
}

func (s *chatService) AssignRequest(ctx context.Context, requestID, assignToUserID string, by identity.Principal) (*ChatRequest, error) {
	req, err := s.repo.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !req.Recipient().IsRolePool() {
		return nil, fmt.Errorf("%w: only shared-queue requests can be assigned", ErrValidation)
	}
	if by.Role != req.ToUser.Role && !by.Role.CanEndConversations() {
		return nil, ErrForbidden
	}

	assignee, err := s.repo.GetUserInfo(ctx, assignToUserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown assignee", ErrValidation)
		}
		return nil, err
	}
	if assignee.Role != req.ToUser.Role {
		return nil, fmt.Errorf("%w: assignee does not hold the target role", ErrValidation)
	}

	assigned, err := s.repo.AssignRequest(ctx, requestID, *assignee)
	if err != nil {
		return nil, err
	}

	if s.hub != nil {
		s.hub.PublishRequestEvent(EventRequestUpdated, assigned)
	}
	return assigned, nil
}

func (s *chatService) ListRequests(ctx context.Context, p identity.Principal, direction ListDirection, status RequestStatus, isAssigned *bool) ([]*ChatRequest, error) {
	if status != "" && !validStatus(status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}

	switch direction {
	case DirectionIncoming:
		return s.repo.ListIncomingRequests(ctx, p.ID, p.Role, status, isAssigned)
	case DirectionOutgoing:
		return s.repo.ListOutgoingRequests(ctx, p.ID, status, isAssigned)
	case DirectionAll, "":
		incoming, err := s.repo.ListIncomingRequests(ctx, p.ID, p.Role, status, isAssigned)
		if err != nil {
			return nil, err
		}
		outgoing, err := s.repo.ListOutgoingRequests(ctx, p.ID, status, isAssigned)
		if err != nil {
			return nil, err
		}
		return append(incoming, outgoing...), nil
	default:
		return nil, fmt.Errorf("%w: unknown direction %q", ErrValidation, direction)
	}
}

func validStatus(s RequestStatus) bool {
	switch s {
	case RequestPending, RequestAccepted, RequestDeclined, RequestExpired, RequestCancelled:
		return true
	}
	return false
}

// ExpireStaleRequests flips pending requests older than the TTL to expired
// and notifies watchers. Run periodically by the sweeper.
func (s *chatService) ExpireStaleRequests(ctx context.Context, olderThan time.Duration) (int, error) {
	expired, err := s.repo.ExpireRequests(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}

	for _, req := range expired {
		requestsTotal.WithLabelValues(string(RequestExpired)).Inc()
		if s.hub != nil {
			s.hub.PublishRequestEvent(EventRequestUpdated, req)
		}
	}
	return len(expired), nil
}

func participantIDs(participants []*Participant) []string {
	ids := make([]string, 0, len(participants))
	for _, p := range participants {
		ids = append(ids, p.User.ID)
	}
	return ids
}
