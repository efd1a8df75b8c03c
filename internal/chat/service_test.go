// internal/chat/service_test.go

package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/internlink/internhub-backend/internal/identity"
)

var (
	student     = identity.Principal{ID: "u-student", Name: "Ada Student", Role: identity.RoleStudent}
	student2    = identity.Principal{ID: "u-student-2", Name: "Ben Student", Role: identity.RoleStudent}
	instructor  = identity.Principal{ID: "u-instructor", Name: "Ida Instructor", Role: identity.RoleInstructor}
	frontOffice = identity.Principal{ID: "u-front-1", Name: "Fay Front", Role: identity.RoleFrontOffice}
	frontTwo    = identity.Principal{ID: "u-front-2", Name: "Finn Front", Role: identity.RoleFrontOffice}
	deptHead    = identity.Principal{ID: "u-head", Name: "Dana Head", Role: identity.RoleDepartmentHead}
)

func newTestService(t *testing.T) (Service, *fakeRepo) {
	t.Helper()
	repo := newFakeRepo()
	for _, p := range []identity.Principal{student, student2, instructor, frontOffice, frontTwo, deptHead} {
		repo.addUser(Snapshot(p))
	}
	return NewService(repo, NewMemoryPresence()), repo
}

func poolRequest(t *testing.T, svc Service) *ChatRequest {
	t.Helper()
	req, err := svc.CreateRequest(context.Background(), student, &CreateRequestInput{
		ToRole:  string(identity.RoleFrontOffice),
		Message: "I need help with my internship placement",
	})
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	return req
}

func directRequest(t *testing.T, svc Service, to identity.Principal) *ChatRequest {
	t.Helper()
	req, err := svc.CreateRequest(context.Background(), student, &CreateRequestInput{
		ToUserID: to.ID,
		Message:  "Question about the weekly report",
	})
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	return req
}

func TestCreateRequestTargetValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   CreateRequestInput
	}{
		{"no target", CreateRequestInput{Message: "hello"}},
		{"both targets", CreateRequestInput{ToUserID: instructor.ID, ToRole: "front-office", Message: "hello"}},
		{"empty message", CreateRequestInput{ToUserID: instructor.ID}},
		{"student target", CreateRequestInput{ToUserID: student2.ID, Message: "hello"}},
		{"unknown role", CreateRequestInput{ToRole: "instructor", Message: "hello"}},
		{"unknown user", CreateRequestInput{ToUserID: "nobody", Message: "hello"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.CreateRequest(ctx, student, &tc.in); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestCreateRequestDefaults(t *testing.T) {
	svc, _ := newTestService(t)

	req := poolRequest(t, svc)
	if req.Status != RequestPending {
		t.Fatalf("expected pending, got %s", req.Status)
	}
	if req.RequestType != "support" || req.Priority != "normal" {
		t.Fatalf("expected defaults, got type=%s priority=%s", req.RequestType, req.Priority)
	}
	if !req.Recipient().IsRolePool() {
		t.Fatal("expected a role-pool recipient")
	}
}

func TestAcceptCreatesConversation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	req := poolRequest(t, svc)

	accepted, conv, err := svc.AcceptRequest(ctx, req.ID, frontOffice, "on it")
	if err != nil {
		t.Fatalf("AcceptRequest: %v", err)
	}
	if accepted.Status != RequestAccepted {
		t.Fatalf("expected accepted, got %s", accepted.Status)
	}
	if accepted.AssignedTo == nil || accepted.AssignedTo.ID != frontOffice.ID {
		t.Fatalf("expected assignment to acceptor, got %+v", accepted.AssignedTo)
	}
	if accepted.ConversationID == nil || *accepted.ConversationID != conv.ID {
		t.Fatal("request not linked to the created conversation")
	}

	if !conv.IsActive || conv.Type != ConversationSupport {
		t.Fatalf("unexpected conversation: active=%v type=%s", conv.IsActive, conv.Type)
	}
	if !conv.HasParticipant(student.ID) || !conv.HasParticipant(frontOffice.ID) {
		t.Fatal("conversation must contain exactly requester and acceptor")
	}
	if len(conv.Participants) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(conv.Participants))
	}

	// The accept leaves a system marker in the transcript.
	msgs, err := svc.ListMessages(ctx, conv.ID, student, MessagePage{})
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Type != MessageSystem {
		t.Fatalf("expected one system message, got %d messages", len(msgs))
	}
}

func TestAcceptRaceHasOneWinner(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	req := poolRequest(t, svc)

	acceptors := []identity.Principal{frontOffice, frontTwo}
	const perAcceptor = 4

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0

	for i := 0; i < perAcceptor; i++ {
		for _, by := range acceptors {
			wg.Add(1)
			go func(by identity.Principal) {
				defer wg.Done()
				_, _, err := svc.AcceptRequest(ctx, req.ID, by, "")
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case errors.Is(err, ErrConflict):
					conflicts++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(by)
		}
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
	if conflicts != perAcceptor*len(acceptors)-1 {
		t.Fatalf("expected %d conflicts, got %d", perAcceptor*len(acceptors)-1, conflicts)
	}
}

func TestAcceptPermissions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	t.Run("wrong role on pool request", func(t *testing.T) {
		req := poolRequest(t, svc)
		if _, _, err := svc.AcceptRequest(ctx, req.ID, instructor, ""); !errors.Is(err, ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
	})

	t.Run("wrong user on direct request", func(t *testing.T) {
		req := directRequest(t, svc, instructor)
		if _, _, err := svc.AcceptRequest(ctx, req.ID, frontOffice, ""); !errors.Is(err, ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
	})

	t.Run("assigned to someone else", func(t *testing.T) {
		req := poolRequest(t, svc)
		if _, err := svc.AssignRequest(ctx, req.ID, frontTwo.ID, deptHead); err != nil {
			t.Fatalf("AssignRequest: %v", err)
		}
		if _, _, err := svc.AcceptRequest(ctx, req.ID, frontOffice, ""); !errors.Is(err, ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
		if _, _, err := svc.AcceptRequest(ctx, req.ID, frontTwo, ""); err != nil {
			t.Fatalf("assignee should be able to accept: %v", err)
		}
	})

	t.Run("missing request", func(t *testing.T) {
		if _, _, err := svc.AcceptRequest(ctx, "nope", frontOffice, ""); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestDeclineOutcomes(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	t.Run("recipient declines", func(t *testing.T) {
		req := directRequest(t, svc, instructor)
		resolved, err := svc.DeclineRequest(ctx, req.ID, instructor, "busy this week")
		if err != nil {
			t.Fatalf("DeclineRequest: %v", err)
		}
		if resolved.Status != RequestDeclined {
			t.Fatalf("expected declined, got %s", resolved.Status)
		}
	})

	t.Run("requester withdraws", func(t *testing.T) {
		req := poolRequest(t, svc)
		resolved, err := svc.DeclineRequest(ctx, req.ID, student, "")
		if err != nil {
			t.Fatalf("DeclineRequest: %v", err)
		}
		if resolved.Status != RequestCancelled {
			t.Fatalf("expected cancelled, got %s", resolved.Status)
		}
	})

	t.Run("outsider cannot decline", func(t *testing.T) {
		req := directRequest(t, svc, instructor)
		if _, err := svc.DeclineRequest(ctx, req.ID, frontOffice, ""); !errors.Is(err, ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
	})

	t.Run("already handled", func(t *testing.T) {
		req := poolRequest(t, svc)
		if _, _, err := svc.AcceptRequest(ctx, req.ID, frontOffice, ""); err != nil {
			t.Fatalf("AcceptRequest: %v", err)
		}
		if _, err := svc.DeclineRequest(ctx, req.ID, frontTwo, ""); !errors.Is(err, ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
	})
}

func TestAssignRequestRules(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	t.Run("direct requests cannot be assigned", func(t *testing.T) {
		req := directRequest(t, svc, instructor)
		if _, err := svc.AssignRequest(ctx, req.ID, frontOffice.ID, deptHead); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("student cannot assign", func(t *testing.T) {
		req := poolRequest(t, svc)
		if _, err := svc.AssignRequest(ctx, req.ID, frontOffice.ID, student2); !errors.Is(err, ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
	})

	t.Run("assignee must hold the pool role", func(t *testing.T) {
		req := poolRequest(t, svc)
		if _, err := svc.AssignRequest(ctx, req.ID, instructor.ID, frontOffice); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("pool member assigns a colleague", func(t *testing.T) {
		req := poolRequest(t, svc)
		assigned, err := svc.AssignRequest(ctx, req.ID, frontTwo.ID, frontOffice)
		if err != nil {
			t.Fatalf("AssignRequest: %v", err)
		}
		if assigned.AssignedTo == nil || assigned.AssignedTo.ID != frontTwo.ID {
			t.Fatalf("expected assignment to %s, got %+v", frontTwo.ID, assigned.AssignedTo)
		}
		if assigned.Status != RequestPending {
			t.Fatal("assignment must not leave pending")
		}
	})
}

func TestListRequestsDirections(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	pool := poolRequest(t, svc)
	direct := directRequest(t, svc, instructor)

	outgoing, err := svc.ListRequests(ctx, student, DirectionOutgoing, "", nil)
	if err != nil {
		t.Fatalf("ListRequests: %v", err)
	}
	if len(outgoing) != 2 {
		t.Fatalf("expected 2 outgoing, got %d", len(outgoing))
	}

	incoming, err := svc.ListRequests(ctx, frontOffice, DirectionIncoming, RequestPending, nil)
	if err != nil {
		t.Fatalf("ListRequests: %v", err)
	}
	if len(incoming) != 1 || incoming[0].ID != pool.ID {
		t.Fatalf("front office should see only the pool request, got %d", len(incoming))
	}

	incoming, err = svc.ListRequests(ctx, instructor, DirectionIncoming, "", nil)
	if err != nil {
		t.Fatalf("ListRequests: %v", err)
	}
	if len(incoming) != 1 || incoming[0].ID != direct.ID {
		t.Fatalf("instructor should see only the direct request, got %d", len(incoming))
	}

	// Once claimed, the pool request disappears for the other pool member.
	if _, _, err := svc.AcceptRequest(ctx, pool.ID, frontOffice, ""); err != nil {
		t.Fatalf("AcceptRequest: %v", err)
	}
	incoming, err = svc.ListRequests(ctx, frontTwo, DirectionIncoming, RequestPending, nil)
	if err != nil {
		t.Fatalf("ListRequests: %v", err)
	}
	if len(incoming) != 0 {
		t.Fatalf("claimed request still visible to colleague: %d", len(incoming))
	}

	if _, err := svc.ListRequests(ctx, student, "sideways", "", nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for bad direction, got %v", err)
	}
	if _, err := svc.ListRequests(ctx, student, DirectionAll, "bogus", nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for bad status, got %v", err)
	}
}

func TestExpireStaleRequests(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	stale := poolRequest(t, svc)
	fresh := poolRequest(t, svc)

	repo.mu.Lock()
	repo.requests[stale.ID].CreatedAt = time.Now().Add(-80 * time.Hour)
	repo.mu.Unlock()

	count, err := svc.ExpireStaleRequests(ctx, 72*time.Hour)
	if err != nil {
		t.Fatalf("ExpireStaleRequests: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 expired, got %d", count)
	}

	got, err := svc.ListRequests(ctx, student, DirectionOutgoing, RequestExpired, nil)
	if err != nil {
		t.Fatalf("ListRequests: %v", err)
	}
	if len(got) != 1 || got[0].ID != stale.ID {
		t.Fatal("stale request should be the only expired one")
	}

	// An expired request can no longer be claimed.
	if _, _, err := svc.AcceptRequest(ctx, stale.ID, frontOffice, ""); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if _, _, err := svc.AcceptRequest(ctx, fresh.ID, frontOffice, ""); err != nil {
		t.Fatalf("fresh request should still be claimable: %v", err)
	}
}

func TestCreateDirectConversationRules(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateDirectConversation(ctx, instructor, &CreateConversationInput{
		ParticipantIDs: []string{instructor.ID},
	}); !errors.Is(err, ErrValidation) {
		t.Fatalf("self conversation should fail validation, got %v", err)
	}

	if _, err := svc.CreateDirectConversation(ctx, student, &CreateConversationInput{
		ParticipantIDs: []string{student2.ID},
	}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("student-to-student should be forbidden, got %v", err)
	}

	conv, err := svc.CreateDirectConversation(ctx, instructor, &CreateConversationInput{
		ParticipantIDs: []string{student.ID},
		Title:          "Weekly check-in",
	})
	if err != nil {
		t.Fatalf("CreateDirectConversation: %v", err)
	}
	if conv.Type != ConversationDirect || len(conv.Participants) != 2 {
		t.Fatalf("unexpected conversation: type=%s participants=%d", conv.Type, len(conv.Participants))
	}
}

func supportConversation(t *testing.T, svc Service) *Conversation {
	t.Helper()
	req := poolRequest(t, svc)
	_, conv, err := svc.AcceptRequest(context.Background(), req.ID, frontOffice, "")
	if err != nil {
		t.Fatalf("AcceptRequest: %v", err)
	}
	return conv
}

func TestAppendMessage(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	conv := supportConversation(t, svc)

	t.Run("non-participant rejected", func(t *testing.T) {
		if _, err := svc.AppendMessage(ctx, conv.ID, instructor, &SendMessageInput{Content: "hi"}); !errors.Is(err, ErrNotParticipant) {
			t.Fatalf("expected ErrNotParticipant, got %v", err)
		}
	})

	t.Run("empty text rejected", func(t *testing.T) {
		if _, err := svc.AppendMessage(ctx, conv.ID, student, &SendMessageInput{}); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("file without caption gets placeholder", func(t *testing.T) {
		msg, err := svc.AppendMessage(ctx, conv.ID, student, &SendMessageInput{
			Attachment: &Attachment{OriginalName: "report.pdf", FileURL: "https://files/report.pdf"},
		})
		if err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
		if msg.Type != MessageFile {
			t.Fatalf("expected file message, got %s", msg.Type)
		}
		if !strings.Contains(msg.Content, "report.pdf") {
			t.Fatalf("placeholder should name the file, got %q", msg.Content)
		}
	})

	t.Run("unread counts track recipients only", func(t *testing.T) {
		if _, err := svc.AppendMessage(ctx, conv.ID, student, &SendMessageInput{Content: "first"}); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
		if _, err := svc.AppendMessage(ctx, conv.ID, student, &SendMessageInput{Content: "second"}); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}

		got, err := svc.GetConversation(ctx, conv.ID, frontOffice)
		if err != nil {
			t.Fatalf("GetConversation: %v", err)
		}
		// System opener + file + two texts, none sent by front office.
		if got.UnreadCount != 3 {
			t.Fatalf("expected unread 3 for recipient, got %d", got.UnreadCount)
		}

		mine, err := svc.GetConversation(ctx, conv.ID, student)
		if err != nil {
			t.Fatalf("GetConversation: %v", err)
		}
		if mine.UnreadCount != 1 {
			t.Fatalf("sender should only count the system opener, got %d", mine.UnreadCount)
		}
	})
}

func TestAppendToEndedConversation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	conv := supportConversation(t, svc)

	if _, err := svc.EndConversation(ctx, conv.ID, frontOffice, "resolved"); err != nil {
		t.Fatalf("EndConversation: %v", err)
	}

	if _, err := svc.AppendMessage(ctx, conv.ID, student, &SendMessageInput{Content: "one more thing"}); !errors.Is(err, ErrConversationClosed) {
		t.Fatalf("expected ErrConversationClosed, got %v", err)
	}
}

func TestEndConversationPermissions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	conv := supportConversation(t, svc)

	if _, err := svc.EndConversation(ctx, conv.ID, student, ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("students must not end conversations, got %v", err)
	}

	ended, err := svc.EndConversation(ctx, conv.ID, deptHead, "escalation resolved")
	if err != nil {
		t.Fatalf("EndConversation: %v", err)
	}
	if ended.IsActive || ended.EndedBy == nil || *ended.EndedBy != deptHead.ID {
		t.Fatalf("unexpected end state: %+v", ended)
	}

	if _, err := svc.EndConversation(ctx, conv.ID, frontOffice, ""); !errors.Is(err, ErrConflict) {
		t.Fatalf("ending twice should conflict, got %v", err)
	}
}

func TestConversationAccess(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	conv := supportConversation(t, svc)

	if _, err := svc.GetConversation(ctx, conv.ID, instructor); !errors.Is(err, ErrForbidden) {
		t.Fatalf("outsiders must not read, got %v", err)
	}

	// Department heads may audit without being participants.
	if _, err := svc.GetConversation(ctx, conv.ID, deptHead); err != nil {
		t.Fatalf("audit read failed: %v", err)
	}
	if _, err := svc.ListMessages(ctx, conv.ID, deptHead, MessagePage{}); err != nil {
		t.Fatalf("audit message read failed: %v", err)
	}

	if _, err := svc.GetConversation(ctx, "missing", student); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListConversationsFilter(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	open := supportConversation(t, svc)
	closed := supportConversation(t, svc)
	if _, err := svc.EndConversation(ctx, closed.ID, frontOffice, ""); err != nil {
		t.Fatalf("EndConversation: %v", err)
	}

	all, err := svc.ListConversations(ctx, student, nil)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(all))
	}

	active := true
	onlyActive, err := svc.ListConversations(ctx, student, &active)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(onlyActive) != 1 || onlyActive[0].ID != open.ID {
		t.Fatalf("active filter returned %d conversations", len(onlyActive))
	}
}

func TestMarkReadResetsUnread(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	conv := supportConversation(t, svc)

	var last *Message
	for _, content := range []string{"one", "two", "three"} {
		msg, err := svc.AppendMessage(ctx, conv.ID, student, &SendMessageInput{Content: content})
		if err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
		last = msg
	}

	if err := svc.MarkRead(ctx, conv.ID, instructor, last.ID); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
	if err := svc.MarkRead(ctx, conv.ID, frontOffice, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := svc.MarkRead(ctx, conv.ID, frontOffice, last.ID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	// Marking twice is a no-op, not an error.
	if err := svc.MarkRead(ctx, conv.ID, frontOffice, last.ID); err != nil {
		t.Fatalf("repeat MarkRead: %v", err)
	}

	count, err := svc.GetUnreadCount(ctx, frontOffice.ID)
	if err != nil {
		t.Fatalf("GetUnreadCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected unread 0 after read, got %d", count)
	}

	msgs, err := svc.ListMessages(ctx, conv.ID, student, MessagePage{})
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	final := msgs[len(msgs)-1]
	if len(final.ReadBy) != 1 || final.ReadBy[0].UserID != frontOffice.ID {
		t.Fatalf("expected one receipt from the reader, got %+v", final.ReadBy)
	}
}

func TestTotalUnreadSpansConversations(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first := supportConversation(t, svc)
	second := supportConversation(t, svc)

	if _, err := svc.AppendMessage(ctx, first.ID, frontOffice, &SendMessageInput{Content: "hello"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if _, err := svc.AppendMessage(ctx, second.ID, frontOffice, &SendMessageInput{Content: "hello again"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	// Each accept also left a system opener from the front office.
	count, err := svc.GetUnreadCount(ctx, student.ID)
	if err != nil {
		t.Fatalf("GetUnreadCount: %v", err)
	}
	if count != 4 {
		t.Fatalf("expected unread 4 across conversations, got %d", count)
	}
}

func TestListMessagesPagination(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	conv := supportConversation(t, svc)

	contents := []string{"m1", "m2", "m3", "m4", "m5"}
	ids := make([]string, 0, len(contents))
	for _, c := range contents {
		msg, err := svc.AppendMessage(ctx, conv.ID, student, &SendMessageInput{Content: c})
		if err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
		ids = append(ids, msg.ID)
	}

	// Default window is ascending and includes the system opener.
	all, err := svc.ListMessages(ctx, conv.ID, student, MessagePage{})
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(all) != len(contents)+1 {
		t.Fatalf("expected %d messages, got %d", len(contents)+1, len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].CreatedAt.Before(all[i-1].CreatedAt) {
			t.Fatal("messages out of order")
		}
	}

	before, err := svc.ListMessages(ctx, conv.ID, student, MessagePage{Before: ids[3], Limit: 2})
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(before) != 2 || before[0].Content != "m2" || before[1].Content != "m3" {
		t.Fatalf("before-window wrong: %+v", contentsOf(before))
	}

	after, err := svc.ListMessages(ctx, conv.ID, student, MessagePage{After: ids[2], Limit: 10})
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(after) != 2 || after[0].Content != "m4" || after[1].Content != "m5" {
		t.Fatalf("after-window wrong: %+v", contentsOf(after))
	}

	// No duplicates or gaps when walking pages.
	seen := map[string]bool{}
	cursor := ""
	for {
		page, err := svc.ListMessages(ctx, conv.ID, student, MessagePage{After: cursor, Limit: 2})
		if err != nil {
			t.Fatalf("ListMessages: %v", err)
		}
		if len(page) == 0 {
			break
		}
		for _, m := range page {
			if seen[m.ID] {
				t.Fatalf("message %s returned twice", m.ID)
			}
			seen[m.ID] = true
		}
		cursor = page[len(page)-1].ID
	}
	if len(seen) != len(contents)+1 {
		t.Fatalf("pagination walk covered %d of %d messages", len(seen), len(contents)+1)
	}
}

func contentsOf(msgs []*Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}

func TestListRequestsAssignedFilter(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	unassigned := poolRequest(t, svc)
	claimed := poolRequest(t, svc)
	if _, err := svc.AssignRequest(ctx, claimed.ID, frontOffice.ID, deptHead); err != nil {
		t.Fatalf("AssignRequest: %v", err)
	}

	assigned := true
	got, err := svc.ListRequests(ctx, frontOffice, DirectionIncoming, "", &assigned)
	if err != nil {
		t.Fatalf("ListRequests: %v", err)
	}
	if len(got) != 1 || got[0].ID != claimed.ID {
		t.Fatalf("expected only the claimed request, got %d", len(got))
	}

	unclaimed := false
	got, err = svc.ListRequests(ctx, frontOffice, DirectionIncoming, "", &unclaimed)
	if err != nil {
		t.Fatalf("ListRequests: %v", err)
	}
	if len(got) != 1 || got[0].ID != unassigned.ID {
		t.Fatalf("expected only the unclaimed request, got %d", len(got))
	}
}

func TestMessagePreviewKeepsRuneBoundary(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	conv := supportConversation(t, svc)

	// 50 three-byte runes: the 120-byte cut lands mid-character.
	long := strings.Repeat("ề", 50)
	if _, err := svc.AppendMessage(ctx, conv.ID, student, &SendMessageInput{Content: long}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	got, err := svc.GetConversation(ctx, conv.ID, student)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.LastMessagePreview == nil {
		t.Fatal("expected a last-message preview")
	}
	preview := *got.LastMessagePreview
	if !utf8.ValidString(preview) {
		t.Fatalf("preview holds invalid UTF-8: %q", preview)
	}
	if len(preview) > 120 {
		t.Fatalf("preview too long: %d bytes", len(preview))
	}
	if !strings.HasPrefix(long, preview) {
		t.Fatal("preview must be a prefix of the content")
	}
}

func TestEndConversationMarkerOnlyFromWinner(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	conv := supportConversation(t, svc)

	if _, err := svc.EndConversation(ctx, conv.ID, frontOffice, "resolved"); err != nil {
		t.Fatalf("EndConversation: %v", err)
	}

	msgs, err := svc.ListMessages(ctx, conv.ID, student, MessagePage{})
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	last := msgs[len(msgs)-1]
	if last.Type != MessageSystem || !strings.Contains(last.Content, "ended the conversation") {
		t.Fatalf("expected an end marker, got %q", last.Content)
	}
	count := len(msgs)

	// Losing the end race must not leave a second marker.
	if _, err := svc.EndConversation(ctx, conv.ID, deptHead, "stale close"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	msgs, err = svc.ListMessages(ctx, conv.ID, student, MessagePage{})
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != count {
		t.Fatalf("transcript grew from %d to %d messages", count, len(msgs))
	}
}
