// internal/chat/errors.go

package chat

import "errors"

var (
	// ErrNotFound: unknown request, conversation or message id.
	ErrNotFound = errors.New("not found")

	// ErrValidation: malformed input (empty message, unknown target, bad role).
	ErrValidation = errors.New("validation failed")

	// ErrForbidden: the principal may not perform the operation, e.g. a
	// non-participant reading messages or a non-assignee accepting.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict: an optimistic-concurrency loss. The request was already
	// resolved or the conversation already ended by a concurrent caller.
	// Expected under the shared-queue design, not exceptional.
	ErrConflict = errors.New("already resolved by another update")

	// ErrConversationClosed: append attempted on an ended conversation.
	ErrConversationClosed = errors.New("conversation has ended")

	// ErrNotParticipant: the principal is not a member of the conversation.
	ErrNotParticipant = errors.New("not a participant in this conversation")
)
