// internal/chat/postgres.go

package chat

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/internlink/internhub-backend/internal/identity"
)

type postgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

// Row structs mirror table columns; conversion to the wire models happens
// in one place so nullability stays at the edge.

type requestRow struct {
	ID              string         `db:"id"`
	FromUserID      string         `db:"from_user_id"`
	FromUserName    string         `db:"from_user_name"`
	FromUserRole    string         `db:"from_user_role"`
	ToUserID        sql.NullString `db:"to_user_id"`
	ToUserName      sql.NullString `db:"to_user_name"`
	ToRole          string         `db:"to_role"`
	Message         string         `db:"message"`
	Subject         sql.NullString `db:"subject"`
	RequestType     string         `db:"request_type"`
	Priority        string         `db:"priority"`
	Status          string         `db:"status"`
	AssignedToID    sql.NullString `db:"assigned_to_id"`
	AssignedToName  sql.NullString `db:"assigned_to_name"`
	AssignedToRole  sql.NullString `db:"assigned_to_role"`
	ConversationID  sql.NullString `db:"conversation_id"`
	ResponseMessage sql.NullString `db:"response_message"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
	RespondedAt     *time.Time     `db:"responded_at"`
}

const requestColumns = `id, from_user_id, from_user_name, from_user_role,
	to_user_id, to_user_name, to_role, message, subject, request_type,
	priority, status, assigned_to_id, assigned_to_name, assigned_to_role,
	conversation_id, response_message, created_at, updated_at, responded_at`

func (r *requestRow) toModel() *ChatRequest {
	req := &ChatRequest{
		ID: r.ID,
		FromUser: ChatUser{
			ID:   r.FromUserID,
			Name: r.FromUserName,
			Role: identity.Role(r.FromUserRole),
		},
		ToUser: ChatUser{
			ID:   r.ToUserID.String,
			Name: r.ToUserName.String,
			Role: identity.Role(r.ToRole),
		},
		Message:         r.Message,
		Subject:         r.Subject.String,
		RequestType:     r.RequestType,
		Priority:        r.Priority,
		Status:          RequestStatus(r.Status),
		ResponseMessage: r.ResponseMessage.String,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		RespondedAt:     r.RespondedAt,
	}
	if r.AssignedToID.Valid {
		req.AssignedTo = &ChatUser{
			ID:   r.AssignedToID.String,
			Name: r.AssignedToName.String,
			Role: identity.Role(r.AssignedToRole.String),
		}
		req.IsAssigned = true
	}
	if r.ConversationID.Valid {
		id := r.ConversationID.String
		req.ConversationID = &id
	}
	return req
}

type conversationRow struct {
	ID                 string         `db:"id"`
	Type               string         `db:"type"`
	Title              sql.NullString `db:"title"`
	IsActive           bool           `db:"is_active"`
	CreatedBy          string         `db:"created_by"`
	EndedBy            sql.NullString `db:"ended_by"`
	EndedAt            *time.Time     `db:"ended_at"`
	EndReason          sql.NullString `db:"end_reason"`
	LastMessagePreview sql.NullString `db:"last_message_preview"`
	LastMessageAt      *time.Time     `db:"last_message_at"`
	MessageCount       int            `db:"message_count"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

const conversationColumns = `id, type, title, is_active, created_by, ended_by,
	ended_at, end_reason, last_message_preview, last_message_at,
	message_count, created_at, updated_at`

func (c *conversationRow) toModel() *Conversation {
	conv := &Conversation{
		ID:            c.ID,
		Type:          ConversationType(c.Type),
		Title:         c.Title.String,
		IsActive:      c.IsActive,
		CreatedBy:     c.CreatedBy,
		EndedAt:       c.EndedAt,
		EndReason:     c.EndReason.String,
		LastMessageAt: c.LastMessageAt,
		MessageCount:  c.MessageCount,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
	if c.EndedBy.Valid {
		endedBy := c.EndedBy.String
		conv.EndedBy = &endedBy
	}
	if c.LastMessagePreview.Valid {
		preview := c.LastMessagePreview.String
		conv.LastMessagePreview = &preview
	}
	return conv
}

type participantRow struct {
	ConversationID    string     `db:"conversation_id"`
	UserID            string     `db:"user_id"`
	UserName          string     `db:"user_name"`
	UserRole          string     `db:"user_role"`
	JoinedAt          time.Time  `db:"joined_at"`
	LastReadAt        *time.Time `db:"last_read_at"`
	LastReadMessageID sql.NullString `db:"last_read_message_id"`
	UnreadCount       int        `db:"unread_count"`
}

func (p *participantRow) toModel() *Participant {
	part := &Participant{
		ConversationID: p.ConversationID,
		User: ChatUser{
			ID:   p.UserID,
			Name: p.UserName,
			Role: identity.Role(p.UserRole),
		},
		JoinedAt:    p.JoinedAt,
		LastReadAt:  p.LastReadAt,
		UnreadCount: p.UnreadCount,
	}
	if p.LastReadMessageID.Valid {
		id := p.LastReadMessageID.String
		part.LastReadMessageID = &id
	}
	return part
}

type messageRow struct {
	ID             string         `db:"id"`
	ConversationID string         `db:"conversation_id"`
	SenderID       string         `db:"sender_id"`
	SenderName     string         `db:"sender_name"`
	SenderRole     string         `db:"sender_role"`
	Content        string         `db:"content"`
	MessageType    string         `db:"message_type"`
	FileName       sql.NullString `db:"file_name"`
	OriginalName   sql.NullString `db:"original_name"`
	FileURL        sql.NullString `db:"file_url"`
	FileSize       sql.NullInt64  `db:"file_size"`
	MimeType       sql.NullString `db:"mime_type"`
	CreatedAt      time.Time      `db:"created_at"`
}

const messageColumns = `id, conversation_id, sender_id, sender_name,
	sender_role, content, message_type, file_name, original_name, file_url,
	file_size, mime_type, created_at`

func (m *messageRow) toModel() *Message {
	msg := &Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		SenderName:     m.SenderName,
		SenderRole:     identity.Role(m.SenderRole),
		Content:        m.Content,
		Type:           MessageType(m.MessageType),
		CreatedAt:      m.CreatedAt,
	}
	if m.FileURL.Valid {
		msg.Attachment = &Attachment{
			FileName:     m.FileName.String,
			OriginalName: m.OriginalName.String,
			FileURL:      m.FileURL.String,
			FileSize:     m.FileSize.Int64,
			MimeType:     m.MimeType.String,
		}
	}
	return msg
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

// Requests

func (r *postgresRepository) CreateRequest(ctx context.Context, req *ChatRequest) error {
	query := `
		INSERT INTO chat_requests (
			id, from_user_id, from_user_name, from_user_role,
			to_user_id, to_user_name, to_role, message, subject,
			request_type, priority, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)`

	_, err := r.db.ExecContext(ctx, query,
		req.ID, req.FromUser.ID, req.FromUser.Name, string(req.FromUser.Role),
		nullString(req.ToUser.ID), nullString(req.ToUser.Name), string(req.ToUser.Role),
		req.Message, nullString(req.Subject), req.RequestType, req.Priority,
		string(req.Status), req.CreatedAt,
	)
	return err
}

func (r *postgresRepository) GetRequest(ctx context.Context, id string) (*ChatRequest, error) {
	var row requestRow
	query := fmt.Sprintf(`SELECT %s FROM chat_requests WHERE id = $1`, requestColumns)
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toModel(), nil
}

func (r *postgresRepository) ListIncomingRequests(ctx context.Context, userID string, role identity.Role, status RequestStatus, isAssigned *bool) ([]*ChatRequest, error) {
	// Direct requests to the user, plus shared-queue requests for the
	// user's role that are unclaimed or claimed by the user.
	query := fmt.Sprintf(`
		SELECT %s FROM chat_requests
		WHERE (to_user_id = $1
			OR (to_user_id IS NULL AND to_role = $2
				AND (assigned_to_id IS NULL OR assigned_to_id = $1)))
		AND ($3 = '' OR status = $3)
		AND ($4::boolean IS NULL OR (assigned_to_id IS NOT NULL) = $4)
		ORDER BY created_at DESC`, requestColumns)

	var rows []requestRow
	if err := r.db.SelectContext(ctx, &rows, query, userID, string(role), string(status), nullBool(isAssigned)); err != nil {
		return nil, err
	}
	return requestModels(rows), nil
}

func (r *postgresRepository) ListOutgoingRequests(ctx context.Context, userID string, status RequestStatus, isAssigned *bool) ([]*ChatRequest, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM chat_requests
		WHERE from_user_id = $1 AND ($2 = '' OR status = $2)
		AND ($3::boolean IS NULL OR (assigned_to_id IS NOT NULL) = $3)
		ORDER BY created_at DESC`, requestColumns)

	var rows []requestRow
	if err := r.db.SelectContext(ctx, &rows, query, userID, string(status), nullBool(isAssigned)); err != nil {
		return nil, err
	}
	return requestModels(rows), nil
}

func requestModels(rows []requestRow) []*ChatRequest {
	requests := make([]*ChatRequest, 0, len(rows))
	for i := range rows {
		requests = append(requests, rows[i].toModel())
	}
	return requests
}

func (r *postgresRepository) AcceptRequest(ctx context.Context, requestID string, acceptor ChatUser, responseMessage string, conv *Conversation) (*ChatRequest, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now()

	// The WHERE clause is the whole concurrency story: only one caller can
	// move the row out of pending, and only the assignee when assigned.
	query := fmt.Sprintf(`
		UPDATE chat_requests
		SET status = 'accepted',
			assigned_to_id = $2, assigned_to_name = $3, assigned_to_role = $4,
			response_message = $5, conversation_id = $6,
			responded_at = $7, updated_at = $7
		WHERE id = $1 AND status = 'pending'
			AND (assigned_to_id IS NULL OR assigned_to_id = $2)
		RETURNING %s`, requestColumns)

	var row requestRow
	err = tx.GetContext(ctx, &row, query,
		requestID, acceptor.ID, acceptor.Name, string(acceptor.Role),
		nullString(responseMessage), conv.ID, now,
	)
	if err == sql.ErrNoRows {
		return nil, r.classifyRequestLoss(ctx, requestID, acceptor.ID)
	}
	if err != nil {
		return nil, err
	}

	if err := insertConversationTx(ctx, tx, conv); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

// classifyRequestLoss turns a failed conditional update into the precise
// error the caller should see.
func (r *postgresRepository) classifyRequestLoss(ctx context.Context, requestID, callerID string) error {
	current, err := r.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if current.Status != RequestPending {
		return ErrConflict
	}
	if current.AssignedTo != nil && current.AssignedTo.ID != callerID {
		return ErrForbidden
	}
	return ErrConflict
}

func (r *postgresRepository) ResolveRequest(ctx context.Context, requestID string, to RequestStatus, by ChatUser, responseMessage string) (*ChatRequest, error) {
	now := time.Now()
	query := fmt.Sprintf(`
		UPDATE chat_requests
		SET status = $2, response_message = $3, responded_at = $4, updated_at = $4
		WHERE id = $1 AND status = 'pending'
		RETURNING %s`, requestColumns)

	var row requestRow
	err := r.db.GetContext(ctx, &row, query, requestID, string(to), nullString(responseMessage), now)
	if err == sql.ErrNoRows {
		if _, getErr := r.GetRequest(ctx, requestID); getErr != nil {
			return nil, getErr
		}
		return nil, ErrConflict
	}
	if err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

func (r *postgresRepository) AssignRequest(ctx context.Context, requestID string, assignee ChatUser) (*ChatRequest, error) {
	query := fmt.Sprintf(`
		UPDATE chat_requests
		SET assigned_to_id = $2, assigned_to_name = $3, assigned_to_role = $4,
			updated_at = $5
		WHERE id = $1 AND status = 'pending'
		RETURNING %s`, requestColumns)

	var row requestRow
	err := r.db.GetContext(ctx, &row, query,
		requestID, assignee.ID, assignee.Name, string(assignee.Role), time.Now())
	if err == sql.ErrNoRows {
		if _, getErr := r.GetRequest(ctx, requestID); getErr != nil {
			return nil, getErr
		}
		return nil, ErrConflict
	}
	if err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

func (r *postgresRepository) ExpireRequests(ctx context.Context, cutoff time.Time) ([]*ChatRequest, error) {
	query := fmt.Sprintf(`
		UPDATE chat_requests
		SET status = 'expired', updated_at = $2
		WHERE status = 'pending' AND created_at < $1
		RETURNING %s`, requestColumns)

	var rows []requestRow
	if err := r.db.SelectContext(ctx, &rows, query, cutoff, time.Now()); err != nil {
		return nil, err
	}
	return requestModels(rows), nil
}

// Conversations

func insertConversationTx(ctx context.Context, tx *sqlx.Tx, conv *Conversation) error {
	query := `
		INSERT INTO conversations (
			id, type, title, is_active, created_by, message_count,
			created_at, updated_at
		) VALUES ($1, $2, $3, TRUE, $4, 0, $5, $5)`

	if _, err := tx.ExecContext(ctx, query,
		conv.ID, string(conv.Type), nullString(conv.Title), conv.CreatedBy, conv.CreatedAt,
	); err != nil {
		return err
	}

	for _, p := range conv.Participants {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_participants (
				conversation_id, user_id, user_name, user_role,
				joined_at, unread_count
			) VALUES ($1, $2, $3, $4, $5, 0)`,
			conv.ID, p.User.ID, p.User.Name, string(p.User.Role), p.JoinedAt,
		); err != nil {
			return err
		}
	}
	return nil
}

func (r *postgresRepository) CreateConversation(ctx context.Context, conv *Conversation) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertConversationTx(ctx, tx, conv); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *postgresRepository) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var row conversationRow
	query := fmt.Sprintf(`SELECT %s FROM conversations WHERE id = $1`, conversationColumns)
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}

	conv := row.toModel()
	participants, err := r.GetParticipants(ctx, id)
	if err != nil {
		return nil, err
	}
	conv.Participants = participants
	return conv, nil
}

func (r *postgresRepository) ListConversationsForUser(ctx context.Context, userID string, isActive *bool) ([]*Conversation, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM conversations c
		WHERE EXISTS (
			SELECT 1 FROM conversation_participants cp
			WHERE cp.conversation_id = c.id AND cp.user_id = $1
		)
		AND ($2::boolean IS NULL OR c.is_active = $2)
		ORDER BY c.updated_at DESC`, prefixColumns("c", conversationColumns))

	var rows []conversationRow
	if err := r.db.SelectContext(ctx, &rows, query, userID, nullBool(isActive)); err != nil {
		return nil, err
	}

	conversations := make([]*Conversation, 0, len(rows))
	for i := range rows {
		conv := rows[i].toModel()
		participants, err := r.GetParticipants(ctx, conv.ID)
		if err != nil {
			return nil, err
		}
		conv.Participants = participants
		for _, p := range participants {
			if p.User.ID == userID {
				conv.UnreadCount = p.UnreadCount
			}
		}
		conversations = append(conversations, conv)
	}
	return conversations, nil
}

func (r *postgresRepository) EndConversation(ctx context.Context, id string, by ChatUser, reason string, marker *Message) (*Conversation, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now()
	query := fmt.Sprintf(`
		UPDATE conversations
		SET is_active = FALSE, ended_by = $2, ended_at = $3,
			end_reason = $4, updated_at = $3
		WHERE id = $1 AND is_active = TRUE
		RETURNING %s`, conversationColumns)

	var row conversationRow
	err = tx.GetContext(ctx, &row, query, id, by.ID, now, nullString(reason))
	if err == sql.ErrNoRows {
		if _, getErr := r.GetConversation(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrConflict
	}
	if err != nil {
		return nil, err
	}

	if marker != nil {
		if err := insertMessageTx(ctx, tx, marker); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE conversations
			SET message_count = message_count + 1,
				last_message_preview = $2, last_message_at = $3
			WHERE id = $1`,
			id, previewOf(marker.Content), marker.CreatedAt,
		); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE conversation_participants
			SET unread_count = unread_count + 1
			WHERE conversation_id = $1 AND user_id <> $2`,
			id, marker.SenderID,
		); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	conv := row.toModel()
	participants, err := r.GetParticipants(ctx, id)
	if err != nil {
		return nil, err
	}
	conv.Participants = participants
	return conv, nil
}

func (r *postgresRepository) GetParticipants(ctx context.Context, convID string) ([]*Participant, error) {
	var rows []participantRow
	query := `
		SELECT conversation_id, user_id, user_name, user_role, joined_at,
			last_read_at, last_read_message_id, unread_count
		FROM conversation_participants
		WHERE conversation_id = $1
		ORDER BY joined_at`

	if err := r.db.SelectContext(ctx, &rows, query, convID); err != nil {
		return nil, err
	}

	participants := make([]*Participant, 0, len(rows))
	for i := range rows {
		participants = append(participants, rows[i].toModel())
	}
	return participants, nil
}

func (r *postgresRepository) IsParticipant(ctx context.Context, userID, convID string) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS(
			SELECT 1 FROM conversation_participants
			WHERE conversation_id = $1 AND user_id = $2
		)`
	err := r.db.QueryRowContext(ctx, query, convID, userID).Scan(&exists)
	return exists, err
}

// Messages

// previewOf trims content to the list-screen summary. The cut backs up to a
// rune boundary: Postgres rejects text columns holding invalid UTF-8.
func previewOf(content string) string {
	const max = 120
	if len(content) <= max {
		return content
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut]
}

func (r *postgresRepository) CreateMessage(ctx context.Context, m *Message) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Guard and summary update in one statement: zero rows means the
	// conversation is gone or already ended.
	preview := previewOf(m.Content)
	result, err := tx.ExecContext(ctx, `
		UPDATE conversations
		SET message_count = message_count + 1,
			last_message_preview = $2, last_message_at = $3, updated_at = $3
		WHERE id = $1 AND is_active = TRUE`,
		m.ConversationID, preview, m.CreatedAt,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM conversations WHERE id = $1)`,
			m.ConversationID,
		).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrConversationClosed
	}

	if err := insertMessageTx(ctx, tx, m); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE conversation_participants
		SET unread_count = unread_count + 1
		WHERE conversation_id = $1 AND user_id <> $2`,
		m.ConversationID, m.SenderID,
	); err != nil {
		return err
	}

	return tx.Commit()
}

func insertMessageTx(ctx context.Context, tx *sqlx.Tx, m *Message) error {
	var attachment Attachment
	if m.Attachment != nil {
		attachment = *m.Attachment
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO messages (
			id, conversation_id, sender_id, sender_name, sender_role,
			content, message_type, file_name, original_name, file_url,
			file_size, mime_type, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		m.ID, m.ConversationID, m.SenderID, m.SenderName, string(m.SenderRole),
		m.Content, string(m.Type),
		nullString(attachment.FileName), nullString(attachment.OriginalName),
		nullString(attachment.FileURL),
		sql.NullInt64{Int64: attachment.FileSize, Valid: m.Attachment != nil},
		nullString(attachment.MimeType), m.CreatedAt,
	)
	return err
}

func (r *postgresRepository) GetMessage(ctx context.Context, id string) (*Message, error) {
	var row messageRow
	query := fmt.Sprintf(`SELECT %s FROM messages WHERE id = $1`, messageColumns)
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}

	msg := row.toModel()
	if err := r.loadReceipts(ctx, []*Message{msg}); err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *postgresRepository) ListMessages(ctx context.Context, convID string, page MessagePage) ([]*Message, error) {
	limit := page.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var rows []messageRow
	var err error
	switch {
	case page.Before != "":
		// The window immediately preceding the cursor, returned ascending.
		query := fmt.Sprintf(`
			SELECT %s FROM messages m
			WHERE m.conversation_id = $1
				AND (m.created_at, m.id) < (SELECT created_at, id FROM messages WHERE id = $2)
			ORDER BY m.created_at DESC, m.id DESC
			LIMIT $3`, prefixColumns("m", messageColumns))
		err = r.db.SelectContext(ctx, &rows, query, convID, page.Before, limit)
		reverseRows(rows)
	case page.After != "":
		query := fmt.Sprintf(`
			SELECT %s FROM messages m
			WHERE m.conversation_id = $1
				AND (m.created_at, m.id) > (SELECT created_at, id FROM messages WHERE id = $2)
			ORDER BY m.created_at, m.id
			LIMIT $3`, prefixColumns("m", messageColumns))
		err = r.db.SelectContext(ctx, &rows, query, convID, page.After, limit)
	default:
		query := fmt.Sprintf(`
			SELECT %s FROM messages m
			WHERE m.conversation_id = $1
			ORDER BY m.created_at, m.id
			LIMIT $2`, prefixColumns("m", messageColumns))
		err = r.db.SelectContext(ctx, &rows, query, convID, limit)
	}
	if err != nil {
		return nil, err
	}

	messages := make([]*Message, 0, len(rows))
	for i := range rows {
		messages = append(messages, rows[i].toModel())
	}
	if err := r.loadReceipts(ctx, messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func reverseRows(rows []messageRow) {
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
}

func (r *postgresRepository) loadReceipts(ctx context.Context, messages []*Message) error {
	if len(messages) == 0 {
		return nil
	}

	ids := make([]string, 0, len(messages))
	byID := make(map[string]*Message, len(messages))
	for _, m := range messages {
		ids = append(ids, m.ID)
		byID[m.ID] = m
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT message_id, user_id, user_name, read_at
		FROM message_receipts
		WHERE message_id = ANY($1)
		ORDER BY read_at`, pq.Array(ids))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var messageID string
		var receipt Receipt
		if err := rows.Scan(&messageID, &receipt.UserID, &receipt.UserName, &receipt.ReadAt); err != nil {
			return err
		}
		if msg, ok := byID[messageID]; ok {
			msg.ReadBy = append(msg.ReadBy, &receipt)
		}
	}
	return rows.Err()
}

func (r *postgresRepository) MarkRead(ctx context.Context, convID, messageID string, reader ChatUser, at time.Time) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var msgConvID string
	err = tx.QueryRowContext(ctx,
		`SELECT conversation_id FROM messages WHERE id = $1`, messageID,
	).Scan(&msgConvID)
	if err == sql.ErrNoRows || (err == nil && msgConvID != convID) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO message_receipts (message_id, user_id, user_name, read_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (message_id, user_id) DO NOTHING`,
		messageID, reader.ID, reader.Name, at,
	); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE conversation_participants
		SET unread_count = 0, last_read_at = $3, last_read_message_id = $4
		WHERE conversation_id = $1 AND user_id = $2`,
		convID, reader.ID, at, messageID,
	); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *postgresRepository) TotalUnread(ctx context.Context, userID string) (int, error) {
	var total int
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(unread_count), 0)
		FROM conversation_participants
		WHERE user_id = $1`, userID,
	).Scan(&total)
	return total, err
}

// Directory

func (r *postgresRepository) GetUserInfo(ctx context.Context, userID string) (*ChatUser, error) {
	var user ChatUser
	var role string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, display_name, role FROM users WHERE id = $1`, userID,
	).Scan(&user.ID, &user.Name, &role)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	user.Role = identity.Role(role)
	return &user, nil
}

// prefixColumns qualifies a comma-separated column list with a table alias.
func prefixColumns(alias, columns string) string {
	cols := strings.Split(columns, ",")
	for i, col := range cols {
		cols[i] = alias + "." + strings.TrimSpace(col)
	}
	return strings.Join(cols, ", ")
}
