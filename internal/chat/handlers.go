// internal/chat/handlers.go

package chat

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/internlink/internhub-backend/internal/common/utils"
	"github.com/internlink/internhub-backend/internal/identity"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS for the channel is enforced at the proxy
		return true
	},
}

type Handler struct {
	service  Service
	hub      *Hub
	verifier identity.Verifier
	blobs    BlobStore
}

func NewHandler(service Service, hub *Hub, verifier identity.Verifier, blobs BlobStore) *Handler {
	return &Handler{
		service:  service,
		hub:      hub,
		verifier: verifier,
		blobs:    blobs,
	}
}

// HandleWebSocket upgrades the connection. The channel stays deaf until the
// client's authenticate event is verified.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := NewClient(h.hub, conn, h.verifier, h.service)
	client.Start()
}

// CreateRequest opens a new chat request against a user or a role pool.
func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	principal, ok := identity.PrincipalFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var in CreateRequestInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		utils.ErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := utils.ValidateStruct(&in); err != nil {
		utils.ErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	request, err := h.service.CreateRequest(r.Context(), principal, &in)
	if err != nil {
		h.respondError(w, err)
		return
	}

	utils.SuccessResponse(w, request, http.StatusCreated)
}

// ListRequests returns the caller's requests filtered by direction/status.
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	principal, ok := identity.PrincipalFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	direction := ListDirection(r.URL.Query().Get("direction"))
	status := RequestStatus(r.URL.Query().Get("status"))

	var isAssigned *bool
	if raw := r.URL.Query().Get("isAssigned"); raw != "" {
		assigned, err := strconv.ParseBool(raw)
		if err != nil {
			utils.ErrorResponse(w, "Invalid isAssigned value", http.StatusBadRequest)
			return
		}
		isAssigned = &assigned
	}

	requests, err := h.service.ListRequests(r.Context(), principal, direction, status, isAssigned)
	if err != nil {
		h.respondError(w, err)
		return
	}

	utils.SuccessResponse(w, requests, http.StatusOK)
}

// AcceptRequest claims a pending request. A lost race comes back as 409 so
// the client can show "already handled" and refresh.
func (h *Handler) AcceptRequest(w http.ResponseWriter, r *http.Request) {
	principal, ok := identity.PrincipalFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	in, err := decodeOptionalResponse(r.Body)
	if err != nil {
		utils.ErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	request, conversation, err := h.service.AcceptRequest(r.Context(), mux.Vars(r)["id"], principal, in.ResponseMessage)
	if err != nil {
		h.respondError(w, err)
		return
	}

	utils.SuccessResponse(w, map[string]interface{}{
		"request":      request,
		"conversation": conversation,
	}, http.StatusOK)
}

func (h *Handler) DeclineRequest(w http.ResponseWriter, r *http.Request) {
	principal, ok := identity.PrincipalFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	in, err := decodeOptionalResponse(r.Body)
	if err != nil {
		utils.ErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	request, err := h.service.DeclineRequest(r.Context(), mux.Vars(r)["id"], principal, in.ResponseMessage)
	if err != nil {
		h.respondError(w, err)
		return
	}

	utils.SuccessResponse(w, request, http.StatusOK)
}

func (h *Handler) AssignRequest(w http.ResponseWriter, r *http.Request) {
	principal, ok := identity.PrincipalFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var in AssignRequestInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		utils.ErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := utils.ValidateStruct(&in); err != nil {
		utils.ErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	request, err := h.service.AssignRequest(r.Context(), mux.Vars(r)["id"], in.AssignToUserID, principal)
	if err != nil {
		h.respondError(w, err)
		return
	}

	utils.SuccessResponse(w, request, http.StatusOK)
}

func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	principal, ok := identity.PrincipalFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var isActive *bool
	if raw := r.URL.Query().Get("isActive"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			utils.ErrorResponse(w, "Invalid isActive value", http.StatusBadRequest)
			return
		}
		isActive = &active
	}

	conversations, err := h.service.ListConversations(r.Context(), principal, isActive)
	if err != nil {
		h.respondError(w, err)
		return
	}

	utils.SuccessResponse(w, conversations, http.StatusOK)
}

func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	principal, ok := identity.PrincipalFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var in CreateConversationInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		utils.ErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := utils.ValidateStruct(&in); err != nil {
		utils.ErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	conversation, err := h.service.CreateDirectConversation(r.Context(), principal, &in)
	if err != nil {
		h.respondError(w, err)
		return
	}

	utils.SuccessResponse(w, conversation, http.StatusCreated)
}

func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	principal, ok := identity.PrincipalFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conversation, err := h.service.GetConversation(r.Context(), mux.Vars(r)["id"], principal)
	if err != nil {
		h.respondError(w, err)
		return
	}

	utils.SuccessResponse(w, conversation, http.StatusOK)
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	principal, ok := identity.PrincipalFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	page := MessagePage{
		Before: r.URL.Query().Get("before"),
		After:  r.URL.Query().Get("after"),
		Limit:  limit,
	}

	messages, err := h.service.ListMessages(r.Context(), mux.Vars(r)["id"], principal, page)
	if err != nil {
		h.respondError(w, err)
		return
	}

	utils.SuccessResponse(w, messages, http.StatusOK)
}

// SendMessage appends a message. Multipart bodies may carry an attachment,
// which goes to the blob store first.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	principal, ok := identity.PrincipalFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var in SendMessageInput
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			utils.ErrorResponse(w, "Invalid multipart body", http.StatusBadRequest)
			return
		}
		in.Content = r.FormValue("content")
		in.Type = MessageType(r.FormValue("type"))

		file, header, err := r.FormFile("attachment")
		if err == nil {
			defer file.Close()
			attachment, uploadErr := h.blobs.Upload(r.Context(), file, header)
			if uploadErr != nil {
				h.respondError(w, uploadErr)
				return
			}
			in.Attachment = attachment
		}
	} else {
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			utils.ErrorResponse(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	message, err := h.service.AppendMessage(r.Context(), mux.Vars(r)["id"], principal, &in)
	if err != nil {
		h.respondError(w, err)
		return
	}

	utils.SuccessResponse(w, message, http.StatusCreated)
}

func (h *Handler) EndConversation(w http.ResponseWriter, r *http.Request) {
	principal, ok := identity.PrincipalFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var in EndConversationInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil && err != io.EOF {
		utils.ErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	conversation, err := h.service.EndConversation(r.Context(), mux.Vars(r)["id"], principal, in.Reason)
	if err != nil {
		h.respondError(w, err)
		return
	}

	utils.SuccessResponse(w, conversation, http.StatusOK)
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	principal, ok := identity.PrincipalFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var in MarkReadInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		utils.ErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := utils.ValidateStruct(&in); err != nil {
		utils.ErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.service.MarkRead(r.Context(), mux.Vars(r)["id"], principal, in.MessageID); err != nil {
		h.respondError(w, err)
		return
	}

	utils.SuccessResponse(w, map[string]string{"status": "read"}, http.StatusOK)
}

func (h *Handler) GetUnreadCount(w http.ResponseWriter, r *http.Request) {
	principal, ok := identity.PrincipalFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	count, err := h.service.GetUnreadCount(r.Context(), principal.ID)
	if err != nil {
		h.respondError(w, err)
		return
	}

	utils.SuccessResponse(w, map[string]int{"unread_count": count}, http.StatusOK)
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	utils.SuccessResponse(w, map[string]interface{}{
		"status":          "ok",
		"active_channels": h.hub.ActiveChannels(),
	}, http.StatusOK)
}

// respondError maps the error taxonomy onto HTTP statuses. A lost accept
// race is an expected outcome: 409 with a message the UI can show as-is.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		utils.ErrorResponse(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrNotParticipant):
		utils.ErrorResponse(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, ErrNotFound):
		utils.ErrorResponse(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrConflict):
		utils.ErrorResponse(w, "This request was already handled", http.StatusConflict)
	case errors.Is(err, ErrConversationClosed):
		utils.ErrorResponse(w, err.Error(), http.StatusConflict)
	default:
		utils.ErrorResponse(w, "Internal server error", http.StatusInternalServerError)
	}
}

// decodeOptionalResponse tolerates an empty body on accept/decline.
func decodeOptionalResponse(body io.Reader) (RespondRequestInput, error) {
	var in RespondRequestInput
	err := json.NewDecoder(body).Decode(&in)
	if err != nil && err != io.EOF {
		return in, err
	}
	return in, nil
}
