// internal/chat/routes.go

package chat

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterRoutes mounts the chat REST surface and the websocket endpoint.
// The websocket route is deliberately outside the auth middleware: channels
// authenticate in-band with their first event.
func RegisterRoutes(router *mux.Router, handler *Handler, authMiddleware mux.MiddlewareFunc) {
	router.HandleFunc("/ws", handler.HandleWebSocket).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1/chat").Subrouter()
	api.Use(authMiddleware)

	// Request ledger
	api.HandleFunc("/requests", handler.CreateRequest).Methods(http.MethodPost)
	api.HandleFunc("/requests", handler.ListRequests).Methods(http.MethodGet)
	api.HandleFunc("/requests/{id}/accept", handler.AcceptRequest).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}/decline", handler.DeclineRequest).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}/assign", handler.AssignRequest).Methods(http.MethodPost)

	// Conversations
	api.HandleFunc("/conversations", handler.ListConversations).Methods(http.MethodGet)
	api.HandleFunc("/conversations", handler.CreateConversation).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}", handler.GetConversation).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}/messages", handler.ListMessages).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}/messages", handler.SendMessage).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/end", handler.EndConversation).Methods(http.MethodPut)
	api.HandleFunc("/conversations/{id}/read", handler.MarkRead).Methods(http.MethodPost)

	// Badge counter
	api.HandleFunc("/unread-count", handler.GetUnreadCount).Methods(http.MethodGet)
}

// RegisterHealthCheck exposes the service health endpoint.
func RegisterHealthCheck(router *mux.Router, handler *Handler) {
	router.HandleFunc("/health", handler.HealthCheck).Methods(http.MethodGet)
}
