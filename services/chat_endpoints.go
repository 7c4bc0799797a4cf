package services

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type ChatEndpoints struct {
	chat *ChatService
	auth *AuthService
}

func NewChatEndpoints(chat *ChatService, auth *AuthService) *ChatEndpoints {
	return &ChatEndpoints{chat: chat, auth: auth}
}

func (e *ChatEndpoints) RegisterRoutes(r chi.Router) {
	r.Route("/chat", func(r chi.Router) {
		if e.auth != nil {
			r.Use(e.auth.OptionalAuth)
		}
		r.Post("/message", e.MessageHandler)
	})
}

func (e *ChatEndpoints) MessageHandler(w http.ResponseWriter, r *http.Request) {
	var msg ChatMessage
	if err := decodeJSON(w, r, &msg); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := msg.Normalize(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	user, _ := UserFromContext(r.Context())
	resp, err := e.chat.ProcessMessage(r.Context(), msg, user)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case IsValidationError(err):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "Conversation not found")
	case errors.Is(err, context.Canceled):
		slog.Warn("Chat request cancelled", "client_id", msg.ClientID)
	default:
		slog.Error("Chat message failed", "client_id", msg.ClientID, "error", err)
		writeError(w, http.StatusInternalServerError, unexpectedErrorDetail)
	}
}
