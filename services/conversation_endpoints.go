package services

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/morvo-ai/morvo/backend/models"
	"github.com/morvo-ai/morvo/backend/repository"
)

const (
	defaultConversationPageSize = 20
	maxConversationPageSize     = 100
)

// ConversationReader is the storage used by the conversation endpoints.
type ConversationReader interface {
	GetConversation(ctx context.Context, id, userID string) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID string, limit int) ([]models.Conversation, error)
	DeleteConversation(ctx context.Context, id, userID string) error
}

type ConversationEndpoints struct {
	repo    ConversationReader
	tracker *ConversationTracker
	chat    *ChatService
}

func NewConversationEndpoints(repo ConversationReader, tracker *ConversationTracker, chat *ChatService) *ConversationEndpoints {
	return &ConversationEndpoints{
		repo:    repo,
		tracker: tracker,
		chat:    chat,
	}
}

type ConversationsResponse struct {
	Conversations []models.Conversation `json:"conversations"`
	Count         int                   `json:"count"`
}

func (e *ConversationEndpoints) RegisterRoutes(r chi.Router) {
	r.Route("/conversations", func(r chi.Router) {
		r.Get("/", e.ListHandler)
		r.Get("/{id}", e.GetHandler)
		r.Post("/{id}/complete", e.CompleteHandler)
		r.Delete("/{id}", e.DeleteHandler)
	})
}

func (e *ConversationEndpoints) ListHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	limit := defaultConversationPageSize
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusUnprocessableEntity, "limit must be a positive integer")
			return
		}
		limit = min(n, maxConversationPageSize)
	}

	convs, err := e.repo.ListConversations(r.Context(), user.ID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get conversations")
		return
	}
	if convs == nil {
		convs = []models.Conversation{}
	}
	writeJSON(w, http.StatusOK, ConversationsResponse{Conversations: convs, Count: len(convs)})
}

func (e *ConversationEndpoints) GetHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	conv, err := e.repo.GetConversation(r.Context(), chi.URLParam(r, "id"), user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get conversation")
		return
	}
	if conv == nil {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (e *ConversationEndpoints) CompleteHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	id := chi.URLParam(r, "id")
	conv, err := e.repo.GetConversation(r.Context(), id, user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get conversation")
		return
	}
	if conv == nil {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	if !conv.IsActive() {
		writeError(w, http.StatusConflict, "Conversation is already "+conv.Status)
		return
	}

	if err := e.tracker.Conclude(r.Context(), id, CompletionReasonUserEnded); err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "Conversation not found")
			return
		}
		slog.Error("Failed to complete conversation", "conversation_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to complete conversation")
		return
	}

	slog.Info("Conversation completed by user", "conversation_id", id, "user_id", user.ID)
	writeJSON(w, http.StatusOK, map[string]string{
		"message":         "Conversation completed",
		"conversation_id": id,
	})
}

func (e *ConversationEndpoints) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	id := chi.URLParam(r, "id")
	conv, err := e.repo.GetConversation(r.Context(), id, user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get conversation")
		return
	}
	if conv == nil {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}

	if err := e.repo.DeleteConversation(r.Context(), id, user.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Conversation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete conversation")
		return
	}
	e.tracker.Forget(id)
	if e.chat != nil {
		e.chat.Forget(conv.SessionID)
	}

	slog.Info("Conversation deleted", "conversation_id", id, "user_id", user.ID)
	w.WriteHeader(http.StatusNoContent)
}
