package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/morvo-ai/morvo/backend/agents"
	"github.com/morvo-ai/morvo/backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSummarizer struct {
	summary string
	err     error
}

func (s stubSummarizer) Summarize(ctx context.Context, turns []agents.Turn) (string, error) {
	return s.summary, s.err
}

// seedConversation stores a conversation with one exchange.
func seedConversation(t *testing.T, store *memStore, userID, sessionID string) *models.Conversation {
	t.Helper()
	ctx := context.Background()
	conv, err := store.GetOrCreateConversation(ctx, userID, sessionID, time.Now())
	require.NoError(t, err)
	require.NoError(t, store.AppendTurns(ctx, conv,
		&models.ConversationTurn{Role: models.TurnRoleUser, Content: "How should I price my abaya line?"},
		&models.ConversationTurn{Role: models.TurnRoleAssistant, Content: "Start with a premium tier."},
	))
	return conv
}

func TestTrackerTimesOutIdleConversations(t *testing.T) {
	store := newMemStore()
	conv := seedConversation(t, store, "user-1", "session-1")
	tracker := NewConversationTracker(store, nil, 30*time.Minute)

	now := time.Now()
	tracker.now = func() time.Time { return now }
	tracker.Touch(conv.ID, "user-1", "session-1")
	tracker.Touch("other", "user-1", "session-2")

	var concluded []string
	tracker.OnConclude(func(conversationID, clientID string) {
		concluded = append(concluded, conversationID+"/"+clientID)
	})

	now = now.Add(29 * time.Minute)
	tracker.checkTimeouts(context.Background())
	assert.Equal(t, 2, tracker.ActiveCount())

	tracker.Touch("other", "user-1", "session-2")
	now = now.Add(2 * time.Minute)
	tracker.checkTimeouts(context.Background())

	assert.Equal(t, []string{conv.ID + "/session-1"}, concluded)
	assert.False(t, tracker.IsTracked(conv.ID))
	assert.True(t, tracker.IsTracked("other"))
	assert.Equal(t, "Consultation with 2 messages. Last topic: How should I price my abaya line?", store.completed[conv.ID])
}

func TestTrackerConclude(t *testing.T) {
	tests := []struct {
		name        string
		summarizer  Summarizer
		wantSummary string
	}{
		{"model summary", stubSummarizer{summary: "Pricing discussion\n- Launch premium tier\n* Test in Jeddah"}, "Pricing discussion\n- Launch premium tier\n* Test in Jeddah"},
		{"model failure falls back", stubSummarizer{err: errors.New("quota")}, "Consultation with 2 messages. Last topic: How should I price my abaya line?"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			conv := seedConversation(t, store, "user-1", "session-1")
			tracker := NewConversationTracker(store, tt.summarizer, 0)
			tracker.Touch(conv.ID, "user-1", "session-1")

			require.NoError(t, tracker.Conclude(context.Background(), conv.ID, CompletionReasonUserEnded))
			assert.Equal(t, tt.wantSummary, store.completed[conv.ID])
			assert.Zero(t, tracker.ActiveCount())
		})
	}

	tracker := NewConversationTracker(newMemStore(), nil, 0)
	assert.ErrorIs(t, tracker.Conclude(context.Background(), "missing", CompletionReasonUserEnded), ErrNotFound)
}

func TestParseOutcomes(t *testing.T) {
	summary := "Summary line\n- First outcome\n  * Second outcome\n• Third\n-not a bullet\n- "
	assert.Equal(t, []string{"First outcome", "Second outcome", "Third"}, parseOutcomes(summary))
	assert.Nil(t, parseOutcomes("no bullets here"))
}

func newConversationRouter(store *memStore, tracker *ConversationTracker, user *models.User) chi.Router {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, withTestUser(r, user))
		})
	})
	NewConversationEndpoints(store, tracker, NewChatService(&fakeCoordinator{}, 10)).RegisterRoutes(r)
	return r
}

func TestConversationEndpoints(t *testing.T) {
	store := newMemStore()
	user := &models.User{ID: "user-1", IsActive: true}
	conv := seedConversation(t, store, user.ID, "session-1")
	seedConversation(t, store, "someone-else", "session-9")
	tracker := NewConversationTracker(store, nil, 0)
	router := newConversationRouter(store, tracker, user)

	serve := func(method, path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
		return rec
	}

	rec := serve(http.MethodGet, "/conversations")
	require.Equal(t, http.StatusOK, rec.Code)
	var list ConversationsResponse
	decodeBody(t, rec, &list)
	assert.Equal(t, 1, list.Count)

	assert.Equal(t, http.StatusUnprocessableEntity, serve(http.MethodGet, "/conversations?limit=abc").Code)
	assert.Equal(t, http.StatusUnprocessableEntity, serve(http.MethodGet, "/conversations?limit=0").Code)

	rec = serve(http.MethodGet, "/conversations/"+conv.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.Conversation
	decodeBody(t, rec, &got)
	assert.Equal(t, "session-1", got.SessionID)

	assert.Equal(t, http.StatusNotFound, serve(http.MethodGet, "/conversations/missing").Code)

	assert.Equal(t, http.StatusOK, serve(http.MethodPost, fmt.Sprintf("/conversations/%s/complete", conv.ID)).Code)
	assert.Equal(t, http.StatusConflict, serve(http.MethodPost, fmt.Sprintf("/conversations/%s/complete", conv.ID)).Code)

	assert.Equal(t, http.StatusNoContent, serve(http.MethodDelete, "/conversations/"+conv.ID).Code)
	assert.Equal(t, http.StatusNotFound, serve(http.MethodDelete, "/conversations/"+conv.ID).Code)
}
