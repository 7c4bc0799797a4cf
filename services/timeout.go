package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/morvo-ai/morvo/backend/agents"
	"github.com/morvo-ai/morvo/backend/models"
	"github.com/morvo-ai/morvo/backend/repository"
)

const (
	DefaultInactivityTimeout = 30 * time.Minute

	CompletionReasonTimeout   = "inactivity_timeout"
	CompletionReasonUserEnded = "user_ended"

	summaryTurnLimit = 50
)

// ConversationCompleter loads and closes stored conversations.
type ConversationCompleter interface {
	GetRecentTurns(ctx context.Context, conversationID string, limit int) ([]models.ConversationTurn, error)
	CompleteConversation(ctx context.Context, id, reason, summary string, outcomes []string, at time.Time) error
}

type Summarizer interface {
	Summarize(ctx context.Context, turns []agents.Turn) (string, error)
}

// ConversationTracker follows active persisted conversations and completes
// those idle for longer than the inactivity timeout.
type ConversationTracker struct {
	store      ConversationCompleter
	summarizer Summarizer
	timeout    time.Duration
	onConclude []func(conversationID, clientID string)

	active map[string]*ActiveConversation
	mutex  sync.RWMutex
	now    func() time.Time
}

type ActiveConversation struct {
	ConversationID string
	UserID         string
	ClientID       string
	LastActivity   time.Time
}

func NewConversationTracker(store ConversationCompleter, summarizer Summarizer, timeout time.Duration) *ConversationTracker {
	if timeout <= 0 {
		timeout = DefaultInactivityTimeout
	}
	return &ConversationTracker{
		store:      store,
		summarizer: summarizer,
		timeout:    timeout,
		active:     make(map[string]*ActiveConversation),
		now:        time.Now,
	}
}

// OnConclude registers a hook run after a conversation is completed, used to
// drop in-memory state keyed by the conversation or its client.
func (t *ConversationTracker) OnConclude(fn func(conversationID, clientID string)) {
	t.onConclude = append(t.onConclude, fn)
}

// Touch records activity on a conversation, registering it if needed.
func (t *ConversationTracker) Touch(conversationID, userID, clientID string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if c, ok := t.active[conversationID]; ok {
		c.LastActivity = t.now()
		return
	}
	t.active[conversationID] = &ActiveConversation{
		ConversationID: conversationID,
		UserID:         userID,
		ClientID:       clientID,
		LastActivity:   t.now(),
	}
	slog.Info("Conversation registered for timeout tracking", "conversation_id", conversationID, "user_id", userID)
}

func (t *ConversationTracker) ActiveCount() int {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return len(t.active)
}

// IsTracked reports whether conversationID is currently active.
func (t *ConversationTracker) IsTracked(conversationID string) bool {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	_, ok := t.active[conversationID]
	return ok
}

// Forget stops tracking a conversation without completing it.
func (t *ConversationTracker) Forget(conversationID string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	delete(t.active, conversationID)
}

// Conclude summarizes and completes a conversation. Conversations that are
// not tracked in memory are completed in storage all the same.
func (t *ConversationTracker) Conclude(ctx context.Context, conversationID, reason string) error {
	t.mutex.Lock()
	c, ok := t.active[conversationID]
	delete(t.active, conversationID)
	t.mutex.Unlock()

	clientID := ""
	if ok {
		clientID = c.ClientID
	}

	summary, outcomes := t.summarize(ctx, conversationID)
	err := t.store.CompleteConversation(ctx, conversationID, reason, summary, outcomes, t.now())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to conclude conversation: %w", err)
	}

	for _, fn := range t.onConclude {
		fn(conversationID, clientID)
	}
	slog.Info("Conversation concluded", "conversation_id", conversationID, "reason", reason, "summary_length", len(summary))
	return nil
}

// Run checks for idle conversations every 30 seconds until ctx ends.
func (t *ConversationTracker) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.checkTimeouts(ctx)
		}
	}
}

func (t *ConversationTracker) checkTimeouts(ctx context.Context) {
	now := t.now()

	t.mutex.RLock()
	var timedOut []*ActiveConversation
	for _, c := range t.active {
		if now.Sub(c.LastActivity) > t.timeout {
			timedOut = append(timedOut, c)
		}
	}
	t.mutex.RUnlock()

	for _, c := range timedOut {
		slog.Info("Conversation timed out, generating summary",
			"conversation_id", c.ConversationID,
			"inactive_duration", now.Sub(c.LastActivity))

		if err := t.Conclude(ctx, c.ConversationID, CompletionReasonTimeout); err != nil {
			slog.Error("Failed to conclude timed out conversation", "conversation_id", c.ConversationID, "error", err)
		}
	}
}

// summarize builds the closing summary. Without a language model it falls
// back to a short description of the last exchange.
func (t *ConversationTracker) summarize(ctx context.Context, conversationID string) (string, []string) {
	turns, err := t.store.GetRecentTurns(ctx, conversationID, summaryTurnLimit)
	if err != nil {
		slog.Error("Failed to load turns for summary", "conversation_id", conversationID, "error", err)
		return "", nil
	}
	if len(turns) == 0 {
		slog.Warn("No turns available for summary generation", "conversation_id", conversationID)
		return "", nil
	}

	history := make([]agents.Turn, 0, len(turns))
	for _, turn := range turns {
		history = append(history, agents.Turn{Role: turn.Role, Content: turn.Content})
	}

	if t.summarizer != nil {
		summary, err := t.summarizer.Summarize(ctx, history)
		if err == nil && strings.TrimSpace(summary) != "" {
			return summary, parseOutcomes(summary)
		}
		slog.Error("Failed to generate conversation summary", "conversation_id", conversationID, "error", err)
	}
	return fallbackSummary(history), nil
}

func fallbackSummary(history []agents.Turn) string {
	lastUser := ""
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.TurnRoleUser {
			lastUser = history[i].Content
			break
		}
	}
	if lastUser == "" {
		return fmt.Sprintf("Consultation with %d messages.", len(history))
	}
	return fmt.Sprintf("Consultation with %d messages. Last topic: %s", len(history), truncateRunes(lastUser, 120))
}

// parseOutcomes picks bullet lines out of a model summary.
func parseOutcomes(summary string) []string {
	var outcomes []string
	for _, line := range strings.Split(summary, "\n") {
		line = strings.TrimSpace(line)
		for _, prefix := range []string{"- ", "* ", "• "} {
			if strings.HasPrefix(line, prefix) {
				if item := strings.TrimSpace(strings.TrimPrefix(line, prefix)); item != "" {
					outcomes = append(outcomes, item)
				}
				break
			}
		}
	}
	return outcomes
}
