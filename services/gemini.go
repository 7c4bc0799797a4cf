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
	"google.golang.org/genai"
)

const (
	DefaultGeminiModel   = "gemini-2.5-flash"
	MaxConversationTurns = 20 // Turns before older history is summarized
	recentTurnsKept      = 10
)

var ErrLLMNotConfigured = errors.New("language model not configured")

// GeminiService generates replies, JSON syntheses and conversation
// summaries. It implements agents.TextGenerator and agents.JSONGenerator.
type GeminiService struct {
	genaiClient *genai.Client
	model       string

	// Per-conversation summaries of history that no longer fits the prompt
	summaries  map[string]*conversationSummary
	cacheMutex sync.RWMutex
}

type conversationSummary struct {
	Summary      string
	SummarizedAt int // number of turns covered by Summary
	LastActivity time.Time
}

func NewGeminiService(ctx context.Context, apiKey, model string) (*GeminiService, error) {
	if apiKey == "" {
		return nil, ErrLLMNotConfigured
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GeminiService{
		genaiClient: genaiClient,
		model:       model,
		summaries:   make(map[string]*conversationSummary),
	}, nil
}

func (g *GeminiService) Model() string {
	return g.model
}

// GenerateText answers prompt in the context of the recent history.
func (g *GeminiService) GenerateText(ctx context.Context, systemInstruction string, history []agents.Turn, prompt string) (string, error) {
	contents := buildConversationContents(history)
	contents = append(contents, genai.NewContentFromText(prompt, genai.RoleUser))

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
	}
	result, err := g.genaiClient.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("failed to generate response: %w", err)
	}

	response := result.Text()
	slog.Debug("Generated reply", "model", g.model, "history_turns", len(history), "response_length", len(response))
	return response, nil
}

// GenerateJSON asks the model for a JSON document.
func (g *GeminiService) GenerateJSON(ctx context.Context, systemInstruction, prompt string) (string, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
		ResponseMIMEType:  "application/json",
	}
	result, err := g.genaiClient.Models.GenerateContent(ctx, g.model, genai.Text(prompt), config)
	if err != nil {
		return "", fmt.Errorf("failed to generate JSON: %w", err)
	}
	return result.Text(), nil
}

// CompactHistory keeps the last turns of a long conversation verbatim and
// replaces the rest with a cached summary. The summary is refreshed every
// MaxConversationTurns turns.
func (g *GeminiService) CompactHistory(ctx context.Context, conversationID string, history []agents.Turn) []agents.Turn {
	if len(history) <= MaxConversationTurns {
		return history
	}
	older, recent := history[:len(history)-recentTurnsKept], history[len(history)-recentTurnsKept:]

	g.cacheMutex.RLock()
	cached, ok := g.summaries[conversationID]
	g.cacheMutex.RUnlock()

	summary := ""
	if ok && len(older)-cached.SummarizedAt < MaxConversationTurns {
		summary = cached.Summary
	} else {
		slog.Info("Conversation too long, creating summary", "conversation_id", conversationID, "turns", len(history))
		s, err := g.Summarize(ctx, older)
		if err != nil {
			slog.Error("Failed to summarize conversation", "error", err, "conversation_id", conversationID)
			if ok {
				summary = cached.Summary
			}
		} else {
			summary = s
			g.cacheMutex.Lock()
			g.summaries[conversationID] = &conversationSummary{Summary: s, SummarizedAt: len(older), LastActivity: time.Now()}
			g.cacheMutex.Unlock()
		}
	}

	if summary == "" {
		return recent
	}
	g.touch(conversationID)
	compacted := []agents.Turn{{Role: "assistant", Content: "Previous conversation summary: " + summary}}
	return append(compacted, recent...)
}

// Summarize condenses a conversation into a short consultant's note.
func (g *GeminiService) Summarize(ctx context.Context, turns []agents.Turn) (string, error) {
	var conversationText strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&conversationText, "%s: %s\n", t.Role, t.Content)
	}

	summaryPrompt := fmt.Sprintf(`Summarize the following marketing consultation concisely, focusing on:
- The client's business and goals
- Key topics discussed
- Recommendations given
- Any areas that need follow-up

Conversation:
%s

Provide a clear, concise summary (max 300 words).`, conversationText.String())

	result, err := g.genaiClient.Models.GenerateContent(ctx, g.model, genai.Text(summaryPrompt), nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate summary: %w", err)
	}
	return result.Text(), nil
}

func (g *GeminiService) touch(conversationID string) {
	g.cacheMutex.Lock()
	defer g.cacheMutex.Unlock()
	if c, ok := g.summaries[conversationID]; ok {
		c.LastActivity = time.Now()
	}
}

// ClearConversation drops the cached summary of a finished conversation.
func (g *GeminiService) ClearConversation(conversationID string) {
	g.cacheMutex.Lock()
	defer g.cacheMutex.Unlock()

	delete(g.summaries, conversationID)
	slog.Debug("Cleared conversation summary", "conversation_id", conversationID)
}

// RunJanitor removes summaries idle for more than two hours until ctx ends.
func (g *GeminiService) RunJanitor(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			g.cacheMutex.Lock()
			for id, c := range g.summaries {
				if now.Sub(c.LastActivity) > 2*time.Hour {
					delete(g.summaries, id)
					slog.Info("Cleaned up stale conversation summary", "conversation_id", id)
				}
			}
			g.cacheMutex.Unlock()
		}
	}
}

// buildConversationContents maps history to genai contents, keeping the
// last recentTurnsKept turns plus any leading summary turn.
func buildConversationContents(history []agents.Turn) []*genai.Content {
	var contents []*genai.Content

	startIdx := 0
	if len(history) > recentTurnsKept+1 {
		startIdx = len(history) - recentTurnsKept
		if strings.HasPrefix(history[0].Content, "Previous conversation summary: ") {
			contents = append(contents, genai.NewContentFromText(history[0].Content, genai.RoleModel))
		}
	}

	for _, turn := range history[startIdx:] {
		if strings.TrimSpace(turn.Content) == "" {
			continue
		}
		if turn.Role == "assistant" || turn.Role == "model" {
			contents = append(contents, genai.NewContentFromText(turn.Content, genai.RoleModel))
		} else {
			contents = append(contents, genai.NewContentFromText(turn.Content, genai.RoleUser))
		}
	}
	return contents
}
