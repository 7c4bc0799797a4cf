package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/morvo-ai/morvo/backend/agents"
	"github.com/morvo-ai/morvo/backend/models"
)

const (
	maxContentLength  = 4000
	maxClientIDLength = 100

	// maxHistoryClients caps how many client histories are held in memory.
	maxHistoryClients = 10000
	historySweepEvery = time.Minute
)

// ChatMessage is an inbound user message, over HTTP or websocket.
type ChatMessage struct {
	ClientID       string                 `json:"client_id"`
	Content        string                 `json:"content"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	Context        map[string]interface{} `json:"context,omitempty"`
	Language       string                 `json:"language,omitempty"`
	MessageType    string                 `json:"message_type,omitempty"`
}

// Normalize trims and validates the message and fills in defaults: the
// language follows the script of the content, the type is text.
func (m *ChatMessage) Normalize() error {
	m.ClientID = strings.TrimSpace(m.ClientID)
	m.Content = strings.TrimSpace(m.Content)
	m.ConversationID = strings.TrimSpace(m.ConversationID)
	switch {
	case m.ClientID == "":
		return fmt.Errorf("%w: client_id is required", ErrValidation)
	case len(m.ClientID) > maxClientIDLength:
		return fmt.Errorf("%w: client_id is too long", ErrValidation)
	case m.Content == "":
		return fmt.Errorf("%w: content is required", ErrValidation)
	case len([]rune(m.Content)) > maxContentLength:
		return fmt.Errorf("%w: content must be at most %d characters", ErrValidation, maxContentLength)
	case m.ConversationID != "" && uuid.Validate(m.ConversationID) != nil:
		return fmt.Errorf("%w: conversation_id must be a UUID", ErrValidation)
	}

	m.Language = strings.ToLower(strings.TrimSpace(m.Language))
	if m.Language == "" {
		m.Language = "en"
		if agents.IsArabicText(m.Content) {
			m.Language = "ar"
		}
	}
	if m.Language != "ar" && m.Language != "en" {
		return fmt.Errorf("%w: language must be ar or en", ErrValidation)
	}
	if m.MessageType == "" {
		m.MessageType = "text"
	}
	if m.Context == nil {
		m.Context = map[string]interface{}{}
	}
	return nil
}

type ChatResponse struct {
	MessageID             string                 `json:"message_id"`
	Content               string                 `json:"content"`
	Agent                 string                 `json:"agent"`
	ConversationID        string                 `json:"conversation_id"`
	Language              string                 `json:"language"`
	CulturalAdaptations   []string               `json:"cultural_adaptations"`
	IslamicCompliance     bool                   `json:"islamic_compliance"`
	Vision2030Alignment   bool                   `json:"vision_2030_alignment"`
	Suggestions           []string               `json:"suggestions"`
	BusinessInsights      []string               `json:"business_insights"`
	MarketOpportunities   []string               `json:"market_opportunities"`
	References            []string               `json:"references"`
	AgentMetadata         map[string]interface{} `json:"agent_metadata"`
	NextRecommendedAction string                 `json:"next_recommended_action"`
	ConsultationStage     string                 `json:"consultation_stage"`
	Timestamp             time.Time              `json:"timestamp"`
}

// Coordinator answers a message with the agent team.
type Coordinator interface {
	Coordinate(ctx context.Context, req agents.AnalysisRequest) (*agents.Analysis, error)
}

// ConversationStore persists authenticated conversations.
type ConversationStore interface {
	GetOrCreateConversation(ctx context.Context, userID, sessionID string, now time.Time) (*models.Conversation, error)
	GetConversation(ctx context.Context, id, userID string) (*models.Conversation, error)
	GetRecentTurns(ctx context.Context, conversationID string, limit int) ([]models.ConversationTurn, error)
	AppendTurns(ctx context.Context, conv *models.Conversation, turns ...*models.ConversationTurn) error
	SaveAgentInteractions(ctx context.Context, interactions []models.AgentInteraction) error
}

// HistoryCompactor shortens long histories before they reach the model.
type HistoryCompactor interface {
	CompactHistory(ctx context.Context, conversationID string, history []agents.Turn) []agents.Turn
}

type ChatService struct {
	coordinator  Coordinator
	store        ConversationStore
	tracker      *ConversationTracker
	compactor    HistoryCompactor
	historyLimit int

	history    map[string]*clientHistory
	historyTTL time.Duration
	mu         sync.Mutex
	now        func() time.Time
}

type clientHistory struct {
	turns    []agents.Turn
	lastSeen time.Time
}

func NewChatService(coordinator Coordinator, historyLimit int) *ChatService {
	if historyLimit <= 0 {
		historyLimit = 20
	}
	return &ChatService{
		coordinator:  coordinator,
		historyLimit: historyLimit,
		history:      make(map[string]*clientHistory),
		historyTTL:   DefaultInactivityTimeout,
		now:          time.Now,
	}
}

// SetHistoryTTL sets how long an idle client's history is kept in memory.
func (s *ChatService) SetHistoryTTL(ttl time.Duration) {
	if ttl > 0 {
		s.historyTTL = ttl
	}
}

// SetPersistence enables storage of authenticated conversations.
func (s *ChatService) SetPersistence(store ConversationStore, tracker *ConversationTracker) {
	s.store = store
	s.tracker = tracker
}

func (s *ChatService) SetCompactor(c HistoryCompactor) {
	s.compactor = c
}

// ProcessMessage answers msg. The user is nil for anonymous callers, whose
// history lives in memory only and who cannot name a conversation_id. A
// signed-in caller naming a conversation_id continues that conversation if
// they own it.
func (s *ChatService) ProcessMessage(ctx context.Context, msg ChatMessage, user *models.User) (*ChatResponse, error) {
	if err := msg.Normalize(); err != nil {
		return nil, err
	}
	received := s.now()

	var conv *models.Conversation
	conversationID := msg.ClientID
	historyKey := msg.ClientID
	if user != nil && s.store != nil {
		sessionID := msg.ClientID
		if msg.ConversationID != "" {
			owned, err := s.store.GetConversation(ctx, msg.ConversationID, user.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to load conversation: %w", err)
			}
			if owned == nil {
				return nil, fmt.Errorf("%w: conversation %s", ErrNotFound, msg.ConversationID)
			}
			sessionID = owned.SessionID
			historyKey = sessionID
		}
		c, err := s.store.GetOrCreateConversation(ctx, user.ID, sessionID, received)
		if err != nil {
			return nil, fmt.Errorf("failed to open conversation: %w", err)
		}
		conv = c
		conversationID = conv.ID
	}

	history := s.loadHistory(ctx, historyKey, conv)
	if s.compactor != nil {
		history = s.compactor.CompactHistory(ctx, conversationID, history)
	}

	analysis, err := s.coordinator.Coordinate(ctx, agents.AnalysisRequest{
		Message:        msg.Content,
		ClientID:       msg.ClientID,
		ConversationID: conversationID,
		Language:       msg.Language,
		Context:        msg.Context,
		History:        history,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		slog.Error("Coordinated analysis failed", "client_id", msg.ClientID, "error", err)
		return s.apology(msg, conversationID), nil
	}

	resp := s.buildResponse(msg, conversationID, conv, analysis)
	s.remember(historyKey, msg.Content, resp.Content)

	if conv != nil {
		s.persist(ctx, conv, msg, resp, analysis, received)
		if s.tracker != nil {
			s.tracker.Touch(conv.ID, user.ID, historyKey)
		}
	}

	slog.Info("Chat message processed", "client_id", msg.ClientID, "conversation_id", conversationID, "agents", len(analysis.ActivatedAgents), "duration_ms", analysis.ProcessingTime.Milliseconds())
	return resp, nil
}

func (s *ChatService) buildResponse(msg ChatMessage, conversationID string, conv *models.Conversation, a *agents.Analysis) *ChatResponse {
	ca := a.Coordinated

	suggestions := ca.RecommendedActions
	if len(suggestions) == 0 {
		suggestions = agents.DefaultSuggestions
	}
	next := "continue_consultation"
	if a.WebsiteURL == "" && len(ca.RecommendedActions) > 0 {
		next = "share_website_for_analysis"
	}
	stage := "consultation"
	if conv != nil && conv.ConversationStage != "" {
		stage = conv.ConversationStage
	}

	return &ChatResponse{
		MessageID:           "msg_" + uuid.NewString(),
		Content:             ca.Summary,
		Agent:               agents.AgentMaster,
		ConversationID:      conversationID,
		Language:            msg.Language,
		CulturalAdaptations: nonNil(ca.CulturalAdaptations),
		IslamicCompliance:   ca.IslamicCompliant,
		Vision2030Alignment: ca.Vision2030Aligned,
		Suggestions:         suggestions,
		BusinessInsights:    nonNil(ca.KeyInsights),
		MarketOpportunities: nonNil(ca.MarketOpportunities),
		References:          nonNil(ca.Sources),
		AgentMetadata: map[string]interface{}{
			"analysis_id":        a.AnalysisID,
			"correlation_id":     a.CorrelationID,
			"activated_agents":   a.ActivatedAgents,
			"confidence_score":   ca.ConfidenceScore,
			"processing_time_ms": a.ProcessingTime.Milliseconds(),
			"used_llm":           a.UsedLLM,
			"website_url":        a.WebsiteURL,
			"business_value":     ca.BusinessValue,
		},
		NextRecommendedAction: next,
		ConsultationStage:     stage,
		Timestamp:             s.now().UTC(),
	}
}

func (s *ChatService) apology(msg ChatMessage, conversationID string) *ChatResponse {
	return &ChatResponse{
		MessageID:             "msg_" + uuid.NewString(),
		Content:               agents.ErrorSummary,
		Agent:                 agents.AgentMaster,
		ConversationID:        conversationID,
		Language:              msg.Language,
		CulturalAdaptations:   []string{},
		IslamicCompliance:     true,
		Vision2030Alignment:   true,
		Suggestions:           agents.ErrorRecommendations,
		BusinessInsights:      []string{},
		MarketOpportunities:   []string{},
		References:            []string{},
		AgentMetadata:         map[string]interface{}{"error": true},
		NextRecommendedAction: "rephrase_question",
		ConsultationStage:     "error_recovery",
		Timestamp:             s.now().UTC(),
	}
}

// loadHistory returns the in-memory history, seeding it from storage after
// a restart.
func (s *ChatService) loadHistory(ctx context.Context, clientID string, conv *models.Conversation) []agents.Turn {
	s.mu.Lock()
	h, ok := s.history[clientID]
	var history []agents.Turn
	if ok {
		h.lastSeen = s.now()
		history = append(history, h.turns...)
	}
	s.mu.Unlock()
	if ok || conv == nil || conv.TotalTurns == 0 {
		return history
	}

	turns, err := s.store.GetRecentTurns(ctx, conv.ID, s.historyLimit)
	if err != nil {
		slog.Warn("Failed to load conversation history", "conversation_id", conv.ID, "error", err)
		return nil
	}
	history = make([]agents.Turn, 0, len(turns))
	for _, t := range turns {
		if t.Role == models.TurnRoleSystem {
			continue
		}
		history = append(history, agents.Turn{Role: t.Role, Content: t.Content})
	}

	s.mu.Lock()
	s.putHistory(clientID, history)
	s.mu.Unlock()
	return append([]agents.Turn(nil), history...)
}

func (s *ChatService) remember(clientID, userContent, reply string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var h []agents.Turn
	if prev, ok := s.history[clientID]; ok {
		h = prev.turns
	}
	h = append(h,
		agents.Turn{Role: models.TurnRoleUser, Content: userContent},
		agents.Turn{Role: models.TurnRoleAssistant, Content: reply})
	if len(h) > s.historyLimit {
		h = h[len(h)-s.historyLimit:]
	}
	s.putHistory(clientID, h)
}

// putHistory saves turns for clientID, evicting the least recently seen client
// when the cap is reached. Callers hold s.mu.
func (s *ChatService) putHistory(clientID string, turns []agents.Turn) {
	now := s.now()
	if h, ok := s.history[clientID]; ok {
		h.turns = turns
		h.lastSeen = now
		return
	}
	if len(s.history) >= maxHistoryClients {
		oldest := ""
		var oldestSeen time.Time
		for id, h := range s.history {
			if oldest == "" || h.lastSeen.Before(oldestSeen) {
				oldest, oldestSeen = id, h.lastSeen
			}
		}
		delete(s.history, oldest)
	}
	s.history[clientID] = &clientHistory{turns: turns, lastSeen: now}
}

// History returns a copy of the in-memory history of a client.
func (s *ChatService) History(clientID string) []agents.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.history[clientID]
	if !ok {
		return nil
	}
	return append([]agents.Turn(nil), h.turns...)
}

// Forget drops the in-memory history of a client.
func (s *ChatService) Forget(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.history, clientID)
}

// RunJanitor drops histories idle for longer than the history TTL until ctx
// ends. Anonymous clients never conclude a conversation, so this is what
// bounds them.
func (s *ChatService) RunJanitor(ctx context.Context) {
	ticker := time.NewTicker(historySweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.evictIdle()
		}
	}
}

func (s *ChatService) evictIdle() int {
	cutoff := s.now().Add(-s.historyTTL)
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for id, h := range s.history {
		if h.lastSeen.Before(cutoff) {
			delete(s.history, id)
			evicted++
		}
	}
	if evicted > 0 {
		slog.Info("Evicted idle chat histories", "count", evicted, "remaining", len(s.history))
	}
	return evicted
}

func (s *ChatService) persist(ctx context.Context, conv *models.Conversation, msg ChatMessage, resp *ChatResponse, a *agents.Analysis, received time.Time) {
	var external []string
	for _, name := range a.ActivatedAgents {
		conv.AddAgent(name)
		if name == agents.AgentPerplexity || name == agents.AgentSERanking {
			external = append(external, name)
		}
	}
	if conv.ConversationStage == "" || conv.ConversationStage == "initial" {
		conv.ConversationStage = "consultation"
	}
	if conv.Title == "" {
		conv.Title = truncateRunes(msg.Content, 80)
	}

	userTurn := &models.ConversationTurn{
		Role:        models.TurnRoleUser,
		Content:     msg.Content,
		MessageType: msg.MessageType,
		Language:    msg.Language,
		CreatedAt:   received,
	}
	agentTurn := &models.ConversationTurn{
		Role:                   models.TurnRoleAssistant,
		Content:                resp.Content,
		AgentName:              agents.AgentMaster,
		AgentConfidence:        a.Coordinated.ConfidenceScore,
		MessageType:            "text",
		Language:               msg.Language,
		CulturalContextApplied: len(a.Coordinated.CulturalAdaptations) > 0,
		ProcessingTimeMS:       a.ProcessingTime.Milliseconds(),
		ExternalAPIsUsed:       models.JSON(nonNil(external)),
		NextExpectedAction:     resp.NextRecommendedAction,
		CreatedAt:              resp.Timestamp,
	}
	if err := s.store.AppendTurns(ctx, conv, userTurn, agentTurn); err != nil {
		slog.Error("Failed to persist conversation turns", "conversation_id", conv.ID, "error", err)
		return
	}

	interactions := make([]models.AgentInteraction, 0, len(a.Results))
	for _, name := range a.ActivatedAgents {
		r, ok := a.Results[name]
		if !ok {
			continue
		}
		ai := models.AgentInteraction{
			ConversationID:  conv.ID,
			CorrelationID:   a.CorrelationID,
			AgentName:       r.Agent,
			AgentType:       r.AgentType,
			InteractionType: interactionType(r.TaskType),
			InputData:       models.JSON(r.Request.Payload),
			OutputData:      models.JSON(r.Response.Finding),
			ExecutionTimeMS: r.DurationMS,
			Success:         r.Succeeded(),
		}
		if ai.AgentType == "" {
			ai.AgentType = "unknown"
		}
		if !ai.Success {
			ai.ErrorMessage = r.Response.Message
		}
		interactions = append(interactions, ai)
	}
	if err := s.store.SaveAgentInteractions(ctx, interactions); err != nil {
		slog.Error("Failed to persist agent interactions", "conversation_id", conv.ID, "error", err)
	}
}

func interactionType(taskType string) string {
	switch taskType {
	case agents.TaskSynthesize:
		return "synthesis"
	case agents.TaskAnalyzeMessage:
		return "analysis"
	default:
		return "query"
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// IsValidationError reports whether err is a client input error.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}
