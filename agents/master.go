package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const masterInstruction = `You are Morvo, an AI marketing consultant specializing in the Saudi Arabian market.
You coordinate specialist agents (cultural context, market research, SEO, data synthesis) and turn their findings into clear, practical advice.
Respect Islamic values, align with Vision 2030 where relevant, and prefer concrete next steps over generic advice.
Use the analysis you are given; do not invent statistics.`

const businessValue = "Enhanced marketing strategy with cultural intelligence for Saudi market success"

// ErrorSummary is the bilingual apology returned when an analysis fails.
const ErrorSummary = `🤲 أعتذر، واجهت صعوبة في معالجة طلبك.

I apologize for the technical difficulty. While I encountered an issue processing your request, I'm still here to help with:
• Marketing strategy for Saudi Arabia
• Cultural insights and recommendations
• SEO and digital marketing guidance
• Market research and competitor analysis

Please try rephrasing your question, and I'll provide the best guidance possible.`

// ErrorRecommendations accompany ErrorSummary.
var ErrorRecommendations = []string{
	"Try rephrasing your question",
	"Ask about specific marketing topics",
	"Request Saudi market insights",
	"Inquire about cultural marketing best practices",
}

// AnalysisRequest is a user message to be answered by the agent team.
type AnalysisRequest struct {
	Message        string
	ClientID       string
	ConversationID string
	Language       string
	Context        map[string]interface{}
	History        []Turn
}

// AgentResult is the outcome of one dispatch made during an analysis.
type AgentResult struct {
	Agent      string    `json:"agent"`
	AgentType  string    `json:"agent_type"`
	TaskType   string    `json:"task_type"`
	Request    Request   `json:"request"`
	Response   Response  `json:"response"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
}

func (r AgentResult) Succeeded() bool {
	return r.Response.Status == StatusCompleted
}

// CoordinatedAnalysis is the merged view of every specialist's finding.
type CoordinatedAnalysis struct {
	Summary             string   `json:"summary"`
	KeyInsights         []string `json:"key_insights"`
	RecommendedActions  []string `json:"recommended_actions"`
	CulturalAdaptations []string `json:"cultural_adaptations"`
	MarketOpportunities []string `json:"market_opportunities"`
	PainPoints          []string `json:"pain_points"`
	Sources             []string `json:"sources"`
	SaudiMarketFocus    bool     `json:"saudi_market_focus"`
	Vision2030Aligned   bool     `json:"vision_2030_aligned"`
	IslamicCompliant    bool     `json:"islamic_compliant"`
	ConfidenceScore     float64  `json:"confidence_score"`
	BusinessValue       string   `json:"business_value"`
}

// Analysis is the full record of a coordinated analysis.
type Analysis struct {
	AnalysisID      string                 `json:"analysis_id"`
	CorrelationID   string                 `json:"correlation_id"`
	ActivatedAgents []string               `json:"activated_agents"`
	WebsiteURL      string                 `json:"website_url,omitempty"`
	Results         map[string]AgentResult `json:"agent_results"`
	Coordinated     CoordinatedAnalysis    `json:"coordinated_analysis"`
	UsedLLM         bool                   `json:"used_llm"`
	ProcessingTime  time.Duration          `json:"processing_time"`
}

// MasterAgent orchestrates the specialists registered in a Registry.
type MasterAgent struct {
	registry     *Registry
	llm          TextGenerator
	agentTimeout time.Duration
}

func NewMasterAgent(registry *Registry, llm TextGenerator) *MasterAgent {
	return &MasterAgent{registry: registry, llm: llm, agentTimeout: 45 * time.Second}
}

// SetAgentTimeout bounds each specialist dispatch.
func (m *MasterAgent) SetAgentTimeout(d time.Duration) {
	m.agentTimeout = d
}

func (m *MasterAgent) Name() string        { return AgentMaster }
func (m *MasterAgent) DisplayName() string { return "Master Agent" }
func (m *MasterAgent) Type() string        { return "coordination" }

func (m *MasterAgent) Capabilities() []string {
	return []string{"agent_coordination", "marketing_consultation", "response_synthesis"}
}

// Coordinate answers req with the specialists its content calls for. The
// specialists run concurrently and a failing one never aborts the others;
// only cancellation of ctx is returned as an error.
func (m *MasterAgent) Coordinate(ctx context.Context, req AnalysisRequest) (*Analysis, error) {
	start := time.Now()
	a := &Analysis{
		AnalysisID:      uuid.NewString(),
		CorrelationID:   uuid.NewString(),
		ActivatedAgents: DetermineRequiredAgents(req.Message),
		WebsiteURL:      ExtractWebsiteURL(req.Message),
		Results:         make(map[string]AgentResult),
	}
	slog.Info("Starting coordinated analysis", "analysis_id", a.AnalysisID, "client_id", req.ClientID, "agents", strings.Join(a.ActivatedAgents, ","))

	payload := map[string]interface{}{
		"message":     req.Message,
		"language":    req.Language,
		"website_url": a.WebsiteURL,
	}

	var mu sync.Mutex
	var g errgroup.Group
	for _, name := range a.ActivatedAgents {
		if name == AgentDataSynthesis {
			continue
		}
		g.Go(func() error {
			res := m.dispatch(ctx, name, TaskAnalyzeMessage, req, a.CorrelationID, payload)
			mu.Lock()
			a.Results[name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if containsString(a.ActivatedAgents, AgentDataSynthesis) {
		a.Results[AgentDataSynthesis] = m.dispatch(ctx, AgentDataSynthesis, TaskSynthesize, req, a.CorrelationID, map[string]interface{}{
			"message":  req.Message,
			"findings": a.findings(),
		})
	}

	a.Coordinated = m.merge(a)
	a.Coordinated.Summary, a.UsedLLM = m.summarize(ctx, req, a)
	a.ProcessingTime = time.Since(start)

	slog.Info("Completed coordinated analysis", "analysis_id", a.AnalysisID, "duration_ms", a.ProcessingTime.Milliseconds(), "confidence", a.Coordinated.ConfidenceScore)
	return a, nil
}

func (m *MasterAgent) dispatch(ctx context.Context, name, taskType string, req AnalysisRequest, correlationID string, payload map[string]interface{}) AgentResult {
	p := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		p[k] = v
	}
	areq := Request{
		TaskType:      taskType,
		Payload:       p,
		Context:       req.Context,
		ClientID:      req.ClientID,
		CorrelationID: correlationID,
	}

	res := AgentResult{Agent: name, TaskType: taskType, Request: areq, StartedAt: time.Now()}
	if agent, ok := m.registry.Get(name); ok {
		res.AgentType = agent.Type()
	}

	dctx := ctx
	if m.agentTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, m.agentTimeout)
		defer cancel()
	}
	res.Response, _ = m.registry.Dispatch(dctx, name, areq)
	res.DurationMS = time.Since(res.StartedAt).Milliseconds()
	return res
}

// findings returns the findings of the completed specialists.
func (a *Analysis) findings() map[string]*Finding {
	out := make(map[string]*Finding)
	for name, r := range a.Results {
		if r.Succeeded() && r.Response.Finding != nil {
			out[name] = r.Response.Finding
		}
	}
	return out
}

func (m *MasterAgent) merge(a *Analysis) CoordinatedAnalysis {
	var insights, recs, adaptations, opportunities, painPoints, sources []string
	completed := 0
	for _, name := range a.ActivatedAgents {
		r, ok := a.Results[name]
		if !ok || !r.Succeeded() {
			continue
		}
		completed++
		f := r.Response.Finding
		if f == nil {
			continue
		}
		insights = append(insights, f.Insights...)
		recs = append(recs, f.Recommendations...)
		adaptations = append(adaptations, f.CulturalAdaptations...)
		opportunities = append(opportunities, f.Opportunities...)
		painPoints = append(painPoints, f.PainPoints...)
		sources = append(sources, f.Sources...)
	}

	confidence := 0.0
	if n := len(a.ActivatedAgents); n > 0 {
		confidence = math.Round(float64(85*completed)/float64(n)) / 100
	}
	return CoordinatedAnalysis{
		KeyInsights:         firstN(dedupe(insights), 5),
		RecommendedActions:  firstN(dedupe(recs), 5),
		CulturalAdaptations: dedupe(adaptations),
		MarketOpportunities: firstN(dedupe(opportunities), 5),
		PainPoints:          firstN(dedupe(painPoints), 5),
		Sources:             dedupe(sources),
		SaudiMarketFocus:    true,
		Vision2030Aligned:   true,
		IslamicCompliant:    true,
		ConfidenceScore:     confidence,
		BusinessValue:       businessValue,
	}
}

// summarize writes the reply text: the language model when configured, the
// market intelligence template when agents found something, or the keyword
// responder otherwise.
func (m *MasterAgent) summarize(ctx context.Context, req AnalysisRequest, a *Analysis) (string, bool) {
	ca := a.Coordinated
	if m.llm != nil {
		text, err := m.llm.GenerateText(ctx, masterInstruction, req.History, replyPrompt(req, ca))
		if err == nil && strings.TrimSpace(text) != "" {
			return text, true
		}
		slog.Warn("LLM reply failed, using template", "analysis_id", a.AnalysisID, "error", err)
	}
	if len(ca.KeyInsights) == 0 && len(ca.RecommendedActions) == 0 {
		return SimpleResponse(req.Message), false
	}
	return marketIntelligenceSummary(req.Message, ca.KeyInsights, ca.RecommendedActions), false
}

func replyPrompt(req AnalysisRequest, ca CoordinatedAnalysis) string {
	analysis, _ := json.Marshal(map[string]interface{}{
		"key_insights":         ca.KeyInsights,
		"recommended_actions":  ca.RecommendedActions,
		"cultural_adaptations": ca.CulturalAdaptations,
		"market_opportunities": ca.MarketOpportunities,
		"pain_points":          ca.PainPoints,
	})
	lang := "English"
	if req.Language == "ar" {
		lang = "Arabic"
	}
	return fmt.Sprintf("Client message: %s\n\nSpecialist analysis (JSON): %s\n\nReply to the client in %s.", req.Message, analysis, lang)
}

func marketIntelligenceSummary(message string, insights, recommendations []string) string {
	var b strings.Builder
	b.WriteString("🇸🇦 **Saudi Market Intelligence Analysis**\n\n")
	fmt.Fprintf(&b, "Based on your question about \"%s\", I've coordinated multiple AI agents to provide comprehensive insights:\n\n", truncate(message, 50))

	if len(insights) > 0 {
		b.WriteString("**🎯 Key Insights:**\n")
		for i, insight := range firstN(insights, 3) {
			fmt.Fprintf(&b, "%d. %s\n", i+1, insight)
		}
		b.WriteString("\n")
	}
	if len(recommendations) > 0 {
		b.WriteString("**📋 Recommended Actions:**\n")
		for i, rec := range firstN(recommendations, 3) {
			fmt.Fprintf(&b, "%d. %s\n", i+1, rec)
		}
		b.WriteString("\n")
	}

	b.WriteString(`**🕌 Cultural Intelligence Applied:**
• Islamic values compliance ensured
• Vision 2030 alignment integrated
• Saudi market preferences considered
• Arabic localization recommendations included

**Next Steps:** I can dive deeper into any specific area or analyze your website/competitors for detailed insights.`)
	return b.String()
}

func (m *MasterAgent) Handle(ctx context.Context, req Request) (Response, error) {
	if req.TaskType != TaskCoordinate {
		return unsupported(m.Name(), req)
	}
	message := req.String("message")
	if strings.TrimSpace(message) == "" {
		err := fmt.Errorf("payload.message is required")
		return req.Fail(err), err
	}

	a, err := m.Coordinate(ctx, AnalysisRequest{
		Message:  message,
		ClientID: req.ClientID,
		Language: req.String("language"),
		Context:  req.Context,
	})
	if err != nil {
		return req.Fail(err), err
	}
	ca := a.Coordinated
	return req.Complete(&Finding{
		Insights:            ca.KeyInsights,
		Recommendations:     ca.RecommendedActions,
		CulturalAdaptations: ca.CulturalAdaptations,
		Opportunities:       ca.MarketOpportunities,
		PainPoints:          ca.PainPoints,
		Sources:             ca.Sources,
		Data: map[string]interface{}{
			"summary":          ca.Summary,
			"analysis_id":      a.AnalysisID,
			"activated_agents": a.ActivatedAgents,
			"confidence_score": ca.ConfidenceScore,
		},
	}), nil
}

func containsString(items []string, s string) bool {
	for _, it := range items {
		if it == s {
			return true
		}
	}
	return false
}
