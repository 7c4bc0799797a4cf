package agents

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTeam(t *testing.T, llm TextGenerator, specialists ...Agent) (*MasterAgent, *Registry) {
	t.Helper()
	cultural := NewCulturalContextAgent()
	cultural.now = func() time.Time { return day(2025, time.July, 10) }

	r := NewRegistry()
	r.Register(cultural)
	for _, a := range specialists {
		r.Register(a)
	}
	r.Register(NewDataSynthesisAgent(nil, nil, nil, cultural))
	m := NewMasterAgent(r, llm)
	r.Register(m)
	return m, r
}

func TestCoordinateGreetingUsesSimpleResponse(t *testing.T) {
	m, _ := newTestTeam(t, nil)

	a, err := m.Coordinate(context.Background(), AnalysisRequest{Message: "hello", ClientID: "c1"})
	require.NoError(t, err)

	assert.Equal(t, []string{AgentCulturalContext}, a.ActivatedAgents)
	assert.Equal(t, SimpleResponse("hello"), a.Coordinated.Summary)
	assert.False(t, a.UsedLLM)
	assert.Equal(t, 0.85, a.Coordinated.ConfidenceScore)
	assert.Contains(t, a.Coordinated.CulturalAdaptations, "Saudi market context applied")
}

func TestCoordinateSEOTemplateWithFailedAgent(t *testing.T) {
	m, _ := newTestTeam(t, nil,
		&stubAgent{name: AgentSERanking, finding: &Finding{
			Insights:        []string{"Only 3% of backlinks are Saudi"},
			Recommendations: []string{"Earn backlinks from Saudi (.sa) websites"},
		}},
		&stubAgent{name: AgentPerplexity, err: errors.New("perplexity down")},
	)

	a, err := m.Coordinate(context.Background(), AnalysisRequest{Message: "How is my SEO ranking?", ClientID: "c1"})
	require.NoError(t, err)

	require.Len(t, a.Results, 4)
	assert.False(t, a.Results[AgentPerplexity].Succeeded())
	assert.True(t, a.Results[AgentSERanking].Succeeded())
	assert.Equal(t, "stub", a.Results[AgentSERanking].AgentType)

	for name, res := range a.Results {
		assert.Equal(t, a.CorrelationID, res.Response.CorrelationID, name)
	}
	// three of four activated agents completed
	assert.Equal(t, 0.64, a.Coordinated.ConfidenceScore)
	assert.Contains(t, a.Coordinated.Summary, "Saudi Market Intelligence Analysis")
	assert.Contains(t, a.Coordinated.Summary, "Only 3% of backlinks are Saudi")
	assert.Equal(t, []string{"Earn backlinks from Saudi (.sa) websites"}, a.Coordinated.MarketOpportunities)
}

func TestCoordinateUsesLLMReply(t *testing.T) {
	llm := &fakeLLM{text: "Here is your plan."}
	m, _ := newTestTeam(t, llm)

	a, err := m.Coordinate(context.Background(), AnalysisRequest{Message: "hi", Language: "ar"})
	require.NoError(t, err)
	assert.True(t, a.UsedLLM)
	assert.Equal(t, "Here is your plan.", a.Coordinated.Summary)
	require.Len(t, llm.prompts, 1)
	assert.True(t, strings.HasSuffix(llm.prompts[0], "Reply to the client in Arabic."))
}

func TestCoordinateLLMFailureFallsBack(t *testing.T) {
	m, _ := newTestTeam(t, &fakeLLM{err: errors.New("rate limited")})

	a, err := m.Coordinate(context.Background(), AnalysisRequest{Message: "hello"})
	require.NoError(t, err)
	assert.False(t, a.UsedLLM)
	assert.Equal(t, SimpleResponse("hello"), a.Coordinated.Summary)
}

func TestCoordinateAgentTimeout(t *testing.T) {
	m, _ := newTestTeam(t, nil,
		&stubAgent{name: AgentSERanking, block: true},
		&stubAgent{name: AgentPerplexity, finding: &Finding{Insights: []string{"Market is growing"}}},
	)
	m.SetAgentTimeout(20 * time.Millisecond)

	a, err := m.Coordinate(context.Background(), AnalysisRequest{Message: "competitor analysis"})
	require.NoError(t, err)
	assert.False(t, a.Results[AgentSERanking].Succeeded())
	assert.Contains(t, a.Coordinated.KeyInsights, "Market is growing")
}

func TestCoordinateCancelled(t *testing.T) {
	m, _ := newTestTeam(t, nil, &stubAgent{name: AgentSERanking, block: true}, &stubAgent{name: AgentPerplexity, block: true})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := m.Coordinate(ctx, AnalysisRequest{Message: "seo"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMasterHandle(t *testing.T) {
	_, r := newTestTeam(t, nil)

	resp, err := r.Dispatch(context.Background(), AgentMaster, NewRequest(TaskCoordinate, "c", map[string]interface{}{"message": "hello"}))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, resp.Status)
	assert.Equal(t, SimpleResponse("hello"), resp.Finding.Data["summary"])

	resp, err = r.Dispatch(context.Background(), AgentMaster, NewRequest(TaskCoordinate, "c", nil))
	require.Error(t, err)
	assert.Equal(t, StatusFailed, resp.Status)
}
