package agents

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func perplexityServer(t *testing.T, content string, citations []string) (*httptest.Server, *perplexityRequest) {
	t.Helper()
	var got perplexityRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer pplx-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices":   []map[string]interface{}{{"message": map[string]string{"role": "assistant", "content": content}}},
			"citations": citations,
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestPerplexityAnalyzeWebsite(t *testing.T) {
	content := "Here is the analysis:\n```json\n" +
		`{"business_description":"Specialty coffee roaster","industry_classification":"Food & Beverage","competitor_names":["Brew92","Half Million"],"geographic_focus":"Riyadh"}` +
		"\n```\nLet me know if you need more."
	srv, got := perplexityServer(t, content, nil)

	agent := NewPerplexityAgent("pplx-key", srv.URL, nil)
	profile, err := agent.AnalyzeWebsite(context.Background(), "https://example.sa")
	require.NoError(t, err)

	assert.Equal(t, PerplexityModel, got.Model)
	assert.True(t, got.ReturnCitations)
	assert.Equal(t, 0.3, got.Temperature)
	assert.Contains(t, got.Messages[0].Content, "https://example.sa")
	assert.Equal(t, "Specialty coffee roaster", profile.BusinessDescription)
	assert.Equal(t, []string{"Brew92", "Half Million"}, profile.CompetitorNames)

	f := websiteFinding("https://example.sa", profile)
	assert.Contains(t, f.Insights, "Industry: Food & Beverage")
	assert.Contains(t, f.Insights, "Competitors: Brew92, Half Million")
	assert.Len(t, f.Recommendations, 1)
}

func TestPerplexityAnalyzeWebsiteUnparseable(t *testing.T) {
	srv, _ := perplexityServer(t, "I could not find that website.", nil)

	agent := NewPerplexityAgent("pplx-key", srv.URL, nil)
	_, err := agent.AnalyzeWebsite(context.Background(), "https://example.sa")
	assert.ErrorContains(t, err, "failed to parse structured data")
}

func TestPerplexityHandleResearch(t *testing.T) {
	content := "Key trends:\n1. Mobile commerce is growing fast\n2. Arabic video content performs best\n- Loyalty apps are popular"
	srv, got := perplexityServer(t, content, []string{"https://stats.example.sa"})

	agent := NewPerplexityAgent("pplx-key", srv.URL, nil)
	resp, err := agent.Handle(context.Background(), NewRequest(TaskAnalyzeMessage, "c", map[string]interface{}{"message": "coffee marketing"}))
	require.NoError(t, err)

	assert.Equal(t, "Saudi Arabia market analysis: coffee marketing", got.Messages[0].Content)
	assert.Equal(t, []string{
		"Mobile commerce is growing fast",
		"Arabic video content performs best",
		"Loyalty apps are popular",
	}, resp.Finding.Insights)
	assert.Equal(t, []string{"https://stats.example.sa"}, resp.Finding.Sources)
}

func TestPerplexityUnavailable(t *testing.T) {
	agent := NewPerplexityAgent("", "", nil)
	_, err := agent.Research(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrAgentUnavailable)
}

func TestExtractPointsFallsBackToSentences(t *testing.T) {
	points := extractPoints("Demand is rising. Prices are stable. Competition is growing.", 2)
	assert.Equal(t, []string{"Demand is rising", "Prices are stable"}, points)
}

func TestExtractPointsNeedsListMarkers(t *testing.T) {
	content := "2025 was a record year for Saudi e-commerce.\n" +
		"**Summary** demand keeps climbing\n" +
		"1) **Riyadh** leads online spend\n" +
		"* Jeddah follows closely\n" +
		"3.5 million new shoppers joined"
	assert.Equal(t, []string{"Riyadh leads online spend", "Jeddah follows closely"}, extractPoints(content, 5))
}
