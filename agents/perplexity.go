package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	DefaultPerplexityBaseURL = "https://api.perplexity.ai"
	PerplexityModel          = "llama-3.1-sonar-large-128k-online"
)

// APIError is a non-2xx answer from an external analysis provider.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error: %d - %s", e.Provider, e.StatusCode, e.Body)
}

// WebsiteProfile is the structured business profile extracted from a website.
type WebsiteProfile struct {
	BusinessDescription    string   `json:"business_description"`
	IndustryClassification string   `json:"industry_classification"`
	TargetMarketInsights   string   `json:"target_market_insights"`
	CompetitorNames        []string `json:"competitor_names"`
	ContactInfo            struct {
		Email string `json:"email"`
		Phone string `json:"phone"`
	} `json:"contact_info"`
	MarketPositioning string   `json:"market_positioning"`
	GeographicFocus   string   `json:"geographic_focus"`
	ServicesOffered   []string `json:"services_offered"`
}

// ResearchResult is a free-form market research answer with its citations.
type ResearchResult struct {
	Content   string   `json:"content"`
	Citations []string `json:"citations"`
}

// PerplexityAgent researches the web through the Perplexity chat API.
type PerplexityAgent struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	cache      *ResultCache
}

func NewPerplexityAgent(apiKey, baseURL string, cache *ResultCache) *PerplexityAgent {
	if baseURL == "" {
		baseURL = DefaultPerplexityBaseURL
	}
	return &PerplexityAgent{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		cache: cache,
	}
}

func (p *PerplexityAgent) Name() string        { return AgentPerplexity }
func (p *PerplexityAgent) DisplayName() string { return "Perplexity Market Intelligence" }
func (p *PerplexityAgent) Type() string        { return "research" }
func (p *PerplexityAgent) Available() bool     { return p.apiKey != "" }

func (p *PerplexityAgent) Capabilities() []string {
	return []string{"website_analysis", "content_research", "market_intelligence"}
}

type perplexityMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type perplexityRequest struct {
	Model              string              `json:"model"`
	Messages           []perplexityMessage `json:"messages"`
	ReturnCitations    bool                `json:"return_citations"`
	SearchDomainFilter []string            `json:"search_domain_filter,omitempty"`
	Temperature        float64             `json:"temperature"`
}

type perplexityResponse struct {
	Choices []struct {
		Message perplexityMessage `json:"message"`
	} `json:"choices"`
	Citations []string `json:"citations"`
}

func (p *PerplexityAgent) complete(ctx context.Context, prompt string, domainFilter []string) (*ResearchResult, error) {
	if !p.Available() {
		return nil, fmt.Errorf("%w: perplexity api key not configured", ErrAgentUnavailable)
	}

	jsonData, err := json.Marshal(perplexityRequest{
		Model:              PerplexityModel,
		Messages:           []perplexityMessage{{Role: "user", Content: prompt}},
		ReturnCitations:    true,
		SearchDomainFilter: domainFilter,
		Temperature:        0.3,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Provider: "perplexity", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var parsed perplexityResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode perplexity response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, errors.New("perplexity response has no choices")
	}
	return &ResearchResult{Content: parsed.Choices[0].Message.Content, Citations: parsed.Citations}, nil
}

// AnalyzeWebsite extracts a structured business profile for websiteURL.
func (p *PerplexityAgent) AnalyzeWebsite(ctx context.Context, websiteURL string) (*WebsiteProfile, error) {
	return Cached(ctx, p.cache, "perplexity:website", websiteURL, func(ctx context.Context) (*WebsiteProfile, error) {
		prompt := fmt.Sprintf(`Analyze the business website: %s
Extract the following information in a structured JSON format:
{
    "business_description": "",
    "industry_classification": "",
    "target_market_insights": "",
    "competitor_names": [],
    "contact_info": {"email": "", "phone": ""},
    "market_positioning": "",
    "geographic_focus": "",
    "services_offered": []
}
Focus on factual information that would be useful for marketing strategy.
Consider Saudi Arabian business context if applicable.`, websiteURL)

		result, err := p.complete(ctx, prompt, []string{"company website", "business directory"})
		if err != nil {
			return nil, err
		}

		var profile WebsiteProfile
		if err := decodeEmbeddedJSON(result.Content, &profile); err != nil {
			slog.Error("Failed to decode JSON from Perplexity response", "url", websiteURL, "error", err)
			return nil, fmt.Errorf("failed to parse structured data from perplexity: %w", err)
		}
		slog.Info("Analyzed website with Perplexity", "url", websiteURL, "industry", profile.IndustryClassification)
		return &profile, nil
	})
}

// Research runs a free-form market research query.
func (p *PerplexityAgent) Research(ctx context.Context, query string) (*ResearchResult, error) {
	return Cached(ctx, p.cache, "perplexity:research", query, func(ctx context.Context) (*ResearchResult, error) {
		return p.complete(ctx, query, nil)
	})
}

func (p *PerplexityAgent) Handle(ctx context.Context, req Request) (Response, error) {
	if req.TaskType != TaskAnalyzeMessage {
		return unsupported(p.Name(), req)
	}

	if websiteURL := req.String("website_url"); websiteURL != "" {
		profile, err := p.AnalyzeWebsite(ctx, websiteURL)
		if err != nil {
			return req.Fail(err), err
		}
		return req.Complete(websiteFinding(websiteURL, profile)), nil
	}

	result, err := p.Research(ctx, "Saudi Arabia market analysis: "+req.String("message"))
	if err != nil {
		return req.Fail(err), err
	}
	return req.Complete(&Finding{
		Insights: extractPoints(result.Content, 5),
		Sources:  result.Citations,
		Data:     map[string]interface{}{"research": result.Content},
	}), nil
}

func websiteFinding(websiteURL string, profile *WebsiteProfile) *Finding {
	f := &Finding{Data: map[string]interface{}{"website_url": websiteURL, "website_profile": profile}}
	add := func(label, value string) {
		if strings.TrimSpace(value) != "" {
			f.Insights = append(f.Insights, label+": "+value)
		}
	}
	add("Business", profile.BusinessDescription)
	add("Industry", profile.IndustryClassification)
	add("Target market", profile.TargetMarketInsights)
	add("Market positioning", profile.MarketPositioning)
	add("Geographic focus", profile.GeographicFocus)
	if len(profile.CompetitorNames) > 0 {
		f.Insights = append(f.Insights, "Competitors: "+strings.Join(profile.CompetitorNames, ", "))
		f.Recommendations = append(f.Recommendations, "Benchmark your Arabic content and backlinks against "+profile.CompetitorNames[0])
	}
	return f
}

// decodeEmbeddedJSON decodes the first JSON object found in text, which may
// be surrounded by prose or a code fence.
func decodeEmbeddedJSON(text string, dst interface{}) error {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return errors.New("no JSON object in content")
	}
	return json.Unmarshal([]byte(text[start:end+1]), dst)
}

// extractPoints pulls up to max bullet or numbered lines out of text,
// falling back to its sentences.
// listItem matches a bullet ("- ", "* ", "• ") or a numbered item ("1. ", "2) ").
var listItem = regexp.MustCompile(`^(?:[-*•]|\d+[.)])\s+(.+)$`)

func extractPoints(text string, max int) []string {
	var points []string
	for _, line := range strings.Split(text, "\n") {
		m := listItem.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		point := strings.TrimSpace(strings.ReplaceAll(m[1], "**", ""))
		if point == "" {
			continue
		}
		points = append(points, point)
		if len(points) == max {
			return points
		}
	}
	if len(points) > 0 {
		return points
	}
	for _, s := range strings.Split(text, ". ") {
		if s = strings.TrimSpace(s); s != "" {
			points = append(points, strings.TrimSuffix(s, "."))
		}
		if len(points) == max {
			break
		}
	}
	return points
}
