package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"
)

const synthesisInstruction = `You are a PhD-level marketing consultant specializing in the Saudi Arabian market.
Analyze the data you are given and identify key marketing opportunities and pain points.
Write in a friendly tone suitable for a Saudi business owner.
Answer with a JSON object with two keys, "opportunities" and "pain_points", each a list of short sentences.`

// DataSynthesisAgent merges the findings of the other specialists into
// opportunities and pain points.
type DataSynthesisAgent struct {
	llm        TextGenerator
	perplexity *PerplexityAgent
	seranking  *SERankingAgent
	cultural   *CulturalContextAgent
}

func NewDataSynthesisAgent(llm TextGenerator, perplexity *PerplexityAgent, seranking *SERankingAgent, cultural *CulturalContextAgent) *DataSynthesisAgent {
	return &DataSynthesisAgent{llm: llm, perplexity: perplexity, seranking: seranking, cultural: cultural}
}

func (d *DataSynthesisAgent) Name() string        { return AgentDataSynthesis }
func (d *DataSynthesisAgent) DisplayName() string { return "Data Synthesis Agent" }
func (d *DataSynthesisAgent) Type() string        { return "analytics" }

func (d *DataSynthesisAgent) Capabilities() []string {
	return []string{"insights_generation", "recommendation_synthesis", "business_intelligence"}
}

type synthesisResult struct {
	Opportunities []string `json:"opportunities"`
	PainPoints    []string `json:"pain_points"`
}

// Synthesize derives opportunities and pain points from findings keyed by
// agent name. The language model is used when configured; otherwise the
// findings are merged heuristically.
func (d *DataSynthesisAgent) Synthesize(ctx context.Context, query string, findings map[string]*Finding) *Finding {
	if d.llm != nil {
		res, err := d.synthesizeWithLLM(ctx, map[string]interface{}{"user_query": query, "agent_findings": findings})
		if err == nil {
			return &Finding{
				Opportunities: res.Opportunities,
				PainPoints:    res.PainPoints,
				Data:          map[string]interface{}{"method": "llm"},
			}
		}
		slog.Warn("LLM synthesis failed, using heuristic merge", "error", err)
	}

	var opportunities, painPoints []string
	for _, name := range []string{AgentSERanking, AgentPerplexity, AgentCulturalContext} {
		f, ok := findings[name]
		if !ok || f == nil {
			continue
		}
		opportunities = append(opportunities, f.Recommendations...)
		painPoints = append(painPoints, f.PainPoints...)
	}
	return &Finding{
		Opportunities: firstN(dedupe(opportunities), 5),
		PainPoints:    firstN(dedupe(painPoints), 5),
		Data:          map[string]interface{}{"method": "heuristic"},
	}
}

func (d *DataSynthesisAgent) synthesizeWithLLM(ctx context.Context, data interface{}) (*synthesisResult, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal synthesis input: %w", err)
	}
	prompt := "Here is the data:\n" + string(payload)

	var text string
	if jg, ok := d.llm.(JSONGenerator); ok {
		text, err = jg.GenerateJSON(ctx, synthesisInstruction, prompt)
	} else {
		text, err = d.llm.GenerateText(ctx, synthesisInstruction, nil, prompt)
	}
	if err != nil {
		return nil, err
	}

	var res synthesisResult
	if err := decodeEmbeddedJSON(text, &res); err != nil {
		return nil, fmt.Errorf("failed to parse synthesis: %w", err)
	}
	return &res, nil
}

// WebsiteSynthesis is the enrichment produced for a business website.
type WebsiteSynthesis struct {
	Domain           string                 `json:"domain"`
	WebsiteProfile   *WebsiteProfile        `json:"perplexity_analysis,omitempty"`
	Backlinks        *BacklinkReport        `json:"seranking_analysis,omitempty"`
	CulturalInsights map[string]interface{} `json:"cultural_insights"`
	Opportunities    []string               `json:"opportunities"`
	PainPoints       []string               `json:"pain_points"`
	Errors           []string               `json:"errors,omitempty"`
}

// SynthesizeWebsite analyses a website with Perplexity and SE Ranking
// concurrently, then synthesizes opportunities and pain points. Failures of
// either provider are reported in Errors rather than aborting.
func (d *DataSynthesisAgent) SynthesizeWebsite(ctx context.Context, websiteURL string) (*WebsiteSynthesis, error) {
	out := &WebsiteSynthesis{
		Domain:           NormalizeDomain(websiteURL),
		CulturalInsights: map[string]interface{}{},
	}

	var profileErr, backlinksErr error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out.WebsiteProfile, profileErr = d.perplexity.AnalyzeWebsite(gctx, websiteURL)
		return nil
	})
	g.Go(func() error {
		out.Backlinks, backlinksErr = d.seranking.AnalyzeBacklinks(gctx, out.Domain)
		return nil
	})
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if profileErr != nil {
		out.Errors = append(out.Errors, "perplexity: "+profileErr.Error())
	} else if out.WebsiteProfile != nil {
		out.CulturalInsights["business_description_cultural_analysis"] = d.cultural.AnalyzeText(out.WebsiteProfile.BusinessDescription)
	}
	if backlinksErr != nil {
		out.Errors = append(out.Errors, "seranking: "+backlinksErr.Error())
	} else if out.Backlinks != nil {
		out.CulturalInsights["seranking_cultural_analysis"] = out.Backlinks.SaudiMarket
	}
	if out.WebsiteProfile == nil && out.Backlinks == nil {
		return out, fmt.Errorf("website analysis failed: %s", strings.Join(out.Errors, "; "))
	}

	findings := map[string]*Finding{}
	if out.WebsiteProfile != nil {
		findings[AgentPerplexity] = websiteFinding(websiteURL, out.WebsiteProfile)
	}
	if out.Backlinks != nil {
		findings[AgentSERanking] = BacklinkFinding(out.Backlinks)
	}
	synth := d.Synthesize(ctx, "Website analysis for "+out.Domain, findings)
	out.Opportunities = synth.Opportunities
	out.PainPoints = synth.PainPoints

	slog.Info("Website synthesis completed", "domain", out.Domain, "opportunities", len(out.Opportunities), "pain_points", len(out.PainPoints))
	return out, nil
}

func (d *DataSynthesisAgent) Handle(ctx context.Context, req Request) (Response, error) {
	if req.TaskType != TaskSynthesize {
		return unsupported(d.Name(), req)
	}
	findings, ok := req.Payload["findings"].(map[string]*Finding)
	if raw := req.Payload["findings"]; !ok && raw != nil {
		// findings arriving over the wire are generic JSON
		if b, err := json.Marshal(raw); err == nil {
			_ = json.Unmarshal(b, &findings)
		}
	}
	return req.Complete(d.Synthesize(ctx, req.String("message"), findings)), nil
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		key := strings.ToLower(strings.TrimSpace(it))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, it)
	}
	return out
}

func firstN(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}
