package agents

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultSERankingBaseURL = "https://api.seranking.com/v1"

// GeneralSaudiSEORecommendations are returned when no website is known.
var GeneralSaudiSEORecommendations = []string{
	"Focus on Arabic keyword optimization",
	"Implement mobile-first design for Saudi users",
	"Optimize for local search and Google My Business",
	"Create culturally relevant content",
	"Ensure fast loading times for mobile users",
}

var gccCountries = map[string]bool{
	"ae": true, "kw": true, "qa": true, "bh": true, "om": true,
	"uae": true, "kuwait": true, "qatar": true, "bahrain": true, "oman": true,
}

type CountryStat struct {
	Country          string `json:"country"`
	ReferringDomains int    `json:"referring_domains"`
	Backlinks        int    `json:"backlinks"`
}

type AnchorStat struct {
	Anchor    string `json:"anchor"`
	Backlinks int    `json:"backlinks"`
}

// ArabicAnchor is an Arabic anchor text found in the backlink profile.
type ArabicAnchor struct {
	Text      string `json:"text"`
	Backlinks int    `json:"backlinks"`
}

type ReferringDomainStat struct {
	Domain    string `json:"domain"`
	Backlinks int    `json:"backlinks"`
}

// BacklinkSummary is one entry of the SE Ranking backlinks summary.
type BacklinkSummary struct {
	Target              string                `json:"target"`
	Backlinks           int                   `json:"backlinks"`
	RefDomains          int                   `json:"refdomains"`
	TopCountries        []CountryStat         `json:"top_countries"`
	TopAnchors          []AnchorStat          `json:"top_anchors_by_backlinks"`
	TopReferringDomains []ReferringDomainStat `json:"top_referring_domains"`
}

// SaudiMarketContext measures how rooted a backlink profile is in the Saudi
// and GCC web.
type SaudiMarketContext struct {
	SaudiDomainsCount        int            `json:"saudi_domains_count"`
	GCCDomainsCount          int            `json:"gcc_domains_count"`
	ArabicAnchorTexts        []ArabicAnchor `json:"arabic_anchor_texts"`
	SaudiGovernmentBacklinks int            `json:"saudi_government_backlinks"`
	SaudiEducationBacklinks  int            `json:"saudi_education_backlinks"`
	LocalRelevanceScore      float64        `json:"local_relevance_score"`
}

// BacklinkReport is the analysed answer for one domain.
type BacklinkReport struct {
	Domain         string             `json:"domain"`
	Summary        []BacklinkSummary  `json:"summary"`
	SaudiMarket    SaudiMarketContext `json:"saudi_market_analysis"`
	APIKeyHash     string             `json:"api_key_hash"`
	UnitsConsumed  int                `json:"units_consumed"`
	ResponseTimeMS int64              `json:"response_time_ms"`
}

// Totals returns the backlinks and referring domains of the first summary.
func (r *BacklinkReport) Totals() (backlinks, refdomains int) {
	if len(r.Summary) == 0 {
		return 0, 0
	}
	return r.Summary[0].Backlinks, r.Summary[0].RefDomains
}

// AnalyzeSaudiMarketContext scores the first summary entry. The score is
// saudi_ratio*4 + gcc_ratio*2 + arabic_anchor_ratio*2, plus 1 for any .gov.sa
// and 0.5 for any .edu.sa backlink, rounded to one decimal and capped at 10.
func AnalyzeSaudiMarketContext(summaries []BacklinkSummary) SaudiMarketContext {
	sc := SaudiMarketContext{ArabicAnchorTexts: []ArabicAnchor{}}
	if len(summaries) == 0 {
		return sc
	}
	s := summaries[0]

	for _, c := range s.TopCountries {
		country := strings.ToLower(c.Country)
		switch {
		case country == "sa" || country == "saudi arabia":
			sc.SaudiDomainsCount = c.ReferringDomains
		case gccCountries[country]:
			sc.GCCDomainsCount += c.ReferringDomains
		}
	}
	for _, a := range s.TopAnchors {
		if IsArabicText(a.Anchor) {
			sc.ArabicAnchorTexts = append(sc.ArabicAnchorTexts, ArabicAnchor{Text: a.Anchor, Backlinks: a.Backlinks})
		}
	}
	for _, d := range s.TopReferringDomains {
		switch {
		case strings.HasSuffix(d.Domain, ".gov.sa"):
			sc.SaudiGovernmentBacklinks += d.Backlinks
		case strings.HasSuffix(d.Domain, ".edu.sa"):
			sc.SaudiEducationBacklinks += d.Backlinks
		}
	}

	total := float64(s.RefDomains)
	if total == 0 {
		total = 1
	}
	anchors := float64(len(s.TopAnchors))
	if anchors == 0 {
		anchors = 1
	}
	score := float64(sc.SaudiDomainsCount)/total*4 +
		float64(sc.GCCDomainsCount)/total*2 +
		float64(len(sc.ArabicAnchorTexts))/anchors*2
	if sc.SaudiGovernmentBacklinks > 0 {
		score++
	}
	if sc.SaudiEducationBacklinks > 0 {
		score += 0.5
	}
	sc.LocalRelevanceScore = math.Min(math.Round(score*10)/10, 10)
	return sc
}

// SERankingAgent analyses backlink profiles through the SE Ranking API.
type SERankingAgent struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	cache      *ResultCache
}

func NewSERankingAgent(apiKey, baseURL string, cache *ResultCache) *SERankingAgent {
	if baseURL == "" {
		baseURL = DefaultSERankingBaseURL
	}
	return &SERankingAgent{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		cache: cache,
	}
}

func (s *SERankingAgent) Name() string        { return AgentSERanking }
func (s *SERankingAgent) DisplayName() string { return "SE Ranking SEO Analyst" }
func (s *SERankingAgent) Type() string        { return "seo" }
func (s *SERankingAgent) Available() bool     { return s.apiKey != "" }

func (s *SERankingAgent) Capabilities() []string {
	return []string{"seo_analysis", "competitor_research", "backlink_analysis"}
}

// APIKeyHash identifies the key used for a call without revealing it.
func (s *SERankingAgent) APIKeyHash() string {
	hash := sha256.Sum256([]byte(s.apiKey))
	return hex.EncodeToString(hash[:])
}

func (s *SERankingAgent) get(ctx context.Context, path string, query url.Values, dst interface{}) error {
	if !s.Available() {
		return fmt.Errorf("%w: seranking api key not configured", ErrAgentUnavailable)
	}

	u := s.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to seranking api: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{Provider: "seranking", StatusCode: resp.StatusCode, Body: string(body)}
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("failed to decode seranking response: %w", err)
	}
	return nil
}

// AnalyzeBacklinks fetches the backlinks summary of domain as seen from
// google.sa and scores its Saudi market context.
func (s *SERankingAgent) AnalyzeBacklinks(ctx context.Context, domain string) (*BacklinkReport, error) {
	domain = NormalizeDomain(domain)
	return Cached(ctx, s.cache, "seranking:backlinks", domain, func(ctx context.Context) (*BacklinkReport, error) {
		start := time.Now()
		var payload struct {
			Summary []BacklinkSummary `json:"summary"`
		}
		query := url.Values{
			"target":        {domain},
			"mode":          {"domain"},
			"country":       {"sa"},
			"search_engine": {"google.sa"},
		}
		if err := s.get(ctx, "/backlinks/summary", query, &payload); err != nil {
			slog.Error("SE Ranking backlinks request failed", "domain", domain, "error", err)
			return nil, err
		}

		report := &BacklinkReport{
			Domain:         domain,
			Summary:        payload.Summary,
			SaudiMarket:    AnalyzeSaudiMarketContext(payload.Summary),
			APIKeyHash:     s.APIKeyHash(),
			UnitsConsumed:  1,
			ResponseTimeMS: time.Since(start).Milliseconds(),
		}
		slog.Info("Analyzed backlinks with SE Ranking", "domain", domain, "local_relevance_score", report.SaudiMarket.LocalRelevanceScore)
		return report, nil
	})
}

// Subscription returns the raw account subscription, used by diagnostics.
func (s *SERankingAgent) Subscription(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := s.get(ctx, "/account/subscription", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SERankingAgent) Handle(ctx context.Context, req Request) (Response, error) {
	if req.TaskType != TaskAnalyzeMessage {
		return unsupported(s.Name(), req)
	}

	websiteURL := req.String("website_url")
	if websiteURL == "" {
		return req.Complete(&Finding{
			Recommendations: append([]string(nil), GeneralSaudiSEORecommendations...),
			Data:            map[string]interface{}{"saudi_seo_focus": true},
		}), nil
	}

	report, err := s.AnalyzeBacklinks(ctx, websiteURL)
	if err != nil {
		return req.Fail(err), err
	}
	return req.Complete(BacklinkFinding(report)), nil
}

// BacklinkFinding turns a report into insights and recommendations.
func BacklinkFinding(report *BacklinkReport) *Finding {
	backlinks, refdomains := report.Totals()
	sc := report.SaudiMarket
	f := &Finding{
		Insights: []string{
			fmt.Sprintf("%s has %d backlinks from %d referring domains", report.Domain, backlinks, refdomains),
			fmt.Sprintf("Local Saudi relevance score: %.1f/10", sc.LocalRelevanceScore),
		},
		Data: map[string]interface{}{"backlinks": report},
	}
	if sc.SaudiDomainsCount > 0 || sc.GCCDomainsCount > 0 {
		f.Insights = append(f.Insights, fmt.Sprintf("%d Saudi and %d other GCC referring domains", sc.SaudiDomainsCount, sc.GCCDomainsCount))
	}

	if sc.LocalRelevanceScore < 5 {
		f.Recommendations = append(f.Recommendations, "Earn backlinks from Saudi (.sa) websites to strengthen local relevance")
	}
	if len(sc.ArabicAnchorTexts) == 0 {
		f.Recommendations = append(f.Recommendations, "Add Arabic anchor text to build Arabic keyword authority")
	}
	if sc.SaudiGovernmentBacklinks == 0 && sc.SaudiEducationBacklinks == 0 {
		f.Recommendations = append(f.Recommendations, "Pursue partnerships with Saudi government or university sites for authoritative links")
	}
	if len(f.Recommendations) == 0 {
		f.Recommendations = append(f.Recommendations, "Maintain your strong Saudi backlink profile with regular Arabic content")
	}
	return f
}
