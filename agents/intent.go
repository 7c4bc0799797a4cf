package agents

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	seoKeywords        = []string{"seo", "search", "ranking", "google", "keywords", "بحث", "محرك البحث"}
	competitorKeywords = []string{"competitor", "competition", "analysis", "منافس", "تحليل"}
	websiteKeywords    = []string{"website", "site", "url", "domain", "موقع"}
	marketingKeywords  = []string{"marketing", "strategy", "campaign", "تسويق", "استراتيجية"}
)

// DetermineRequiredAgents picks the specialists a message needs. Cultural
// context is always included; data synthesis joins whenever another
// specialist does. The result is in execution order.
func DetermineRequiredAgents(message string) []string {
	lower := strings.ToLower(message)
	required := []string{AgentCulturalContext}

	switch {
	case containsAny(lower, seoKeywords), containsAny(lower, competitorKeywords):
		required = append(required, AgentSERanking, AgentPerplexity)
	case containsAny(lower, websiteKeywords), containsAny(lower, marketingKeywords):
		required = append(required, AgentPerplexity)
	}

	if len(required) > 1 {
		required = append(required, AgentDataSynthesis)
	}
	return required
}

var (
	urlPattern    = regexp.MustCompile("https?://[^\\s<>\"{}|\\\\^`\\[\\]]+")
	domainPattern = regexp.MustCompile(`\b(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,63}\b`)
)

// ExtractWebsiteURL returns the first explicit URL in message, or the first
// bare domain prefixed with https://, or "".
func ExtractWebsiteURL(message string) string {
	if u := urlPattern.FindString(message); u != "" {
		return strings.TrimRightFunc(u, func(r rune) bool {
			return strings.ContainsRune(".,;:!?)'", r)
		})
	}
	if d := domainPattern.FindString(strings.ToLower(message)); d != "" {
		return "https://" + d
	}
	return ""
}

// NormalizeDomain reduces a URL or host to a lower-case host name without
// scheme, port, path or leading "www.".
func NormalizeDomain(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.Index(d, "://"); i >= 0 {
		d = d[i+3:]
	}
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if i := strings.LastIndex(d, ":"); i >= 0 {
		d = d[:i]
	}
	return strings.TrimPrefix(d, "www.")
}

// words splits text into lower-case letter/digit runs.
func words(text string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		out[w] = true
	}
	return out
}
