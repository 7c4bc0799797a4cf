package agents

import (
	"fmt"
	"strings"
)

// DefaultSuggestions are offered when no analysis produced follow-ups.
var DefaultSuggestions = []string{
	"Tell me about your business goals",
	"Ask about Saudi Arabian market insights",
	"Request a marketing strategy analysis",
}

var greetingWords = []string{"hello", "hi", "hey", "greetings", "مرحبا", "السلام"}

const greetingReply = `👋 Hello! I'm Morvo, your AI Marketing Assistant for the Saudi Arabian market.

I can help you with:
• Marketing strategy for the Saudi market
• Cultural insights and localization
• SEO and digital marketing optimization
• Competitor analysis and market research
• Content strategy aligned with Vision 2030

What would you like to explore today?`

const seoReply = `🔍 Great question about SEO! For the Saudi Arabian market I recommend:

• **Arabic content**: publish quality Arabic pages that target local keywords
• **Local listings**: keep your Google Business Profile complete, with Arabic descriptions
• **Mobile first**: nearly all Saudi users browse on mobile
• **Cultural relevance**: keep content aligned with Islamic values and local customs
• **Technical SEO**: make sure right-to-left Arabic text renders correctly

Would you like me to analyze your website or go deeper on any of these?`

const marketingReply = `📈 Marketing in Saudi Arabia rewards a nuanced approach.

**Key strategies:**
• **Cultural sensitivity**: align messaging with Islamic values and local traditions
• **Digital first**: social media penetration is among the highest in the world
• **Influencers**: partner with local creators
• **Vision 2030**: connect your brand with the national transformation goals
• **Ramadan and Eid**: plan campaigns around the major cultural events

**Channels that perform:** Instagram and Snapchat, WhatsApp Business for service, LinkedIn for B2B.

What kind of business are you marketing? I can tailor the strategy.`

const competitorReply = `🔍 Competitor analysis is central to success in the Saudi market. My framework covers:

• **Digital presence**: website, social media and SEO performance
• **Content**: Arabic versus English content and its quality
• **Cultural positioning**: how competitors align with Saudi values
• **Pricing**: local positioning and value propositions
• **Engagement**: social interaction patterns and response rates

Share a competitor's website and I can start with their backlink profile.`

// SimpleResponse answers from keywords alone, without consulting any agent.
func SimpleResponse(content string) string {
	lower := strings.ToLower(content)
	tokens := words(content)

	for _, w := range greetingWords {
		if tokens[w] {
			return greetingReply
		}
	}

	switch {
	case containsAny(lower, []string{"seo", "search", "ranking", "google"}):
		return seoReply
	case containsAny(lower, []string{"marketing", "strategy", "campaign"}):
		return marketingReply
	case containsAny(lower, []string{"competitor", "analysis", "research"}):
		return competitorReply
	}

	return fmt.Sprintf(`Thank you for your message: "%s"

I'm Morvo, your AI Marketing Assistant for the Saudi Arabian market. I can help with marketing strategy, SEO, competitor research and cultural localization.

Could you tell me more about your business and what you'd like to achieve?`, truncate(content, 50))
}

// truncate cuts s to at most n runes, adding an ellipsis when it does.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
