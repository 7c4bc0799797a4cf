package agents

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var arabicScript = regexp.MustCompile(`[\x{0600}-\x{06FF}\x{0750}-\x{077F}\x{08A0}-\x{08FF}\x{FB50}-\x{FDFF}\x{FE70}-\x{FEFF}]`)

// IsArabicText reports whether s contains any Arabic-script character.
func IsArabicText(s string) bool {
	return arabicScript.MatchString(s)
}

var saudiTerms = []string{
	"السعودية",
	"الرياض",
	"جدة",
	"الدمام",
	"المملكة",
	"رمضان",
	"عيد",
	"اليوم الوطني",
	"حلال",
	"إن شاء الله",
	"ما شاء الله",
	"أهلاً وسهلاً",
}

var islamicPrinciples = []string{"حلال", "ربا", "غرر", "ميسر", "زكاة", "صدقة"}

// CalendarEvent is a cultural event, inclusive of both days.
type CalendarEvent struct {
	Name  string
	Start time.Time
	End   time.Time
}

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

// DefaultCalendar lists the 2025 Saudi cultural events.
var DefaultCalendar = []CalendarEvent{
	{Name: "founding_day", Start: day(2025, time.February, 22), End: day(2025, time.February, 22)},
	{Name: "ramadan", Start: day(2025, time.February, 28), End: day(2025, time.March, 29)},
	{Name: "eid_al_fitr", Start: day(2025, time.March, 30), End: day(2025, time.April, 2)},
	{Name: "eid_al_adha", Start: day(2025, time.June, 5), End: day(2025, time.June, 8)},
	{Name: "national_day", Start: day(2025, time.September, 23), End: day(2025, time.September, 23)},
	// the retail sale week standing in for Black Friday
	{Name: "white_friday", Start: day(2025, time.November, 24), End: day(2025, time.November, 30)},
}

// CulturalRelevance is the outcome of scoring a text against Saudi cultural markers.
type CulturalRelevance struct {
	IsArabic             bool `json:"is_arabic"`
	ContainsSaudiTerms   bool `json:"contains_saudi_terms"`
	ContainsIslamicTerms bool `json:"contains_islamic_terms"`
	Score                int  `json:"cultural_relevance_score"`
}

// CulturalContextAgent adapts analysis to the Saudi market. It needs no
// external service.
type CulturalContextAgent struct {
	calendar []CalendarEvent
	now      func() time.Time
}

func NewCulturalContextAgent() *CulturalContextAgent {
	return &CulturalContextAgent{calendar: DefaultCalendar, now: time.Now}
}

func (c *CulturalContextAgent) Name() string        { return AgentCulturalContext }
func (c *CulturalContextAgent) DisplayName() string { return "Cultural Context Agent" }
func (c *CulturalContextAgent) Type() string        { return "cultural" }

func (c *CulturalContextAgent) Capabilities() []string {
	return []string{"cultural_adaptation", "islamic_compliance", "vision_2030_alignment"}
}

func containsAny(text string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}

// AnalyzeText scores text: Arabic script +3, Saudi terms +5, Islamic terms +4, capped at 10.
func (c *CulturalContextAgent) AnalyzeText(text string) CulturalRelevance {
	r := CulturalRelevance{
		IsArabic:             IsArabicText(text),
		ContainsSaudiTerms:   containsAny(text, saudiTerms),
		ContainsIslamicTerms: containsAny(text, islamicPrinciples),
	}
	if r.IsArabic {
		r.Score += 3
	}
	if r.ContainsSaudiTerms {
		r.Score += 5
	}
	if r.ContainsIslamicTerms {
		r.Score += 4
	}
	if r.Score > 10 {
		r.Score = 10
	}
	return r
}

// AdaptRecommendation greets in the user's language and nudges campaign
// advice towards the cultural calendar.
func (c *CulturalContextAgent) AdaptRecommendation(recommendation, language string) string {
	greeting := "Hello! "
	if language == "ar" {
		greeting = "أهلاً وسهلاً! "
	}
	if strings.Contains(strings.ToLower(recommendation), "marketing campaign") {
		recommendation += " Consider aligning your campaigns with upcoming cultural events like Ramadan or Eid for maximum impact in Saudi Arabia."
	}
	return greeting + recommendation
}

// EventsOn returns the events whose day range covers date.
func (c *CulturalContextAgent) EventsOn(date time.Time) []string {
	d := day(date.Year(), date.Month(), date.Day())
	var events []string
	for _, e := range c.calendar {
		if !d.Before(e.Start) && !d.After(e.End) {
			events = append(events, e.Name)
		}
	}
	return events
}

func (c *CulturalContextAgent) Handle(ctx context.Context, req Request) (Response, error) {
	if req.TaskType != TaskAnalyzeMessage {
		return unsupported(c.Name(), req)
	}

	message := req.String("message")
	language := req.String("language")
	relevance := c.AnalyzeText(message)

	finding := &Finding{
		CulturalAdaptations: []string{"Saudi market context applied"},
		Data: map[string]interface{}{
			"relevance":           relevance,
			"islamic_compliant":   true,
			"vision_2030_aligned": true,
		},
	}
	if relevance.IsArabic || language == "ar" {
		finding.CulturalAdaptations = append(finding.CulturalAdaptations, "Arabic right-to-left formatting")
	}
	if relevance.ContainsSaudiTerms {
		finding.CulturalAdaptations = append(finding.CulturalAdaptations, "Saudi regional references preserved")
	}
	if relevance.ContainsIslamicTerms {
		finding.CulturalAdaptations = append(finding.CulturalAdaptations, "Islamic finance and halal considerations applied")
	}

	events := c.EventsOn(c.now())
	for _, e := range events {
		label := strings.ReplaceAll(e, "_", " ")
		finding.Insights = append(finding.Insights, fmt.Sprintf("The %s season is under way in Saudi Arabia", label))
		finding.Recommendations = append(finding.Recommendations, c.AdaptRecommendation(
			fmt.Sprintf("Tailor your marketing campaign messaging to %s.", label), language))
	}
	finding.Data["cultural_events"] = events

	return req.Complete(finding), nil
}
