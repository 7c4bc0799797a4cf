package agents

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeText(t *testing.T) {
	agent := NewCulturalContextAgent()

	tests := []struct {
		name     string
		text     string
		expected CulturalRelevance
	}{
		{
			name:     "English only",
			text:     "How do I grow my coffee shop?",
			expected: CulturalRelevance{},
		},
		{
			name:     "Arabic without markers",
			text:     "كيف أزيد المبيعات؟",
			expected: CulturalRelevance{IsArabic: true, Score: 3},
		},
		{
			name:     "Saudi city",
			text:     "أريد حملة في الرياض",
			expected: CulturalRelevance{IsArabic: true, ContainsSaudiTerms: true, Score: 8},
		},
		{
			name:     "Halal is both Saudi and Islamic, capped",
			text:     "منتجات حلال",
			expected: CulturalRelevance{IsArabic: true, ContainsSaudiTerms: true, ContainsIslamicTerms: true, Score: 10},
		},
		{
			name:     "Islamic finance term only",
			text:     "تمويل بدون ربا",
			expected: CulturalRelevance{IsArabic: true, ContainsIslamicTerms: true, Score: 7},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, agent.AnalyzeText(tt.text))
		})
	}
}

func TestAdaptRecommendation(t *testing.T) {
	agent := NewCulturalContextAgent()

	assert.Equal(t, "Hello! Post daily.", agent.AdaptRecommendation("Post daily.", "en"))
	assert.Equal(t, "أهلاً وسهلاً! Post daily.", agent.AdaptRecommendation("Post daily.", "ar"))

	adapted := agent.AdaptRecommendation("Launch a Marketing Campaign.", "en")
	assert.Contains(t, adapted, "Ramadan or Eid")
}

func TestEventsOn(t *testing.T) {
	agent := NewCulturalContextAgent()

	tests := []struct {
		date     time.Time
		expected []string
	}{
		{time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC), []string{"ramadan"}},
		{time.Date(2025, 3, 29, 23, 30, 0, 0, time.UTC), []string{"ramadan"}},
		{time.Date(2025, 3, 30, 8, 0, 0, 0, time.UTC), []string{"eid_al_fitr"}},
		{time.Date(2025, 9, 23, 18, 0, 0, 0, time.UTC), []string{"national_day"}},
		{time.Date(2025, 2, 22, 10, 0, 0, 0, time.UTC), []string{"founding_day"}},
		{time.Date(2025, 11, 28, 10, 0, 0, 0, time.UTC), []string{"white_friday"}},
		{time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC), nil},
	}

	for _, tt := range tests {
		t.Run(tt.date.Format(time.DateOnly), func(t *testing.T) {
			assert.Equal(t, tt.expected, agent.EventsOn(tt.date))
		})
	}
}

func TestCulturalHandleDuringRamadan(t *testing.T) {
	agent := NewCulturalContextAgent()
	agent.now = func() time.Time { return time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC) }

	req := NewRequest(TaskAnalyzeMessage, "client-1", map[string]interface{}{"message": "حملة في جدة", "language": "ar"})
	resp, err := agent.Handle(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, resp.Status)
	assert.Equal(t, req.CorrelationID, resp.CorrelationID)
	require.NotNil(t, resp.Finding)
	assert.Contains(t, resp.Finding.CulturalAdaptations, "Arabic right-to-left formatting")
	assert.Contains(t, resp.Finding.CulturalAdaptations, "Saudi regional references preserved")
	require.Len(t, resp.Finding.Insights, 1)
	assert.Contains(t, resp.Finding.Insights[0], "ramadan")
	require.Len(t, resp.Finding.Recommendations, 1)
	assert.Contains(t, resp.Finding.Recommendations[0], "أهلاً وسهلاً!")
}

func TestCulturalHandleRejectsOtherTasks(t *testing.T) {
	agent := NewCulturalContextAgent()
	resp, err := agent.Handle(context.Background(), NewRequest(TaskSynthesize, "", nil))
	assert.ErrorIs(t, err, ErrUnsupportedTask)
	assert.Equal(t, StatusFailed, resp.Status)
}
