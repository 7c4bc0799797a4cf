package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationAddAgentDeduplicates(t *testing.T) {
	c := &Conversation{}
	c.AddAgent("cultural_context")
	c.AddAgent("perplexity")
	c.AddAgent("cultural_context")

	assert.Equal(t, []string{"cultural_context", "perplexity"}, Strings(c.InvolvedAgents))
}

func TestConversationComplete(t *testing.T) {
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	c := &Conversation{Status: ConversationStatusActive, StartedAt: start}

	c.Complete("inactivity_timeout", start.Add(95*time.Minute))

	assert.False(t, c.IsActive())
	assert.Equal(t, ConversationStatusCompleted, c.Status)
	assert.Equal(t, "inactivity_timeout", c.CompletionReason)
	require.NotNil(t, c.CompletedAt)
	assert.Equal(t, 95, c.DurationMinutes)
}

func TestUserScopes(t *testing.T) {
	assert.Equal(t, []string{"user"}, (&User{}).Scopes())
	assert.Equal(t, []string{"user", "admin"}, (&User{IsSuperuser: true}).Scopes())
}

func TestUserDisplayName(t *testing.T) {
	assert.Equal(t, "Noura", (&User{Email: "n@example.sa", FullName: "Noura Alharbi", PreferredName: "Noura"}).DisplayName())
	assert.Equal(t, "Noura Alharbi", (&User{Email: "n@example.sa", FullName: "Noura Alharbi"}).DisplayName())
	assert.Equal(t, "n@example.sa", (&User{Email: "n@example.sa"}).DisplayName())
}

func TestStringsHandlesEmptyAndInvalidColumns(t *testing.T) {
	assert.Nil(t, Strings(nil))
	assert.Nil(t, Strings([]byte(`{"not":"a list"}`)))
	assert.Equal(t, []string{"a", "b"}, Strings(JSON([]string{"a", "b"})))
}
