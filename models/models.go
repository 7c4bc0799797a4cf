package models

import (
	"encoding/json"

	"gorm.io/datatypes"
)

// Database schema overview:
// 1. users - accounts, JWT authentication and onboarding progress
// 2. refresh_tokens - hashed refresh tokens issued at login
// 3. user_profiles - professional and communication preferences
// 4. cultural_contexts - Saudi cultural preferences used to adapt replies
// 5. business_profiles - business data collected during onboarding and enrichment
// 6. conversations - a chat session between a user and the master agent
// 7. conversation_turns - ordered user/assistant turns of a conversation
// 8. agent_interactions - every A2A dispatch made while answering a turn
// 9. seranking_domains - domains tracked for backlink analysis
// 10. seranking_backlink_analyses - point-in-time backlink snapshots

// All returns every model for AutoMigrate, parents before children.
func All() []interface{} {
	return []interface{}{
		&User{},
		&RefreshToken{},
		&UserProfile{},
		&CulturalContext{},
		&BusinessProfile{},
		&Conversation{},
		&ConversationTurn{},
		&AgentInteraction{},
		&SERankingDomain{},
		&SERankingBacklinkAnalysis{},
	}
}

// JSON marshals v into a JSON column value. Values that cannot be marshalled
// are stored as JSON null.
func JSON(v interface{}) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("null")
	}
	return datatypes.JSON(b)
}

// Strings decodes a JSON column holding a list of strings.
func Strings(col datatypes.JSON) []string {
	if len(col) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(col, &out); err != nil {
		return nil
	}
	return out
}
