package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ConversationStatusActive    = "active"
	ConversationStatusPaused    = "paused"
	ConversationStatusCompleted = "completed"
	ConversationStatusAbandoned = "abandoned"
)

// Conversation is a chat session between a user and the master agent.
type Conversation struct {
	ID                  string         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	UserID              string         `gorm:"type:uuid;not null;uniqueIndex:idx_conversations_user_session" json:"user_id"`
	SessionID           string         `gorm:"size:100;not null;uniqueIndex:idx_conversations_user_session" json:"session_id"`
	ConversationType    string         `gorm:"size:50;default:'consultation'" json:"conversation_type"` // onboarding, consultation, analysis, support
	ConversationStage   string         `gorm:"size:50;default:'initial'" json:"conversation_stage"`
	Status              string         `gorm:"size:50;not null;default:'active';check:status IN ('active', 'paused', 'completed', 'abandoned')" json:"status"`
	CompletionReason    string         `gorm:"size:100" json:"completion_reason,omitempty"`
	Title               string         `gorm:"size:200" json:"title,omitempty"`
	Summary             string         `gorm:"type:text" json:"summary,omitempty"`
	KeyOutcomes         datatypes.JSON `json:"key_outcomes,omitempty"`
	PrimaryAgent        string         `gorm:"size:50;default:'master_agent'" json:"primary_agent"`
	InvolvedAgents      datatypes.JSON `json:"involved_agents,omitempty"`
	TotalTurns          int            `gorm:"default:0" json:"total_turns"`
	UserMessagesCount   int            `gorm:"default:0" json:"user_messages_count"`
	AgentMessagesCount  int            `gorm:"default:0" json:"agent_messages_count"`
	AverageResponseTime float64        `json:"average_response_time_ms"`
	StartedAt           time.Time      `gorm:"not null" json:"started_at"`
	LastActivityAt      time.Time      `gorm:"not null;index" json:"last_activity_at"`
	CompletedAt         *time.Time     `json:"completed_at,omitempty"`
	DurationMinutes     int            `json:"duration_minutes"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	DeletedAt           gorm.DeletedAt `gorm:"index" json:"-"`

	// Relationships
	User  User               `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	Turns []ConversationTurn `gorm:"foreignKey:ConversationID" json:"turns,omitempty"`
}

// AddAgent records agent as involved in the conversation, once.
func (c *Conversation) AddAgent(agent string) {
	agents := Strings(c.InvolvedAgents)
	for _, a := range agents {
		if a == agent {
			return
		}
	}
	c.InvolvedAgents = JSON(append(agents, agent))
}

// Complete closes the conversation and fills in its duration.
func (c *Conversation) Complete(reason string, at time.Time) {
	c.Status = ConversationStatusCompleted
	c.CompletionReason = reason
	c.CompletedAt = &at
	c.DurationMinutes = int(at.Sub(c.StartedAt).Minutes())
}

func (c *Conversation) IsActive() bool {
	return c.Status == ConversationStatusActive
}

// ConversationTurn stores one ordered message of a conversation.
type ConversationTurn struct {
	ID                     string         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	ConversationID         string         `gorm:"type:uuid;not null;uniqueIndex:idx_turns_conversation_number" json:"conversation_id"`
	UserID                 string         `gorm:"type:uuid;not null;index" json:"user_id"`
	TurnNumber             int            `gorm:"not null;uniqueIndex:idx_turns_conversation_number" json:"turn_number"`
	Role                   string         `gorm:"size:50;not null;check:role IN ('user', 'assistant', 'system')" json:"role"`
	Content                string         `gorm:"type:text;not null" json:"content"`
	AgentName              string         `gorm:"size:100" json:"agent_name,omitempty"`
	AgentConfidence        float64        `json:"agent_confidence,omitempty"`
	MessageType            string         `gorm:"size:50;default:'text'" json:"message_type"`
	Language               string         `gorm:"size:10;default:'en'" json:"language"`
	CulturalContextApplied bool           `gorm:"default:false" json:"cultural_context_applied"`
	ProcessingTimeMS       int64          `json:"processing_time_ms,omitempty"`
	ExternalAPIsUsed       datatypes.JSON `json:"external_apis_used,omitempty"`
	NextExpectedAction     string         `gorm:"size:100" json:"next_expected_action,omitempty"`
	CreatedAt              time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt              time.Time      `json:"updated_at"`

	// Relationships
	Conversation Conversation `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE" json:"-"`
}

const (
	TurnRoleUser      = "user"
	TurnRoleAssistant = "assistant"
	TurnRoleSystem    = "system"
)

// AgentInteraction records a single agent dispatch made while answering a turn.
type AgentInteraction struct {
	ID              string         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	ConversationID  string         `gorm:"type:uuid;not null;index" json:"conversation_id"`
	CorrelationID   string         `gorm:"size:100;index" json:"correlation_id"`
	AgentName       string         `gorm:"size:100;not null;index" json:"agent_name"`
	AgentType       string         `gorm:"size:50;not null" json:"agent_type"`
	InteractionType string         `gorm:"size:50;not null" json:"interaction_type"` // query, analysis, synthesis
	InputData       datatypes.JSON `json:"input_data,omitempty"`
	OutputData      datatypes.JSON `json:"output_data,omitempty"`
	ExecutionTimeMS int64          `json:"execution_time_ms"`
	Success         bool           `gorm:"default:true" json:"success"`
	ErrorMessage    string         `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`

	// Relationships
	Conversation Conversation `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE" json:"-"`
}
