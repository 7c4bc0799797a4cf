package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/morvo-ai/morvo/backend/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ConversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// GetOrCreateConversation returns the user's conversation for sessionID,
// creating it or reopening a finished one. A concurrent create for the same
// session makes the loser re-read the winner's row.
func (r *ConversationRepository) GetOrCreateConversation(ctx context.Context, userID, sessionID string, now time.Time) (*models.Conversation, error) {
	conv, err := r.findSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if conv != nil {
		return r.reopen(ctx, conv, now)
	}

	conv = &models.Conversation{
		UserID:         userID,
		SessionID:      sessionID,
		Status:         models.ConversationStatusActive,
		StartedAt:      now,
		LastActivityAt: now,
		InvolvedAgents: models.JSON([]string{}),
	}
	if err := r.db.WithContext(ctx).Create(conv).Error; err != nil {
		if !isUniqueViolation(err) {
			slog.Error("Failed to create conversation", "error", err, "user_id", userID)
			return nil, fmt.Errorf("failed to create conversation: %w", err)
		}
		existing, ferr := r.findSession(ctx, userID, sessionID)
		if ferr != nil {
			return nil, ferr
		}
		if existing == nil {
			return nil, ErrDuplicate
		}
		return r.reopen(ctx, existing, now)
	}
	slog.Info("Conversation created", "conversation_id", conv.ID, "user_id", userID, "session_id", sessionID)
	return conv, nil
}

// findSession looks past soft deletes since those rows still hold the
// (user_id, session_id) index slot.
func (r *ConversationRepository) findSession(ctx context.Context, userID, sessionID string) (*models.Conversation, error) {
	var conv models.Conversation
	err := r.db.WithContext(ctx).Unscoped().
		Where("user_id = ? AND session_id = ?", userID, sessionID).
		First(&conv).Error
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		slog.Error("Failed to get conversation", "error", err, "user_id", userID, "session_id", sessionID)
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conv, nil
}

func (r *ConversationRepository) reopen(ctx context.Context, conv *models.Conversation, now time.Time) (*models.Conversation, error) {
	if conv.IsActive() && !conv.DeletedAt.Valid {
		return conv, nil
	}
	conv.Status = models.ConversationStatusActive
	conv.CompletionReason = ""
	conv.CompletedAt = nil
	conv.LastActivityAt = now
	conv.DeletedAt = gorm.DeletedAt{}
	err := r.db.WithContext(ctx).Unscoped().Model(&models.Conversation{}).
		Where("id = ?", conv.ID).
		Updates(map[string]interface{}{
			"status":            conv.Status,
			"completion_reason": "",
			"completed_at":      nil,
			"last_activity_at":  now,
			"deleted_at":        nil,
		}).Error
	if err != nil {
		return nil, fmt.Errorf("failed to reopen conversation: %w", err)
	}
	slog.Info("Conversation reopened", "conversation_id", conv.ID, "user_id", conv.UserID)
	return conv, nil
}

// GetConversation loads a conversation owned by userID with its turns in order.
func (r *ConversationRepository) GetConversation(ctx context.Context, id, userID string) (*models.Conversation, error) {
	var conv models.Conversation
	err := r.db.WithContext(ctx).
		Preload("Turns", func(db *gorm.DB) *gorm.DB {
			return db.Order("turn_number ASC")
		}).
		Where("id = ? AND user_id = ?", id, userID).
		First(&conv).Error
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		slog.Error("Failed to get conversation", "error", err, "conversation_id", id)
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conv, nil
}

func (r *ConversationRepository) ListConversations(ctx context.Context, userID string, limit int) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("last_activity_at DESC").
		Limit(limit).
		Find(&convs).Error
	if err != nil {
		slog.Error("Failed to list conversations", "error", err, "user_id", userID)
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return convs, nil
}

// GetRecentTurns returns up to limit of the latest turns, oldest first.
func (r *ConversationRepository) GetRecentTurns(ctx context.Context, conversationID string, limit int) ([]models.ConversationTurn, error) {
	var turns []models.ConversationTurn
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("turn_number DESC").
		Limit(limit).
		Find(&turns).Error
	if err != nil {
		slog.Error("Failed to get conversation turns", "error", err, "conversation_id", conversationID)
		return nil, fmt.Errorf("failed to get conversation turns: %w", err)
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// AppendTurns numbers and stores turns, then updates the conversation
// counters in the same transaction. The conversation row is locked and its
// counters re-read so concurrent appends on one session serialize.
func (r *ConversationRepository) AppendTurns(ctx context.Context, conv *models.Conversation, turns ...*models.ConversationTurn) error {
	if len(turns) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.Conversation
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "total_turns", "user_messages_count", "agent_messages_count", "average_response_time", "involved_agents").
			Where("id = ?", conv.ID).
			First(&current).Error
		if err != nil {
			if isNotFound(err) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to lock conversation: %w", err)
		}
		conv.TotalTurns = current.TotalTurns
		conv.UserMessagesCount = current.UserMessagesCount
		conv.AgentMessagesCount = current.AgentMessagesCount
		conv.AverageResponseTime = current.AverageResponseTime
		for _, agent := range models.Strings(current.InvolvedAgents) {
			conv.AddAgent(agent)
		}

		var responseTotal int64
		var responses int
		for _, turn := range turns {
			conv.TotalTurns++
			turn.ConversationID = conv.ID
			turn.UserID = conv.UserID
			turn.TurnNumber = conv.TotalTurns
			switch turn.Role {
			case models.TurnRoleUser:
				conv.UserMessagesCount++
			case models.TurnRoleAssistant:
				conv.AgentMessagesCount++
				responseTotal += turn.ProcessingTimeMS
				responses++
			}
			if turn.AgentName != "" {
				conv.AddAgent(turn.AgentName)
			}
		}
		if err := tx.Create(turns).Error; err != nil {
			return fmt.Errorf("failed to save conversation turns: %w", err)
		}

		if responses > 0 {
			// running mean over all assistant turns
			prev := conv.AgentMessagesCount - responses
			conv.AverageResponseTime = (conv.AverageResponseTime*float64(prev) + float64(responseTotal)) / float64(conv.AgentMessagesCount)
		}
		conv.LastActivityAt = turns[len(turns)-1].CreatedAt
		if conv.LastActivityAt.IsZero() {
			conv.LastActivityAt = time.Now()
		}
		err = tx.Model(&models.Conversation{}).
			Where("id = ?", conv.ID).
			Updates(map[string]interface{}{
				"total_turns":           conv.TotalTurns,
				"user_messages_count":   conv.UserMessagesCount,
				"agent_messages_count":  conv.AgentMessagesCount,
				"average_response_time": conv.AverageResponseTime,
				"involved_agents":       conv.InvolvedAgents,
				"last_activity_at":      conv.LastActivityAt,
				"conversation_stage":    conv.ConversationStage,
				"title":                 conv.Title,
			}).Error
		if err != nil {
			return fmt.Errorf("failed to update conversation: %w", err)
		}

		slog.Info("Conversation turns saved", "conversation_id", conv.ID, "count", len(turns), "total_turns", conv.TotalTurns)
		return nil
	})
}

func (r *ConversationRepository) SaveAgentInteractions(ctx context.Context, interactions []models.AgentInteraction) error {
	if len(interactions) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(&interactions).Error; err != nil {
		slog.Error("Failed to save agent interactions", "error", err, "count", len(interactions))
		return fmt.Errorf("failed to save agent interactions: %w", err)
	}
	return nil
}

// CompleteConversation marks a conversation completed with its summary.
func (r *ConversationRepository) CompleteConversation(ctx context.Context, id, reason, summary string, outcomes []string, at time.Time) error {
	var conv models.Conversation
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&conv).Error; err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to get conversation: %w", err)
	}

	conv.Complete(reason, at)
	updates := map[string]interface{}{
		"status":            conv.Status,
		"completion_reason": conv.CompletionReason,
		"completed_at":      conv.CompletedAt,
		"duration_minutes":  conv.DurationMinutes,
	}
	if summary != "" {
		updates["summary"] = summary
	}
	if len(outcomes) > 0 {
		updates["key_outcomes"] = models.JSON(outcomes)
	}
	if err := r.db.WithContext(ctx).Model(&conv).Updates(updates).Error; err != nil {
		slog.Error("Failed to complete conversation", "error", err, "conversation_id", id)
		return fmt.Errorf("failed to complete conversation: %w", err)
	}

	slog.Info("Conversation completed", "conversation_id", id, "reason", reason, "duration_minutes", conv.DurationMinutes)
	return nil
}

// DeleteConversation removes the conversation for good so its session slot
// can be reused. Turns and interactions go with it through ON DELETE CASCADE.
func (r *ConversationRepository) DeleteConversation(ctx context.Context, id, userID string) error {
	res := r.db.WithContext(ctx).Unscoped().Where("id = ? AND user_id = ?", id, userID).Delete(&models.Conversation{})
	if res.Error != nil {
		slog.Error("Failed to delete conversation", "error", res.Error, "conversation_id", id)
		return fmt.Errorf("failed to delete conversation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	slog.Info("Conversation deleted", "conversation_id", id, "user_id", userID)
	return nil
}
