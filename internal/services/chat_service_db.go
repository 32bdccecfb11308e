package services

import (
	"time"

	"chatbase_go_backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DefaultConversationService implements ConversationServiceDB
type DefaultConversationService struct {
	db *gorm.DB
}

// NewConversationServiceDB creates a new DefaultConversationService
func NewConversationServiceDB(db *gorm.DB) ConversationServiceDB {
	return &DefaultConversationService{db: db}
}

// UpsertConversation records or refreshes the local mirror of a provider
// conversation
func (s *DefaultConversationService) UpsertConversation(userID uuid.UUID, conversationID, title string, lastMessageAt time.Time) error {
	conv := &models.Conversation{
		UserID:         userID,
		ConversationID: conversationID,
		Title:          title,
		LastMessageAt:  lastMessageAt,
	}
	result := s.db.Where(models.Conversation{ConversationID: conversationID}).
		Assign(map[string]interface{}{"title": title, "last_message_at": lastMessageAt}).
		FirstOrCreate(conv)
	return result.Error
}

// AddUsage accumulates token and credit consumption on a conversation
func (s *DefaultConversationService) AddUsage(conversationID string, tokens, creditsSpent int64) error {
	return s.db.Model(&models.Conversation{}).
		Where("conversation_id = ?", conversationID).
		Updates(map[string]interface{}{
			"tokens_used":   gorm.Expr("tokens_used + ?", tokens),
			"credits_spent": gorm.Expr("credits_spent + ?", creditsSpent),
		}).Error
}

// GetConversationsByUserID retrieves all mirrored conversations for a user
func (s *DefaultConversationService) GetConversationsByUserID(userID uuid.UUID) ([]models.Conversation, error) {
	var conversations []models.Conversation
	result := s.db.Where("user_id = ?", userID).
		Order("last_message_at desc").Find(&conversations)
	if result.Error != nil {
		return nil, result.Error
	}
	return conversations, nil
}

// DeleteByConversationID removes one mirrored conversation
func (s *DefaultConversationService) DeleteByConversationID(conversationID string) error {
	return s.db.Where("conversation_id = ?", conversationID).
		Delete(&models.Conversation{}).Error
}
