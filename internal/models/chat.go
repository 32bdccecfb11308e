package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Conversation mirrors a conversation held by the external chat API so that
// account deletion can cascade and history queries stay local.
type Conversation struct {
	gorm.Model
	UserID         uuid.UUID `gorm:"type:uuid;index"`
	ConversationID string    `gorm:"index;unique"` // id assigned by the external API
	Title          string
	LastMessageAt  time.Time
	TokensUsed     int64
	CreditsSpent   int64
}
