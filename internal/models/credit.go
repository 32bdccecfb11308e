package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CreditTransaction is an append-only audit record. The authoritative balance
// lives on User.AvailableCredits/UsedCredits, not on a replay of history.
type CreditTransaction struct {
	gorm.Model
	TransactionID string         `gorm:"uniqueIndex;not null"`
	UserID        uuid.UUID      `gorm:"type:uuid;index;not null"`
	Amount        int64          `gorm:"not null"` // negative = deduction, positive = grant
	Operation     string         `gorm:"not null"`
	Metadata      datatypes.JSON // session id, tokens used, provider message id
	Timestamp     time.Time      `gorm:"index"`
}
