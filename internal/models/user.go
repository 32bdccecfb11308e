package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SubscriptionPlan string

const (
	PlanFree       SubscriptionPlan = "free"
	PlanPro        SubscriptionPlan = "pro"
	PlanEnterprise SubscriptionPlan = "enterprise"
)

type User struct {
	ID            uuid.UUID `gorm:"type:uuid;primary_key"`
	AuthID        string    `gorm:"unique;not null"`
	Email         string    `gorm:"unique;not null"`
	Name          string
	EmailVerified bool

	// Credit balance. AvailableCredits must never go negative; the only
	// mutation path is CreditService.
	AvailableCredits int64 `gorm:"not null;default:0"`
	UsedCredits      int64 `gorm:"not null;default:0"`

	Plan            SubscriptionPlan `gorm:"type:varchar(20);default:'free'"`
	CreditsPerMonth int64
	PlanExpiresAt   *time.Time

	// Soft caps enforced by the rate limiter and request validation.
	DailyRequests         int `gorm:"default:1000"`
	MaxTokensPerRequest   int `gorm:"default:4000"`
	MaxConcurrentSessions int `gorm:"default:3"`

	IsBlocked   bool `gorm:"not null;default:false"`
	LastLoginAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}
