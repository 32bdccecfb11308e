package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "chatbase_go_backend/internal/errors"
	"chatbase_go_backend/internal/models"
	"chatbase_go_backend/internal/utils/broker"
	"chatbase_go_backend/internal/utils/credits"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CreditResult reports the outcome of a settled ledger operation.
type CreditResult struct {
	Success          bool   `json:"success"`
	Message          string `json:"message"`
	RemainingCredits int64  `json:"remainingCredits"`
	CreditsDeducted  int64  `json:"creditsDeducted,omitempty"`
}

// BalanceUpdate is published on the user's broker topic after every settled
// mutation so websocket listeners can refresh without polling.
type BalanceUpdate struct {
	AvailableCredits int64 `json:"availableCredits"`
	UsedCredits      int64 `json:"usedCredits"`
	LowBalance       bool  `json:"lowBalance"`
}

// CreditService owns every balance mutation. Deductions are applied with a
// single conditional UPDATE (`available_credits >= cost` in the WHERE clause),
// so two racing deductions against one account serialize inside the database
// and the balance can never go negative.
type CreditService struct {
	db     *gorm.DB
	broker *broker.Broker
	log    zerolog.Logger
}

func NewCreditService(db *gorm.DB, b *broker.Broker, log zerolog.Logger) *CreditService {
	return &CreditService{db: db, broker: b, log: log}
}

// DeductForTokens converts tokens to credits and settles the deduction.
// Nothing is mutated when the account is missing, blocked, or short.
func (s *CreditService) DeductForTokens(ctx context.Context, userID uuid.UUID, tokens int64, operation string, metadata map[string]interface{}) (*CreditResult, error) {
	cost := credits.CreditsFromTokens(tokens)
	if cost == 0 {
		available, used, err := s.Balance(ctx, userID)
		if err != nil {
			return nil, err
		}
		s.publish(userID, available, used)
		return &CreditResult{Success: true, Message: "no credits required", RemainingCredits: available}, nil
	}

	var remaining, used int64
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.User{}).
			Where("id = ? AND is_blocked = ? AND available_credits >= ?", userID, false, cost).
			Updates(map[string]interface{}{
				"available_credits": gorm.Expr("available_credits - ?", cost),
				"used_credits":      gorm.Expr("used_credits + ?", cost),
			})
		if res.Error != nil {
			return apperrors.NewDatabaseError(res.Error)
		}
		if res.RowsAffected == 0 {
			return s.classifyRejection(tx, userID, cost)
		}

		if err := s.appendTransaction(tx, userID, -cost, operation, metadata); err != nil {
			return err
		}

		var user models.User
		if err := tx.Select("available_credits", "used_credits").Where("id = ?", userID).First(&user).Error; err != nil {
			return apperrors.NewDatabaseError(err)
		}
		remaining = user.AvailableCredits
		used = user.UsedCredits
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	s.publish(userID, remaining, used)
	return &CreditResult{
		Success:          true,
		Message:          fmt.Sprintf("deducted %s credits for %s", credits.Format(cost), operation),
		RemainingCredits: remaining,
		CreditsDeducted:  cost,
	}, nil
}

// AddCredits grants amount to the account and appends the matching
// transaction. It fails only when the account lookup fails.
func (s *CreditService) AddCredits(ctx context.Context, userID uuid.UUID, amount int64, operation string) (*CreditResult, error) {
	if amount <= 0 {
		return nil, apperrors.NewValidationError("credit amount must be positive")
	}

	var remaining, used int64
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.User{}).
			Where("id = ?", userID).
			Update("available_credits", gorm.Expr("available_credits + ?", amount))
		if res.Error != nil {
			return apperrors.NewDatabaseError(res.Error)
		}
		if res.RowsAffected == 0 {
			return apperrors.NewNotFoundError("account not found")
		}

		if err := s.appendTransaction(tx, userID, amount, operation, nil); err != nil {
			return err
		}

		var user models.User
		if err := tx.Select("available_credits", "used_credits").Where("id = ?", userID).First(&user).Error; err != nil {
			return apperrors.NewDatabaseError(err)
		}
		remaining = user.AvailableCredits
		used = user.UsedCredits
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	s.publish(userID, remaining, used)
	return &CreditResult{
		Success:          true,
		Message:          fmt.Sprintf("added %s credits for %s", credits.Format(amount), operation),
		RemainingCredits: remaining,
	}, nil
}

// Balance re-reads the authoritative balance; client-cached values are never
// trusted.
func (s *CreditService) Balance(ctx context.Context, userID uuid.UUID) (int64, int64, error) {
	var user models.User
	err := s.db.WithContext(ctx).Select("available_credits", "used_credits", "is_blocked").
		Where("id = ?", userID).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, 0, apperrors.NewNotFoundError("account not found")
		}
		return 0, 0, apperrors.NewDatabaseError(err)
	}
	return user.AvailableCredits, user.UsedCredits, nil
}

// History returns the newest transactions first.
func (s *CreditService) History(ctx context.Context, userID uuid.UUID, limit int) ([]models.CreditTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var txns []models.CreditTransaction
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("timestamp desc").Limit(limit).Find(&txns).Error
	if err != nil {
		return nil, apperrors.NewDatabaseError(err)
	}
	return txns, nil
}

// classifyRejection distinguishes why the conditional update matched nothing.
func (s *CreditService) classifyRejection(tx *gorm.DB, userID uuid.UUID, cost int64) error {
	var user models.User
	if err := tx.Where("id = ?", userID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.NewNotFoundError("account not found")
		}
		return apperrors.NewDatabaseError(err)
	}
	if user.IsBlocked {
		return apperrors.NewCreditError("account is blocked")
	}
	return apperrors.NewCreditError(fmt.Sprintf(
		"insufficient credits: %s required, %s available",
		credits.Format(cost), credits.Format(user.AvailableCredits)))
}

func (s *CreditService) appendTransaction(tx *gorm.DB, userID uuid.UUID, amount int64, operation string, metadata map[string]interface{}) error {
	txn := models.CreditTransaction{
		TransactionID: uuid.NewString(),
		UserID:        userID,
		Amount:        amount,
		Operation:     operation,
		Timestamp:     time.Now(),
	}
	if metadata != nil {
		encoded, err := json.Marshal(metadata)
		if err != nil {
			return apperrors.NewValidationError("transaction metadata is not serializable")
		}
		txn.Metadata = datatypes.JSON(encoded)
	}
	if err := tx.Create(&txn).Error; err != nil {
		return apperrors.NewDatabaseError(err)
	}
	return nil
}

func (s *CreditService) publish(userID uuid.UUID, available, used int64) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(broker.CreditTopic(userID.String()), BalanceUpdate{
		AvailableCredits: available,
		UsedCredits:      used,
		LowBalance:       credits.ShouldWarnLow(available),
	})
}
