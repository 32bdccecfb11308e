package services

import (
	"context"
	"errors"
	"time"

	apperrors "chatbase_go_backend/internal/errors"
	"chatbase_go_backend/internal/models"
	"chatbase_go_backend/internal/utils/credits"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type UserService struct {
	db            *gorm.DB
	ledger        CreditLedger
	conversations ConversationServiceDB
	chatAPI       ChatAPI
	log           zerolog.Logger
}

func NewUserService(db *gorm.DB, ledger CreditLedger, conversations ConversationServiceDB, chatAPI ChatAPI, log zerolog.Logger) *UserService {
	return &UserService{
		db:            db,
		ledger:        ledger,
		conversations: conversations,
		chatAPI:       chatAPI,
		log:           log,
	}
}

// EnsureUser creates the account on first sign-in with the free-tier grant
// and default limits. Later sign-ins only touch LastLoginAt; the balance is
// never reset.
func (s *UserService) EnsureUser(ctx context.Context, authID, email, name string, emailVerified bool) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("auth_id = ?", authID).First(&user).Error
	if err == nil {
		update := s.db.WithContext(ctx).Model(&user).
			Update("last_login_at", time.Now())
		if update.Error != nil {
			return nil, apperrors.NewDatabaseError(update.Error)
		}
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NewDatabaseError(err)
	}

	user = models.User{
		ID:            uuid.New(),
		AuthID:        authID,
		Email:         email,
		Name:          name,
		EmailVerified: emailVerified,
		Plan:          models.PlanFree,
		LastLoginAt:   time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, apperrors.NewDatabaseError(err)
	}

	result, err := s.ledger.AddCredits(ctx, user.ID, credits.FreeTierCredits, "free_tier_grant")
	if err != nil {
		return nil, err
	}
	user.AvailableCredits = result.RemainingCredits

	s.log.Info().Str("user_id", user.ID.String()).Str("email", email).
		Msg("created account with free tier grant")
	return &user, nil
}

func (s *UserService) GetUserByAuthID(ctx context.Context, authID string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("auth_id = ?", authID).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFoundError("account not found")
		}
		return nil, apperrors.NewDatabaseError(err)
	}
	return &user, nil
}

// DeleteAccount cascades: provider-side conversations, the local mirror,
// credit history, then the account row.
func (s *UserService) DeleteAccount(ctx context.Context, user *models.User) error {
	conversations, err := s.conversations.GetConversationsByUserID(user.ID)
	if err != nil {
		return err
	}
	for _, conv := range conversations {
		if err := s.chatAPI.DeleteConversation(ctx, user.ID.String(), conv.ConversationID); err != nil {
			// Keep going: the provider may have already dropped it.
			s.log.Warn().Err(err).Str("conversation_id", conv.ConversationID).
				Msg("failed to delete provider conversation during account deletion")
		}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", user.ID).Delete(&models.Conversation{}).Error; err != nil {
			return apperrors.NewDatabaseError(err)
		}
		if err := tx.Where("user_id = ?", user.ID).Delete(&models.CreditTransaction{}).Error; err != nil {
			return apperrors.NewDatabaseError(err)
		}
		if err := tx.Delete(&models.User{}, "id = ?", user.ID).Error; err != nil {
			return apperrors.NewDatabaseError(err)
		}
		return nil
	})
}
