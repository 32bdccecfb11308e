package services

import (
	"context"
	"io"
	"time"

	"chatbase_go_backend/internal/models"
	"chatbase_go_backend/internal/ratelimit"

	"github.com/google/uuid"
)

// ChatAPI is the surface of the external conversational-AI service.
type ChatAPI interface {
	SendChatMessage(ctx context.Context, req ChatMessageRequest) (*ChatMessageResponse, error)
	UploadFile(ctx context.Context, endUserID, filename string, content io.Reader) (*FileUploadResponse, error)
	ListConversations(ctx context.Context, endUserID string, limit int) ([]APIConversation, error)
	ListMessages(ctx context.Context, endUserID, conversationID string, limit int) ([]APIMessage, error)
	RenameConversation(ctx context.Context, endUserID, conversationID, name string) error
	DeleteConversation(ctx context.Context, endUserID, conversationID string) error
	Ping(ctx context.Context) error
}

// CreditLedger is the only path allowed to mutate account balances.
type CreditLedger interface {
	DeductForTokens(ctx context.Context, userID uuid.UUID, tokens int64, operation string, metadata map[string]interface{}) (*CreditResult, error)
	AddCredits(ctx context.Context, userID uuid.UUID, amount int64, operation string) (*CreditResult, error)
	Balance(ctx context.Context, userID uuid.UUID) (available int64, used int64, err error)
	History(ctx context.Context, userID uuid.UUID, limit int) ([]models.CreditTransaction, error)
}

// RateLimitChecker gates actions per user and action class.
type RateLimitChecker interface {
	Check(ctx context.Context, userID string, action ratelimit.Action) ratelimit.Result
}

// ConversationServiceDB persists the local mirror of provider conversations.
type ConversationServiceDB interface {
	UpsertConversation(userID uuid.UUID, conversationID, title string, lastMessageAt time.Time) error
	AddUsage(conversationID string, tokens, creditsSpent int64) error
	GetConversationsByUserID(userID uuid.UUID) ([]models.Conversation, error)
	DeleteByConversationID(conversationID string) error
}
