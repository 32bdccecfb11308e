package services_test

import (
	"context"
	"io"
	"time"

	"chatbase_go_backend/internal/models"
	"chatbase_go_backend/internal/ratelimit"
	"chatbase_go_backend/internal/services"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

type MockChatAPI struct {
	mock.Mock
}

func (m *MockChatAPI) SendChatMessage(ctx context.Context, req services.ChatMessageRequest) (*services.ChatMessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.ChatMessageResponse), args.Error(1)
}

func (m *MockChatAPI) UploadFile(ctx context.Context, endUserID, filename string, content io.Reader) (*services.FileUploadResponse, error) {
	args := m.Called(ctx, endUserID, filename, content)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.FileUploadResponse), args.Error(1)
}

func (m *MockChatAPI) ListConversations(ctx context.Context, endUserID string, limit int) ([]services.APIConversation, error) {
	args := m.Called(ctx, endUserID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]services.APIConversation), args.Error(1)
}

func (m *MockChatAPI) ListMessages(ctx context.Context, endUserID, conversationID string, limit int) ([]services.APIMessage, error) {
	args := m.Called(ctx, endUserID, conversationID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]services.APIMessage), args.Error(1)
}

func (m *MockChatAPI) RenameConversation(ctx context.Context, endUserID, conversationID, name string) error {
	args := m.Called(ctx, endUserID, conversationID, name)
	return args.Error(0)
}

func (m *MockChatAPI) DeleteConversation(ctx context.Context, endUserID, conversationID string) error {
	args := m.Called(ctx, endUserID, conversationID)
	return args.Error(0)
}

func (m *MockChatAPI) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockCreditLedger struct {
	mock.Mock
}

func (m *MockCreditLedger) DeductForTokens(ctx context.Context, userID uuid.UUID, tokens int64, operation string, metadata map[string]interface{}) (*services.CreditResult, error) {
	args := m.Called(ctx, userID, tokens, operation, metadata)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.CreditResult), args.Error(1)
}

func (m *MockCreditLedger) AddCredits(ctx context.Context, userID uuid.UUID, amount int64, operation string) (*services.CreditResult, error) {
	args := m.Called(ctx, userID, amount, operation)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.CreditResult), args.Error(1)
}

func (m *MockCreditLedger) Balance(ctx context.Context, userID uuid.UUID) (int64, int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Get(1).(int64), args.Error(2)
}

func (m *MockCreditLedger) History(ctx context.Context, userID uuid.UUID, limit int) ([]models.CreditTransaction, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.CreditTransaction), args.Error(1)
}

type MockRateLimitChecker struct {
	mock.Mock
}

func (m *MockRateLimitChecker) Check(ctx context.Context, userID string, action ratelimit.Action) ratelimit.Result {
	args := m.Called(ctx, userID, action)
	return args.Get(0).(ratelimit.Result)
}

type MockConversationServiceDB struct {
	mock.Mock
}

func (m *MockConversationServiceDB) UpsertConversation(userID uuid.UUID, conversationID, title string, lastMessageAt time.Time) error {
	args := m.Called(userID, conversationID, title, lastMessageAt)
	return args.Error(0)
}

func (m *MockConversationServiceDB) AddUsage(conversationID string, tokens, creditsSpent int64) error {
	args := m.Called(conversationID, tokens, creditsSpent)
	return args.Error(0)
}

func (m *MockConversationServiceDB) GetConversationsByUserID(userID uuid.UUID) ([]models.Conversation, error) {
	args := m.Called(userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Conversation), args.Error(1)
}

func (m *MockConversationServiceDB) DeleteByConversationID(conversationID string) error {
	args := m.Called(conversationID)
	return args.Error(0)
}
