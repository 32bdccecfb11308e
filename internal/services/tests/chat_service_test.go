package services_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "chatbase_go_backend/internal/errors"
	"chatbase_go_backend/internal/models"
	"chatbase_go_backend/internal/ratelimit"
	"chatbase_go_backend/internal/services"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func newTestUser() *models.User {
	return &models.User{
		ID:                  uuid.New(),
		AuthID:              "auth0|tester",
		Email:               "tester@example.com",
		AvailableCredits:    100,
		MaxTokensPerRequest: 4000,
	}
}

func allowedResult() ratelimit.Result {
	return ratelimit.Result{Allowed: true, Remaining: 10, ResetTime: time.Now().Add(time.Minute)}
}

func newChatServiceForTest() (*services.ChatService, *MockChatAPI, *MockCreditLedger, *MockRateLimitChecker, *MockConversationServiceDB) {
	chatAPI := new(MockChatAPI)
	ledger := new(MockCreditLedger)
	limiter := new(MockRateLimitChecker)
	conversations := new(MockConversationServiceDB)
	svc := services.NewChatService(chatAPI, ledger, limiter, conversations, zerolog.Nop())
	return svc, chatAPI, ledger, limiter, conversations
}

func TestSendMessageDeductsReportedUsage(t *testing.T) {
	svc, chatAPI, ledger, limiter, conversations := newChatServiceForTest()
	user := newTestUser()

	limiter.On("Check", mock.Anything, user.ID.String(), ratelimit.ActionChatMessage).
		Return(allowedResult())
	ledger.On("Balance", mock.Anything, user.ID).Return(int64(100), int64(0), nil)
	apiResp := &services.ChatMessageResponse{
		MessageID:      "msg-1",
		ConversationID: "conv-1",
		Answer:         "A measure of disorder.",
	}
	apiResp.Metadata.Usage = services.Usage{TotalTokens: 6000}
	chatAPI.On("SendChatMessage", mock.Anything, mock.MatchedBy(func(req services.ChatMessageRequest) bool {
		return req.EndUserID == user.ID.String() && req.Query == "What is entropy?"
	})).Return(apiResp, nil)
	ledger.On("DeductForTokens", mock.Anything, user.ID, int64(6000), "chat_message", mock.Anything).
		Return(&services.CreditResult{Success: true, RemainingCredits: 93, CreditsDeducted: 7}, nil)
	conversations.On("UpsertConversation", user.ID, "conv-1", mock.Anything, mock.Anything).Return(nil)
	conversations.On("AddUsage", "conv-1", int64(6000), int64(7)).Return(nil)

	reply, err := svc.SendMessage(context.Background(), user, "", "What is entropy?", nil)

	assert.NoError(t, err)
	assert.Equal(t, "A measure of disorder.", reply.Answer)
	assert.Equal(t, int64(6000), reply.TokensUsed)
	assert.Equal(t, int64(7), reply.CreditsDeducted)
	assert.Equal(t, int64(93), reply.RemainingCredits)
	assert.False(t, reply.LowBalance)
	ledger.AssertExpectations(t)
	conversations.AssertExpectations(t)
}

func TestSendMessageRejectsEmptyMessage(t *testing.T) {
	svc, chatAPI, ledger, limiter, _ := newChatServiceForTest()

	_, err := svc.SendMessage(context.Background(), newTestUser(), "", "   ", nil)

	var customErr *apperrors.CustomError
	assert.ErrorAs(t, err, &customErr)
	assert.Equal(t, apperrors.ErrorTypeValidation, customErr.Type)
	limiter.AssertNotCalled(t, "Check")
	chatAPI.AssertNotCalled(t, "SendChatMessage")
	ledger.AssertNotCalled(t, "DeductForTokens")
}

func TestSendMessageDeniedByRateLimit(t *testing.T) {
	svc, chatAPI, ledger, limiter, _ := newChatServiceForTest()
	user := newTestUser()

	limiter.On("Check", mock.Anything, user.ID.String(), ratelimit.ActionChatMessage).
		Return(ratelimit.Result{Allowed: false, ResetTime: time.Now().Add(30 * time.Second)})

	_, err := svc.SendMessage(context.Background(), user, "", "hello", nil)

	var customErr *apperrors.CustomError
	assert.ErrorAs(t, err, &customErr)
	assert.Equal(t, apperrors.ErrorTypeRateLimit, customErr.Type)
	chatAPI.AssertNotCalled(t, "SendChatMessage")
	ledger.AssertNotCalled(t, "DeductForTokens")
}

func TestSendMessageBlockedAccount(t *testing.T) {
	svc, chatAPI, _, limiter, _ := newChatServiceForTest()
	user := newTestUser()
	user.IsBlocked = true

	limiter.On("Check", mock.Anything, user.ID.String(), ratelimit.ActionChatMessage).
		Return(allowedResult())

	_, err := svc.SendMessage(context.Background(), user, "", "hello", nil)

	var customErr *apperrors.CustomError
	assert.ErrorAs(t, err, &customErr)
	assert.Equal(t, apperrors.ErrorTypeCredit, customErr.Type)
	chatAPI.AssertNotCalled(t, "SendChatMessage")
}

func TestSendMessageInsufficientEstimate(t *testing.T) {
	svc, chatAPI, ledger, limiter, _ := newChatServiceForTest()
	user := newTestUser()

	limiter.On("Check", mock.Anything, user.ID.String(), ratelimit.ActionChatMessage).
		Return(allowedResult())
	ledger.On("Balance", mock.Anything, user.ID).Return(int64(0), int64(0), nil)

	_, err := svc.SendMessage(context.Background(), user, "", "hello there", nil)

	var customErr *apperrors.CustomError
	assert.ErrorAs(t, err, &customErr)
	assert.Equal(t, apperrors.ErrorTypeCredit, customErr.Type)
	chatAPI.AssertNotCalled(t, "SendChatMessage")
	ledger.AssertNotCalled(t, "DeductForTokens")
}

func TestSendMessageExternalFailureLeavesLedgerUntouched(t *testing.T) {
	svc, chatAPI, ledger, limiter, conversations := newChatServiceForTest()
	user := newTestUser()

	limiter.On("Check", mock.Anything, user.ID.String(), ratelimit.ActionChatMessage).
		Return(allowedResult())
	ledger.On("Balance", mock.Anything, user.ID).Return(int64(100), int64(0), nil)
	chatAPI.On("SendChatMessage", mock.Anything, mock.Anything).
		Return(nil, &services.APIError{StatusCode: 503, Message: "service overloaded"})

	_, err := svc.SendMessage(context.Background(), user, "", "hello", nil)

	var customErr *apperrors.CustomError
	assert.ErrorAs(t, err, &customErr)
	assert.Equal(t, apperrors.ErrorTypeExternalAPI, customErr.Type)
	assert.True(t, customErr.Retriable())
	ledger.AssertNotCalled(t, "DeductForTokens")
	conversations.AssertNotCalled(t, "UpsertConversation")
}

func TestSendMessageTooLongForPlan(t *testing.T) {
	svc, chatAPI, _, limiter, _ := newChatServiceForTest()
	user := newTestUser()
	user.MaxTokensPerRequest = 10

	long := make([]byte, 200)
	for i := range long {
		long[i] = 'a'
	}

	_, err := svc.SendMessage(context.Background(), user, "", string(long), nil)

	var customErr *apperrors.CustomError
	assert.ErrorAs(t, err, &customErr)
	assert.Equal(t, apperrors.ErrorTypeValidation, customErr.Type)
	limiter.AssertNotCalled(t, "Check")
	chatAPI.AssertNotCalled(t, "SendChatMessage")
}

func TestUploadFileRejectsEmptyFileBeforeAnyCall(t *testing.T) {
	svc, chatAPI, _, limiter, _ := newChatServiceForTest()
	user := newTestUser()

	path := filepath.Join(t.TempDir(), "empty.txt")
	assert.NoError(t, os.WriteFile(path, nil, 0o600))

	_, err := svc.UploadFile(context.Background(), user, path, "empty.txt")

	var customErr *apperrors.CustomError
	assert.ErrorAs(t, err, &customErr)
	assert.Equal(t, apperrors.ErrorTypeValidation, customErr.Type)
	limiter.AssertNotCalled(t, "Check")
	chatAPI.AssertNotCalled(t, "UploadFile")
}

func TestUploadFileForwardsStagedFile(t *testing.T) {
	svc, chatAPI, _, limiter, _ := newChatServiceForTest()
	user := newTestUser()

	path := filepath.Join(t.TempDir(), "notes.txt")
	assert.NoError(t, os.WriteFile(path, []byte("some notes"), 0o600))

	limiter.On("Check", mock.Anything, user.ID.String(), ratelimit.ActionFileUpload).
		Return(allowedResult())
	chatAPI.On("UploadFile", mock.Anything, user.ID.String(), "notes.txt", mock.Anything).
		Return(&services.FileUploadResponse{ID: "file-1", Name: "notes.txt"}, nil)

	resp, err := svc.UploadFile(context.Background(), user, path, "notes.txt")

	assert.NoError(t, err)
	assert.Equal(t, "file-1", resp.ID)
	chatAPI.AssertExpectations(t)
}

func TestDeleteConversationMirrorsLocally(t *testing.T) {
	svc, chatAPI, _, _, conversations := newChatServiceForTest()
	user := newTestUser()

	chatAPI.On("DeleteConversation", mock.Anything, user.ID.String(), "conv-9").Return(nil)
	conversations.On("DeleteByConversationID", "conv-9").Return(nil)

	err := svc.DeleteConversation(context.Background(), user, "conv-9")

	assert.NoError(t, err)
	chatAPI.AssertExpectations(t)
	conversations.AssertExpectations(t)
}
