package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	apperrors "chatbase_go_backend/internal/errors"
	"chatbase_go_backend/internal/models"
	"chatbase_go_backend/internal/ratelimit"
	"chatbase_go_backend/internal/utils/credits"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog"
)

const maxUploadBytes = 15 << 20

// ChatReply is what the message endpoint returns to the UI.
type ChatReply struct {
	Answer           string `json:"answer"`
	ConversationID   string `json:"conversationId"`
	MessageID        string `json:"messageId"`
	TokensUsed       int64  `json:"tokensUsed"`
	CreditsDeducted  int64  `json:"creditsDeducted"`
	RemainingCredits int64  `json:"remainingCredits"`
	LowBalance       bool   `json:"lowBalance"`
}

// ChatService runs the gatekeeping pipeline in front of the external API:
// rate limit, blocked/sufficiency pre-check, forward, settle the deduction
// from reported usage. The ledger is touched only after the external call has
// returned; an aborted or failed call mutates nothing.
type ChatService struct {
	chatAPI       ChatAPI
	ledger        CreditLedger
	limiter       RateLimitChecker
	conversations ConversationServiceDB
	log           zerolog.Logger
}

func NewChatService(
	chatAPI ChatAPI,
	ledger CreditLedger,
	limiter RateLimitChecker,
	conversations ConversationServiceDB,
	log zerolog.Logger,
) *ChatService {
	return &ChatService{
		chatAPI:       chatAPI,
		ledger:        ledger,
		limiter:       limiter,
		conversations: conversations,
		log:           log,
	}
}

func (s *ChatService) SendMessage(ctx context.Context, user *models.User, conversationID, message string, fileIDs []string) (*ChatReply, error) {
	if strings.TrimSpace(message) == "" {
		return nil, apperrors.NewValidationError("message must not be empty")
	}

	estimatedTokens := credits.EstimateTokensFromText(message)
	if user.MaxTokensPerRequest > 0 && estimatedTokens > int64(user.MaxTokensPerRequest) {
		return nil, apperrors.NewValidationError(fmt.Sprintf(
			"message too long: roughly %d tokens, plan allows %d per request",
			estimatedTokens, user.MaxTokensPerRequest))
	}

	if err := s.gate(ctx, user, ratelimit.ActionChatMessage, estimatedTokens); err != nil {
		return nil, err
	}

	resp, err := s.chatAPI.SendChatMessage(ctx, ChatMessageRequest{
		EndUserID:      user.ID.String(),
		ConversationID: conversationID,
		Query:          message,
		FileIDs:        fileIDs,
	})
	if err != nil {
		return nil, mapExternalError(err)
	}

	tokensUsed := resp.Metadata.Usage.TotalTokens
	result, err := s.ledger.DeductForTokens(ctx, user.ID, tokensUsed, "chat_message", map[string]interface{}{
		"conversation_id": resp.ConversationID,
		"message_id":      resp.MessageID,
		"tokens_used":     tokensUsed,
	})
	if err != nil {
		return nil, err
	}

	if err := s.conversations.UpsertConversation(user.ID, resp.ConversationID, deriveTitle(message), time.Now()); err != nil {
		s.log.Warn().Err(err).Str("conversation_id", resp.ConversationID).
			Msg("failed to mirror conversation")
	} else if err := s.conversations.AddUsage(resp.ConversationID, tokensUsed, result.CreditsDeducted); err != nil {
		s.log.Warn().Err(err).Str("conversation_id", resp.ConversationID).
			Msg("failed to record conversation usage")
	}

	return &ChatReply{
		Answer:           resp.Answer,
		ConversationID:   resp.ConversationID,
		MessageID:        resp.MessageID,
		TokensUsed:       tokensUsed,
		CreditsDeducted:  result.CreditsDeducted,
		RemainingCredits: result.RemainingCredits,
		LowBalance:       credits.ShouldWarnLow(result.RemainingCredits),
	}, nil
}

// UploadFile validates a staged upload and forwards it. Validation runs
// before the rate limiter and before any network call.
func (s *ChatService) UploadFile(ctx context.Context, user *models.User, path, originalName string) (*FileUploadResponse, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, apperrors.NewValidationError("uploaded file is not readable")
	}
	if info.Size() == 0 {
		return nil, apperrors.NewValidationError("uploaded file is empty")
	}
	if info.Size() > maxUploadBytes {
		return nil, apperrors.NewValidationError(fmt.Sprintf(
			"uploaded file exceeds the %dMB limit", maxUploadBytes>>20))
	}
	if strings.EqualFold(filepath.Ext(originalName), ".pdf") {
		if err := api.ValidateFile(path, nil); err != nil {
			return nil, apperrors.NewValidationError("uploaded PDF is malformed")
		}
	}

	if err := s.gate(ctx, user, ratelimit.ActionFileUpload, 0); err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, apperrors.New500Error(err)
	}
	defer file.Close()

	resp, err := s.chatAPI.UploadFile(ctx, user.ID.String(), originalName, file)
	if err != nil {
		return nil, mapExternalError(err)
	}
	return resp, nil
}

func (s *ChatService) Conversations(ctx context.Context, user *models.User) ([]APIConversation, error) {
	conversations, err := s.chatAPI.ListConversations(ctx, user.ID.String(), 50)
	if err != nil {
		return nil, mapExternalError(err)
	}
	return conversations, nil
}

func (s *ChatService) Messages(ctx context.Context, user *models.User, conversationID string) ([]APIMessage, error) {
	if conversationID == "" {
		return nil, apperrors.NewValidationError("conversation_id is required")
	}
	messages, err := s.chatAPI.ListMessages(ctx, user.ID.String(), conversationID, 50)
	if err != nil {
		return nil, mapExternalError(err)
	}
	return messages, nil
}

func (s *ChatService) RenameConversation(ctx context.Context, user *models.User, conversationID, name string) error {
	if conversationID == "" || strings.TrimSpace(name) == "" {
		return apperrors.NewValidationError("conversation_id and name are required")
	}
	if err := s.chatAPI.RenameConversation(ctx, user.ID.String(), conversationID, name); err != nil {
		return mapExternalError(err)
	}
	if err := s.conversations.UpsertConversation(user.ID, conversationID, name, time.Now()); err != nil {
		s.log.Warn().Err(err).Str("conversation_id", conversationID).
			Msg("failed to mirror conversation rename")
	}
	return nil
}

func (s *ChatService) DeleteConversation(ctx context.Context, user *models.User, conversationID string) error {
	if conversationID == "" {
		return apperrors.NewValidationError("conversation_id is required")
	}
	if err := s.chatAPI.DeleteConversation(ctx, user.ID.String(), conversationID); err != nil {
		return mapExternalError(err)
	}
	if err := s.conversations.DeleteByConversationID(conversationID); err != nil {
		s.log.Warn().Err(err).Str("conversation_id", conversationID).
			Msg("failed to delete mirrored conversation")
	}
	return nil
}

// gate runs the rate limiter and the pre-call credit checks. The estimate is
// advisory; the authoritative check happens again inside the deduction.
func (s *ChatService) gate(ctx context.Context, user *models.User, action ratelimit.Action, estimatedTokens int64) error {
	limit := s.limiter.Check(ctx, user.ID.String(), action)
	if !limit.Allowed {
		return apperrors.NewRateLimitError(fmt.Sprintf(
			"rate limit exceeded, try again after %s", limit.ResetTime.Format(time.RFC3339)))
	}

	if user.IsBlocked {
		return apperrors.NewCreditError("account is blocked")
	}

	estimatedCost := credits.CreditsFromTokens(estimatedTokens)
	if estimatedCost > 0 {
		available, _, err := s.ledger.Balance(ctx, user.ID)
		if err != nil {
			return err
		}
		if !credits.HasEnough(available, estimatedCost) {
			return apperrors.NewCreditError(fmt.Sprintf(
				"insufficient credits: about %s required, %s available",
				credits.Format(estimatedCost), credits.Format(available)))
		}
	}
	return nil
}

// mapExternalError converts client failures into the boundary taxonomy.
func mapExternalError(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apperrors.NewExternalAPIError(apiErr.Message, apiErr)
	}
	return apperrors.NewExternalAPIError("external chat service is unreachable", err)
}

func deriveTitle(message string) string {
	title := strings.TrimSpace(message)
	if len(title) > 60 {
		title = title[:60]
	}
	return title
}
