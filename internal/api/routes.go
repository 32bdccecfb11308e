package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"chatbase_go_backend/internal/auth"
	apperrors "chatbase_go_backend/internal/errors"
	"chatbase_go_backend/internal/ratelimit"
	"chatbase_go_backend/internal/services"
	"chatbase_go_backend/internal/utils/credits"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v79"
	"gorm.io/gorm"
)

const maxWebhookBytes = 65536

// Services bundles everything the HTTP layer depends on. main builds one and
// hands it over; handlers never construct their own dependencies.
type Services struct {
	Chat       *services.ChatService
	Ledger     services.CreditLedger
	Limiter    services.RateLimitChecker
	Stripe     *services.StripeService
	Statements *services.StatementService
	ChatAPI    services.ChatAPI
	DB         *gorm.DB
	Log        zerolog.Logger
}

func SetupRoutes(r *gin.Engine, svc *Services, authMiddleware gin.HandlerFunc) {
	r.GET("/api/health", healthHandler(svc))
	r.POST("/api/stripe/webhook", stripeWebhookHandler(svc))

	chatGroup := r.Group("/api/chat")
	chatGroup.Use(authMiddleware)
	{
		chatGroup.POST("/message", sendMessageHandler(svc))
		chatGroup.POST("/upload", uploadFileHandler(svc))
		chatGroup.GET("/conversations", listConversationsHandler(svc))
		chatGroup.GET("/messages", listMessagesHandler(svc))
		chatGroup.POST("/conversations/:id/name", renameConversationHandler(svc))
		chatGroup.DELETE("/conversations/:id", deleteConversationHandler(svc))
	}

	creditGroup := r.Group("/api/credits")
	creditGroup.Use(authMiddleware)
	{
		creditGroup.GET("/balance", balanceHandler(svc))
		creditGroup.GET("/history", historyHandler(svc))
		creditGroup.GET("/statement", statementHandler(svc))
		creditGroup.POST("/purchase", purchaseHandler(svc))
	}
}

func sendMessageHandler(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := auth.GetUser(c)
		if !ok {
			apperrors.HandleError(c, apperrors.NewAuthenticationError("user not found in context"))
			return
		}

		var req struct {
			Message        string   `json:"message" binding:"required"`
			ConversationID string   `json:"conversationId"`
			FileIDs        []string `json:"fileIds"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			apperrors.HandleError(c, apperrors.NewValidationError("message is required"))
			return
		}

		reply, err := svc.Chat.SendMessage(c.Request.Context(), user, req.ConversationID, req.Message, req.FileIDs)
		if err != nil {
			apperrors.HandleError(c, err)
			return
		}
		c.JSON(http.StatusOK, reply)
	}
}

// uploadFileHandler stages the multipart upload in a temp directory so it can
// be validated before anything leaves the process.
func uploadFileHandler(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := auth.GetUser(c)
		if !ok {
			apperrors.HandleError(c, apperrors.NewAuthenticationError("user not found in context"))
			return
		}

		fileHeader, err := c.FormFile("file")
		if err != nil {
			apperrors.HandleError(c, apperrors.NewValidationError("file is required"))
			return
		}

		tempDir, err := os.MkdirTemp("", "chatbase-upload-")
		if err != nil {
			apperrors.HandleError(c, apperrors.New500Error(err))
			return
		}
		defer os.RemoveAll(tempDir)

		stagedPath := filepath.Join(tempDir, filepath.Base(fileHeader.Filename))
		if err := c.SaveUploadedFile(fileHeader, stagedPath); err != nil {
			apperrors.HandleError(c, apperrors.New500Error(err))
			return
		}

		resp, err := svc.Chat.UploadFile(c.Request.Context(), user, stagedPath, fileHeader.Filename)
		if err != nil {
			apperrors.HandleError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func listConversationsHandler(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := auth.GetUser(c)
		if !ok {
			apperrors.HandleError(c, apperrors.NewAuthenticationError("user not found in context"))
			return
		}

		conversations, err := svc.Chat.Conversations(c.Request.Context(), user)
		if err != nil {
			apperrors.HandleError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"conversations": conversations})
	}
}

func listMessagesHandler(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := auth.GetUser(c)
		if !ok {
			apperrors.HandleError(c, apperrors.NewAuthenticationError("user not found in context"))
			return
		}

		messages, err := svc.Chat.Messages(c.Request.Context(), user, c.Query("conversation_id"))
		if err != nil {
			apperrors.HandleError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"messages": messages})
	}
}

func renameConversationHandler(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := auth.GetUser(c)
		if !ok {
			apperrors.HandleError(c, apperrors.NewAuthenticationError("user not found in context"))
			return
		}

		var req struct {
			Name string `json:"name" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			apperrors.HandleError(c, apperrors.NewValidationError("name is required"))
			return
		}

		if err := svc.Chat.RenameConversation(c.Request.Context(), user, c.Param("id"), req.Name); err != nil {
			apperrors.HandleError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func deleteConversationHandler(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := auth.GetUser(c)
		if !ok {
			apperrors.HandleError(c, apperrors.NewAuthenticationError("user not found in context"))
			return
		}

		if err := svc.Chat.DeleteConversation(c.Request.Context(), user, c.Param("id")); err != nil {
			apperrors.HandleError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func balanceHandler(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := auth.GetUser(c)
		if !ok {
			apperrors.HandleError(c, apperrors.NewAuthenticationError("user not found in context"))
			return
		}

		available, used, err := svc.Ledger.Balance(c.Request.Context(), user.ID)
		if err != nil {
			apperrors.HandleError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"availableCredits": available,
			"usedCredits":      used,
			"lowBalance":       credits.ShouldWarnLow(available),
		})
	}
}

func historyHandler(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := auth.GetUser(c)
		if !ok {
			apperrors.HandleError(c, apperrors.NewAuthenticationError("user not found in context"))
			return
		}

		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		transactions, err := svc.Ledger.History(c.Request.Context(), user.ID, limit)
		if err != nil {
			apperrors.HandleError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"transactions": transactions})
	}
}

func statementHandler(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := auth.GetUser(c)
		if !ok {
			apperrors.HandleError(c, apperrors.NewAuthenticationError("user not found in context"))
			return
		}

		transactions, err := svc.Ledger.History(c.Request.Context(), user.ID, 200)
		if err != nil {
			apperrors.HandleError(c, err)
			return
		}

		pdfBytes, err := svc.Statements.RenderCreditStatement(user, transactions)
		if err != nil {
			apperrors.HandleError(c, apperrors.New500Error(err))
			return
		}

		c.Header("Content-Disposition", fmt.Sprintf(
			"attachment; filename=credit-statement-%s.pdf", time.Now().Format("2006-01-02")))
		c.Data(http.StatusOK, "application/pdf", pdfBytes)
	}
}

func purchaseHandler(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := auth.GetUser(c)
		if !ok {
			apperrors.HandleError(c, apperrors.NewAuthenticationError("user not found in context"))
			return
		}

		limit := svc.Limiter.Check(c.Request.Context(), user.ID.String(), ratelimit.ActionCreditPurchase)
		if !limit.Allowed {
			apperrors.HandleError(c, apperrors.NewRateLimitError(fmt.Sprintf(
				"rate limit exceeded, try again after %s", limit.ResetTime.Format(time.RFC3339))))
			return
		}

		var req struct {
			Credits int64 `json:"credits" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.Credits <= 0 {
			apperrors.HandleError(c, apperrors.NewValidationError("credits must be a positive integer"))
			return
		}

		checkout, err := svc.Stripe.CreateCheckoutSession(user.ID.String(), req.Credits)
		if err != nil {
			apperrors.HandleError(c, apperrors.NewExternalAPIError("failed to create checkout session", err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessionId": checkout.ID, "url": checkout.URL})
	}
}

// stripeWebhookHandler is the only unauthenticated mutation path; the
// signature check stands in for the session.
func stripeWebhookHandler(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBytes))
		if err != nil {
			apperrors.HandleError(c, apperrors.NewValidationError("unreadable webhook payload"))
			return
		}

		event, err := svc.Stripe.HandleWebhook(payload, c.GetHeader("Stripe-Signature"))
		if err != nil {
			apperrors.HandleError(c, apperrors.NewAuthenticationError("invalid webhook signature"))
			return
		}

		if event.Type != stripe.EventTypeCheckoutSessionCompleted {
			c.JSON(http.StatusOK, gin.H{"received": true})
			return
		}

		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			apperrors.HandleError(c, apperrors.NewValidationError("malformed checkout session payload"))
			return
		}

		userID, err := uuid.Parse(session.ClientReferenceID)
		if err != nil {
			apperrors.HandleError(c, apperrors.NewValidationError("checkout session has no valid user reference"))
			return
		}
		grant, err := strconv.ParseInt(session.Metadata["credits"], 10, 64)
		if err != nil || grant <= 0 {
			apperrors.HandleError(c, apperrors.NewValidationError("checkout session has no valid credit amount"))
			return
		}

		result, err := svc.Ledger.AddCredits(c.Request.Context(), userID, grant, "credit_purchase")
		if err != nil {
			apperrors.HandleError(c, err)
			return
		}

		svc.Log.Info().Str("user_id", userID.String()).Int64("credits", grant).
			Msg("credit purchase settled")
		c.JSON(http.StatusOK, gin.H{"received": true, "remainingCredits": result.RemainingCredits})
	}
}

// healthHandler reports database and upstream reachability without requiring
// authentication.
func healthHandler(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		dbStatus := "ok"
		apiStatus := "ok"
		healthy := true

		sqlDB, err := svc.DB.DB()
		if err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			dbStatus = "unreachable"
			healthy = false
		}

		if err := svc.ChatAPI.Ping(c.Request.Context()); err != nil {
			apiStatus = "unreachable"
			healthy = false
		}

		status := http.StatusOK
		overall := "ok"
		if !healthy {
			status = http.StatusServiceUnavailable
			overall = "degraded"
		}

		c.JSON(status, gin.H{
			"status":   overall,
			"database": dbStatus,
			"chatApi":  apiStatus,
			"time":     time.Now().UTC().Format(time.RFC3339),
		})
	}
}
