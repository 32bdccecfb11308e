package main

import (
	"os"
	"time"

	"chatbase_go_backend/cmd/api/config"
	"chatbase_go_backend/internal/api"
	"chatbase_go_backend/internal/auth"
	"chatbase_go_backend/internal/database"
	apperrors "chatbase_go_backend/internal/errors"
	"chatbase_go_backend/internal/ratelimit"
	"chatbase_go_backend/internal/services"
	"chatbase_go_backend/internal/utils/broker"
	"chatbase_go_backend/internal/wsocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	// .env is optional; production injects real environment variables.
	_ = godotenv.Load()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	eventBroker := broker.NewBroker()
	creditService := services.NewCreditService(db, eventBroker, log)

	var limiterStore ratelimit.Store
	if cfg.RedisAddr != "" {
		limiterStore = ratelimit.NewRedisStore(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
		log.Info().Str("addr", cfg.RedisAddr).Msg("rate limiter using redis store")
	} else {
		memStore := ratelimit.NewMemoryStore(0)
		defer memStore.Close()
		limiterStore = memStore
	}
	limiter := ratelimit.NewLimiter(limiterStore, ratelimit.DefaultPolicies, log)

	difyClient := services.NewDifyClient(cfg.DifyAPIKey, cfg.DifyBaseURL, log)
	conversationService := services.NewConversationServiceDB(db)
	userService := services.NewUserService(db, creditService, conversationService, difyClient, log)
	chatService := services.NewChatService(difyClient, creditService, limiter, conversationService, log)
	stripeService := services.NewStripeService(
		cfg.StripePublicKey, cfg.StripeSecretKey, cfg.StripeWebhookSecret,
		cfg.StripeSuccessURL, cfg.StripeCancelURL)
	statementService := services.NewStatementService()

	verifier := auth.NewVerifier(cfg.AuthDomain)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	authMiddleware := auth.AuthMiddleware(verifier, userService)

	auth.SetupRoutes(r, verifier, userService, cfg.IsProduction())
	api.SetupRoutes(r, &api.Services{
		Chat:       chatService,
		Ledger:     creditService,
		Limiter:    limiter,
		Stripe:     stripeService,
		Statements: statementService,
		ChatAPI:    difyClient,
		DB:         db,
		Log:        log,
	}, authMiddleware)

	wsHandler := wsocket.NewHandler(eventBroker, creditService, log)
	r.GET("/api/ws/credits", authMiddleware, func(c *gin.Context) {
		user, ok := auth.GetUser(c)
		if !ok {
			apperrors.HandleError(c, apperrors.NewAuthenticationError("user not found in context"))
			return
		}
		wsHandler.ServeCredits(c, user)
	})

	log.Info().Str("port", cfg.Port).Str("environment", cfg.Environment).Msg("starting server")
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

// requestLogger replaces gin's default logger with structured output.
func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}
