package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// Config carries every runtime setting. Load validates on startup so a
// missing variable fails fast with its name instead of surfacing as a broken
// request later.
type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string

	AuthDomain string

	DatabaseURL string

	DifyAPIKey  string
	DifyBaseURL string

	RedisAddr string // optional; empty selects the in-memory limiter store

	StripePublicKey     string
	StripeSecretKey     string
	StripeWebhookSecret string
	StripeSuccessURL    string
	StripeCancelURL     string
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		Environment:         getEnv("ENVIRONMENT", "development"),
		AuthDomain:          os.Getenv("AUTH_DOMAIN"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		DifyAPIKey:          os.Getenv("DIFY_API_KEY"),
		DifyBaseURL:         getEnv("DIFY_BASE_URL", "https://api.dify.ai/v1"),
		RedisAddr:           os.Getenv("REDIS_ADDR"),
		StripePublicKey:     os.Getenv("STRIPE_PUBLIC_KEY"),
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		StripeSuccessURL:    getEnv("STRIPE_SUCCESS_URL", "http://localhost:3000/credits?status=success"),
		StripeCancelURL:     getEnv("STRIPE_CANCEL_URL", "http://localhost:3000/credits?status=cancelled"),
	}

	origins := getEnv("ALLOWED_ORIGINS", "http://localhost:3000")
	for _, origin := range strings.Split(origins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, trimmed)
		}
	}

	var missing []string
	for name, value := range map[string]string{
		"AUTH_DOMAIN":           cfg.AuthDomain,
		"DATABASE_URL":          cfg.DatabaseURL,
		"DIFY_API_KEY":          cfg.DifyAPIKey,
		"STRIPE_PUBLIC_KEY":     cfg.StripePublicKey,
		"STRIPE_SECRET_KEY":     cfg.StripeSecretKey,
		"STRIPE_WEBHOOK_SECRET": cfg.StripeWebhookSecret,
	} {
		if value == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	return cfg, nil
}

// IsProduction controls things like the Secure flag on session cookies.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
