package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string

	// Spot oracle
	SpotAPIURL   string
	SpotAPIKey   string
	SpotCacheTTL time.Duration
	SpotTimeout  time.Duration

	// Pricing
	ShippingFlatUsd     float64
	ShippingFreeOverUsd float64
	ProcessingFeeRate   float64
	PriceLockTTL        time.Duration

	// Carts
	CartTTL time.Duration

	// Catalog
	CatalogCacheTTL time.Duration

	// Payments
	StripeSecretKey     string
	StripeWebhookSecret string
	WebhookReplayTTL    time.Duration
	IdempotencyTTL      time.Duration
	Currency            string

	// Settlement ledger (Google Sheets)
	SheetsSpreadsheetID       string
	SheetsRange               string
	SheetsServiceAccountEmail string
	SheetsServiceAccountKey   string
	LedgerTimeout             time.Duration

	// Rate limiting: a coarse formatted rate for the whole API surface and a
	// tighter sliding window for the polled spot endpoint.
	APIRateLimit   string
	SpotRateMax    int
	SpotRateWindow time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		SpotAPIURL:   k.String("SPOT_API_URL"),
		SpotAPIKey:   k.String("SPOT_API_KEY"),
		SpotCacheTTL: parseDuration(k.String("SPOT_CACHE_TTL"), "15s"),
		SpotTimeout:  parseDuration(k.String("SPOT_TIMEOUT"), "5s"),

		ShippingFlatUsd:     parseFloat(k.String("SHIPPING_FLAT_USD"), 15),
		ShippingFreeOverUsd: parseFloat(k.String("SHIPPING_FREE_OVER_USD"), 500),
		ProcessingFeeRate:   parseFloat(k.String("PROCESSING_FEE_RATE"), 0.055),
		PriceLockTTL:        parseDuration(k.String("PRICE_LOCK_TTL"), "10m"),

		CartTTL: parseDuration(k.String("CART_TTL"), "168h"),

		CatalogCacheTTL: parseDuration(k.String("CATALOG_CACHE_TTL"), "5m"),

		StripeSecretKey:     k.String("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: k.String("STRIPE_WEBHOOK_SECRET"),
		WebhookReplayTTL:    parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),
		IdempotencyTTL:      parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		Currency:            valueOrDefault(k.String("CURRENCY"), "usd"),

		SheetsSpreadsheetID:       k.String("GOOGLE_SHEETS_SPREADSHEET_ID"),
		SheetsRange:               valueOrDefault(k.String("GOOGLE_SHEETS_RANGE"), "Orders!A:Z"),
		SheetsServiceAccountEmail: k.String("GOOGLE_SERVICE_ACCOUNT_EMAIL"),
		SheetsServiceAccountKey:   k.String("GOOGLE_SERVICE_ACCOUNT_KEY"),
		LedgerTimeout:             parseDuration(k.String("LEDGER_TIMEOUT"), "10s"),

		APIRateLimit:   valueOrDefault(k.String("API_RATE_LIMIT"), "600-M"),
		SpotRateMax:    parseInt(k.String("SPOT_RATE_MAX"), 120),
		SpotRateWindow: parseDuration(k.String("SPOT_RATE_WINDOW"), "1m"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.SpotAPIURL == "" {
		return nil, errors.New("SPOT_API_URL is required")
	}
	if cfg.StripeSecretKey == "" {
		return nil, errors.New("STRIPE_SECRET_KEY is required")
	}
	if cfg.StripeWebhookSecret == "" {
		return nil, errors.New("STRIPE_WEBHOOK_SECRET is required")
	}
	if cfg.ProcessingFeeRate <= 0 || cfg.ProcessingFeeRate >= 1 {
		return nil, fmt.Errorf("PROCESSING_FEE_RATE must be in (0, 1), got %v", cfg.ProcessingFeeRate)
	}
	if cfg.PriceLockTTL <= 0 {
		return nil, errors.New("PRICE_LOCK_TTL must be positive")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	var f float64
	if _, err := fmt.Sscanf(trimmed, "%g", &f); err != nil {
		return fallback
	}
	return f
}
