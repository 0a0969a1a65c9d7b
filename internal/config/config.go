// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Payment processor
	ProcessorSecretKey     string // Stripe secret key
	ProcessorWebhookSecret string // Shared secret for webhook signature verification
	Currency               string // ISO currency code, lower case

	// Fee policy
	PlatformFeeCents  int64  // Flat platform fee added on top of the service fee
	PartnerAShareBPS  int    // Partner A's share of the platform fee, in basis points
	PartnerAAccountID string // Connected account receiving partner A's share
	PartnerBAccountID string // Connected account receiving partner B's share

	// Auto-release policy
	AutoReleaseWorkingDays int    // Working days a job may sit unconfirmed before auto-release
	SweepSchedule          string // Cron expression for the auto-release sweep

	// Outbound notifications
	AMQPURL string // RabbitMQ URL (optional, no-op publisher if not set)

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint for traces (optional)
}

// Defaults
const (
	DefaultPort                   = "8080"
	DefaultEnv                    = "development"
	DefaultLogLevel               = "info"
	DefaultCurrency               = "usd"
	DefaultPlatformFeeCents       = 500
	DefaultPartnerAShareBPS       = 5000 // 50/50 split of the platform fee
	DefaultAutoReleaseWorkingDays = 3
	DefaultSweepSchedule          = "@hourly"
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                   getEnv("PORT", DefaultPort),
		Env:                    getEnv("ENV", DefaultEnv),
		LogLevel:               getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:            os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		ProcessorSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		ProcessorWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		Currency:               getEnv("CURRENCY", DefaultCurrency),
		PlatformFeeCents:       getEnvInt64("PLATFORM_FEE_CENTS", DefaultPlatformFeeCents),
		PartnerAShareBPS:       int(getEnvInt64("PARTNER_A_SHARE_BPS", DefaultPartnerAShareBPS)),
		PartnerAAccountID:      os.Getenv("PARTNER_A_ACCOUNT_ID"),
		PartnerBAccountID:      os.Getenv("PARTNER_B_ACCOUNT_ID"),
		AutoReleaseWorkingDays: int(getEnvInt64("AUTO_RELEASE_WORKING_DAYS", DefaultAutoReleaseWorkingDays)),
		SweepSchedule:          getEnv("SWEEP_SCHEDULE", DefaultSweepSchedule),
		AMQPURL:                os.Getenv("AMQP_URL"),
		OTLPEndpoint:           os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	if c.ProcessorSecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY is required")
	}
	if c.PartnerAAccountID == "" {
		return fmt.Errorf("PARTNER_A_ACCOUNT_ID is required")
	}
	if c.PartnerBAccountID == "" {
		return fmt.Errorf("PARTNER_B_ACCOUNT_ID is required")
	}
	if c.PlatformFeeCents < 0 {
		return fmt.Errorf("PLATFORM_FEE_CENTS must not be negative")
	}
	if c.PartnerAShareBPS < 0 || c.PartnerAShareBPS > 10000 {
		return fmt.Errorf("PARTNER_A_SHARE_BPS must be between 0 and 10000")
	}
	if c.AutoReleaseWorkingDays <= 0 {
		return fmt.Errorf("AUTO_RELEASE_WORKING_DAYS must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}
