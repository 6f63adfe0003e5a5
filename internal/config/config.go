// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Redis (optional, in-memory counters if not set)
	RedisURL string

	// Kafka (optional, log-only publisher if not set)
	KafkaBrokers string // comma-separated broker list
	KafkaTopic   string

	// Bank identity baked into generated account numbers
	BankCode   string
	BranchCode string

	// Transfer settings
	OTPTTL         time.Duration
	IdempotencyTTL time.Duration

	// Risk scoring
	Risk RiskConfig

	// Rate limiting
	RateLimitDefaultMax    int
	RateLimitDefaultWindow time.Duration

	// Observability
	OTLPEndpoint string
}

// RiskConfig carries the scoring weights and thresholds. One value per
// deployment, injected into the engine at construction.
type RiskConfig struct {
	HighAmountThreshold float64
	VelocityThreshold   float64
	FrequencyThreshold  int
	ReviewThreshold     float64
	BankingHourStart    int
	BankingHourEnd      int
	HistoryWindowDays   int

	AmountWeight    float64
	TimeWeight      float64
	FrequencyWeight float64
	PatternWeight   float64
	VelocityWeight  float64
}

const (
	DefaultPort           = "8080"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultBankCode       = "12"
	DefaultBranchCode     = "060"
	DefaultOTPTTLMinutes  = 5
	DefaultIdempotencyTTL = 24 * time.Hour
	DefaultKafkaTopic     = "bankledger.transactions"
	DefaultRateLimitMax   = 100
	DefaultRateLimitWin   = 60 * time.Second
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                   getEnv("PORT", DefaultPort),
		Env:                    getEnv("ENV", DefaultEnv),
		LogLevel:               getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		RedisURL:               os.Getenv("REDIS_URL"),
		KafkaBrokers:           os.Getenv("KAFKA_BROKERS"),
		KafkaTopic:             getEnv("KAFKA_TOPIC", DefaultKafkaTopic),
		BankCode:               getEnv("BANK_CODE", DefaultBankCode),
		BranchCode:             getEnv("BRANCH_CODE", DefaultBranchCode),
		OTPTTL:                 time.Duration(getEnvInt64("OTP_TTL_MINUTES", DefaultOTPTTLMinutes)) * time.Minute,
		IdempotencyTTL:         getEnvDuration("IDEMPOTENCY_TTL", DefaultIdempotencyTTL),
		Risk:                   loadRiskConfig(),
		RateLimitDefaultMax:    int(getEnvInt64("RATE_LIMIT_MAX", DefaultRateLimitMax)),
		RateLimitDefaultWindow: getEnvDuration("RATE_LIMIT_WINDOW", DefaultRateLimitWin),
		OTLPEndpoint:           os.Getenv("OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultRiskConfig returns the stock scoring parameters.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		HighAmountThreshold: 10000,
		VelocityThreshold:   50000,
		FrequencyThreshold:  5,
		ReviewThreshold:     0.7,
		BankingHourStart:    9,
		BankingHourEnd:      17,
		HistoryWindowDays:   90,
		AmountWeight:        0.3,
		TimeWeight:          0.1,
		FrequencyWeight:     0.2,
		PatternWeight:       0.2,
		VelocityWeight:      0.2,
	}
}

func loadRiskConfig() RiskConfig {
	rc := DefaultRiskConfig()
	rc.HighAmountThreshold = getEnvFloat("RISK_HIGH_AMOUNT_THRESHOLD", rc.HighAmountThreshold)
	rc.VelocityThreshold = getEnvFloat("RISK_VELOCITY_THRESHOLD", rc.VelocityThreshold)
	rc.FrequencyThreshold = int(getEnvInt64("RISK_FREQUENCY_THRESHOLD", int64(rc.FrequencyThreshold)))
	rc.ReviewThreshold = getEnvFloat("RISK_REVIEW_THRESHOLD", rc.ReviewThreshold)
	return rc
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if len(c.BankCode) != 2 {
		return fmt.Errorf("BANK_CODE must be 2 digits")
	}
	if len(c.BranchCode) != 3 {
		return fmt.Errorf("BRANCH_CODE must be 3 digits")
	}
	if c.OTPTTL < time.Minute {
		return fmt.Errorf("OTP_TTL_MINUTES must be at least 1")
	}
	if w := c.Risk; w.AmountWeight+w.TimeWeight+w.FrequencyWeight+w.PatternWeight+w.VelocityWeight == 0 {
		return fmt.Errorf("risk weights must not all be zero")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
