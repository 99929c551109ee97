// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/driftlabs/mixpool/internal/amount"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint for traces (optional)

	// Pool settings
	PoolCurrency     string
	PoolInitialFunds string // BTC decimal string, seeds the reserve on first boot
	ObligationMaxAge time.Duration
	SweepInterval    time.Duration

	// Scheduler settings
	BatchSize        int
	ExecutorInterval time.Duration
	MaxPaymentRetry  int

	// Chain settings
	ChainAPIURL       string // External chain data API (optional, uses simulator if not set)
	ChainPollInterval time.Duration

	// HTTP settings
	CORSOrigins []string // allowed origins, "*" for any
}

const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
	DefaultPoolCurrency     = "BTC"
	DefaultPoolInitialFunds = "100"
	DefaultBatchSize        = 10
	DefaultMaxPaymentRetry  = 3
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:         getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:       os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		PoolCurrency:      getEnv("POOL_CURRENCY", DefaultPoolCurrency),
		PoolInitialFunds:  getEnv("POOL_INITIAL_FUNDS", DefaultPoolInitialFunds),
		ObligationMaxAge:  getEnvDuration("OBLIGATION_MAX_AGE", time.Hour),
		SweepInterval:     getEnvDuration("SWEEP_INTERVAL", 30*time.Second),
		BatchSize:         int(getEnvInt64("BATCH_SIZE", DefaultBatchSize)),
		ExecutorInterval:  getEnvDuration("EXECUTOR_INTERVAL", 10*time.Second),
		MaxPaymentRetry:   int(getEnvInt64("MAX_PAYMENT_RETRY", DefaultMaxPaymentRetry)),
		ChainAPIURL:       os.Getenv("CHAIN_API_URL"),
		ChainPollInterval: getEnvDuration("CHAIN_POLL_INTERVAL", 30*time.Second),
		CORSOrigins:       getEnvList("CORS_ORIGINS", []string{"*"}),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and well-formed
func (c *Config) Validate() error {
	if _, err := amount.FromBTC(c.PoolInitialFunds); err != nil {
		return fmt.Errorf("POOL_INITIAL_FUNDS must be a valid BTC amount: %w", err)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be positive")
	}
	if c.ObligationMaxAge <= 0 {
		return fmt.Errorf("OBLIGATION_MAX_AGE must be positive")
	}
	if c.MaxPaymentRetry < 0 {
		return fmt.Errorf("MAX_PAYMENT_RETRY must not be negative")
	}
	return nil
}

// InitialFundsSats returns the seed reserve amount in satoshis.
// Validate must have passed first.
func (c *Config) InitialFundsSats() int64 {
	return amount.MustFromBTC(c.PoolInitialFunds)
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return parsed
}
