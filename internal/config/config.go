// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration.
type Config struct {
	// Server
	Port           string `env:"PORT" envDefault:"8080"`
	FrontendURL    string `env:"FRONTEND_URL"`
	DBPath         string `env:"DB_PATH" envDefault:"./data/snaplist.db"`
	UploadDir      string `env:"UPLOAD_DIR" envDefault:"./data/uploads"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	GRPCHealthPort string `env:"GRPC_HEALTH_PORT"`
	MaxUploadBytes int64  `env:"MAX_UPLOAD_BYTES" envDefault:"8388608"`

	// Sessions
	MissingSessionPolicy string        `env:"MISSING_SESSION_POLICY" envDefault:"auto-create"`
	SessionIdleTTL       time.Duration `env:"SESSION_IDLE_TTL" envDefault:"0s"`

	// Rate limiting of conversation endpoints, per seller.
	RateLimitRequests int           `env:"RATE_LIMIT_REQUESTS" envDefault:"20"`
	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`

	// OpenAI-compatible model endpoint
	OpenAIAPIKey         string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL        string        `env:"OPENAI_BASE_URL"`
	OpenAIChatModel      string        `env:"OPENAI_CHAT_MODEL" envDefault:"gpt-4o"`
	OpenAIVisionModel    string        `env:"OPENAI_VISION_MODEL" envDefault:"gpt-4o"`
	OpenAIEstimatorModel string        `env:"OPENAI_ESTIMATOR_MODEL" envDefault:"gpt-4o"`
	OpenAITemperature    float32       `env:"OPENAI_TEMPERATURE" envDefault:"0.7"`
	OpenAIMaxTokens      int           `env:"OPENAI_MAX_TOKENS" envDefault:"1000"`
	OpenAITimeout        time.Duration `env:"OPENAI_TIMEOUT" envDefault:"60s"`

	// Price research
	PricingSourceTimeout     time.Duration `env:"PRICING_SOURCE_TIMEOUT" envDefault:"15s"`
	PricingSlowSourceTimeout time.Duration `env:"PRICING_SLOW_SOURCE_TIMEOUT" envDefault:"10s"`
	PricingComparatorTimeout time.Duration `env:"PRICING_COMPARATOR_TIMEOUT" envDefault:"8s"`
	PricingEstimatorTimeout  time.Duration `env:"PRICING_ESTIMATOR_TIMEOUT" envDefault:"25s"`
	PricingSearchCeiling     time.Duration `env:"PRICING_SEARCH_CEILING" envDefault:"60s"`
	PricingMaxResults        int           `env:"PRICING_MAX_RESULTS" envDefault:"6"`
	PricingCacheSize         int           `env:"PRICING_CACHE_SIZE" envDefault:"256"`
	PricingCacheTTL          time.Duration `env:"PRICING_CACHE_TTL" envDefault:"30m"`
	PricingBreakerFailures   uint32        `env:"PRICING_BREAKER_FAILURES" envDefault:"5"`
	PricingBreakerCooldown   time.Duration `env:"PRICING_BREAKER_COOLDOWN" envDefault:"2m"`
	PricingScrapersEnabled   bool          `env:"PRICING_SCRAPERS_ENABLED" envDefault:"true"`

	// Conversation transcripts
	ConversationLogEnabled   bool   `env:"CONVERSATION_LOG_ENABLED" envDefault:"false"`
	ConversationLogDir       string `env:"CONVERSATION_LOG_DIR" envDefault:"./data/logs/conversations"`
	ConversationLogQueueSize int    `env:"CONVERSATION_LOG_QUEUE_SIZE" envDefault:"1000"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	cfg.OpenAIAPIKey = strings.TrimSpace(cfg.OpenAIAPIKey)
	cfg.MissingSessionPolicy = strings.ToLower(strings.TrimSpace(cfg.MissingSessionPolicy))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.UploadDir == "" {
		return fmt.Errorf("UPLOAD_DIR cannot be empty")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be > 0")
	}
	switch c.MissingSessionPolicy {
	case "strict", "auto-create":
	default:
		return fmt.Errorf("MISSING_SESSION_POLICY must be strict or auto-create, got %q", c.MissingSessionPolicy)
	}
	if c.SessionIdleTTL < 0 {
		return fmt.Errorf("SESSION_IDLE_TTL cannot be negative")
	}
	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.OpenAIMaxTokens <= 0 {
		return fmt.Errorf("OPENAI_MAX_TOKENS must be > 0")
	}
	if c.PricingMaxResults <= 0 {
		return fmt.Errorf("PRICING_MAX_RESULTS must be > 0")
	}
	if c.PricingCacheSize < 0 {
		return fmt.Errorf("PRICING_CACHE_SIZE cannot be negative")
	}
	if c.ConversationLogEnabled {
		if c.ConversationLogDir == "" {
			return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
		}
		if c.ConversationLogQueueSize <= 0 {
			return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
		}
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the configured frontend.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{strings.TrimRight(c.FrontendURL, "/")}
}

// ParseLogLevel maps LOG_LEVEL onto a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", s)
}
