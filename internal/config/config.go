package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Storage
	DatabaseURL   string `env:"DATABASE_URL,required"`
	RedisAddr     string `env:"REDIS_ADDR,required"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Server
	APIPort int    `env:"API_PORT" envDefault:"8080"`
	APIKey  string `env:"API_KEY"`
	AppEnv  string `env:"APP_ENV" envDefault:"development"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // "json" or "text"

	// Provider
	ProviderBaseURL      string `env:"PROVIDER_BASE_URL,required"`
	ProviderTokenURL     string `env:"PROVIDER_TOKEN_URL"`
	ProviderClientID     string `env:"PROVIDER_CLIENT_ID"`
	ProviderClientSecret string `env:"PROVIDER_CLIENT_SECRET"`

	// Webhook callback prefix, e.g. https://api.example.com
	WebhookBaseURL string `env:"WEBHOOK_BASE_URL,required"`

	// Subscriptions
	SubscriptionLifetime     time.Duration `env:"SUBSCRIPTION_LIFETIME" envDefault:"72h"`
	RenewalThreshold         time.Duration `env:"RENEWAL_THRESHOLD" envDefault:"48h"`
	RenewalInterval          time.Duration `env:"RENEWAL_INTERVAL" envDefault:"1h"`
	RenewalConcurrency       int           `env:"RENEWAL_CONCURRENCY" envDefault:"10"`
	SubscriptionErrorCeiling int           `env:"SUBSCRIPTION_ERROR_CEILING" envDefault:"5"`

	// Notification queue
	QueueTick            time.Duration `env:"QUEUE_TICK" envDefault:"5s"`
	QueueMaxConcurrent   int           `env:"QUEUE_MAX_CONCURRENT" envDefault:"10"`
	QueueMaxRetries      int           `env:"QUEUE_MAX_RETRIES" envDefault:"3"`
	QueueBaseDelay       time.Duration `env:"QUEUE_BASE_DELAY" envDefault:"30s"`
	QueueMaxDelay        time.Duration `env:"QUEUE_MAX_DELAY" envDefault:"1h"`
	QueueLeaseTimeout    time.Duration `env:"QUEUE_LEASE_TIMEOUT" envDefault:"10m"`
	QueueJanitorInterval time.Duration `env:"QUEUE_JANITOR_INTERVAL" envDefault:"1m"`
	QueueDeadLetter      bool          `env:"QUEUE_DEAD_LETTER" envDefault:"true"`

	// Quota governor
	QuotaReadLimit          int64         `env:"QUOTA_READ_LIMIT" envDefault:"10000"`
	QuotaReadWindow         time.Duration `env:"QUOTA_READ_WINDOW" envDefault:"10m"`
	QuotaSubscriptionLimit  int64         `env:"QUOTA_SUBSCRIPTION_LIMIT" envDefault:"500"`
	QuotaSubscriptionWindow time.Duration `env:"QUOTA_SUBSCRIPTION_WINDOW" envDefault:"1h"`
	QuotaBulkLimit          int64         `env:"QUOTA_BULK_LIMIT" envDefault:"100"`
	QuotaBulkWindow         time.Duration `env:"QUOTA_BULK_WINDOW" envDefault:"1h"`
	QuotaDegradeOnError     bool          `env:"QUOTA_DEGRADE_ON_ERROR" envDefault:"true"`
	QuotaRetention          time.Duration `env:"QUOTA_RETENTION" envDefault:"24h"`

	// Response matching
	MatchThreshold    float64       `env:"MATCH_THRESHOLD" envDefault:"0.8"`
	ResponseWindow    time.Duration `env:"RESPONSE_WINDOW" envDefault:"168h"`
	AutoReplyFiltering bool         `env:"AUTO_REPLY_FILTERING" envDefault:"true"`

	// Inbound rate limiting
	RateLimitRequests float64 `env:"RATE_LIMIT_REQUESTS" envDefault:"10"`
	RateLimitBurst    int     `env:"RATE_LIMIT_BURST" envDefault:"20"`

	// WebSocket origins allowed to consume tracking events
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`
}

// Load reads configuration from environment variables, with an optional
// .env file for local development
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.AppEnv == "production" {
		if err := cfg.ValidateProduction(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("API_PORT must be between 1 and 65535")
	}
	if c.QueueMaxConcurrent <= 0 {
		return fmt.Errorf("QUEUE_MAX_CONCURRENT must be positive")
	}
	if c.QueueMaxRetries < 0 {
		return fmt.Errorf("QUEUE_MAX_RETRIES cannot be negative")
	}
	if c.QueueBaseDelay <= 0 || c.QueueMaxDelay < c.QueueBaseDelay {
		return fmt.Errorf("queue delays must satisfy 0 < QUEUE_BASE_DELAY <= QUEUE_MAX_DELAY")
	}
	if c.RenewalThreshold >= c.SubscriptionLifetime {
		return fmt.Errorf("RENEWAL_THRESHOLD must be shorter than SUBSCRIPTION_LIFETIME")
	}
	if c.RenewalConcurrency <= 0 {
		return fmt.Errorf("RENEWAL_CONCURRENCY must be positive")
	}
	if c.MatchThreshold < 0 || c.MatchThreshold > 1 {
		return fmt.Errorf("MATCH_THRESHOLD must be in [0,1]")
	}
	if !strings.HasPrefix(c.WebhookBaseURL, "http") {
		return fmt.Errorf("WEBHOOK_BASE_URL must be an absolute URL")
	}
	return nil
}

// ValidateProduction performs additional validation for production environment
func (c *Config) ValidateProduction() error {
	if c.APIKey == "" {
		return fmt.Errorf("API_KEY is required in production")
	}
	if strings.Contains(c.DatabaseURL, "sslmode=disable") {
		return fmt.Errorf("sslmode=disable is not allowed in production")
	}
	if !strings.HasPrefix(c.WebhookBaseURL, "https://") {
		return fmt.Errorf("WEBHOOK_BASE_URL must use https in production")
	}
	return nil
}

// LogConfig logs configuration values (excluding secrets)
func (c *Config) LogConfig(logger *slog.Logger) {
	logger.Info("configuration loaded",
		slog.Int("api_port", c.APIPort),
		slog.String("app_env", c.AppEnv),
		slog.String("log_level", c.LogLevel),
		slog.Bool("api_key_set", c.APIKey != ""),
		slog.String("provider_base_url", c.ProviderBaseURL),
		slog.String("webhook_base_url", c.WebhookBaseURL),
		slog.Duration("subscription_lifetime", c.SubscriptionLifetime),
		slog.Duration("renewal_threshold", c.RenewalThreshold),
		slog.Duration("queue_tick", c.QueueTick),
		slog.Int("queue_max_concurrent", c.QueueMaxConcurrent),
		slog.Int("queue_max_retries", c.QueueMaxRetries),
		slog.Bool("queue_dead_letter", c.QueueDeadLetter),
		slog.Bool("quota_degrade_on_error", c.QuotaDegradeOnError),
		slog.Float64("match_threshold", c.MatchThreshold),
		slog.Duration("response_window", c.ResponseWindow),
	)
}
