package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/imrishuroy/go-feed-fanout/internal/feed"
)

// Config holds the settings shared by the API and the worker.
type Config struct {
	Environment   string
	LogLevel      string
	RunLocal      bool
	ServerAddress string

	FeedTable        string
	IdempotencyTable string
	IdempotencyTTL   time.Duration
	EventsQueueURL   string

	EnableMetrics    bool
	MetricsNamespace string

	Feed feed.Config
}

// Load reads configuration from the environment. Unset or unparsable values
// fall back to their defaults.
func Load() (*Config, error) {
	def := feed.DefaultConfig()

	cfg := &Config{
		Environment:   getEnv("ENVIRONMENT", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		RunLocal:      getEnvBool("RUN_LOCAL", false),
		ServerAddress: getEnv("SERVER_ADDRESS", ":8080"),

		FeedTable:        getEnv("FEED_TABLE", "feed-items"),
		IdempotencyTable: getEnv("IDEMPOTENCY_TABLE", "feed-events-ledger"),
		IdempotencyTTL:   getEnvDuration("IDEMPOTENCY_TTL", 48*time.Hour),
		EventsQueueURL:   getEnv("FEED_EVENTS_QUEUE_URL", ""),

		EnableMetrics:    getEnvBool("ENABLE_METRICS", false),
		MetricsNamespace: getEnv("METRICS_NAMESPACE", "FeedFanout"),

		Feed: feed.Config{
			TTL:               getEnvDuration("FEED_TTL", def.TTL),
			DefaultPageSize:   getEnvInt("FEED_DEFAULT_PAGE_SIZE", def.DefaultPageSize),
			MaxPageSize:       getEnvInt("FEED_MAX_PAGE_SIZE", def.MaxPageSize),
			PostIndexName:     getEnv("FEED_POST_INDEX", def.PostIndexName),
			FanOutConcurrency: getEnvInt("FANOUT_CONCURRENCY", def.FanOutConcurrency),
			CallTimeout:       getEnvDuration("STORE_CALL_TIMEOUT", def.CallTimeout),
			Delete: feed.DeleteConfig{
				BatchSize:   getEnvInt("DELETE_BATCH_SIZE", def.Delete.BatchSize),
				Concurrency: getEnvInt("DELETE_CONCURRENCY", def.Delete.Concurrency),
				Backoff: feed.BackoffPolicy{
					MaxAttempts:  getEnvInt("DELETE_MAX_ATTEMPTS", def.Delete.Backoff.MaxAttempts),
					InitialDelay: getEnvDuration("DELETE_INITIAL_BACKOFF", def.Delete.Backoff.InitialDelay),
					Multiplier:   def.Delete.Backoff.Multiplier,
					MaxDelay:     getEnvDuration("DELETE_MAX_BACKOFF", def.Delete.Backoff.MaxDelay),
				},
			},
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if all required configuration is present
func (c *Config) Validate() error {
	if c.FeedTable == "" {
		return fmt.Errorf("FEED_TABLE is required")
	}
	if c.IsProduction() && c.EventsQueueURL == "" {
		return fmt.Errorf("FEED_EVENTS_QUEUE_URL is required in production")
	}
	if c.EnableMetrics && c.MetricsNamespace == "" {
		return fmt.Errorf("METRICS_NAMESPACE is required when metrics are enabled")
	}
	return c.Feed.Validate()
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings such as "150ms" or "168h".
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
