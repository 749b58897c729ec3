package feed

import (
	"fmt"
	"math"
	"time"
)

// MaxBatchSize is the largest delete batch a single store call accepts.
const MaxBatchSize = 25

// Config tunes the feed core. Use DefaultConfig and override fields.
type Config struct {
	TTL               time.Duration // lifetime of a fanned-out item
	DefaultPageSize   int
	MaxPageSize       int
	PostIndexName     string // by-post secondary index
	FanOutConcurrency int    // recipient writes in flight
	CallTimeout       time.Duration
	Delete            DeleteConfig
}

// DeleteConfig tunes the cleanup engine.
type DeleteConfig struct {
	BatchSize   int
	Concurrency int // batches in flight
	Backoff     BackoffPolicy
}

// BackoffPolicy is the retry schedule for unprocessed batch deletes.
// MaxAttempts counts the first try.
type BackoffPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		TTL:               7 * 24 * time.Hour,
		DefaultPageSize:   20,
		MaxPageSize:       100,
		PostIndexName:     "post_id-index",
		FanOutConcurrency: 16,
		Delete: DeleteConfig{
			BatchSize:   MaxBatchSize,
			Concurrency: 10,
			Backoff: BackoffPolicy{
				MaxAttempts:  3,
				InitialDelay: 100 * time.Millisecond,
				Multiplier:   2,
				MaxDelay:     5 * time.Second,
			},
		},
	}
}

// Validate checks the config for values the core cannot run with.
func (c Config) Validate() error {
	switch {
	case c.TTL <= 0:
		return fmt.Errorf("feed config: TTL must be positive")
	case c.DefaultPageSize <= 0 || c.MaxPageSize <= 0:
		return fmt.Errorf("feed config: page sizes must be positive")
	case c.DefaultPageSize > c.MaxPageSize:
		return fmt.Errorf("feed config: default page size %d exceeds max %d", c.DefaultPageSize, c.MaxPageSize)
	case c.PostIndexName == "":
		return fmt.Errorf("feed config: post index name is required")
	case c.FanOutConcurrency <= 0:
		return fmt.Errorf("feed config: fan-out concurrency must be positive")
	case c.CallTimeout < 0:
		return fmt.Errorf("feed config: call timeout must not be negative")
	}
	return c.Delete.validate()
}

func (d DeleteConfig) validate() error {
	switch {
	case d.BatchSize <= 0 || d.BatchSize > MaxBatchSize:
		return fmt.Errorf("feed config: delete batch size must be in 1..%d", MaxBatchSize)
	case d.Concurrency <= 0:
		return fmt.Errorf("feed config: delete concurrency must be positive")
	case d.Backoff.MaxAttempts <= 0:
		return fmt.Errorf("feed config: max attempts must be positive")
	case d.Backoff.InitialDelay < 0 || d.Backoff.MaxDelay < 0:
		return fmt.Errorf("feed config: backoff delays must not be negative")
	case d.Backoff.Multiplier < 1:
		return fmt.Errorf("feed config: backoff multiplier must be >= 1")
	}
	return nil
}

// Delay returns the wait before attempt n+1, given that attempt n (1-based) left work.
func (b BackoffPolicy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := float64(b.InitialDelay) * math.Pow(b.Multiplier, float64(n-1))
	if b.MaxDelay > 0 && d > float64(b.MaxDelay) {
		return b.MaxDelay
	}
	return time.Duration(d)
}
