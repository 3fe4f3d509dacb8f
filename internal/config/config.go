package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the VerseCheck server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Inference InferenceConfig
	Limiter   LimiterConfig
	Breaker   BreakerConfig
	Retry     RetryConfig
	Batch     BatchConfig
	Cache     CacheConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type InferenceConfig struct {
	Provider       string
	BaseURL        string
	APIKey         string
	Model          string
	ModelVersion   string
	RequestTimeout time.Duration
}

type LimiterConfig struct {
	RatePerMinute   int
	Burst           int
	MaxConcurrency  int
	PenaltyCooldown time.Duration
}

type BreakerConfig struct {
	FailureThreshold int
	Cooldown         time.Duration
}

type RetryConfig struct {
	MaxRetries   int
	Delays       []time.Duration
	PollInterval time.Duration
}

type BatchConfig struct {
	Workers int
	Limit   int
}

type CacheConfig struct {
	TTL            time.Duration
	MemoryCapacity int
}

var validProviders = map[string]bool{
	"http": true,
	"mock": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("VERSECHECK_PORT", 8080),
			Env:  envString("VERSECHECK_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Inference: InferenceConfig{
			Provider:       envString("INFERENCE_PROVIDER", "http"),
			BaseURL:        os.Getenv("INFERENCE_BASE_URL"),
			APIKey:         os.Getenv("INFERENCE_API_KEY"),
			Model:          envString("INFERENCE_MODEL", "gpt-4o-mini"),
			ModelVersion:   envString("INFERENCE_MODEL_VERSION", "v1"),
			RequestTimeout: envDuration("INFERENCE_REQUEST_TIMEOUT", 180*time.Second),
		},
		Limiter: LimiterConfig{
			RatePerMinute:   envInt("LIMITER_RATE_PER_MINUTE", 450),
			Burst:           envInt("LIMITER_BURST", 450),
			MaxConcurrency:  envInt("LIMITER_MAX_CONCURRENCY", 10),
			PenaltyCooldown: envDuration("LIMITER_PENALTY_COOLDOWN", 15*time.Second),
		},
		Breaker: BreakerConfig{
			FailureThreshold: envInt("BREAKER_FAILURE_THRESHOLD", 5),
			Cooldown:         envDuration("BREAKER_COOLDOWN", 30*time.Second),
		},
		Retry: RetryConfig{
			MaxRetries:   envInt("RETRY_MAX_RETRIES", 3),
			Delays:       envDurations("RETRY_DELAYS", []time.Duration{5 * time.Minute, time.Hour, 6 * time.Hour}),
			PollInterval: envDuration("RETRY_POLL_INTERVAL", time.Minute),
		},
		Batch: BatchConfig{
			Workers: envInt("BATCH_WORKERS", 10),
			Limit:   envInt("BATCH_LIMIT", 100),
		},
		Cache: CacheConfig{
			TTL:            envDuration("CACHE_TTL", 24*time.Hour),
			MemoryCapacity: envInt("CACHE_MEMORY_CAPACITY", 1024),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if !validProviders[c.Inference.Provider] {
		return fmt.Errorf("INFERENCE_PROVIDER must be one of http, mock; got %q", c.Inference.Provider)
	}
	if c.Inference.Provider == "http" {
		if c.Inference.BaseURL == "" {
			return fmt.Errorf("INFERENCE_BASE_URL is required when INFERENCE_PROVIDER is http")
		}
		if !strings.HasPrefix(c.Inference.BaseURL, "http://") && !strings.HasPrefix(c.Inference.BaseURL, "https://") {
			return fmt.Errorf("INFERENCE_BASE_URL must start with http:// or https://, got %q", c.Inference.BaseURL)
		}
	}
	if c.Inference.ModelVersion == "" {
		return fmt.Errorf("INFERENCE_MODEL_VERSION must not be empty")
	}

	if c.Limiter.RatePerMinute <= 0 {
		return fmt.Errorf("LIMITER_RATE_PER_MINUTE must be positive, got %d", c.Limiter.RatePerMinute)
	}
	if c.Limiter.MaxConcurrency <= 0 {
		return fmt.Errorf("LIMITER_MAX_CONCURRENCY must be positive, got %d", c.Limiter.MaxConcurrency)
	}

	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("RETRY_MAX_RETRIES must not be negative, got %d", c.Retry.MaxRetries)
	}
	if len(c.Retry.Delays) == 0 {
		return fmt.Errorf("RETRY_DELAYS must contain at least one delay")
	}

	if c.Batch.Workers <= 0 {
		return fmt.Errorf("BATCH_WORKERS must be positive, got %d", c.Batch.Workers)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// envDurations parses a comma-separated list of durations, e.g. "5m,1h,6h".
func envDurations(key string, defaultVal []time.Duration) []time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []time.Duration
	for _, part := range strings.Split(v, ",") {
		d, err := time.ParseDuration(strings.TrimSpace(part))
		if err != nil {
			return defaultVal
		}
		out = append(out, d)
	}
	return out
}
