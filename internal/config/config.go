// Package config loads the relay's environment-driven configuration: a
// best-effort .env load followed by typed os.Getenv reads with explicit
// defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every environment-driven key recognized by the relay.
type Config struct {
	Environment string
	LogLevel    string
	LogFormat   string

	DatabaseURL string
	RedisURL    string

	UpstreamBaseURL string
	UpstreamToken   string
	StreamURL       string

	WorkerConcurrency int
	QueueVisibility   time.Duration
	QueueMaxAttempts  int
	QueueRetryBase    time.Duration
	QueueRetryCap     time.Duration

	DetectorInterval time.Duration
	MinVolume        float64
	MinTrades        int
	MinWinRate       float64

	IngestPollInterval time.Duration
	IngestPollBatch    int
	DedupLRUSize       int
	StreamBackoffBase  time.Duration
	StreamBackoffCap   time.Duration
	StreamMaxAttempts  int

	HTTPTimeout     time.Duration
	ExchangeTimeout time.Duration

	MetricsAddr string
	HTTPAddr    string
}

// Load reads configuration from the environment, first attempting to load
// a .env file into the process environment (ignored if absent — a
// missing .env is never treated as fatal).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "console"),

		DatabaseURL: getEnv("DATABASE_URL", "postgres://localhost:5432/copytrade?sslmode=disable"),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),

		UpstreamBaseURL: getEnv("UPSTREAM_BASE_URL", "https://api.polymarket.example/v1"),
		UpstreamToken:   getEnv("UPSTREAM_TOKEN", ""),
		StreamURL:       getEnv("STREAM_URL", "wss://stream.polymarket.example/ws"),

		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 10),
		QueueVisibility:   getEnvDuration("QUEUE_VISIBILITY_TIMEOUT", 60*time.Second),
		QueueMaxAttempts:  getEnvInt("QUEUE_MAX_ATTEMPTS", 5),
		QueueRetryBase:    getEnvDuration("QUEUE_RETRY_BASE", 1*time.Second),
		QueueRetryCap:     getEnvDuration("QUEUE_RETRY_CAP", 5*time.Minute),

		DetectorInterval: getEnvDuration("DETECTOR_INTERVAL", 5*time.Minute),
		MinVolume:        getEnvFloat("DETECTOR_MIN_VOLUME", 50000),
		MinTrades:        getEnvInt("DETECTOR_MIN_TRADES", 25),
		MinWinRate:       getEnvFloat("DETECTOR_MIN_WIN_RATE", 0.55),

		IngestPollInterval: getEnvDuration("INGEST_POLL_INTERVAL", 5*time.Second),
		IngestPollBatch:    getEnvInt("INGEST_POLL_BATCH", 10),
		DedupLRUSize:       getEnvInt("INGEST_DEDUP_LRU_SIZE", 10000),
		StreamBackoffBase:  getEnvDuration("STREAM_BACKOFF_BASE", 1*time.Second),
		StreamBackoffCap:   getEnvDuration("STREAM_BACKOFF_CAP", 60*time.Second),
		StreamMaxAttempts:  getEnvInt("STREAM_MAX_ATTEMPTS", 10),

		HTTPTimeout:     getEnvDuration("HTTP_TIMEOUT", 10*time.Second),
		ExchangeTimeout: getEnvDuration("EXCHANGE_TIMEOUT", 30*time.Second),

		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects nonsensical configuration at startup instead of at
// first use deep inside a worker.
func (c *Config) Validate() error {
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("worker concurrency must be >= 1, got %d", c.WorkerConcurrency)
	}
	if c.QueueMaxAttempts < 1 {
		return fmt.Errorf("queue max attempts must be >= 1, got %d", c.QueueMaxAttempts)
	}
	if c.HTTPTimeout <= 0 || c.ExchangeTimeout <= 0 {
		return fmt.Errorf("http and exchange timeouts must be positive")
	}
	if c.DedupLRUSize < 1 {
		return fmt.Errorf("dedup LRU size must be >= 1, got %d", c.DedupLRUSize)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return fallback
}
