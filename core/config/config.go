package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/NEAR-DevHub/devbot/core/db"
)

type Config struct {
	OTel     OTelConfig
	GitHub   GitHubConfig
	Poller   PollerConfig
	Pipeline PipelineConfig
	Messages MessagesConfig
	Env      string
	Port     string
	NodeID   int64
	DB       db.Config
}

type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
	SampleRatio    float64
}

type GitHubConfig struct {
	Token     string
	BotHandle string
	// APIURL overrides the REST base URL (GitHub Enterprise, tests).
	APIURL string
}

type PollerConfig struct {
	Interval      time.Duration
	Concurrency   int
	StaleAfter    time.Duration
	SweepInterval time.Duration
	Mode          Mode
}

type PipelineConfig struct {
	RedisURL       string
	RedisStream    string
	RedisGroup     string
	RedisDLQStream string
	RedisConsumer  string
	ReceiptStream  string
	CursorKey      string
	MaxAttempts    int
	ReclaimIdle    time.Duration
	ReclaimEvery   time.Duration
}

type MessagesConfig struct {
	File            string
	Link            string
	LeaderboardLink string
	Form            string
}

// Mode selects how the bot hands events to the executor.
type Mode string

const (
	// ModeInline executes commands inside the poll cycle.
	ModeInline Mode = "inline"
	// ModeQueue publishes events to a Redis stream consumed by cmd/worker.
	ModeQueue Mode = "queue"
)

type ServiceType string

const (
	ServiceTypeBot       ServiceType = "bot"
	ServiceTypeWorker    ServiceType = "worker"
	ServiceTypeLedgerCtl ServiceType = "ledgerctl"
)

// Load loads configuration from environment variables.
// In development, it loads from service-specific .env files:
//   - .env.bot for the poller and read API
//   - .env.worker for the queue worker
//
// Falls back to .env if service-specific file doesn't exist.
func Load(serviceType ServiceType) (Config, error) {
	if getEnv("DEVBOT_ENV", "development") == "development" {
		envFile := fmt.Sprintf(".env.%s", serviceType)
		if err := godotenv.Load(envFile); err != nil {
			_ = godotenv.Load(".env")
		}
	}

	cfg := Config{
		Env:    getEnv("DEVBOT_ENV", "development"),
		Port:   getEnv("PORT", "8080"),
		NodeID: getEnvInt64("NODE_ID", 1),
		DB: db.Config{
			DSN:      getEnv("DATABASE_URL", ""),
			MaxConns: getEnvInt32("DB_MAX_CONNS", 10),
			MinConns: getEnvInt32("DB_MIN_CONNS", 2),
		},
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "devbot-"+string(serviceType)),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
			SampleRatio:    getEnvFloat("OTEL_TRACES_SAMPLE_RATIO", 1.0),
		},
		GitHub: GitHubConfig{
			Token:     getEnv("GITHUB_TOKEN", ""),
			BotHandle: getEnv("GITHUB_BOT_HANDLE", ""),
			APIURL:    getEnv("GITHUB_API_URL", ""),
		},
		Poller: PollerConfig{
			Interval:      getEnvDuration("POLL_INTERVAL", time.Minute),
			Concurrency:   getEnvInt("POLL_CONCURRENCY", 8),
			StaleAfter:    getEnvDuration("STALE_AFTER", 14*24*time.Hour),
			SweepInterval: getEnvDuration("STALE_SWEEP_INTERVAL", time.Hour),
			Mode:          Mode(getEnv("POLL_MODE", string(ModeInline))),
		},
		Pipeline: PipelineConfig{
			RedisURL:       getEnv("REDIS_URL", ""),
			RedisStream:    getEnv("REDIS_STREAM", "devbot_events"),
			RedisGroup:     getEnv("REDIS_CONSUMER_GROUP", "devbot_group"),
			RedisDLQStream: getEnv("REDIS_DLQ_STREAM", "devbot_events_dlq"),
			RedisConsumer:  getEnv("REDIS_CONSUMER_NAME", string(serviceType)),
			ReceiptStream:  getEnv("REDIS_RECEIPT_STREAM", ""),
			CursorKey:      getEnv("REDIS_CURSOR_KEY", "devbot:cursor"),
			MaxAttempts:    getEnvInt("REDIS_MAX_ATTEMPTS", 5),
			ReclaimIdle:    getEnvDuration("REDIS_RECLAIM_MIN_IDLE", 2*time.Minute),
			ReclaimEvery:   getEnvDuration("REDIS_RECLAIM_INTERVAL", 30*time.Second),
		},
		Messages: MessagesConfig{
			File:            getEnv("MESSAGES_FILE", ""),
			Link:            getEnv("MESSAGES_LINK", "https://race-of-sloths.com"),
			LeaderboardLink: getEnv("MESSAGES_LEADERBOARD_LINK", "https://race-of-sloths.com/leaderboards"),
			Form:            getEnv("MESSAGES_FORM", ""),
		},
	}

	if err := cfg.validate(serviceType); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate(serviceType ServiceType) error {
	if serviceType == ServiceTypeLedgerCtl {
		return nil
	}

	if c.GitHub.Token == "" || c.GitHub.BotHandle == "" {
		return fmt.Errorf("GITHUB_TOKEN and GITHUB_BOT_HANDLE are required")
	}

	switch c.Poller.Mode {
	case ModeInline:
	case ModeQueue:
		if !c.Pipeline.Enabled() || !c.DB.Enabled() {
			return fmt.Errorf("REDIS_URL and DATABASE_URL are required when POLL_MODE=%s", ModeQueue)
		}
	default:
		return fmt.Errorf("unknown POLL_MODE %q", c.Poller.Mode)
	}

	// The worker shares the ledger with the bot, so it cannot keep its own in memory.
	if serviceType == ServiceTypeWorker && (!c.Pipeline.Enabled() || !c.DB.Enabled()) {
		return fmt.Errorf("REDIS_URL and DATABASE_URL are required for the worker")
	}

	if c.Poller.Concurrency < 1 {
		return fmt.Errorf("POLL_CONCURRENCY must be positive, got %d", c.Poller.Concurrency)
	}

	return nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

func (c PipelineConfig) Enabled() bool {
	return c.RedisURL != ""
}

func (c PipelineConfig) ReceiptsEnabled() bool {
	return c.Enabled() && c.ReceiptStream != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt32(key string, fallback int32) int32 {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(i)
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
