package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port            int
	NatsURL         string
	NatsToken       string
	DatabaseURL     string
	RedisURL        string
	LogLevel        string
	AnthropicAPIKey string
	AnthropicModel  string
	WorkerID        string

	MaxTranscriptLength int
	ProcessingTimeout   time.Duration
	AnalyzerTimeout     time.Duration
	LeaseTTL            time.Duration
	ReaperInterval      time.Duration
	PendingGrace        time.Duration
	WorkerConcurrency   int

	ProfessionalMonthlyLimit int
	BusinessMonthlyLimit     int
	UsageBackend             string
	UsageFailOpen            bool

	CacheTTLProfessional time.Duration
	CacheTTLBusiness     time.Duration

	RetentionDays  int
	ScoringProfile string

	SlackBotToken string
	SlackChannel  string
}

func Load() Config {
	return Config{
		Port:            envInt("DEALINTEL_PORT", 8760),
		NatsURL:         envStr("NATS_URL", "nats://hermes:4222"),
		NatsToken:       envStr("NATS_TOKEN", ""),
		DatabaseURL:     envStr("DATABASE_URL", ""),
		RedisURL:        envStr("REDIS_URL", ""),
		LogLevel:        envStr("LOG_LEVEL", "info"),
		AnthropicAPIKey: envStr("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  envStr("DEALINTEL_MODEL", "claude-sonnet-4-20250514"),
		WorkerID:        envStr("WORKER_ID", defaultWorkerID()),

		MaxTranscriptLength: envInt("MAX_TRANSCRIPT_LENGTH", 50000),
		ProcessingTimeout:   envSeconds("PROCESSING_TIMEOUT_SECONDS", 120),
		AnalyzerTimeout:     envSeconds("ANALYZER_TIMEOUT_SECONDS", 45),
		LeaseTTL:            envSeconds("LEASE_TTL_SECONDS", 150),
		ReaperInterval:      envSeconds("REAPER_INTERVAL_SECONDS", 30),
		PendingGrace:        envSeconds("PENDING_GRACE_SECONDS", 60),
		WorkerConcurrency:   envInt("WORKER_CONCURRENCY", 4),

		ProfessionalMonthlyLimit: envInt("PROFESSIONAL_MONTHLY_LIMIT", 100),
		BusinessMonthlyLimit:     envInt("BUSINESS_MONTHLY_LIMIT", 500),
		UsageBackend:             envStr("USAGE_BACKEND", "postgres"),
		UsageFailOpen:            envBool("USAGE_FAIL_OPEN", false),

		CacheTTLProfessional: envSeconds("CACHE_TTL_PROFESSIONAL_SECONDS", 24*3600),
		CacheTTLBusiness:     envSeconds("CACHE_TTL_BUSINESS_SECONDS", 72*3600),

		RetentionDays:  envInt("RETENTION_DAYS", 90),
		ScoringProfile: envStr("SCORING_PROFILE", ""),

		SlackBotToken: envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:  envStr("SLACK_ALERT_CHANNEL", ""),
	}
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "dealintel-worker"
	}
	return host
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

func envSeconds(key string, fallback int) time.Duration {
	n := envInt(key, fallback)
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * time.Second
}
