package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"DEALINTEL_PORT", "NATS_URL", "NATS_TOKEN", "DATABASE_URL", "REDIS_URL", "LOG_LEVEL",
		"ANTHROPIC_API_KEY", "DEALINTEL_MODEL", "MAX_TRANSCRIPT_LENGTH",
		"PROCESSING_TIMEOUT_SECONDS", "PROFESSIONAL_MONTHLY_LIMIT", "BUSINESS_MONTHLY_LIMIT",
		"USAGE_FAIL_OPEN", "USAGE_BACKEND", "RETENTION_DAYS", "SCORING_PROFILE",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.Port != 8760 {
		t.Errorf("expected default port 8760, got %d", cfg.Port)
	}
	if cfg.NatsURL != "nats://hermes:4222" {
		t.Errorf("expected default nats url, got %s", cfg.NatsURL)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level info, got %s", cfg.LogLevel)
	}
	if cfg.MaxTranscriptLength != 50000 {
		t.Errorf("expected max transcript length 50000, got %d", cfg.MaxTranscriptLength)
	}
	if cfg.ProcessingTimeout != 120*time.Second {
		t.Errorf("expected processing timeout 120s, got %s", cfg.ProcessingTimeout)
	}
	if cfg.ProfessionalMonthlyLimit != 100 || cfg.BusinessMonthlyLimit != 500 {
		t.Errorf("unexpected tier limits %d/%d", cfg.ProfessionalMonthlyLimit, cfg.BusinessMonthlyLimit)
	}
	if cfg.UsageFailOpen {
		t.Error("usage limiter should fail closed by default")
	}
	if cfg.UsageBackend != "postgres" {
		t.Errorf("expected postgres usage backend, got %s", cfg.UsageBackend)
	}
	if cfg.RetentionDays != 90 {
		t.Errorf("expected retention 90 days, got %d", cfg.RetentionDays)
	}
	if cfg.WorkerID == "" {
		t.Error("expected a worker id")
	}
}

func TestLoad_CustomValues(t *testing.T) {
	t.Setenv("DEALINTEL_PORT", "9999")
	t.Setenv("REDIS_URL", "redis://cache:6379/0")
	t.Setenv("PROCESSING_TIMEOUT_SECONDS", "30")
	t.Setenv("BUSINESS_MONTHLY_LIMIT", "1000")
	t.Setenv("USAGE_FAIL_OPEN", "true")
	t.Setenv("USAGE_BACKEND", "redis")
	t.Setenv("WORKER_ID", "worker-7")

	cfg := Load()

	if cfg.Port != 9999 {
		t.Errorf("expected port 9999, got %d", cfg.Port)
	}
	if cfg.RedisURL != "redis://cache:6379/0" {
		t.Errorf("expected custom redis url, got %s", cfg.RedisURL)
	}
	if cfg.ProcessingTimeout != 30*time.Second {
		t.Errorf("expected 30s timeout, got %s", cfg.ProcessingTimeout)
	}
	if cfg.BusinessMonthlyLimit != 1000 {
		t.Errorf("expected business limit 1000, got %d", cfg.BusinessMonthlyLimit)
	}
	if !cfg.UsageFailOpen {
		t.Error("expected fail-open to be enabled")
	}
	if cfg.UsageBackend != "redis" {
		t.Errorf("expected redis backend, got %s", cfg.UsageBackend)
	}
	if cfg.WorkerID != "worker-7" {
		t.Errorf("expected worker-7, got %s", cfg.WorkerID)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("DEALINTEL_PORT", "notanumber")
	t.Setenv("PROCESSING_TIMEOUT_SECONDS", "-5")
	t.Setenv("USAGE_FAIL_OPEN", "maybe")

	cfg := Load()

	if cfg.Port != 8760 {
		t.Errorf("expected default port on invalid value, got %d", cfg.Port)
	}
	if cfg.ProcessingTimeout != 120*time.Second {
		t.Errorf("expected default timeout on negative value, got %s", cfg.ProcessingTimeout)
	}
	if cfg.UsageFailOpen {
		t.Error("expected fail-closed on unparsable bool")
	}
}

func TestLoadProfile_Empty(t *testing.T) {
	p, err := LoadProfile("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Scoring.Objections != 0.35 {
		t.Errorf("expected default objection weight, got %f", p.Scoring.Objections)
	}
}

func TestLoadProfile_OverridesSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scoring.toml")
	body := `
competitors = ["acme", "globex"]

[scoring]
talk_ratio = 0.1
objections = 0.6
intent = 0.2
sentiment = 0.1
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Scoring.Objections != 0.6 {
		t.Errorf("expected objections 0.6, got %f", p.Scoring.Objections)
	}
	if p.Importance.DealScore != 0.30 {
		t.Errorf("expected untouched importance default, got %f", p.Importance.DealScore)
	}
	if len(p.Competitors) != 2 || p.Competitors[0] != "acme" {
		t.Errorf("unexpected competitors %v", p.Competitors)
	}
}

func TestLoadProfile_RejectsNegativeWeights(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[scoring]\nintent = -1.0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadProfile(path); err == nil {
		t.Fatal("expected error for negative weight")
	}
}
