package config

import "testing"

func setRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/qms_webhooks")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Port: got %q, want 8080", cfg.Port)
	}
	if cfg.NumWorkers != 20 {
		t.Errorf("NumWorkers: got %d, want 20", cfg.NumWorkers)
	}
	if cfg.RetryPollSeconds != 30 {
		t.Errorf("RetryPollSeconds: got %d, want 30", cfg.RetryPollSeconds)
	}
	if cfg.RetentionDays != 90 {
		t.Errorf("RetentionDays: got %d, want 90", cfg.RetentionDays)
	}
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "9000")
	t.Setenv("NUM_WORKERS", "5")
	t.Setenv("RETENTION_DAYS", "30")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "9000" || cfg.NumWorkers != 5 || cfg.RetentionDays != 30 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
}

func TestLoad_RequiredVars(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	if _, err := Load(); err == nil {
		t.Error("missing DATABASE_URL should be an error")
	}

	t.Setenv("DATABASE_URL", "postgres://localhost/qms_webhooks")
	t.Setenv("REDIS_URL", "")
	if _, err := Load(); err == nil {
		t.Error("missing REDIS_URL should be an error")
	}
}

func TestLoad_RejectsZeroWorkers(t *testing.T) {
	setRequired(t)
	t.Setenv("NUM_WORKERS", "0")
	if _, err := Load(); err == nil {
		t.Error("NUM_WORKERS=0 should be an error")
	}
}

func TestLoad_IgnoresMalformedInt(t *testing.T) {
	setRequired(t)
	t.Setenv("NUM_WORKERS", "many")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.NumWorkers != 20 {
		t.Errorf("malformed int should fall back to default, got %d", cfg.NumWorkers)
	}
}
