package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/odvcencio/taskhub/internal/config"
)

func TestDefaults(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Addr() != "0.0.0.0:3000" {
		t.Fatalf("unexpected addr: %s", cfg.Addr())
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.DSN != "taskhub.db" {
		t.Fatalf("unexpected database defaults: %+v", cfg.Database)
	}
	if cfg.GitHub.BaseURL != "https://api.github.com" {
		t.Fatalf("unexpected github base url: %s", cfg.GitHub.BaseURL)
	}
	if cfg.Sync.Workers != 2 || cfg.Sync.MaxAttempts != 3 {
		t.Fatalf("unexpected sync defaults: %+v", cfg.Sync)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  host: 127.0.0.1
  port: 8080
database:
  driver: postgres
  dsn: postgres://localhost/taskhub
auth:
  jwt_secret: a-long-enough-test-secret
sync:
  workers: 4
  cache_ttl: 6h
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Addr() != "127.0.0.1:8080" {
		t.Fatalf("unexpected addr: %s", cfg.Addr())
	}
	if cfg.Database.Driver != "postgres" {
		t.Fatalf("unexpected driver: %s", cfg.Database.Driver)
	}
	if cfg.Sync.Workers != 4 || cfg.Sync.CacheTTL != "6h" {
		t.Fatalf("unexpected sync config: %+v", cfg.Sync)
	}
	// Fields the file omits keep their defaults.
	if cfg.Sync.MaxAttempts != 3 {
		t.Fatalf("expected default max attempts, got %d", cfg.Sync.MaxAttempts)
	}
	if err := cfg.ValidateServe(); err != nil {
		t.Fatalf("expected valid serve config, got %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TASKHUB_PORT", "9999")
	t.Setenv("TASKHUB_JWT_SECRET", "env-secret-that-is-long")
	t.Setenv("TASKHUB_SYNC_CACHE_TTL", "1h")
	t.Setenv("TASKHUB_SYNC_MAX_ATTEMPTS", "5")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9999 {
		t.Fatalf("expected port override, got %d", cfg.Server.Port)
	}
	if cfg.Auth.JWTSecret != "env-secret-that-is-long" {
		t.Fatal("expected jwt secret override")
	}
	if cfg.Sync.CacheTTL != "1h" || cfg.Sync.MaxAttempts != 5 {
		t.Fatalf("expected sync overrides, got %+v", cfg.Sync)
	}
}

func TestValidateServe(t *testing.T) {
	cfg := config.Default()
	if err := cfg.ValidateServe(); err == nil {
		t.Fatal("default secret must be rejected")
	}
	cfg.Auth.JWTSecret = "short"
	if err := cfg.ValidateServe(); err == nil {
		t.Fatal("short secret must be rejected")
	}
	cfg.Auth.JWTSecret = "a-long-enough-test-secret"
	if err := cfg.ValidateServe(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestDuration(t *testing.T) {
	if got := config.Duration("", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback for empty, got %v", got)
	}
	if got := config.Duration("bogus", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback for malformed, got %v", got)
	}
	if got := config.Duration("-5s", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback for negative, got %v", got)
	}
	if got := config.Duration("90s", time.Minute); got != 90*time.Second {
		t.Fatalf("expected parsed value, got %v", got)
	}
}
