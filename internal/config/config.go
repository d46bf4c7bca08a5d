package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	GitHub   GitHubConfig   `yaml:"github"`
	Sync     SyncConfig     `yaml:"sync"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`    // file path for sqlite, connection string for postgres
}

type AuthConfig struct {
	JWTSecret     string `yaml:"jwt_secret"`
	TokenDuration string `yaml:"token_duration"` // e.g. "24h"
}

type GitHubConfig struct {
	BaseURL      string `yaml:"base_url"`
	FetchTimeout string `yaml:"fetch_timeout"`
}

type SyncConfig struct {
	Workers       int    `yaml:"workers"`
	PollInterval  string `yaml:"poll_interval"`
	SweepInterval string `yaml:"sweep_interval"`
	CacheTTL      string `yaml:"cache_ttl"`
	MaxAttempts   int    `yaml:"max_attempts"`
	BackoffBase   string `yaml:"backoff_base"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) ValidateServe() error {
	if c == nil {
		return fmt.Errorf("config is required")
	}
	if c.Auth.JWTSecret == "" || c.Auth.JWTSecret == "change-me-in-production" {
		return fmt.Errorf("TASKHUB_JWT_SECRET must be set to a non-default value")
	}
	if len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("TASKHUB_JWT_SECRET must be at least 16 characters (current length: %d)", len(c.Auth.JWTSecret))
	}
	return nil
}

// Duration parses a duration field, falling back when empty or malformed.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 3000,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "taskhub.db",
		},
		Auth: AuthConfig{
			JWTSecret:     "change-me-in-production",
			TokenDuration: "24h",
		},
		GitHub: GitHubConfig{
			BaseURL:      "https://api.github.com",
			FetchTimeout: "10s",
		},
		Sync: SyncConfig{
			Workers:       2,
			PollInterval:  "250ms",
			SweepInterval: "1h",
			CacheTTL:      "24h",
			MaxAttempts:   3,
			BackoffBase:   "30s",
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TASKHUB_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("TASKHUB_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("TASKHUB_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("TASKHUB_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("TASKHUB_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("TASKHUB_TOKEN_DURATION"); v != "" {
		cfg.Auth.TokenDuration = v
	}
	if v := os.Getenv("TASKHUB_GITHUB_BASE_URL"); v != "" {
		cfg.GitHub.BaseURL = v
	}
	if v := os.Getenv("TASKHUB_GITHUB_FETCH_TIMEOUT"); v != "" {
		cfg.GitHub.FetchTimeout = v
	}
	if v := os.Getenv("TASKHUB_SYNC_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Sync.Workers = n
		}
	}
	if v := os.Getenv("TASKHUB_SYNC_POLL_INTERVAL"); v != "" {
		cfg.Sync.PollInterval = v
	}
	if v := os.Getenv("TASKHUB_SYNC_SWEEP_INTERVAL"); v != "" {
		cfg.Sync.SweepInterval = v
	}
	if v := os.Getenv("TASKHUB_SYNC_CACHE_TTL"); v != "" {
		cfg.Sync.CacheTTL = v
	}
	if v := os.Getenv("TASKHUB_SYNC_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Sync.MaxAttempts = n
		}
	}
	if v := os.Getenv("TASKHUB_SYNC_BACKOFF_BASE"); v != "" {
		cfg.Sync.BackoffBase = v
	}
}
