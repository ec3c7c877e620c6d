package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type DatabaseOptions struct {
	URL string `env:"DATABASE_URL"`
}

type ImportOptions struct {
	BaseDir        string        `env:"IMPORT_BASE_DIR" envDefault:"."`
	StateDir       string        `env:"IMPORT_STATE_DIR" envDefault:"./.import-state"`
	BatchSize      int           `env:"IMPORT_BATCH_SIZE" envDefault:"2000"`
	LockBackend    string        `env:"IMPORT_LOCK_BACKEND" envDefault:"file"`
	LockStaleAfter time.Duration `env:"IMPORT_LOCK_STALE_AFTER" envDefault:"10m"`
	LockHeartbeat  time.Duration `env:"IMPORT_LOCK_HEARTBEAT" envDefault:"0s"`
}

type ProgressOptions struct {
	Backend        string        `env:"PROGRESS_BACKEND" envDefault:"file"`
	ReportEvery    int           `env:"PROGRESS_REPORT_EVERY" envDefault:"1000"`
	ReportInterval time.Duration `env:"PROGRESS_REPORT_INTERVAL" envDefault:"2s"`
	RateWindow     int           `env:"PROGRESS_RATE_WINDOW" envDefault:"5"`
	RedisAddr      string        `env:"REDIS_ADDR"`
	RedisKey       string        `env:"REDIS_PROGRESS_KEY" envDefault:"card-ingest:progress"`
}

type ValidationOptions struct {
	MaxIssues int `env:"VALIDATION_MAX_ISSUES" envDefault:"50"`
}

type Configuration struct {
	Port           string `env:"PORT" envDefault:"8080"`
	LogMode        string `env:"LOG_MODE" envDefault:"development"`
	MetricsEnabled bool   `env:"METRICS_ENABLED" envDefault:"true"`

	Database   DatabaseOptions
	Import     ImportOptions
	Progress   ProgressOptions
	Validation ValidationOptions
}

// LoadEnv loads the env files that exist and returns how many were applied.
func LoadEnv(envFiles []string) (int, error) {
	existing := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

func Load(envFiles ...string) (*Configuration, error) {
	if _, err := LoadEnv(envFiles); err != nil {
		return nil, fmt.Errorf("load env files: %w", err)
	}

	cfg := &Configuration{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Configuration) Validate() error {
	if c.Import.BatchSize <= 0 {
		return fmt.Errorf("IMPORT_BATCH_SIZE must be positive, got %d", c.Import.BatchSize)
	}
	if c.Import.LockStaleAfter <= 0 {
		return fmt.Errorf("IMPORT_LOCK_STALE_AFTER must be positive, got %s", c.Import.LockStaleAfter)
	}
	if c.Import.LockBackend != "file" && c.Import.LockBackend != "memory" {
		return fmt.Errorf("IMPORT_LOCK_BACKEND must be 'file' or 'memory', got '%s'", c.Import.LockBackend)
	}
	if c.Progress.Backend != "file" && c.Progress.Backend != "redis" {
		return fmt.Errorf("PROGRESS_BACKEND must be 'file' or 'redis', got '%s'", c.Progress.Backend)
	}
	if c.Progress.Backend == "redis" && c.Progress.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR is required when PROGRESS_BACKEND is 'redis'")
	}
	if c.Progress.RateWindow < 2 {
		return fmt.Errorf("PROGRESS_RATE_WINDOW must be at least 2, got %d", c.Progress.RateWindow)
	}
	return nil
}

func (c *Configuration) LockPath() string {
	return filepath.Join(c.Import.StateDir, "import.lock")
}

func (c *Configuration) ProgressPath() string {
	return filepath.Join(c.Import.StateDir, "progress.json")
}

func (c *Configuration) LogPath() string {
	return filepath.Join(c.Import.StateDir, "migration.log")
}
