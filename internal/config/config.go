// Package config loads server settings from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/mmynk/splitledger/internal/money"
)

type Config struct {
	Port     int    `env:"PORT" envDefault:"8080"`
	DBPath   string `env:"DB_PATH" envDefault:"./data/ledger.db"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	// LogFormat is text or json.
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	// JWTSecret enables authentication when set.
	JWTSecret string        `env:"JWT_SECRET"`
	TokenTTL  time.Duration `env:"TOKEN_TTL" envDefault:"24h"`

	DefaultCurrency string `env:"DEFAULT_CURRENCY" envDefault:"USD"`
	DefaultTimezone string `env:"DEFAULT_TIMEZONE" envDefault:"UTC"`

	// RedisAddr switches idempotency keys from SQLite to Redis.
	RedisAddr      string        `env:"REDIS_ADDR"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
	// ClaimLease is how long an unfinished request keeps its id claimed.
	ClaimLease time.Duration `env:"IDEMPOTENCY_CLAIM_LEASE" envDefault:"1m"`

	StorageRetries int `env:"STORAGE_RETRIES" envDefault:"5"`

	IntegrityCheckInterval time.Duration `env:"INTEGRITY_CHECK_INTERVAL" envDefault:"15m"`
	SweepInterval          time.Duration `env:"IDEMPOTENCY_SWEEP_INTERVAL" envDefault:"1h"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load reads an optional .env file, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.Port))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("DB_PATH is required"))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q must be text or json", c.LogFormat))
	}
	if code, err := money.NormalizeCurrency(c.DefaultCurrency); err != nil {
		errs = append(errs, fmt.Errorf("DEFAULT_CURRENCY: %w", err))
	} else {
		c.DefaultCurrency = code
	}
	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		errs = append(errs, fmt.Errorf("DEFAULT_TIMEZONE: %w", err))
	}
	if c.IdempotencyTTL <= 0 {
		errs = append(errs, errors.New("IDEMPOTENCY_TTL must be positive"))
	}
	if c.ClaimLease <= 0 || c.ClaimLease > c.IdempotencyTTL {
		errs = append(errs, errors.New("IDEMPOTENCY_CLAIM_LEASE must be positive and at most IDEMPOTENCY_TTL"))
	}
	if c.StorageRetries < 1 {
		errs = append(errs, errors.New("STORAGE_RETRIES must be at least 1"))
	}
	if c.IntegrityCheckInterval < 0 || c.SweepInterval < 0 {
		errs = append(errs, errors.New("task intervals must not be negative"))
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < 16 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 16 characters"))
	}
	return errors.Join(errs...)
}

// AuthEnabled reports whether requests must carry a token.
func (c *Config) AuthEnabled() bool {
	return c.JWTSecret != ""
}
