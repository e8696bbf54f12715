// Package config loads janus-bridge settings from the process environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds every tunable named in the operator-facing configuration
// surface. Zero values are never used directly; Load always returns either
// a fully-defaulted Config or an error.
type Config struct {
	AToken string `env:"A_TOKEN"`
	BToken string `env:"B_TOKEN"`

	DatabaseURL string `env:"DATABASE_URL"`
	KVURL       string `env:"KV_URL" envDefault:"redis://localhost:6379/0"`

	RateLimitPerChannel    int `env:"RATE_LIMIT_PER_CHANNEL" envDefault:"5"`
	RateLimitWindowSeconds int `env:"RATE_LIMIT_WINDOW_SECONDS" envDefault:"2"`

	IngestConcurrency   int `env:"INGEST_CONCURRENCY" envDefault:"10"`
	DeliveryConcurrency int `env:"DELIVERY_CONCURRENCY" envDefault:"5"`

	LoopHashTTLSeconds int `env:"LOOP_HASH_TTL" envDefault:"10"`

	CBFailureThreshold int `env:"CB_FAILURE_THRESHOLD" envDefault:"10"`
	CBResetTimeoutMS   int `env:"CB_RESET_TIMEOUT_MS" envDefault:"60000"`

	EditUpdateTTLSeconds int `env:"EDIT_UPDATE_TTL_SECONDS" envDefault:"604800"`

	WebBaseURL string `env:"WEB_BASE_URL" envDefault:"https://platform.app"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	HTTPAddr  string `env:"HTTP_ADDR" envDefault:":8080"`
	JWTSecret string `env:"JWT_SECRET" envDefault:"dev-secret"`

	AdminUsername string `env:"ADMIN_USERNAME" envDefault:"admin"`
	AdminPassword string `env:"ADMIN_PASSWORD" envDefault:"changeme"`
}

// Load parses the environment into a Config, applying defaults for every
// field that has an envDefault tag and validating the fields that have none.
func Load() (Config, error) {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse environment: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("config: DATABASE_URL is required")
	}
	if cfg.AToken == "" || cfg.BToken == "" {
		return Config{}, fmt.Errorf("config: A_TOKEN and B_TOKEN are both required")
	}
	return cfg, nil
}
