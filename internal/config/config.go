// Package config defines the global configuration structure for the
// ReviewPulse service. Configuration is loaded once at process startup and is
// immutable thereafter, following 12-Factor principles: values come from the
// OS environment with a .env file as a development fallback.
//
// Any missing required value or invalid format fails the process immediately
// on startup (fail fast).
package config

import (
	"time"

	"reviewpulse/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. It is populated once during
// process initialization and never modified. Sub-components receive only the
// specific config subsets they require.
type Config struct {
	// System metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"reviewpulse"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain configurations
	Server    ServerConfig
	Database  DatabaseConfig
	Scheduler SchedulerConfig
	Pipeline  PipelineConfig
	LLM       LLMConfig
	Email     EmailConfig
}

// ServerConfig holds HTTP server and public URL configuration for the
// subscription API.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// Public base URL used in unsubscribe links (no trailing slash).
	PublicURL string `envconfig:"PUBLIC_URL" default:"http://localhost:8080"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// SchedulerConfig holds the scheduling loop and misfire policy tunables.
// Defaults mirror the documented policy: 5 minute grace before a firing is
// logged as a misfire, 14 days before a missed occurrence is skipped outright.
type SchedulerConfig struct {
	PollInterval time.Duration `envconfig:"SCHED_POLL_INTERVAL" default:"30s"`
	Workers      int           `envconfig:"SCHED_WORKERS" default:"4" validate:"min=1"`
	GracePeriod  time.Duration `envconfig:"SCHED_GRACE_PERIOD" default:"5m"`
	SkipAfter    time.Duration `envconfig:"SCHED_SKIP_AFTER" default:"336h"` // 14 days
}

// PipelineConfig holds orchestration tunables.
type PipelineConfig struct {
	// SamplesPerRating caps feedback items kept per star rating after cleaning.
	SamplesPerRating int `envconfig:"PIPELINE_SAMPLES_PER_RATING" default:"15" validate:"min=1"`
	// StaleProcessingAfter is the staleness policy for batches abandoned in
	// the processing state by a crashed run; older batches become claimable.
	StaleProcessingAfter time.Duration `envconfig:"PIPELINE_STALE_PROCESSING_AFTER" default:"6h"`
}

// LLMConfig holds the theme/synthesis model endpoint configuration.
type LLMConfig struct {
	APIKey  SecretString  `envconfig:"LLM_API_KEY" validate:"required"`
	BaseURL string        `envconfig:"LLM_BASE_URL" default:"https://api.openai.com"`
	Model   string        `envconfig:"LLM_MODEL" default:"gpt-4o-mini"`
	Timeout time.Duration `envconfig:"LLM_TIMEOUT" default:"60s"`
}

// EmailConfig holds email delivery provider credentials.
type EmailConfig struct {
	SendGridAPIKey SecretString `envconfig:"SENDGRID_API_KEY" validate:"required"`
	FromAddress    string       `envconfig:"EMAIL_FROM_ADDRESS" default:"pulse@reviewpulse.io"`
	FromName       string       `envconfig:"EMAIL_FROM_NAME" default:"ReviewPulse Weekly"`
	Enabled        bool         `envconfig:"EMAIL_ENABLED" default:"true"`
}
