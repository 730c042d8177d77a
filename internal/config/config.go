// Package config loads the server's runtime configuration from the
// environment, with an optional .env file for development.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the full server configuration. Every field is settable via
// a SAINTLIVE_-prefixed environment variable.
type Config struct {
	// Address the HTTP/WebSocket server listens on.
	Address string `envconfig:"ADDRESS" default:":8080"`

	// DatabaseURL is the Postgres connection string. Empty selects the
	// in-memory store, which is for development only.
	DatabaseURL string `envconfig:"DATABASE_URL"`

	// ReconcileInterval between snapshot broadcasts.
	ReconcileInterval time.Duration `envconfig:"RECONCILE_INTERVAL" default:"30s"`

	// SessionTTL for draft report session state.
	SessionTTL time.Duration `envconfig:"SESSION_TTL" default:"24h"`

	// SessionSweepInterval between expired-session sweeps.
	SessionSweepInterval time.Duration `envconfig:"SESSION_SWEEP_INTERVAL" default:"5m"`

	// Upload storage. Backend is "disk" or "s3".
	UploadBackend string `envconfig:"UPLOAD_BACKEND" default:"disk"`
	UploadDir     string `envconfig:"UPLOAD_DIR" default:"./uploads"`
	UploadBaseURL string `envconfig:"UPLOAD_BASE_URL"`
	UploadMaxSize int64  `envconfig:"UPLOAD_MAX_SIZE" default:"10485760"`

	// S3 settings, used when UploadBackend is "s3".
	S3Bucket string `envconfig:"S3_BUCKET"`
	S3Prefix string `envconfig:"S3_PREFIX" default:"attachments/"`

	// LogLevel is debug, info, warn, or error.
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads the configuration from the environment. A .env file in
// the working directory is loaded first if present; real environment
// variables win over it.
func Load() (*Config, error) {
	// Ignore a missing .env; it is a development convenience.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("saintlive", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.UploadBackend {
	case "disk", "s3":
	default:
		return fmt.Errorf("config: unknown upload backend %q", c.UploadBackend)
	}
	if c.UploadBackend == "s3" && c.S3Bucket == "" {
		return fmt.Errorf("config: s3 backend requires SAINTLIVE_S3_BUCKET")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
	return nil
}
