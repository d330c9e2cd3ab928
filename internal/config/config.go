// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrMaxConcurrentJobsInvalid is returned when MAX_CONCURRENT_JOBS is < 1.
	ErrMaxConcurrentJobsInvalid = errors.New("config: MAX_CONCURRENT_JOBS must be >= 1")
	// ErrNoProvidersConfigured is returned when no AI provider is reachable.
	ErrNoProvidersConfigured = errors.New("config: no AI provider API keys or fallback chain file configured")
)

// Config holds all configuration for the queue daemon.
type Config struct {
	// StagingDir is the root directory for queue.db, per-job inputs/outputs
	// and scratch space. videos/, exports/ and temp/ are created beneath it.
	StagingDir string `env:"STAGING_DIR, default=storage" json:"staging_dir"`

	// SecureErase, when "true" or "1", makes file removal perform three
	// random-overwrite passes and one zero pass (each fsynced) before
	// unlinking. Otherwise a plain unlink is used.
	SecureErase bool `env:"SECURE_ERASE, default=false" json:"secure_erase"`

	// MaxConcurrentJobs bounds how many jobs may be in the processing state
	// at once. Must be >= 1.
	MaxConcurrentJobs int `env:"MAX_CONCURRENT_JOBS, default=1" json:"max_concurrent_jobs"`

	// AutoStart, when true, allows newly submitted jobs to begin processing
	// immediately (subject to the paused flag and concurrency bound).
	AutoStart bool `env:"AUTO_START, default=true" json:"auto_start"`

	// FFmpegPath and FFprobePath locate the external video toolchain
	// binaries. Empty means "resolve via PATH".
	FFmpegPath  string `env:"FFMPEG_PATH" json:"ffmpeg_path,omitempty"`
	FFprobePath string `env:"FFPROBE_PATH" json:"ffprobe_path,omitempty"`

	// AI provider keys, consumed only by the AI fallback adapters.
	GeminiAPIKey   string `env:"GEMINI_API_KEY" json:"-"`
	OpenAIAPIKey   string `env:"OPENAI_API_KEY" json:"-"`
	DeepSeekAPIKey string `env:"DEEPSEEK_API_KEY" json:"-"`

	// FallbackChainPath optionally points at a YAML file describing the
	// ordered AI model chain. When empty, the chain is built from the
	// provider keys above in a fixed default order.
	FallbackChainPath string `env:"FALLBACK_CHAIN_PATH" json:"fallback_chain_path,omitempty"`

	// Optional S3 result archival.
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"`

	// MetricsAddr, when non-empty, serves Prometheus metrics on this address
	// (e.g. ":9090"). Empty disables the metrics listener.
	MetricsAddr string `env:"METRICS_ADDR" json:"metrics_addr,omitempty"`

	// Logging settings.
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"`
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`
}

// S3Enabled returns true if S3 result archival is configured.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// Load reads configuration from environment variables using go-envconfig.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Validate checks that configuration values are internally consistent.
func (c *Config) Validate() error {
	if c.MaxConcurrentJobs < 1 {
		return ErrMaxConcurrentJobsInvalid
	}
	if c.GeminiAPIKey == "" && c.OpenAIAPIKey == "" && c.DeepSeekAPIKey == "" && c.FallbackChainPath == "" {
		return ErrNoProvidersConfigured
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{StagingDir: %s, MaxConcurrentJobs: %d, AutoStart: %t, SecureErase: %t, S3Bucket: %s, LogFormat: %s, LogLevel: %s}",
		c.StagingDir, c.MaxConcurrentJobs, c.AutoStart, c.SecureErase, c.S3Bucket, c.LogFormat, c.LogLevel,
	)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ShutdownTimeout bounds how long the daemon waits for the metrics server
// to shut down after a shutdown signal. In-flight jobs are not waited for;
// the store is closed by a deferred Close when the daemon returns.
const ShutdownTimeout = 30 * time.Second
