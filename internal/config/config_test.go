package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"STAGING_DIR", "SECURE_ERASE", "MAX_CONCURRENT_JOBS", "AUTO_START",
		"FFMPEG_PATH", "FFPROBE_PATH", "GEMINI_API_KEY", "OPENAI_API_KEY",
		"DEEPSEEK_API_KEY", "FALLBACK_CHAIN_PATH", "S3_BUCKET", "S3_REGION",
		"AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY", "METRICS_ADDR",
		"LOG_FORMAT", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "storage", cfg.StagingDir)
	assert.Equal(t, 1, cfg.MaxConcurrentJobs)
	assert.True(t, cfg.AutoStart)
	assert.False(t, cfg.SecureErase)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_Overrides(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("STAGING_DIR", "/tmp/custom-staging")
	t.Setenv("MAX_CONCURRENT_JOBS", "4")
	t.Setenv("SECURE_ERASE", "true")
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom-staging", cfg.StagingDir)
	assert.Equal(t, 4, cfg.MaxConcurrentJobs)
	assert.True(t, cfg.SecureErase)
	assert.Equal(t, "test-key", cfg.GeminiAPIKey)
}

func TestValidate(t *testing.T) {
	t.Run("rejects non-positive concurrency", func(t *testing.T) {
		cfg := &Config{MaxConcurrentJobs: 0, GeminiAPIKey: "k"}
		assert.ErrorIs(t, cfg.Validate(), ErrMaxConcurrentJobsInvalid)
	})

	t.Run("rejects no providers", func(t *testing.T) {
		cfg := &Config{MaxConcurrentJobs: 1}
		assert.ErrorIs(t, cfg.Validate(), ErrNoProvidersConfigured)
	})

	t.Run("accepts a configured provider", func(t *testing.T) {
		cfg := &Config{MaxConcurrentJobs: 1, OpenAIAPIKey: "k"}
		assert.NoError(t, cfg.Validate())
	})

	t.Run("accepts a fallback chain file with no inline keys", func(t *testing.T) {
		cfg := &Config{MaxConcurrentJobs: 2, FallbackChainPath: "chain.yaml"}
		assert.NoError(t, cfg.Validate())
	})
}

func TestS3Enabled(t *testing.T) {
	cfg := &Config{}
	assert.False(t, cfg.S3Enabled())
	cfg.S3Bucket = "bucket"
	assert.False(t, cfg.S3Enabled())
	cfg.S3Region = "us-east-1"
	assert.True(t, cfg.S3Enabled())
}

func TestNewLogger(t *testing.T) {
	cfg := &Config{LogFormat: "json", LogLevel: "debug"}
	logger := cfg.NewLogger()
	require.NotNil(t, logger)
}
