// Package main provides the entry point for the media queue daemon.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/maauso/mediaqueue/internal/aifallback"
	"github.com/maauso/mediaqueue/internal/aifallback/adapter/anthropicadapter"
	"github.com/maauso/mediaqueue/internal/aifallback/adapter/providers"
	"github.com/maauso/mediaqueue/internal/config"
	"github.com/maauso/mediaqueue/internal/observability"
	"github.com/maauso/mediaqueue/internal/queue"
	"github.com/maauso/mediaqueue/internal/queue/maintenance"
	"github.com/maauso/mediaqueue/internal/queue/processor"
	"github.com/maauso/mediaqueue/internal/store/archive"
	"github.com/maauso/mediaqueue/internal/store/sqlite"
	"github.com/maauso/mediaqueue/internal/videotool"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting mediaqueue",
		slog.String("staging_dir", cfg.StagingDir),
		slog.Int("max_concurrent_jobs", cfg.MaxConcurrentJobs),
		slog.Bool("auto_start", cfg.AutoStart),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
		slog.String("metrics_addr", cfg.MetricsAddr),
	)

	if err := os.MkdirAll(cfg.StagingDir, 0o755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	tempDir := filepath.Join(cfg.StagingDir, "temp")
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	for _, sub := range []string{"videos", "exports"} {
		if err := os.MkdirAll(filepath.Join(cfg.StagingDir, sub), 0o755); err != nil {
			return fmt.Errorf("create %s dir: %w", sub, err)
		}
	}

	st, err := sqlite.Open(filepath.Join(cfg.StagingDir, "queue.db"), sqlite.DefaultConfig())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("close store failed", "err", err)
		}
	}()

	dispatcher := processor.NewDispatcher(
		&processor.SingleBurnProcessor{
			Runner: videotool.NewFFmpegRunner(cfg.FFmpegPath),
			Prober: videotool.NewProber(cfg.FFprobePath),
		},
		&processor.MultiExportProcessor{
			Runner: videotool.NewFFmpegRunner(cfg.FFmpegPath),
		},
	)

	mgr := queue.New(queue.Config{
		MaxConcurrent: cfg.MaxConcurrentJobs,
		AutoStart:     cfg.AutoStart,
		StagingRoot:   cfg.StagingDir,
		SecureErase:   cfg.SecureErase,
	}, st, dispatcher, logger)

	if cfg.S3Enabled() {
		archiver, err := archive.New(context.Background(), archive.Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		})
		if err != nil {
			return fmt.Errorf("initialize s3 archiver: %w", err)
		}
		mgr = mgr.WithArchiver(archiver)
	}

	// The AI fallback engine (internal/aifallback) serves subtitle
	// generate/translate requests through its own Process entry point,
	// independent of the single-burn/multi-export job kinds dispatched
	// above, which operate on already-materialized subtitle files. It is
	// constructed here, and the first registered adapter is resolved
	// through its breaker, before the queue starts. Chain entries are not
	// checked against the resolver: an entry naming an unregistered
	// provider fails only when Process reaches it.
	resolver, providerNames, err := buildResolver(cfg)
	if err != nil {
		return fmt.Errorf("build ai fallback resolver: %w", err)
	}
	aiResolver := aifallback.NewBreakerResolver(resolver, providerNames, aifallback.DefaultBreakerSettings())
	chain, err := loadFallbackChain(cfg)
	if err != nil {
		return fmt.Errorf("load fallback chain: %w", err)
	}
	if _, err := aiResolver.Resolve(providerNames[0]); err != nil {
		return fmt.Errorf("ai fallback: resolve default provider: %w", err)
	}
	logger.Info("ai fallback chain ready", slog.Int("providers", len(chain)), slog.Any("adapters", providerNames))

	if err := mgr.Recover(context.Background()); err != nil {
		return fmt.Errorf("recover queue: %w", err)
	}
	mgr.Start(context.Background())

	sweeper := &maintenance.Sweeper{
		TempDir:     tempDir,
		MaxAge:      24 * time.Hour,
		DB:          st.DB(),
		Logger:      logger,
		SecureErase: cfg.SecureErase,
	}
	if err := sweeper.Start("@every 1h"); err != nil {
		return fmt.Errorf("start maintenance sweeper: %w", err)
	}
	defer sweeper.Stop()

	var metricsSrv *http.Server
	errCh := make(chan error, 1)
	if cfg.MetricsAddr != "" {
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: observability.Handler()}
		go func() {
			logger.Info("metrics server listening", slog.String("addr", cfg.MetricsAddr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server failed: %w", err)
			}
		}()
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-shutdownCh:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()

	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(ctx); err != nil {
			logger.Error("metrics server shutdown failed", "err", err)
		}
	}

	logger.Info("mediaqueue stopped gracefully")
	return nil
}

// buildResolver wires one aifallback.Adapter per configured provider key,
// plus an Anthropic adapter that is always registered, returning the
// resolver and the list of provider names for breaker setup.
func buildResolver(cfg *config.Config) (aifallback.AdapterResolver, []string, error) {
	resolver := aifallback.StaticResolver{}
	var names []string

	if cfg.GeminiAPIKey != "" {
		resolver["gemini"] = providers.NewGeminiAdapter(fmt.Sprintf(providers.GeminiEndpointTemplate, "gemini-2.0-flash"))
		names = append(names, "gemini")
	}
	if cfg.OpenAIAPIKey != "" {
		resolver["openai"] = providers.NewOpenAIStyleAdapter(providers.OpenAIChatEndpoint)
		names = append(names, "openai")
	}
	if cfg.DeepSeekAPIKey != "" {
		resolver["deepseek"] = providers.NewOpenAIStyleAdapter(providers.DeepSeekChatEndpoint)
		names = append(names, "deepseek")
	}
	resolver["anthropic"] = anthropicadapter.New()
	names = append(names, "anthropic")

	return resolver, names, nil
}

// loadFallbackChain builds the ordered provider chain either from a YAML
// file (FallbackChainPath) or, absent that, from the configured provider
// keys in a fixed default order.
func loadFallbackChain(cfg *config.Config) ([]aifallback.ModelConfig, error) {
	if cfg.FallbackChainPath != "" {
		return aifallback.LoadChain(cfg.FallbackChainPath)
	}

	var chain []aifallback.ModelConfig
	if cfg.GeminiAPIKey != "" {
		chain = append(chain, aifallback.ModelConfig{Provider: "gemini", ModelName: "gemini-2.0-flash", Enabled: true, APIKey: cfg.GeminiAPIKey})
	}
	if cfg.OpenAIAPIKey != "" {
		chain = append(chain, aifallback.ModelConfig{Provider: "openai", ModelName: "gpt-4o", Enabled: true, APIKey: cfg.OpenAIAPIKey})
	}
	if cfg.DeepSeekAPIKey != "" {
		chain = append(chain, aifallback.ModelConfig{Provider: "deepseek", ModelName: "deepseek-chat", Enabled: true, APIKey: cfg.DeepSeekAPIKey})
	}
	return chain, nil
}
