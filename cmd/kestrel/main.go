// Kestrel - live transaction ingestion and fraud scoring.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/live"
	"github.com/opensource-finance/kestrel/internal/normalize"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/score"
	"github.com/opensource-finance/kestrel/internal/stream"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()
	applyEnv(cfg)

	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"transport", cfg.Stream.Transport,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize score extension and load rules from the database
	ext, err := score.NewExtension()
	if err != nil {
		slog.Error("failed to initialize score extension", "error", err)
		os.Exit(1)
	}
	defer ext.Close()

	if err := loadRulesFromDatabase(ctx, repo, ext); err != nil {
		slog.Error("failed to load score rules", "error", err)
		os.Exit(1)
	}
	slog.Info("score extension initialized", "rules_count", ext.RulesCount())

	// Initialize verdict reporter
	var reporter domain.VerdictReporter
	if cfg.Live.ReportVerdicts && cfg.Stream.ReportURL != "" {
		reporter = stream.NewHTTPReporter(cfg.Stream, busImpl, logger)
		slog.Info("verdict reporter initialized", "url", cfg.Stream.ReportURL)
	}

	// Initialize live aggregator
	aggregator := live.New(cfg.Live, normalize.New(ext), cacheImpl, reporter, repo, busImpl, logger)

	// Initialize stream client
	var streamClient domain.StreamClient
	if cfg.Stream.Endpoint != "" {
		streamClient, err = stream.New(cfg.Stream, busImpl, logger)
		if err != nil {
			slog.Error("failed to initialize stream client", "error", err)
			os.Exit(1)
		}
		slog.Info("stream client initialized",
			"transport", cfg.Stream.Transport,
			"endpoint", cfg.Stream.Endpoint,
		)
	} else {
		slog.Warn("no stream endpoint configured, monitor endpoints disabled")
	}

	// Initialize worker
	w := worker.New(busImpl, repo, aggregator, logger)
	if err := w.Start(); err != nil {
		slog.Error("failed to start worker", "error", err)
		os.Exit(1)
	}
	defer w.Stop()

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, aggregator, streamClient, w, ext, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	if streamClient != nil {
		if err := streamClient.Disconnect(); err != nil {
			slog.Error("failed to disconnect stream", "error", err)
		}
	}
	w.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// loadRulesFromDatabase loads score extension rules into the engine.
// Rules are configured via POST /rules - no hardcoded defaults.
func loadRulesFromDatabase(ctx context.Context, repo domain.Repository, ext *score.Extension) error {
	rules, err := repo.ListScoreRules(ctx)
	if err != nil {
		slog.Warn("failed to list score rules from database", "error", err)
		return nil // Start with empty rules - they can be added via API
	}

	if len(rules) > 0 {
		slog.Info("loading score rules from database", "count", len(rules))
		return ext.LoadRules(rules)
	}

	slog.Info("no score rules in database - configure via POST /rules API")
	return nil
}

// applyEnv overlays environment settings on the default configuration.
func applyEnv(cfg *domain.Config) {
	if v := os.Getenv("KESTREL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("KESTREL_STREAM_URL"); v != "" {
		cfg.Stream.Endpoint = v
	}
	if v := os.Getenv("KESTREL_STREAM_TRANSPORT"); v != "" {
		cfg.Stream.Transport = v
	}
	if v := os.Getenv("KESTREL_API_KEY"); v != "" {
		cfg.Stream.APIKey = v
	}
	if v := os.Getenv("KESTREL_REPORT_URL"); v != "" {
		cfg.Stream.ReportURL = v
	}

	if v := os.Getenv("KESTREL_DB_DRIVER"); v != "" {
		cfg.Repository.Driver = v
	}
	if v := os.Getenv("KESTREL_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_USER"); v != "" {
		cfg.Repository.PostgresUser = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_PASSWORD"); v != "" {
		cfg.Repository.PostgresPassword = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_DB"); v != "" {
		cfg.Repository.PostgresDB = v
	}

	if v := os.Getenv("KESTREL_CACHE"); v != "" {
		cfg.Cache.Type = v
	}
	if v := os.Getenv("KESTREL_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}

	if v := os.Getenv("KESTREL_BUS"); v != "" {
		cfg.EventBus.Type = v
	}
	if v := os.Getenv("KESTREL_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}

	if v := os.Getenv("KESTREL_NOTIFY_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Live.NotifyCooldown = d
		}
	}
}
