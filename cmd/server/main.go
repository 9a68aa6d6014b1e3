// Package main provides the entry point for the paper radar service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-radar-service/internal/artifacts"
	"github.com/helixir/paper-radar-service/internal/config"
	"github.com/helixir/paper-radar-service/internal/control"
	"github.com/helixir/paper-radar-service/internal/database"
	"github.com/helixir/paper-radar-service/internal/dedup"
	"github.com/helixir/paper-radar-service/internal/notify"
	"github.com/helixir/paper-radar-service/internal/observability"
	"github.com/helixir/paper-radar-service/internal/papersources"
	"github.com/helixir/paper-radar-service/internal/papersources/arxiv"
	"github.com/helixir/paper-radar-service/internal/papersources/huggingface"
	"github.com/helixir/paper-radar-service/internal/papersources/rss"
	"github.com/helixir/paper-radar-service/internal/papersources/semanticscholar"
	"github.com/helixir/paper-radar-service/internal/pipeline"
	"github.com/helixir/paper-radar-service/internal/queue"
	"github.com/helixir/paper-radar-service/internal/radar"
	"github.com/helixir/paper-radar-service/internal/repository"
	"github.com/helixir/paper-radar-service/internal/scoring"
	"github.com/helixir/paper-radar-service/internal/server/http"
)

// instanceLockKey is the advisory lock that keeps a second process from
// running the queue against the same database.
const instanceLockKey int64 = 0x7061706572726164 // "paperrad"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "server").Logger()
	logger.Info().Msg("paper-radar-service starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(cfg.Metrics.Namespace)
	}

	// Connect to PostgreSQL.
	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

	// Run migrations if configured.
	if cfg.Database.MigrationAutoRun {
		if err := migrateUp(db, cfg.Database.MigrationPath, logger); err != nil {
			return err
		}
	}

	// Recovery assumes no other process is driving the same tasks.
	lock, err := db.TryLock(ctx, instanceLockKey)
	if err != nil {
		if errors.Is(err, database.ErrLockHeld) {
			return fmt.Errorf("another paper-radar-service instance is running against this database")
		}
		return fmt.Errorf("take instance lock: %w", err)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			logger.Warn().Err(err).Msg("failed to release instance lock")
		}
	}()

	// Create repositories.
	taskRepo := repository.NewPgTaskRepository(db)
	knowledgeRepo := repository.NewPgKnowledgeRepository(db)
	scanStateRepo := repository.NewPgScanStateRepository(db)

	// Artifact storage and downloads.
	store, err := artifacts.NewStore(cfg.Storage.Dir)
	if err != nil {
		return fmt.Errorf("create artifact store: %w", err)
	}
	downloader := artifacts.NewDownloader(store, artifacts.DownloaderConfig{
		Timeout:              cfg.Storage.DownloadTimeout,
		MaxSize:              cfg.Storage.MaxDownloadBytes,
		AllowPrivateNetworks: cfg.Storage.AllowPrivateHosts,
	})

	pipe, err := pipeline.NewHTTPPipeline(pipeline.HTTPConfig{
		BaseURL:      cfg.Pipeline.BaseURL,
		APIKey:       cfg.Pipeline.APIKey,
		PollInterval: cfg.Pipeline.PollInterval,
		Timeout:      cfg.Pipeline.Timeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("create pipeline client: %w", err)
	}

	dispatcher, err := buildDispatcher(cfg, metrics, logger)
	if err != nil {
		return err
	}

	checker := dedup.NewChecker(knowledgeRepo, taskRepo, dedup.NewSessionCache(cfg.Dedup.SessionCacheSize))

	q, err := queue.New(queue.Config{
		PerOwnerLimit:  cfg.Queue.PerOwnerLimit,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		DefaultMode:    cfg.Queue.DefaultMode,
	}, queue.Deps{
		Tasks:      taskRepo,
		Pipeline:   pipe,
		Store:      store,
		Downloader: downloader,
		Knowledge:  knowledgeRepo,
		Notifier:   dispatcher,
		Identities: checker,
		Metrics:    metrics,
	}, logger)
	if err != nil {
		return fmt.Errorf("create queue: %w", err)
	}

	scanner, err := radar.New(radar.Config{
		Enabled:     cfg.Radar.Enabled,
		Interval:    cfg.Radar.Interval,
		Categories:  cfg.Radar.Categories,
		Topics:      cfg.Radar.Topics,
		Lookback:    cfg.Radar.Lookback,
		MaxResults:  cfg.Radar.MaxResults,
		MaxPerScan:  cfg.Radar.MaxPerScan,
		Capacity:    cfg.Radar.Capacity,
		RecentSize:  cfg.Radar.RecentSize,
		SystemOwner: cfg.Queue.SystemOwner,
		Mode:        cfg.Queue.DefaultMode,
		Highlight:   cfg.Queue.Highlight,
	}, radar.Deps{
		Fetcher: buildRegistry(cfg, metrics, logger),
		Scorer: scoring.New(scoring.Config{
			HighUpvotes:   cfg.Scoring.HighUpvotes,
			LowUpvotes:    cfg.Scoring.LowUpvotes,
			HighCitations: cfg.Scoring.HighCitations,
			Keywords:      cfg.Scoring.Keywords,
		}),
		Dedup:    checker,
		Queue:    q,
		State:    scanStateRepo,
		Notifier: dispatcher,
		Metrics:  metrics,
	}, logger)
	if err != nil {
		return fmt.Errorf("create scanner: %w", err)
	}
	if err := scanner.Load(ctx); err != nil {
		return err
	}

	// Resolve tasks left by the previous process before taking new work.
	report, err := q.Recover(ctx, queue.RecoveryMode(cfg.Recovery.Mode))
	if err != nil {
		if report == nil {
			return fmt.Errorf("recover tasks: %w", err)
		}
		logger.Error().Err(err).Msg("recovery finished with errors")
	}
	q.Start()

	// Background loops stop when ctx is cancelled.
	var bg sync.WaitGroup
	janitor := queue.NewJanitor(taskRepo, store, cfg.Queue.TaskTTL, cfg.Queue.CleanupInterval, metrics, logger)
	bg.Add(1)
	go func() {
		defer bg.Done()
		janitor.Run(ctx)
	}()

	if scanner.Enabled() {
		bg.Add(1)
		go func() {
			defer bg.Done()
			scanner.Run(ctx)
		}()
	} else {
		logger.Info().Msg("radar disabled, timer scans will not run")
	}

	var listener *control.Listener
	if cfg.Control.Enabled {
		listener = control.NewListener(control.Config{
			Brokers: cfg.Control.Brokers,
			Topic:   cfg.Control.Topic,
			GroupID: cfg.Control.GroupID,
		}, scanner, q, logger)
		bg.Add(1)
		go func() {
			defer bg.Done()
			_ = listener.Run(ctx)
		}()
	}

	httpCfg := httpserver.Config{
		Address:         cfg.Server.HTTPAddress(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     2 * time.Minute,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		MaxUploadBytes:  cfg.Server.MaxUploadBytes,
	}
	httpSrv := httpserver.NewServer(httpCfg, q, scanner, db, logger)

	// Set up Prometheus metrics handler on a separate port if configured.
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress(),
			Handler:      metricsMux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
	}

	// Channel to collect server errors.
	errCh := make(chan error, 2)

	go func() {
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	if metricsServer != nil {
		go func() {
			logger.Info().
				Str("address", metricsServer.Addr).
				Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	readyLog := logger.Info().
		Str("http_address", httpCfg.Address).
		Bool("radar_enabled", scanner.Enabled()).
		Int("per_owner_limit", cfg.Queue.PerOwnerLimit)
	if metricsServer != nil {
		readyLog = readyLog.Str("metrics_address", metricsServer.Addr)
	}
	readyLog.Msg("paper-radar-service is ready")

	// Wait for shutdown signal or server error.
	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case serveErr = <-errCh:
		logger.Error().Err(serveErr).Msg("server error")
		stop()
	}

	// Graceful shutdown.
	logger.Info().Msg("shutting down paper-radar-service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	bg.Wait()
	if listener != nil {
		if err := listener.Close(); err != nil {
			logger.Warn().Err(err).Msg("control listener close error")
		}
	}
	if err := scanner.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("scanner shutdown incomplete")
	}

	// Workers stop without writing; unfinished tasks are picked up by the
	// next start's recovery sweep.
	if err := q.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("queue shutdown incomplete")
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("notification dispatcher close error")
	}

	logger.Info().Msg("paper-radar-service shutdown complete")
	return serveErr
}

func migrateUp(db *database.DB, path string, logger zerolog.Logger) error {
	migrator, err := database.NewMigrator(db, path, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	if err := migrator.Up(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// buildRegistry registers every configured discovery source.
func buildRegistry(cfg *config.Config, metrics *observability.Metrics, logger zerolog.Logger) *papersources.Registry {
	registry := papersources.NewRegistry(cfg.Radar.SourceTimeout, metrics, logger)

	src := cfg.Sources
	registry.Register(arxiv.New(arxiv.Config{
		BaseURL:    src.ArXiv.BaseURL,
		Timeout:    src.ArXiv.Timeout,
		RateLimit:  src.ArXiv.RateLimit,
		MaxResults: src.ArXiv.MaxResults,
		Enabled:    src.ArXiv.Enabled,
	}))
	registry.Register(huggingface.NewClient(huggingface.Config{
		BaseURL:    src.HuggingFace.BaseURL,
		APIKey:     src.HuggingFace.APIKey,
		Timeout:    src.HuggingFace.Timeout,
		RateLimit:  src.HuggingFace.RateLimit,
		MaxResults: src.HuggingFace.MaxResults,
		Enabled:    src.HuggingFace.Enabled,
	}, nil))
	registry.Register(semanticscholar.NewClient(semanticscholar.Config{
		BaseURL:    src.SemanticScholar.BaseURL,
		APIKey:     src.SemanticScholar.APIKey,
		Timeout:    src.SemanticScholar.Timeout,
		RateLimit:  src.SemanticScholar.RateLimit,
		MaxResults: src.SemanticScholar.MaxResults,
		Enabled:    src.SemanticScholar.Enabled,
	}, nil))
	registry.Register(rss.NewClient(rss.Config{
		Feeds:      src.RSS.Feeds,
		Timeout:    src.RSS.Timeout,
		RateLimit:  src.RSS.RateLimit,
		MaxResults: src.RSS.MaxResults,
		Enabled:    src.RSS.Enabled,
	}, nil))

	enabled := registry.EnabledSources()
	names := make([]string, 0, len(enabled))
	for _, s := range enabled {
		names = append(names, s.Name())
	}
	logger.Info().Strs("sources", names).Msg("discovery sources registered")
	return registry
}

// buildDispatcher creates the notification fan-out from the configured sinks.
func buildDispatcher(cfg *config.Config, metrics *observability.Metrics, logger zerolog.Logger) (*notify.Dispatcher, error) {
	var notifiers []notify.Notifier

	if cfg.Notification.Kafka.Enabled {
		kn, err := notify.NewKafkaNotifier(notify.KafkaConfig{
			Brokers:      cfg.Notification.Kafka.Brokers,
			Topic:        cfg.Notification.Kafka.Topic,
			BatchTimeout: cfg.Notification.Kafka.BatchTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("create kafka notifier: %w", err)
		}
		notifiers = append(notifiers, kn)
	}
	if cfg.Notification.WebhookURL != "" {
		wn, err := notify.NewWebhookNotifier(cfg.Notification.WebhookURL, cfg.Notification.Timeout)
		if err != nil {
			return nil, fmt.Errorf("create webhook notifier: %w", err)
		}
		notifiers = append(notifiers, wn)
	}

	d := notify.NewDispatcher(cfg.Notification.Timeout, metrics, logger, notifiers...)
	logger.Info().Int("notifiers", d.Len()).Msg("notification dispatcher configured")
	return d, nil
}
