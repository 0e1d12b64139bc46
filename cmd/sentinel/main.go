// Package main is the entry point for the agent-sentinel service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"agent-sentinel/internal/alerting"
	"agent-sentinel/internal/api"
	"agent-sentinel/internal/buffer"
	"agent-sentinel/internal/config"
	"agent-sentinel/internal/detect"
	"agent-sentinel/internal/kafka"
	"agent-sentinel/internal/logging"
	"agent-sentinel/internal/model"
	"agent-sentinel/internal/pattern"
	"agent-sentinel/internal/pipeline"
	"agent-sentinel/internal/schema"
	"agent-sentinel/internal/storage"
	"agent-sentinel/internal/storage/s3"
)

var version = "dev"

// archiveInterval is how often detections and alerts are snapshotted
// to the archive bucket.
const archiveInterval = time.Hour

func main() {
	var showVersion bool
	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.BoolVar(&showVersion, "v", false, "Show version and exit (shorthand)")
	flag.Parse()

	if showVersion {
		fmt.Printf("agent-sentinel %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"http_port", cfg.Server.HTTPPort,
		"buffer_capacity", cfg.Buffer.Capacity,
		"confidence_threshold", cfg.Detection.ConfidenceThreshold,
		"model_analysis", cfg.Detection.ModelAnalysisEnabled,
		"auth_enabled", cfg.Auth.Enabled,
		"storage_enabled", cfg.Storage.Enabled,
		"kafka_enabled", cfg.Kafka.Enabled,
	)

	library, err := pattern.Compile()
	if err != nil {
		logger.Error("failed to compile pattern library", "error", err)
		os.Exit(1)
	}
	logger.Info("pattern library compiled",
		"version", pattern.LibraryVersion,
		"rules", library.Len(),
	)

	buf := buffer.New(cfg.Buffer.Capacity)

	var evaluator model.Evaluator = model.Disabled{}
	if cfg.Detection.ModelAnalysisEnabled {
		evaluator = model.NewHTTPEvaluator(model.HTTPConfig{
			Endpoint: cfg.Detection.ModelEndpoint,
			APIKey:   cfg.Detection.ModelAPIKey,
			Timeout:  cfg.Detection.ModelTimeout,
			Attempts: cfg.Detection.ModelAttempts,
		})
		logger.Info("model analysis enabled",
			"endpoint", cfg.Detection.ModelEndpoint,
			"api_key", logging.MaskAPIKey(cfg.Detection.ModelAPIKey),
		)
	}

	engine := detect.NewEngine(library, evaluator, detect.Config{
		ConfidenceThreshold: cfg.Detection.ConfidenceThreshold,
		ScanMetadata:        cfg.Detection.ScanMetadata,
	}, logger)

	manager := alerting.NewManager(alerting.ManagerConfig{
		CooldownWindow:     time.Duration(cfg.Alerting.CooldownMinutes) * time.Minute,
		RateWindow:         time.Hour,
		MaxAlertsPerWindow: cfg.Alerting.MaxAlertsPerHourPerSource,
	}, logger)

	dispatcher := alerting.NewDispatcher(alerting.DispatcherConfig{}, manager, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager.StartCleanup(ctx, time.Minute)

	var redisClient *redis.Client
	if cfg.Alerting.Webhook.Enabled {
		dispatcher.AddChannel(alerting.NewWebhookChannel("webhook", cfg.Alerting.Webhook.URL, cfg.Alerting.Webhook.Headers))
	}
	if cfg.Alerting.Slack.Enabled {
		dispatcher.AddChannel(alerting.NewSlackChannel(cfg.Alerting.Slack.WebhookURL, cfg.Alerting.Slack.Channel, cfg.Alerting.Slack.Username))
	}
	if cfg.Alerting.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Alerting.Redis.Addr,
			Password: cfg.Alerting.Redis.Password,
			DB:       cfg.Alerting.Redis.DB,
		})
		dispatcher.AddChannel(alerting.NewRedisChannel(redisClient, cfg.Alerting.Redis.Channel))
	}

	// Storage
	var chClient *storage.ClickHouseClient
	var sink storage.Sink
	var chSink *storage.ClickHouseSink
	if cfg.Storage.Enabled {
		logger.Info("initializing ClickHouse storage",
			"hosts", cfg.Storage.ClickHouse.Hosts,
			"database", cfg.Storage.ClickHouse.Database,
		)

		chClient, err = storage.NewClickHouseClient(cfg.Storage.ClickHouse)
		if err != nil {
			logger.Error("failed to connect to ClickHouse", "error", err)
			os.Exit(1)
		}

		migrator := storage.NewMigrator(chClient)
		if err := migrator.Run(ctx); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}

		retention := storage.NewRetentionManager(chClient, cfg.Storage.Retention)
		if err := retention.ApplyTTLs(ctx); err != nil {
			logger.Warn("failed to apply retention TTLs", "error", err)
		}

		chSink = storage.NewClickHouseSink(chClient, cfg.Storage.Batch, logger)
		sink = chSink
		logger.Info("storage initialized")
	}

	pipe := pipeline.New(buf, engine, manager, dispatcher, sink, pipeline.DefaultConfig(), logger)
	pipe.Start(ctx)

	// Archival
	if cfg.Storage.Archive.Enabled {
		archiver, err := s3.NewArchiver(ctx, cfg.Storage.Archive.S3, logger)
		if err != nil {
			logger.Error("failed to initialize S3 archiver", "error", err)
			os.Exit(1)
		}
		go archiveLoop(ctx, archiver, pipe, manager, logger)
	}

	// Kafka source
	var source *kafka.Source
	if cfg.Kafka.Enabled {
		source, err = kafka.NewSource(cfg.Kafka.Source, func(ctx context.Context, input *schema.SubmitInput) error {
			_, err := pipe.Submit(ctx, input)
			return err
		}, logger)
		if err != nil {
			logger.Error("failed to create kafka source", "error", err)
			os.Exit(1)
		}
		if err := source.Start(); err != nil {
			logger.Error("failed to start kafka source", "error", err)
			os.Exit(1)
		}
	}

	// HTTP server
	handler := api.NewHandler(pipe, buf, manager, library)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      api.WithMiddleware(handler.Routes(), cfg, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("starting sentinel server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("shutdown signal received", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	if source != nil {
		source.Stop()
	}

	dispatcher.Stop()
	cancel()
	pipe.Stop()

	if chSink != nil {
		if err := chSink.Close(); err != nil {
			logger.Error("sink close error", "error", err)
		}
	}
	if chClient != nil {
		if err := chClient.Close(); err != nil {
			logger.Error("clickhouse close error", "error", err)
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("redis close error", "error", err)
		}
	}

	bufStats := buf.Stats()
	pipeMetrics := pipe.Metrics()
	alertStats := manager.Stats()
	logger.Info("shutdown complete",
		"events_submitted", bufStats.Submitted,
		"events_rejected", bufStats.Rejected,
		"issues_detected", pipeMetrics.Detected,
		"alerts_total", alertStats.Total,
	)
}

// archiveLoop periodically snapshots recent detections and alerts to S3.
func archiveLoop(ctx context.Context, archiver *s3.Archiver, pipe *pipeline.Pipeline, manager *alerting.Manager, logger *slog.Logger) {
	ticker := time.NewTicker(archiveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if issues := pipe.RecentIssues(0, "", ""); len(issues) > 0 {
				if err := archiver.ArchiveBatch(ctx, "issues", issues); err != nil {
					logger.Error("issue archive failed", "error", err)
				}
			}
			if alerts := manager.List(alerting.Filter{}); len(alerts) > 0 {
				if err := archiver.ArchiveBatch(ctx, "alerts", alerts); err != nil {
					logger.Error("alert archive failed", "error", err)
				}
			}
		}
	}
}
