package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"watchtower/internal/adapters/clickhouse"
	"watchtower/internal/adapters/config"
	"watchtower/internal/adapters/errors/noop"
	"watchtower/internal/adapters/errors/sentry"
	"watchtower/internal/adapters/kafka"
	"watchtower/internal/adapters/ledger"
	"watchtower/internal/adapters/redis"
	"watchtower/internal/api/health"
	"watchtower/internal/api/status"
	"watchtower/internal/audit"
	domainledger "watchtower/internal/domain/ledger"
	"watchtower/internal/metrics"
	chrepo "watchtower/internal/repository/clickhouse"
	"watchtower/internal/services/monitor"
	"watchtower/pkg/errors"
	"watchtower/pkg/logger"
	"watchtower/pkg/retry"
)

func main() {
	// Load configuration
	cfg, err := loadConfig()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize logger
	if err := initLogger(cfg); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	log := logger.Get()
	log.Infof("Starting %s in %s mode", cfg.App.Name, cfg.App.Env)

	// Initialize error tracker
	errorTracker := initErrorTracker(cfg, log)
	logger.SetErrorTracker(errorTracker)

	metrics.Register()

	// External dependencies
	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	producer := kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.Kafka.Brokers})
	defer producer.Close()

	recorder, chClient := initAuditTrail(cfg, producer, log)
	if chClient != nil {
		defer chClient.Close()
	}

	// Ledger gateway
	policy := retry.NewPolicy(retry.Config{
		MaxAttempts:      cfg.Ledger.RetryAttempts,
		FailureThreshold: cfg.Ledger.BreakerTrips,
		OpenTimeout:      cfg.Ledger.BreakerTimeout,
	}, log)
	gateway := ledger.NewClient(cfg.Ledger, policy, log)

	var events *ledger.EventFeed
	if cfg.Ledger.WSEndpoint != "" {
		events = ledger.NewEventFeed(cfg.Ledger.WSEndpoint, log)
	}

	// Monitoring core
	tracker := monitor.NewTracker(monitor.ThresholdsFromConfig(cfg.Monitor), log)
	orchestrator := monitor.NewOrchestrator(gateway, tracker, recorder, redisClient, monitor.OrchestratorConfig{
		AuctionEnabled:  gateway.AuctionConfigured(),
		AuctionDuration: cfg.Monitor.AuctionDuration,
		GracePeriod:     cfg.Monitor.AuctionGracePeriod,
	}, log)

	// Assign only when constructed; a nil *EventFeed inside a non-nil
	// interface would defeat the service's optional-feed check
	var eventSource domainledger.EventSource
	if events != nil {
		eventSource = events
	}
	service := monitor.NewService(
		cfg.Monitor,
		gateway,
		eventSource,
		tracker,
		orchestrator,
		recorder,
		redisClient,
		redisClient,
		log,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := service.Start(ctx); err != nil {
		log.Fatalf("Failed to start monitor: %v", err)
	}

	// HTTP surface
	server := initHTTPServer(cfg, service, gateway, redisClient, producer, chClient, log)
	go func() {
		log.Infof("HTTP server listening on %s", cfg.HTTP.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("HTTP server error: %v", err)
		}
	}()

	log.Info("System initialized successfully")

	waitForShutdown(ctx, cancel, service, server, errorTracker, log)
}

// loadConfig loads application configuration from environment
func loadConfig() (*config.Config, error) {
	return config.Load()
}

// initLogger initializes structured logging
func initLogger(cfg *config.Config) error {
	return logger.Init(cfg.App.LogLevel, cfg.App.Env)
}

// initErrorTracker initializes error tracking (Sentry or no-op)
func initErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled || cfg.ErrorTracking.SentryDSN == "" {
		log.Info("Error tracking disabled")
		return noop.New()
	}

	tracker, err := sentry.New(cfg.ErrorTracking.SentryDSN, cfg.ErrorTracking.Environment)
	if err != nil {
		log.Warnf("Failed to initialize Sentry: %v", err)
		return noop.New()
	}

	log.Info("Error tracking initialized (Sentry)")
	return tracker
}

// initAuditTrail wires the audit recorder over Kafka and, when
// enabled, the ClickHouse archive
func initAuditTrail(cfg *config.Config, producer *kafka.Producer, log *logger.Logger) (*audit.Recorder, *clickhouse.Client) {
	topic := cfg.Kafka.AuditTopic
	if topic == "" {
		topic = kafka.TopicAuditTrail
	}
	sinks := []audit.Sink{
		audit.NewKafkaSink(producer, topic),
	}

	var chClient *clickhouse.Client
	if cfg.ClickHouse.Enabled {
		client, err := clickhouse.NewClient(cfg.ClickHouse)
		if err != nil {
			log.Warnf("ClickHouse unavailable, audit archive disabled: %v", err)
		} else {
			chClient = client
			sinks = append(sinks, chrepo.NewAuditArchive(client.Conn()))
		}
	}

	return audit.NewRecorder(log, sinks...), chClient
}

// initHTTPServer mounts probes, metrics, and the status API
func initHTTPServer(
	cfg *config.Config,
	service *monitor.Service,
	gateway *ledger.Client,
	redisClient *redis.Client,
	producer *kafka.Producer,
	chClient *clickhouse.Client,
	log *logger.Logger,
) *http.Server {
	mux := http.NewServeMux()

	checks := map[string]health.Checker{
		"redis":  redisClient,
		"kafka":  producer,
		"ledger": gateway,
	}
	if chClient != nil {
		checks["clickhouse"] = chClient
	}
	health.NewHandler(checks, log).Register(mux)
	status.NewHandler(service, log).Register(mux)
	mux.Handle("GET /metrics", metrics.Handler())

	return &http.Server{
		Addr:         cfg.HTTP.ListenAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// waitForShutdown waits for shutdown signal and performs graceful shutdown
func waitForShutdown(
	ctx context.Context,
	cancel context.CancelFunc,
	service *monitor.Service,
	server *http.Server,
	errorTracker errors.Tracker,
	log *logger.Logger,
) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	log.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnf("HTTP server shutdown: %v", err)
	}

	// Waits for in-flight remediation to complete
	if err := service.Stop(); err != nil {
		log.Warnf("Monitor stop: %v", err)
	}

	cancel()

	if errorTracker != nil {
		if err := errorTracker.Flush(ctx); err != nil {
			log.Warnf("Failed to flush error tracker: %v", err)
		}
	}

	log.Info("Shutdown complete")
}
