package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"argus/internal/adapters/clickhouse"
	"argus/internal/adapters/config"
	"argus/internal/adapters/errors/noop"
	"argus/internal/adapters/errors/sentry"
	"argus/internal/adapters/kafka"
	"argus/internal/adapters/postgres"
	"argus/internal/adapters/redis"
	"argus/internal/api"
	attrapi "argus/internal/api/attribution"
	"argus/internal/api/health"
	optapi "argus/internal/api/optimization"
	"argus/internal/events"
	"argus/internal/metrics"
	chrepo "argus/internal/repository/clickhouse"
	pgrepo "argus/internal/repository/postgres"
	redisrepo "argus/internal/repository/redis"
	attrsvc "argus/internal/services/attribution"
	optsvc "argus/internal/services/optimization"
	"argus/pkg/errors"
	"argus/pkg/logger"
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

	// Register Prometheus collectors
	metrics.Init()

	// Initialize storage connections
	db := initDatabases(cfg, log)
	defer db.Close()

	// Initialize event publishing (optional)
	publisher := initEventPublisher(cfg, log)

	// Wire repositories and engines
	ledger := pgrepo.NewOptimizationRepository(db.Postgres.DB())
	source := chrepo.NewMetricSource(db.ClickHouse.Conn(), cfg.Engine.MetricQueriesPerMinute)

	optEngine := optsvc.NewService(ledger, source, publisher, optsvc.Config{
		ImplementationCostUSD: cfg.Engine.ImplementationCostUSD,
		CostMetric:            cfg.Engine.CostMetric,
		ReportTopN:            cfg.Engine.ReportTopN,
	}, log.With("service", "optimization"))

	attrEngine := attrsvc.NewService(source, nil, attrsvc.Config{
		MinContributionPct: cfg.Engine.MinContributionPct,
	}, log.With("service", "attribution"))

	// Attribution audit log is opt-in; nil keeps attributions ephemeral
	var auditLog attrapi.AuditLog
	if db.Redis != nil {
		auditLog = redisrepo.NewAttributionLog(db.Redis.Client())
	}

	// Build the HTTP server
	healthHandler := newHealthHandler(cfg, db, log)
	server := api.NewServer(
		api.ServerConfig{
			Port:        cfg.HTTP.Port,
			ServiceName: cfg.App.Name,
			Version:     cfg.App.Version,
		},
		healthHandler,
		log,
		optapi.NewHandler(optEngine, log.With("handler", "optimization")),
		attrapi.NewHandler(attrEngine, auditLog, log.With("handler", "attribution")),
	)

	log.Info("System initialized successfully")

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start HTTP server
	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Wait for shutdown signal
	waitForShutdown(ctx, cancel, server, errorTracker, log)
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

// Database bundles all storage connections
type Database struct {
	Postgres   *postgres.Client
	ClickHouse *clickhouse.Client
	Redis      *redis.Client // nil when the attribution log is disabled
}

// Close closes all storage connections
func (d *Database) Close() {
	if d.Redis != nil {
		_ = d.Redis.Close()
	}
	_ = d.ClickHouse.Close()
	_ = d.Postgres.Close()
}

// initDatabases initializes PostgreSQL, ClickHouse and (optionally) Redis
func initDatabases(cfg *config.Config, log *logger.Logger) *Database {
	log.Info("Initializing databases...")

	pgClient, err := postgres.NewClient(cfg.Postgres)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}

	chClient, err := clickhouse.NewClient(cfg.ClickHouse)
	if err != nil {
		log.Fatalf("Failed to connect to ClickHouse: %v", err)
	}

	db := &Database{
		Postgres:   pgClient,
		ClickHouse: chClient,
	}

	if cfg.Redis.Enabled() {
		redisClient, err := redis.NewClient(cfg.Redis)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		db.Redis = redisClient
	} else {
		log.Info("Redis not configured, attribution audit log disabled")
	}

	log.Info("Databases initialized")
	return db
}

// initEventPublisher wires the Kafka publisher when brokers are configured.
// Returns nil otherwise; the optimization engine treats nil as "no eventing".
func initEventPublisher(cfg *config.Config, log *logger.Logger) optsvc.EventPublisher {
	if !cfg.Kafka.Enabled() {
		log.Info("Kafka not configured, ledger events disabled")
		return nil
	}

	producer := kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.Kafka.Brokers})
	log.Infof("Kafka event publishing enabled (brokers: %v)", cfg.Kafka.Brokers)

	return events.NewPublisher(producer, log.With("component", "events"))
}

// newHealthHandler builds the readiness/liveness handler over the live connections
func newHealthHandler(cfg *config.Config, db *Database, log *logger.Logger) *health.Handler {
	var redisConn *goredis.Client
	if db.Redis != nil {
		redisConn = db.Redis.Client()
	}

	return health.New(
		log.With("handler", "health"),
		db.Postgres.DB(),
		db.ClickHouse.Conn(),
		redisConn,
		cfg.App.Name,
		cfg.App.Version,
	)
}

// waitForShutdown waits for shutdown signal and performs graceful shutdown
func waitForShutdown(ctx context.Context, cancel context.CancelFunc, server *api.Server, errorTracker errors.Tracker, log *logger.Logger) {
	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	log.Info("Shutting down...")

	// Graceful shutdown
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnf("HTTP server shutdown error: %v", err)
	}

	// Flush error tracker
	if errorTracker != nil {
		if err := errorTracker.Flush(shutdownCtx); err != nil {
			log.Warnf("Failed to flush error tracker: %v", err)
		}
	}

	log.Info("Shutdown complete")
}
