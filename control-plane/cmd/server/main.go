// Command server runs the fleet alert lifecycle and escalation engine.
//
// # Usage
//
//	server --config /etc/fleetalerts/server.yaml --port 8080
//	server --memory --debug
//
// # Configuration
//
// The server can be configured via:
// - A YAML config file (--config)
// - Environment variables (FLEETALERTS_*)
// - Secrets from 1Password Connect or a local directory (database_url,
//   redis_url, operator_api_key_hash)
// - Command-line flags, which win over everything else
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

	"github.com/pilot-net/fleet-alerts/control-plane/internal/api"
	"github.com/pilot-net/fleet-alerts/control-plane/internal/buffer"
	"github.com/pilot-net/fleet-alerts/control-plane/internal/cache"
	"github.com/pilot-net/fleet-alerts/control-plane/internal/config"
	"github.com/pilot-net/fleet-alerts/control-plane/internal/events"
	"github.com/pilot-net/fleet-alerts/control-plane/internal/metrics"
	"github.com/pilot-net/fleet-alerts/control-plane/internal/secrets"
	"github.com/pilot-net/fleet-alerts/control-plane/internal/service"
	"github.com/pilot-net/fleet-alerts/control-plane/internal/store"
	"github.com/pilot-net/fleet-alerts/control-plane/internal/worker"
	"github.com/pilot-net/fleet-alerts/db/migrate"
)

const defaultDatabaseURL = "postgres://localhost:5432/fleetalerts?sslmode=disable"

// backend is what the server needs from either store implementation.
type backend interface {
	service.Store
	Ping(ctx context.Context) error
	Close()
}

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config file")
		port       = flag.Int("port", 0, "HTTP server port (overrides config)")
		memory     = flag.Bool("memory", false, "Use the in-memory store instead of PostgreSQL")
		debug      = flag.Bool("debug", false, "Enable debug logging")
		version    = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Println("fleetalerts-server v0.1.0")
		os.Exit(0)
	}

	// Load configuration
	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.LoadFromFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	cfg.ApplyEnvOverrides()
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *memory {
		cfg.Server.Memory = true
	}
	if *debug {
		cfg.Server.Debug = true
	}

	// Set up logging
	logLevel := slog.LevelInfo
	if cfg.Server.Debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Resolve secrets
	secretProvider, err := secrets.NewProvider(secrets.ConfigFromEnv(), logger)
	if err != nil {
		logger.Error("failed to create secrets provider", "error", err)
		os.Exit(1)
	}
	defer secretProvider.Close()

	if cfg.Database.URL == "" && !cfg.Server.Memory {
		cfg.Database.URL, err = secrets.GetOr(ctx, secretProvider, secrets.DatabaseURL, defaultDatabaseURL)
		if err != nil {
			logger.Error("failed to resolve database url", "error", err)
			os.Exit(1)
		}
	}
	if cfg.Redis.URL == "" {
		cfg.Redis.URL, err = secrets.GetOr(ctx, secretProvider, secrets.RedisURL, "")
		if err != nil {
			logger.Error("failed to resolve redis url", "error", err)
			os.Exit(1)
		}
	}
	operatorKeyHash, err := secrets.GetOr(ctx, secretProvider, secrets.OperatorAPIKeyHash, "")
	if err != nil {
		logger.Error("failed to resolve operator key hash", "error", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Connect to the store
	var db backend
	var collectorOpts []metrics.CollectorOption
	if cfg.Server.Memory {
		logger.Warn("using in-memory store, state is lost on restart")
		db = store.NewMemoryStore()
	} else {
		pg, err := store.NewStoreFromURL(ctx, cfg.Database.URL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		pingCtx, pingCancel := context.WithTimeout(ctx, config.DatabasePingTimeout)
		err = pg.Ping(pingCtx)
		pingCancel()
		if err != nil {
			logger.Error("database ping failed", "error", err)
			os.Exit(1)
		}
		logger.Info("connected to database")

		if err := migrate.Run(ctx, pg.Pool(), logger); err != nil {
			logger.Error("database migration failed", "error", err)
			os.Exit(1)
		}
		collectorOpts = append(collectorOpts, metrics.WithSchemaReporter(migrate.NewReporter(pg.Pool())))
		db = pg
	}
	defer db.Close()

	// Redis is shared by the buffer, the cache and the event stream
	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Error("invalid redis url", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
		pingCtx, pingCancel := context.WithTimeout(ctx, config.RedisConnectionTimeout)
		err = redisClient.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			logger.Error("redis ping failed", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		logger.Info("connected to redis")
	}

	// Event sinks
	metrics.Register()
	var publishers events.Multi
	var kafkaPublisher *events.KafkaPublisher
	for _, sink := range cfg.Events.Sinks {
		switch sink {
		case config.SinkLog:
			publishers = append(publishers, events.NewLogPublisher(logger))
		case config.SinkRedis:
			publishers = append(publishers, events.NewRedisPublisher(redisClient, cfg.Events.RedisStream))
		case config.SinkKafka:
			kafkaPublisher = events.NewKafkaPublisher(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic)
			publishers = append(publishers, kafkaPublisher)
		}
	}
	if kafkaPublisher != nil {
		defer kafkaPublisher.Close()
	}
	logger.Info("event sinks configured", "sinks", cfg.Events.Sinks)

	svc := service.NewService(db, logger, service.WithPublisher(publishers))

	apiOpts := []api.Option{
		api.WithOperatorKeyHash(operatorKeyHash),
		api.WithIngestLimit(cfg.Ingest.RatePerSecond, cfg.Ingest.Burst),
	}

	// SLA overview cache; background writers drop it through slaChanged
	slaChanged := func(ctx context.Context, tenantID string) {}
	if cfg.Redis.CacheEnabled {
		slaCache := cache.NewWithClient(redisClient, logger)
		slaChanged = func(ctx context.Context, tenantID string) {
			if err := slaCache.InvalidateSLA(ctx, tenantID); err != nil {
				logger.Warn("failed to invalidate sla cache", "tenant_id", tenantID, "error", err)
			}
		}
		apiOpts = append(apiOpts, api.WithCache(slaCache))
		logger.Info("response cache enabled")
	}

	// Optional telemetry buffer
	var telemetryBuffer *buffer.TelemetryBuffer
	var flusher *buffer.Flusher
	if cfg.Redis.BufferEnabled {
		telemetryBuffer = buffer.NewTelemetryBufferWithClient(redisClient, logger)
		flusher = buffer.NewFlusher(telemetryBuffer, svc, logger, buffer.WithAlertHook(slaChanged))
		flusher.Start()
		apiOpts = append(apiOpts, api.WithTelemetryQueue(telemetryBuffer))
		logger.Info("telemetry buffering enabled")
	}

	var collector *metrics.Collector
	if telemetryBuffer != nil {
		collector = metrics.NewCollector(db, telemetryBuffer, config.CacheTTLInfraHealth, collectorOpts...)
	} else {
		collector = metrics.NewCollector(db, nil, config.CacheTTLInfraHealth, collectorOpts...)
	}
	apiOpts = append(apiOpts, api.WithCollector(collector))

	// Escalation sweep
	var escalationWorker *worker.EscalationWorker
	if cfg.Escalation.Enabled {
		wcfg := worker.DefaultEscalationWorkerConfig()
		wcfg.Schedule = cfg.Escalation.Schedule
		wcfg.ScanLimit = cfg.Escalation.ScanLimit
		wcfg.OnEscalated = slaChanged
		escalationWorker, err = worker.NewEscalationWorker(svc, wcfg, logger)
		if err != nil {
			logger.Error("failed to create escalation worker", "error", err)
			os.Exit(1)
		}
		escalationWorker.Start()
	}

	apiServer := api.NewServer(svc, logger, apiOpts...)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      apiServer,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	// Start server
	go func() {
		logger.Info("starting server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	if escalationWorker != nil {
		escalationWorker.Stop()
	}
	if flusher != nil {
		flusher.Stop()
	}

	logger.Info("shutdown complete")
}
