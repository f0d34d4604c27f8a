package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/vulnscanio/engine/internal/config"
	"github.com/vulnscanio/engine/internal/infra/http"
	"github.com/vulnscanio/engine/internal/infra/http/routes"
	"github.com/vulnscanio/engine/internal/infra/jobs"
	"github.com/vulnscanio/engine/internal/infra/postgres"
	"github.com/vulnscanio/engine/internal/infra/redis"
	"github.com/vulnscanio/engine/internal/infra/reports"
	"github.com/vulnscanio/engine/internal/infra/websocket"
	"github.com/vulnscanio/engine/pkg/logger"
	"github.com/vulnscanio/engine/pkg/migrations"
	"github.com/vulnscanio/engine/pkg/validator"
)

// @title           VulnScan Engine API
// @version         1.0
// @description     Scan orchestration engine for the VulnScan platform

// @license.name  MIT
// @license.url   https://opensource.org/licenses/MIT

// @host      localhost:8080
// @BasePath  /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT Bearer token. Format: "Bearer {token}"

// Command line flags.
var (
	runMigrations = flag.Bool("migrate", false, "Apply pending database migrations before starting")
	migrationsDir = flag.String("migrations-dir", "migrations", "Directory containing migration files")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	ctx := context.Background()

	// ==========================================================================
	// Configuration & Logger
	// ==========================================================================
	cfg, err := config.Load()
	if err != nil {
		log := logger.NewDefault()
		log.Error("failed to load configuration", "error", err)
		return 1
	}

	log := initLogger(cfg)
	log.Info("starting application", "app", cfg.App.Name, "env", cfg.App.Env)

	// ==========================================================================
	// Infrastructure
	// ==========================================================================
	db, err := postgres.New(&cfg.Database)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		return 1
	}
	defer closeWithLog(db, "database", log)
	log.Info("database connected")

	if *runMigrations {
		if err := migrations.NewRunner(db.DB, *migrationsDir).Up(ctx); err != nil {
			log.Error("failed to apply migrations", "error", err)
			return 1
		}
		log.Info("migrations applied")
	}

	redisClient, err := redis.New(&cfg.Redis, log)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		return 1
	}
	defer closeWithLog(redisClient, "redis", log)
	log.Info("redis connected")

	stopPoolStats := redis.StartPoolStatsCollector(ctx, redisClient, 0)
	defer stopPoolStats()

	eventBus := redis.NewEventBus(redisClient, log)
	if err := eventBus.StartListener(ctx); err != nil {
		log.Error("failed to start event bus listener", "error", err)
		return 1
	}
	log.Info("event bus listening")

	// ==========================================================================
	// Job Queue
	// ==========================================================================
	jobClient, err := jobs.NewClient(jobs.ClientConfig{
		RedisAddr:     cfg.Redis.Addr(),
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
		MaxRetry:      cfg.Scan.MaxRetry,
	}, log)
	if err != nil {
		log.Error("failed to initialize job client", "error", err)
		return 1
	}
	defer closeWithLog(jobClient, "job client", log)

	inspector := jobs.NewInspector(jobs.ClientConfig{
		RedisAddr:     cfg.Redis.Addr(),
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
	}, log)
	defer closeWithLog(inspector, "queue inspector", log)

	// ==========================================================================
	// Object Storage
	// ==========================================================================
	var artifactStore *reports.Store
	if cfg.Storage.IsConfigured() {
		artifactStore, err = reports.NewStore(ctx, cfg.Storage, log)
		if err != nil {
			log.Error("failed to initialize report storage", "error", err)
			return 1
		}
		log.Info("report storage initialized", "bucket", cfg.Storage.Bucket)
	} else {
		log.Info("report storage not configured, report generation disabled")
	}

	// ==========================================================================
	// Repositories & Services
	// ==========================================================================
	repos := NewRepositories(db)
	log.Info("repositories initialized")

	services, err := NewServices(&ServiceDeps{
		Config:        cfg,
		Log:           log,
		Repos:         repos,
		RedisClient:   redisClient,
		EventBus:      eventBus,
		JobClient:     jobClient,
		ArtifactStore: artifactStore,
	})
	if err != nil {
		log.Error("failed to initialize services", "error", err)
		return 1
	}
	log.Info("services initialized")

	// ==========================================================================
	// WebSocket Hub
	// ==========================================================================
	wsCtx, wsCancel := context.WithCancel(ctx)
	defer wsCancel()

	hub := websocket.NewHub(log)
	go hub.Run(wsCtx)

	bridge := websocket.NewEventBridge(eventBus, hub, log)
	go bridge.Run(wsCtx)
	log.Info("websocket hub started")

	// ==========================================================================
	// Handlers & HTTP Server
	// ==========================================================================
	handlers := NewHandlers(&HandlerDeps{
		Log:       log,
		Validator: validator.New(),
		DB:        db,
		Redis:     redisClient,
		Inspector: inspector,
		Hub:       hub,
		JobClient: jobClient,
		Services:  services,
	})

	server := http.NewServer(cfg, log)
	routesCleanup := routes.Register(server.Router(), handlers, cfg, log, services.TokenValidator)
	defer routesCleanup()

	// ==========================================================================
	// Workers
	// ==========================================================================
	workers, err := NewWorkers(&WorkerDeps{
		Config:    cfg,
		Log:       log,
		Repos:     repos,
		Services:  services,
		EventBus:  eventBus,
		JobClient: jobClient,
		Inspector: inspector,
	})
	if err != nil {
		log.Error("failed to initialize workers", "error", err)
		return 1
	}

	if err := workers.Start(ctx, log); err != nil {
		log.Error("failed to start workers", "error", err)
		return 1
	}

	// ==========================================================================
	// Start Server
	// ==========================================================================
	go func() {
		if err := server.Start(); err != nil {
			log.Error("server error", "error", err)
		}
	}()
	log.Info("application started", "http_addr", cfg.Server.Addr())

	// ==========================================================================
	// Graceful Shutdown
	// ==========================================================================
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Workers first: running scans checkpoint at module boundaries, so a
	// stopped worker resumes cleanly on the next delivery.
	workers.Stop(log)

	// Close websocket connections before the listener goes away
	wsCancel()
	log.Info("websocket hub stopped")

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		return 1
	}

	log.Info("application stopped")
	return 0
}

// =============================================================================
// Helper Functions
// =============================================================================

func initLogger(cfg *config.Config) *logger.Logger {
	threshold := cfg.Log.SamplingThreshold
	if threshold < 0 {
		threshold = 0
	}

	if cfg.Log.SamplingEnabled {
		logger.RegisterMetrics(nil)
	}

	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Sampling: logger.SamplingConfig{
			Enabled:       cfg.Log.SamplingEnabled,
			Threshold:     uint64(threshold),
			Rate:          cfg.Log.SamplingRate,
			ErrorRate:     cfg.Log.ErrorSamplingRate,
			EnableMetrics: cfg.Log.SamplingEnabled,
		},
	})
	log.SetDefault()
	return log
}

type closer interface {
	Close() error
}

func closeWithLog(c closer, name string, log *logger.Logger) {
	if err := c.Close(); err != nil {
		log.Error("failed to close "+name, "error", err)
	}
}
