package main

import (
	"context"
	"time"

	"github.com/vulnscanio/engine/internal/app"
	"github.com/vulnscanio/engine/internal/config"
	"github.com/vulnscanio/engine/internal/infra/jobs"
	"github.com/vulnscanio/engine/internal/infra/redis"
	"github.com/vulnscanio/engine/internal/infra/runner"
	"github.com/vulnscanio/engine/pkg/logger"
)

// queueDepthInterval is how often queue depth gauges are refreshed.
const queueDepthInterval = 15 * time.Second

// Workers holds all background worker instances.
type Workers struct {
	JobWorker *jobs.Worker
	Scheduler *app.Scheduler
	Reaper    *app.Reaper
	Digest    *app.DigestScheduler

	inspector      *jobs.Inspector
	stopQueueDepth func()
}

// WorkerDeps contains dependencies needed to create workers.
type WorkerDeps struct {
	Config    *config.Config
	Log       *logger.Logger
	Repos     *Repositories
	Services  *Services
	EventBus  *redis.EventBus
	JobClient app.JobEnqueuer
	Inspector *jobs.Inspector
}

// NewWorkers initializes the queue worker and the periodic schedulers.
func NewWorkers(deps *WorkerDeps) (*Workers, error) {
	cfg := deps.Config
	log := deps.Log
	repos := deps.Repos
	svc := deps.Services

	// The executor is the worker-side scan processor; the registry holds
	// every module runner it can dispatch to.
	registry := runner.NewDefaultRegistry(log)
	executor := app.NewExecutor(
		repos.ScanJob,
		repos.ModuleResult,
		repos.Finding,
		repos.Target,
		registry,
		deps.JobClient,
		deps.EventBus,
		cfg.Scan,
		log,
	)

	jobWorker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisAddr:     cfg.Redis.Addr(),
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
		Concurrency:   cfg.Queue.Concurrency,
		Queues:        queueWeights(cfg.Queue),
	}, executor, log,
		jobs.WithDiscoveryProcessor(svc.Discovery),
		jobs.WithReportProcessor(svc.Report),
		jobs.WithNotificationProcessor(svc.Notification),
	)
	if err != nil {
		return nil, err
	}

	digest, err := app.NewDigestScheduler(repos.Channel, deps.JobClient, cfg.Notify, log)
	if err != nil {
		return nil, err
	}

	return &Workers{
		JobWorker: jobWorker,
		Scheduler: app.NewScheduler(repos.Schedule, svc.Scan, app.SchedulerConfig{}, log),
		Reaper:    app.NewReaper(repos.ScanJob, deps.JobClient, cfg.Scan, log),
		Digest:    digest,
		inspector: deps.Inspector,
	}, nil
}

// Start starts all background workers.
func (w *Workers) Start(ctx context.Context, log *logger.Logger) error {
	if err := w.JobWorker.Start(); err != nil {
		return err
	}
	log.Info("job worker started")

	w.Scheduler.Start()
	w.Reaper.Start()
	w.Digest.Start()
	w.stopQueueDepth = w.inspector.StartQueueDepthCollector(ctx, queueDepthInterval)

	return nil
}

// Stop stops all background workers. The job worker waits for in-flight
// tasks before returning.
func (w *Workers) Stop(log *logger.Logger) {
	if w.stopQueueDepth != nil {
		w.stopQueueDepth()
	}
	w.Digest.Stop()
	w.Reaper.Stop()
	w.Scheduler.Stop()
	w.JobWorker.Stop()
	log.Info("workers stopped")
}

// queueWeights maps configured queue weights, falling back to the default
// split when any weight is unset.
func queueWeights(cfg config.QueueConfig) map[string]int {
	if cfg.ScansWeight <= 0 || cfg.DiscoveryWeight <= 0 || cfg.ReportsWeight <= 0 || cfg.NotificationsWeight <= 0 {
		return nil
	}
	return map[string]int{
		jobs.QueueScans:         cfg.ScansWeight,
		jobs.QueueDiscovery:     cfg.DiscoveryWeight,
		jobs.QueueReports:       cfg.ReportsWeight,
		jobs.QueueNotifications: cfg.NotificationsWeight,
	}
}
