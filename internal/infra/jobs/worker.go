package jobs

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/vulnscanio/engine/internal/metrics"
	"github.com/vulnscanio/engine/pkg/logger"
)

// WorkerConfig holds the configuration for the job worker.
type WorkerConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Concurrency   int

	// Queues maps queue name to weight. Defaults to DefaultQueues.
	Queues map[string]int
}

// DefaultQueues returns the standard queue weights. Scans dominate so user
// work drains ahead of reports and housekeeping.
func DefaultQueues() map[string]int {
	return map[string]int{
		QueueScans:         6,
		QueueNotifications: 3,
		QueueDiscovery:     2,
		QueueReports:       1,
	}
}

// WorkerOption is a functional option for configuring the Worker.
type WorkerOption func(*Worker)

// Worker processes background jobs.
type Worker struct {
	server                *asynq.Server
	mux                   *asynq.ServeMux
	logger                *logger.Logger
	discoveryProcessor    DiscoveryProcessor
	reportProcessor       ReportProcessor
	notificationProcessor NotificationProcessor
}

// WithDiscoveryProcessor adds a discovery processor to the worker.
func WithDiscoveryProcessor(processor DiscoveryProcessor) WorkerOption {
	return func(w *Worker) {
		w.discoveryProcessor = processor
	}
}

// WithReportProcessor adds a report processor to the worker.
func WithReportProcessor(processor ReportProcessor) WorkerOption {
	return func(w *Worker) {
		w.reportProcessor = processor
	}
}

// WithNotificationProcessor adds a notification processor to the worker.
func WithNotificationProcessor(processor NotificationProcessor) WorkerOption {
	return func(w *Worker) {
		w.notificationProcessor = processor
	}
}

// NewWorker creates a new background job worker. The scan processor is
// mandatory; the remaining processors are attached via options so a worker
// can run a subset of queues.
func NewWorker(cfg WorkerConfig, scanProcessor ScanProcessor, log *logger.Logger, opts ...WorkerOption) (*Worker, error) {
	if scanProcessor == nil {
		return nil, fmt.Errorf("scan processor is required")
	}

	queues := cfg.Queues
	if len(queues) == 0 {
		queues = DefaultQueues()
	}

	server := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		},
		asynq.Config{
			Concurrency:  cfg.Concurrency,
			Queues:       queues,
			ErrorHandler: asynq.ErrorHandlerFunc(recordTaskError(log)),
		},
	)

	mux := asynq.NewServeMux()

	scanHandler := NewScanTaskHandler(scanProcessor, log)
	scanHandler.RegisterHandlers(mux)

	w := &Worker{
		server: server,
		mux:    mux,
		logger: log,
	}

	for _, opt := range opts {
		opt(w)
	}

	if w.discoveryProcessor != nil {
		discoveryHandler := NewDiscoveryTaskHandler(w.discoveryProcessor, log)
		discoveryHandler.RegisterHandlers(mux)
		log.Info("discovery task handlers registered")
	}

	if w.reportProcessor != nil {
		reportHandler := NewReportTaskHandler(w.reportProcessor, log)
		reportHandler.RegisterHandlers(mux)
		log.Info("report task handlers registered")
	}

	if w.notificationProcessor != nil {
		notificationHandler := NewNotificationTaskHandler(w.notificationProcessor, log)
		notificationHandler.RegisterHandlers(mux)
		log.Info("notification task handlers registered")
	}

	return w, nil
}

// recordTaskError tracks retries and dead-lettered tasks. Asynq archives a
// task once its retry budget is spent; that archive is the dead-letter queue.
func recordTaskError(log *logger.Logger) func(ctx context.Context, task *asynq.Task, err error) {
	return func(ctx context.Context, task *asynq.Task, err error) {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)

		if task.Type() == TypeScanExecute {
			if retried >= maxRetry {
				metrics.ScanDeadLetteredTotal.WithLabelValues("").Inc()
				log.Error("scan task dead-lettered",
					"type", task.Type(),
					"retried", retried,
					"error", err,
				)
				return
			}
			metrics.ScanRetriesTotal.WithLabelValues("").Inc()
		}

		log.Warn("task failed, will retry",
			"type", task.Type(),
			"retried", retried,
			"max_retry", maxRetry,
			"error", err,
		)
	}
}

// Start starts the worker.
func (w *Worker) Start() error {
	w.logger.Info("starting job worker")
	return w.server.Start(w.mux)
}

// Stop stops the worker gracefully.
func (w *Worker) Stop() {
	w.logger.Info("stopping job worker")
	w.server.Shutdown()
}

// Run runs the worker until shutdown.
func (w *Worker) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Start(w.mux)
	}()

	select {
	case <-ctx.Done():
		w.Stop()
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("worker error: %w", err)
		}
		return nil
	}
}
