package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Scan job metrics
var (
	// ScanJobsTotal tracks finished scan jobs by profile and status
	ScanJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulnscan_scan_jobs_total",
			Help: "Total number of scan jobs by profile and terminal status",
		},
		[]string{"org_id", "profile", "status"},
	)

	// ScanJobDuration tracks end-to-end scan duration
	ScanJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vulnscan_scan_job_duration_seconds",
			Help:    "Scan job duration in seconds",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		},
		[]string{"profile"},
	)

	// ScanJobsInProgress tracks currently executing scans
	ScanJobsInProgress = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vulnscan_scan_jobs_in_progress",
			Help: "Number of scan jobs currently executing",
		},
		[]string{"org_id"},
	)

	// ScanRetriesTotal tracks queue redeliveries of scan jobs
	ScanRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulnscan_scan_retries_total",
			Help: "Total number of scan job redeliveries",
		},
		[]string{"org_id"},
	)

	// ScanDeadLetteredTotal tracks scans moved to the dead-letter queue
	ScanDeadLetteredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulnscan_scan_dead_lettered_total",
			Help: "Total number of scan jobs dead-lettered after retry exhaustion",
		},
		[]string{"org_id"},
	)

	// ScanCancellationsTotal tracks cancellation requests honored
	ScanCancellationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulnscan_scan_cancellations_total",
			Help: "Total number of scan jobs cancelled",
		},
		[]string{"org_id"},
	)
)

// Module execution metrics
var (
	// ModuleRunsTotal tracks module executions by module and outcome
	ModuleRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulnscan_module_runs_total",
			Help: "Total number of module executions by module and status",
		},
		[]string{"module", "status"},
	)

	// ModuleRunDuration tracks per-module execution duration
	ModuleRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vulnscan_module_run_duration_seconds",
			Help:    "Module execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"module"},
	)

	// ModuleTimeoutsTotal tracks module runs killed by the timeout
	ModuleTimeoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulnscan_module_timeouts_total",
			Help: "Total number of module executions aborted by timeout",
		},
		[]string{"module"},
	)
)

// Finding metrics
var (
	// FindingsTotal tracks findings produced by scans
	FindingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulnscan_findings_total",
			Help: "Total number of findings produced by scans",
		},
		[]string{"org_id", "severity"},
	)
)

// Queue metrics
var (
	// TasksEnqueuedTotal tracks tasks pushed to the background queues
	TasksEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulnscan_tasks_enqueued_total",
			Help: "Total number of tasks enqueued by queue",
		},
		[]string{"queue"},
	)

	// QueueDepth tracks pending tasks per queue
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vulnscan_queue_depth",
			Help: "Number of pending tasks per queue",
		},
		[]string{"queue"},
	)
)

// Progress event metrics
var (
	// EventsPublishedTotal tracks progress events published to the event bus
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulnscan_events_published_total",
			Help: "Total number of progress events published by kind",
		},
		[]string{"kind"},
	)

	// EventSubscribers tracks live event bus subscriptions
	EventSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vulnscan_event_subscribers",
			Help: "Number of live progress event subscriptions",
		},
	)

	// WebSocketConnections tracks open websocket clients
	WebSocketConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vulnscan_websocket_connections",
			Help: "Number of open websocket connections",
		},
		[]string{"org_id"},
	)
)

// Notification metrics
var (
	// NotificationsTotal tracks channel deliveries by kind and outcome
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulnscan_notifications_total",
			Help: "Total number of notification deliveries by channel kind and status",
		},
		[]string{"kind", "event_type", "status"},
	)

	// NotificationDuration tracks delivery latency per channel kind
	NotificationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vulnscan_notification_duration_seconds",
			Help:    "Notification delivery duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"kind"},
	)
)

// Scheduler metrics
var (
	// ScheduleTriggersTotal tracks scheduled scan triggers
	ScheduleTriggersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulnscan_schedule_triggers_total",
			Help: "Total number of scheduled scan triggers",
		},
		[]string{"org_id"},
	)

	// SchedulerErrors tracks scheduler errors by type
	SchedulerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulnscan_scheduler_errors_total",
			Help: "Total number of scheduler errors",
		},
		[]string{"error_type"},
	)

	// SchedulerLag tracks time since last scheduler cycle
	SchedulerLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vulnscan_scheduler_lag_seconds",
			Help: "Time since last scheduler cycle in seconds",
		},
	)

	// JobsReapedTotal tracks orphaned jobs requeued by the reaper
	JobsReapedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vulnscan_jobs_reaped_total",
			Help: "Total number of orphaned running jobs requeued by the reaper",
		},
	)
)

// Report metrics
var (
	// ReportsGeneratedTotal tracks generated scan reports
	ReportsGeneratedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulnscan_reports_generated_total",
			Help: "Total number of scan reports generated",
		},
		[]string{"org_id", "format"},
	)

	// ReportUploadDuration tracks report upload latency
	ReportUploadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vulnscan_report_upload_duration_seconds",
			Help:    "Report upload duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)
)
