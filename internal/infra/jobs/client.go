package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/vulnscanio/engine/internal/app"
	"github.com/vulnscanio/engine/internal/metrics"
	"github.com/vulnscanio/engine/pkg/domain/shared"
	"github.com/vulnscanio/engine/pkg/logger"
)

// Queue names. Weights are configured on the worker; higher drains first.
const (
	QueueScans         = "scans"
	QueueDiscovery     = "discovery"
	QueueReports       = "reports"
	QueueNotifications = "notifications"
)

// Client manages enqueueing background jobs using Asynq.
type Client struct {
	client   *asynq.Client
	maxRetry int
	logger   *logger.Logger
}

var _ app.JobEnqueuer = (*Client)(nil)

// ClientConfig contains configuration for the job client.
type ClientConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// MaxRetry is the retry budget for scan tasks before they dead-letter.
	MaxRetry int
}

// NewClient creates a new job client for enqueueing tasks.
func NewClient(cfg ClientConfig, log *logger.Logger) (*Client, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	maxRetry := cfg.MaxRetry
	if maxRetry <= 0 {
		maxRetry = 3
	}

	client := asynq.NewClient(redisOpt)

	return &Client{
		client:   client,
		maxRetry: maxRetry,
		logger:   log.With("component", "job_client"),
	}, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueueScan enqueues a scan execution task. Returns app.ErrTaskAlreadyQueued
// when the scan is already waiting in the queue.
func (c *Client) EnqueueScan(ctx context.Context, scanID, orgID shared.ID) error {
	task, err := NewScanTask(ScanTaskPayload{
		ScanID: scanID.String(),
		OrgID:  orgID.String(),
	}, c.maxRetry)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			c.logger.Debug("scan already queued", "scan_id", scanID)
			return app.ErrTaskAlreadyQueued
		}
		c.logger.Error("failed to enqueue scan",
			"scan_id", scanID,
			"error", err,
		)
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	metrics.TasksEnqueuedTotal.WithLabelValues(QueueScans).Inc()
	c.logger.Info("scan queued",
		"task_id", info.ID,
		"scan_id", scanID,
		"queue", info.Queue,
	)
	return nil
}

// EnqueueScanIn enqueues a scan execution task to start after the given
// delay. Used by the schedule loop so scans start on their due second rather
// than on the next tick.
func (c *Client) EnqueueScanIn(ctx context.Context, scanID, orgID shared.ID, delay time.Duration) error {
	task, err := NewScanTask(ScanTaskPayload{
		ScanID: scanID.String(),
		OrgID:  orgID.String(),
	}, c.maxRetry)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	info, err := c.client.EnqueueContext(ctx, task, asynq.ProcessIn(delay))
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			c.logger.Debug("scan already queued", "scan_id", scanID)
			return app.ErrTaskAlreadyQueued
		}
		c.logger.Error("failed to enqueue scan",
			"scan_id", scanID,
			"error", err,
		)
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	metrics.TasksEnqueuedTotal.WithLabelValues(QueueScans).Inc()
	c.logger.Info("scan scheduled",
		"task_id", info.ID,
		"scan_id", scanID,
		"delay", delay,
		"queue", info.Queue,
	)
	return nil
}

// EnqueueDiscovery enqueues a discovery run for a target.
func (c *Client) EnqueueDiscovery(ctx context.Context, targetID, orgID shared.ID) error {
	task, err := NewDiscoveryTask(DiscoveryTaskPayload{
		TargetID: targetID.String(),
		OrgID:    orgID.String(),
	})
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		c.logger.Error("failed to enqueue discovery",
			"target_id", targetID,
			"error", err,
		)
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	metrics.TasksEnqueuedTotal.WithLabelValues(QueueDiscovery).Inc()
	c.logger.Info("discovery queued",
		"task_id", info.ID,
		"target_id", targetID,
		"queue", info.Queue,
	)
	return nil
}

// EnqueueReport enqueues report generation for a finished scan.
func (c *Client) EnqueueReport(ctx context.Context, scanID, orgID shared.ID, format string) error {
	task, err := NewReportTask(ReportTaskPayload{
		ScanID: scanID.String(),
		OrgID:  orgID.String(),
		Format: format,
	})
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		c.logger.Error("failed to enqueue report",
			"scan_id", scanID,
			"format", format,
			"error", err,
		)
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	metrics.TasksEnqueuedTotal.WithLabelValues(QueueReports).Inc()
	c.logger.Info("report queued",
		"task_id", info.ID,
		"scan_id", scanID,
		"format", format,
		"queue", info.Queue,
	)
	return nil
}

// EnqueueNotification enqueues a scan event dispatch to notification channels.
func (c *Client) EnqueueNotification(ctx context.Context, scanID, orgID shared.ID, eventType string) error {
	task, err := NewNotificationTask(NotificationTaskPayload{
		ScanID:    scanID.String(),
		OrgID:     orgID.String(),
		EventType: eventType,
	})
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		c.logger.Error("failed to enqueue notification",
			"scan_id", scanID,
			"event_type", eventType,
			"error", err,
		)
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	metrics.TasksEnqueuedTotal.WithLabelValues(QueueNotifications).Inc()
	c.logger.Info("notification queued",
		"task_id", info.ID,
		"scan_id", scanID,
		"event_type", eventType,
		"queue", info.Queue,
	)
	return nil
}

// EnqueueDigest enqueues a periodic digest run for an organization.
func (c *Client) EnqueueDigest(ctx context.Context, orgID shared.ID, period string) error {
	task, err := NewDigestTask(DigestTaskPayload{
		OrgID:  orgID.String(),
		Period: period,
	})
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		c.logger.Error("failed to enqueue digest",
			"org_id", orgID,
			"period", period,
			"error", err,
		)
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	metrics.TasksEnqueuedTotal.WithLabelValues(QueueNotifications).Inc()
	c.logger.Info("digest queued",
		"task_id", info.ID,
		"org_id", orgID,
		"period", period,
		"queue", info.Queue,
	)
	return nil
}
