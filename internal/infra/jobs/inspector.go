package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/vulnscanio/engine/internal/metrics"
	"github.com/vulnscanio/engine/pkg/domain/scan"
	"github.com/vulnscanio/engine/pkg/domain/shared"
	"github.com/vulnscanio/engine/pkg/logger"
)

// ErrDeadTaskNotFound is returned when a dead-lettered task does not exist.
var ErrDeadTaskNotFound = fmt.Errorf("%w: dead-lettered task not found", shared.ErrNotFound)

// AllQueues returns every queue the engine uses.
func AllQueues() []string {
	return []string{QueueScans, QueueDiscovery, QueueReports, QueueNotifications}
}

// DeadTask describes one dead-lettered task for operator inspection.
type DeadTask struct {
	ID           string          `json:"id"`
	Queue        string          `json:"queue"`
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	Retried      int             `json:"retried"`
	LastError    string          `json:"last_error"`
	LastFailedAt time.Time       `json:"last_failed_at"`
}

// Inspector exposes queue statistics and dead-letter management.
type Inspector struct {
	inspector *asynq.Inspector
	logger    *logger.Logger
}

// NewInspector creates a new queue inspector.
func NewInspector(cfg ClientConfig, log *logger.Logger) *Inspector {
	return &Inspector{
		inspector: asynq.NewInspector(asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}),
		logger: log.With("component", "queue_inspector"),
	}
}

// Close closes the inspector connection.
func (i *Inspector) Close() error {
	return i.inspector.Close()
}

// Stats returns per-state task counts for every queue. Queues that have
// never seen a task report zero counts.
func (i *Inspector) Stats() (map[string]scan.QueueCounts, error) {
	stats := make(map[string]scan.QueueCounts, len(AllQueues()))

	for _, queue := range AllQueues() {
		info, err := i.inspector.GetQueueInfo(queue)
		if err != nil {
			if errors.Is(err, asynq.ErrQueueNotFound) {
				stats[queue] = scan.QueueCounts{}
				continue
			}
			return nil, fmt.Errorf("queue info for %s: %w", queue, err)
		}

		stats[queue] = scan.QueueCounts{
			Pending:   int64(info.Pending),
			Active:    int64(info.Active),
			Scheduled: int64(info.Scheduled),
			Retry:     int64(info.Retry),
			Archived:  int64(info.Archived),
			Completed: int64(info.Completed),
		}
	}

	return stats, nil
}

// DeadLettered lists dead-lettered tasks in a queue, most recent first.
func (i *Inspector) DeadLettered(queue string, page, size int) ([]DeadTask, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}

	infos, err := i.inspector.ListArchivedTasks(queue, asynq.Page(page), asynq.PageSize(size))
	if err != nil {
		if errors.Is(err, asynq.ErrQueueNotFound) {
			return []DeadTask{}, nil
		}
		return nil, fmt.Errorf("list archived tasks: %w", err)
	}

	tasks := make([]DeadTask, 0, len(infos))
	for _, info := range infos {
		tasks = append(tasks, DeadTask{
			ID:           info.ID,
			Queue:        info.Queue,
			Type:         info.Type,
			Payload:      json.RawMessage(info.Payload),
			Retried:      info.Retried,
			LastError:    info.LastErr,
			LastFailedAt: info.LastFailedAt,
		})
	}

	return tasks, nil
}

// RequeueDeadLettered moves a dead-lettered task back to pending for another
// round of processing.
func (i *Inspector) RequeueDeadLettered(queue, id string) error {
	if err := i.inspector.RunTask(queue, id); err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return ErrDeadTaskNotFound
		}
		return fmt.Errorf("requeue task: %w", err)
	}

	i.logger.Info("dead-lettered task requeued", "queue", queue, "task_id", id)
	return nil
}

// DeleteDeadLettered permanently removes a dead-lettered task.
func (i *Inspector) DeleteDeadLettered(queue, id string) error {
	if err := i.inspector.DeleteTask(queue, id); err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return ErrDeadTaskNotFound
		}
		return fmt.Errorf("delete task: %w", err)
	}

	i.logger.Info("dead-lettered task deleted", "queue", queue, "task_id", id)
	return nil
}

// StartQueueDepthCollector starts a goroutine that periodically exports
// pending counts per queue. Returns a cancel function.
func (i *Inspector) StartQueueDepthCollector(ctx context.Context, interval time.Duration) func() {
	if interval <= 0 {
		interval = 15 * time.Second
	}

	ctx, cancel := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats, err := i.Stats()
				if err != nil {
					i.logger.Warn("queue depth collection failed", "error", err)
					continue
				}
				for queue, counts := range stats {
					metrics.QueueDepth.WithLabelValues(queue).Set(float64(counts.Pending + counts.Retry))
				}
			}
		}
	}()

	return cancel
}
