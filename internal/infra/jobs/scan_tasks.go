package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/vulnscanio/engine/pkg/domain/scan"
	"github.com/vulnscanio/engine/pkg/logger"
)

// TypeScanExecute is the task type for executing a scan job.
const TypeScanExecute = "scan:execute"

// scanTaskTimeout is a coarse ceiling on one scan task. Real work is bounded
// by the per-module timeout inside the executor; this only guards against a
// wedged worker holding the task forever.
const scanTaskTimeout = 2 * time.Hour

// scanTaskRetention keeps finished scan tasks visible to the inspector.
const scanTaskRetention = 24 * time.Hour

// ScanTaskPayload contains data for executing a scan job.
type ScanTaskPayload struct {
	ScanID string `json:"scan_id"`
	OrgID  string `json:"org_id"`
}

// NewScanTask creates a task for executing a scan job.
//
// The task ID is derived from the scan ID so a job can only ever sit in the
// queue once: requeueing an already-pending scan is a no-op, and a worker
// crash leads to redelivery of the same task rather than a duplicate.
func NewScanTask(payload ScanTaskPayload, maxRetry int) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal scan payload: %w", err)
	}

	return asynq.NewTask(
		TypeScanExecute,
		data,
		asynq.Queue(QueueScans),
		asynq.TaskID("scan:"+payload.ScanID),
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(scanTaskTimeout),
		asynq.Retention(scanTaskRetention),
	), nil
}

// ScanProcessor defines the interface for executing scan jobs.
// Implemented by the scan executor in the app layer.
type ScanProcessor interface {
	// ProcessScan runs a scan job to a terminal state, resuming from the
	// first module without a recorded result when the task is redelivered.
	ProcessScan(ctx context.Context, scanID string) error
}

// ScanTaskHandler handles scan execution tasks.
type ScanTaskHandler struct {
	processor ScanProcessor
	logger    *logger.Logger
}

// NewScanTaskHandler creates a new scan task handler.
func NewScanTaskHandler(processor ScanProcessor, log *logger.Logger) *ScanTaskHandler {
	return &ScanTaskHandler{
		processor: processor,
		logger:    log,
	}
}

// HandleExecute handles the scan execute task.
func (h *ScanTaskHandler) HandleExecute(ctx context.Context, t *asynq.Task) error {
	var payload ScanTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal scan payload: %w", err)
	}

	err := h.processor.ProcessScan(ctx, payload.ScanID)
	if err != nil {
		// A deleted job has nothing left to execute; retrying cannot help.
		if errors.Is(err, scan.ErrNotFound) {
			h.logger.Warn("scan job no longer exists, dropping task",
				"scan_id", payload.ScanID,
			)
			return nil
		}

		h.logger.Error("scan execution failed",
			"scan_id", payload.ScanID,
			"error", err,
		)
		return err
	}

	return nil
}

// RegisterHandlers registers scan task handlers with the asynq server mux.
func (h *ScanTaskHandler) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeScanExecute, h.HandleExecute)
}
