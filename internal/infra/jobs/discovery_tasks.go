package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/vulnscanio/engine/pkg/logger"
)

// TypeDiscoveryProcess is the task type for expanding a discovery target.
const TypeDiscoveryProcess = "discovery:process"

// DiscoveryTaskPayload contains data for a discovery run.
type DiscoveryTaskPayload struct {
	TargetID string `json:"target_id"`
	OrgID    string `json:"org_id"`
}

// NewDiscoveryTask creates a task for expanding a CIDR or domain target into
// concrete scannable hosts.
func NewDiscoveryTask(payload DiscoveryTaskPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal discovery payload: %w", err)
	}

	return asynq.NewTask(
		TypeDiscoveryProcess,
		data,
		asynq.Queue(QueueDiscovery),
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
	), nil
}

// DiscoveryProcessor defines the interface for discovery runs.
type DiscoveryProcessor interface {
	// ProcessDiscovery expands a target and registers what it finds.
	ProcessDiscovery(ctx context.Context, targetID, orgID string) error
}

// DiscoveryTaskHandler handles discovery tasks.
type DiscoveryTaskHandler struct {
	processor DiscoveryProcessor
	logger    *logger.Logger
}

// NewDiscoveryTaskHandler creates a new discovery task handler.
func NewDiscoveryTaskHandler(processor DiscoveryProcessor, log *logger.Logger) *DiscoveryTaskHandler {
	return &DiscoveryTaskHandler{
		processor: processor,
		logger:    log,
	}
}

// HandleProcess handles the discovery process task.
func (h *DiscoveryTaskHandler) HandleProcess(ctx context.Context, t *asynq.Task) error {
	var payload DiscoveryTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal discovery payload: %w", err)
	}

	if err := h.processor.ProcessDiscovery(ctx, payload.TargetID, payload.OrgID); err != nil {
		h.logger.Error("discovery run failed",
			"target_id", payload.TargetID,
			"error", err,
		)
		return err
	}

	return nil
}

// RegisterHandlers registers discovery task handlers with the asynq server mux.
func (h *DiscoveryTaskHandler) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeDiscoveryProcess, h.HandleProcess)
}
