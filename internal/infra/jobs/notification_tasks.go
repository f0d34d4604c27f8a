package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/vulnscanio/engine/pkg/logger"
)

// Notification task types.
const (
	// TypeNotificationDispatch fans one scan lifecycle event out to the
	// organization's notification channels.
	TypeNotificationDispatch = "notification:dispatch"

	// TypeNotificationDigest computes and delivers a periodic summary for
	// one organization.
	TypeNotificationDigest = "notification:digest"
)

// NotificationTaskPayload contains data for one notification dispatch.
type NotificationTaskPayload struct {
	ScanID    string `json:"scan_id"`
	OrgID     string `json:"org_id"`
	EventType string `json:"event_type"`
}

// DigestTaskPayload contains data for one periodic digest run.
type DigestTaskPayload struct {
	OrgID  string `json:"org_id"`
	Period string `json:"period"`
}

// NewNotificationTask creates a task for dispatching a scan event.
//
// Channels are delivered concurrently with individual timeouts inside the
// dispatcher, so the task timeout only needs to cover one delivery round.
func NewNotificationTask(payload NotificationTaskPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal notification payload: %w", err)
	}

	return asynq.NewTask(
		TypeNotificationDispatch,
		data,
		asynq.Queue(QueueNotifications),
		asynq.MaxRetry(3),
		asynq.Timeout(2*time.Minute),
	), nil
}

// NewDigestTask creates a task for computing and delivering a periodic digest.
func NewDigestTask(payload DigestTaskPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal digest payload: %w", err)
	}

	return asynq.NewTask(
		TypeNotificationDigest,
		data,
		asynq.Queue(QueueNotifications),
		asynq.MaxRetry(3),
		asynq.Timeout(5*time.Minute),
	), nil
}

// NotificationProcessor defines the interface for dispatching notifications.
// Implemented by the notification service in the app layer.
type NotificationProcessor interface {
	// DispatchScanEvent fans a scan event out to all subscribed channels.
	// Individual channel failures are recorded on the channel and do not
	// make the dispatch fail.
	DispatchScanEvent(ctx context.Context, scanID, orgID, eventType string) error

	// RunDigest computes the periodic summary for one organization and
	// delivers it to channels subscribed to digests.
	RunDigest(ctx context.Context, orgID, period string) error
}

// NotificationTaskHandler handles notification dispatch tasks.
type NotificationTaskHandler struct {
	processor NotificationProcessor
	logger    *logger.Logger
}

// NewNotificationTaskHandler creates a new notification task handler.
func NewNotificationTaskHandler(processor NotificationProcessor, log *logger.Logger) *NotificationTaskHandler {
	return &NotificationTaskHandler{
		processor: processor,
		logger:    log,
	}
}

// HandleDispatch handles the notification dispatch task.
func (h *NotificationTaskHandler) HandleDispatch(ctx context.Context, t *asynq.Task) error {
	var payload NotificationTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal notification payload: %w", err)
	}

	if err := h.processor.DispatchScanEvent(ctx, payload.ScanID, payload.OrgID, payload.EventType); err != nil {
		h.logger.Error("notification dispatch failed",
			"scan_id", payload.ScanID,
			"event_type", payload.EventType,
			"error", err,
		)
		return err
	}

	return nil
}

// HandleDigest handles the periodic digest task.
func (h *NotificationTaskHandler) HandleDigest(ctx context.Context, t *asynq.Task) error {
	var payload DigestTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal digest payload: %w", err)
	}

	if err := h.processor.RunDigest(ctx, payload.OrgID, payload.Period); err != nil {
		h.logger.Error("digest run failed",
			"org_id", payload.OrgID,
			"period", payload.Period,
			"error", err,
		)
		return err
	}

	return nil
}

// RegisterHandlers registers notification task handlers with the asynq server mux.
func (h *NotificationTaskHandler) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeNotificationDispatch, h.HandleDispatch)
	mux.HandleFunc(TypeNotificationDigest, h.HandleDigest)
}
