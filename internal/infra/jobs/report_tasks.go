package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/vulnscanio/engine/pkg/logger"
)

// TypeReportGenerate is the task type for generating a scan report artifact.
const TypeReportGenerate = "report:generate"

// ReportTaskPayload contains data for generating a report.
type ReportTaskPayload struct {
	ScanID string `json:"scan_id"`
	OrgID  string `json:"org_id"`
	Format string `json:"format"`
}

// NewReportTask creates a task for rendering a scan report and uploading it
// to artifact storage.
func NewReportTask(payload ReportTaskPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal report payload: %w", err)
	}

	return asynq.NewTask(
		TypeReportGenerate,
		data,
		asynq.Queue(QueueReports),
		asynq.MaxRetry(3),
		asynq.Timeout(5*time.Minute),
	), nil
}

// ReportProcessor defines the interface for report generation.
type ReportProcessor interface {
	// GenerateReport renders a report for a finished scan and stores the
	// artifact, recording its key on the scan job.
	GenerateReport(ctx context.Context, scanID, format string) error
}

// ReportTaskHandler handles report generation tasks.
type ReportTaskHandler struct {
	processor ReportProcessor
	logger    *logger.Logger
}

// NewReportTaskHandler creates a new report task handler.
func NewReportTaskHandler(processor ReportProcessor, log *logger.Logger) *ReportTaskHandler {
	return &ReportTaskHandler{
		processor: processor,
		logger:    log,
	}
}

// HandleGenerate handles the report generate task.
func (h *ReportTaskHandler) HandleGenerate(ctx context.Context, t *asynq.Task) error {
	var payload ReportTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal report payload: %w", err)
	}

	if err := h.processor.GenerateReport(ctx, payload.ScanID, payload.Format); err != nil {
		h.logger.Error("report generation failed",
			"scan_id", payload.ScanID,
			"format", payload.Format,
			"error", err,
		)
		return err
	}

	return nil
}

// RegisterHandlers registers report task handlers with the asynq server mux.
func (h *ReportTaskHandler) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeReportGenerate, h.HandleGenerate)
}
