package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnscanio/engine/pkg/domain/scan"
	"github.com/vulnscanio/engine/pkg/logger"
)

type fakeScanProcessor struct {
	scanID string
	err    error
	calls  int
}

func (p *fakeScanProcessor) ProcessScan(_ context.Context, scanID string) error {
	p.calls++
	p.scanID = scanID
	return p.err
}

type fakeNotificationProcessor struct {
	scanID    string
	orgID     string
	eventType string
	period    string
	err       error
}

func (p *fakeNotificationProcessor) DispatchScanEvent(_ context.Context, scanID, orgID, eventType string) error {
	p.scanID, p.orgID, p.eventType = scanID, orgID, eventType
	return p.err
}

func (p *fakeNotificationProcessor) RunDigest(_ context.Context, orgID, period string) error {
	p.orgID, p.period = orgID, period
	return p.err
}

type fakeReportProcessor struct {
	scanID string
	format string
	err    error
}

func (p *fakeReportProcessor) GenerateReport(_ context.Context, scanID, format string) error {
	p.scanID, p.format = scanID, format
	return p.err
}

type fakeDiscoveryProcessor struct {
	targetID string
	orgID    string
	err      error
}

func (p *fakeDiscoveryProcessor) ProcessDiscovery(_ context.Context, targetID, orgID string) error {
	p.targetID, p.orgID = targetID, orgID
	return p.err
}

func TestNewScanTask(t *testing.T) {
	task, err := NewScanTask(ScanTaskPayload{ScanID: "scan-1", OrgID: "org-1"}, 3)
	require.NoError(t, err)

	assert.Equal(t, TypeScanExecute, task.Type())

	var payload ScanTaskPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, "scan-1", payload.ScanID)
	assert.Equal(t, "org-1", payload.OrgID)
}

func TestScanTaskHandlerHandleExecute(t *testing.T) {
	newTask := func(t *testing.T, scanID string) *asynq.Task {
		t.Helper()
		task, err := NewScanTask(ScanTaskPayload{ScanID: scanID, OrgID: "org-1"}, 3)
		require.NoError(t, err)
		return task
	}

	t.Run("runs the scan from the payload", func(t *testing.T) {
		proc := &fakeScanProcessor{}
		h := NewScanTaskHandler(proc, logger.NewNop())

		err := h.HandleExecute(context.Background(), newTask(t, "scan-42"))
		require.NoError(t, err)
		assert.Equal(t, "scan-42", proc.scanID)
		assert.Equal(t, 1, proc.calls)
	})

	t.Run("propagates execution errors for retry", func(t *testing.T) {
		proc := &fakeScanProcessor{err: errors.New("redis gone")}
		h := NewScanTaskHandler(proc, logger.NewNop())

		err := h.HandleExecute(context.Background(), newTask(t, "scan-42"))
		assert.Error(t, err)
	})

	t.Run("drops tasks for deleted scans", func(t *testing.T) {
		proc := &fakeScanProcessor{err: scan.ErrNotFound}
		h := NewScanTaskHandler(proc, logger.NewNop())

		err := h.HandleExecute(context.Background(), newTask(t, "scan-42"))
		assert.NoError(t, err)
	})

	t.Run("rejects malformed payloads", func(t *testing.T) {
		h := NewScanTaskHandler(&fakeScanProcessor{}, logger.NewNop())
		task := asynq.NewTask(TypeScanExecute, []byte("{not json"))

		err := h.HandleExecute(context.Background(), task)
		assert.Error(t, err)
	})
}

func TestNotificationTaskHandler(t *testing.T) {
	t.Run("dispatch forwards the event", func(t *testing.T) {
		proc := &fakeNotificationProcessor{}
		h := NewNotificationTaskHandler(proc, logger.NewNop())

		task, err := NewNotificationTask(NotificationTaskPayload{
			ScanID:    "scan-1",
			OrgID:     "org-1",
			EventType: "scan_completed",
		})
		require.NoError(t, err)
		require.NoError(t, h.HandleDispatch(context.Background(), task))

		assert.Equal(t, "scan-1", proc.scanID)
		assert.Equal(t, "org-1", proc.orgID)
		assert.Equal(t, "scan_completed", proc.eventType)
	})

	t.Run("digest forwards org and period", func(t *testing.T) {
		proc := &fakeNotificationProcessor{}
		h := NewNotificationTaskHandler(proc, logger.NewNop())

		task, err := NewDigestTask(DigestTaskPayload{OrgID: "org-1", Period: "weekly"})
		require.NoError(t, err)
		require.NoError(t, h.HandleDigest(context.Background(), task))

		assert.Equal(t, "org-1", proc.orgID)
		assert.Equal(t, "weekly", proc.period)
	})

	t.Run("dispatch errors propagate", func(t *testing.T) {
		proc := &fakeNotificationProcessor{err: errors.New("boom")}
		h := NewNotificationTaskHandler(proc, logger.NewNop())

		task, err := NewNotificationTask(NotificationTaskPayload{ScanID: "s", OrgID: "o", EventType: "scan_failed"})
		require.NoError(t, err)
		assert.Error(t, h.HandleDispatch(context.Background(), task))
	})
}

func TestReportTaskHandler(t *testing.T) {
	proc := &fakeReportProcessor{}
	h := NewReportTaskHandler(proc, logger.NewNop())

	task, err := NewReportTask(ReportTaskPayload{ScanID: "scan-1", OrgID: "org-1", Format: "html"})
	require.NoError(t, err)
	require.NoError(t, h.HandleGenerate(context.Background(), task))

	assert.Equal(t, "scan-1", proc.scanID)
	assert.Equal(t, "html", proc.format)
}

func TestDiscoveryTaskHandler(t *testing.T) {
	proc := &fakeDiscoveryProcessor{}
	h := NewDiscoveryTaskHandler(proc, logger.NewNop())

	task, err := NewDiscoveryTask(DiscoveryTaskPayload{TargetID: "target-1", OrgID: "org-1"})
	require.NoError(t, err)
	require.NoError(t, h.HandleProcess(context.Background(), task))

	assert.Equal(t, "target-1", proc.targetID)
	assert.Equal(t, "org-1", proc.orgID)
}
