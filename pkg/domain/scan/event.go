package scan

import (
	"time"

	"github.com/vulnscanio/engine/pkg/domain/shared"
)

// EventKind identifies a progress event emitted during scan execution.
type EventKind string

const (
	EventScanQueued    EventKind = "scan.queued"
	EventScanStarted   EventKind = "scan.started"
	EventScanProgress  EventKind = "scan.progress"
	EventScanCompleted EventKind = "scan.completed"
	EventScanFailed    EventKind = "scan.failed"
	EventScanCancelled EventKind = "scan.cancelled"
)

// Event is the payload published to scan and org topics while a job runs.
// Delivery is best-effort; consumers reconcile against the stored job.
type Event struct {
	Kind          EventKind `json:"kind"`
	ScanID        shared.ID `json:"scan_id"`
	OrgID         shared.ID `json:"org_id"`
	Target        string    `json:"target,omitempty"`
	Progress      int       `json:"progress"`
	CurrentModule string    `json:"current_module,omitempty"`
	Message       string    `json:"message,omitempty"`
	Summary       *Summary  `json:"summary,omitempty"`
	Error         string    `json:"error,omitempty"`
	At            time.Time `json:"at"`
}

// NewQueuedEvent announces a freshly enqueued job.
func NewQueuedEvent(job *ScanJob) Event {
	return Event{
		Kind:    EventScanQueued,
		ScanID:  job.ID,
		OrgID:   job.OrgID,
		Target:  job.Target,
		Message: "scan queued",
		At:      time.Now(),
	}
}

// NewStartedEvent announces that a worker claimed the job.
func NewStartedEvent(job *ScanJob) Event {
	return Event{
		Kind:          EventScanStarted,
		ScanID:        job.ID,
		OrgID:         job.OrgID,
		Target:        job.Target,
		CurrentModule: job.CurrentModule,
		Message:       "scan started",
		At:            time.Now(),
	}
}

// NewProgressEvent reports a module boundary: updated progress and the module
// now executing.
func NewProgressEvent(job *ScanJob, message string) Event {
	return Event{
		Kind:          EventScanProgress,
		ScanID:        job.ID,
		OrgID:         job.OrgID,
		Target:        job.Target,
		Progress:      job.Progress,
		CurrentModule: job.CurrentModule,
		Message:       message,
		At:            time.Now(),
	}
}

// NewCompletedEvent carries the final summary.
func NewCompletedEvent(job *ScanJob) Event {
	return Event{
		Kind:     EventScanCompleted,
		ScanID:   job.ID,
		OrgID:    job.OrgID,
		Target:   job.Target,
		Progress: 100,
		Summary:  job.Summary,
		Message:  "scan completed",
		At:       time.Now(),
	}
}

// NewFailedEvent carries the failure reason.
func NewFailedEvent(job *ScanJob, reason string) Event {
	return Event{
		Kind:     EventScanFailed,
		ScanID:   job.ID,
		OrgID:    job.OrgID,
		Target:   job.Target,
		Progress: job.Progress,
		Error:    reason,
		Message:  "scan failed",
		At:       time.Now(),
	}
}

// NewCancelledEvent reports the job finalized as cancelled. Progress stays at
// the last completed module boundary.
func NewCancelledEvent(job *ScanJob) Event {
	return Event{
		Kind:     EventScanCancelled,
		ScanID:   job.ID,
		OrgID:    job.OrgID,
		Target:   job.Target,
		Progress: job.Progress,
		Message:  "scan cancelled",
		At:       time.Now(),
	}
}
