// Package scan provides the scan job aggregate: the per-scan state machine,
// module results, profiles, schedules and the summary computed on completion.
package scan

import (
	"time"

	"github.com/vulnscanio/engine/pkg/domain/shared"
)

// Status represents the scan job status.
type Status string

const (
	StatusQueued    Status = "queued"    // Created, waiting for a worker to claim it
	StatusRunning   Status = "running"   // A worker is executing modules
	StatusCompleted Status = "completed" // All modules processed
	StatusFailed    Status = "failed"    // Orchestrator failure or every module failed
	StatusCancelled Status = "cancelled" // Cancelled before or during execution
)

// AllStatuses returns all valid statuses.
func AllStatuses() []Status {
	return []Status{StatusQueued, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled}
}

// IsValid checks if the status is a valid status value.
func (s Status) IsValid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal returns true if the status is a terminal (final) state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsActive returns true while the job still owns queue or worker resources.
func (s Status) IsActive() bool {
	return s == StatusQueued || s == StatusRunning
}

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// ScanJob represents one scan execution: a target, an ordered module list and
// the state machine driving it from queued to a terminal status. The
// orchestrator is the only writer; every transition is persisted.
type ScanJob struct {
	ID       shared.ID
	OrgID    shared.ID
	TargetID shared.ID

	// Target is the descriptor handed to module runners (host, IP or URL).
	Target string

	RequestedBy shared.ID

	// Profile names the preset the module list came from; "custom" when the
	// list was overridden per request.
	Profile string

	// Modules is the ordered execution plan, fixed at enqueue time.
	Modules []string

	Status          Status
	Progress        int
	CurrentModule   string
	CancelRequested bool
	FailureReason   string

	// Results are loaded alongside the job, ordered by execution.
	Results []*ModuleResult

	// Summary is computed once on completion.
	Summary *Summary

	// ReportKey is the object-storage key of the rendered report, set by the
	// report worker after completion.
	ReportKey string

	// ScheduleID links jobs spawned by a recurring schedule.
	ScheduleID *shared.ID

	// Attempt counts queue deliveries of this job.
	Attempt int

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time
}

// ScanJobParams contains parameters for creating a scan job.
type ScanJobParams struct {
	OrgID       shared.ID
	TargetID    shared.ID
	Target      string
	RequestedBy shared.ID
	Profile     string
	Modules     []string
	ScheduleID  *shared.ID
}

// NewScanJob creates a scan job in the queued state.
func NewScanJob(params ScanJobParams) (*ScanJob, error) {
	if params.OrgID.IsZero() {
		return nil, shared.NewDomainError("VALIDATION", "org_id is required", shared.ErrValidation)
	}
	if params.TargetID.IsZero() {
		return nil, shared.NewDomainError("VALIDATION", "target_id is required", shared.ErrValidation)
	}
	if params.Target == "" {
		return nil, shared.NewDomainError("VALIDATION", "target is required", shared.ErrValidation)
	}
	if params.Profile == "" {
		return nil, shared.NewDomainError("VALIDATION", "profile is required", shared.ErrValidation)
	}
	if len(params.Modules) == 0 {
		return nil, shared.NewDomainError("VALIDATION", "at least one module is required", shared.ErrValidation)
	}
	seen := make(map[string]bool, len(params.Modules))
	for _, m := range params.Modules {
		if m == "" {
			return nil, shared.NewDomainError("VALIDATION", "module names must not be empty", shared.ErrValidation)
		}
		if seen[m] {
			return nil, shared.NewDomainError("VALIDATION", "duplicate module in plan: "+m, shared.ErrValidation)
		}
		seen[m] = true
	}

	now := time.Now()
	return &ScanJob{
		ID:          shared.NewID(),
		OrgID:       params.OrgID,
		TargetID:    params.TargetID,
		Target:      params.Target,
		RequestedBy: params.RequestedBy,
		Profile:     params.Profile,
		Modules:     params.Modules,
		Status:      StatusQueued,
		Progress:    0,
		Results:     []*ModuleResult{},
		ScheduleID:  params.ScheduleID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Start marks the job as claimed by a worker. The first pending module
// becomes current, so a redelivered job resumes where the crashed worker
// stopped instead of at module zero.
func (s *ScanJob) Start() error {
	if s.Status != StatusQueued {
		return shared.NewDomainError("INVALID_STATE", "can only start a queued scan", shared.ErrValidation)
	}
	now := time.Now()
	s.Status = StatusRunning
	s.StartedAt = &now
	if next, ok := s.NextPending(); ok {
		s.CurrentModule = next
	}
	s.UpdatedAt = now
	return nil
}

// RequestCancel flags a running job for cooperative cancellation. The
// in-flight module is never interrupted; the next checkpoint finalizes the
// job as cancelled.
func (s *ScanJob) RequestCancel() error {
	if s.Status.IsTerminal() {
		return ErrNotCancellable
	}
	s.CancelRequested = true
	s.UpdatedAt = time.Now()
	return nil
}

// Cancel transitions the job to cancelled. Valid from queued (immediate
// cancel) and from running (a checkpoint observed the cancel flag).
func (s *ScanJob) Cancel() error {
	if s.Status.IsTerminal() {
		return ErrNotCancellable
	}
	now := time.Now()
	s.Status = StatusCancelled
	s.CancelRequested = true
	s.CurrentModule = ""
	s.CompletedAt = &now
	s.UpdatedAt = now
	return nil
}

// RecordResult appends a module result, recomputes progress and advances the
// current module. Results are append-only and unique per module name.
func (s *ScanJob) RecordResult(result *ModuleResult) error {
	if s.Status != StatusRunning {
		return shared.NewDomainError("INVALID_STATE", "can only record results on a running scan", shared.ErrValidation)
	}
	if s.HasResult(result.ModuleName) {
		return ErrDuplicateResult
	}
	if !s.inPlan(result.ModuleName) {
		return shared.NewDomainError("VALIDATION", "module not in scan plan: "+result.ModuleName, shared.ErrValidation)
	}

	s.Results = append(s.Results, result)
	s.Progress = s.computeProgress()
	if next, ok := s.NextPending(); ok {
		s.CurrentModule = next
	} else {
		s.CurrentModule = ""
	}
	s.UpdatedAt = time.Now()
	return nil
}

// Complete marks the job as completed and attaches the summary.
func (s *ScanJob) Complete(summary *Summary) error {
	if s.Status != StatusRunning {
		return shared.NewDomainError("INVALID_STATE", "can only complete a running scan", shared.ErrValidation)
	}
	if !s.AllProcessed() {
		return shared.NewDomainError("INVALID_STATE", "cannot complete with pending modules", shared.ErrValidation)
	}
	now := time.Now()
	s.Status = StatusCompleted
	s.Progress = 100
	s.CurrentModule = ""
	s.Summary = summary
	s.CompletedAt = &now
	s.UpdatedAt = now
	return nil
}

// Fail marks the job as failed. Used for orchestrator-level failures and for
// the case where every module in the plan failed.
func (s *ScanJob) Fail(reason string) error {
	if s.Status != StatusRunning {
		return shared.NewDomainError("INVALID_STATE", "can only fail a running scan", shared.ErrValidation)
	}
	now := time.Now()
	s.Status = StatusFailed
	s.FailureReason = reason
	s.CurrentModule = ""
	s.CompletedAt = &now
	s.UpdatedAt = now
	return nil
}

// HasResult returns true if a result exists for the module.
func (s *ScanJob) HasResult(moduleName string) bool {
	for _, r := range s.Results {
		if r.ModuleName == moduleName {
			return true
		}
	}
	return false
}

// NextPending returns the first module in plan order lacking a result.
func (s *ScanJob) NextPending() (string, bool) {
	for _, m := range s.Modules {
		if !s.HasResult(m) {
			return m, true
		}
	}
	return "", false
}

// AllProcessed returns true once every module in the plan has a result.
func (s *ScanJob) AllProcessed() bool {
	_, pending := s.NextPending()
	return !pending
}

// AllFailed returns true when every module in the plan has a failed result.
// A single success or skip keeps the scan completable.
func (s *ScanJob) AllFailed() bool {
	if !s.AllProcessed() || len(s.Results) == 0 {
		return false
	}
	for _, r := range s.Results {
		if r.Status != ResultFailed {
			return false
		}
	}
	return true
}

// FailedModules returns the names of modules with failed results.
func (s *ScanJob) FailedModules() []string {
	var failed []string
	for _, r := range s.Results {
		if r.Failed() {
			failed = append(failed, r.ModuleName)
		}
	}
	return failed
}

// RecordAttempt increments the queue delivery counter.
func (s *ScanJob) RecordAttempt() {
	s.Attempt++
	s.UpdatedAt = time.Now()
}

// Duration returns how long the job has been executing.
func (s *ScanJob) Duration() time.Duration {
	if s.StartedAt == nil {
		return 0
	}
	end := time.Now()
	if s.CompletedAt != nil {
		end = *s.CompletedAt
	}
	return end.Sub(*s.StartedAt)
}

// IsFinished returns true once the job reached a terminal status.
func (s *ScanJob) IsFinished() bool {
	return s.Status.IsTerminal()
}

func (s *ScanJob) inPlan(moduleName string) bool {
	for _, m := range s.Modules {
		if m == moduleName {
			return true
		}
	}
	return false
}

// computeProgress rounds processed/total to the nearest percent, so a
// six-module plan reports 17, 33, 50, 67, 83, 100.
func (s *ScanJob) computeProgress() int {
	total := len(s.Modules)
	if total == 0 {
		return 0
	}
	processed := len(s.Results)
	return (processed*100 + total/2) / total
}
