package scan

import (
	"time"

	"github.com/vulnscanio/engine/pkg/domain/finding"
	"github.com/vulnscanio/engine/pkg/domain/shared"
)

// ResultStatus represents the outcome of a single module execution.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultFailed  ResultStatus = "failed"
	ResultSkipped ResultStatus = "skipped"
)

// IsValid checks if the result status is a known value.
func (s ResultStatus) IsValid() bool {
	switch s {
	case ResultSuccess, ResultFailed, ResultSkipped:
		return true
	}
	return false
}

// String returns the string representation of the result status.
func (s ResultStatus) String() string {
	return string(s)
}

// ModuleResult records the outcome of one module within a scan. A result is
// written once when the module finishes and never mutated; each module name
// appears at most once per scan.
type ModuleResult struct {
	ID     shared.ID
	ScanID shared.ID

	ModuleName string
	Status     ResultStatus

	Findings []*finding.Finding

	// Error holds the failure message for failed modules, "" otherwise.
	Error string

	StartedAt time.Time
	Duration  time.Duration

	CreatedAt time.Time
}

// NewModuleResult records a successful module execution.
func NewModuleResult(scanID shared.ID, moduleName string, findings []*finding.Finding, startedAt time.Time, duration time.Duration) *ModuleResult {
	if findings == nil {
		findings = []*finding.Finding{}
	}
	return &ModuleResult{
		ID:         shared.NewID(),
		ScanID:     scanID,
		ModuleName: moduleName,
		Status:     ResultSuccess,
		Findings:   findings,
		StartedAt:  startedAt,
		Duration:   duration,
		CreatedAt:  time.Now(),
	}
}

// NewFailedModuleResult records a failed module execution. Module failures
// are non-fatal to the scan; the error stays on the result.
func NewFailedModuleResult(scanID shared.ID, moduleName string, errMsg string, startedAt time.Time, duration time.Duration) *ModuleResult {
	return &ModuleResult{
		ID:         shared.NewID(),
		ScanID:     scanID,
		ModuleName: moduleName,
		Status:     ResultFailed,
		Findings:   []*finding.Finding{},
		Error:      errMsg,
		StartedAt:  startedAt,
		Duration:   duration,
		CreatedAt:  time.Now(),
	}
}

// NewSkippedModuleResult records a module that was never executed, e.g. the
// remainder of the profile after a cancellation checkpoint.
func NewSkippedModuleResult(scanID shared.ID, moduleName, reason string) *ModuleResult {
	return &ModuleResult{
		ID:         shared.NewID(),
		ScanID:     scanID,
		ModuleName: moduleName,
		Status:     ResultSkipped,
		Findings:   []*finding.Finding{},
		Error:      reason,
		StartedAt:  time.Now(),
		CreatedAt:  time.Now(),
	}
}

// Failed returns true for failed results.
func (r *ModuleResult) Failed() bool {
	return r.Status == ResultFailed
}

// Executed returns true if the module actually ran (success or failure).
func (r *ModuleResult) Executed() bool {
	return r.Status == ResultSuccess || r.Status == ResultFailed
}
