package scan

import (
	"context"
	"time"

	"github.com/vulnscanio/engine/pkg/domain/shared"
	"github.com/vulnscanio/engine/pkg/pagination"
)

// Repository defines the interface for scan job persistence.
//
// Status transitions go through UpdateStatusFrom so concurrent workers and
// cancel requests cannot clobber each other: the update applies only when the
// stored status still matches the expected one.
type Repository interface {
	// Create persists a new scan job. Implementations must reject a second
	// active (queued or running) job for the same target with
	// ErrDuplicateActiveScan.
	Create(ctx context.Context, job *ScanJob) error

	// GetByID retrieves a scan job by ID, without results.
	GetByID(ctx context.Context, id shared.ID) (*ScanJob, error)

	// GetByOrgAndID retrieves a scan job scoped to an organization.
	GetByOrgAndID(ctx context.Context, orgID, id shared.ID) (*ScanJob, error)

	// GetWithResults retrieves a scan job with its module results loaded in
	// execution order.
	GetWithResults(ctx context.Context, id shared.ID) (*ScanJob, error)

	// List lists scan jobs with filters and pagination.
	List(ctx context.Context, filter Filter, page pagination.Pagination) (pagination.Result[*ScanJob], error)

	// Update persists mutable job fields (progress, current module, attempt,
	// summary, report key, timestamps). The cancel flag is excluded; it only
	// moves through SetCancelRequested.
	Update(ctx context.Context, job *ScanJob) error

	// UpdateStatusFrom atomically transitions status from expected to next.
	// Returns shared.ErrConflict when the stored status no longer matches.
	UpdateStatusFrom(ctx context.Context, id shared.ID, expected, next Status) error

	// SetCancelRequested flags a job for cooperative cancellation.
	SetCancelRequested(ctx context.Context, id shared.ID) error

	// CountActiveByTarget counts queued or running jobs for a target.
	CountActiveByTarget(ctx context.Context, orgID, targetID shared.ID) (int64, error)

	// ListUnfinished lists jobs left in queued or running older than the
	// given age, for the reaper that requeues work lost to worker crashes.
	ListUnfinished(ctx context.Context, olderThan time.Time) ([]*ScanJob, error)

	// GetStats returns aggregated statistics for an organization.
	GetStats(ctx context.Context, orgID shared.ID) (*Stats, error)

	// Delete removes a scan job and its results.
	Delete(ctx context.Context, id shared.ID) error
}

// ModuleResultRepository defines the interface for module result persistence.
type ModuleResultRepository interface {
	// Create persists a module result. A second result for the same
	// (scan, module) pair fails with ErrDuplicateResult.
	Create(ctx context.Context, result *ModuleResult) error

	// ListByScanID lists results for a scan in execution order.
	ListByScanID(ctx context.Context, scanID shared.ID) ([]*ModuleResult, error)
}

// ScheduleRepository defines the interface for recurring schedule persistence.
type ScheduleRepository interface {
	// Create persists a new schedule.
	Create(ctx context.Context, schedule *Schedule) error

	// GetByID retrieves a schedule by ID.
	GetByID(ctx context.Context, id shared.ID) (*Schedule, error)

	// GetByOrgAndID retrieves a schedule scoped to an organization.
	GetByOrgAndID(ctx context.Context, orgID, id shared.ID) (*Schedule, error)

	// ListByOrg lists schedules for an organization.
	ListByOrg(ctx context.Context, orgID shared.ID, page pagination.Pagination) (pagination.Result[*Schedule], error)

	// ListDue lists enabled schedules whose next run has passed.
	ListDue(ctx context.Context, now time.Time) ([]*Schedule, error)

	// Update persists schedule changes.
	Update(ctx context.Context, schedule *Schedule) error

	// Delete removes a schedule.
	Delete(ctx context.Context, id shared.ID) error
}
