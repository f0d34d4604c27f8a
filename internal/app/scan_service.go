package app

import (
	"context"
	"fmt"
	"time"

	"github.com/vulnscanio/engine/internal/metrics"
	"github.com/vulnscanio/engine/pkg/domain/scan"
	"github.com/vulnscanio/engine/pkg/domain/shared"
	"github.com/vulnscanio/engine/pkg/domain/target"
	"github.com/vulnscanio/engine/pkg/logger"
	"github.com/vulnscanio/engine/pkg/pagination"
)

// StatsCache caches per-org scan statistics. Satisfied by the generic redis
// cache; nil disables caching.
type StatsCache interface {
	GetOrSetFallback(ctx context.Context, key string, loader func(ctx context.Context) (*scan.Stats, error)) (*scan.Stats, error)
	Delete(ctx context.Context, key string) error
}

// ScanService owns the API-facing scan operations: enqueue, cancel and
// inspection. Execution itself happens worker-side in the Executor.
type ScanService struct {
	scanRepo   scan.Repository
	resultRepo scan.ModuleResultRepository
	targetRepo target.Repository
	profiles   *scan.Profiles
	enqueuer   JobEnqueuer
	events     EventPublisher
	statsCache StatsCache
	logger     *logger.Logger
}

// ScanServiceOption is a functional option for ScanService.
type ScanServiceOption func(*ScanService)

// WithStatsCache enables caching of GetStats results.
func WithStatsCache(cache StatsCache) ScanServiceOption {
	return func(s *ScanService) {
		s.statsCache = cache
	}
}

// NewScanService creates a new ScanService.
func NewScanService(
	scanRepo scan.Repository,
	resultRepo scan.ModuleResultRepository,
	targetRepo target.Repository,
	profiles *scan.Profiles,
	enqueuer JobEnqueuer,
	events EventPublisher,
	log *logger.Logger,
	opts ...ScanServiceOption,
) *ScanService {
	svc := &ScanService{
		scanRepo:   scanRepo,
		resultRepo: resultRepo,
		targetRepo: targetRepo,
		profiles:   profiles,
		enqueuer:   enqueuer,
		events:     events,
		logger:     log.With("service", "scan"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// EnqueueScanInput contains parameters for enqueuing a scan.
type EnqueueScanInput struct {
	OrgID       shared.ID
	TargetID    shared.ID
	RequestedBy shared.ID

	// Profile names a preset; empty selects the default. Ignored when
	// Modules overrides the plan.
	Profile string

	// Modules, when set, replaces the profile's plan and records the scan
	// under the "custom" profile.
	Modules []string

	// ScheduleID links the job to the recurring schedule that spawned it.
	ScheduleID *shared.ID

	// Delay defers queue delivery, used for scheduled scans so they start
	// on their due second rather than on scheduler tick boundaries.
	Delay time.Duration
}

// EnqueueScan creates a scan job and pushes its execution task onto the
// queue. At most one active (queued or running) scan may exist per target;
// a second request fails with ErrDuplicateActiveScan.
func (s *ScanService) EnqueueScan(ctx context.Context, input EnqueueScanInput) (*scan.ScanJob, error) {
	tgt, err := s.targetRepo.GetByID(ctx, input.TargetID, input.OrgID)
	if err != nil {
		return nil, err
	}
	if !tgt.Enabled() {
		return nil, target.ErrTargetDisabled
	}

	profileName, modules, err := s.resolvePlan(input.Profile, input.Modules)
	if err != nil {
		return nil, err
	}

	active, err := s.scanRepo.CountActiveByTarget(ctx, input.OrgID, input.TargetID)
	if err != nil {
		return nil, fmt.Errorf("count active scans: %w", err)
	}
	if active > 0 {
		return nil, scan.ErrDuplicateActiveScan
	}

	job, err := scan.NewScanJob(scan.ScanJobParams{
		OrgID:       input.OrgID,
		TargetID:    input.TargetID,
		Target:      tgt.Value(),
		RequestedBy: input.RequestedBy,
		Profile:     profileName,
		Modules:     modules,
		ScheduleID:  input.ScheduleID,
	})
	if err != nil {
		return nil, err
	}

	// The repository re-checks the active-scan constraint inside the insert,
	// closing the race between the count above and the create.
	if err := s.scanRepo.Create(ctx, job); err != nil {
		return nil, err
	}

	if input.Delay > 0 {
		err = s.enqueuer.EnqueueScanIn(ctx, job.ID, job.OrgID, input.Delay)
	} else {
		err = s.enqueuer.EnqueueScan(ctx, job.ID, job.OrgID)
	}
	if err != nil {
		// Leave the row in place: the reaper requeues unfinished jobs, so a
		// transient queue outage delays the scan instead of losing it.
		s.logger.Error("failed to enqueue scan task",
			"scan_id", job.ID.String(),
			"error", err,
		)
		return nil, fmt.Errorf("enqueue scan task: %w", err)
	}

	s.publish(ctx, scan.NewQueuedEvent(job))
	s.invalidateStats(ctx, input.OrgID)

	s.logger.Info("scan enqueued",
		"scan_id", job.ID.String(),
		"org_id", job.OrgID.String(),
		"target", job.Target,
		"profile", job.Profile,
		"modules", len(job.Modules),
	)
	return job, nil
}

// resolvePlan maps a profile name or module override to the ordered module
// plan fixed at enqueue time.
func (s *ScanService) resolvePlan(profileName string, override []string) (string, []string, error) {
	if len(override) > 0 {
		if err := validateModules(override); err != nil {
			return "", nil, err
		}
		return scan.ProfileCustom, override, nil
	}

	if profileName == "" {
		prof := s.profiles.Default()
		return prof.Name, prof.Modules, nil
	}

	prof, err := s.profiles.Get(profileName)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s", err, profileName)
	}
	return prof.Name, prof.Modules, nil
}

func validateModules(modules []string) error {
	known := make(map[string]bool, len(scan.AllModules()))
	for _, m := range scan.AllModules() {
		known[m] = true
	}
	for _, m := range modules {
		if !known[m] {
			return fmt.Errorf("%w: %s", scan.ErrUnknownModule, m)
		}
	}
	return nil
}

// Cancel requests cooperative cancellation. A queued job finalizes as
// cancelled immediately; a running job keeps its in-flight module and
// finalizes at the next module boundary.
func (s *ScanService) Cancel(ctx context.Context, orgID, scanID shared.ID) (*scan.ScanJob, error) {
	job, err := s.scanRepo.GetByOrgAndID(ctx, orgID, scanID)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return nil, scan.ErrNotCancellable
	}

	if err := s.scanRepo.SetCancelRequested(ctx, job.ID); err != nil {
		return nil, fmt.Errorf("set cancel flag: %w", err)
	}

	if job.Status == scan.StatusQueued {
		err := s.scanRepo.UpdateStatusFrom(ctx, job.ID, scan.StatusQueued, scan.StatusCancelled)
		switch {
		case err == nil:
			// Won the race against the worker claim: finalize here.
			if cErr := job.Cancel(); cErr == nil {
				if uErr := s.scanRepo.Update(ctx, job); uErr != nil {
					s.logger.Error("failed to persist cancelled job", "scan_id", job.ID.String(), "error", uErr)
				}
			}
			s.publish(ctx, scan.NewCancelledEvent(job))
			metrics.ScanCancellationsTotal.WithLabelValues(orgID.String()).Inc()
			s.invalidateStats(ctx, orgID)
			s.logger.Info("queued scan cancelled", "scan_id", job.ID.String())
		case shared.IsConflict(err):
			// A worker claimed it first; the flag is set, so the next module
			// boundary finalizes the cancel.
			s.logger.Debug("cancel deferred to running worker", "scan_id", job.ID.String())
		default:
			return nil, err
		}
	}

	return s.scanRepo.GetByOrgAndID(ctx, orgID, scanID)
}

// Get retrieves a scan job without its module results.
func (s *ScanService) Get(ctx context.Context, orgID, scanID shared.ID) (*scan.ScanJob, error) {
	return s.scanRepo.GetByOrgAndID(ctx, orgID, scanID)
}

// GetWithResults retrieves a scan job with module results in execution
// order.
func (s *ScanService) GetWithResults(ctx context.Context, orgID, scanID shared.ID) (*scan.ScanJob, error) {
	job, err := s.scanRepo.GetByOrgAndID(ctx, orgID, scanID)
	if err != nil {
		return nil, err
	}
	results, err := s.resultRepo.ListByScanID(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("list module results: %w", err)
	}
	job.Results = results
	return job, nil
}

// List lists scan jobs with filters and pagination.
func (s *ScanService) List(ctx context.Context, filter scan.Filter, page pagination.Pagination) (pagination.Result[*scan.ScanJob], error) {
	return s.scanRepo.List(ctx, filter, page)
}

// Stats returns aggregated scan statistics for an organization, cached
// when a stats cache is configured.
func (s *ScanService) Stats(ctx context.Context, orgID shared.ID) (*scan.Stats, error) {
	loader := func(ctx context.Context) (*scan.Stats, error) {
		return s.scanRepo.GetStats(ctx, orgID)
	}
	if s.statsCache == nil {
		return loader(ctx)
	}
	return s.statsCache.GetOrSetFallback(ctx, orgID.String(), loader)
}

// Profiles returns the active profile catalog.
func (s *ScanService) Profiles() []scan.Profile {
	return s.profiles.List()
}

func (s *ScanService) publish(ctx context.Context, event scan.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish scan event",
			"scan_id", event.ScanID.String(),
			"kind", string(event.Kind),
			"error", err,
		)
	}
}

func (s *ScanService) invalidateStats(ctx context.Context, orgID shared.ID) {
	if s.statsCache == nil {
		return
	}
	if err := s.statsCache.Delete(ctx, orgID.String()); err != nil {
		s.logger.Debug("failed to invalidate stats cache", "org_id", orgID.String(), "error", err)
	}
}
