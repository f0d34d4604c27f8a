package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/vulnscanio/engine/internal/config"
	"github.com/vulnscanio/engine/internal/infra/runner"
	"github.com/vulnscanio/engine/internal/metrics"
	"github.com/vulnscanio/engine/pkg/domain/channel"
	"github.com/vulnscanio/engine/pkg/domain/finding"
	"github.com/vulnscanio/engine/pkg/domain/scan"
	"github.com/vulnscanio/engine/pkg/domain/shared"
	"github.com/vulnscanio/engine/pkg/domain/target"
	"github.com/vulnscanio/engine/pkg/logger"
)

// reportFormat is the artifact format enqueued after completion.
const reportFormat = "json"

// RunnerRegistry resolves module names to their runners.
type RunnerRegistry interface {
	Get(name string) (runner.Runner, bool)
}

// Executor runs scan jobs to a terminal state. It is the worker-side
// counterpart of ScanService and the only writer of a running job's state.
//
// Execution is crash-tolerant: every module boundary is persisted, so a
// redelivered task resumes from the first module without a recorded result
// instead of restarting. Module failures and timeouts are non-fatal; the
// scan fails only when the orchestrator itself cannot proceed or every
// module failed.
type Executor struct {
	scanRepo    scan.Repository
	resultRepo  scan.ModuleResultRepository
	findingRepo finding.Repository
	targetRepo  target.Repository
	registry    RunnerRegistry
	enqueuer    JobEnqueuer
	events      EventPublisher

	// sem bounds concurrent module executions process-wide, across all
	// scans this worker is running.
	sem           *semaphore.Weighted
	moduleTimeout time.Duration

	logger *logger.Logger
}

// NewExecutor creates a scan executor.
func NewExecutor(
	scanRepo scan.Repository,
	resultRepo scan.ModuleResultRepository,
	findingRepo finding.Repository,
	targetRepo target.Repository,
	registry RunnerRegistry,
	enqueuer JobEnqueuer,
	events EventPublisher,
	cfg config.ScanConfig,
	log *logger.Logger,
) *Executor {
	maxModules := int64(cfg.MaxConcurrentScans)
	if maxModules < 1 {
		maxModules = 1
	}
	timeout := cfg.ModuleTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	return &Executor{
		scanRepo:      scanRepo,
		resultRepo:    resultRepo,
		findingRepo:   findingRepo,
		targetRepo:    targetRepo,
		registry:      registry,
		enqueuer:      enqueuer,
		events:        events,
		sem:           semaphore.NewWeighted(maxModules),
		moduleTimeout: timeout,
		logger:        log.With("component", "scan_executor"),
	}
}

// ProcessScan runs one scan job to a terminal state. Safe to call again
// with the same ID: finished jobs are acknowledged without side effects and
// interrupted jobs resume at the first pending module.
func (e *Executor) ProcessScan(ctx context.Context, scanID string) error {
	id, err := shared.IDFromString(scanID)
	if err != nil {
		return fmt.Errorf("invalid scan id %q: %w", scanID, err)
	}

	job, err := e.scanRepo.GetWithResults(ctx, id)
	if err != nil {
		if shared.IsNotFound(err) {
			e.logger.Warn("scan task for missing job", "scan_id", scanID)
			return nil
		}
		return err
	}

	if job.IsFinished() {
		e.logger.Debug("redelivered task for finished scan",
			"scan_id", scanID,
			"status", job.Status.String(),
		)
		return nil
	}

	if job.CancelRequested && job.Status == scan.StatusQueued {
		return e.finalizeCancelled(ctx, job, scan.StatusQueued)
	}

	job, resumed, err := e.claim(ctx, job)
	if err != nil || job == nil {
		return err
	}

	orgLabel := job.OrgID.String()
	metrics.ScanJobsInProgress.WithLabelValues(orgLabel).Inc()
	defer metrics.ScanJobsInProgress.WithLabelValues(orgLabel).Dec()

	if resumed {
		metrics.ScanRetriesTotal.WithLabelValues(orgLabel).Inc()
		e.publish(ctx, scan.NewProgressEvent(job, "scan resumed"))
		e.logger.Info("scan resumed",
			"scan_id", scanID,
			"attempt", job.Attempt,
			"completed_modules", len(job.Results),
		)
	} else {
		e.publish(ctx, scan.NewStartedEvent(job))
		e.logger.Info("scan started",
			"scan_id", scanID,
			"target", job.Target,
			"profile", job.Profile,
			"modules", len(job.Modules),
		)
	}

	tgt, err := e.targetRepo.GetByID(ctx, job.TargetID, job.OrgID)
	if err != nil {
		if shared.IsNotFound(err) {
			return e.finalizeFailed(ctx, job, "target no longer exists")
		}
		return err
	}

	for _, moduleName := range job.Modules {
		if job.HasResult(moduleName) {
			continue
		}

		cancelled, err := e.cancelRequested(ctx, job.ID)
		if err != nil {
			return err
		}
		if cancelled {
			return e.finalizeCancelled(ctx, job, scan.StatusRunning)
		}

		// Worker shutdown: leave the job running and let redelivery resume
		// it from this module.
		if err := ctx.Err(); err != nil {
			return err
		}

		result, err := e.runModule(ctx, job, tgt, moduleName)
		if err != nil {
			return err
		}
		if err := e.persistResult(ctx, job, result); err != nil {
			return err
		}

		e.publish(ctx, scan.NewProgressEvent(job, fmt.Sprintf("module %s finished", moduleName)))
	}

	return e.finalize(ctx, job)
}

// claim transitions a queued job to running, or adopts an already-running
// job left behind by a crashed worker. Returns nil job when there is
// nothing to do.
func (e *Executor) claim(ctx context.Context, job *scan.ScanJob) (*scan.ScanJob, bool, error) {
	resumed := false

	switch job.Status {
	case scan.StatusQueued:
		err := e.scanRepo.UpdateStatusFrom(ctx, job.ID, scan.StatusQueued, scan.StatusRunning)
		switch {
		case err == nil:
			if sErr := job.Start(); sErr != nil {
				return nil, false, sErr
			}
		case shared.IsConflict(err):
			// Lost the claim: a cancel finalized it, or another delivery of
			// this task got there first.
			fresh, fErr := e.scanRepo.GetWithResults(ctx, job.ID)
			if fErr != nil {
				return nil, false, fErr
			}
			if fresh.IsFinished() {
				return nil, false, nil
			}
			if fresh.Status != scan.StatusRunning {
				return nil, false, fmt.Errorf("scan %s in unexpected status %s after claim conflict", job.ID, fresh.Status)
			}
			job = fresh
			resumed = true
		default:
			return nil, false, err
		}
	case scan.StatusRunning:
		// Redelivery after a lease expiry or worker crash.
		resumed = true
	}

	job.RecordAttempt()
	if err := e.scanRepo.Update(ctx, job); err != nil {
		return nil, false, err
	}
	return job, resumed, nil
}

// runModule executes one module under the concurrency bound and the module
// timeout. Module errors become failed results; only infrastructure errors
// (worker shutdown) propagate.
func (e *Executor) runModule(ctx context.Context, job *scan.ScanJob, tgt *target.Target, name string) (*scan.ModuleResult, error) {
	startedAt := time.Now()

	r, ok := e.registry.Get(name)
	if !ok {
		// In the plan but not registered in this deployment.
		metrics.ModuleRunsTotal.WithLabelValues(name, "failed").Inc()
		return scan.NewFailedModuleResult(job.ID, name,
			fmt.Sprintf("module %q not registered", name), startedAt, 0), nil
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	mctx, cancel := context.WithTimeout(ctx, e.moduleTimeout)
	report, runErr := r.Run(mctx, tgt)
	timedOut := mctx.Err() != nil && errors.Is(mctx.Err(), context.DeadlineExceeded)
	cancel()
	e.sem.Release(1)

	duration := time.Since(startedAt)
	metrics.ModuleRunDuration.WithLabelValues(name).Observe(duration.Seconds())

	if runErr != nil {
		if ctx.Err() != nil {
			// The worker is shutting down, not the module misbehaving.
			return nil, ctx.Err()
		}
		msg := runErr.Error()
		if timedOut {
			msg = fmt.Sprintf("module timed out after %s", e.moduleTimeout)
			metrics.ModuleTimeoutsTotal.WithLabelValues(name).Inc()
		}
		metrics.ModuleRunsTotal.WithLabelValues(name, "failed").Inc()
		e.logger.Warn("module failed",
			"scan_id", job.ID.String(),
			"module", name,
			"duration", duration,
			"error", msg,
		)
		return scan.NewFailedModuleResult(job.ID, name, msg, startedAt, duration), nil
	}

	// Runners produce unattributed findings; the orchestrator stamps scan
	// and org before they are persisted.
	for _, f := range report.Findings {
		f.ScanID = job.ID
		f.OrgID = job.OrgID
	}

	metrics.ModuleRunsTotal.WithLabelValues(name, "success").Inc()
	e.logger.Debug("module finished",
		"scan_id", job.ID.String(),
		"module", name,
		"findings", len(report.Findings),
		"duration", duration,
	)
	return scan.NewModuleResult(job.ID, name, report.Findings, startedAt, duration), nil
}

// persistResult writes the findings and the module result, then advances
// the job's progress. Findings go first: if the result write fails and the
// task is retried, the module reruns rather than silently losing findings.
func (e *Executor) persistResult(ctx context.Context, job *scan.ScanJob, result *scan.ModuleResult) error {
	if len(result.Findings) > 0 {
		if err := e.findingRepo.CreateBatch(ctx, result.Findings); err != nil {
			return fmt.Errorf("persist findings: %w", err)
		}
		for _, f := range result.Findings {
			metrics.FindingsTotal.WithLabelValues(job.OrgID.String(), f.Severity.String()).Inc()
		}
	}

	if err := e.resultRepo.Create(ctx, result); err != nil {
		return fmt.Errorf("persist module result: %w", err)
	}

	if err := job.RecordResult(result); err != nil {
		return err
	}
	return e.scanRepo.Update(ctx, job)
}

// cancelRequested re-reads the cancel flag at a module boundary.
func (e *Executor) cancelRequested(ctx context.Context, id shared.ID) (bool, error) {
	fresh, err := e.scanRepo.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	return fresh.CancelRequested, nil
}

// finalize completes or fails the job once every module has a result.
func (e *Executor) finalize(ctx context.Context, job *scan.ScanJob) error {
	if job.AllFailed() {
		return e.finalizeFailed(ctx, job, "all modules failed: "+strings.Join(job.FailedModules(), ", "))
	}

	summary := scan.NewSummary(job.Results)

	if err := e.scanRepo.UpdateStatusFrom(ctx, job.ID, scan.StatusRunning, scan.StatusCompleted); err != nil {
		if shared.IsConflict(err) {
			e.logger.Warn("completion lost a status race", "scan_id", job.ID.String())
			return nil
		}
		return err
	}
	if err := job.Complete(summary); err != nil {
		return err
	}
	if err := e.scanRepo.Update(ctx, job); err != nil {
		return err
	}

	orgLabel := job.OrgID.String()
	metrics.ScanJobsTotal.WithLabelValues(orgLabel, job.Profile, scan.StatusCompleted.String()).Inc()
	metrics.ScanJobDuration.WithLabelValues(job.Profile).Observe(job.Duration().Seconds())

	if err := e.targetRepo.TouchLastScan(ctx, job.TargetID, *job.CompletedAt); err != nil {
		e.logger.Warn("failed to touch target last scan", "target_id", job.TargetID.String(), "error", err)
	}

	e.publish(ctx, scan.NewCompletedEvent(job))
	e.enqueueFollowups(ctx, job, summary)

	e.logger.Info("scan completed",
		"scan_id", job.ID.String(),
		"target", job.Target,
		"findings", summary.TotalFindings,
		"modules_failed", summary.ModulesFailed,
		"duration", job.Duration(),
	)
	return nil
}

func (e *Executor) finalizeFailed(ctx context.Context, job *scan.ScanJob, reason string) error {
	if err := e.scanRepo.UpdateStatusFrom(ctx, job.ID, scan.StatusRunning, scan.StatusFailed); err != nil {
		if shared.IsConflict(err) {
			e.logger.Warn("failure lost a status race", "scan_id", job.ID.String())
			return nil
		}
		return err
	}
	if err := job.Fail(reason); err != nil {
		return err
	}
	if err := e.scanRepo.Update(ctx, job); err != nil {
		return err
	}

	metrics.ScanJobsTotal.WithLabelValues(job.OrgID.String(), job.Profile, scan.StatusFailed.String()).Inc()
	e.publish(ctx, scan.NewFailedEvent(job, reason))
	e.notify(ctx, job, channel.EventScanFailed)

	e.logger.Warn("scan failed",
		"scan_id", job.ID.String(),
		"target", job.Target,
		"reason", reason,
	)
	return nil
}

// finalizeCancelled honors a cancel flag observed before the first module
// or at a module boundary. The in-flight module is never interrupted.
func (e *Executor) finalizeCancelled(ctx context.Context, job *scan.ScanJob, from scan.Status) error {
	if err := e.scanRepo.UpdateStatusFrom(ctx, job.ID, from, scan.StatusCancelled); err != nil {
		if shared.IsConflict(err) {
			// Someone else finalized it first.
			return nil
		}
		return err
	}
	if err := job.Cancel(); err != nil {
		return err
	}
	if err := e.scanRepo.Update(ctx, job); err != nil {
		return err
	}

	orgLabel := job.OrgID.String()
	metrics.ScanJobsTotal.WithLabelValues(orgLabel, job.Profile, scan.StatusCancelled.String()).Inc()
	metrics.ScanCancellationsTotal.WithLabelValues(orgLabel).Inc()
	e.publish(ctx, scan.NewCancelledEvent(job))

	e.logger.Info("scan cancelled",
		"scan_id", job.ID.String(),
		"progress", job.Progress,
	)
	return nil
}

// enqueueFollowups pushes the post-completion tasks: report rendering,
// notifications and asset discovery. Failures here never undo the scan.
func (e *Executor) enqueueFollowups(ctx context.Context, job *scan.ScanJob, summary *scan.Summary) {
	if err := e.enqueuer.EnqueueReport(ctx, job.ID, job.OrgID, reportFormat); err != nil {
		e.logger.Warn("failed to enqueue report task", "scan_id", job.ID.String(), "error", err)
	}

	e.notify(ctx, job, channel.EventScanCompleted)
	if summary.BySeverity[finding.SeverityCritical] > 0 {
		e.notify(ctx, job, channel.EventCriticalFinding)
	}

	if err := e.enqueuer.EnqueueDiscovery(ctx, job.TargetID, job.OrgID); err != nil {
		e.logger.Warn("failed to enqueue discovery task", "scan_id", job.ID.String(), "error", err)
	}
}

func (e *Executor) notify(ctx context.Context, job *scan.ScanJob, eventType string) {
	if err := e.enqueuer.EnqueueNotification(ctx, job.ID, job.OrgID, eventType); err != nil {
		e.logger.Warn("failed to enqueue notification task",
			"scan_id", job.ID.String(),
			"event_type", eventType,
			"error", err,
		)
	}
}

func (e *Executor) publish(ctx context.Context, event scan.Event) {
	if e.events == nil {
		return
	}
	if err := e.events.Publish(ctx, event); err != nil {
		e.logger.Warn("failed to publish scan event",
			"scan_id", event.ScanID.String(),
			"kind", string(event.Kind),
			"error", err,
		)
	}
}
