package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnscanio/engine/internal/config"
	"github.com/vulnscanio/engine/internal/infra/runner"
	"github.com/vulnscanio/engine/pkg/domain/channel"
	"github.com/vulnscanio/engine/pkg/domain/finding"
	"github.com/vulnscanio/engine/pkg/domain/scan"
	"github.com/vulnscanio/engine/pkg/domain/shared"
	"github.com/vulnscanio/engine/pkg/domain/target"
	"github.com/vulnscanio/engine/pkg/logger"
)

type executorFixture struct {
	scanRepo    *fakeScanRepo
	resultRepo  *fakeResultRepo
	findingRepo *fakeFindingRepo
	targetRepo  *fakeTargetRepo
	enqueuer    *fakeEnqueuer
	bus         *capturingPublisher
	exec        *Executor
}

func newExecutorFixture(t *testing.T, reg fakeRegistry, cfg config.ScanConfig) *executorFixture {
	t.Helper()
	f := &executorFixture{
		scanRepo:    newFakeScanRepo(),
		resultRepo:  &fakeResultRepo{},
		findingRepo: &fakeFindingRepo{},
		targetRepo:  newFakeTargetRepo(),
		enqueuer:    &fakeEnqueuer{},
		bus:         &capturingPublisher{},
	}
	f.exec = NewExecutor(
		f.scanRepo, f.resultRepo, f.findingRepo, f.targetRepo,
		reg, f.enqueuer, f.bus, cfg, logger.NewNop(),
	)
	return f
}

func testScanConfig() config.ScanConfig {
	return config.ScanConfig{ModuleTimeout: time.Second, MaxConcurrentScans: 4}
}

func (f *executorFixture) seedTarget(t *testing.T, orgID shared.ID) *target.Target {
	t.Helper()
	tgt, err := target.NewTarget(orgID, "example.com", target.TypeDomain)
	require.NoError(t, err)
	require.NoError(t, f.targetRepo.Create(context.Background(), tgt))
	return tgt
}

func (f *executorFixture) seedQueuedJob(t *testing.T, orgID shared.ID, tgt *target.Target, modules ...string) *scan.ScanJob {
	t.Helper()
	job, err := scan.NewScanJob(scan.ScanJobParams{
		OrgID:       orgID,
		TargetID:    tgt.ID(),
		Target:      tgt.Value(),
		RequestedBy: shared.NewID(),
		Profile:     scan.ProfileCustom,
		Modules:     modules,
	})
	require.NoError(t, err)
	require.NoError(t, f.scanRepo.Create(context.Background(), job))
	return job
}

func TestExecutorProgressSequence(t *testing.T) {
	modules := []string{
		scan.ModuleDNSEnumeration,
		scan.ModuleSSLAnalysis,
		scan.ModuleTechDetection,
		scan.ModulePortScan,
		scan.ModuleWebCrawl,
		scan.ModuleAdminPanelDetection,
	}
	runners := make([]*stubRunner, 0, len(modules))
	for _, name := range modules {
		runners = append(runners, &stubRunner{name: name})
	}
	f := newExecutorFixture(t, registryOf(runners...), testScanConfig())

	orgID := shared.NewID()
	tgt := f.seedTarget(t, orgID)
	job := f.seedQueuedJob(t, orgID, tgt, modules...)

	require.NoError(t, f.exec.ProcessScan(context.Background(), job.ID.String()))

	assert.Equal(t, []int{17, 33, 50, 67, 83, 100}, f.bus.progressValues())
	assert.Equal(t, []scan.EventKind{
		scan.EventScanStarted,
		scan.EventScanProgress, scan.EventScanProgress, scan.EventScanProgress,
		scan.EventScanProgress, scan.EventScanProgress, scan.EventScanProgress,
		scan.EventScanCompleted,
	}, f.bus.kinds())

	stored := f.scanRepo.stored(job.ID)
	assert.Equal(t, scan.StatusCompleted, stored.Status)
	assert.Equal(t, 100, stored.Progress)
	require.NotNil(t, stored.Summary)
	assert.Equal(t, len(modules), stored.Summary.ModulesRun)
	assert.Zero(t, stored.Summary.ModulesFailed)
	require.NotNil(t, stored.CompletedAt)

	for _, r := range runners {
		assert.Equal(t, 1, r.callCount(), "runner %s", r.name)
	}

	assert.Equal(t, []string{"json"}, f.enqueuer.byKind("report"))
	assert.Equal(t, []string{channel.EventScanCompleted}, f.enqueuer.byKind("notification"))
	assert.Equal(t, 1, f.enqueuer.countKind("discovery"))
	assert.Contains(t, f.targetRepo.touched, tgt.ID())
}

func TestExecutorCriticalFindingFollowup(t *testing.T) {
	vulnModule := &stubRunner{
		name: scan.ModuleVulnCheck,
		run: func(_ context.Context, _ *target.Target) (*runner.Report, error) {
			return &runner.Report{
				Findings: []*finding.Finding{{
					ID:        shared.NewID(),
					Module:    scan.ModuleVulnCheck,
					Severity:  finding.SeverityCritical,
					Title:     "Remote code execution",
					CreatedAt: time.Now(),
				}},
			}, nil
		},
	}
	f := newExecutorFixture(t, registryOf(vulnModule), testScanConfig())

	orgID := shared.NewID()
	tgt := f.seedTarget(t, orgID)
	job := f.seedQueuedJob(t, orgID, tgt, scan.ModuleVulnCheck)

	require.NoError(t, f.exec.ProcessScan(context.Background(), job.ID.String()))

	assert.Equal(t, []string{channel.EventScanCompleted, channel.EventCriticalFinding}, f.enqueuer.byKind("notification"))

	persisted, err := f.findingRepo.ListByScanID(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, job.ID, persisted[0].ScanID)
	assert.Equal(t, orgID, persisted[0].OrgID)
}

func TestExecutorResumeSkipsCompletedModules(t *testing.T) {
	modules := []string{
		scan.ModuleDNSEnumeration,
		scan.ModuleSSLAnalysis,
		scan.ModuleTechDetection,
		scan.ModulePortScan,
	}
	runners := make([]*stubRunner, 0, len(modules))
	for _, name := range modules {
		runners = append(runners, &stubRunner{name: name})
	}
	f := newExecutorFixture(t, registryOf(runners...), testScanConfig())

	orgID := shared.NewID()
	tgt := f.seedTarget(t, orgID)

	// A job interrupted after two of four modules: running, half done.
	job, err := scan.NewScanJob(scan.ScanJobParams{
		OrgID:       orgID,
		TargetID:    tgt.ID(),
		Target:      tgt.Value(),
		RequestedBy: shared.NewID(),
		Profile:     scan.ProfileCustom,
		Modules:     modules,
	})
	require.NoError(t, err)
	require.NoError(t, job.Start())
	for _, done := range modules[:2] {
		res := scan.NewModuleResult(job.ID, done, nil, time.Now(), time.Second)
		require.NoError(t, job.RecordResult(res))
	}
	f.scanRepo = newFakeScanRepo(job)
	f.exec = NewExecutor(
		f.scanRepo, f.resultRepo, f.findingRepo, f.targetRepo,
		registryOf(runners...), f.enqueuer, f.bus, testScanConfig(), logger.NewNop(),
	)

	require.NoError(t, f.exec.ProcessScan(context.Background(), job.ID.String()))

	assert.Equal(t, 0, runners[0].callCount())
	assert.Equal(t, 0, runners[1].callCount())
	assert.Equal(t, 1, runners[2].callCount())
	assert.Equal(t, 1, runners[3].callCount())

	assert.Equal(t, []int{50, 75, 100}, f.bus.progressValues())
	assert.NotContains(t, f.bus.kinds(), scan.EventScanStarted)

	stored := f.scanRepo.stored(job.ID)
	assert.Equal(t, scan.StatusCompleted, stored.Status)
	assert.Equal(t, 1, stored.Attempt)
}

func TestExecutorCancelAtModuleBoundary(t *testing.T) {
	first := &stubRunner{name: scan.ModuleDNSEnumeration}
	second := &stubRunner{name: scan.ModuleSSLAnalysis}
	third := &stubRunner{name: scan.ModuleTechDetection}
	f := newExecutorFixture(t, registryOf(first, second, third), testScanConfig())

	orgID := shared.NewID()
	tgt := f.seedTarget(t, orgID)
	job := f.seedQueuedJob(t, orgID, tgt,
		scan.ModuleDNSEnumeration, scan.ModuleSSLAnalysis, scan.ModuleTechDetection)
	scanID := job.ID

	// Cancel lands while the first module is in flight.
	first.run = func(_ context.Context, _ *target.Target) (*runner.Report, error) {
		require.NoError(t, f.scanRepo.SetCancelRequested(context.Background(), scanID))
		return &runner.Report{}, nil
	}

	require.NoError(t, f.exec.ProcessScan(context.Background(), scanID.String()))

	assert.Equal(t, 1, first.callCount())
	assert.Equal(t, 0, second.callCount(), "modules after the boundary must not run")
	assert.Equal(t, 0, third.callCount())

	stored := f.scanRepo.stored(scanID)
	assert.Equal(t, scan.StatusCancelled, stored.Status)

	// The completed module's result survives the cancellation.
	results, err := f.resultRepo.ListByScanID(context.Background(), scanID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, scan.ModuleDNSEnumeration, results[0].ModuleName)

	assert.Equal(t, scan.EventScanCancelled, f.bus.last().Kind)
	assert.Equal(t, 0, f.enqueuer.countKind("report"), "cancelled scans produce no followups")
}

func TestExecutorCancelBeforeStart(t *testing.T) {
	mod := &stubRunner{name: scan.ModuleDNSEnumeration}
	f := newExecutorFixture(t, registryOf(mod), testScanConfig())

	orgID := shared.NewID()
	tgt := f.seedTarget(t, orgID)
	job := f.seedQueuedJob(t, orgID, tgt, scan.ModuleDNSEnumeration)
	require.NoError(t, f.scanRepo.SetCancelRequested(context.Background(), job.ID))

	require.NoError(t, f.exec.ProcessScan(context.Background(), job.ID.String()))

	assert.Equal(t, 0, mod.callCount())
	assert.Equal(t, scan.StatusCancelled, f.scanRepo.status(job.ID))
	assert.Equal(t, []scan.EventKind{scan.EventScanCancelled}, f.bus.kinds())
}

func TestExecutorModuleTimeoutIsNonFatal(t *testing.T) {
	slow := &stubRunner{
		name: scan.ModuleWebCrawl,
		run: func(ctx context.Context, _ *target.Target) (*runner.Report, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	fast := &stubRunner{name: scan.ModuleDNSEnumeration}

	cfg := config.ScanConfig{ModuleTimeout: 30 * time.Millisecond, MaxConcurrentScans: 4}
	f := newExecutorFixture(t, registryOf(slow, fast), cfg)

	orgID := shared.NewID()
	tgt := f.seedTarget(t, orgID)
	job := f.seedQueuedJob(t, orgID, tgt, scan.ModuleWebCrawl, scan.ModuleDNSEnumeration)

	require.NoError(t, f.exec.ProcessScan(context.Background(), job.ID.String()))

	stored := f.scanRepo.stored(job.ID)
	assert.Equal(t, scan.StatusCompleted, stored.Status, "a timed-out module must not fail the scan")
	require.NotNil(t, stored.Summary)
	assert.Equal(t, 1, stored.Summary.ModulesFailed)

	results, err := f.resultRepo.ListByScanID(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, scan.ResultFailed, results[0].Status)
	assert.Contains(t, results[0].Error, "timed out")
	assert.Equal(t, scan.ResultSuccess, results[1].Status)
}

func TestExecutorAllModulesFailed(t *testing.T) {
	broken := func(_ context.Context, _ *target.Target) (*runner.Report, error) {
		return nil, errors.New("probe blew up")
	}
	first := &stubRunner{name: scan.ModuleDNSEnumeration, run: broken}
	second := &stubRunner{name: scan.ModuleSSLAnalysis, run: broken}
	f := newExecutorFixture(t, registryOf(first, second), testScanConfig())

	orgID := shared.NewID()
	tgt := f.seedTarget(t, orgID)
	job := f.seedQueuedJob(t, orgID, tgt, scan.ModuleDNSEnumeration, scan.ModuleSSLAnalysis)

	require.NoError(t, f.exec.ProcessScan(context.Background(), job.ID.String()))

	stored := f.scanRepo.stored(job.ID)
	assert.Equal(t, scan.StatusFailed, stored.Status)
	assert.Equal(t, "all modules failed: dns_enumeration, ssl_analysis", stored.FailureReason)

	assert.Equal(t, scan.EventScanFailed, f.bus.last().Kind)
	assert.Equal(t, []string{channel.EventScanFailed}, f.enqueuer.byKind("notification"))
	assert.Equal(t, 0, f.enqueuer.countKind("report"))
}

func TestExecutorUnregisteredModuleFailsOnlyItself(t *testing.T) {
	present := &stubRunner{name: scan.ModuleDNSEnumeration}
	f := newExecutorFixture(t, registryOf(present), testScanConfig())

	orgID := shared.NewID()
	tgt := f.seedTarget(t, orgID)
	job := f.seedQueuedJob(t, orgID, tgt, scan.ModuleDNSEnumeration, scan.ModulePortScan)

	require.NoError(t, f.exec.ProcessScan(context.Background(), job.ID.String()))

	stored := f.scanRepo.stored(job.ID)
	assert.Equal(t, scan.StatusCompleted, stored.Status)

	results, err := f.resultRepo.ListByScanID(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, scan.ResultFailed, results[1].Status)
	assert.Contains(t, results[1].Error, "not registered")
}

func TestExecutorFinishedJobRedelivery(t *testing.T) {
	mod := &stubRunner{name: scan.ModuleDNSEnumeration}

	orgID := shared.NewID()
	job, err := scan.NewScanJob(scan.ScanJobParams{
		OrgID:       orgID,
		TargetID:    shared.NewID(),
		Target:      "example.com",
		RequestedBy: shared.NewID(),
		Profile:     scan.ProfileCustom,
		Modules:     []string{scan.ModuleDNSEnumeration},
	})
	require.NoError(t, err)
	require.NoError(t, job.Start())
	require.NoError(t, job.RecordResult(scan.NewModuleResult(job.ID, scan.ModuleDNSEnumeration, nil, time.Now(), time.Second)))
	require.NoError(t, job.Complete(scan.NewSummary(job.Results)))

	f := newExecutorFixture(t, registryOf(mod), testScanConfig())
	f.scanRepo = newFakeScanRepo(job)
	f.exec = NewExecutor(
		f.scanRepo, f.resultRepo, f.findingRepo, f.targetRepo,
		registryOf(mod), f.enqueuer, f.bus, testScanConfig(), logger.NewNop(),
	)

	require.NoError(t, f.exec.ProcessScan(context.Background(), job.ID.String()))

	assert.Equal(t, 0, mod.callCount())
	assert.Empty(t, f.bus.kinds())
	assert.Equal(t, scan.StatusCompleted, f.scanRepo.status(job.ID))
}

func TestExecutorMissingTargetFailsScan(t *testing.T) {
	mod := &stubRunner{name: scan.ModuleDNSEnumeration}
	f := newExecutorFixture(t, registryOf(mod), testScanConfig())

	orgID := shared.NewID()
	ghost, err := target.NewTarget(orgID, "gone.example.com", target.TypeDomain)
	require.NoError(t, err)
	job := f.seedQueuedJob(t, orgID, ghost, scan.ModuleDNSEnumeration)

	require.NoError(t, f.exec.ProcessScan(context.Background(), job.ID.String()))

	stored := f.scanRepo.stored(job.ID)
	assert.Equal(t, scan.StatusFailed, stored.Status)
	assert.Equal(t, "target no longer exists", stored.FailureReason)
	assert.Equal(t, 0, mod.callCount())
}

func TestExecutorWorkerShutdownLeavesScanRunning(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := &stubRunner{
		name: scan.ModuleDNSEnumeration,
		run: func(_ context.Context, _ *target.Target) (*runner.Report, error) {
			cancel()
			return &runner.Report{}, nil
		},
	}
	second := &stubRunner{name: scan.ModuleSSLAnalysis}
	f := newExecutorFixture(t, registryOf(first, second), testScanConfig())

	orgID := shared.NewID()
	tgt := f.seedTarget(t, orgID)
	job := f.seedQueuedJob(t, orgID, tgt, scan.ModuleDNSEnumeration, scan.ModuleSSLAnalysis)

	err := f.exec.ProcessScan(ctx, job.ID.String())
	require.ErrorIs(t, err, context.Canceled)

	// The job stays running so a redelivery resumes it.
	assert.Equal(t, scan.StatusRunning, f.scanRepo.status(job.ID))
	assert.Equal(t, 0, second.callCount())

	results, lerr := f.resultRepo.ListByScanID(context.Background(), job.ID)
	require.NoError(t, lerr)
	assert.Len(t, results, 1)
}

func TestExecutorMissingJobIsAcknowledged(t *testing.T) {
	f := newExecutorFixture(t, fakeRegistry{}, testScanConfig())

	require.NoError(t, f.exec.ProcessScan(context.Background(), shared.NewID().String()))

	assert.Empty(t, f.bus.kinds())
}

func TestExecutorRejectsMalformedScanID(t *testing.T) {
	f := newExecutorFixture(t, fakeRegistry{}, testScanConfig())

	err := f.exec.ProcessScan(context.Background(), "not-a-uuid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid scan id")
}
