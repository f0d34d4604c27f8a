package scan_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnscanio/engine/pkg/domain/scan"
	"github.com/vulnscanio/engine/pkg/domain/shared"
)

func newTestJob(t *testing.T, modules ...string) *scan.ScanJob {
	t.Helper()
	if len(modules) == 0 {
		modules = []string{"dns_enumeration", "ssl_analysis", "tech_detection"}
	}
	job, err := scan.NewScanJob(scan.ScanJobParams{
		OrgID:       shared.NewID(),
		TargetID:    shared.NewID(),
		Target:      "example.com",
		RequestedBy: shared.NewID(),
		Profile:     "quick",
		Modules:     modules,
	})
	require.NoError(t, err)
	return job
}

func TestNewScanJob_Validation(t *testing.T) {
	valid := scan.ScanJobParams{
		OrgID:    shared.NewID(),
		TargetID: shared.NewID(),
		Target:   "example.com",
		Profile:  "quick",
		Modules:  []string{"dns_enumeration"},
	}

	t.Run("valid params", func(t *testing.T) {
		job, err := scan.NewScanJob(valid)
		require.NoError(t, err)
		assert.Equal(t, scan.StatusQueued, job.Status)
		assert.Equal(t, 0, job.Progress)
		assert.False(t, job.ID.IsZero())
		assert.Empty(t, job.Results)
	})

	t.Run("missing org", func(t *testing.T) {
		p := valid
		p.OrgID = shared.ID{}
		_, err := scan.NewScanJob(p)
		assert.Error(t, err)
		assert.True(t, shared.IsValidation(err))
	})

	t.Run("missing target", func(t *testing.T) {
		p := valid
		p.Target = ""
		_, err := scan.NewScanJob(p)
		assert.Error(t, err)
	})

	t.Run("empty module plan", func(t *testing.T) {
		p := valid
		p.Modules = nil
		_, err := scan.NewScanJob(p)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "at least one module")
	})

	t.Run("duplicate module in plan", func(t *testing.T) {
		p := valid
		p.Modules = []string{"dns_enumeration", "dns_enumeration"}
		_, err := scan.NewScanJob(p)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate module")
	})
}

func TestScanJob_Start(t *testing.T) {
	t.Run("queued to running", func(t *testing.T) {
		job := newTestJob(t)
		require.NoError(t, job.Start())
		assert.Equal(t, scan.StatusRunning, job.Status)
		assert.Equal(t, "dns_enumeration", job.CurrentModule)
		require.NotNil(t, job.StartedAt)
	})

	t.Run("start twice fails", func(t *testing.T) {
		job := newTestJob(t)
		require.NoError(t, job.Start())
		assert.Error(t, job.Start())
	})

	t.Run("resume points at first pending module", func(t *testing.T) {
		job := newTestJob(t)
		require.NoError(t, job.Start())
		require.NoError(t, job.RecordResult(scan.NewModuleResult(job.ID, "dns_enumeration", nil, time.Now(), 0)))

		// Simulate redelivery: job reloaded in queued state with one result.
		job.Status = scan.StatusQueued
		require.NoError(t, job.Start())
		assert.Equal(t, "ssl_analysis", job.CurrentModule)
	})
}

func TestScanJob_ProgressSequence(t *testing.T) {
	modules := []string{"m1", "m2", "m3", "m4", "m5", "m6"}
	job := newTestJob(t, modules...)
	require.NoError(t, job.Start())

	want := []int{17, 33, 50, 67, 83, 100}
	for i, m := range modules {
		require.NoError(t, job.RecordResult(scan.NewModuleResult(job.ID, m, nil, time.Now(), 0)))
		assert.Equal(t, want[i], job.Progress, "after module %d", i+1)
	}
}

func TestScanJob_ProgressMonotonic(t *testing.T) {
	job := newTestJob(t, "m1", "m2", "m3", "m4", "m5", "m6", "m7")
	require.NoError(t, job.Start())

	prev := job.Progress
	for _, m := range job.Modules {
		require.NoError(t, job.RecordResult(scan.NewModuleResult(job.ID, m, nil, time.Now(), 0)))
		assert.GreaterOrEqual(t, job.Progress, prev)
		prev = job.Progress
	}
	assert.Equal(t, 100, prev)
}

func TestScanJob_RecordResult(t *testing.T) {
	t.Run("advances current module", func(t *testing.T) {
		job := newTestJob(t)
		require.NoError(t, job.Start())
		require.NoError(t, job.RecordResult(scan.NewModuleResult(job.ID, "dns_enumeration", nil, time.Now(), 0)))
		assert.Equal(t, "ssl_analysis", job.CurrentModule)
	})

	t.Run("duplicate result rejected", func(t *testing.T) {
		job := newTestJob(t)
		require.NoError(t, job.Start())
		require.NoError(t, job.RecordResult(scan.NewModuleResult(job.ID, "dns_enumeration", nil, time.Now(), 0)))
		err := job.RecordResult(scan.NewModuleResult(job.ID, "dns_enumeration", nil, time.Now(), 0))
		assert.ErrorIs(t, err, scan.ErrDuplicateResult)
	})

	t.Run("module outside plan rejected", func(t *testing.T) {
		job := newTestJob(t)
		require.NoError(t, job.Start())
		err := job.RecordResult(scan.NewModuleResult(job.ID, "port_scan", nil, time.Now(), 0))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "not in scan plan")
	})

	t.Run("rejected while queued", func(t *testing.T) {
		job := newTestJob(t)
		err := job.RecordResult(scan.NewModuleResult(job.ID, "dns_enumeration", nil, time.Now(), 0))
		assert.Error(t, err)
	})

	t.Run("skipped result still advances progress", func(t *testing.T) {
		job := newTestJob(t)
		require.NoError(t, job.Start())
		require.NoError(t, job.RecordResult(scan.NewSkippedModuleResult(job.ID, "dns_enumeration", "module not registered")))
		assert.Equal(t, 33, job.Progress)
		assert.Equal(t, "ssl_analysis", job.CurrentModule)
	})
}

func TestScanJob_Complete(t *testing.T) {
	t.Run("with pending modules fails", func(t *testing.T) {
		job := newTestJob(t)
		require.NoError(t, job.Start())
		err := job.Complete(scan.NewSummary(job.Results))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "pending modules")
	})

	t.Run("all processed completes at 100", func(t *testing.T) {
		job := newTestJob(t)
		require.NoError(t, job.Start())
		for _, m := range job.Modules {
			require.NoError(t, job.RecordResult(scan.NewModuleResult(job.ID, m, nil, time.Now(), 0)))
		}
		require.NoError(t, job.Complete(scan.NewSummary(job.Results)))
		assert.Equal(t, scan.StatusCompleted, job.Status)
		assert.Equal(t, 100, job.Progress)
		assert.NotNil(t, job.Summary)
		assert.NotNil(t, job.CompletedAt)
		assert.Empty(t, job.CurrentModule)
	})

	t.Run("queued job cannot complete", func(t *testing.T) {
		job := newTestJob(t)
		assert.Error(t, job.Complete(nil))
	})
}

func TestScanJob_Fail(t *testing.T) {
	job := newTestJob(t)
	require.NoError(t, job.Start())
	require.NoError(t, job.Fail("all modules failed"))
	assert.Equal(t, scan.StatusFailed, job.Status)
	assert.Equal(t, "all modules failed", job.FailureReason)
	assert.True(t, job.IsFinished())

	t.Run("terminal job cannot fail again", func(t *testing.T) {
		assert.Error(t, job.Fail("again"))
	})
}

func TestScanJob_Cancel(t *testing.T) {
	t.Run("queued job cancels immediately", func(t *testing.T) {
		job := newTestJob(t)
		require.NoError(t, job.Cancel())
		assert.Equal(t, scan.StatusCancelled, job.Status)
		assert.NotNil(t, job.CompletedAt)
	})

	t.Run("running job cancels at checkpoint", func(t *testing.T) {
		job := newTestJob(t)
		require.NoError(t, job.Start())
		require.NoError(t, job.RecordResult(scan.NewModuleResult(job.ID, "dns_enumeration", nil, time.Now(), 0)))
		require.NoError(t, job.RequestCancel())
		assert.True(t, job.CancelRequested)

		require.NoError(t, job.Cancel())
		assert.Equal(t, scan.StatusCancelled, job.Status)
		// Progress stays at the last completed module boundary.
		assert.Equal(t, 33, job.Progress)
	})

	t.Run("completed job is not cancellable", func(t *testing.T) {
		job := newTestJob(t)
		require.NoError(t, job.Start())
		for _, m := range job.Modules {
			require.NoError(t, job.RecordResult(scan.NewModuleResult(job.ID, m, nil, time.Now(), 0)))
		}
		require.NoError(t, job.Complete(scan.NewSummary(job.Results)))

		assert.ErrorIs(t, job.RequestCancel(), scan.ErrNotCancellable)
		assert.ErrorIs(t, job.Cancel(), scan.ErrNotCancellable)
	})

	t.Run("cancelled job is not cancellable again", func(t *testing.T) {
		job := newTestJob(t)
		require.NoError(t, job.Cancel())
		assert.ErrorIs(t, job.Cancel(), scan.ErrNotCancellable)
	})
}

func TestScanJob_AllFailed(t *testing.T) {
	fail := func(job *scan.ScanJob, m string) {
		require.NoError(t, job.RecordResult(scan.NewFailedModuleResult(job.ID, m, "boom", time.Now(), 0)))
	}

	t.Run("every module failed", func(t *testing.T) {
		job := newTestJob(t)
		require.NoError(t, job.Start())
		for _, m := range job.Modules {
			fail(job, m)
		}
		assert.True(t, job.AllFailed())
		assert.Len(t, job.FailedModules(), 3)
	})

	t.Run("one success keeps the scan completable", func(t *testing.T) {
		job := newTestJob(t)
		require.NoError(t, job.Start())
		fail(job, "dns_enumeration")
		require.NoError(t, job.RecordResult(scan.NewModuleResult(job.ID, "ssl_analysis", nil, time.Now(), 0)))
		fail(job, "tech_detection")
		assert.False(t, job.AllFailed())
	})

	t.Run("one skip keeps the scan completable", func(t *testing.T) {
		job := newTestJob(t)
		require.NoError(t, job.Start())
		fail(job, "dns_enumeration")
		require.NoError(t, job.RecordResult(scan.NewSkippedModuleResult(job.ID, "ssl_analysis", "not registered")))
		fail(job, "tech_detection")
		assert.False(t, job.AllFailed())
	})

	t.Run("pending modules never count as all failed", func(t *testing.T) {
		job := newTestJob(t)
		require.NoError(t, job.Start())
		fail(job, "dns_enumeration")
		assert.False(t, job.AllFailed())
	})
}

func TestScanJob_NextPending(t *testing.T) {
	job := newTestJob(t)
	require.NoError(t, job.Start())

	next, ok := job.NextPending()
	require.True(t, ok)
	assert.Equal(t, "dns_enumeration", next)

	require.NoError(t, job.RecordResult(scan.NewModuleResult(job.ID, "dns_enumeration", nil, time.Now(), 0)))
	next, ok = job.NextPending()
	require.True(t, ok)
	assert.Equal(t, "ssl_analysis", next)

	require.NoError(t, job.RecordResult(scan.NewModuleResult(job.ID, "ssl_analysis", nil, time.Now(), 0)))
	require.NoError(t, job.RecordResult(scan.NewModuleResult(job.ID, "tech_detection", nil, time.Now(), 0)))
	_, ok = job.NextPending()
	assert.False(t, ok)
	assert.True(t, job.AllProcessed())
}

func TestStatus_Predicates(t *testing.T) {
	terminal := []scan.Status{scan.StatusCompleted, scan.StatusFailed, scan.StatusCancelled}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), s)
		assert.False(t, s.IsActive(), s)
	}
	active := []scan.Status{scan.StatusQueued, scan.StatusRunning}
	for _, s := range active {
		assert.False(t, s.IsTerminal(), s)
		assert.True(t, s.IsActive(), s)
	}
	assert.False(t, scan.Status("bogus").IsValid())
	for _, s := range scan.AllStatuses() {
		assert.True(t, s.IsValid())
	}
}
