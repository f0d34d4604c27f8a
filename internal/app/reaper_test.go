package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnscanio/engine/internal/config"
	"github.com/vulnscanio/engine/pkg/domain/scan"
	"github.com/vulnscanio/engine/pkg/domain/shared"
	"github.com/vulnscanio/engine/pkg/logger"
)

func reaperConfig() config.ScanConfig {
	return config.ScanConfig{ReaperInterval: time.Minute, ReaperAge: 30 * time.Minute}
}

func orphanedJob(t *testing.T, age time.Duration) *scan.ScanJob {
	t.Helper()
	job, err := scan.NewScanJob(scan.ScanJobParams{
		OrgID:       shared.NewID(),
		TargetID:    shared.NewID(),
		Target:      "example.com",
		RequestedBy: shared.NewID(),
		Profile:     scan.ProfileQuick,
		Modules:     []string{scan.ModuleDNSEnumeration},
	})
	require.NoError(t, err)
	require.NoError(t, job.Start())
	job.UpdatedAt = time.Now().Add(-age)
	return job
}

func TestReaperRequeuesOrphans(t *testing.T) {
	stale := orphanedJob(t, 2*time.Hour)
	fresh := orphanedJob(t, time.Minute)
	repo := newFakeScanRepo(stale, fresh)
	enq := &fakeEnqueuer{}

	r := NewReaper(repo, enq, reaperConfig(), logger.NewNop())
	r.sweep()

	calls := enq.scanCalls()
	require.Len(t, calls, 1, "only jobs older than the reap age are requeued")
	assert.Equal(t, stale.ID, calls[0].scanID)
	assert.Equal(t, stale.OrgID, calls[0].orgID)

	// Requeue never touches the row; the worker resumes from the recorded
	// module results.
	assert.Equal(t, scan.StatusRunning, repo.status(stale.ID))
}

func TestReaperToleratesLiveTask(t *testing.T) {
	stale := orphanedJob(t, 2*time.Hour)
	repo := newFakeScanRepo(stale)
	enq := &fakeEnqueuer{scanErr: ErrTaskAlreadyQueued}

	r := NewReaper(repo, enq, reaperConfig(), logger.NewNop())
	r.sweep()

	assert.Empty(t, enq.scanCalls())
	assert.Equal(t, scan.StatusRunning, repo.status(stale.ID))
}

func TestReaperContinuesPastEnqueueErrors(t *testing.T) {
	stale := orphanedJob(t, 2*time.Hour)
	repo := newFakeScanRepo(stale)
	enq := &fakeEnqueuer{scanErr: errors.New("queue unreachable")}

	r := NewReaper(repo, enq, reaperConfig(), logger.NewNop())
	r.sweep()

	// The failure is logged and the next sweep retries.
	assert.Empty(t, enq.scanCalls())
}

func TestReaperIgnoresFinishedJobs(t *testing.T) {
	done := orphanedJob(t, 2*time.Hour)
	repo := newFakeScanRepo(done)
	require.NoError(t, repo.UpdateStatusFrom(context.Background(), done.ID, scan.StatusRunning, scan.StatusCompleted))
	// Completing bumps updated_at past the cutoff in the real store; roll it
	// back so only the terminal status keeps this job out of the sweep.
	repo.mu.Lock()
	repo.jobs[done.ID].UpdatedAt = time.Now().Add(-2 * time.Hour)
	repo.mu.Unlock()

	enq := &fakeEnqueuer{}
	r := NewReaper(repo, enq, reaperConfig(), logger.NewNop())
	r.sweep()

	assert.Empty(t, enq.scanCalls())
}
