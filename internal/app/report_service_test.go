package app

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnscanio/engine/pkg/domain/finding"
	"github.com/vulnscanio/engine/pkg/domain/scan"
	"github.com/vulnscanio/engine/pkg/domain/shared"
	"github.com/vulnscanio/engine/pkg/logger"
)

type reportFixture struct {
	scanRepo    *fakeScanRepo
	findingRepo *fakeFindingRepo
	store       *fakeArtifactStore
	svc         *ReportService
}

func newReportFixture(t *testing.T) *reportFixture {
	t.Helper()
	f := &reportFixture{
		scanRepo:    newFakeScanRepo(),
		findingRepo: &fakeFindingRepo{},
		store:       newFakeArtifactStore(),
	}
	f.svc = NewReportService(f.scanRepo, f.findingRepo, f.store, logger.NewNop())
	return f
}

// seedCompleted builds a finished scan whose stored results carry no
// findings, matching what a database load returns.
func (f *reportFixture) seedCompleted(t *testing.T, orgID shared.ID) *scan.ScanJob {
	t.Helper()
	job, err := scan.NewScanJob(scan.ScanJobParams{
		OrgID:       orgID,
		TargetID:    shared.NewID(),
		Target:      "example.com",
		RequestedBy: shared.NewID(),
		Profile:     scan.ProfileQuick,
		Modules:     []string{scan.ModuleVulnCheck},
	})
	require.NoError(t, err)
	require.NoError(t, job.Start())
	require.NoError(t, job.RecordResult(
		scan.NewModuleResult(job.ID, scan.ModuleVulnCheck, nil, time.Now(), time.Second)))
	require.NoError(t, job.Complete(scan.NewSummary(job.Results)))

	f.scanRepo = newFakeScanRepo(job)
	f.svc.scanRepo = f.scanRepo
	return job
}

func TestGenerateReport(t *testing.T) {
	ctx := context.Background()
	f := newReportFixture(t)
	orgID := shared.NewID()
	job := f.seedCompleted(t, orgID)

	require.NoError(t, f.findingRepo.CreateBatch(ctx, []*finding.Finding{{
		ID:        shared.NewID(),
		ScanID:    job.ID,
		OrgID:     orgID,
		Module:    scan.ModuleVulnCheck,
		Severity:  finding.SeverityHigh,
		Title:     "Outdated TLS configuration",
		CreatedAt: time.Now(),
	}}))

	require.NoError(t, f.svc.GenerateReport(ctx, job.ID.String(), "json"))

	key := "reports/" + orgID.String() + "/" + job.ID.String() + ".json"
	payload, ok := f.store.object(key)
	require.True(t, ok, "artifact stored under the deterministic key")

	var doc struct {
		Scan struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"scan"`
		Findings []struct {
			Title string `json:"title"`
		} `json:"findings"`
	}
	require.NoError(t, json.Unmarshal(payload, &doc))
	assert.Equal(t, job.ID.String(), doc.Scan.ID)
	assert.Equal(t, "completed", doc.Scan.Status)
	require.Len(t, doc.Findings, 1, "stored findings are rehydrated into the document")
	assert.Equal(t, "Outdated TLS configuration", doc.Findings[0].Title)

	assert.Equal(t, key, f.scanRepo.stored(job.ID).ReportKey)
}

func TestGenerateReportIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newReportFixture(t)
	job := f.seedCompleted(t, shared.NewID())

	require.NoError(t, f.svc.GenerateReport(ctx, job.ID.String(), "json"))
	require.NoError(t, f.svc.GenerateReport(ctx, job.ID.String(), "json"))

	assert.Equal(t, 1, f.store.objectCount(), "redelivery overwrites in place")
}

func TestGenerateReportSkips(t *testing.T) {
	ctx := context.Background()

	t.Run("unsupported format", func(t *testing.T) {
		f := newReportFixture(t)
		job := f.seedCompleted(t, shared.NewID())

		require.NoError(t, f.svc.GenerateReport(ctx, job.ID.String(), "pdf"))
		assert.Zero(t, f.store.objectCount())
	})

	t.Run("unfinished scan", func(t *testing.T) {
		f := newReportFixture(t)
		job, err := scan.NewScanJob(scan.ScanJobParams{
			OrgID:       shared.NewID(),
			TargetID:    shared.NewID(),
			Target:      "example.com",
			RequestedBy: shared.NewID(),
			Profile:     scan.ProfileQuick,
			Modules:     []string{scan.ModuleVulnCheck},
		})
		require.NoError(t, err)
		f.scanRepo = newFakeScanRepo(job)
		f.svc.scanRepo = f.scanRepo

		require.NoError(t, f.svc.GenerateReport(ctx, job.ID.String(), "json"))
		assert.Zero(t, f.store.objectCount())
	})

	t.Run("missing scan", func(t *testing.T) {
		f := newReportFixture(t)
		require.NoError(t, f.svc.GenerateReport(ctx, shared.NewID().String(), "json"))
	})
}

func TestReportArtifactLocation(t *testing.T) {
	ctx := context.Background()

	t.Run("presigns the stored key", func(t *testing.T) {
		f := newReportFixture(t)
		orgID := shared.NewID()
		job := f.seedCompleted(t, orgID)
		require.NoError(t, f.svc.GenerateReport(ctx, job.ID.String(), "json"))

		url, err := f.svc.ArtifactLocation(ctx, orgID, job.ID)
		require.NoError(t, err)
		assert.Contains(t, url, job.ID.String())
	})

	t.Run("no report yet", func(t *testing.T) {
		f := newReportFixture(t)
		orgID := shared.NewID()
		job := f.seedCompleted(t, orgID)

		_, err := f.svc.ArtifactLocation(ctx, orgID, job.ID)
		require.Error(t, err)
		assert.True(t, shared.IsNotFound(err))
	})

	t.Run("storage disabled", func(t *testing.T) {
		f := newReportFixture(t)
		orgID := shared.NewID()
		job := f.seedCompleted(t, orgID)
		f.svc.store = nil

		_, err := f.svc.ArtifactLocation(ctx, orgID, job.ID)
		require.ErrorIs(t, err, shared.ErrUnavailable)
	})
}
