package app

import (
	"context"
	"fmt"
	"time"

	"github.com/vulnscanio/engine/internal/infra/reports"
	"github.com/vulnscanio/engine/internal/metrics"
	"github.com/vulnscanio/engine/pkg/domain/finding"
	"github.com/vulnscanio/engine/pkg/domain/scan"
	"github.com/vulnscanio/engine/pkg/domain/shared"
	"github.com/vulnscanio/engine/pkg/logger"
)

// reportURLTTL bounds how long a handed-out report link stays valid.
const reportURLTTL = 15 * time.Minute

// ReportService renders completed scans into stored artifacts. Generation
// runs worker-side off the reports queue; the API only ever hands out
// presigned links to what is already stored.
type ReportService struct {
	scanRepo    scan.Repository
	findingRepo finding.Repository
	store       ArtifactStore
	logger      *logger.Logger
}

// NewReportService creates a new ReportService. A nil store disables
// report generation, deployments without object storage run fine without
// it.
func NewReportService(scanRepo scan.Repository, findingRepo finding.Repository, store ArtifactStore, log *logger.Logger) *ReportService {
	return &ReportService{
		scanRepo:    scanRepo,
		findingRepo: findingRepo,
		store:       store,
		logger:      log.With("service", "report"),
	}
}

// GenerateReport renders and uploads the report artifact for a completed
// scan. The object key is derived from the scan, so a redelivered task
// overwrites the same object instead of duplicating it.
func (s *ReportService) GenerateReport(ctx context.Context, scanID, format string) error {
	if s.store == nil {
		s.logger.Debug("object storage disabled, skipping report", "scan_id", scanID)
		return nil
	}
	if format != "json" {
		// Redelivery cannot fix an unsupported format; drop the task.
		s.logger.Warn("unsupported report format, dropping task", "scan_id", scanID, "format", format)
		return nil
	}

	sid, err := shared.IDFromString(scanID)
	if err != nil {
		return fmt.Errorf("parse scan id: %w", err)
	}

	job, err := s.scanRepo.GetWithResults(ctx, sid)
	if err != nil {
		if shared.IsNotFound(err) {
			s.logger.Warn("scan gone, dropping report task", "scan_id", scanID)
			return nil
		}
		return fmt.Errorf("load scan %s: %w", scanID, err)
	}
	if job.Status != scan.StatusCompleted {
		s.logger.Debug("scan not completed, skipping report",
			"scan_id", scanID, "status", job.Status)
		return nil
	}

	findings, err := s.findingRepo.ListByScanID(ctx, sid)
	if err != nil {
		return fmt.Errorf("list findings for scan %s: %w", scanID, err)
	}
	attachFindings(job, findings)

	doc := reports.BuildDocument(job)
	payload, err := doc.JSON()
	if err != nil {
		return fmt.Errorf("render report for scan %s: %w", scanID, err)
	}

	key := reports.ObjectKey(job)
	if err := s.store.Put(ctx, key, payload, reports.ContentType); err != nil {
		return fmt.Errorf("store report for scan %s: %w", scanID, err)
	}

	job.ReportKey = key
	if err := s.scanRepo.Update(ctx, job); err != nil {
		return fmt.Errorf("record report key for scan %s: %w", scanID, err)
	}

	metrics.ReportsGeneratedTotal.WithLabelValues(job.OrgID.String(), format).Inc()
	s.logger.Info("report generated",
		"scan_id", scanID,
		"key", key,
		"bytes", len(payload),
		"findings", len(findings),
	)
	return nil
}

// ArtifactLocation returns a short-lived presigned URL for the scan's
// stored report.
func (s *ReportService) ArtifactLocation(ctx context.Context, orgID, scanID shared.ID) (string, error) {
	if s.store == nil {
		return "", fmt.Errorf("%w: object storage is not configured", shared.ErrUnavailable)
	}

	job, err := s.scanRepo.GetByOrgAndID(ctx, orgID, scanID)
	if err != nil {
		return "", err
	}
	if job.ReportKey == "" {
		return "", fmt.Errorf("%w: report not generated for scan %s", shared.ErrNotFound, scanID)
	}

	url, err := s.store.PresignGet(ctx, job.ReportKey, reportURLTTL)
	if err != nil {
		return "", fmt.Errorf("presign report for scan %s: %w", scanID, err)
	}
	return url, nil
}

// attachFindings hangs stored findings back onto their module results.
// Results load from the database without them.
func attachFindings(job *scan.ScanJob, findings []*finding.Finding) {
	byModule := make(map[string][]*finding.Finding, len(job.Results))
	for _, f := range findings {
		byModule[f.Module] = append(byModule[f.Module], f)
	}
	for _, r := range job.Results {
		if fs, ok := byModule[r.ModuleName]; ok {
			r.Findings = fs
		}
	}
}
