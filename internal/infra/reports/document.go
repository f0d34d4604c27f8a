package reports

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/vulnscanio/engine/pkg/domain/finding"
	"github.com/vulnscanio/engine/pkg/domain/scan"
)

// documentVersion is bumped when the report layout changes incompatibly.
const documentVersion = "1"

// ContentType is the MIME type report artifacts are stored under.
const ContentType = "application/json"

// Document is the rendered report for one scan.
type Document struct {
	Version     string             `json:"version"`
	GeneratedAt time.Time          `json:"generated_at"`
	Scan        ScanInfo           `json:"scan"`
	Summary     *scan.Summary      `json:"summary,omitempty"`
	Modules     []ModuleReport     `json:"modules"`
	Findings    []*finding.Finding `json:"findings"`
}

// ScanInfo identifies the scan the report covers.
type ScanInfo struct {
	ID            string     `json:"id"`
	OrgID         string     `json:"org_id"`
	Target        string     `json:"target"`
	Profile       string     `json:"profile"`
	Status        string     `json:"status"`
	QueuedAt      time.Time  `json:"queued_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
}

// ModuleReport summarizes one module execution.
type ModuleReport struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	DurationMS int64  `json:"duration_ms"`
	Findings   int    `json:"findings"`
	Error      string `json:"error,omitempty"`
}

// BuildDocument renders a scan job with loaded results into a report
// document. Findings are flattened across modules and ordered most severe
// first.
func BuildDocument(job *scan.ScanJob) *Document {
	doc := &Document{
		Version:     documentVersion,
		GeneratedAt: time.Now().UTC(),
		Scan: ScanInfo{
			ID:            job.ID.String(),
			OrgID:         job.OrgID.String(),
			Target:        job.Target,
			Profile:       job.Profile,
			Status:        job.Status.String(),
			QueuedAt:      job.CreatedAt,
			StartedAt:     job.StartedAt,
			CompletedAt:   job.CompletedAt,
			FailureReason: job.FailureReason,
		},
		Summary:  job.Summary,
		Modules:  make([]ModuleReport, 0, len(job.Results)),
		Findings: make([]*finding.Finding, 0),
	}

	for _, r := range job.Results {
		doc.Modules = append(doc.Modules, ModuleReport{
			Name:       r.ModuleName,
			Status:     r.Status.String(),
			DurationMS: r.Duration.Milliseconds(),
			Findings:   len(r.Findings),
			Error:      r.Error,
		})
		doc.Findings = append(doc.Findings, r.Findings...)
	}

	sort.SliceStable(doc.Findings, func(i, j int) bool {
		return doc.Findings[i].Severity.Weight() > doc.Findings[j].Severity.Weight()
	})

	return doc
}

// JSON serializes the document for upload.
func (d *Document) JSON() ([]byte, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	return data, nil
}

// ObjectKey returns the storage key for a scan's report. Keys are
// deterministic so a redelivered generation task overwrites in place.
func ObjectKey(job *scan.ScanJob) string {
	return fmt.Sprintf("reports/%s/%s.json", job.OrgID, job.ID)
}
