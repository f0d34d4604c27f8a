package reports

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/vulnscanio/engine/pkg/domain/finding"
	"github.com/vulnscanio/engine/pkg/domain/scan"
	"github.com/vulnscanio/engine/pkg/domain/shared"
)

func reportJob(t *testing.T) *scan.ScanJob {
	t.Helper()

	job, err := scan.NewScanJob(scan.ScanJobParams{
		OrgID:       shared.NewID(),
		TargetID:    shared.NewID(),
		Target:      "example.com",
		RequestedBy: shared.NewID(),
		Profile:     scan.ProfileQuick,
		Modules:     []string{scan.ModuleDNSEnumeration, scan.ModuleSSLAnalysis},
	})
	if err != nil {
		t.Fatalf("NewScanJob: %v", err)
	}

	low, err := finding.NewFinding(job.ID, job.OrgID, scan.ModuleDNSEnumeration, "Missing SPF record", finding.SeverityLow)
	if err != nil {
		t.Fatalf("NewFinding: %v", err)
	}
	high, err := finding.NewFinding(job.ID, job.OrgID, scan.ModuleDNSEnumeration, "Dangling CNAME", finding.SeverityHigh)
	if err != nil {
		t.Fatalf("NewFinding: %v", err)
	}

	started := time.Now().Add(-time.Minute)
	job.Results = []*scan.ModuleResult{
		scan.NewModuleResult(job.ID, scan.ModuleDNSEnumeration, []*finding.Finding{low, high}, started, 3*time.Second),
		scan.NewFailedModuleResult(job.ID, scan.ModuleSSLAnalysis, "dial timeout", started, 5*time.Second),
	}
	job.Summary = scan.NewSummary(job.Results)
	return job
}

func TestBuildDocument(t *testing.T) {
	job := reportJob(t)
	doc := BuildDocument(job)

	if doc.Version != documentVersion {
		t.Errorf("Version = %q, want %q", doc.Version, documentVersion)
	}
	if doc.Scan.ID != job.ID.String() || doc.Scan.Target != "example.com" {
		t.Errorf("Scan section = %+v", doc.Scan)
	}
	if len(doc.Modules) != 2 {
		t.Fatalf("Modules = %d, want 2", len(doc.Modules))
	}
	if doc.Modules[0].Name != scan.ModuleDNSEnumeration || doc.Modules[0].Findings != 2 {
		t.Errorf("module[0] = %+v", doc.Modules[0])
	}
	if doc.Modules[1].Status != scan.ResultFailed.String() || doc.Modules[1].Error != "dial timeout" {
		t.Errorf("module[1] = %+v", doc.Modules[1])
	}

	// Findings flatten across modules, most severe first.
	if len(doc.Findings) != 2 {
		t.Fatalf("Findings = %d, want 2", len(doc.Findings))
	}
	if doc.Findings[0].Severity != finding.SeverityHigh {
		t.Errorf("Findings[0].Severity = %q, want high", doc.Findings[0].Severity)
	}
	if doc.Summary == nil || doc.Summary.TotalFindings != 2 {
		t.Errorf("Summary = %+v", doc.Summary)
	}
}

func TestDocumentJSON(t *testing.T) {
	doc := BuildDocument(reportJob(t))

	data, err := doc.JSON()
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	for _, key := range []string{"version", "generated_at", "scan", "summary", "modules", "findings"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("missing top-level key %q", key)
		}
	}
}

func TestObjectKey(t *testing.T) {
	job := reportJob(t)
	key := ObjectKey(job)

	if !strings.HasPrefix(key, "reports/"+job.OrgID.String()+"/") {
		t.Errorf("key %q not scoped to org", key)
	}
	if !strings.HasSuffix(key, job.ID.String()+".json") {
		t.Errorf("key %q not named by scan", key)
	}
}
