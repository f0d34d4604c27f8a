package scan_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnscanio/engine/pkg/domain/finding"
	"github.com/vulnscanio/engine/pkg/domain/scan"
	"github.com/vulnscanio/engine/pkg/domain/shared"
)

func mustFinding(t *testing.T, scanID shared.ID, sev finding.Severity, cvss float64) *finding.Finding {
	t.Helper()
	f, err := finding.NewFinding(scanID, shared.NewID(), "vuln_check", "test finding", sev)
	require.NoError(t, err)
	f.CVSSScore = cvss
	return f
}

func TestNewSummary_Scoring(t *testing.T) {
	scanID := shared.NewID()

	t.Run("empty results score zero risk", func(t *testing.T) {
		s := scan.NewSummary(nil)
		assert.Equal(t, 0, s.TotalFindings)
		assert.Equal(t, 0, s.RiskScore)
		assert.Equal(t, 100, s.SecurityScore)
		assert.False(t, s.HasCritical())
	})

	t.Run("severity weights accumulate", func(t *testing.T) {
		// critical=10, high=5, medium=2, low=1
		findings := []*finding.Finding{
			mustFinding(t, scanID, finding.SeverityCritical, 9.8),
			mustFinding(t, scanID, finding.SeverityHigh, 7.5),
			mustFinding(t, scanID, finding.SeverityMedium, 5.0),
			mustFinding(t, scanID, finding.SeverityLow, 0),
			mustFinding(t, scanID, finding.SeverityInfo, 0),
		}
		r := scan.NewModuleResult(scanID, "vuln_check", findings, time.Now(), time.Second)
		s := scan.NewSummary([]*scan.ModuleResult{r})

		assert.Equal(t, 5, s.TotalFindings)
		assert.Equal(t, 18, s.RiskScore)
		assert.Equal(t, 82, s.SecurityScore)
		assert.Equal(t, 1, s.Count(finding.SeverityCritical))
		assert.True(t, s.HasCritical())
	})

	t.Run("risk score caps at 100", func(t *testing.T) {
		findings := make([]*finding.Finding, 0, 15)
		for i := 0; i < 15; i++ {
			findings = append(findings, mustFinding(t, scanID, finding.SeverityCritical, 9.0))
		}
		r := scan.NewModuleResult(scanID, "vuln_check", findings, time.Now(), time.Second)
		s := scan.NewSummary([]*scan.ModuleResult{r})

		assert.Equal(t, 100, s.RiskScore)
		assert.Equal(t, 0, s.SecurityScore)
	})

	t.Run("cvss max and average", func(t *testing.T) {
		findings := []*finding.Finding{
			mustFinding(t, scanID, finding.SeverityHigh, 8.0),
			mustFinding(t, scanID, finding.SeverityHigh, 6.0),
			mustFinding(t, scanID, finding.SeverityLow, 0), // unscored, excluded from average
		}
		r := scan.NewModuleResult(scanID, "vuln_check", findings, time.Now(), time.Second)
		s := scan.NewSummary([]*scan.ModuleResult{r})

		assert.Equal(t, 8.0, s.MaxCVSS)
		assert.InDelta(t, 7.0, s.AvgCVSS, 0.001)
	})

	t.Run("module status counts", func(t *testing.T) {
		results := []*scan.ModuleResult{
			scan.NewModuleResult(scanID, "dns_enumeration", nil, time.Now(), time.Second),
			scan.NewModuleResult(scanID, "ssl_analysis", nil, time.Now(), time.Second),
			scan.NewFailedModuleResult(scanID, "port_scan", "timeout", time.Now(), time.Minute),
			scan.NewSkippedModuleResult(scanID, "recon", "not registered"),
		}
		s := scan.NewSummary(results)

		assert.Equal(t, 2, s.ModulesRun)
		assert.Equal(t, 1, s.ModulesFailed)
		assert.Equal(t, 1, s.ModulesSkipped)
	})
}
