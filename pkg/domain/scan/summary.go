package scan

import (
	"github.com/vulnscanio/engine/pkg/domain/finding"
)

// Summary aggregates the findings of a completed scan.
type Summary struct {
	TotalFindings  int                       `json:"total_findings"`
	BySeverity     map[finding.Severity]int  `json:"by_severity"`
	ModulesRun     int                       `json:"modules_run"`
	ModulesFailed  int                       `json:"modules_failed"`
	ModulesSkipped int                       `json:"modules_skipped"`
	RiskScore      int                       `json:"risk_score"`
	SecurityScore  int                       `json:"security_score"`
	MaxCVSS        float64                   `json:"max_cvss"`
	AvgCVSS        float64                   `json:"avg_cvss"`
}

// NewSummary computes the summary from module results. Risk score is the
// severity-weighted finding count capped at 100; security score is its
// complement.
func NewSummary(results []*ModuleResult) *Summary {
	s := &Summary{
		BySeverity: make(map[finding.Severity]int, len(finding.AllSeverities())),
	}
	for _, sev := range finding.AllSeverities() {
		s.BySeverity[sev] = 0
	}

	risk := 0
	cvssSum := 0.0
	cvssCount := 0
	for _, r := range results {
		switch r.Status {
		case ResultFailed:
			s.ModulesFailed++
		case ResultSkipped:
			s.ModulesSkipped++
		default:
			s.ModulesRun++
		}
		for _, f := range r.Findings {
			s.TotalFindings++
			s.BySeverity[f.Severity]++
			risk += f.Severity.Weight()
			if f.CVSSScore > 0 {
				cvssSum += f.CVSSScore
				cvssCount++
				if f.CVSSScore > s.MaxCVSS {
					s.MaxCVSS = f.CVSSScore
				}
			}
		}
	}

	if risk > 100 {
		risk = 100
	}
	s.RiskScore = risk
	s.SecurityScore = 100 - risk
	if cvssCount > 0 {
		s.AvgCVSS = cvssSum / float64(cvssCount)
	}
	return s
}

// Count returns the number of findings at the given severity.
func (s *Summary) Count(sev finding.Severity) int {
	return s.BySeverity[sev]
}

// HasCritical returns true if any critical finding was recorded.
func (s *Summary) HasCritical() bool {
	return s.Count(finding.SeverityCritical) > 0
}
