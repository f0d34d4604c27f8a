// Package finding provides the finding entity produced by scan modules.
package finding

import (
	"strings"
	"time"

	"github.com/vulnscanio/engine/pkg/domain/shared"
)

// Severity represents how serious a finding is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// AllSeverities returns all valid severities, most severe first.
func AllSeverities() []Severity {
	return []Severity{
		SeverityCritical,
		SeverityHigh,
		SeverityMedium,
		SeverityLow,
		SeverityInfo,
	}
}

// ParseSeverity parses a string into a Severity.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if !sev.IsValid() {
		return "", shared.NewDomainError("VALIDATION", "invalid severity: "+s, shared.ErrValidation)
	}
	return sev, nil
}

// IsValid checks if the severity is a known value.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return true
	}
	return false
}

// Weight returns the risk weight used for score aggregation.
func (s Severity) Weight() int {
	switch s {
	case SeverityCritical:
		return 10
	case SeverityHigh:
		return 5
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// String returns the string representation of the severity.
func (s Severity) String() string {
	return string(s)
}

// Finding represents a single issue discovered by a scan module.
type Finding struct {
	ID     shared.ID
	ScanID shared.ID
	OrgID  shared.ID

	// Module that produced the finding
	Module string

	Severity    Severity
	Category    string
	Title       string
	Description string

	// Optional identifiers
	CVEID     string
	CVSSScore float64

	// Context
	AffectedComponent string
	Evidence          string
	Remediation       string
	References        []string
	Metadata          map[string]any

	CreatedAt time.Time
}

// NewFinding creates a finding attributed to a module run.
func NewFinding(scanID, orgID shared.ID, module, title string, severity Severity) (*Finding, error) {
	if module == "" {
		return nil, shared.NewDomainError("VALIDATION", "module is required", shared.ErrValidation)
	}
	if title == "" {
		return nil, shared.NewDomainError("VALIDATION", "title is required", shared.ErrValidation)
	}
	if !severity.IsValid() {
		return nil, shared.NewDomainError("VALIDATION", "invalid severity: "+severity.String(), shared.ErrValidation)
	}

	return &Finding{
		ID:        shared.NewID(),
		ScanID:    scanID,
		OrgID:     orgID,
		Module:    module,
		Severity:  severity,
		Title:     title,
		Metadata:  make(map[string]any),
		CreatedAt: time.Now(),
	}, nil
}

// HasCVE returns true if the finding carries a CVE identifier.
func (f *Finding) HasCVE() bool {
	return f.CVEID != ""
}
