// Package runner provides the scan module runners: named capabilities the
// orchestrator executes in order against a target. Built-in runners are thin
// network probes; heavier scanners can be plugged in behind the same
// interface without touching the orchestrator.
package runner

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/vulnscanio/engine/pkg/domain/finding"
	"github.com/vulnscanio/engine/pkg/domain/shared"
	"github.com/vulnscanio/engine/pkg/domain/target"
)

// Runner executes one scan module against a target.
type Runner interface {
	// Name returns the module identifier used in profiles and results.
	Name() string

	// Run probes the target and reports what it observed. A returned error
	// fails this module only, never the scan.
	Run(ctx context.Context, tgt *target.Target) (*Report, error)
}

// Report is the outcome of one module run. Findings carry no scan
// attribution; the orchestrator stamps scan and org IDs before persisting.
type Report struct {
	Findings []*finding.Finding

	// Raw holds module-specific observations that are not findings,
	// persisted with the module result for later inspection.
	Raw map[string]any

	// Errors lists non-fatal problems hit during the run, e.g. one probe
	// path timing out while others succeeded.
	Errors []string
}

// newReport returns an empty report with Raw initialized.
func newReport() *Report {
	return &Report{Raw: make(map[string]any)}
}

// newFinding builds an unattributed finding for a module run.
func newFinding(module, title string, sev finding.Severity) *finding.Finding {
	return &finding.Finding{
		ID:        shared.NewID(),
		Module:    module,
		Severity:  sev,
		Title:     title,
		Metadata:  make(map[string]any),
		CreatedAt: time.Now(),
	}
}

// probeHost extracts a bare hostname or IP from the target.
func probeHost(tgt *target.Target) (string, error) {
	switch tgt.Kind() {
	case target.TypeDomain, target.TypeIP:
		return tgt.Value(), nil
	case target.TypeURL:
		u, err := url.Parse(tgt.Value())
		if err != nil {
			return "", fmt.Errorf("parse target url: %w", err)
		}
		return u.Hostname(), nil
	case target.TypeHostPort:
		host, _, err := net.SplitHostPort(tgt.Value())
		if err != nil {
			return "", fmt.Errorf("split host port: %w", err)
		}
		return host, nil
	default:
		return "", fmt.Errorf("target kind %s has no single host", tgt.Kind())
	}
}

// probeAddr builds a dialable host:port from the target, falling back to
// defaultPort when the target does not carry one.
func probeAddr(tgt *target.Target, defaultPort string) (string, error) {
	switch tgt.Kind() {
	case target.TypeHostPort:
		return tgt.Value(), nil
	case target.TypeURL:
		u, err := url.Parse(tgt.Value())
		if err != nil {
			return "", fmt.Errorf("parse target url: %w", err)
		}
		port := u.Port()
		if port == "" {
			port = defaultPort
			if u.Scheme == "http" {
				port = "80"
			}
		}
		return net.JoinHostPort(u.Hostname(), port), nil
	case target.TypeDomain, target.TypeIP:
		return net.JoinHostPort(tgt.Value(), defaultPort), nil
	default:
		return "", fmt.Errorf("target kind %s is not dialable", tgt.Kind())
	}
}

// probeBaseURL builds the HTTP base URL for the target. URL targets are used
// as given; everything else defaults to https.
func probeBaseURL(tgt *target.Target) (string, error) {
	switch tgt.Kind() {
	case target.TypeURL:
		return strings.TrimRight(tgt.Value(), "/"), nil
	case target.TypeDomain, target.TypeIP, target.TypeHostPort:
		return "https://" + tgt.Value(), nil
	default:
		return "", fmt.Errorf("target kind %s has no base url", tgt.Kind())
	}
}

// domainFor returns the DNS name to query for the target, or an error for
// address-only targets.
func domainFor(tgt *target.Target) (string, error) {
	host, err := probeHost(tgt)
	if err != nil {
		return "", err
	}
	if net.ParseIP(host) != nil {
		return "", fmt.Errorf("target %s is an address, not a dns name", host)
	}
	return host, nil
}
