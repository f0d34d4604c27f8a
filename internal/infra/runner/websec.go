package runner

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/vulnscanio/engine/pkg/domain/finding"
	"github.com/vulnscanio/engine/pkg/domain/scan"
	"github.com/vulnscanio/engine/pkg/domain/target"
)

// apiPaths are well-known API entry points and schema locations.
var apiPaths = []string{"/api", "/api/v1", "/graphql", "/swagger.json", "/openapi.json", "/.well-known/openapi.json"}

// VulnCheck audits baseline web hardening: security headers and cookie flags.
type VulnCheck struct {
	probe *httpProbe
}

// NewVulnCheck creates the vuln_check runner.
func NewVulnCheck() *VulnCheck {
	return &VulnCheck{probe: newHTTPProbe()}
}

// Name returns the module identifier.
func (r *VulnCheck) Name() string { return scan.ModuleVulnCheck }

// Run fetches the landing page and flags missing hardening.
func (r *VulnCheck) Run(ctx context.Context, tgt *target.Target) (*Report, error) {
	base, err := probeBaseURL(tgt)
	if err != nil {
		return nil, err
	}

	resp, _, err := r.probe.get(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", base, err)
	}

	report := newReport()
	missing := []string{}

	checks := []struct {
		header   string
		severity finding.Severity
		title    string
	}{
		{"Strict-Transport-Security", finding.SeverityMedium, "HSTS is not enabled"},
		{"Content-Security-Policy", finding.SeverityLow, "No Content-Security-Policy header"},
		{"X-Content-Type-Options", finding.SeverityLow, "MIME sniffing is not disabled"},
		{"X-Frame-Options", finding.SeverityLow, "Framing is not restricted"},
	}
	for _, check := range checks {
		if resp.Header.Get(check.header) != "" {
			continue
		}
		if check.header == "Strict-Transport-Security" && !strings.HasPrefix(base, "https://") {
			continue
		}
		missing = append(missing, check.header)

		f := newFinding(r.Name(), check.title, check.severity)
		f.Category = "hardening"
		f.AffectedComponent = base
		f.Evidence = check.header + " header absent"
		f.Remediation = "Set the " + check.header + " header."
		report.Findings = append(report.Findings, f)
	}
	report.Raw["missing_headers"] = missing

	for _, cookie := range resp.Cookies() {
		if !cookie.Secure || !cookie.HttpOnly {
			f := newFinding(r.Name(), "Cookie set without Secure and HttpOnly", finding.SeverityMedium)
			f.Category = "hardening"
			f.AffectedComponent = base
			f.Evidence = "cookie " + cookie.Name
			f.Remediation = "Mark session cookies Secure and HttpOnly."
			report.Findings = append(report.Findings, f)
			break
		}
	}

	return report, nil
}

// APIDiscovery probes well-known API entry points and schema documents.
type APIDiscovery struct {
	probe *httpProbe
}

// NewAPIDiscovery creates the api_discovery runner.
func NewAPIDiscovery() *APIDiscovery {
	return &APIDiscovery{probe: newHTTPProbe()}
}

// Name returns the module identifier.
func (r *APIDiscovery) Name() string { return scan.ModuleAPIDiscovery }

// Run checks each known API path and reports reachable endpoints.
func (r *APIDiscovery) Run(ctx context.Context, tgt *target.Target) (*Report, error) {
	base, err := probeBaseURL(tgt)
	if err != nil {
		return nil, err
	}

	report := newReport()
	found := []string{}

	for _, path := range apiPaths {
		resp, _, err := r.probe.get(ctx, base+path)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("probe %s: %v", path, err))
			continue
		}
		if resp.StatusCode != http.StatusOK {
			continue
		}
		found = append(found, path)

		if strings.HasSuffix(path, ".json") {
			f := newFinding(r.Name(), "API schema publicly exposed at "+path, finding.SeverityLow)
			f.Category = "api"
			f.AffectedComponent = base + path
			f.Description = "The machine-readable API description is world-readable, handing attackers a complete endpoint map."
			f.Remediation = "Serve schema documents only to authenticated consumers."
			report.Findings = append(report.Findings, f)
		} else {
			f := newFinding(r.Name(), "API endpoint discovered at "+path, finding.SeverityInfo)
			f.Category = "api"
			f.AffectedComponent = base + path
			report.Findings = append(report.Findings, f)
		}
	}

	report.Raw["endpoints"] = found
	return report, nil
}

// APISecurity checks discovered API entry points for permissive CORS and
// unauthenticated access.
type APISecurity struct {
	probe *httpProbe
}

// NewAPISecurity creates the api_security runner.
func NewAPISecurity() *APISecurity {
	return &APISecurity{probe: newHTTPProbe()}
}

// Name returns the module identifier.
func (r *APISecurity) Name() string { return scan.ModuleAPISecurity }

// Run re-probes API entry points with an untrusted origin.
func (r *APISecurity) Run(ctx context.Context, tgt *target.Target) (*Report, error) {
	base, err := probeBaseURL(tgt)
	if err != nil {
		return nil, err
	}

	report := newReport()
	probed := 0

	for _, path := range []string{"/api", "/api/v1", "/graphql"} {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
		if err != nil {
			continue
		}
		req.Header.Set("User-Agent", probeUserAgent)
		req.Header.Set("Origin", "https://evil.example")

		resp, err := r.probe.client.Do(req)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("probe %s: %v", path, err))
			continue
		}
		_ = resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			continue
		}
		probed++

		if allow := resp.Header.Get("Access-Control-Allow-Origin"); allow == "*" || allow == "https://evil.example" {
			f := newFinding(r.Name(), "API grants cross-origin access to any origin", finding.SeverityMedium)
			f.Category = "api"
			f.AffectedComponent = base + path
			f.Evidence = "Access-Control-Allow-Origin: " + allow
			f.Remediation = "Restrict Access-Control-Allow-Origin to trusted origins."
			report.Findings = append(report.Findings, f)
		}

		if resp.StatusCode == http.StatusOK {
			f := newFinding(r.Name(), "API responds without authentication at "+path, finding.SeverityMedium)
			f.Category = "api"
			f.AffectedComponent = base + path
			f.Evidence = fmt.Sprintf("GET %s returned 200 with no credentials", path)
			f.Remediation = "Require authentication on API entry points."
			report.Findings = append(report.Findings, f)
		}
	}

	report.Raw["endpoints_probed"] = probed
	return report, nil
}

// CVEMatch records the server banner for later vulnerability correlation.
// Matching against a CVE feed happens outside the engine; the runner only
// captures the raw material.
type CVEMatch struct {
	probe *httpProbe
}

// NewCVEMatch creates the cve_match runner.
func NewCVEMatch() *CVEMatch {
	return &CVEMatch{probe: newHTTPProbe()}
}

// Name returns the module identifier.
func (r *CVEMatch) Name() string { return scan.ModuleCVEMatch }

// Run captures product and version tokens from the server banner.
func (r *CVEMatch) Run(ctx context.Context, tgt *target.Target) (*Report, error) {
	base, err := probeBaseURL(tgt)
	if err != nil {
		return nil, err
	}

	resp, _, err := r.probe.get(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", base, err)
	}

	report := newReport()
	banners := []string{}
	for _, h := range []string{"Server", "X-Powered-By"} {
		if v := resp.Header.Get(h); v != "" {
			banners = append(banners, v)
		}
	}
	report.Raw["banners"] = banners

	products := []map[string]string{}
	for _, banner := range banners {
		for _, token := range strings.Fields(banner) {
			name, version, ok := strings.Cut(token, "/")
			if !ok || name == "" || version == "" {
				continue
			}
			products = append(products, map[string]string{"product": strings.ToLower(name), "version": version})
		}
	}
	report.Raw["products"] = products

	return report, nil
}
