package runner

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vulnscanio/engine/pkg/domain/finding"
	"github.com/vulnscanio/engine/pkg/domain/scan"
	"github.com/vulnscanio/engine/pkg/domain/target"
)

const (
	probeTimeout   = 10 * time.Second
	probeUserAgent = "vulnscan-engine/1.0"
	maxProbeBody   = 1 << 20 // cap response reads at 1MB
	maxRedirects   = 5
)

// adminPaths are well-known management interface locations.
var adminPaths = []string{"/admin", "/login", "/wp-admin", "/administrator", "/phpmyadmin", "/manager/html"}

// wafSignatures maps response markers to the firewall product they identify.
var wafSignatures = []struct {
	header string
	match  string
	name   string
}{
	{"Server", "cloudflare", "Cloudflare"},
	{"CF-Ray", "", "Cloudflare"},
	{"X-Amz-Cf-Id", "", "AWS CloudFront"},
	{"X-Akamai-Transformed", "", "Akamai"},
	{"X-Iinfo", "", "Imperva"},
	{"X-Sucuri-Id", "", "Sucuri"},
	{"Server", "bigip", "F5 BIG-IP"},
}

// httpProbe is the shared HTTP client for probe runners.
type httpProbe struct {
	client *http.Client
}

func newHTTPProbe() *httpProbe {
	return &httpProbe{
		client: &http.Client{
			Timeout: probeTimeout,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

// get fetches a URL and returns the response with a size-capped body. The
// response body is already closed when get returns.
func (p *httpProbe) get(ctx context.Context, rawURL string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", probeUserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxProbeBody))
	return resp, body, nil
}

// TechDetection identifies server software from response headers.
type TechDetection struct {
	probe *httpProbe
}

// NewTechDetection creates the tech_detection runner.
func NewTechDetection() *TechDetection {
	return &TechDetection{probe: newHTTPProbe()}
}

// Name returns the module identifier.
func (r *TechDetection) Name() string { return scan.ModuleTechDetection }

// Run fetches the landing page and records disclosed technology headers.
func (r *TechDetection) Run(ctx context.Context, tgt *target.Target) (*Report, error) {
	base, err := probeBaseURL(tgt)
	if err != nil {
		return nil, err
	}

	resp, _, err := r.probe.get(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", base, err)
	}

	report := newReport()
	techs := map[string]string{}
	for _, h := range []string{"Server", "X-Powered-By", "X-Generator", "X-AspNet-Version", "X-Runtime"} {
		if v := resp.Header.Get(h); v != "" {
			techs[h] = v
		}
	}
	report.Raw["headers"] = techs
	report.Raw["status"] = resp.StatusCode

	for header, value := range techs {
		if strings.Contains(value, "/") || header == "X-AspNet-Version" {
			f := newFinding(r.Name(), "Server discloses software version", finding.SeverityLow)
			f.Category = "information_disclosure"
			f.AffectedComponent = base
			f.Evidence = header + ": " + value
			f.Remediation = "Strip version details from response headers."
			report.Findings = append(report.Findings, f)
			break
		}
	}

	return report, nil
}

// WebCrawl fetches the crawl entry points and reports what they reveal.
type WebCrawl struct {
	probe *httpProbe
}

// NewWebCrawl creates the web_crawl runner.
func NewWebCrawl() *WebCrawl {
	return &WebCrawl{probe: newHTTPProbe()}
}

// Name returns the module identifier.
func (r *WebCrawl) Name() string { return scan.ModuleWebCrawl }

// Run fetches the landing page, robots.txt and sitemap.
func (r *WebCrawl) Run(ctx context.Context, tgt *target.Target) (*Report, error) {
	base, err := probeBaseURL(tgt)
	if err != nil {
		return nil, err
	}

	report := newReport()

	resp, _, err := r.probe.get(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", base, err)
	}
	report.Raw["status"] = resp.StatusCode

	if resp, body, err := r.probe.get(ctx, base+"/robots.txt"); err == nil && resp.StatusCode == http.StatusOK {
		disallowed := []string{}
		for _, line := range strings.Split(string(body), "\n") {
			line = strings.TrimSpace(line)
			if rest, ok := strings.CutPrefix(line, "Disallow:"); ok {
				if path := strings.TrimSpace(rest); path != "" && path != "/" {
					disallowed = append(disallowed, path)
				}
			}
		}
		report.Raw["robots_disallowed"] = disallowed

		if len(disallowed) > 0 {
			f := newFinding(r.Name(), "robots.txt reveals hidden paths", finding.SeverityInfo)
			f.Category = "information_disclosure"
			f.AffectedComponent = base + "/robots.txt"
			f.Evidence = strings.Join(disallowed[:min(len(disallowed), 5)], ", ")
			f.Description = fmt.Sprintf("robots.txt disallows %d paths, which maps out areas the operator wants unindexed.", len(disallowed))
			report.Findings = append(report.Findings, f)
		}
	}

	if resp, _, err := r.probe.get(ctx, base+"/sitemap.xml"); err == nil && resp.StatusCode == http.StatusOK {
		report.Raw["sitemap"] = true
	}

	return report, nil
}

// AdminPanelDetection probes well-known management interface paths.
type AdminPanelDetection struct {
	probe *httpProbe
}

// NewAdminPanelDetection creates the admin_panel_detection runner.
func NewAdminPanelDetection() *AdminPanelDetection {
	return &AdminPanelDetection{probe: newHTTPProbe()}
}

// Name returns the module identifier.
func (r *AdminPanelDetection) Name() string { return scan.ModuleAdminPanelDetection }

// Run checks each known admin path and grades exposure by response status.
func (r *AdminPanelDetection) Run(ctx context.Context, tgt *target.Target) (*Report, error) {
	base, err := probeBaseURL(tgt)
	if err != nil {
		return nil, err
	}

	report := newReport()
	found := []string{}

	for _, path := range adminPaths {
		resp, _, err := r.probe.get(ctx, base+path)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("probe %s: %v", path, err))
			continue
		}

		switch resp.StatusCode {
		case http.StatusOK:
			found = append(found, path)
			f := newFinding(r.Name(), "Management interface reachable at "+path, finding.SeverityMedium)
			f.Category = "exposure"
			f.AffectedComponent = base + path
			f.Evidence = fmt.Sprintf("GET %s returned 200", path)
			f.Remediation = "Restrict the interface to trusted networks or require authentication before serving content."
			report.Findings = append(report.Findings, f)
		case http.StatusUnauthorized, http.StatusForbidden:
			found = append(found, path)
			f := newFinding(r.Name(), "Management interface present at "+path, finding.SeverityInfo)
			f.Category = "exposure"
			f.AffectedComponent = base + path
			f.Evidence = fmt.Sprintf("GET %s returned %d", path, resp.StatusCode)
			report.Findings = append(report.Findings, f)
		}
	}

	report.Raw["paths_found"] = found
	return report, nil
}

// WAFDetection looks for web application firewall signatures in responses.
type WAFDetection struct {
	probe *httpProbe
}

// NewWAFDetection creates the waf_detection runner.
func NewWAFDetection() *WAFDetection {
	return &WAFDetection{probe: newHTTPProbe()}
}

// Name returns the module identifier.
func (r *WAFDetection) Name() string { return scan.ModuleWAFDetection }

// Run inspects response headers for known firewall products.
func (r *WAFDetection) Run(ctx context.Context, tgt *target.Target) (*Report, error) {
	base, err := probeBaseURL(tgt)
	if err != nil {
		return nil, err
	}

	resp, _, err := r.probe.get(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", base, err)
	}

	report := newReport()
	detected := ""
	for _, sig := range wafSignatures {
		v := resp.Header.Get(sig.header)
		if v == "" {
			continue
		}
		if sig.match == "" || strings.Contains(strings.ToLower(v), sig.match) {
			detected = sig.name
			break
		}
	}

	if detected != "" {
		report.Raw["waf"] = detected
		f := newFinding(r.Name(), "Web application firewall detected: "+detected, finding.SeverityInfo)
		f.Category = "waf"
		f.AffectedComponent = base
		report.Findings = append(report.Findings, f)
	} else {
		report.Raw["waf"] = ""
		f := newFinding(r.Name(), "No web application firewall signatures observed", finding.SeverityLow)
		f.Category = "waf"
		f.AffectedComponent = base
		f.Description = "Responses carry none of the known firewall markers. The application may be directly exposed."
		report.Findings = append(report.Findings, f)
	}

	return report, nil
}
