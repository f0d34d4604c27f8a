package runner

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/vulnscanio/engine/pkg/domain/finding"
	"github.com/vulnscanio/engine/pkg/domain/scan"
	"github.com/vulnscanio/engine/pkg/domain/target"
)

const dnsLookupTimeout = 5 * time.Second

// takeoverProbes are common subdomain labels checked for dangling CNAMEs.
var takeoverProbes = []string{"www", "api", "app", "dev", "staging", "mail", "cdn"}

// DNSEnumeration resolves the target's core DNS records and flags missing
// mail-security policies.
type DNSEnumeration struct {
	resolver *net.Resolver
}

// NewDNSEnumeration creates the dns_enumeration runner.
func NewDNSEnumeration() *DNSEnumeration {
	return &DNSEnumeration{resolver: net.DefaultResolver}
}

// Name returns the module identifier.
func (r *DNSEnumeration) Name() string { return scan.ModuleDNSEnumeration }

// Run resolves A/AAAA, NS, MX and TXT records.
func (r *DNSEnumeration) Run(ctx context.Context, tgt *target.Target) (*Report, error) {
	domain, err := domainFor(tgt)
	if err != nil {
		return nil, err
	}

	report := newReport()

	addrs, err := r.lookup(ctx, func(ctx context.Context) ([]string, error) {
		return r.resolver.LookupHost(ctx, domain)
	})
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", domain, err)
	}
	report.Raw["addresses"] = addrs

	if ns, err := r.lookup(ctx, func(ctx context.Context) ([]string, error) {
		records, err := r.resolver.LookupNS(ctx, domain)
		if err != nil {
			return nil, err
		}
		hosts := make([]string, 0, len(records))
		for _, rec := range records {
			hosts = append(hosts, strings.TrimSuffix(rec.Host, "."))
		}
		return hosts, nil
	}); err == nil {
		report.Raw["nameservers"] = ns
	} else {
		report.Errors = append(report.Errors, fmt.Sprintf("ns lookup: %v", err))
	}

	if mx, err := r.lookup(ctx, func(ctx context.Context) ([]string, error) {
		records, err := r.resolver.LookupMX(ctx, domain)
		if err != nil {
			return nil, err
		}
		hosts := make([]string, 0, len(records))
		for _, rec := range records {
			hosts = append(hosts, strings.TrimSuffix(rec.Host, "."))
		}
		return hosts, nil
	}); err == nil && len(mx) > 0 {
		report.Raw["mx"] = mx
		r.checkMailPolicies(ctx, domain, report)
	}

	return report, nil
}

// checkMailPolicies flags domains that accept mail without SPF or DMARC.
func (r *DNSEnumeration) checkMailPolicies(ctx context.Context, domain string, report *Report) {
	txt, err := r.lookup(ctx, func(ctx context.Context) ([]string, error) {
		return r.resolver.LookupTXT(ctx, domain)
	})
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("txt lookup: %v", err))
		return
	}

	hasSPF := false
	for _, rec := range txt {
		if strings.HasPrefix(rec, "v=spf1") {
			hasSPF = true
			break
		}
	}
	if !hasSPF {
		f := newFinding(r.Name(), "Domain accepts mail without an SPF policy", finding.SeverityLow)
		f.Category = "dns"
		f.AffectedComponent = domain
		f.Description = "MX records exist but no TXT record declares an SPF policy, making the domain easier to spoof."
		f.Remediation = "Publish a v=spf1 TXT record listing authorized senders."
		report.Findings = append(report.Findings, f)
	}

	dmarc, err := r.lookup(ctx, func(ctx context.Context) ([]string, error) {
		return r.resolver.LookupTXT(ctx, "_dmarc."+domain)
	})
	if err != nil || len(dmarc) == 0 {
		f := newFinding(r.Name(), "Domain accepts mail without a DMARC policy", finding.SeverityLow)
		f.Category = "dns"
		f.AffectedComponent = domain
		f.Remediation = "Publish a _dmarc TXT record with at least p=none to start monitoring."
		report.Findings = append(report.Findings, f)
	}
}

func (r *DNSEnumeration) lookup(ctx context.Context, fn func(context.Context) ([]string, error)) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, dnsLookupTimeout)
	defer cancel()
	return fn(ctx)
}

// Recon maps the target's visible infrastructure: resolved addresses and
// their reverse names.
type Recon struct {
	resolver *net.Resolver
}

// NewRecon creates the recon runner.
func NewRecon() *Recon {
	return &Recon{resolver: net.DefaultResolver}
}

// Name returns the module identifier.
func (r *Recon) Name() string { return scan.ModuleRecon }

// Run records addresses and PTR names for the target.
func (r *Recon) Run(ctx context.Context, tgt *target.Target) (*Report, error) {
	host, err := probeHost(tgt)
	if err != nil {
		return nil, err
	}

	report := newReport()

	var addrs []string
	if ip := net.ParseIP(host); ip != nil {
		addrs = []string{host}
	} else {
		lctx, cancel := context.WithTimeout(ctx, dnsLookupTimeout)
		addrs, err = r.resolver.LookupHost(lctx, host)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", host, err)
		}
	}
	report.Raw["addresses"] = addrs

	reverse := make(map[string][]string, len(addrs))
	for _, addr := range addrs {
		lctx, cancel := context.WithTimeout(ctx, dnsLookupTimeout)
		names, err := r.resolver.LookupAddr(lctx, addr)
		cancel()
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("reverse lookup %s: %v", addr, err))
			continue
		}
		for i, name := range names {
			names[i] = strings.TrimSuffix(name, ".")
		}
		reverse[addr] = names
	}
	report.Raw["reverse_names"] = reverse

	return report, nil
}

// SubdomainTakeover checks common subdomains for CNAMEs pointing at names
// that no longer resolve.
type SubdomainTakeover struct {
	resolver *net.Resolver
}

// NewSubdomainTakeover creates the subdomain_takeover runner.
func NewSubdomainTakeover() *SubdomainTakeover {
	return &SubdomainTakeover{resolver: net.DefaultResolver}
}

// Name returns the module identifier.
func (r *SubdomainTakeover) Name() string { return scan.ModuleSubdomainTakeover }

// Run probes well-known subdomain labels for dangling CNAME records.
func (r *SubdomainTakeover) Run(ctx context.Context, tgt *target.Target) (*Report, error) {
	domain, err := domainFor(tgt)
	if err != nil {
		return nil, err
	}

	report := newReport()
	checked := 0

	for _, label := range takeoverProbes {
		sub := label + "." + domain

		lctx, cancel := context.WithTimeout(ctx, dnsLookupTimeout)
		cname, err := r.resolver.LookupCNAME(lctx, sub)
		cancel()
		if err != nil {
			continue // label not delegated, nothing to check
		}
		cname = strings.TrimSuffix(cname, ".")
		if cname == "" || cname == sub {
			continue
		}
		checked++

		lctx, cancel = context.WithTimeout(ctx, dnsLookupTimeout)
		_, err = r.resolver.LookupHost(lctx, cname)
		cancel()
		if err == nil {
			continue
		}

		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			f := newFinding(r.Name(), "Dangling CNAME on "+sub, finding.SeverityHigh)
			f.Category = "dns"
			f.AffectedComponent = sub
			f.Evidence = fmt.Sprintf("%s CNAME %s, which does not resolve", sub, cname)
			f.Description = "The subdomain aliases a name that no longer exists. If the name can be re-registered on the hosting provider, the subdomain can be taken over."
			f.Remediation = "Remove the CNAME record or reclaim the aliased resource."
			report.Findings = append(report.Findings, f)
		}
	}

	report.Raw["cnames_checked"] = checked
	return report, nil
}
