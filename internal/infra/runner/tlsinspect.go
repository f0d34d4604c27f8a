package runner

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/vulnscanio/engine/pkg/domain/finding"
	"github.com/vulnscanio/engine/pkg/domain/scan"
	"github.com/vulnscanio/engine/pkg/domain/target"
)

const (
	tlsDialTimeout    = 10 * time.Second
	certExpiryWarning = 30 * 24 * time.Hour
)

// SSLAnalysis inspects the target's TLS endpoint: certificate validity,
// expiry and negotiated protocol version.
type SSLAnalysis struct{}

// NewSSLAnalysis creates the ssl_analysis runner.
func NewSSLAnalysis() *SSLAnalysis {
	return &SSLAnalysis{}
}

// Name returns the module identifier.
func (r *SSLAnalysis) Name() string { return scan.ModuleSSLAnalysis }

// Run performs a TLS handshake and grades what the server presented.
// Verification is disabled on the handshake itself so an invalid certificate
// can still be inspected and reported.
func (r *SSLAnalysis) Run(ctx context.Context, tgt *target.Target) (*Report, error) {
	addr, err := probeAddr(tgt, "443")
	if err != nil {
		return nil, err
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("split addr: %w", err)
	}

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: tlsDialTimeout},
		Config: &tls.Config{
			ServerName:         host,
			InsecureSkipVerify: true, //nolint:gosec // inspection, not trust
			MinVersion:         tls.VersionTLS10,
		},
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tls dial %s: %w", addr, err)
	}
	defer conn.Close()

	state := conn.(*tls.Conn).ConnectionState()
	report := newReport()
	report.Raw["version"] = tls.VersionName(state.Version)
	report.Raw["cipher_suite"] = tls.CipherSuiteName(state.CipherSuite)

	if state.Version < tls.VersionTLS12 {
		f := newFinding(r.Name(), "Server negotiates "+tls.VersionName(state.Version), finding.SeverityHigh)
		f.Category = "tls"
		f.AffectedComponent = addr
		f.Remediation = "Disable TLS versions below 1.2."
		report.Findings = append(report.Findings, f)
	}

	if len(state.PeerCertificates) == 0 {
		report.Errors = append(report.Errors, "server presented no certificate")
		return report, nil
	}

	cert := state.PeerCertificates[0]
	report.Raw["issuer"] = cert.Issuer.String()
	report.Raw["subject"] = cert.Subject.String()
	report.Raw["not_after"] = cert.NotAfter.UTC().Format(time.RFC3339)
	report.Raw["dns_names"] = cert.DNSNames

	now := time.Now()
	switch {
	case now.After(cert.NotAfter):
		f := newFinding(r.Name(), "TLS certificate has expired", finding.SeverityHigh)
		f.Category = "tls"
		f.AffectedComponent = addr
		f.Evidence = "expired " + cert.NotAfter.UTC().Format(time.RFC3339)
		f.Remediation = "Renew the certificate."
		report.Findings = append(report.Findings, f)
	case now.Add(certExpiryWarning).After(cert.NotAfter):
		f := newFinding(r.Name(), "TLS certificate expires soon", finding.SeverityMedium)
		f.Category = "tls"
		f.AffectedComponent = addr
		f.Evidence = "expires " + cert.NotAfter.UTC().Format(time.RFC3339)
		f.Remediation = "Renew the certificate before it lapses."
		report.Findings = append(report.Findings, f)
	}

	if net.ParseIP(host) == nil {
		if err := cert.VerifyHostname(host); err != nil {
			f := newFinding(r.Name(), "TLS certificate does not match hostname", finding.SeverityHigh)
			f.Category = "tls"
			f.AffectedComponent = addr
			f.Evidence = err.Error()
			report.Findings = append(report.Findings, f)
		}
	}

	if len(state.PeerCertificates) == 1 && cert.Issuer.String() == cert.Subject.String() {
		f := newFinding(r.Name(), "Server presents a self-signed certificate", finding.SeverityMedium)
		f.Category = "tls"
		f.AffectedComponent = addr
		f.Remediation = "Serve a certificate issued by a trusted authority."
		report.Findings = append(report.Findings, f)
	}

	return report, nil
}
