package runner

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vulnscanio/engine/pkg/domain/finding"
	"github.com/vulnscanio/engine/pkg/domain/scan"
	"github.com/vulnscanio/engine/pkg/domain/target"
)

const (
	portDialTimeout = 2 * time.Second
	portScanWorkers = 16
)

// commonPorts is the probe set for the port scan stand-in.
var commonPorts = []int{21, 22, 23, 25, 80, 110, 143, 443, 445, 3306, 3389, 5432, 6379, 8080, 8443, 9200, 27017}

// riskyPorts are services that should not face the internet.
var riskyPorts = map[int]struct {
	service  string
	severity finding.Severity
}{
	21:    {"FTP", finding.SeverityMedium},
	23:    {"Telnet", finding.SeverityHigh},
	445:   {"SMB", finding.SeverityHigh},
	3306:  {"MySQL", finding.SeverityHigh},
	3389:  {"RDP", finding.SeverityHigh},
	5432:  {"PostgreSQL", finding.SeverityHigh},
	6379:  {"Redis", finding.SeverityHigh},
	9200:  {"Elasticsearch", finding.SeverityHigh},
	27017: {"MongoDB", finding.SeverityHigh},
}

// PortScan probes a fixed set of common TCP ports.
type PortScan struct {
	dialer *net.Dialer
}

// NewPortScan creates the port_scan runner.
func NewPortScan() *PortScan {
	return &PortScan{dialer: &net.Dialer{Timeout: portDialTimeout}}
}

// Name returns the module identifier.
func (r *PortScan) Name() string { return scan.ModulePortScan }

// Run dials each common port concurrently and reports exposed services.
func (r *PortScan) Run(ctx context.Context, tgt *target.Target) (*Report, error) {
	host, err := probeHost(tgt)
	if err != nil {
		return nil, err
	}

	var (
		mu   sync.Mutex
		open []int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(portScanWorkers)

	for _, port := range commonPorts {
		g.Go(func() error {
			addr := net.JoinHostPort(host, strconv.Itoa(port))
			conn, err := r.dialer.DialContext(gctx, "tcp", addr)
			if err != nil {
				return nil // closed or filtered
			}
			_ = conn.Close()

			mu.Lock()
			open = append(open, port)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("port scan: %w", err)
	}
	sort.Ints(open)

	report := newReport()
	report.Raw["open_ports"] = open

	for _, port := range open {
		risky, ok := riskyPorts[port]
		if !ok {
			continue
		}
		f := newFinding(r.Name(), risky.service+" exposed on port "+strconv.Itoa(port), risky.severity)
		f.Category = "exposure"
		f.AffectedComponent = net.JoinHostPort(host, strconv.Itoa(port))
		f.Evidence = fmt.Sprintf("TCP connect to port %d succeeded", port)
		f.Remediation = "Bind the service to an internal interface or firewall it from the internet."
		report.Findings = append(report.Findings, f)
	}

	return report, nil
}
