package app

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/vulnscanio/engine/internal/config"
	"github.com/vulnscanio/engine/pkg/domain/finding"
	"github.com/vulnscanio/engine/pkg/domain/scan"
	"github.com/vulnscanio/engine/pkg/domain/shared"
	"github.com/vulnscanio/engine/pkg/domain/target"
	"github.com/vulnscanio/engine/pkg/logger"
	"github.com/vulnscanio/engine/pkg/pagination"
	"github.com/vulnscanio/engine/pkg/validator"
)

// discoveredTag marks targets added by discovery rather than an operator.
const discoveredTag = "discovered"

// DiscoveryService grows the target inventory from scan output. After a
// scan completes, the hosts its findings touched are validated and added
// as new targets, so the next scheduled run covers them too.
//
// Scope is bounded to the seed target's registrable domain: a finding that
// references a third-party host (CDN, tracker, link target) must not pull
// that host into the organization's attack surface.
type DiscoveryService struct {
	targetRepo  target.Repository
	scanRepo    scan.Repository
	findingRepo finding.Repository
	validator   *validator.TargetValidator
	logger      *logger.Logger
}

// NewDiscoveryService creates a new DiscoveryService.
func NewDiscoveryService(
	targetRepo target.Repository,
	scanRepo scan.Repository,
	findingRepo finding.Repository,
	cfg config.ScanConfig,
	log *logger.Logger,
) *DiscoveryService {
	return &DiscoveryService{
		targetRepo:  targetRepo,
		scanRepo:    scanRepo,
		findingRepo: findingRepo,
		validator: validator.NewTargetValidator(
			validator.WithAllowInternalIPs(cfg.AllowInternalTargets),
			validator.WithAllowLocalhost(cfg.AllowInternalTargets),
		),
		logger: log.With("service", "discovery"),
	}
}

// ProcessDiscovery extracts new targets from the seed target's most recent
// completed scan. Safe to redeliver: known values dedupe on lookup and the
// unique constraint catches races.
func (s *DiscoveryService) ProcessDiscovery(ctx context.Context, targetID, orgID string) error {
	tid, err := shared.IDFromString(targetID)
	if err != nil {
		return fmt.Errorf("parse target id: %w", err)
	}
	oid, err := shared.IDFromString(orgID)
	if err != nil {
		return fmt.Errorf("parse org id: %w", err)
	}

	seed, err := s.targetRepo.GetByID(ctx, tid, oid)
	if err != nil {
		if shared.IsNotFound(err) {
			s.logger.Warn("discovery seed target gone", "target_id", targetID)
			return nil
		}
		return fmt.Errorf("load target %s: %w", targetID, err)
	}

	job, err := s.latestCompletedScan(ctx, oid, tid)
	if err != nil {
		return err
	}
	if job == nil {
		s.logger.Debug("no completed scan for target, skipping discovery", "target_id", targetID)
		return nil
	}

	findings, err := s.findingRepo.ListByScanID(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("list findings for scan %s: %w", job.ID, err)
	}

	candidates := extractHosts(findings, seed.Value())
	created, skipped := 0, 0
	for _, host := range candidates {
		added, err := s.addCandidate(ctx, seed, host)
		if err != nil {
			return err
		}
		if added {
			created++
		} else {
			skipped++
		}
	}

	s.logger.Info("discovery processed",
		"target_id", targetID,
		"scan_id", job.ID.String(),
		"candidates", len(candidates),
		"created", created,
		"skipped", skipped,
	)
	return nil
}

// latestCompletedScan returns the most recent completed scan for the
// target, or nil when none exists.
func (s *DiscoveryService) latestCompletedScan(ctx context.Context, orgID, targetID shared.ID) (*scan.ScanJob, error) {
	status := scan.StatusCompleted
	res, err := s.scanRepo.List(ctx,
		scan.Filter{OrgID: &orgID, TargetID: &targetID, Status: &status},
		pagination.New(1, 1))
	if err != nil {
		return nil, fmt.Errorf("list completed scans: %w", err)
	}
	if len(res.Data) == 0 {
		return nil, nil
	}
	return res.Data[0], nil
}

// addCandidate validates one discovered host and stores it when it is new
// and inside the seed's registrable domain.
func (s *DiscoveryService) addCandidate(ctx context.Context, seed *target.Target, host string) (bool, error) {
	vt := s.validator.ValidateSingleTarget(host)
	if !vt.IsValid {
		return false, nil
	}

	// Keep discovery inside the seed's apex. IPs carry no registrable
	// domain and are never auto-added.
	if vt.RegistrableDomain == "" || !sameApex(seed, vt.RegistrableDomain) {
		s.logger.Debug("candidate outside seed scope", "host", host, "seed", seed.Value())
		return false, nil
	}

	if _, err := s.targetRepo.GetByValue(ctx, seed.OrgID(), vt.Value); err == nil {
		return false, nil
	} else if !shared.IsNotFound(err) {
		return false, fmt.Errorf("lookup target %q: %w", vt.Value, err)
	}

	t, err := target.NewTarget(seed.OrgID(), vt.Value, domainTargetType(vt.Type))
	if err != nil {
		return false, nil
	}
	t.SetRegistrableDomain(vt.RegistrableDomain)
	t.SetTags([]string{discoveredTag})

	if err := s.targetRepo.Create(ctx, t); err != nil {
		if shared.IsConflict(err) {
			return false, nil
		}
		return false, fmt.Errorf("create discovered target %q: %w", vt.Value, err)
	}

	s.logger.Info("discovered new target",
		"org_id", seed.OrgID().String(),
		"value", vt.Value,
		"seed", seed.Value(),
	)
	return true, nil
}

// sameApex reports whether the candidate's registrable domain matches the
// seed's. Seeds without one (IPs, CIDRs) fall back to comparing against
// the seed value itself so `example.com` seeds still accept subdomains.
func sameApex(seed *target.Target, registrable string) bool {
	if rd := seed.RegistrableDomain(); rd != "" {
		return strings.EqualFold(rd, registrable)
	}
	return strings.EqualFold(seed.Value(), registrable) ||
		strings.HasSuffix(strings.ToLower(seed.Value()), "."+strings.ToLower(registrable))
}

// extractHosts pulls unique host names out of finding affected components.
// Components show up as bare hosts, host:port pairs and URLs.
func extractHosts(findings []*finding.Finding, seedValue string) []string {
	seen := map[string]struct{}{strings.ToLower(seedValue): {}}
	var hosts []string

	add := func(h string) {
		h = strings.ToLower(strings.TrimSpace(strings.TrimSuffix(h, ".")))
		if h == "" {
			return
		}
		if _, dup := seen[h]; dup {
			return
		}
		seen[h] = struct{}{}
		hosts = append(hosts, h)
	}

	for _, f := range findings {
		comp := strings.TrimSpace(f.AffectedComponent)
		if comp == "" {
			continue
		}
		switch {
		case strings.Contains(comp, "://"):
			if u, err := url.Parse(comp); err == nil && u.Hostname() != "" {
				add(u.Hostname())
			}
		case strings.Contains(comp, ":"):
			if h, _, err := net.SplitHostPort(comp); err == nil {
				add(h)
			}
		default:
			add(comp)
		}
	}
	return hosts
}
