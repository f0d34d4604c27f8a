package app

import (
	"context"

	"github.com/vulnscanio/engine/pkg/domain/finding"
	"github.com/vulnscanio/engine/pkg/domain/shared"
	"github.com/vulnscanio/engine/pkg/logger"
	"github.com/vulnscanio/engine/pkg/pagination"
)

// FindingService exposes read access to scan findings. Findings are
// immutable module output; they only ever change by being superseded in a
// later scan.
type FindingService struct {
	findingRepo finding.Repository
	logger      *logger.Logger
}

// NewFindingService creates a new FindingService.
func NewFindingService(findingRepo finding.Repository, log *logger.Logger) *FindingService {
	return &FindingService{
		findingRepo: findingRepo,
		logger:      log.With("service", "finding"),
	}
}

// List lists the organization's findings. The org scope in the filter is
// always overridden with the caller's.
func (s *FindingService) List(ctx context.Context, orgID shared.ID, filter finding.Filter, page pagination.Pagination) (pagination.Result[*finding.Finding], error) {
	filter.OrgID = &orgID
	return s.findingRepo.List(ctx, filter, page)
}

// BySeverity returns the organization's current per-severity counts.
func (s *FindingService) BySeverity(ctx context.Context, orgID shared.ID) (map[finding.Severity]int64, error) {
	return s.findingRepo.CountBySeverity(ctx, orgID)
}
