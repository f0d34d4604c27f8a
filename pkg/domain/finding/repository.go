package finding

import (
	"context"

	"github.com/vulnscanio/engine/pkg/domain/shared"
	"github.com/vulnscanio/engine/pkg/pagination"
)

// Filter represents filtering options for listing findings.
type Filter struct {
	OrgID    *shared.ID
	ScanID   *shared.ID
	Module   string
	Severity *Severity
	CVEOnly  bool
	Search   string
}

// Repository defines the interface for finding persistence.
type Repository interface {
	// CreateBatch persists the findings a module run produced in one round trip.
	CreateBatch(ctx context.Context, findings []*Finding) error

	// ListByScanID lists all findings for a scan, most severe first.
	ListByScanID(ctx context.Context, scanID shared.ID) ([]*Finding, error)

	// List lists findings with filters and pagination.
	List(ctx context.Context, filter Filter, page pagination.Pagination) (pagination.Result[*Finding], error)

	// CountBySeverity returns per-severity counts for an organization.
	CountBySeverity(ctx context.Context, orgID shared.ID) (map[Severity]int64, error)

	// DeleteByScanID removes all findings for a scan.
	DeleteByScanID(ctx context.Context, scanID shared.ID) error
}
