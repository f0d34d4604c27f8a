package target

import (
	"context"
	"time"

	"github.com/vulnscanio/engine/pkg/pagination"
)

// Filter represents filtering options for listing targets.
type Filter struct {
	OrgID    *ID
	Kind     *Type
	Enabled  *bool
	Verified *bool
	Tags     []string
	Search   string
}

// Repository defines the interface for target persistence.
type Repository interface {
	// Create persists a new target. A duplicate (org, value) pair fails with
	// ErrTargetExists.
	Create(ctx context.Context, t *Target) error

	// GetByID retrieves a target scoped to an organization.
	GetByID(ctx context.Context, id, orgID ID) (*Target, error)

	// GetByValue retrieves a target by its normalized value.
	GetByValue(ctx context.Context, orgID ID, value string) (*Target, error)

	// List lists targets with filters and pagination.
	List(ctx context.Context, filter Filter, page pagination.Pagination) (pagination.Result[*Target], error)

	// Update persists target changes.
	Update(ctx context.Context, t *Target) error

	// TouchLastScan records the completion time of the latest scan.
	TouchLastScan(ctx context.Context, id ID, at time.Time) error

	// Delete removes a target.
	Delete(ctx context.Context, id, orgID ID) error
}
