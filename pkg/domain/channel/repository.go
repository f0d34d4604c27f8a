package channel

import (
	"context"

	"github.com/vulnscanio/engine/pkg/pagination"
)

// Filter represents filtering options for listing channels.
type Filter struct {
	OrgID     *ID
	Kind      *Kind
	Enabled   *bool
	EventType string
	Search    string
}

// DeliveryFilter represents filtering options for listing deliveries.
type DeliveryFilter struct {
	ChannelID *ID
	ScanID    *ID
	Success   *bool
}

// Repository defines the interface for channel persistence.
type Repository interface {
	Create(ctx context.Context, c *Channel) error
	GetByID(ctx context.Context, id, orgID ID) (*Channel, error)
	List(ctx context.Context, filter Filter, page pagination.Pagination) (pagination.Result[*Channel], error)
	Update(ctx context.Context, c *Channel) error
	Delete(ctx context.Context, id, orgID ID) error

	// ListSubscribed returns enabled channels subscribed to the event type.
	// The dispatcher fans out over this set.
	ListSubscribed(ctx context.Context, orgID ID, eventType string) ([]*Channel, error)

	// ListOrgsWithEnabled returns the distinct organizations holding at
	// least one enabled channel.
	ListOrgsWithEnabled(ctx context.Context) ([]ID, error)

	// CreateDelivery appends a delivery attempt record.
	CreateDelivery(ctx context.Context, d *Delivery) error

	// ListDeliveries lists delivery attempts, newest first.
	ListDeliveries(ctx context.Context, filter DeliveryFilter, page pagination.Pagination) (pagination.Result[*Delivery], error)
}
