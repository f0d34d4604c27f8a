package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/vulnscanio/engine/internal/infra/notification"
	"github.com/vulnscanio/engine/pkg/crypto"
	"github.com/vulnscanio/engine/pkg/domain/channel"
	"github.com/vulnscanio/engine/pkg/domain/finding"
	"github.com/vulnscanio/engine/pkg/domain/shared"
	"github.com/vulnscanio/engine/pkg/logger"
	"github.com/vulnscanio/engine/pkg/pagination"
	"github.com/vulnscanio/engine/pkg/retry"
)

// testRetryConfig bounds endpoint probes: one quick retry, then report.
var testRetryConfig = retry.Config{
	MaxAttempts: 2,
	BaseDelay:   time.Second,
	MaxDelay:    2 * time.Second,
}

// ChannelService manages notification channel configuration. Signing
// secrets are encrypted at rest; plaintext only exists in memory while
// building a delivery client.
type ChannelService struct {
	channelRepo channel.Repository
	encryptor   crypto.Encryptor
	newClient   clientFactory
	logger      *logger.Logger
}

// NewChannelService creates a new ChannelService.
func NewChannelService(channelRepo channel.Repository, encryptor crypto.Encryptor, log *logger.Logger) *ChannelService {
	if encryptor == nil {
		encryptor = crypto.NewNoOpEncryptor()
	}
	return &ChannelService{
		channelRepo: channelRepo,
		encryptor:   encryptor,
		newClient:   notification.NewClient,
		logger:      log.With("service", "channel"),
	}
}

// CreateChannelInput carries the fields for a new channel.
type CreateChannelInput struct {
	OrgID    shared.ID
	Name     string
	Kind     string
	Endpoint string

	// Secret is the plaintext webhook signing secret; optional.
	Secret string

	// EventTypes the channel subscribes to; empty subscribes to all.
	EventTypes []string

	// SeverityThreshold for finding alerts; empty keeps the default.
	SeverityThreshold string

	CreatedBy *shared.ID
}

// Create validates and stores a new notification channel.
func (s *ChannelService) Create(ctx context.Context, input CreateChannelInput) (*channel.Channel, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: channel name is required", shared.ErrValidation)
	}

	kind := channel.Kind(strings.ToLower(strings.TrimSpace(input.Kind)))
	if !kind.IsValid() {
		return nil, fmt.Errorf("%w: %q", channel.ErrUnknownKind, input.Kind)
	}

	if err := validateEndpoint(input.Endpoint); err != nil {
		return nil, err
	}
	for _, et := range input.EventTypes {
		if !channel.ValidEventType(et) {
			return nil, fmt.Errorf("%w: %q", channel.ErrUnknownEventType, et)
		}
	}

	ch := channel.NewChannel(shared.NewID(), input.OrgID, name, kind, input.Endpoint, input.EventTypes)

	if input.SeverityThreshold != "" {
		sev, err := finding.ParseSeverity(input.SeverityThreshold)
		if err != nil {
			return nil, err
		}
		ch.SetSeverityThreshold(string(sev))
	}
	if input.Secret != "" {
		enc, err := s.encryptor.EncryptString(input.Secret)
		if err != nil {
			return nil, fmt.Errorf("encrypt signing secret: %w", err)
		}
		ch.SetSecret([]byte(enc))
	}
	if input.CreatedBy != nil {
		ch.SetCreatedBy(*input.CreatedBy)
	}

	if err := s.channelRepo.Create(ctx, ch); err != nil {
		return nil, fmt.Errorf("create channel: %w", err)
	}

	s.logger.Info("channel created",
		"channel_id", ch.ID().String(),
		"org_id", input.OrgID.String(),
		"kind", kind,
		"name", name,
	)
	return ch, nil
}

// Get returns a channel scoped to the organization.
func (s *ChannelService) Get(ctx context.Context, orgID, id shared.ID) (*channel.Channel, error) {
	return s.channelRepo.GetByID(ctx, id, orgID)
}

// List lists the organization's channels. The org scope in the filter is
// always overridden with the caller's.
func (s *ChannelService) List(ctx context.Context, orgID shared.ID, filter channel.Filter, page pagination.Pagination) (pagination.Result[*channel.Channel], error) {
	filter.OrgID = &orgID
	return s.channelRepo.List(ctx, filter, page)
}

// UpdateChannelInput carries channel updates. Nil fields are left as-is;
// a non-nil empty Secret clears the stored one.
type UpdateChannelInput struct {
	Name              *string
	Endpoint          *string
	Secret            *string
	EventTypes        []string
	SeverityThreshold *string
	Enabled           *bool
}

// Update applies the given changes to a channel.
func (s *ChannelService) Update(ctx context.Context, orgID, id shared.ID, input UpdateChannelInput) (*channel.Channel, error) {
	ch, err := s.channelRepo.GetByID(ctx, id, orgID)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: channel name is required", shared.ErrValidation)
		}
		ch.SetName(name)
	}
	if input.Endpoint != nil {
		if err := validateEndpoint(*input.Endpoint); err != nil {
			return nil, err
		}
		ch.SetEndpoint(*input.Endpoint)
	}
	if input.EventTypes != nil {
		for _, et := range input.EventTypes {
			if !channel.ValidEventType(et) {
				return nil, fmt.Errorf("%w: %q", channel.ErrUnknownEventType, et)
			}
		}
		ch.SetEventTypes(input.EventTypes)
	}
	if input.SeverityThreshold != nil {
		sev, err := finding.ParseSeverity(*input.SeverityThreshold)
		if err != nil {
			return nil, err
		}
		ch.SetSeverityThreshold(string(sev))
	}
	if input.Secret != nil {
		if *input.Secret == "" {
			ch.SetSecret(nil)
		} else {
			enc, err := s.encryptor.EncryptString(*input.Secret)
			if err != nil {
				return nil, fmt.Errorf("encrypt signing secret: %w", err)
			}
			ch.SetSecret([]byte(enc))
		}
	}
	if input.Enabled != nil {
		if *input.Enabled {
			ch.Enable()
		} else {
			ch.Disable()
		}
	}

	if err := s.channelRepo.Update(ctx, ch); err != nil {
		return nil, fmt.Errorf("update channel: %w", err)
	}
	return ch, nil
}

// Delete removes a channel and its delivery history.
func (s *ChannelService) Delete(ctx context.Context, orgID, id shared.ID) error {
	if err := s.channelRepo.Delete(ctx, id, orgID); err != nil {
		return err
	}
	s.logger.Info("channel deleted", "channel_id", id.String(), "org_id", orgID.String())
	return nil
}

// Test sends a test message through the channel's endpoint so operators
// can verify configuration before relying on it. Delivery stats are not
// touched; a probe is not a notification.
func (s *ChannelService) Test(ctx context.Context, orgID, id shared.ID) (*notification.SendResult, error) {
	ch, err := s.channelRepo.GetByID(ctx, id, orgID)
	if err != nil {
		return nil, err
	}
	client, err := buildChannelClient(s.encryptor, s.newClient, ch)
	if err != nil {
		return nil, err
	}

	var result *notification.SendResult
	err = retry.Do(ctx, testRetryConfig, func(ctx context.Context) error {
		probeCtx, cancel := context.WithTimeout(ctx, defaultNotifyTimeout)
		defer cancel()

		res, err := client.TestConnection(probeCtx)
		if err != nil {
			return err
		}
		if !res.Success {
			return errors.New(res.Error)
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: test delivery failed: %v", shared.ErrUnavailable, err)
	}
	return result, nil
}

// Deliveries lists a channel's delivery attempts, newest first.
func (s *ChannelService) Deliveries(ctx context.Context, orgID, channelID shared.ID, page pagination.Pagination) (pagination.Result[*channel.Delivery], error) {
	// Scope check; deliveries are only addressable through an owned channel.
	if _, err := s.channelRepo.GetByID(ctx, channelID, orgID); err != nil {
		return pagination.Result[*channel.Delivery]{}, err
	}
	return s.channelRepo.ListDeliveries(ctx, channel.DeliveryFilter{ChannelID: &channelID}, page)
}

func validateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: endpoint must be an http(s) URL", shared.ErrValidation)
	}
	return nil
}
