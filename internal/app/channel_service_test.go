package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnscanio/engine/internal/infra/notification"
	"github.com/vulnscanio/engine/pkg/crypto"
	"github.com/vulnscanio/engine/pkg/domain/channel"
	"github.com/vulnscanio/engine/pkg/domain/shared"
	"github.com/vulnscanio/engine/pkg/logger"
)

// flakyClient fails its first probes, then recovers.
type flakyClient struct {
	fakeNotifyClient
	failures int
}

func (c *flakyClient) TestConnection(_ context.Context) (*notification.SendResult, error) {
	if c.failures > 0 {
		c.failures--
		return nil, errors.New("connection timed out")
	}
	return &notification.SendResult{Success: true}, nil
}

type channelServiceFixture struct {
	channelRepo *fakeChannelRepo
	svc         *ChannelService
}

func newChannelServiceFixture(t *testing.T) *channelServiceFixture {
	t.Helper()
	f := &channelServiceFixture{channelRepo: newFakeChannelRepo()}
	f.svc = NewChannelService(f.channelRepo, crypto.NewNoOpEncryptor(), logger.NewNop())
	return f
}

func TestChannelServiceCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults", func(t *testing.T) {
		f := newChannelServiceFixture(t)
		orgID := shared.NewID()

		ch, err := f.svc.Create(ctx, CreateChannelInput{
			OrgID:    orgID,
			Name:     "ops-alerts",
			Kind:     "Slack",
			Endpoint: "https://hooks.slack.com/services/T0/B0/x",
			Secret:   "hunter2",
		})
		require.NoError(t, err)

		assert.Equal(t, channel.KindSlack, ch.Kind())
		assert.True(t, ch.Enabled())
		assert.Equal(t, "critical", ch.SeverityThreshold())
		assert.ElementsMatch(t, channel.AllEventTypes(), ch.EventTypes())
		assert.Equal(t, []byte("hunter2"), ch.SecretEncrypted())

		stored, err := f.channelRepo.GetByID(ctx, ch.ID(), orgID)
		require.NoError(t, err)
		assert.Equal(t, "ops-alerts", stored.Name())
	})

	t.Run("explicit subscriptions and threshold", func(t *testing.T) {
		f := newChannelServiceFixture(t)

		ch, err := f.svc.Create(ctx, CreateChannelInput{
			OrgID:             shared.NewID(),
			Name:              "sec-team",
			Kind:              "webhook",
			Endpoint:          "https://alerts.example.com/hook",
			EventTypes:        []string{channel.EventScanFailed},
			SeverityThreshold: "high",
		})
		require.NoError(t, err)
		assert.Equal(t, []string{channel.EventScanFailed}, ch.EventTypes())
		assert.Equal(t, "high", ch.SeverityThreshold())
	})

	t.Run("rejections", func(t *testing.T) {
		f := newChannelServiceFixture(t)
		orgID := shared.NewID()
		base := CreateChannelInput{
			OrgID:    orgID,
			Name:     "ops",
			Kind:     "slack",
			Endpoint: "https://hooks.slack.com/x",
		}

		blank := base
		blank.Name = "   "
		_, err := f.svc.Create(ctx, blank)
		assert.ErrorIs(t, err, shared.ErrValidation)

		pager := base
		pager.Kind = "pagerduty"
		_, err = f.svc.Create(ctx, pager)
		assert.ErrorIs(t, err, channel.ErrUnknownKind)

		ftp := base
		ftp.Endpoint = "ftp://hooks.slack.com/x"
		_, err = f.svc.Create(ctx, ftp)
		assert.ErrorIs(t, err, shared.ErrValidation)

		noise := base
		noise.EventTypes = []string{"scan_meltdown"}
		_, err = f.svc.Create(ctx, noise)
		assert.ErrorIs(t, err, channel.ErrUnknownEventType)

		_, err = f.svc.Create(ctx, base)
		require.NoError(t, err)
		_, err = f.svc.Create(ctx, base)
		assert.ErrorIs(t, err, channel.ErrChannelNameExists, "duplicate name in the org")
	})
}

func TestChannelServiceUpdate(t *testing.T) {
	ctx := context.Background()
	f := newChannelServiceFixture(t)
	orgID := shared.NewID()

	ch, err := f.svc.Create(ctx, CreateChannelInput{
		OrgID:    orgID,
		Name:     "ops",
		Kind:     "webhook",
		Endpoint: "https://alerts.example.com/hook",
		Secret:   "old-secret",
	})
	require.NoError(t, err)

	newName := "ops-renamed"
	emptySecret := ""
	disabled := false
	updated, err := f.svc.Update(ctx, orgID, ch.ID(), UpdateChannelInput{
		Name:    &newName,
		Secret:  &emptySecret,
		Enabled: &disabled,
	})
	require.NoError(t, err)

	assert.Equal(t, "ops-renamed", updated.Name())
	assert.Empty(t, updated.SecretEncrypted(), "an explicit empty secret clears it")
	assert.False(t, updated.Enabled())
}

func TestChannelServiceTestProbe(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T, f *channelServiceFixture) (shared.ID, *channel.Channel) {
		orgID := shared.NewID()
		ch, err := f.svc.Create(ctx, CreateChannelInput{
			OrgID:    orgID,
			Name:     "ops",
			Kind:     "webhook",
			Endpoint: "https://alerts.example.com/hook",
		})
		require.NoError(t, err)
		return orgID, ch
	}

	t.Run("retries transient failures", func(t *testing.T) {
		f := newChannelServiceFixture(t)
		orgID, ch := seed(t, f)

		client := &flakyClient{failures: 1}
		f.svc.newClient = func(kind channel.Kind, _ string, _ []byte) (notification.Client, error) {
			client.kind = kind
			return client, nil
		}

		res, err := f.svc.Test(ctx, orgID, ch.ID())
		require.NoError(t, err)
		assert.True(t, res.Success)
	})

	t.Run("reports persistent failure", func(t *testing.T) {
		f := newChannelServiceFixture(t)
		orgID, ch := seed(t, f)

		f.svc.newClient = func(kind channel.Kind, _ string, _ []byte) (notification.Client, error) {
			return &fakeNotifyClient{kind: kind, err: errors.New("410 gone")}, nil
		}

		_, err := f.svc.Test(ctx, orgID, ch.ID())
		require.Error(t, err)
		assert.ErrorIs(t, err, shared.ErrUnavailable)
	})

	t.Run("probe leaves delivery stats alone", func(t *testing.T) {
		f := newChannelServiceFixture(t)
		orgID, ch := seed(t, f)

		f.svc.newClient = func(kind channel.Kind, _ string, _ []byte) (notification.Client, error) {
			return &fakeNotifyClient{kind: kind}, nil
		}

		_, err := f.svc.Test(ctx, orgID, ch.ID())
		require.NoError(t, err)

		stored, err := f.channelRepo.GetByID(ctx, ch.ID(), orgID)
		require.NoError(t, err)
		assert.Zero(t, stored.TotalSent(), "a probe is not a notification")
		assert.Zero(t, f.channelRepo.deliveryCount())
	})
}

func TestChannelServiceDeliveriesScoped(t *testing.T) {
	ctx := context.Background()
	f := newChannelServiceFixture(t)
	orgID := shared.NewID()

	ch, err := f.svc.Create(ctx, CreateChannelInput{
		OrgID:    orgID,
		Name:     "ops",
		Kind:     "webhook",
		Endpoint: "https://alerts.example.com/hook",
	})
	require.NoError(t, err)

	_, err = f.svc.Deliveries(ctx, shared.NewID(), ch.ID(), testPage())
	require.Error(t, err)
	assert.True(t, shared.IsNotFound(err))
}
