package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnscanio/engine/internal/config"
	"github.com/vulnscanio/engine/internal/infra/notification"
	"github.com/vulnscanio/engine/pkg/domain/channel"
	"github.com/vulnscanio/engine/pkg/domain/finding"
	"github.com/vulnscanio/engine/pkg/domain/scan"
	"github.com/vulnscanio/engine/pkg/domain/shared"
	"github.com/vulnscanio/engine/pkg/logger"
)

type notifyFixture struct {
	channelRepo *fakeChannelRepo
	scanRepo    *fakeScanRepo
	findingRepo *fakeFindingRepo
	svc         *NotificationService

	mu      sync.Mutex
	clients map[string]*fakeNotifyClient
}

// newNotifyFixture wires the dispatcher with a client factory that hands out
// scripted clients keyed by endpoint. The factory runs on delivery
// goroutines, hence the lock.
func newNotifyFixture(t *testing.T) *notifyFixture {
	t.Helper()
	f := &notifyFixture{
		channelRepo: newFakeChannelRepo(),
		scanRepo:    newFakeScanRepo(),
		findingRepo: &fakeFindingRepo{},
		clients:     make(map[string]*fakeNotifyClient),
	}
	f.svc = NewNotificationService(
		f.channelRepo, f.scanRepo, f.findingRepo, nil,
		config.NotifyConfig{Timeout: 200 * time.Millisecond},
		logger.NewNop(),
		WithDashboardURL("https://app.vulnscan.example"),
	)
	f.svc.newClient = func(kind channel.Kind, endpoint string, _ []byte) (notification.Client, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		c, ok := f.clients[endpoint]
		if !ok {
			c = &fakeNotifyClient{kind: kind}
			f.clients[endpoint] = c
		}
		return c, nil
	}
	return f
}

func (f *notifyFixture) client(endpoint string) *fakeNotifyClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[endpoint]
}

func (f *notifyFixture) seedChannel(t *testing.T, orgID shared.ID, endpoint string, eventTypes ...string) *channel.Channel {
	t.Helper()
	ch := channel.NewChannel(shared.NewID(), orgID, "ch-"+endpoint, channel.KindWebhook, endpoint, eventTypes)
	require.NoError(t, f.channelRepo.Create(context.Background(), ch))
	return ch
}

func (f *notifyFixture) scriptClient(endpoint string, c *fakeNotifyClient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clients[endpoint] = c
}

func (f *notifyFixture) seedCompletedScan(t *testing.T, orgID shared.ID) *scan.ScanJob {
	t.Helper()
	job, err := scan.NewScanJob(scan.ScanJobParams{
		OrgID:       orgID,
		TargetID:    shared.NewID(),
		Target:      "example.com",
		RequestedBy: shared.NewID(),
		Profile:     scan.ProfileQuick,
		Modules:     []string{scan.ModuleDNSEnumeration},
	})
	require.NoError(t, err)
	require.NoError(t, job.Start())
	require.NoError(t, job.RecordResult(
		scan.NewModuleResult(job.ID, scan.ModuleDNSEnumeration, nil, time.Now(), time.Second)))
	require.NoError(t, job.Complete(scan.NewSummary(job.Results)))
	f.scanRepo = newFakeScanRepo(job)
	f.svc.scanRepo = f.scanRepo
	return job
}

func TestDispatchScanEventPerChannelIsolation(t *testing.T) {
	f := newNotifyFixture(t)
	orgID := shared.NewID()
	job := f.seedCompletedScan(t, orgID)

	good := f.seedChannel(t, orgID, "https://hooks.example/good", channel.EventScanCompleted)
	bad := f.seedChannel(t, orgID, "https://hooks.example/bad", channel.EventScanCompleted)
	f.scriptClient("https://hooks.example/bad", &fakeNotifyClient{
		kind: channel.KindWebhook,
		err:  errors.New("connection refused"),
	})

	err := f.svc.DispatchScanEvent(context.Background(),
		job.ID.String(), orgID.String(), channel.EventScanCompleted)
	require.NoError(t, err, "one failing channel must not fail the task")

	goodCh, err := f.channelRepo.GetByID(context.Background(), good.ID(), orgID)
	require.NoError(t, err)
	assert.Equal(t, 1, goodCh.TotalSent())
	assert.Zero(t, goodCh.TotalFailed())
	assert.NotNil(t, goodCh.LastTriggeredAt())

	badCh, err := f.channelRepo.GetByID(context.Background(), bad.ID(), orgID)
	require.NoError(t, err)
	assert.Zero(t, badCh.TotalSent())
	assert.Equal(t, 1, badCh.TotalFailed())
	assert.Equal(t, "connection refused", badCh.LastError())
	assert.NotNil(t, badCh.LastTriggeredAt(), "failed attempts still count as triggers")

	assert.Equal(t, 2, f.channelRepo.deliveryCount())
}

func TestDispatchScanEventMissingScanIsDropped(t *testing.T) {
	f := newNotifyFixture(t)
	orgID := shared.NewID()
	f.seedChannel(t, orgID, "https://hooks.example/ops", channel.EventScanCompleted)

	err := f.svc.DispatchScanEvent(context.Background(),
		shared.NewID().String(), orgID.String(), channel.EventScanCompleted)
	require.NoError(t, err)
	assert.Zero(t, f.channelRepo.deliveryCount())
}

func TestDispatchScanEventSkipsUnsubscribed(t *testing.T) {
	f := newNotifyFixture(t)
	orgID := shared.NewID()
	job := f.seedCompletedScan(t, orgID)
	ch := f.seedChannel(t, orgID, "https://hooks.example/failures-only", channel.EventScanFailed)

	err := f.svc.DispatchScanEvent(context.Background(),
		job.ID.String(), orgID.String(), channel.EventScanCompleted)
	require.NoError(t, err)

	assert.Zero(t, f.channelRepo.deliveryCount())
	stored, err := f.channelRepo.GetByID(context.Background(), ch.ID(), orgID)
	require.NoError(t, err)
	assert.Zero(t, stored.TotalSent())
}

func TestDispatchScanEventTruncatesLastError(t *testing.T) {
	f := newNotifyFixture(t)
	orgID := shared.NewID()
	job := f.seedCompletedScan(t, orgID)

	ch := f.seedChannel(t, orgID, "https://hooks.example/noisy", channel.EventScanCompleted)
	f.scriptClient("https://hooks.example/noisy", &fakeNotifyClient{
		kind: channel.KindWebhook,
		err:  errors.New(strings.Repeat("x", 800)),
	})

	err := f.svc.DispatchScanEvent(context.Background(),
		job.ID.String(), orgID.String(), channel.EventScanCompleted)
	require.NoError(t, err)

	stored, err := f.channelRepo.GetByID(context.Background(), ch.ID(), orgID)
	require.NoError(t, err)
	assert.Len(t, stored.LastError(), channel.MaxLastErrorLen)
}

func TestDispatchScanFailedMessage(t *testing.T) {
	f := newNotifyFixture(t)
	orgID := shared.NewID()

	job, err := scan.NewScanJob(scan.ScanJobParams{
		OrgID:       orgID,
		TargetID:    shared.NewID(),
		Target:      "example.com",
		RequestedBy: shared.NewID(),
		Profile:     scan.ProfileQuick,
		Modules:     []string{scan.ModuleDNSEnumeration},
	})
	require.NoError(t, err)
	require.NoError(t, job.Start())
	require.NoError(t, job.Fail("all modules failed: dns_enumeration"))
	f.scanRepo = newFakeScanRepo(job)
	f.svc.scanRepo = f.scanRepo

	f.seedChannel(t, orgID, "https://hooks.example/ops", channel.EventScanFailed)

	err = f.svc.DispatchScanEvent(context.Background(),
		job.ID.String(), orgID.String(), channel.EventScanFailed)
	require.NoError(t, err)

	client := f.client("https://hooks.example/ops")
	require.Equal(t, 1, client.sentCount())
	msg := client.lastSent()
	assert.Equal(t, channel.EventScanFailed, msg.Event)
	assert.Contains(t, msg.Title, "Scan failed")
	assert.Equal(t, "all modules failed: dns_enumeration", msg.Body)
	assert.Equal(t, string(finding.SeverityHigh), msg.Severity)
	assert.Contains(t, msg.URL, job.ID.String())
}

func TestDispatchCriticalFindingAlert(t *testing.T) {
	f := newNotifyFixture(t)
	orgID := shared.NewID()
	job := f.seedCompletedScan(t, orgID)

	require.NoError(t, f.findingRepo.CreateBatch(context.Background(), []*finding.Finding{
		{ID: shared.NewID(), ScanID: job.ID, OrgID: orgID, Module: scan.ModuleVulnCheck,
			Severity: finding.SeverityCritical, Title: "RCE in admin endpoint", CreatedAt: time.Now()},
		{ID: shared.NewID(), ScanID: job.ID, OrgID: orgID, Module: scan.ModuleVulnCheck,
			Severity: finding.SeverityLow, Title: "Verbose banner", CreatedAt: time.Now()},
	}))

	f.seedChannel(t, orgID, "https://hooks.example/sec", channel.EventCriticalFinding)

	err := f.svc.DispatchScanEvent(context.Background(),
		job.ID.String(), orgID.String(), channel.EventCriticalFinding)
	require.NoError(t, err)

	client := f.client("https://hooks.example/sec")
	require.Equal(t, 1, client.sentCount())
	msg := client.lastSent()
	assert.Equal(t, "1 critical finding(s) detected", msg.Body)
	assert.Equal(t, "RCE in admin endpoint", msg.Fields["finding_1"])
	assert.Equal(t, string(finding.SeverityCritical), msg.Severity)
}

func TestMeetsThreshold(t *testing.T) {
	// Lifecycle events bypass the threshold: subscribing to them is the
	// opt-in. Only finding alerts are gated.
	assert.True(t, meetsThreshold("critical", channel.EventScanCompleted, "info"))
	assert.True(t, meetsThreshold("critical", channel.EventScanFailed, "high"))

	assert.True(t, meetsThreshold("high", channel.EventCriticalFinding, "critical"))
	assert.True(t, meetsThreshold("critical", channel.EventCriticalFinding, "critical"))
	assert.False(t, meetsThreshold("critical", channel.EventCriticalFinding, "high"))
}

func TestRunDigest(t *testing.T) {
	ctx := context.Background()

	t.Run("summarizes the window", func(t *testing.T) {
		f := newNotifyFixture(t)
		orgID := shared.NewID()
		job := f.seedCompletedScan(t, orgID)
		_ = job

		f.seedChannel(t, orgID, "https://hooks.example/digest", channel.EventScanCompleted)

		require.NoError(t, f.svc.RunDigest(ctx, orgID.String(), DigestPeriodDaily))

		client := f.client("https://hooks.example/digest")
		require.Equal(t, 1, client.sentCount())
		msg := client.lastSent()
		assert.Equal(t, "Daily security digest", msg.Title)
		assert.Contains(t, msg.Body, "1 scan(s) ran: 1 completed, 0 failed, 0 cancelled.")
		assert.Equal(t, DigestPeriodDaily, msg.Fields["period"])
		assert.Equal(t, 1, f.channelRepo.deliveryCount())
	})

	t.Run("quiet window sends nothing", func(t *testing.T) {
		f := newNotifyFixture(t)
		orgID := shared.NewID()
		f.seedChannel(t, orgID, "https://hooks.example/digest", channel.EventScanCompleted)

		require.NoError(t, f.svc.RunDigest(ctx, orgID.String(), DigestPeriodDaily))
		assert.Zero(t, f.channelRepo.deliveryCount())
	})
}
