package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vulnscanio/engine/internal/config"
	"github.com/vulnscanio/engine/internal/infra/notification"
	"github.com/vulnscanio/engine/internal/metrics"
	"github.com/vulnscanio/engine/pkg/crypto"
	"github.com/vulnscanio/engine/pkg/domain/channel"
	"github.com/vulnscanio/engine/pkg/domain/finding"
	"github.com/vulnscanio/engine/pkg/domain/scan"
	"github.com/vulnscanio/engine/pkg/domain/shared"
	"github.com/vulnscanio/engine/pkg/logger"
	"github.com/vulnscanio/engine/pkg/pagination"
)

// Digest periods accepted by RunDigest.
const (
	DigestPeriodDaily  = "daily"
	DigestPeriodWeekly = "weekly"
)

const (
	notificationStatusSuccess = "success"
	notificationStatusFailed  = "failed"

	// digestEventType labels digest deliveries; it is not a subscribable
	// scan event, digests go to every enabled channel.
	digestEventType = "digest"

	// maxAlertFindings caps how many finding titles a critical alert lists.
	maxAlertFindings = 5

	// digestScanSample caps how many recent scans the digest aggregates.
	digestScanSample = 200

	maxDigestChannels = 100

	defaultNotifyTimeout = 10 * time.Second
)

// clientFactory builds a delivery client for a channel. Swapped out in
// tests; production uses notification.NewClient.
type clientFactory func(kind channel.Kind, endpoint string, secret []byte) (notification.Client, error)

// NotificationService fans scan lifecycle events out to an organization's
// configured channels and renders periodic digests. It implements the
// notification task handlers consumed by the queue worker.
//
// Channel failures are isolated: one endpoint timing out or rejecting a
// payload never blocks delivery to the others and never fails the task.
// Each attempt is recorded on the channel (trigger time, success/failure
// counters, last error) and appended to the delivery log.
type NotificationService struct {
	channelRepo channel.Repository
	scanRepo    scan.Repository
	findingRepo finding.Repository
	encryptor   crypto.Encryptor
	newClient   clientFactory
	timeout     time.Duration
	baseURL     string
	logger      *logger.Logger
}

// NotificationOption is a functional option for NotificationService.
type NotificationOption func(*NotificationService)

// WithDashboardURL sets the public dashboard URL used to build links in
// notification messages.
func WithDashboardURL(url string) NotificationOption {
	return func(s *NotificationService) {
		s.baseURL = strings.TrimRight(url, "/")
	}
}

// NewNotificationService creates the notification dispatcher.
func NewNotificationService(
	channelRepo channel.Repository,
	scanRepo scan.Repository,
	findingRepo finding.Repository,
	encryptor crypto.Encryptor,
	cfg config.NotifyConfig,
	log *logger.Logger,
	opts ...NotificationOption,
) *NotificationService {
	if encryptor == nil {
		encryptor = crypto.NewNoOpEncryptor()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultNotifyTimeout
	}
	s := &NotificationService{
		channelRepo: channelRepo,
		scanRepo:    scanRepo,
		findingRepo: findingRepo,
		encryptor:   encryptor,
		newClient:   notification.NewClient,
		timeout:     timeout,
		logger:      log.With("service", "notification"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DispatchScanEvent delivers a scan event to every enabled channel
// subscribed to it. Returns an error only when the scan or the channel
// list cannot be loaded; per-channel delivery failures are recorded and
// logged but do not fail the task, so the queue never redelivers an event
// that already reached some channels.
func (s *NotificationService) DispatchScanEvent(ctx context.Context, scanID, orgID, eventType string) error {
	sid, err := shared.IDFromString(scanID)
	if err != nil {
		return fmt.Errorf("parse scan id: %w", err)
	}
	oid, err := shared.IDFromString(orgID)
	if err != nil {
		return fmt.Errorf("parse org id: %w", err)
	}

	job, err := s.scanRepo.GetByOrgAndID(ctx, oid, sid)
	if err != nil {
		if shared.IsNotFound(err) {
			// Scan deleted between enqueue and dispatch; nothing to notify.
			s.logger.Warn("dropping notification for missing scan",
				"scan_id", scanID, "event_type", eventType)
			return nil
		}
		return fmt.Errorf("load scan %s: %w", scanID, err)
	}

	channels, err := s.channelRepo.ListSubscribed(ctx, oid, eventType)
	if err != nil {
		return fmt.Errorf("list subscribed channels: %w", err)
	}
	if len(channels) == 0 {
		s.logger.Debug("no channels subscribed", "org_id", orgID, "event_type", eventType)
		return nil
	}

	msg, err := s.buildScanMessage(ctx, job, eventType)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, ch := range channels {
		if !meetsThreshold(ch.SeverityThreshold(), eventType, msg.Severity) {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.deliver(ctx, ch, msg, &sid)
		}()
	}
	wg.Wait()

	return nil
}

// RunDigest renders a periodic activity summary for the organization and
// delivers it to every enabled channel. Sent only when scans actually ran
// in the period; a quiet window produces no digest.
func (s *NotificationService) RunDigest(ctx context.Context, orgID, period string) error {
	oid, err := shared.IDFromString(orgID)
	if err != nil {
		return fmt.Errorf("parse org id: %w", err)
	}

	since := time.Now().Add(-digestWindow(period))
	recent, err := s.scanRepo.List(ctx,
		scan.Filter{OrgID: &oid, CreatedAfter: &since},
		pagination.New(1, digestScanSample))
	if err != nil {
		return fmt.Errorf("list recent scans: %w", err)
	}
	if recent.Total == 0 {
		s.logger.Debug("no scans in digest window, skipping", "org_id", orgID, "period", period)
		return nil
	}

	open, err := s.findingRepo.CountBySeverity(ctx, oid)
	if err != nil {
		return fmt.Errorf("count open findings: %w", err)
	}

	enabled := true
	chans, err := s.channelRepo.List(ctx,
		channel.Filter{OrgID: &oid, Enabled: &enabled},
		pagination.New(1, maxDigestChannels))
	if err != nil {
		return fmt.Errorf("list channels: %w", err)
	}
	if len(chans.Data) == 0 {
		s.logger.Debug("no enabled channels for digest", "org_id", orgID)
		return nil
	}

	msg := s.buildDigestMessage(period, recent, open)

	var wg sync.WaitGroup
	for _, ch := range chans.Data {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.deliver(ctx, ch, msg, nil)
		}()
	}
	wg.Wait()

	s.logger.Info("digest dispatched",
		"org_id", orgID,
		"period", period,
		"scans", recent.Total,
		"channels", len(chans.Data),
	)
	return nil
}

// deliver sends one message to one channel and records the outcome. Every
// attempt updates the channel's trigger timestamp and counters and appends
// a delivery log entry; failures are contained here.
func (s *NotificationService) deliver(ctx context.Context, ch *channel.Channel, msg notification.Message, scanID *shared.ID) {
	start := time.Now()

	client, err := s.buildClient(ch)
	var res *notification.SendResult
	if err == nil {
		sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
		res, err = client.Send(sendCtx, msg)
		cancel()
	}

	now := time.Now()
	durationMs := int(now.Sub(start).Milliseconds())

	var errMsg string
	switch {
	case err != nil:
		errMsg = err.Error()
	case res != nil && !res.Success:
		errMsg = res.Error
		if errMsg == "" {
			errMsg = "delivery rejected by endpoint"
		}
	}

	status := notificationStatusSuccess
	if errMsg != "" {
		status = notificationStatusFailed
		ch.RecordFailure(now, errMsg)
	} else {
		ch.RecordSuccess(now)
	}

	if uerr := s.channelRepo.Update(ctx, ch); uerr != nil {
		s.logger.Error("update channel delivery stats",
			"channel_id", ch.ID().String(), "error", uerr)
	}

	delivery := &channel.Delivery{
		ID:           shared.NewID(),
		ChannelID:    ch.ID(),
		ScanID:       scanID,
		EventType:    msg.Event,
		Payload:      map[string]any{"title": msg.Title, "body": msg.Body, "severity": msg.Severity},
		Success:      errMsg == "",
		ErrorMessage: errMsg,
		DurationMs:   &durationMs,
		CreatedAt:    now,
	}
	if derr := s.channelRepo.CreateDelivery(ctx, delivery); derr != nil {
		s.logger.Error("record delivery attempt",
			"channel_id", ch.ID().String(), "error", derr)
	}

	metrics.NotificationsTotal.WithLabelValues(string(ch.Kind()), msg.Event, status).Inc()
	metrics.NotificationDuration.WithLabelValues(string(ch.Kind())).Observe(now.Sub(start).Seconds())

	if errMsg != "" {
		s.logger.Warn("notification delivery failed",
			"channel", ch.Name(),
			"kind", ch.Kind(),
			"event_type", msg.Event,
			"duration_ms", durationMs,
			"error", errMsg,
		)
		return
	}
	s.logger.Debug("notification delivered",
		"channel", ch.Name(),
		"kind", ch.Kind(),
		"event_type", msg.Event,
		"duration_ms", durationMs,
	)
}

// buildClient constructs the delivery client for a channel, decrypting the
// signing secret when one is configured.
func (s *NotificationService) buildClient(ch *channel.Channel) (notification.Client, error) {
	return buildChannelClient(s.encryptor, s.newClient, ch)
}

// buildChannelClient is shared with ChannelService, which probes endpoints
// with the same client the dispatcher delivers through.
func buildChannelClient(enc crypto.Encryptor, factory clientFactory, ch *channel.Channel) (notification.Client, error) {
	var secret []byte
	if stored := ch.SecretEncrypted(); len(stored) > 0 {
		plain, err := enc.DecryptString(string(stored))
		if err != nil {
			return nil, fmt.Errorf("decrypt signing secret: %w", err)
		}
		secret = []byte(plain)
	}
	return factory(ch.Kind(), ch.Endpoint(), secret)
}

// buildScanMessage renders the notification for a scan event.
func (s *NotificationService) buildScanMessage(ctx context.Context, job *scan.ScanJob, eventType string) (notification.Message, error) {
	msg := notification.Message{
		Event: eventType,
		URL:   s.scanURL(job.ID),
		Fields: map[string]string{
			"target":  job.Target,
			"profile": job.Profile,
		},
	}

	switch eventType {
	case channel.EventScanCompleted:
		msg.Title = fmt.Sprintf("Scan completed: %s", job.Target)
		msg.Severity = summarySeverity(job.Summary)
		msg.Body = summaryLine(job.Summary)
		if d := job.Duration(); d > 0 {
			msg.Fields["duration"] = d.Round(time.Second).String()
		}

	case channel.EventScanFailed:
		msg.Title = fmt.Sprintf("Scan failed: %s", job.Target)
		msg.Severity = string(finding.SeverityHigh)
		msg.Body = job.FailureReason
		if msg.Body == "" {
			msg.Body = "scan failed"
		}

	case channel.EventCriticalFinding:
		findings, err := s.findingRepo.ListByScanID(ctx, job.ID)
		if err != nil {
			return msg, fmt.Errorf("list findings for scan %s: %w", job.ID, err)
		}
		titles, total := criticalTitles(findings, maxAlertFindings)
		msg.Title = fmt.Sprintf("Critical findings on %s", job.Target)
		msg.Severity = string(finding.SeverityCritical)
		msg.Body = fmt.Sprintf("%d critical finding(s) detected", total)
		for i, t := range titles {
			msg.Fields[fmt.Sprintf("finding_%d", i+1)] = t
		}
		if total > len(titles) {
			msg.Fields["more"] = fmt.Sprintf("and %d more", total-len(titles))
		}

	default:
		msg.Title = fmt.Sprintf("Scan %s: %s", job.Status, job.Target)
		msg.Severity = string(finding.SeverityInfo)
	}

	return msg, nil
}

// buildDigestMessage renders the periodic activity summary.
func (s *NotificationService) buildDigestMessage(period string, recent pagination.Result[*scan.ScanJob], open map[finding.Severity]int64) notification.Message {
	var completed, failed, cancelled int
	var totalFindings, criticalFindings int
	for _, job := range recent.Data {
		switch job.Status {
		case scan.StatusCompleted:
			completed++
		case scan.StatusFailed:
			failed++
		case scan.StatusCancelled:
			cancelled++
		}
		if job.Summary != nil {
			totalFindings += job.Summary.TotalFindings
			criticalFindings += job.Summary.BySeverity[finding.SeverityCritical]
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d scan(s) ran: %d completed, %d failed, %d cancelled.\n",
		recent.Total, completed, failed, cancelled)
	fmt.Fprintf(&b, "%d finding(s) reported, %d critical.\n", totalFindings, criticalFindings)
	fmt.Fprintf(&b, "Open findings: %d critical, %d high.",
		open[finding.SeverityCritical], open[finding.SeverityHigh])

	severity := string(finding.SeverityInfo)
	if criticalFindings > 0 || open[finding.SeverityCritical] > 0 {
		severity = string(finding.SeverityCritical)
	} else if open[finding.SeverityHigh] > 0 {
		severity = string(finding.SeverityHigh)
	}

	title := "Security digest"
	switch period {
	case DigestPeriodDaily:
		title = "Daily security digest"
	case DigestPeriodWeekly:
		title = "Weekly security digest"
	}

	return notification.Message{
		Event:    digestEventType,
		Title:    title,
		Body:     b.String(),
		Severity: severity,
		URL:      s.dashboardURL(),
		Fields: map[string]string{
			"period": period,
			"scans":  fmt.Sprintf("%d", recent.Total),
		},
	}
}

func (s *NotificationService) scanURL(id shared.ID) string {
	if s.baseURL == "" {
		return ""
	}
	return s.baseURL + "/scans/" + id.String()
}

func (s *NotificationService) dashboardURL() string {
	if s.baseURL == "" {
		return ""
	}
	return s.baseURL + "/findings"
}

// digestWindow maps a digest period to its lookback window.
func digestWindow(period string) time.Duration {
	if period == DigestPeriodWeekly {
		return 7 * 24 * time.Hour
	}
	return 24 * time.Hour
}

// summarySeverity derives a message severity from the worst finding in the
// scan summary.
func summarySeverity(sum *scan.Summary) string {
	if sum == nil {
		return string(finding.SeverityInfo)
	}
	for _, sev := range []finding.Severity{
		finding.SeverityCritical,
		finding.SeverityHigh,
		finding.SeverityMedium,
		finding.SeverityLow,
	} {
		if sum.BySeverity[sev] > 0 {
			return string(sev)
		}
	}
	return string(finding.SeverityInfo)
}

// summaryLine renders the one-line outcome for a completed scan.
func summaryLine(sum *scan.Summary) string {
	if sum == nil {
		return "scan completed"
	}
	line := fmt.Sprintf("%d finding(s): %d critical, %d high. Risk score %d/100.",
		sum.TotalFindings,
		sum.BySeverity[finding.SeverityCritical],
		sum.BySeverity[finding.SeverityHigh],
		sum.RiskScore)
	if sum.ModulesFailed > 0 {
		line += fmt.Sprintf(" %d module(s) failed.", sum.ModulesFailed)
	}
	return line
}

// criticalTitles returns up to limit critical finding titles and the total
// critical count. Findings arrive most severe first, so the slice front is
// all we need to look at.
func criticalTitles(findings []*finding.Finding, limit int) ([]string, int) {
	var titles []string
	total := 0
	for _, f := range findings {
		if f.Severity != finding.SeverityCritical {
			continue
		}
		total++
		if len(titles) < limit {
			titles = append(titles, f.Title)
		}
	}
	return titles, total
}

// meetsThreshold applies the channel's severity threshold to finding
// alerts. Lifecycle events (completed, failed) bypass it: subscribing to
// the event type is the opt-in for those.
func meetsThreshold(threshold, eventType, severity string) bool {
	if eventType != channel.EventCriticalFinding {
		return true
	}
	return severityRank(severity) >= severityRank(threshold)
}

func severityRank(s string) int {
	switch finding.Severity(s) {
	case finding.SeverityCritical:
		return 4
	case finding.SeverityHigh:
		return 3
	case finding.SeverityMedium:
		return 2
	case finding.SeverityLow:
		return 1
	default:
		return 0
	}
}
