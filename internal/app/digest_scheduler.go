package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vulnscanio/engine/internal/config"
	"github.com/vulnscanio/engine/pkg/domain/channel"
	"github.com/vulnscanio/engine/pkg/logger"
)

// DigestScheduler enqueues a digest task per organization on the
// configured cron expression. The tasks land on the notifications queue;
// rendering and delivery happen worker-side so a slow endpoint never
// stalls the cron goroutine.
type DigestScheduler struct {
	channelRepo channel.Repository
	enqueuer    JobEnqueuer
	logger      *logger.Logger

	spec   string
	period string
	cron   *cron.Cron
}

// NewDigestScheduler creates a new DigestScheduler. An empty cron spec
// disables it; an invalid one is a configuration error.
func NewDigestScheduler(channelRepo channel.Repository, enqueuer JobEnqueuer, cfg config.NotifyConfig, log *logger.Logger) (*DigestScheduler, error) {
	period := cfg.DigestPeriod
	if period != DigestPeriodWeekly {
		period = DigestPeriodDaily
	}
	s := &DigestScheduler{
		channelRepo: channelRepo,
		enqueuer:    enqueuer,
		logger:      log.With("component", "digest_scheduler"),
		spec:        cfg.DigestCron,
		period:      period,
	}
	if s.spec == "" {
		return s, nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.spec, s.fire); err != nil {
		return nil, fmt.Errorf("invalid digest cron %q: %w", s.spec, err)
	}
	s.cron = c
	return s, nil
}

// Start starts the cron loop. A no-op when no cron spec is configured.
func (s *DigestScheduler) Start() {
	if s.cron == nil {
		s.logger.Info("digest disabled, no cron configured")
		return
	}
	s.cron.Start()
	s.logger.Info("digest scheduler started", "cron", s.spec, "period", s.period)
}

// Stop stops the cron loop and waits for a running fire to finish.
func (s *DigestScheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.logger.Info("digest scheduler stopped")
}

func (s *DigestScheduler) fire() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	orgs, err := s.channelRepo.ListOrgsWithEnabled(ctx)
	if err != nil {
		s.logger.Error("failed to list orgs for digest", "error", err)
		return
	}

	enqueued := 0
	for _, org := range orgs {
		if err := s.enqueuer.EnqueueDigest(ctx, org, s.period); err != nil {
			s.logger.Error("failed to enqueue digest",
				"org_id", org.String(), "error", err)
			continue
		}
		enqueued++
	}
	s.logger.Info("digests enqueued", "orgs", len(orgs), "enqueued", enqueued)
}
