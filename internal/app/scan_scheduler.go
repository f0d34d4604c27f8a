package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vulnscanio/engine/internal/metrics"
	"github.com/vulnscanio/engine/pkg/domain/scan"
	"github.com/vulnscanio/engine/pkg/logger"
)

// Scheduler fires due scan schedules. A single goroutine ticks every
// interval, looks one interval ahead and enqueues each due schedule with a
// delay down to its exact cron instant, so firing error stays within one
// tick no matter how coarse the interval is.
//
// The schedule is advanced before the scan is enqueued. A crash between
// the two skips one run instead of double-firing, and concurrent
// scheduler instances stop seeing the schedule as due. The window where
// two instances list the same schedule is closed by the one-active-scan
// guard on enqueue.
type Scheduler struct {
	scheduleRepo scan.ScheduleRepository
	scans        *ScanService
	logger       *logger.Logger

	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
	inFlight sync.Map // schedule ID -> struct{}, dedups triggers in this instance
}

// SchedulerConfig holds configuration for the scheduler.
type SchedulerConfig struct {
	// CheckInterval is how often to look for due schedules (default: 30s).
	CheckInterval time.Duration
}

// NewScheduler creates a new Scheduler.
func NewScheduler(scheduleRepo scan.ScheduleRepository, scans *ScanService, cfg SchedulerConfig, log *logger.Logger) *Scheduler {
	interval := cfg.CheckInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		scheduleRepo: scheduleRepo,
		scans:        scans,
		logger:       log.With("component", "scheduler"),
		interval:     interval,
		stopCh:       make(chan struct{}),
	}
}

// Start starts the scheduler loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
	s.logger.Info("scheduler started", "interval", s.interval)
}

// Stop stops the scheduler gracefully.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	lastCycle := time.Now()
	s.checkAndTrigger()

	for {
		select {
		case <-ticker.C:
			metrics.SchedulerLag.Set(time.Since(lastCycle).Seconds())
			lastCycle = time.Now()
			s.checkAndTrigger()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) checkAndTrigger() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	due, err := s.scheduleRepo.ListDue(ctx, time.Now().Add(s.interval))
	if err != nil {
		metrics.SchedulerErrors.WithLabelValues("list_due").Inc()
		s.logger.Error("failed to list due schedules", "error", err)
		return
	}
	if len(due) == 0 {
		return
	}

	triggered := 0
	for _, sched := range due {
		if _, running := s.inFlight.Load(sched.ID); running {
			continue
		}
		s.wg.Add(1)
		go s.trigger(sched)
		triggered++
	}
	if triggered > 0 {
		s.logger.Debug("triggering due schedules", "count", triggered)
	}
}

func (s *Scheduler) trigger(sched *scan.Schedule) {
	defer s.wg.Done()
	s.inFlight.Store(sched.ID, struct{}{})
	defer s.inFlight.Delete(sched.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	due := time.Now()
	if sched.NextRunAt != nil {
		due = *sched.NextRunAt
	}
	delay := time.Until(due)
	if delay < 0 {
		delay = 0
	}

	// Advance first. If this fails the schedule stays due and the next
	// cycle retries; triggering without advancing would re-fire forever.
	sched.MarkTriggered(due)
	if err := s.scheduleRepo.Update(ctx, sched); err != nil {
		metrics.SchedulerErrors.WithLabelValues("advance").Inc()
		s.logger.Error("failed to advance schedule",
			"schedule_id", sched.ID.String(), "error", err)
		return
	}

	_, err := s.scans.EnqueueScan(ctx, EnqueueScanInput{
		OrgID:       sched.OrgID,
		TargetID:    sched.TargetID,
		RequestedBy: sched.CreatedBy,
		Profile:     sched.Profile,
		ScheduleID:  &sched.ID,
		Delay:       delay,
	})
	if err != nil {
		switch {
		case errors.Is(err, scan.ErrDuplicateActiveScan):
			s.logger.Info("skipping scheduled run, previous scan still active",
				"schedule_id", sched.ID.String(), "target", sched.Target)
		default:
			metrics.SchedulerErrors.WithLabelValues("trigger").Inc()
			s.logger.Error("failed to trigger scheduled scan",
				"schedule_id", sched.ID.String(),
				"target", sched.Target,
				"error", err,
			)
		}
		return
	}

	metrics.ScheduleTriggersTotal.WithLabelValues(sched.OrgID.String()).Inc()
	s.logger.Info("scheduled scan triggered",
		"schedule_id", sched.ID.String(),
		"target", sched.Target,
		"profile", sched.Profile,
		"fires_in", delay.Round(time.Second),
		"next_run_at", sched.NextRunAt,
	)
}
