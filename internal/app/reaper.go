package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vulnscanio/engine/internal/config"
	"github.com/vulnscanio/engine/internal/metrics"
	"github.com/vulnscanio/engine/pkg/domain/scan"
	"github.com/vulnscanio/engine/pkg/logger"
)

// Reaper requeues scans whose queue task disappeared: a worker that
// crashed mid-run past the queue's own retry horizon, or an enqueue that
// failed after the job row was created. Requeueing is safe because
// execution resumes from the first module without a result; the queue
// dedups by scan ID, so a task that is merely slow is left alone.
type Reaper struct {
	scanRepo scan.Repository
	enqueuer JobEnqueuer
	logger   *logger.Logger

	interval time.Duration
	age      time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewReaper creates a new Reaper.
func NewReaper(scanRepo scan.Repository, enqueuer JobEnqueuer, cfg config.ScanConfig, log *logger.Logger) *Reaper {
	interval := cfg.ReaperInterval
	if interval <= 0 {
		interval = time.Minute
	}
	age := cfg.ReaperAge
	if age <= 0 {
		age = 30 * time.Minute
	}
	return &Reaper{
		scanRepo: scanRepo,
		enqueuer: enqueuer,
		logger:   log.With("component", "reaper"),
		interval: interval,
		age:      age,
		stopCh:   make(chan struct{}),
	}
}

// Start starts the reaper loop.
func (r *Reaper) Start() {
	r.wg.Add(1)
	go r.run()
	r.logger.Info("reaper started", "interval", r.interval, "age", r.age)
}

// Stop stops the reaper gracefully.
func (r *Reaper) Stop() {
	close(r.stopCh)
	r.wg.Wait()
	r.logger.Info("reaper stopped")
}

func (r *Reaper) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stopCh:
			return
		}
	}
}

func (r *Reaper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-r.age)
	orphans, err := r.scanRepo.ListUnfinished(ctx, cutoff)
	if err != nil {
		r.logger.Error("failed to list unfinished scans", "error", err)
		return
	}

	requeued := 0
	for _, job := range orphans {
		err := r.enqueuer.EnqueueScan(ctx, job.ID, job.OrgID)
		if err != nil {
			if errors.Is(err, ErrTaskAlreadyQueued) {
				// Task still alive; the job is slow, not orphaned.
				continue
			}
			r.logger.Error("failed to requeue orphaned scan",
				"scan_id", job.ID.String(), "error", err)
			continue
		}
		metrics.JobsReapedTotal.Inc()
		requeued++
		r.logger.Warn("requeued orphaned scan",
			"scan_id", job.ID.String(),
			"status", job.Status,
			"updated_at", job.UpdatedAt,
		)
	}
	if requeued > 0 {
		r.logger.Info("reaper sweep finished", "checked", len(orphans), "requeued", requeued)
	}
}
