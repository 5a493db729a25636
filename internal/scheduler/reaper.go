package scheduler

import (
	"context"
	"time"

	"github.com/tkrause/jobgate/internal/domain"
	"go.uber.org/zap"
)

// Reaper runs the deadline-based reclamation required for crash safety.
// It requeues or expires jobs stalled in claimed/processing and expires
// jobs past their overall deadline, driven by its own clock rather than
// the worker that held the job.
type Reaper struct {
	jobs               domain.JobRepository
	interval           time.Duration
	processingDeadline time.Duration
	log                *zap.Logger
}

// NewReaper creates a Reaper.
func NewReaper(jobs domain.JobRepository, interval, processingDeadline time.Duration, log *zap.Logger) *Reaper {
	return &Reaper{
		jobs:               jobs,
		interval:           interval,
		processingDeadline: processingDeadline,
		log:                log,
	}
}

// Run sweeps until the context is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep performs one reclamation pass.
func (r *Reaper) Sweep(ctx context.Context) {
	now := time.Now()
	requeued, expired, err := r.jobs.ReclaimStalled(ctx, now.Add(-r.processingDeadline))
	if err != nil {
		r.log.Error("reclaim stalled jobs", zap.Error(err))
	} else if requeued > 0 || expired > 0 {
		r.log.Info("reclaimed stalled jobs",
			zap.Int64("requeued", requeued),
			zap.Int64("expired", expired),
		)
	}

	overdue, err := r.jobs.ExpireOverdue(ctx, now)
	if err != nil {
		r.log.Error("expire overdue jobs", zap.Error(err))
	} else if overdue > 0 {
		r.log.Info("expired overdue jobs", zap.Int64("count", overdue))
	}
}
