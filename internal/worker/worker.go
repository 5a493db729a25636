package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tkrause/jobgate/internal/adapter/task"
	"github.com/tkrause/jobgate/internal/domain"
	"github.com/tkrause/jobgate/internal/scheduler"
	"go.uber.org/zap"
)

// maxStoreFailures is the number of consecutive job-store errors after
// which a worker stops claiming new jobs (fatal condition).
const maxStoreFailures = 5

// Worker claims candidates from the scheduler and executes them. Execution
// errors never escape the loop; they are recorded on the job and visible
// only through polling.
type Worker struct {
	id           string
	jobs         domain.JobRepository
	sched        *scheduler.Scheduler
	registry     *task.Registry
	execTimeout  time.Duration
	pollInterval time.Duration
	log          *zap.Logger

	storeFailures int
}

// New creates a worker.
func New(id string, jobs domain.JobRepository, sched *scheduler.Scheduler, registry *task.Registry, execTimeout, pollInterval time.Duration, log *zap.Logger) *Worker {
	return &Worker{
		id:           id,
		jobs:         jobs,
		sched:        sched,
		registry:     registry,
		execTimeout:  execTimeout,
		pollInterval: pollInterval,
		log:          log.With(zap.String("worker", id)),
	}
}

// Run executes the claim loop until the context is cancelled or the job
// store becomes unreachable.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info("worker started", zap.Duration("poll_interval", w.pollInterval))
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker shutting down")
			return
		case <-timer.C:
		}

		if w.storeFailures >= maxStoreFailures {
			w.log.Error("job store unreachable, worker stops claiming")
			return
		}

		id, ok := w.sched.NextCandidate(ctx)
		if !ok {
			timer.Reset(w.pollInterval)
			continue
		}
		w.process(ctx, id)
		timer.Reset(0)
	}
}

// process runs one candidate through claim, execute and record.
func (w *Worker) process(ctx context.Context, id string) {
	job, err := w.jobs.Get(ctx, id)
	if err != nil {
		w.storeError("load candidate", id, err)
		return
	}
	if job.State != domain.StatePending {
		return
	}

	claimed, err := w.jobs.Claim(ctx, id, job.Version)
	if errors.Is(err, domain.ErrVersionConflict) {
		// Another worker won; move on.
		return
	}
	if err != nil {
		w.storeError("claim", id, err)
		return
	}

	job, err = w.jobs.MarkProcessing(ctx, id, claimed.Version)
	if err != nil {
		w.storeError("mark processing", id, err)
		return
	}
	w.storeFailures = 0

	w.log.Info("job processing",
		zap.String("job_id", id),
		zap.String("job_type", string(job.Type)),
		zap.Int("attempt", job.AttemptCount),
	)

	exec := w.registry.Lookup(job.Type)
	if exec == nil {
		w.record(ctx, job, nil, domain.Permanent(domain.ErrNoExecutor))
		return
	}

	execCtx, cancel := context.WithTimeout(ctx, w.execTimeout)
	result, execErr := exec.Execute(execCtx, job.Payload)
	cancel()
	if errors.Is(execErr, context.DeadlineExceeded) {
		execErr = domain.Transient(fmt.Errorf("execution timed out after %s: %w", w.execTimeout, execErr))
	}

	w.record(ctx, job, result, execErr)
}

// record persists the outcome, classifying failures as transient (retried
// while attempts remain, expired after) or permanent (failed immediately).
func (w *Worker) record(ctx context.Context, job *domain.Job, result []byte, execErr error) {
	if execErr == nil {
		if err := w.jobs.Complete(ctx, job.ID, result); err != nil {
			w.storeError("complete", job.ID, err)
			return
		}
		w.log.Info("job completed", zap.String("job_id", job.ID))
		return
	}

	reason := execErr.Error()
	switch {
	case !domain.IsTransient(execErr):
		if err := w.jobs.Fail(ctx, job.ID, reason); err != nil {
			w.storeError("fail", job.ID, err)
			return
		}
		w.log.Warn("job failed", zap.String("job_id", job.ID), zap.String("reason", reason))
	case job.CanRetry():
		if err := w.jobs.Requeue(ctx, job.ID, reason); err != nil {
			w.storeError("requeue", job.ID, err)
			return
		}
		w.log.Warn("job requeued after transient failure",
			zap.String("job_id", job.ID),
			zap.Int("attempt", job.AttemptCount),
			zap.String("reason", reason),
		)
	default:
		if err := w.jobs.Expire(ctx, job.ID, reason); err != nil {
			w.storeError("expire", job.ID, err)
			return
		}
		w.log.Warn("job expired, retries exhausted",
			zap.String("job_id", job.ID),
			zap.String("reason", reason),
		)
	}
}

func (w *Worker) storeError(op, jobID string, err error) {
	// Conflicts and missing rows mean someone else moved the job, not that
	// the store is down.
	if errors.Is(err, domain.ErrVersionConflict) || errors.Is(err, domain.ErrJobNotFound) {
		return
	}
	w.storeFailures++
	w.log.Error("job store error",
		zap.String("op", op),
		zap.String("job_id", jobID),
		zap.Int("consecutive", w.storeFailures),
		zap.Error(err),
	)
}
