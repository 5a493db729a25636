package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/tkrause/jobgate/internal/domain"
	"go.uber.org/zap"
)

// Scheduler feeds pending job IDs to idle workers in admission order. Each
// candidate is handed to at most one worker within the dispatch grace
// window; a candidate that is not claimed before the window lapses
// re-surfaces on a later refill. Claim races are settled by the job store,
// not here.
type Scheduler struct {
	jobs     domain.JobRepository
	log      *zap.Logger
	grace    time.Duration
	fillSize int

	mu         sync.Mutex
	queue      []string
	dispatched map[string]time.Time
}

// New creates a Scheduler.
func New(jobs domain.JobRepository, grace time.Duration, fillSize int, log *zap.Logger) *Scheduler {
	return &Scheduler{
		jobs:       jobs,
		log:        log,
		grace:      grace,
		fillSize:   fillSize,
		dispatched: make(map[string]time.Time),
	}
}

// NextCandidate returns the next pending job ID, or false when none is
// available. It never blocks; callers poll again after their idle interval.
func (s *Scheduler) NextCandidate(ctx context.Context) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		if err := s.refill(ctx); err != nil {
			s.log.Warn("scheduler refill failed", zap.Error(err))
			return "", false
		}
	}
	if len(s.queue) == 0 {
		return "", false
	}

	id := s.queue[0]
	s.queue = s.queue[1:]
	s.dispatched[id] = time.Now()
	return id, true
}

// refill loads pending jobs in FIFO order, skipping IDs still inside the
// dispatch grace window. Caller holds s.mu.
func (s *Scheduler) refill(ctx context.Context) error {
	jobs, err := s.jobs.FindPending(ctx, s.fillSize)
	if err != nil {
		return err
	}

	now := time.Now()
	for id, at := range s.dispatched {
		if now.Sub(at) > s.grace {
			delete(s.dispatched, id)
		}
	}
	for _, job := range jobs {
		if _, inFlight := s.dispatched[job.ID]; inFlight {
			continue
		}
		s.queue = append(s.queue, job.ID)
	}
	return nil
}

// Depth returns the number of pending jobs in the store.
func (s *Scheduler) Depth(ctx context.Context) (int, error) {
	return s.jobs.CountPending(ctx)
}
