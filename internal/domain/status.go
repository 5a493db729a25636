package domain

import "context"

// Snapshot is the poller-visible view of a job. For a terminal job the
// snapshot is stable: repeated reads return identical contents.
type Snapshot struct {
	JobID         string
	State         JobState
	Result        []byte
	FailureReason string
	// QueuePosition is a best-effort estimate, only set for pending jobs.
	// -1 means unknown.
	QueuePosition int
}

// StatusService serves read-only job status to submitters.
type StatusService struct {
	jobs JobRepository
}

// NewStatusService creates a StatusService.
func NewStatusService(jobs JobRepository) *StatusService {
	return &StatusService{jobs: jobs}
}

// Get returns the current snapshot of a job. Only the job's owner may read
// it; any other requester gets ErrNotOwner.
func (s *StatusService) Get(ctx context.Context, jobID, requesterID string) (*Snapshot, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.Owned(requesterID) {
		return nil, ErrNotOwner
	}

	snap := &Snapshot{
		JobID:         job.ID,
		State:         job.State,
		Result:        job.Result,
		FailureReason: job.FailureReason,
		QueuePosition: -1,
	}
	if job.State == StatePending {
		pos, err := s.jobs.QueuePosition(ctx, job)
		if err == nil {
			snap.QueuePosition = pos
		}
	}
	return snap, nil
}
