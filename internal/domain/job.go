package domain

import "time"

// JobType identifies the task family a job belongs to.
type JobType string

const (
	TypeConversion    JobType = "conversion"
	TypeOutline       JobType = "outline-generation"
	TypeFormatRewrite JobType = "format-rewrite"
)

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	switch t {
	case TypeConversion, TypeOutline, TypeFormatRewrite:
		return true
	}
	return false
}

// JobState represents the position of a job in its state machine.
type JobState string

const (
	StatePending    JobState = "pending"
	StateClaimed    JobState = "claimed"
	StateProcessing JobState = "processing"
	StateCompleted  JobState = "completed"
	StateFailed     JobState = "failed"
	StateExpired    JobState = "expired"
)

// Terminal reports whether no further transitions can occur from s.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateExpired
}

// Job is an admitted unit of work. Payload is immutable after creation;
// Result and FailureReason are set at most once, on entry to a terminal state.
type Job struct {
	ID             string
	OwnerID        string
	Type           JobType
	Payload        []byte
	State          JobState
	Result         []byte
	FailureReason  string
	AttemptCount   int
	MaxAttempts    int
	IdempotencyKey string
	Version        int64
	CreatedAt      time.Time
	ClaimedAt      *time.Time
	UpdatedAt      time.Time
	ExpiresAt      time.Time
}

// CanRetry reports whether the job has attempts left for another execution.
func (j *Job) CanRetry() bool {
	return j.AttemptCount < j.MaxAttempts && !j.State.Terminal()
}

// Owned reports whether accountID is the submitter of the job.
func (j *Job) Owned(accountID string) bool {
	return j.OwnerID == accountID
}
