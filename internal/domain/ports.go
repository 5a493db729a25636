package domain

import (
	"context"
	"time"
)

// Charge is the entitlement mutation admitted alongside a job. It is applied
// atomically with job creation: neither side takes effect without the other.
type Charge struct {
	Bonus  bool
	Points int64
}

// JobRepository is the driven port for the durable job store.
//
// Claim and MarkProcessing are compare-and-set transitions keyed on the
// expected version; losers observe ErrVersionConflict. Complete, Fail,
// Requeue and Expire are guarded by state preconditions so a terminal job
// is never overwritten.
type JobRepository interface {
	Create(ctx context.Context, job *Job, charge Charge) error
	Get(ctx context.Context, id string) (*Job, error)
	FindByIdempotencyKey(ctx context.Context, ownerID, key string) (*Job, error)
	FindPending(ctx context.Context, limit int) ([]Job, error)
	CountPending(ctx context.Context) (int, error)
	QueuePosition(ctx context.Context, job *Job) (int, error)

	Claim(ctx context.Context, id string, version int64) (*Job, error)
	MarkProcessing(ctx context.Context, id string, version int64) (*Job, error)
	Complete(ctx context.Context, id string, result []byte) error
	Fail(ctx context.Context, id string, reason string) error
	Requeue(ctx context.Context, id string, reason string) error
	Expire(ctx context.Context, id string, reason string) error

	// ReclaimStalled requeues or expires claimed/processing jobs whose last
	// update is older than olderThan. It runs off an external clock so a
	// crashed worker cannot leave a job stuck.
	ReclaimStalled(ctx context.Context, olderThan time.Time) (requeued, expired int64, err error)
	// ExpireOverdue expires non-terminal jobs whose overall deadline passed.
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
}

// EntitlementRepository is the driven port for the entitlement ledger.
type EntitlementRepository interface {
	// Get returns the entitlement for the account, creating a default free
	// record on first touch.
	Get(ctx context.Context, accountID string) (*Entitlement, error)
	// ApplyEvent records a payment event and applies its effect in one
	// transaction. Re-delivery of a known event returns (false, nil).
	ApplyEvent(ctx context.Context, ev *PaymentEvent) (bool, error)
}

// Executor is the worker-to-task boundary. Implementations must classify
// failures with Transient or Permanent; the result bytes must be durably
// produced before Execute returns.
type Executor interface {
	Type() JobType
	Execute(ctx context.Context, payload []byte) ([]byte, error)
}
