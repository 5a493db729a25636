package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/tkrause/jobgate/internal/domain"
)

const jobColumns = `id, owner_id, job_type, payload, state,
	COALESCE(result, X''), COALESCE(failure_reason, ''),
	attempt_count, max_attempts, COALESCE(idempotency_key, ''),
	version, created_at, claimed_at, updated_at, expires_at`

// JobRepository implements domain.JobRepository on SQLite. Every state
// transition is a conditional UPDATE; zero rows affected means the caller
// lost the race.
type JobRepository struct {
	db *sql.DB
}

// NewJobRepository creates a JobRepository over an opened database.
func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts the job and applies its charge in one transaction. No job
// is created without its cost being charged and no charge happens without
// the job.
func (r *JobRepository) Create(ctx context.Context, job *domain.Job, charge domain.Charge) error {
	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		if charge.Bonus {
			res, err := tx.ExecContext(ctx,
				`UPDATE entitlements SET bonus_used = 1, version = version + 1, updated_at = ?
				 WHERE account_id = ? AND bonus_used = 0`,
				now, job.OwnerID,
			)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return domain.ErrBonusUsed
			}
		}
		if charge.Points > 0 {
			res, err := tx.ExecContext(ctx,
				`UPDATE entitlements SET point_balance = point_balance - ?, version = version + 1, updated_at = ?
				 WHERE account_id = ? AND point_balance >= ?`,
				charge.Points, now, job.OwnerID, charge.Points,
			)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return domain.ErrInsufficient
			}
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO jobs (id, owner_id, job_type, payload, state, attempt_count,
			   max_attempts, idempotency_key, version, created_at, updated_at, expires_at)
			 VALUES (?, ?, ?, ?, ?, 0, ?, ?, 0, ?, ?, ?)`,
			job.ID, job.OwnerID, job.Type, job.Payload, domain.StatePending,
			job.MaxAttempts, job.IdempotencyKey, job.CreatedAt.UTC(), job.UpdatedAt.UTC(), job.ExpiresAt.UTC(),
		)
		if isUniqueViolation(err) {
			return domain.ErrDuplicateKey
		}
		return err
	})
}

// Get retrieves a job by ID.
func (r *JobRepository) Get(ctx context.Context, id string) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

// FindByIdempotencyKey returns the job previously admitted under the key.
func (r *JobRepository) FindByIdempotencyKey(ctx context.Context, ownerID, key string) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE owner_id = ? AND idempotency_key = ?`,
		ownerID, key)
	return scanJob(row)
}

// FindPending returns pending jobs in admission order.
func (r *JobRepository) FindPending(ctx context.Context, limit int) ([]domain.Job, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE state = ?
		 ORDER BY created_at ASC, id ASC LIMIT ?`,
		domain.StatePending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// CountPending returns the current queue depth.
func (r *JobRepository) CountPending(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE state = ?`, domain.StatePending).Scan(&n)
	return n, err
}

// QueuePosition returns the number of pending jobs admitted before this one.
func (r *JobRepository) QueuePosition(ctx context.Context, job *domain.Job) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE state = ?
		   AND (created_at < ? OR (created_at = ? AND id < ?))`,
		domain.StatePending, job.CreatedAt.UTC(), job.CreatedAt.UTC(), job.ID).Scan(&n)
	return n, err
}

// Claim takes exclusive ownership of a pending job via compare-and-set on
// (state, version). Losers get ErrVersionConflict.
func (r *JobRepository) Claim(ctx context.Context, id string, version int64) (*domain.Job, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, version = version + 1, attempt_count = attempt_count + 1,
		   claimed_at = ?, updated_at = ?
		 WHERE id = ? AND state = ? AND version = ?`,
		domain.StateClaimed, now, now, id, domain.StatePending, version,
	)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, domain.ErrVersionConflict
	}
	return r.Get(ctx, id)
}

// MarkProcessing moves a claimed job to processing, same CAS discipline.
func (r *JobRepository) MarkProcessing(ctx context.Context, id string, version int64) (*domain.Job, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND state = ? AND version = ?`,
		domain.StateProcessing, time.Now().UTC(), id, domain.StateClaimed, version,
	)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, domain.ErrVersionConflict
	}
	return r.Get(ctx, id)
}

// Complete records the result and enters the terminal completed state. The
// processing precondition means a reclaimed job cannot be completed twice.
func (r *JobRepository) Complete(ctx context.Context, id string, result []byte) error {
	return r.finish(ctx, id, domain.StateCompleted, result, "")
}

// Fail enters the terminal failed state with the given reason.
func (r *JobRepository) Fail(ctx context.Context, id string, reason string) error {
	return r.finish(ctx, id, domain.StateFailed, nil, reason)
}

func (r *JobRepository) finish(ctx context.Context, id string, state domain.JobState, result []byte, reason string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, result = ?, failure_reason = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND state = ?`,
		state, result, reason, time.Now().UTC(), id, domain.StateProcessing,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrVersionConflict
	}
	return nil
}

// Requeue returns a processing job to pending after a transient failure.
// The attempt already counted at claim time.
func (r *JobRepository) Requeue(ctx context.Context, id string, reason string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, failure_reason = ?, claimed_at = NULL,
		   version = version + 1, updated_at = ?
		 WHERE id = ? AND state = ?`,
		domain.StatePending, reason, time.Now().UTC(), id, domain.StateProcessing,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrVersionConflict
	}
	return nil
}

// Expire marks a job expired from any non-terminal state.
func (r *JobRepository) Expire(ctx context.Context, id string, reason string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, failure_reason = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND state IN (?, ?, ?)`,
		domain.StateExpired, reason, time.Now().UTC(), id,
		domain.StatePending, domain.StateClaimed, domain.StateProcessing,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrVersionConflict
	}
	return nil
}

// ReclaimStalled recovers jobs abandoned in claimed/processing past the
// deadline: back to pending while attempts remain, expired otherwise.
func (r *JobRepository) ReclaimStalled(ctx context.Context, olderThan time.Time) (requeued, expired int64, err error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, failure_reason = 'processing deadline exceeded',
		   claimed_at = NULL, version = version + 1, updated_at = ?
		 WHERE state IN (?, ?) AND updated_at < ? AND attempt_count < max_attempts`,
		domain.StatePending, now,
		domain.StateClaimed, domain.StateProcessing, olderThan.UTC(),
	)
	if err != nil {
		return 0, 0, err
	}
	requeued, _ = res.RowsAffected()

	res, err = r.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, failure_reason = 'processing deadline exceeded, retries exhausted',
		   version = version + 1, updated_at = ?
		 WHERE state IN (?, ?) AND updated_at < ? AND attempt_count >= max_attempts`,
		domain.StateExpired, now,
		domain.StateClaimed, domain.StateProcessing, olderThan.UTC(),
	)
	if err != nil {
		return requeued, 0, err
	}
	expired, _ = res.RowsAffected()
	return requeued, expired, nil
}

// ExpireOverdue expires any non-terminal job whose overall deadline passed.
func (r *JobRepository) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, failure_reason = 'job deadline exceeded',
		   version = version + 1, updated_at = ?
		 WHERE state IN (?, ?, ?) AND expires_at < ?`,
		domain.StateExpired, now.UTC(),
		domain.StatePending, domain.StateClaimed, domain.StateProcessing, now.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*domain.Job, error) {
	var job domain.Job
	var state, jobType string
	var claimedAt sql.NullTime
	err := row.Scan(&job.ID, &job.OwnerID, &jobType, &job.Payload, &state,
		&job.Result, &job.FailureReason, &job.AttemptCount, &job.MaxAttempts,
		&job.IdempotencyKey, &job.Version, &job.CreatedAt, &claimedAt,
		&job.UpdatedAt, &job.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	job.State = domain.JobState(state)
	job.Type = domain.JobType(jobType)
	if claimedAt.Valid {
		t := claimedAt.Time
		job.ClaimedAt = &t
	}
	if len(job.Result) == 0 {
		job.Result = nil
	}
	return &job, nil
}
