package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MaxPayloadBytes caps the task-specific input carried by a job.
const MaxPayloadBytes = 1 << 20

// SubmitRequest is a request to admit one unit of work.
type SubmitRequest struct {
	AccountID      string
	Type           JobType
	Payload        []byte
	IdempotencyKey string
}

// AdmissionConfig tunes the admission rules.
type AdmissionConfig struct {
	MaxAttempts   int
	MaxQueueDepth int
	JobTTL        time.Duration
	Costs         map[JobType]int64
}

// AdmissionService applies the entitlement rules and hands approved work to
// the job store. The charge and the job insert are one atomic unit.
type AdmissionService struct {
	jobs   JobRepository
	ledger EntitlementRepository
	cfg    AdmissionConfig
	log    *zap.Logger
	now    func() time.Time
}

// NewAdmissionService creates an AdmissionService.
func NewAdmissionService(jobs JobRepository, ledger EntitlementRepository, cfg AdmissionConfig, log *zap.Logger) *AdmissionService {
	return &AdmissionService{
		jobs:   jobs,
		ledger: ledger,
		cfg:    cfg,
		log:    log,
		now:    time.Now,
	}
}

// Submit evaluates the account's entitlement and either creates a job or
// returns a Rejection. Re-submission with a known idempotency key returns
// the previously created job without charging again.
func (s *AdmissionService) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		prior, err := s.jobs.FindByIdempotencyKey(ctx, req.AccountID, req.IdempotencyKey)
		if err == nil {
			return prior, nil
		}
		if !errors.Is(err, ErrJobNotFound) {
			return nil, fmt.Errorf("idempotency lookup: %w", err)
		}
	}

	depth, err := s.jobs.CountPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue depth: %w", err)
	}
	if depth >= s.cfg.MaxQueueDepth {
		return nil, Overloaded("queue is full, try again shortly")
	}

	ent, err := s.ledger.Get(ctx, req.AccountID)
	if err != nil {
		return nil, fmt.Errorf("entitlement read: %w", err)
	}

	now := s.now()
	charge, rej := s.evaluate(ent, req.Type, now)
	if rej != nil {
		return nil, rej
	}

	job := &Job{
		ID:             uuid.NewString(),
		OwnerID:        req.AccountID,
		Type:           req.Type,
		Payload:        req.Payload,
		State:          StatePending,
		MaxAttempts:    s.cfg.MaxAttempts,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(s.cfg.JobTTL),
	}

	if err := s.jobs.Create(ctx, job, charge); err != nil {
		switch {
		case errors.Is(err, ErrBonusUsed):
			return nil, QuotaExceeded("free allowance already used; upgrade to a subscription for unlimited access")
		case errors.Is(err, ErrInsufficient):
			return nil, QuotaExceeded("not enough points for this operation; top up your balance")
		case errors.Is(err, ErrDuplicateKey):
			// Lost a race against an identical submission; hand back its job.
			return s.jobs.FindByIdempotencyKey(ctx, req.AccountID, req.IdempotencyKey)
		}
		return nil, fmt.Errorf("create job: %w", err)
	}

	s.log.Info("job admitted",
		zap.String("job_id", job.ID),
		zap.String("owner_id", job.OwnerID),
		zap.String("job_type", string(job.Type)),
		zap.Bool("bonus", charge.Bonus),
		zap.Int64("points", charge.Points),
	)
	return job, nil
}

// evaluate decides what the admission costs for this account.
func (s *AdmissionService) evaluate(ent *Entitlement, t JobType, now time.Time) (Charge, *Rejection) {
	if ent.ActiveAt(now) {
		if cost := s.cfg.Costs[t]; cost > 0 {
			return Charge{Points: cost}, nil
		}
		return Charge{}, nil
	}
	// Inactive accounts get a single lifetime bonus use. The conditional
	// update in the store settles concurrent submissions.
	return Charge{Bonus: true}, nil
}

func validate(req SubmitRequest) error {
	if req.AccountID == "" {
		return InvalidPayload("account_id is required")
	}
	if !req.Type.Valid() {
		return InvalidPayload(fmt.Sprintf("unknown job type %q", req.Type))
	}
	if len(req.Payload) == 0 {
		return InvalidPayload("payload is required")
	}
	if len(req.Payload) > MaxPayloadBytes {
		return InvalidPayload("payload too large")
	}
	if !json.Valid(req.Payload) {
		return InvalidPayload("payload must be valid JSON")
	}
	return nil
}
