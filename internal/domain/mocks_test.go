package domain

import (
	"context"
	"sync"
	"time"
)

// mockLedger implements EntitlementRepository for testing.
type mockLedger struct {
	mu     sync.Mutex
	ents   map[string]*Entitlement
	events map[string]bool
}

func newMockLedger() *mockLedger {
	return &mockLedger{
		ents:   make(map[string]*Entitlement),
		events: make(map[string]bool),
	}
}

func (m *mockLedger) get(accountID string) *Entitlement {
	ent, ok := m.ents[accountID]
	if !ok {
		ent = &Entitlement{
			AccountID: accountID,
			Plan:      PlanFree,
			ExpiresAt: time.Unix(0, 0),
			UpdatedAt: time.Now(),
		}
		m.ents[accountID] = ent
	}
	return ent
}

func (m *mockLedger) Get(ctx context.Context, accountID string) (*Entitlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ent := *m.get(accountID)
	return &ent, nil
}

func (m *mockLedger) ApplyEvent(ctx context.Context, ev *PaymentEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.events[ev.EventID] {
		return false, nil
	}
	m.events[ev.EventID] = true
	ent := m.get(ev.AccountID)
	switch ev.Effect {
	case EffectCreditPoints:
		ent.PointBalance += ev.Points
	case EffectExtendSubscription:
		base := time.Now()
		if ent.ExpiresAt.After(base) {
			base = ent.ExpiresAt
		}
		ent.Plan = ev.Plan
		ent.ExpiresAt = base.AddDate(0, 0, ev.ExtendDays)
	}
	ent.Version++
	return true, nil
}

// mockJobs implements JobRepository for testing. Charges apply against the
// linked mockLedger under one lock, mirroring the store's transaction.
type mockJobs struct {
	mu     sync.Mutex
	jobs   map[string]*Job
	order  []string
	ledger *mockLedger

	createErr error
	countErr  error
}

func newMockJobs(ledger *mockLedger) *mockJobs {
	return &mockJobs{jobs: make(map[string]*Job), ledger: ledger}
}

func (m *mockJobs) Create(ctx context.Context, job *Job, charge Charge) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledger.mu.Lock()
	defer m.ledger.mu.Unlock()

	if job.IdempotencyKey != "" {
		for _, existing := range m.jobs {
			if existing.OwnerID == job.OwnerID && existing.IdempotencyKey == job.IdempotencyKey {
				return ErrDuplicateKey
			}
		}
	}
	ent := m.ledger.get(job.OwnerID)
	if charge.Bonus {
		if ent.BonusUsed {
			return ErrBonusUsed
		}
		ent.BonusUsed = true
		ent.Version++
	}
	if charge.Points > 0 {
		if ent.PointBalance < charge.Points {
			return ErrInsufficient
		}
		ent.PointBalance -= charge.Points
		ent.Version++
	}
	cp := *job
	m.jobs[job.ID] = &cp
	m.order = append(m.order, job.ID)
	return nil
}

func (m *mockJobs) Get(ctx context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *mockJobs) FindByIdempotencyKey(ctx context.Context, ownerID, key string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.OwnerID == ownerID && job.IdempotencyKey == key {
			cp := *job
			return &cp, nil
		}
	}
	return nil, ErrJobNotFound
}

func (m *mockJobs) FindPending(ctx context.Context, limit int) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Job
	for _, id := range m.order {
		if job := m.jobs[id]; job.State == StatePending {
			out = append(out, *job)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *mockJobs) CountPending(ctx context.Context) (int, error) {
	if m.countErr != nil {
		return 0, m.countErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, job := range m.jobs {
		if job.State == StatePending {
			n++
		}
	}
	return n, nil
}

func (m *mockJobs) QueuePosition(ctx context.Context, target *Job) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range m.order {
		if id == target.ID {
			break
		}
		if m.jobs[id].State == StatePending {
			n++
		}
	}
	return n, nil
}

func (m *mockJobs) Claim(ctx context.Context, id string, version int64) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	if job.State != StatePending || job.Version != version {
		return nil, ErrVersionConflict
	}
	job.State = StateClaimed
	job.Version++
	job.AttemptCount++
	now := time.Now()
	job.ClaimedAt = &now
	job.UpdatedAt = now
	cp := *job
	return &cp, nil
}

func (m *mockJobs) MarkProcessing(ctx context.Context, id string, version int64) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	if job.State != StateClaimed || job.Version != version {
		return nil, ErrVersionConflict
	}
	job.State = StateProcessing
	job.Version++
	job.UpdatedAt = time.Now()
	cp := *job
	return &cp, nil
}

func (m *mockJobs) transition(id string, from, to JobState, result []byte, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.State != from {
		return ErrVersionConflict
	}
	job.State = to
	job.Result = result
	job.FailureReason = reason
	job.Version++
	job.UpdatedAt = time.Now()
	return nil
}

func (m *mockJobs) Complete(ctx context.Context, id string, result []byte) error {
	return m.transition(id, StateProcessing, StateCompleted, result, "")
}

func (m *mockJobs) Fail(ctx context.Context, id string, reason string) error {
	return m.transition(id, StateProcessing, StateFailed, nil, reason)
}

func (m *mockJobs) Requeue(ctx context.Context, id string, reason string) error {
	return m.transition(id, StateProcessing, StatePending, nil, reason)
}

func (m *mockJobs) Expire(ctx context.Context, id string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.State.Terminal() {
		return ErrVersionConflict
	}
	job.State = StateExpired
	job.FailureReason = reason
	job.Version++
	job.UpdatedAt = time.Now()
	return nil
}

func (m *mockJobs) ReclaimStalled(ctx context.Context, olderThan time.Time) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var requeued, expired int64
	for _, job := range m.jobs {
		if job.State != StateClaimed && job.State != StateProcessing {
			continue
		}
		if !job.UpdatedAt.Before(olderThan) {
			continue
		}
		if job.AttemptCount < job.MaxAttempts {
			job.State = StatePending
			requeued++
		} else {
			job.State = StateExpired
			expired++
		}
		job.Version++
		job.UpdatedAt = time.Now()
	}
	return requeued, expired, nil
}

func (m *mockJobs) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, job := range m.jobs {
		if !job.State.Terminal() && job.ExpiresAt.Before(now) {
			job.State = StateExpired
			job.Version++
			n++
		}
	}
	return n, nil
}
