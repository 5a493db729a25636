package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tkrause/jobgate/internal/domain"
	"go.uber.org/zap"
)

// mockRepo implements the slice of domain.JobRepository the scheduler and
// reaper touch.
type mockRepo struct {
	mu      sync.Mutex
	pending []domain.Job

	reclaimCalls  int
	reclaimBefore time.Time
	requeued      int64
	expired       int64
	overdue       int64
}

func (m *mockRepo) FindPending(ctx context.Context, limit int) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) > limit {
		return append([]domain.Job(nil), m.pending[:limit]...), nil
	}
	return append([]domain.Job(nil), m.pending...), nil
}

func (m *mockRepo) CountPending(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending), nil
}

func (m *mockRepo) ReclaimStalled(ctx context.Context, olderThan time.Time) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reclaimCalls++
	m.reclaimBefore = olderThan
	return m.requeued, m.expired, nil
}

func (m *mockRepo) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overdue, nil
}

func (m *mockRepo) Create(ctx context.Context, job *domain.Job, charge domain.Charge) error {
	return nil
}
func (m *mockRepo) Get(ctx context.Context, id string) (*domain.Job, error) {
	return nil, domain.ErrJobNotFound
}
func (m *mockRepo) FindByIdempotencyKey(ctx context.Context, ownerID, key string) (*domain.Job, error) {
	return nil, domain.ErrJobNotFound
}
func (m *mockRepo) QueuePosition(ctx context.Context, job *domain.Job) (int, error) { return 0, nil }
func (m *mockRepo) Claim(ctx context.Context, id string, version int64) (*domain.Job, error) {
	return nil, domain.ErrVersionConflict
}
func (m *mockRepo) MarkProcessing(ctx context.Context, id string, version int64) (*domain.Job, error) {
	return nil, domain.ErrVersionConflict
}
func (m *mockRepo) Complete(ctx context.Context, id string, result []byte) error { return nil }
func (m *mockRepo) Fail(ctx context.Context, id string, reason string) error     { return nil }
func (m *mockRepo) Requeue(ctx context.Context, id string, reason string) error  { return nil }
func (m *mockRepo) Expire(ctx context.Context, id string, reason string) error   { return nil }

func pendingJobs(ids ...string) []domain.Job {
	out := make([]domain.Job, len(ids))
	for i, id := range ids {
		out[i] = domain.Job{ID: id, State: domain.StatePending}
	}
	return out
}

func TestScheduler_FIFOOrder(t *testing.T) {
	repo := &mockRepo{pending: pendingJobs("j1", "j2", "j3")}
	s := New(repo, time.Minute, 10, zap.NewNop())
	ctx := context.Background()

	for _, want := range []string{"j1", "j2", "j3"} {
		id, ok := s.NextCandidate(ctx)
		if !ok || id != want {
			t.Fatalf("NextCandidate() = (%q, %v), want %q", id, ok, want)
		}
	}
	if id, ok := s.NextCandidate(ctx); ok {
		t.Errorf("NextCandidate() = %q after drain, want none", id)
	}
}

func TestScheduler_NoDoubleDispatchWithinGrace(t *testing.T) {
	repo := &mockRepo{pending: pendingJobs("j1")}
	s := New(repo, time.Minute, 10, zap.NewNop())
	ctx := context.Background()

	if _, ok := s.NextCandidate(ctx); !ok {
		t.Fatal("NextCandidate() returned none")
	}
	// The job is still pending in the store but inside the grace window.
	if id, ok := s.NextCandidate(ctx); ok {
		t.Errorf("NextCandidate() = %q, want no candidate inside grace", id)
	}
}

func TestScheduler_ResurfacesAfterGrace(t *testing.T) {
	repo := &mockRepo{pending: pendingJobs("j1")}
	s := New(repo, 10*time.Millisecond, 10, zap.NewNop())
	ctx := context.Background()

	if _, ok := s.NextCandidate(ctx); !ok {
		t.Fatal("NextCandidate() returned none")
	}
	time.Sleep(20 * time.Millisecond)
	id, ok := s.NextCandidate(ctx)
	if !ok || id != "j1" {
		t.Errorf("NextCandidate() after grace = (%q, %v), want j1", id, ok)
	}
}

func TestScheduler_ConcurrentWorkersGetDistinctCandidates(t *testing.T) {
	repo := &mockRepo{pending: pendingJobs("j1", "j2", "j3", "j4")}
	s := New(repo, time.Minute, 10, zap.NewNop())
	ctx := context.Background()

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if id, ok := s.NextCandidate(ctx); ok {
				mu.Lock()
				seen[id]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	for id, n := range seen {
		if n != 1 {
			t.Errorf("candidate %s dispatched %d times", id, n)
		}
	}
	if len(seen) != 4 {
		t.Errorf("distinct candidates = %d, want 4", len(seen))
	}
}

func TestReaper_Sweep(t *testing.T) {
	repo := &mockRepo{requeued: 2, expired: 1, overdue: 3}
	r := NewReaper(repo, time.Minute, 10*time.Minute, zap.NewNop())

	before := time.Now()
	r.Sweep(context.Background())

	if repo.reclaimCalls != 1 {
		t.Fatalf("ReclaimStalled calls = %d, want 1", repo.reclaimCalls)
	}
	cutoff := before.Add(-10 * time.Minute)
	if repo.reclaimBefore.Before(cutoff.Add(-time.Second)) || repo.reclaimBefore.After(cutoff.Add(time.Second)) {
		t.Errorf("reclaim cutoff = %v, want ~%v", repo.reclaimBefore, cutoff)
	}
}
