package approval

import (
	"context"
	"sync"
	"time"

	"github.com/clasper-io/clasper/pkg/clasperrors"
)

// InMemoryStore is a mutex-guarded map store. CompareAndSwapStatus holds
// the lock for the whole check-and-mutate, giving the same single-winner
// guarantee a SQL `UPDATE ... WHERE status = ?` gives.
type InMemoryStore struct {
	mu        sync.Mutex
	decisions map[string]*Decision // decisionID -> decision
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{decisions: make(map[string]*Decision)}
}

func (s *InMemoryStore) Insert(ctx context.Context, d *Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions[d.DecisionID] = d
	return nil
}

func (s *InMemoryStore) Get(ctx context.Context, tenantID, decisionID string) (*Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.decisions[decisionID]
	if !ok || d.TenantID != tenantID {
		return nil, clasperrors.New(clasperrors.KindDecisionNotFound, "decision not found")
	}
	return d, nil
}

func (s *InMemoryStore) CompareAndSwapStatus(ctx context.Context, tenantID, decisionID string, from, to Status, mutate func(*Decision)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.decisions[decisionID]
	if !ok || d.TenantID != tenantID {
		return false, clasperrors.New(clasperrors.KindDecisionNotFound, "decision not found")
	}
	if d.Status != from {
		return false, nil
	}
	d.Status = to
	if mutate != nil {
		mutate(d)
	}
	return true, nil
}

func (s *InMemoryStore) ListExpirable(ctx context.Context, now time.Time) ([]*Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Decision
	for _, d := range s.decisions {
		if d.Status == StatusPending && !d.ExpiresAt.After(now) {
			out = append(out, d)
		}
	}
	return out, nil
}
