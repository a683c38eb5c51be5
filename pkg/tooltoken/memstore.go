package tooltoken

import (
	"context"
	"sync"
	"time"

	"github.com/clasper-io/clasper/pkg/clasperrors"
)

// InMemoryStore is a mutex-guarded map store. Consume is a single
// lock-held compare-and-swap on UsedAt, giving the same CAS guarantee as
// the SQLite store's conditional UPDATE.
type InMemoryStore struct {
	mu   sync.Mutex
	rows map[string]*Row
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{rows: make(map[string]*Row)}
}

func (s *InMemoryStore) Insert(ctx context.Context, row *Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *row
	s.rows[row.JTI] = &cp
	return nil
}

func (s *InMemoryStore) Get(ctx context.Context, jti string) (*Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[jti]
	if !ok {
		return nil, clasperrors.New(clasperrors.KindInvalidToolToken, "jti not found")
	}
	cp := *row
	return &cp, nil
}

func (s *InMemoryStore) Consume(ctx context.Context, jti string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[jti]
	if !ok {
		return false, clasperrors.New(clasperrors.KindInvalidToolToken, "jti not found")
	}
	if row.UsedAt != nil {
		return false, nil
	}
	usedAt := now
	row.UsedAt = &usedAt
	return true, nil
}
