package telemetry

import (
	"context"
	"sync"
	"time"
)

// Violation is a single integrity or policy violation recorded alongside
// the audit trail (spec §4.10 step 6, "violations -> C8 plus a violation
// table").
type Violation struct {
	TenantID    string
	AdapterID   string
	ExecutionID string
	Kind        string
	Detail      string
	OccurredAt  time.Time
}

// ViolationStore is the per-tenant violation table.
type ViolationStore struct {
	mu         sync.Mutex
	violations map[string][]Violation
}

func NewViolationStore() *ViolationStore {
	return &ViolationStore{violations: make(map[string][]Violation)}
}

func (s *ViolationStore) Record(ctx context.Context, v Violation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.violations[v.TenantID] = append(s.violations[v.TenantID], v)
	return nil
}

func (s *ViolationStore) List(tenantID string) []Violation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Violation(nil), s.violations[tenantID]...)
}
