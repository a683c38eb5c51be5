package approval

import (
	"context"
	"time"
)

// Sweeper periodically transitions pending decisions past their
// expires_at to expired and writes an audit entry for each, per spec
// §4.7. It runs as an explicit goroutine tied to the caller's context,
// following the same convention as the rest of the module's background
// workers.
type Sweeper struct {
	store    Store
	audit    AuditSink
	interval time.Duration
}

func NewSweeper(store Store, audit AuditSink, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{store: store, audit: audit, interval: interval}
}

// Run blocks until ctx is cancelled, sweeping at Sweeper's interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	now := time.Now().UTC()
	expirable, err := s.store.ListExpirable(ctx, now)
	if err != nil {
		return
	}

	for _, d := range expirable {
		won, err := s.store.CompareAndSwapStatus(ctx, d.TenantID, d.DecisionID, StatusPending, StatusExpired, func(d *Decision) {
			d.ResolvedAt = &now
		})
		if err != nil || !won {
			continue
		}
		if s.audit != nil {
			_ = s.audit.Append(ctx, d.TenantID, "decision_expired", map[string]interface{}{
				"decision_id": d.DecisionID,
			}, "system", d.DecisionID)
		}
	}
}
