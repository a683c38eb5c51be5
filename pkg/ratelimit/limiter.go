// Package ratelimit provides the token-bucket limiter backing both the C1
// HTTP auth layer and C10 telemetry ingest: the same
// BackpressurePolicy/LimiterStore shape as a general-purpose backpressure
// subsystem, narrowed to Clasper's two call sites. The in-process fallback
// bucket wraps golang.org/x/time/rate.Limiter.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Policy defines a rate limit in requests-per-minute with a burst capacity.
type Policy struct {
	RPM   int
	Burst int
}

// Store abstracts the storage for rate limiting buckets.
type Store interface {
	// Allow reports whether actorID may perform an action costing cost
	// tokens under policy, and atomically deducts on success.
	Allow(ctx context.Context, actorID string, policy Policy, cost int) (bool, error)
}

// TokenBucket wraps golang.org/x/time/rate.Limiter, the standard per-actor
// token bucket used by InMemoryStore.
type TokenBucket struct {
	limiter *rate.Limiter
}

func NewTokenBucket(ratePerSec float64, capacity int) *TokenBucket {
	return &TokenBucket{limiter: rate.NewLimiter(rate.Limit(ratePerSec), capacity)}
}

func (tb *TokenBucket) Allow(cost int) bool {
	return tb.limiter.AllowN(time.Now(), cost)
}

// InMemoryStore is the single-instance fallback store, used whenever Redis
// (pkg/ratelimit's RedisStore) is not configured.
type InMemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*TokenBucket
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{buckets: make(map[string]*TokenBucket)}
}

func (s *InMemoryStore) Allow(_ context.Context, actorID string, policy Policy, cost int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tb, exists := s.buckets[actorID]
	if !exists {
		ratePerSec := float64(policy.RPM) / 60.0
		if ratePerSec <= 0 {
			ratePerSec = 1
		}
		tb = NewTokenBucket(ratePerSec, policy.Burst)
		s.buckets[actorID] = tb
	}
	return tb.Allow(cost), nil
}

// Evaluate is a convenience wrapper that turns a denied/erroring check into
// a single error value.
func Evaluate(ctx context.Context, store Store, actorID string, policy Policy) error {
	if store == nil {
		return fmt.Errorf("ratelimit: no store configured")
	}
	allowed, err := store.Allow(ctx, actorID, policy, 1)
	if err != nil {
		return fmt.Errorf("ratelimit: check failed: %w", err)
	}
	if !allowed {
		return fmt.Errorf("ratelimit: exceeded for %s", actorID)
	}
	return nil
}
