package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// idempotencyKey uniquely identifies one (execution_id, payload_type,
// payload_hash) triple, per spec §4.10: "An envelope that duplicates
// (execution_id, payload_type, payload_hash) is idempotent — accepted
// silently, no second side effect."
func idempotencyKey(executionID string, payloadType PayloadType, payloadHash string) string {
	return executionID + "|" + string(payloadType) + "|" + payloadHash
}

// IdempotencyStore is the authoritative de-dup check. SeenAndMark performs
// an atomic check-and-set: it reports whether the key was already present,
// and marks it present either way.
type IdempotencyStore interface {
	SeenAndMark(ctx context.Context, key string) (alreadySeen bool, err error)
}

// MemoryIdempotencyStore is the authoritative, in-process store. It is the
// source of truth for the idempotency guarantee — Redis (below) is only an
// optional fast pre-check ahead of it, never a substitute.
type MemoryIdempotencyStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{seen: make(map[string]struct{})}
}

func (s *MemoryIdempotencyStore) SeenAndMark(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[key]
	s.seen[key] = struct{}{}
	return ok, nil
}

// RedisPrecheck wraps a MemoryIdempotencyStore (or any authoritative store)
// with a Redis-backed fast path, per DOMAIN STACK's "idempotency pre-check
// cache" role for go-redis: each call marks the key in Redis with SETNX, but
// the Redis result never decides the outcome; every call returns the
// authoritative store's answer, so correctness never depends on Redis being
// configured or reachable.
type RedisPrecheck struct {
	client        *redis.Client
	ttl           time.Duration
	authoritative IdempotencyStore
}

func NewRedisPrecheck(client *redis.Client, ttl time.Duration, authoritative IdempotencyStore) *RedisPrecheck {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisPrecheck{client: client, ttl: ttl, authoritative: authoritative}
}

func (p *RedisPrecheck) SeenAndMark(ctx context.Context, key string) (bool, error) {
	if p.client != nil {
		fresh, err := p.client.SetNX(ctx, "telemetry:idem:"+key, "1", p.ttl).Result()
		if err == nil && !fresh {
			// Redis says it's already set; still confirm against the
			// authoritative store before trusting it.
			return p.authoritative.SeenAndMark(ctx, key)
		}
	}
	return p.authoritative.SeenAndMark(ctx, key)
}
