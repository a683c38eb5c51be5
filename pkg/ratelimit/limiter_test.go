package ratelimit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStore_AllowsUpToBurstThenDenies(t *testing.T) {
	store := NewInMemoryStore()
	policy := Policy{RPM: 60, Burst: 2}
	ctx := context.Background()

	allowed, err := store.Allow(ctx, "actor-1", policy, 1)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = store.Allow(ctx, "actor-1", policy, 1)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = store.Allow(ctx, "actor-1", policy, 1)
	require.NoError(t, err)
	assert.False(t, allowed, "third request should exceed burst of 2")
}

func TestInMemoryStore_TracksActorsIndependently(t *testing.T) {
	store := NewInMemoryStore()
	policy := Policy{RPM: 60, Burst: 1}
	ctx := context.Background()

	allowed, err := store.Allow(ctx, "actor-a", policy, 1)
	require.NoError(t, err)
	assert.True(t, allowed)

	// actor-b has its own bucket and is unaffected by actor-a's consumption.
	allowed, err = store.Allow(ctx, "actor-b", policy, 1)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestEvaluate_NilStoreErrors(t *testing.T) {
	err := Evaluate(context.Background(), nil, "actor-1", Policy{RPM: 60, Burst: 1})
	assert.Error(t, err)
}
