package adapter_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clasper-io/clasper/pkg/adapter"
)

func TestRegistry_GetLatestBySemver(t *testing.T) {
	reg := adapter.NewInMemoryRegistry()
	require.NoError(t, reg.Upsert(&adapter.Registration{TenantID: "t1", AdapterID: "a1", Version: "1.0.0", Enabled: true}))
	require.NoError(t, reg.Upsert(&adapter.Registration{TenantID: "t1", AdapterID: "a1", Version: "1.2.0", Enabled: true}))
	require.NoError(t, reg.Upsert(&adapter.Registration{TenantID: "t1", AdapterID: "a1", Version: "1.10.0", Enabled: true}))

	latest, err := reg.GetLatest("t1", "a1")
	require.NoError(t, err)
	assert.Equal(t, "1.10.0", latest.Version)
}

func TestRegistry_TenantIsolation(t *testing.T) {
	reg := adapter.NewInMemoryRegistry()
	require.NoError(t, reg.Upsert(&adapter.Registration{TenantID: "t1", AdapterID: "a1", Version: "1.0.0"}))

	_, err := reg.Get("t2", "a1", "1.0.0")
	assert.ErrorIs(t, err, adapter.ErrNotFound)
}

func TestRegistration_KeyLifecycle(t *testing.T) {
	reg := &adapter.Registration{TenantID: "t1", AdapterID: "a1", Version: "1.0.0"}

	key1 := &adapter.TelemetryKey{Algorithm: adapter.AlgorithmEd25519, KeyID: "k1", CreatedAt: time.Now()}
	require.NoError(t, reg.SetKey(key1))
	assert.Equal(t, key1, reg.ActiveKey())

	// Setting a second key without revoking the first must fail.
	key2 := &adapter.TelemetryKey{Algorithm: adapter.AlgorithmEd25519, KeyID: "k2", CreatedAt: time.Now()}
	assert.Error(t, reg.SetKey(key2))

	require.NoError(t, reg.RevokeKey("k1", time.Now()))
	assert.Nil(t, reg.ActiveKey())

	require.NoError(t, reg.SetKey(key2))
	assert.Equal(t, key2, reg.ActiveKey())
}

func TestRegistry_ActiveTelemetryKey_MissingKey(t *testing.T) {
	reg := adapter.NewInMemoryRegistry()
	require.NoError(t, reg.Upsert(&adapter.Registration{TenantID: "t1", AdapterID: "a1", Version: "1.0.0"}))

	_, err := reg.ActiveTelemetryKey("t1", "a1", "1.0.0")
	assert.Error(t, err)
}
