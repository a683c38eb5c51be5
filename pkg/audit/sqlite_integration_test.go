package audit_test

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clasper-io/clasper/pkg/audit"
)

// TestSQLiteStore_TamperDetection drives the relational C8 backing against a
// real in-memory SQLite database (spec §5's reference engine) through the
// scenario from spec §8 S5: append two entries, mutate event_data directly
// in storage, and confirm VerifyChain reports exactly the tampered seq.
func TestSQLiteStore_TamperDetection(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1) // :memory: is per-connection; pin to one so migrate()'s schema is visible to every query.

	store, err := audit.NewSQLiteStore(db)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = store.Append(ctx, "t1", "execution_decision", map[string]interface{}{"n": "1"}, "adapter:a1", "exec-1")
	require.NoError(t, err)
	_, err = store.Append(ctx, "t1", "execution_decision", map[string]interface{}{"n": "2"}, "adapter:a1", "exec-2")
	require.NoError(t, err)

	result, err := store.VerifyChain(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Empty(t, result.Mismatches)

	_, err = db.ExecContext(ctx, `UPDATE audit_chain SET event_data = ? WHERE tenant_id = ? AND seq = ?`,
		`{"n":"tampered"}`, "t1", 2)
	require.NoError(t, err)

	result, err = store.VerifyChain(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, []uint64{2}, result.Mismatches)
}

// TestSQLiteStore_TenantIsolation confirms List never returns another
// tenant's rows (spec §8 property 9).
func TestSQLiteStore_TenantIsolation(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)

	store, err := audit.NewSQLiteStore(db)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = store.Append(ctx, "t1", "execution_decision", map[string]interface{}{"n": "1"}, "adapter:a1", "")
	require.NoError(t, err)
	_, err = store.Append(ctx, "t2", "execution_decision", map[string]interface{}{"n": "1"}, "adapter:a2", "")
	require.NoError(t, err)

	entries, err := store.List(ctx, "t1", 0, 0)
	require.NoError(t, err)
	for _, e := range entries {
		assert.Equal(t, "t1", e.TenantID)
	}
}
