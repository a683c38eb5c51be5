package tooltoken

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists tool token rows with a migrate-on-construct,
// parameterized-query, manual-scan discipline. Consume relies on a single `UPDATE ...
// WHERE used_at IS NULL` statement for its CAS guarantee — SQLite's
// per-connection write serialization makes this atomic without an
// explicit transaction.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS tool_tokens (
        jti TEXT PRIMARY KEY,
        tenant_id TEXT NOT NULL,
        adapter_id TEXT NOT NULL,
        execution_id TEXT NOT NULL,
        tool TEXT NOT NULL,
        scope_hash TEXT NOT NULL,
        issued_at DATETIME NOT NULL,
        expires_at DATETIME NOT NULL,
        used_at DATETIME
    );`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteStore) Insert(ctx context.Context, row *Row) error {
	query := `INSERT INTO tool_tokens (
		jti, tenant_id, adapter_id, execution_id, tool, scope_hash, issued_at, expires_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		row.JTI, row.TenantID, row.AdapterID, row.ExecutionID, row.Tool, row.ScopeHash,
		row.IssuedAt.UTC().Format(time.RFC3339Nano), row.ExpiresAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert tool token: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, jti string) (*Row, error) {
	query := `
        SELECT jti, tenant_id, adapter_id, execution_id, tool, scope_hash, issued_at, expires_at, used_at
        FROM tool_tokens
        WHERE jti = ?
    `
	row := s.db.QueryRowContext(ctx, query, jti)
	return scanRow(row)
}

// Consume performs the atomic CAS: the UPDATE only touches the row if
// used_at is still null, and RowsAffected tells us whether this call won.
func (s *SQLiteStore) Consume(ctx context.Context, jti string, now time.Time) (bool, error) {
	query := `UPDATE tool_tokens SET used_at = ? WHERE jti = ? AND used_at IS NULL`
	res, err := s.db.ExecContext(ctx, query, now.UTC().Format(time.RFC3339Nano), jti)
	if err != nil {
		return false, fmt.Errorf("failed to consume tool token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read consume result: %w", err)
	}
	return affected == 1, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRow(row rowScanner) (*Row, error) {
	var (
		jti, tenantID, adapterID, executionID, tool, scopeHash string
		issuedAt, expiresAt                                    string
		usedAt                                                 sql.NullString
	)
	if err := row.Scan(&jti, &tenantID, &adapterID, &executionID, &tool, &scopeHash, &issuedAt, &expiresAt, &usedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("tool token not found")
		}
		return nil, fmt.Errorf("failed to scan tool token row: %w", err)
	}

	issued, err := time.Parse(time.RFC3339Nano, issuedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse issued_at: %w", err)
	}
	expires, err := time.Parse(time.RFC3339Nano, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse expires_at: %w", err)
	}

	out := &Row{
		JTI: jti, TenantID: tenantID, AdapterID: adapterID, ExecutionID: executionID,
		Tool: tool, ScopeHash: scopeHash, IssuedAt: issued, ExpiresAt: expires,
	}
	if usedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, usedAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse used_at: %w", err)
		}
		out.UsedAt = &t
	}
	return out, nil
}
