package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/clasper-io/clasper/pkg/clasperrors"
)

// dialect abstracts the one syntactic difference between the two relational
// backings this store supports: SQLite's positional "?" placeholders versus
// Postgres's numbered "$N" placeholders (lib/pq does not rewrite these).
type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// SQLStore is the relational-store-backed C8 implementation spec §5 calls
// for: "writes that mutate chained state ... must hold a transaction that
// covers both the read and the write." Unlike the in-memory Store, which
// relies on a single process-wide mutex, SQLStore relies on a SERIALIZABLE
// transaction spanning the (max_seq, last_hash) read and the row insert, so
// two concurrent appenders for the same tenant serialize at the database
// rather than in this process -- the discipline spec §5 names as the
// alternative to a per-tenant mutex.
type SQLStore struct {
	db *sql.DB
	d  dialect
}

// NewSQLiteStore opens a WAL-mode-capable SQLite-backed audit chain, the
// reference store spec §5 names.
func NewSQLiteStore(db *sql.DB) (*SQLStore, error) {
	s := &SQLStore{db: db, d: dialectSQLite}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewPostgresStore opens the Postgres variant, using lib/pq's "$N"
// placeholder convention. Callers construct it directly; DB_DRIVER does not
// select it.
func NewPostgresStore(db *sql.DB) (*SQLStore, error) {
	s := &SQLStore{db: db, d: dialectPostgres}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) ph(n int) string {
	if s.d == dialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *SQLStore) migrate() error {
	autoincrement := "INTEGER"
	if s.d == dialectPostgres {
		autoincrement = "BIGINT"
	}
	query := fmt.Sprintf(`
    CREATE TABLE IF NOT EXISTS audit_chain (
        entry_id TEXT NOT NULL,
        tenant_id TEXT NOT NULL,
        seq %s NOT NULL,
        event_type TEXT NOT NULL,
        occurred_at TEXT NOT NULL,
        actor TEXT NOT NULL,
        target_id TEXT,
        event_data TEXT NOT NULL,
        prev_hash TEXT,
        entry_hash TEXT NOT NULL,
        PRIMARY KEY (tenant_id, seq)
    );`, autoincrement)
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Append implements the same five-step algorithm as Store.Append (spec
// §4.8) but inside a single SERIALIZABLE transaction that covers both the
// (max_seq, last_hash) read and the row insert.
func (s *SQLStore) Append(ctx context.Context, tenantID, eventType string, eventData map[string]interface{}, actor, targetID string) (*Entry, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, clasperrors.Wrap(clasperrors.KindStoreUnavailable, "audit: begin tx", err)
	}
	defer tx.Rollback()

	var maxSeq sql.NullInt64
	var lastHash sql.NullString
	q := fmt.Sprintf(`SELECT seq, entry_hash FROM audit_chain WHERE tenant_id = %s ORDER BY seq DESC LIMIT 1`, s.ph(1))
	row := tx.QueryRowContext(ctx, q, tenantID)
	if err := row.Scan(&maxSeq, &lastHash); err != nil && err != sql.ErrNoRows {
		return nil, clasperrors.Wrap(clasperrors.KindStoreUnavailable, "audit: read chain head", err)
	}

	entry := &Entry{
		EntryID:    uuid.New().String(),
		TenantID:   tenantID,
		Seq:        uint64(maxSeq.Int64) + 1,
		EventType:  eventType,
		OccurredAt: time.Now().UTC(),
		Actor:      actor,
		TargetID:   targetID,
		EventData:  eventData,
		PrevHash:   lastHash.String,
	}
	hash, err := entryHash(entry)
	if err != nil {
		return nil, clasperrors.Wrap(clasperrors.KindSchemaInvalid, "event_data is not hashable", err)
	}
	entry.EntryHash = hash

	dataJSON, err := json.Marshal(entry.EventData)
	if err != nil {
		return nil, clasperrors.Wrap(clasperrors.KindSchemaInvalid, "audit: marshal event_data", err)
	}

	insert := fmt.Sprintf(`INSERT INTO audit_chain (
		entry_id, tenant_id, seq, event_type, occurred_at, actor, target_id, event_data, prev_hash, entry_hash
	) VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8), s.ph(9), s.ph(10))
	_, err = tx.ExecContext(ctx, insert,
		entry.EntryID, entry.TenantID, entry.Seq, entry.EventType,
		entry.OccurredAt.UTC().Format(time.RFC3339Nano), entry.Actor, entry.TargetID,
		string(dataJSON), entry.PrevHash, entry.EntryHash)
	if err != nil {
		return nil, clasperrors.Wrap(clasperrors.KindStoreConflict, "audit: insert entry", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, clasperrors.Wrap(clasperrors.KindStoreConflict, "audit: commit", err)
	}
	return entry, nil
}

// List mirrors Store.List, reading directly from the relational store.
func (s *SQLStore) List(ctx context.Context, tenantID string, startSeq, endSeq uint64) ([]*Entry, error) {
	q := fmt.Sprintf(`SELECT entry_id, tenant_id, seq, event_type, occurred_at, actor, target_id, event_data, prev_hash, entry_hash
		FROM audit_chain WHERE tenant_id = %s AND seq >= %s ORDER BY seq ASC`, s.ph(1), s.ph(2))
	if startSeq == 0 {
		startSeq = 1
	}
	rows, err := s.db.QueryContext(ctx, q, tenantID, startSeq)
	if err != nil {
		return nil, clasperrors.Wrap(clasperrors.KindStoreUnavailable, "audit: list", err)
	}
	defer rows.Close()

	out := make([]*Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		if endSeq > 0 && e.Seq > endSeq {
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// VerifyChain recomputes every entry_hash for the tenant directly from the
// relational store, the same re-hash-everything discipline as Store.VerifyChain.
func (s *SQLStore) VerifyChain(ctx context.Context, tenantID string) (VerifyResult, error) {
	entries, err := s.List(ctx, tenantID, 0, 0)
	if err != nil {
		return VerifyResult{}, err
	}
	result := VerifyResult{OK: true}
	expectedPrev := ""
	for _, e := range entries {
		if e.PrevHash != expectedPrev {
			result.OK = false
			result.Mismatches = append(result.Mismatches, e.Seq)
		} else {
			computed, err := entryHash(e)
			if err != nil {
				return result, fmt.Errorf("audit: recompute hash for seq %d: %w", e.Seq, err)
			}
			if computed != e.EntryHash {
				result.OK = false
				result.Mismatches = append(result.Mismatches, e.Seq)
			}
		}
		expectedPrev = e.EntryHash
	}
	return result, nil
}

type sqlRowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row sqlRowScanner) (*Entry, error) {
	var (
		entryID, tenantID, eventType, occurredAt, actor, entryHashVal string
		targetID, prevHash                                            sql.NullString
		eventDataJSON                                                 string
		seq                                                           int64
	)
	if err := row.Scan(&entryID, &tenantID, &seq, &eventType, &occurredAt, &actor, &targetID, &eventDataJSON, &prevHash, &entryHashVal); err != nil {
		return nil, clasperrors.Wrap(clasperrors.KindStoreUnavailable, "audit: scan entry", err)
	}
	occurred, err := time.Parse(time.RFC3339Nano, occurredAt)
	if err != nil {
		return nil, fmt.Errorf("audit: parse occurred_at: %w", err)
	}
	var data map[string]interface{}
	dec := json.NewDecoder(strings.NewReader(eventDataJSON))
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("audit: unmarshal event_data: %w", err)
	}
	return &Entry{
		EntryID:    entryID,
		TenantID:   tenantID,
		Seq:        uint64(seq),
		EventType:  eventType,
		OccurredAt: occurred,
		Actor:      actor,
		TargetID:   targetID.String,
		EventData:  data,
		PrevHash:   prevHash.String,
		EntryHash:  entryHashVal,
	}, nil
}
