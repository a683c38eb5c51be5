package audit

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEmptyTenantID is returned when tenant ID is empty.
	ErrEmptyTenantID = errors.New("audit: tenant_id must not be empty")
	// ErrStoreNotConfigured is returned when audit export is invoked without a backing store.
	ErrStoreNotConfigured = errors.New("audit: store not configured (fail-closed)")
)

// ExportRequest defines what to export: a tenant's chain in [StartSeq,
// EndSeq] (EndSeq == 0 means through the current head).
type ExportRequest struct {
	TenantID string `json:"tenant_id"`
	StartSeq uint64 `json:"start_seq"`
	EndSeq   uint64 `json:"end_seq"`
}

// AuditEvidencePack is the exported zip bundle: the chain entries, a
// verification manifest, and a checksum of the zip itself.
type AuditEvidencePack struct {
	TenantID    string    `json:"tenant_id"`
	GeneratedAt time.Time `json:"generated_at"`
	Checksum    string    `json:"checksum"`
	Entries     []*Entry  `json:"entries"`
}

// Exporter produces zip evidence packs from a Store's hash chain, per spec
// §4.8's "stable JSON representation that verifiers can re-run offline."
type Exporter struct {
	store *Store
}

func NewExporter(s *Store) *Exporter {
	return &Exporter{store: s}
}

// GeneratePack creates a zip file containing the chain entries, a
// chain-verification manifest, and a README.
func (e *Exporter) GeneratePack(ctx context.Context, req ExportRequest) ([]byte, string, error) {
	if req.TenantID == "" {
		return nil, "", ErrEmptyTenantID
	}
	if e.store == nil {
		return nil, "", ErrStoreNotConfigured
	}

	entries := e.store.List(req.TenantID, req.StartSeq, req.EndSeq)

	verify, err := e.store.VerifyChain(req.TenantID)
	if err != nil {
		return nil, "", fmt.Errorf("audit: chain verification failed: %w", err)
	}

	eventsJSON, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, "", err
	}

	chainHead := ""
	if len(entries) > 0 {
		chainHead = entries[len(entries)-1].EntryHash
	}
	manifest := map[string]interface{}{
		"tenant_id":    req.TenantID,
		"generated_at": time.Now().UTC(),
		"entry_count":  len(entries),
		"chain_head":   chainHead,
		"chain_ok":     verify.OK,
		"mismatches":   verify.Mismatches,
		"range": map[string]interface{}{
			"start_seq": req.StartSeq,
			"end_seq":   req.EndSeq,
		},
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("audit: failed to marshal manifest: %w", err)
	}

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)

	f, err := w.Create("entries.json")
	if err != nil {
		return nil, "", err
	}
	_, _ = f.Write(eventsJSON)

	f, err = w.Create("manifest.json")
	if err != nil {
		return nil, "", err
	}
	_, _ = f.Write(manifestJSON)

	f, err = w.Create("README.txt")
	if err != nil {
		return nil, "", err
	}
	_, _ = fmt.Fprintf(f, "Audit evidence pack for tenant %s\nGenerated at %s\n", req.TenantID, time.Now().UTC())

	if err := w.Close(); err != nil {
		return nil, "", err
	}

	zipBytes := buf.Bytes()
	hash := sha256.Sum256(zipBytes)
	checksum := hex.EncodeToString(hash[:])

	return zipBytes, checksum, nil
}
