package api

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clasper-io/clasper/pkg/audit"
	"github.com/clasper-io/clasper/pkg/auth"
)

func withTestPrincipal(r *http.Request, tenantID string) *http.Request {
	p := &auth.BasePrincipal{ID: "user-1", TenantID: tenantID, Roles: []string{"admin"}}
	ctx := auth.WithPrincipal(context.Background(), p)
	return r.WithContext(ctx)
}

func TestHandleAuditExport_RejectsNonGet(t *testing.T) {
	s := &ClasperServices{Audit: audit.NewStore()}
	req := httptest.NewRequest(http.MethodPost, "/v1/audit/export", nil)
	w := httptest.NewRecorder()

	s.HandleAuditExport(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleAuditExport_RequiresPrincipal(t *testing.T) {
	s := &ClasperServices{Audit: audit.NewStore()}
	req := httptest.NewRequest(http.MethodGet, "/v1/audit/export", nil)
	w := httptest.NewRecorder()

	s.HandleAuditExport(w, req)

	assert.NotEqual(t, http.StatusOK, w.Code)
}

// TestHandleAuditExport_ReturnsVerifiableZip checks that the export endpoint
// returns a zip with a checksum header, containing entries.json,
// manifest.json and README.txt.
func TestHandleAuditExport_ReturnsVerifiableZip(t *testing.T) {
	store := audit.NewStore()
	_, err := store.Append(context.Background(), "tenant-1", "execution_decision",
		map[string]interface{}{"allowed": true}, "system", "")
	require.NoError(t, err)

	s := &ClasperServices{Audit: store}
	req := withTestPrincipal(httptest.NewRequest(http.MethodGet, "/v1/audit/export", nil), "tenant-1")
	w := httptest.NewRecorder()

	s.HandleAuditExport(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Audit-Checksum"))

	body := w.Body.Bytes()
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range zr.File {
		names[f.Name] = true
	}
	assert.True(t, names["entries.json"])
	assert.True(t, names["manifest.json"])
	assert.True(t, names["README.txt"])
}

func TestHandleAuditExport_EmptyTenantFailsClosed(t *testing.T) {
	s := &ClasperServices{Audit: audit.NewStore()}
	req := withTestPrincipal(httptest.NewRequest(http.MethodGet, "/v1/audit/export", nil), "")
	w := httptest.NewRecorder()

	s.HandleAuditExport(w, req)

	assert.NotEqual(t, http.StatusOK, w.Code)
}
