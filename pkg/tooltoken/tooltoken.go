// Package tooltoken implements C3: short-lived, single-use, scope-bound tool
// authorization tokens.
package tooltoken

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/clasper-io/clasper/pkg/canonicalize"
	"github.com/clasper-io/clasper/pkg/clasperrors"
)

// Row is the persisted {jti, tenant_id, adapter_id, execution_id, tool,
// scope_hash, issued_at, expires_at, used_at} record from spec §3.
type Row struct {
	JTI         string
	TenantID    string
	AdapterID   string
	ExecutionID string
	Tool        string
	ScopeHash   string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	UsedAt      *time.Time
}

// IssueRequest is the {tenant_id, workspace_id, adapter_id, execution_id,
// tool, scope, ttl_seconds} input to Issue.
type IssueRequest struct {
	TenantID    string
	WorkspaceID string
	AdapterID   string
	ExecutionID string
	Tool        string
	Scope       map[string]interface{}
	TTLSeconds  int
}

// IssueResult is {token, jti, expires_at, scope_hash}.
type IssueResult struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
	ScopeHash string
}

// Claims is the JWT claim set carried by a tool token, covering the fields
// named in spec §4.3 plus scope_hash.
type Claims struct {
	jwt.RegisteredClaims
	TenantID    string `json:"tenant_id"`
	WorkspaceID string `json:"workspace_id,omitempty"`
	AdapterID   string `json:"adapter_id"`
	ExecutionID string `json:"execution_id"`
	Tool        string `json:"tool"`
	ScopeHash   string `json:"scope_hash"`
}

// Store persists tool token rows with atomic CAS consume semantics.
type Store interface {
	// Insert creates the row before the token is returned to the caller.
	// Per spec §4.3 "issue never returns before row insertion completes".
	Insert(ctx context.Context, row *Row) error
	Get(ctx context.Context, jti string) (*Row, error)
	// Consume performs a single conditional update `used_at = now WHERE
	// jti = ? AND used_at IS NULL`, returning true iff this call won.
	Consume(ctx context.Context, jti string, now time.Time) (bool, error)
}

// Service mints, verifies, and consumes tool tokens.
type Service struct {
	store  Store
	secret []byte
}

func NewService(store Store, secret []byte) *Service {
	return &Service{store: store, secret: secret}
}

// Issue mints a signed token and inserts its row atomically before
// returning, per spec §4.3.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	jti, err := uuid.NewV7()
	if err != nil {
		return nil, clasperrors.Wrap(clasperrors.KindStoreUnavailable, "failed to generate jti", err)
	}

	scopeHash, err := canonicalize.SHA256JSON(req.Scope)
	if err != nil {
		return nil, clasperrors.Wrap(clasperrors.KindSchemaInvalid, "scope is not hashable", err)
	}
	scopeHash = canonicalize.FormatHash(scopeHash)

	now := time.Now().UTC()
	ttl := time.Duration(req.TTLSeconds) * time.Second
	expiresAt := now.Add(ttl)

	row := &Row{
		JTI:         jti.String(),
		TenantID:    req.TenantID,
		AdapterID:   req.AdapterID,
		ExecutionID: req.ExecutionID,
		Tool:        req.Tool,
		ScopeHash:   scopeHash,
		IssuedAt:    now,
		ExpiresAt:   expiresAt,
	}

	if err := s.store.Insert(ctx, row); err != nil {
		return nil, clasperrors.Wrap(clasperrors.KindStoreUnavailable, "failed to persist tool token", err)
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    "clasper/tool-token",
		},
		TenantID:    req.TenantID,
		WorkspaceID: req.WorkspaceID,
		AdapterID:   req.AdapterID,
		ExecutionID: req.ExecutionID,
		Tool:        req.Tool,
		ScopeHash:   scopeHash,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, clasperrors.Wrap(clasperrors.KindStoreUnavailable, "failed to sign tool token", err)
	}

	return &IssueResult{Token: token, JTI: jti.String(), ExpiresAt: expiresAt, ScopeHash: scopeHash}, nil
}

// Verify checks signature and expiry and returns the full claim set, then
// the row as currently persisted.
func (s *Service) Verify(ctx context.Context, tokenStr string) (*Claims, *Row, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, nil, clasperrors.Wrap(clasperrors.KindInvalidToolToken, "signature or claims invalid", err)
	}

	row, err := s.store.Get(ctx, claims.ID)
	if err != nil {
		return nil, nil, clasperrors.Wrap(clasperrors.KindInvalidToolToken, "unknown jti", err)
	}

	if time.Now().UTC().After(row.ExpiresAt) {
		return nil, nil, clasperrors.New(clasperrors.KindToolTokenExpired, "tool token expired")
	}

	return &claims, row, nil
}

// Consume atomically transitions used_at from null to now, keyed on jti.
// Returns the token's claims iff this call transitioned the row; a second
// consume fails with tool_token_used (spec §4.3, §8 property 3).
func (s *Service) Consume(ctx context.Context, tokenStr string) (*Claims, error) {
	claims, row, err := s.Verify(ctx, tokenStr)
	if err != nil {
		return nil, err
	}

	won, err := s.store.Consume(ctx, row.JTI, time.Now().UTC())
	if err != nil {
		return nil, clasperrors.Wrap(clasperrors.KindStoreUnavailable, "consume failed", err)
	}
	if !won {
		return nil, clasperrors.New(clasperrors.KindToolTokenUsed, "tool token already used")
	}
	return claims, nil
}
