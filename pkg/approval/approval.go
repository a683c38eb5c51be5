// Package approval implements C7: the async human-in-the-loop approval
// queue for pending execution decisions.
package approval

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/clasper-io/clasper/pkg/clasperrors"
)

// Status is a Decision's lifecycle state per spec §4.7.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusExpired  Status = "expired"
	StatusConsumed Status = "consumed"
)

const minJustificationLen = 10

// Decision is a pending (or resolved) human-in-the-loop decision.
type Decision struct {
	DecisionID    string
	TenantID      string
	RequiredRole  string
	Status        Status
	CreatedAt     time.Time
	ExpiresAt     time.Time
	ResolvedAt    *time.Time
	ResolvedBy    string
	ReasonCode    string
	Justification string
	GrantedScope  map[string]interface{}

	mu sync.Mutex
}

// DecisionTokenClaims is the signed, single-use reference to a decision_id
// the adapter presents at Consume, per spec §4.7.
type DecisionTokenClaims struct {
	jwt.RegisteredClaims
	TenantID   string `json:"tenant_id"`
	DecisionID string `json:"decision_id"`
}

// Store persists Decisions. Every state transition must be atomic: two
// concurrent Resolve or Consume calls on the same decision must yield
// exactly one winner.
type Store interface {
	Insert(ctx context.Context, d *Decision) error
	Get(ctx context.Context, tenantID, decisionID string) (*Decision, error)
	// CompareAndSwapStatus transitions from `from` to `to` iff the
	// decision's current status is still `from`. Returns false if another
	// caller already moved it.
	CompareAndSwapStatus(ctx context.Context, tenantID, decisionID string, from, to Status, mutate func(*Decision)) (bool, error)
	// ListExpirable returns pending decisions whose expires_at is at or
	// before now, for the sweeper.
	ListExpirable(ctx context.Context, now time.Time) ([]*Decision, error)
}

// AuditSink is the subset of pkg/audit.Store the queue needs, so this
// package doesn't import the concrete audit store implementation.
type AuditSink interface {
	Append(ctx context.Context, tenantID, eventType string, eventData map[string]interface{}, actor, targetID string) error
}

// Service mints decision tokens, resolves, and consumes decisions.
type Service struct {
	store  Store
	audit  AuditSink
	secret []byte
}

func NewService(store Store, audit AuditSink, secret []byte) *Service {
	return &Service{store: store, audit: audit, secret: secret}
}

// CreateRequest is what C6 supplies when it decides an execution needs
// approval.
type CreateRequest struct {
	TenantID     string
	RequiredRole string
	ApprovalTTL  time.Duration // default 24h if zero
	GrantedScope map[string]interface{}
}

// CreateResult is {decision_id, decision_token, expires_at}.
type CreateResult struct {
	DecisionID    string
	DecisionToken string
	ExpiresAt     time.Time
}

// Create persists a new pending Decision and mints its decision_token.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	ttl := req.ApprovalTTL
	if ttl == 0 {
		ttl = 24 * time.Hour
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, clasperrors.Wrap(clasperrors.KindStoreUnavailable, "failed to generate decision_id", err)
	}
	decisionID := id.String()

	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	d := &Decision{
		DecisionID:   decisionID,
		TenantID:     req.TenantID,
		RequiredRole: req.RequiredRole,
		Status:       StatusPending,
		CreatedAt:    now,
		ExpiresAt:    expiresAt,
		GrantedScope: req.GrantedScope,
	}

	if err := s.store.Insert(ctx, d); err != nil {
		return nil, clasperrors.Wrap(clasperrors.KindStoreUnavailable, "failed to persist decision", err)
	}

	claims := DecisionTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    "clasper/decision-token",
		},
		TenantID:   req.TenantID,
		DecisionID: decisionID,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, clasperrors.Wrap(clasperrors.KindStoreUnavailable, "failed to sign decision token", err)
	}

	s.auditAppend(ctx, req.TenantID, "decision_created", map[string]interface{}{
		"decision_id": decisionID, "required_role": req.RequiredRole,
	}, "system", decisionID)

	return &CreateResult{DecisionID: decisionID, DecisionToken: token, ExpiresAt: expiresAt}, nil
}

// Get retrieves a Decision scoped to the authenticated tenant.
func (s *Service) Get(ctx context.Context, tenantID, decisionID string) (*Decision, error) {
	d, err := s.store.Get(ctx, tenantID, decisionID)
	if err != nil {
		return nil, clasperrors.Wrap(clasperrors.KindDecisionNotFound, "decision not found", err)
	}
	return d, nil
}

// ResolveAction is approve or deny.
type ResolveAction string

const (
	ActionApprove ResolveAction = "approve"
	ActionDeny    ResolveAction = "deny"
)

// ResolveRequest is the approver's input to Resolve.
type ResolveRequest struct {
	TenantID      string
	DecisionID    string
	Action        ResolveAction
	ApproverID    string
	ApproverRoles []string
	ReasonCode    string
	Justification string
}

// Resolve transitions pending -> approved|denied atomically, enforcing the
// required_role and justification-length checks from spec §4.7.
func (s *Service) Resolve(ctx context.Context, req ResolveRequest) error {
	if len(req.Justification) < minJustificationLen {
		return clasperrors.New(clasperrors.KindJustificationTooShort, "justification must be at least 10 characters")
	}

	d, err := s.store.Get(ctx, req.TenantID, req.DecisionID)
	if err != nil {
		return clasperrors.Wrap(clasperrors.KindDecisionNotFound, "decision not found", err)
	}

	if !hasRole(req.ApproverRoles, d.RequiredRole) {
		return clasperrors.New(clasperrors.KindRoleInsufficient, "approver lacks required role")
	}

	now := time.Now().UTC()
	if now.After(d.ExpiresAt) {
		return clasperrors.New(clasperrors.KindDecisionExpired, "decision has expired")
	}

	var toStatus Status
	switch req.Action {
	case ActionApprove:
		toStatus = StatusApproved
	case ActionDeny:
		toStatus = StatusDenied
	default:
		return clasperrors.New(clasperrors.KindSchemaInvalid, "action must be approve or deny")
	}

	won, err := s.store.CompareAndSwapStatus(ctx, req.TenantID, req.DecisionID, StatusPending, toStatus, func(d *Decision) {
		d.ResolvedAt = &now
		d.ResolvedBy = req.ApproverID
		d.ReasonCode = req.ReasonCode
		d.Justification = req.Justification
	})
	if err != nil {
		return clasperrors.Wrap(clasperrors.KindStoreUnavailable, "resolve failed", err)
	}
	if !won {
		return clasperrors.New(clasperrors.KindAlreadyResolved, "decision already resolved")
	}

	s.auditAppend(ctx, req.TenantID, "decision_resolved", map[string]interface{}{
		"decision_id": req.DecisionID, "action": string(req.Action), "reason_code": req.ReasonCode,
	}, req.ApproverID, req.DecisionID)

	return nil
}

// Consume transitions approved -> consumed atomically and returns the
// granted scope, per spec §4.7.
func (s *Service) Consume(ctx context.Context, tokenStr string) (map[string]interface{}, error) {
	var claims DecisionTokenClaims
	_, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, clasperrors.Wrap(clasperrors.KindInvalidToolToken, "decision token invalid", err)
	}

	d, err := s.store.Get(ctx, claims.TenantID, claims.DecisionID)
	if err != nil {
		return nil, clasperrors.Wrap(clasperrors.KindDecisionNotFound, "decision not found", err)
	}

	if d.Status == StatusDenied || d.Status == StatusExpired {
		return nil, clasperrors.New(clasperrors.KindAlreadyResolved, "decision is not approved")
	}

	won, err := s.store.CompareAndSwapStatus(ctx, claims.TenantID, claims.DecisionID, StatusApproved, StatusConsumed, nil)
	if err != nil {
		return nil, clasperrors.Wrap(clasperrors.KindStoreUnavailable, "consume failed", err)
	}
	if !won {
		return nil, clasperrors.New(clasperrors.KindAlreadyResolved, "decision already consumed or not yet approved")
	}

	s.auditAppend(ctx, claims.TenantID, "decision_consumed", map[string]interface{}{
		"decision_id": claims.DecisionID,
	}, "adapter", claims.DecisionID)

	return d.GrantedScope, nil
}

func (s *Service) auditAppend(ctx context.Context, tenantID, eventType string, data map[string]interface{}, actor, targetID string) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Append(ctx, tenantID, eventType, data, actor, targetID)
}

func hasRole(roles []string, required string) bool {
	if required == "" {
		return true
	}
	for _, r := range roles {
		if r == required {
			return true
		}
	}
	return false
}
