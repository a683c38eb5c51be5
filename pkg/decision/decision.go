// Package decision implements C6: the execution decision orchestrator that
// composes C4 (policy), C5 (risk), C7 (approval), and C11 (adapter
// registry) into a single decide() call per spec §4.6.
package decision

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/clasper-io/clasper/pkg/adapter"
	"github.com/clasper-io/clasper/pkg/clasperrors"
	"github.com/clasper-io/clasper/pkg/policy"
	"github.com/clasper-io/clasper/pkg/risk"
)

// Metrics is the subset of pkg/observability.Provider this package depends
// on, so clasperd can run without a metrics provider wired (e.g. in tests).
type Metrics interface {
	RecordDecision(ctx context.Context, outcome string, duration time.Duration)
	RecordError(ctx context.Context, component string)
}

var tracer = otel.Tracer("clasper/decision")

// ExecutionRequest is the transient request from spec §3.
type ExecutionRequest struct {
	ExecutionID           string
	AdapterID             string
	TenantID              string
	WorkspaceID           string
	SkillID               string
	RequestedCapabilities []string
	Intent                string
	Context               policy.ContextFields
	Provenance            policy.ProvenanceFields
	EstimatedCost         float64 // 0 means absent
	ToolCount             int     // 0 means absent; defaults to len(RequestedCapabilities) per spec's Open Question
	Environment           string

	// Risk-scoring inputs spec §4.5 requires but §3 does not enumerate on
	// ExecutionRequest itself (they travel with the skill/execution
	// configuration); carried here so C5 always has a full Input.
	SkillState      risk.SkillState
	Temperature     float64
	DataSensitivity string
}

// ExecutionScope is the ExecutionScope grant from spec §3.
type ExecutionScope struct {
	Capabilities []string               `json:"capabilities"`
	MaxSteps     int                    `json:"max_steps"`
	MaxCost      float64                `json:"max_cost"`
	ExpiresAt    time.Time              `json:"expires_at"`
}

// ExecutionDecision is the Execution Decision API response from spec §6:
// exactly one of the three shapes is populated.
type ExecutionDecision struct {
	Allowed          bool
	GrantedScope     *ExecutionScope
	BlockedReason    string
	RequiresApproval bool
	DecisionID       string
	DecisionToken    string
}

// TenantDefaults are the per-tenant knobs spec §4.6 names but leaves to the
// implementer to size (max_steps, grant_ttl, the safety_factor applied to
// estimated_cost, and the approval TTL handed to C7).
type TenantDefaults struct {
	MaxSteps       int
	DefaultMaxCost float64 // used when the request carries no estimated_cost
	GrantTTL       time.Duration
	SafetyFactor   float64
	ApprovalTTL    time.Duration
	BudgetRemaining float64 // 0 means unlimited
}

// DefaultTenantDefaults mirrors spec scenario S1 (max_steps=16, max_cost=1.00
// when no estimated_cost is given, expires_at = now+15m) and SPEC_FULL.md's
// safety_factor=0.8.
func DefaultTenantDefaults() TenantDefaults {
	return TenantDefaults{
		MaxSteps:       16,
		DefaultMaxCost: 1.00,
		GrantTTL:       15 * time.Minute,
		SafetyFactor:   0.8,
		ApprovalTTL:    24 * time.Hour,
	}
}

// AuditSink is the subset of pkg/audit.Sink this package depends on.
type AuditSink interface {
	Append(ctx context.Context, tenantID, eventType string, eventData map[string]interface{}, actor, targetID string) error
}

// ApprovalQueue is the subset of pkg/approval.Service C6 depends on.
type ApprovalQueue interface {
	Create(ctx context.Context, req ApprovalCreateRequest) (*ApprovalCreateResult, error)
}

// ApprovalCreateRequest/Result mirror pkg/approval.CreateRequest/Result so
// this package doesn't need to import pkg/approval directly — callers
// satisfy ApprovalQueue with a thin adapter over approval.Service.
type ApprovalCreateRequest struct {
	TenantID     string
	RequiredRole string
	ApprovalTTL  time.Duration
	GrantedScope map[string]interface{}
}

type ApprovalCreateResult struct {
	DecisionID    string
	DecisionToken string
	ExpiresAt     time.Time
}

// TenantDefaultsResolver resolves per-tenant sizing knobs; most deployments
// return the same TenantDefaults for every tenant, but the signature leaves
// room for per-tenant overrides without changing the orchestrator.
type TenantDefaultsResolver interface {
	Defaults(tenantID string) TenantDefaults
}

type staticDefaults struct{ d TenantDefaults }

func (s staticDefaults) Defaults(string) TenantDefaults { return s.d }

// StaticDefaults wraps a single TenantDefaults value as a resolver for
// deployments that don't size limits per tenant.
func StaticDefaults(d TenantDefaults) TenantDefaultsResolver { return staticDefaults{d} }

// Orchestrator implements C6's decide().
type Orchestrator struct {
	Adapters  adapter.Registry
	Policies  *policy.Engine
	Scorer    *risk.Scorer
	Approvals ApprovalQueue
	Audit     AuditSink
	Defaults  TenantDefaultsResolver
	Metrics   Metrics // optional; nil disables RED metrics
}

func New(adapters adapter.Registry, policies *policy.Engine, scorer *risk.Scorer, approvals ApprovalQueue, audit AuditSink, defaults TenantDefaultsResolver) *Orchestrator {
	return &Orchestrator{
		Adapters:  adapters,
		Policies:  policies,
		Scorer:    scorer,
		Approvals: approvals,
		Audit:     audit,
		Defaults:  defaults,
	}
}

// Decide runs the full spec §4.6 algorithm: validate, resolve adapter,
// score risk, evaluate policy, apply the decision rule, and write exactly
// one audit entry on every branch.
func (o *Orchestrator) Decide(ctx context.Context, authenticatedTenantID string, req ExecutionRequest) (*ExecutionDecision, error) {
	ctx, span := tracer.Start(ctx, "decision.Decide")
	defer span.End()

	start := time.Now()
	outcome := "error"
	if o.Metrics != nil {
		defer func() { o.Metrics.RecordDecision(ctx, outcome, time.Since(start)) }()
	}

	// Step 1: validate tenant.
	if req.TenantID != authenticatedTenantID {
		if o.Metrics != nil {
			o.Metrics.RecordError(ctx, "decision")
		}
		return nil, clasperrors.New(clasperrors.KindMissingTenant, "request tenant_id does not match authenticated identity")
	}

	// Step 2: resolve the adapter.
	reg, err := o.Adapters.GetLatest(req.TenantID, req.AdapterID)
	if err != nil {
		return nil, clasperrors.Wrap(clasperrors.KindAdapterUnknown, "adapter is not registered for this tenant", err)
	}
	if !reg.Enabled {
		return nil, clasperrors.New(clasperrors.KindAdapterDisabled, "adapter is disabled")
	}
	for _, cap := range req.RequestedCapabilities {
		if !reg.HasCapability(cap) {
			return nil, clasperrors.New(clasperrors.KindCapabilityNotDeclared, "requested capability "+cap+" is not declared by the adapter")
		}
	}

	toolCount := req.ToolCount
	if toolCount == 0 {
		toolCount = len(req.RequestedCapabilities)
	}

	// Step 3: compute risk.
	score := o.Scorer.Score(risk.Input{
		RequestedCapabilities: req.RequestedCapabilities,
		AdapterRiskClass:      reg.RiskClass,
		SkillState:            req.SkillState,
		Temperature:           req.Temperature,
		DataSensitivity:       req.DataSensitivity,
		ExternalNetwork:       req.Context.HasExternalNetwork && req.Context.ExternalNetwork,
		ElevatedPrivileges:    req.Context.HasElevatedPriv && req.Context.ElevatedPrivileges,
		ProvenanceSource:      req.Provenance.Source,
	})
	_ = toolCount // carried in the snapshot; the scorer doesn't weight raw tool_count separately from capability count per spec §4.5

	// Step 4: evaluate policy.
	pctx := policy.Context{
		TenantID:              req.TenantID,
		WorkspaceID:           req.WorkspaceID,
		Environment:           req.Environment,
		AdapterID:             req.AdapterID,
		AdapterRiskClass:      string(reg.RiskClass),
		SkillState:            string(req.SkillState),
		RiskLevel:             string(score.Bucket),
		EstimatedCost:         req.EstimatedCost,
		RequestedCapabilities: req.RequestedCapabilities,
		Intent:                req.Intent,
		Context:               req.Context,
		Provenance:            req.Provenance,
	}
	policyResult, err := o.Policies.Evaluate(pctx)
	if err != nil {
		return nil, err
	}

	defaults := o.Defaults.Defaults(req.TenantID)

	decision, blockedReason, requiresApproval, requiredRole, scope := applyRule(policyResult, score.Bucket, req, defaults)

	result := &ExecutionDecision{
		Allowed:          decision,
		BlockedReason:    blockedReason,
		RequiresApproval: requiresApproval,
	}

	snapshot := map[string]interface{}{
		"execution_id":           req.ExecutionID,
		"adapter_id":             req.AdapterID,
		"requested_capabilities": req.RequestedCapabilities,
		"tool_count":             toolCount,
		"risk": map[string]interface{}{
			"score":     score.Value,
			"bucket":    score.Bucket,
			"breakdown": score.Breakdown,
		},
		"matched_policies": policyResult.MatchedPolicies,
		"policy_effect":    policyResult.Effect,
	}

	switch {
	case requiresApproval:
		grantedScope := map[string]interface{}{
			"capabilities": req.RequestedCapabilities,
			"max_steps":    defaults.MaxSteps,
			"max_cost":     maxCost(req, defaults),
		}
		approvalResult, err := o.Approvals.Create(ctx, ApprovalCreateRequest{
			TenantID:     req.TenantID,
			RequiredRole: requiredRole,
			ApprovalTTL:  defaults.ApprovalTTL,
			GrantedScope: grantedScope,
		})
		if err != nil {
			return nil, err
		}
		result.DecisionID = approvalResult.DecisionID
		result.DecisionToken = approvalResult.DecisionToken
		snapshot["decision"] = "requires_approval"
		snapshot["decision_id"] = approvalResult.DecisionID
		outcome = "requires_approval"
	case decision:
		result.GrantedScope = scope
		snapshot["decision"] = "allow"
		outcome = "allow"
	default:
		snapshot["decision"] = "deny"
		snapshot["blocked_reason"] = blockedReason
		outcome = "deny"
	}

	// Step 6: exactly one audit entry, every branch.
	if o.Audit != nil {
		if err := o.Audit.Append(ctx, req.TenantID, "execution_decision", snapshot, "adapter:"+req.AdapterID, req.ExecutionID); err != nil {
			return nil, clasperrors.Wrap(clasperrors.KindStoreUnavailable, "failed to write audit entry", err)
		}
	}

	return result, nil
}

// applyRule is the pure decision-rule table from spec §4.6 step 5.
func applyRule(pr policy.Result, bucket risk.Level, req ExecutionRequest, defaults TenantDefaults) (allowed bool, blockedReason string, requiresApproval bool, requiredRole string, scope *ExecutionScope) {
	if pr.Effect == policy.EffectDeny {
		return false, "blocked_by_policy", false, "", nil
	}

	highRisk := bucket == risk.LevelHigh || bucket == risk.LevelCritical
	if pr.Effect == policy.EffectRequireApproval || (pr.Effect == policy.EffectAllow && highRisk) {
		return false, "", true, pr.RequiredRole, nil
	}

	// pr.Effect == allow, bucket in {low, medium}
	now := time.Now().UTC()
	scope = &ExecutionScope{
		Capabilities: req.RequestedCapabilities,
		MaxSteps:     defaults.MaxSteps,
		MaxCost:      maxCost(req, defaults),
		ExpiresAt:    now.Add(defaults.GrantTTL),
	}
	return true, "", false, "", scope
}

// maxCost implements spec §4.6's
// `max_cost = min(request.estimated_cost × safety_factor, tenant_budget_remaining)`.
// When the request carries no estimated_cost, the tenant's configured
// default max_cost is used directly (spec scenario S1).
func maxCost(req ExecutionRequest, defaults TenantDefaults) float64 {
	if req.EstimatedCost <= 0 {
		return defaults.DefaultMaxCost
	}
	capped := req.EstimatedCost * defaults.SafetyFactor
	if defaults.BudgetRemaining > 0 && defaults.BudgetRemaining < capped {
		return defaults.BudgetRemaining
	}
	return capped
}
