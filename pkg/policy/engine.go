package policy

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/decls"
	"github.com/google/cel-go/common/types"

	"github.com/clasper-io/clasper/pkg/clasperrors"
)

// Engine is the per-tenant policy store and evaluator. Policies are
// upserted by admins and cached behind a version counter (spec §4.4);
// Evaluate never mutates state, so concurrent evaluation and upsert only
// need a read-write lock, not a per-tenant critical section like C8.
type Engine struct {
	mu       sync.RWMutex
	byTenant map[string][]*Policy
	version  map[string]uint64

	celEnv  *cel.Env
	celMu   sync.Mutex
	celPrg  map[string]cel.Program // compiled CEL programs keyed by expression source
}

// NewEngine builds an Engine with a CEL environment matching the
// PolicyContext shape, for the optional supplementary expression.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.VariableDecls(
			decls.NewVariable("tool", types.StringType),
			decls.NewVariable("adapter_id", types.StringType),
			decls.NewVariable("adapter_risk_class", types.StringType),
			decls.NewVariable("skill_state", types.StringType),
			decls.NewVariable("risk_level", types.StringType),
			decls.NewVariable("estimated_cost", types.DoubleType),
			decls.NewVariable("requested_capabilities", types.NewListType(types.StringType)),
			decls.NewVariable("intent", types.StringType),
			decls.NewVariable("context", types.NewMapType(types.StringType, types.DynType)),
			decls.NewVariable("provenance", types.NewMapType(types.StringType, types.DynType)),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: failed to create CEL env: %w", err)
	}
	return &Engine{
		byTenant: make(map[string][]*Policy),
		version:  make(map[string]uint64),
		celEnv:   env,
		celPrg:   make(map[string]cel.Program),
	}, nil
}

// Upsert replaces the policy with the same PolicyID within the tenant, or
// appends it, and bumps the tenant's version counter.
func (e *Engine) Upsert(p *Policy) error {
	if p.CELExpression != "" {
		if _, err := e.compileCEL(p.CELExpression); err != nil {
			return clasperrors.Wrap(clasperrors.KindSchemaInvalid, "policy CEL expression invalid", err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tenantID := p.Scope.TenantID
	policies := e.byTenant[tenantID]
	for i, existing := range policies {
		if existing.PolicyID == p.PolicyID {
			policies[i] = p
			e.byTenant[tenantID] = policies
			e.version[tenantID]++
			return nil
		}
	}
	e.byTenant[tenantID] = append(policies, p)
	e.version[tenantID]++
	return nil
}

// Version returns the tenant's current policy version counter, included
// in audit snapshots so decisions remain reproducible (spec §4.6).
func (e *Engine) Version(tenantID string) uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.version[tenantID]
}

func (e *Engine) compileCEL(expr string) (cel.Program, error) {
	e.celMu.Lock()
	defer e.celMu.Unlock()
	if prg, ok := e.celPrg[expr]; ok {
		return prg, nil
	}
	ast, issues := e.celEnv.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	prg, err := e.celEnv.Program(ast)
	if err != nil {
		return nil, err
	}
	e.celPrg[expr] = prg
	return prg, nil
}

// Evaluate runs the match algorithm over every enabled policy in the
// tenant's scope and resolves the winning effect by precedence: deny >
// require_approval > allow. Default is allow when nothing matches (spec
// §4.4's fixed default; C6 owns converting unmatched high risk into
// require_approval).
func (e *Engine) Evaluate(ctx Context) (Result, error) {
	e.mu.RLock()
	policies := append([]*Policy(nil), e.byTenant[ctx.TenantID]...)
	e.mu.RUnlock()

	result := Result{Effect: EffectAllow}
	best := 0

	for _, p := range policies {
		if !p.Enabled {
			continue
		}
		if !matches(p, ctx) {
			continue
		}
		if p.CELExpression != "" {
			ok, err := e.evalCEL(p.CELExpression, ctx)
			if err != nil {
				return Result{}, clasperrors.Wrap(clasperrors.KindSchemaInvalid, "policy CEL evaluation failed", err)
			}
			if !ok {
				continue
			}
		}

		result.MatchedPolicies = append(result.MatchedPolicies, p.PolicyID)
		if rank := precedence(p.Effect); rank > best {
			best = rank
			result.Effect = p.Effect
			result.RequiredRole = p.RequiredRole
		}
	}

	return result, nil
}

func (e *Engine) evalCEL(expr string, ctx Context) (bool, error) {
	prg, err := e.compileCEL(expr)
	if err != nil {
		return false, err
	}

	input := map[string]interface{}{
		"tool":                    ctx.Tool,
		"adapter_id":              ctx.AdapterID,
		"adapter_risk_class":      ctx.AdapterRiskClass,
		"skill_state":             ctx.SkillState,
		"risk_level":              ctx.RiskLevel,
		"estimated_cost":          ctx.EstimatedCost,
		"requested_capabilities":  ctx.RequestedCapabilities,
		"intent":                  ctx.Intent,
		"context": map[string]interface{}{
			"external_network":    ctx.Context.ExternalNetwork,
			"writes_files":        ctx.Context.WritesFiles,
			"elevated_privileges": ctx.Context.ElevatedPrivileges,
			"package_manager":     ctx.Context.PackageManager,
		},
		"provenance": map[string]interface{}{
			"source":        ctx.Provenance.Source,
			"publisher":     ctx.Provenance.Publisher,
			"artifact_hash": ctx.Provenance.ArtifactHash,
		},
	}

	out, _, err := prg.Eval(input)
	if err != nil {
		return false, err
	}
	allowed, ok := out.Value().(bool)
	return ok && allowed, nil
}
