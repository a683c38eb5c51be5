package decision_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clasper-io/clasper/pkg/adapter"
	"github.com/clasper-io/clasper/pkg/audit"
	"github.com/clasper-io/clasper/pkg/decision"
	"github.com/clasper-io/clasper/pkg/policy"
	"github.com/clasper-io/clasper/pkg/risk"
)

type mockApprovals struct {
	created []decision.ApprovalCreateRequest
}

func (m *mockApprovals) Create(ctx context.Context, req decision.ApprovalCreateRequest) (*decision.ApprovalCreateResult, error) {
	m.created = append(m.created, req)
	return &decision.ApprovalCreateResult{
		DecisionID:    "dec-1",
		DecisionToken: "tok-1",
		ExpiresAt:     time.Now().Add(24 * time.Hour),
	}, nil
}

func registerAdapter(t *testing.T, reg adapter.Registry, tenantID, adapterID string, class adapter.RiskClass, caps []string) {
	t.Helper()
	require.NoError(t, reg.Upsert(&adapter.Registration{
		TenantID:     tenantID,
		AdapterID:    adapterID,
		Version:      "1.0.0",
		RiskClass:    class,
		Capabilities: caps,
		Enabled:      true,
	}))
}

func newOrchestrator(t *testing.T) (*decision.Orchestrator, adapter.Registry, *policy.Engine, *audit.Store) {
	t.Helper()
	adapters := adapter.NewInMemoryRegistry()
	policies, err := policy.NewEngine()
	require.NoError(t, err)
	scorer := risk.NewScorer(risk.DefaultWeights())
	auditStore := audit.NewStore()
	sink := audit.NewSink(auditStore)
	orch := decision.New(adapters, policies, scorer, &mockApprovals{}, sink, decision.StaticDefaults(decision.DefaultTenantDefaults()))
	return orch, adapters, policies, auditStore
}

// S1 — Low-risk allow.
func TestDecideLowRiskAllow(t *testing.T) {
	orch, adapters, _, auditStore := newOrchestrator(t)
	registerAdapter(t, adapters, "t1", "reg_adapter", adapter.RiskLow, []string{"llm"})

	result, err := orch.Decide(context.Background(), "t1", decision.ExecutionRequest{
		ExecutionID:           "exec-1",
		AdapterID:             "reg_adapter",
		TenantID:              "t1",
		RequestedCapabilities: []string{"llm"},
	})
	require.NoError(t, err)
	require.True(t, result.Allowed)
	require.NotNil(t, result.GrantedScope)
	assert.Equal(t, []string{"llm"}, result.GrantedScope.Capabilities)
	assert.Equal(t, 16, result.GrantedScope.MaxSteps)
	assert.InDelta(t, 1.00, result.GrantedScope.MaxCost, 0.0001)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), result.GrantedScope.ExpiresAt, 2*time.Second)

	entries := auditStore.List("t1", 0, 0)
	require.Len(t, entries, 1)
	assert.Equal(t, "execution_decision", entries[0].EventType)
}

// S2 — Marketplace shell.exec triggers deny.
func TestDecideMarketplaceShellExecDenied(t *testing.T) {
	orch, adapters, policies, _ := newOrchestrator(t)
	registerAdapter(t, adapters, "t1", "mkt_adapter", adapter.RiskLow, []string{"shell.exec"})

	extNet := true
	mktSource := "marketplace"
	cap := "shell.exec"
	require.NoError(t, policies.Upsert(&policy.Policy{
		PolicyID: "p1",
		Scope:    policy.Scope{TenantID: "t1"},
		Subject:  policy.Subject{Type: policy.SubjectAdapter},
		Conditions: policy.Conditions{
			Capability: &cap,
			Context:    policy.ContextConditions{ExternalNetwork: &extNet},
			Provenance: policy.ProvenanceConditions{Source: &mktSource},
		},
		Effect:  policy.EffectDeny,
		Enabled: true,
	}))

	result, err := orch.Decide(context.Background(), "t1", decision.ExecutionRequest{
		ExecutionID:           "exec-2",
		AdapterID:             "mkt_adapter",
		TenantID:              "t1",
		RequestedCapabilities: []string{"shell.exec"},
		Context:               policy.ContextFields{ExternalNetwork: true, HasExternalNetwork: true},
		Provenance:            policy.ProvenanceFields{Source: "marketplace", HasSource: true},
	})
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, "blocked_by_policy", result.BlockedReason)
}

// S3 — Unknown context does not match the same policy as S2.
func TestDecideUnknownContextDoesNotMatch(t *testing.T) {
	orch, adapters, policies, _ := newOrchestrator(t)
	registerAdapter(t, adapters, "t1", "mkt_adapter", adapter.RiskLow, []string{"shell.exec"})

	extNet := true
	mktSource := "marketplace"
	cap := "shell.exec"
	require.NoError(t, policies.Upsert(&policy.Policy{
		PolicyID: "p1",
		Scope:    policy.Scope{TenantID: "t1"},
		Subject:  policy.Subject{Type: policy.SubjectAdapter},
		Conditions: policy.Conditions{
			Capability: &cap,
			Context:    policy.ContextConditions{ExternalNetwork: &extNet},
			Provenance: policy.ProvenanceConditions{Source: &mktSource},
		},
		Effect:  policy.EffectDeny,
		Enabled: true,
	}))

	// Note: no context.external_network given, and risk for shell.exec on a
	// low-risk adapter stays in the low/medium bucket (0 base + 10
	// high-impact = 10), so the default-allow path is taken.
	result, err := orch.Decide(context.Background(), "t1", decision.ExecutionRequest{
		ExecutionID:           "exec-3",
		AdapterID:             "mkt_adapter",
		TenantID:              "t1",
		RequestedCapabilities: []string{"shell.exec"},
	})
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

// S4 — High risk forces approval.
func TestDecideHighRiskRequiresApproval(t *testing.T) {
	orch, adapters, _, auditStore := newOrchestrator(t)
	registerAdapter(t, adapters, "t1", "high_adapter", adapter.RiskHigh, []string{"llm"})

	result, err := orch.Decide(context.Background(), "t1", decision.ExecutionRequest{
		ExecutionID:           "exec-4",
		AdapterID:             "high_adapter",
		TenantID:              "t1",
		RequestedCapabilities: []string{"llm"},
	})
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.True(t, result.RequiresApproval)
	assert.Equal(t, "dec-1", result.DecisionID)
	assert.Equal(t, "tok-1", result.DecisionToken)

	entries := auditStore.List("t1", 0, 0)
	require.Len(t, entries, 1)
	assert.Equal(t, "requires_approval", entries[0].EventData["decision"])
}

func TestDecideRejectsMismatchedTenant(t *testing.T) {
	orch, adapters, _, _ := newOrchestrator(t)
	registerAdapter(t, adapters, "t1", "reg_adapter", adapter.RiskLow, []string{"llm"})

	_, err := orch.Decide(context.Background(), "t1", decision.ExecutionRequest{
		AdapterID: "reg_adapter",
		TenantID:  "t2",
	})
	require.Error(t, err)
}

func TestDecideRejectsUndeclaredCapability(t *testing.T) {
	orch, adapters, _, _ := newOrchestrator(t)
	registerAdapter(t, adapters, "t1", "reg_adapter", adapter.RiskLow, []string{"llm"})

	_, err := orch.Decide(context.Background(), "t1", decision.ExecutionRequest{
		AdapterID:             "reg_adapter",
		TenantID:              "t1",
		RequestedCapabilities: []string{"shell.exec"},
	})
	require.Error(t, err)
}
