package policy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clasper-io/clasper/pkg/policy"
)

func newEngine(t *testing.T) *policy.Engine {
	t.Helper()
	e, err := policy.NewEngine()
	require.NoError(t, err)
	return e
}

func TestEngine_DefaultAllowWhenNoPolicyMatches(t *testing.T) {
	e := newEngine(t)
	result, err := e.Evaluate(policy.Context{TenantID: "t1", Tool: "llm"})
	require.NoError(t, err)
	assert.Equal(t, policy.EffectAllow, result.Effect)
	assert.Empty(t, result.MatchedPolicies)
}

func TestEngine_DenyBeatsRequireApprovalBeatsAllow(t *testing.T) {
	e := newEngine(t)
	require.NoError(t, e.Upsert(&policy.Policy{
		PolicyID: "p-allow", Scope: policy.Scope{TenantID: "t1"},
		Subject: policy.Subject{Type: policy.SubjectTool}, Effect: policy.EffectAllow, Enabled: true,
	}))
	require.NoError(t, e.Upsert(&policy.Policy{
		PolicyID: "p-approval", Scope: policy.Scope{TenantID: "t1"},
		Subject: policy.Subject{Type: policy.SubjectTool}, Effect: policy.EffectRequireApproval,
		RequiredRole: "security-admin", Enabled: true,
	}))
	require.NoError(t, e.Upsert(&policy.Policy{
		PolicyID: "p-deny", Scope: policy.Scope{TenantID: "t1"},
		Subject: policy.Subject{Type: policy.SubjectTool}, Effect: policy.EffectDeny, Enabled: true,
	}))

	result, err := e.Evaluate(policy.Context{TenantID: "t1", Tool: "shell.exec"})
	require.NoError(t, err)
	assert.Equal(t, policy.EffectDeny, result.Effect)
	assert.Len(t, result.MatchedPolicies, 3)
}

func TestEngine_TenantScopeIsolation(t *testing.T) {
	e := newEngine(t)
	require.NoError(t, e.Upsert(&policy.Policy{
		PolicyID: "p1", Scope: policy.Scope{TenantID: "t1"},
		Subject: policy.Subject{Type: policy.SubjectTool}, Effect: policy.EffectDeny, Enabled: true,
	}))

	result, err := e.Evaluate(policy.Context{TenantID: "t2", Tool: "shell.exec"})
	require.NoError(t, err)
	assert.Equal(t, policy.EffectAllow, result.Effect)
}

func TestEngine_MissingContextFieldNeverMatchesCondition(t *testing.T) {
	e := newEngine(t)
	riskLevel := "high"
	require.NoError(t, e.Upsert(&policy.Policy{
		PolicyID: "p1", Scope: policy.Scope{TenantID: "t1"},
		Subject:    policy.Subject{Type: policy.SubjectTool},
		Conditions: policy.Conditions{RiskLevel: &riskLevel},
		Effect:     policy.EffectDeny, Enabled: true,
	}))

	// ctx.RiskLevel is the zero value "", not "high" — condition must not match.
	result, err := e.Evaluate(policy.Context{TenantID: "t1", Tool: "llm"})
	require.NoError(t, err)
	assert.Equal(t, policy.EffectAllow, result.Effect)
}

func TestEngine_CapabilityConditionMatches(t *testing.T) {
	e := newEngine(t)
	cap := "shell.exec"
	require.NoError(t, e.Upsert(&policy.Policy{
		PolicyID: "p1", Scope: policy.Scope{TenantID: "t1"},
		Subject:    policy.Subject{Type: policy.SubjectTool},
		Conditions: policy.Conditions{Capability: &cap},
		Effect:     policy.EffectDeny, Enabled: true,
	}))

	result, err := e.Evaluate(policy.Context{TenantID: "t1", RequestedCapabilities: []string{"llm", "shell.exec"}})
	require.NoError(t, err)
	assert.Equal(t, policy.EffectDeny, result.Effect)
}

func TestEngine_TargetsConditionNarrows(t *testing.T) {
	e := newEngine(t)
	require.NoError(t, e.Upsert(&policy.Policy{
		PolicyID: "p1", Scope: policy.Scope{TenantID: "t1"},
		Subject:    policy.Subject{Type: policy.SubjectTool},
		Conditions: policy.Conditions{Context: policy.ContextConditions{Targets: []string{"prod-db"}}},
		Effect:     policy.EffectDeny, Enabled: true,
	}))

	matching, err := e.Evaluate(policy.Context{TenantID: "t1", Context: policy.ContextFields{Targets: []string{"prod-db"}}})
	require.NoError(t, err)
	assert.Equal(t, policy.EffectDeny, matching.Effect)

	nonMatching, err := e.Evaluate(policy.Context{TenantID: "t1", Context: policy.ContextFields{Targets: []string{"staging-db"}}})
	require.NoError(t, err)
	assert.Equal(t, policy.EffectAllow, nonMatching.Effect)
}

func TestEngine_CELExpressionNarrowsNotReplaces(t *testing.T) {
	e := newEngine(t)
	// Conditions are unrestricted (matches everything in scope) but the CEL
	// expression further narrows to only intents containing "prod".
	require.NoError(t, e.Upsert(&policy.Policy{
		PolicyID:      "p1",
		Scope:         policy.Scope{TenantID: "t1"},
		Subject:       policy.Subject{Type: policy.SubjectTool},
		Effect:        policy.EffectDeny,
		Enabled:       true,
		CELExpression: `intent == "deploy_prod"`,
	}))

	denied, err := e.Evaluate(policy.Context{TenantID: "t1", Intent: "deploy_prod"})
	require.NoError(t, err)
	assert.Equal(t, policy.EffectDeny, denied.Effect)

	allowed, err := e.Evaluate(policy.Context{TenantID: "t1", Intent: "read_only"})
	require.NoError(t, err)
	assert.Equal(t, policy.EffectAllow, allowed.Effect)
}

func TestEngine_UpsertReplacesBumpsVersion(t *testing.T) {
	e := newEngine(t)
	p := &policy.Policy{PolicyID: "p1", Scope: policy.Scope{TenantID: "t1"}, Subject: policy.Subject{Type: policy.SubjectTool}, Effect: policy.EffectAllow, Enabled: true}
	require.NoError(t, e.Upsert(p))
	v1 := e.Version("t1")

	require.NoError(t, e.Upsert(p))
	v2 := e.Version("t1")
	assert.Greater(t, v2, v1)
}
