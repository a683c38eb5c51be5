package approval_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clasper-io/clasper/pkg/approval"
	"github.com/clasper-io/clasper/pkg/clasperrors"
)

type noopAudit struct{}

func (noopAudit) Append(ctx context.Context, tenantID, eventType string, eventData map[string]interface{}, actor, targetID string) error {
	return nil
}

func newService() *approval.Service {
	return approval.NewService(approval.NewInMemoryStore(), noopAudit{}, []byte("decision-secret"))
}

func TestService_CreateGetResolveConsume(t *testing.T) {
	ctx := context.Background()
	svc := newService()

	res, err := svc.Create(ctx, approval.CreateRequest{
		TenantID:     "t1",
		RequiredRole: "security-admin",
		GrantedScope: map[string]interface{}{"capabilities": []interface{}{"shell.exec"}},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.DecisionID)
	assert.NotEmpty(t, res.DecisionToken)

	d, err := svc.Get(ctx, "t1", res.DecisionID)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusPending, d.Status)

	err = svc.Resolve(ctx, approval.ResolveRequest{
		TenantID: "t1", DecisionID: res.DecisionID, Action: approval.ActionApprove,
		ApproverID: "op1", ApproverRoles: []string{"security-admin"},
		ReasonCode: "reviewed", Justification: "looks safe to run",
	})
	require.NoError(t, err)

	scope, err := svc.Consume(ctx, res.DecisionToken)
	require.NoError(t, err)
	assert.Equal(t, d.GrantedScope, scope)
}

func TestService_Resolve_RequiresRole(t *testing.T) {
	ctx := context.Background()
	svc := newService()

	res, err := svc.Create(ctx, approval.CreateRequest{TenantID: "t1", RequiredRole: "security-admin"})
	require.NoError(t, err)

	err = svc.Resolve(ctx, approval.ResolveRequest{
		TenantID: "t1", DecisionID: res.DecisionID, Action: approval.ActionApprove,
		ApproverID: "op1", ApproverRoles: []string{"viewer"},
		Justification: "trying anyway here",
	})
	assert.True(t, clasperrors.Is(err, clasperrors.KindRoleInsufficient))
}

func TestService_Resolve_JustificationTooShort(t *testing.T) {
	ctx := context.Background()
	svc := newService()

	res, err := svc.Create(ctx, approval.CreateRequest{TenantID: "t1", RequiredRole: "security-admin"})
	require.NoError(t, err)

	err = svc.Resolve(ctx, approval.ResolveRequest{
		TenantID: "t1", DecisionID: res.DecisionID, Action: approval.ActionApprove,
		ApproverID: "op1", ApproverRoles: []string{"security-admin"},
		Justification: "short",
	})
	assert.True(t, clasperrors.Is(err, clasperrors.KindJustificationTooShort))
}

// TestService_Resolve_ConcurrentResolutions_ExactlyOneWinner covers spec
// §8 property 4 (decision terminality): once resolved, no second
// transition succeeds.
func TestService_Resolve_ConcurrentResolutions_ExactlyOneWinner(t *testing.T) {
	ctx := context.Background()
	svc := newService()

	res, err := svc.Create(ctx, approval.CreateRequest{TenantID: "t1", RequiredRole: "security-admin"})
	require.NoError(t, err)

	const concurrency = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer wg.Done()
			err := svc.Resolve(ctx, approval.ResolveRequest{
				TenantID: "t1", DecisionID: res.DecisionID, Action: approval.ActionApprove,
				ApproverID: "op1", ApproverRoles: []string{"security-admin"},
				Justification: "concurrent resolve attempt",
			})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestService_Consume_DeniedDecisionFails(t *testing.T) {
	ctx := context.Background()
	svc := newService()

	res, err := svc.Create(ctx, approval.CreateRequest{TenantID: "t1", RequiredRole: "security-admin"})
	require.NoError(t, err)

	require.NoError(t, svc.Resolve(ctx, approval.ResolveRequest{
		TenantID: "t1", DecisionID: res.DecisionID, Action: approval.ActionDeny,
		ApproverID: "op1", ApproverRoles: []string{"security-admin"},
		Justification: "not approved for now",
	}))

	_, err = svc.Consume(ctx, res.DecisionToken)
	assert.True(t, clasperrors.Is(err, clasperrors.KindAlreadyResolved))
}

func TestService_Consume_SecondConsumeFails(t *testing.T) {
	ctx := context.Background()
	svc := newService()

	res, err := svc.Create(ctx, approval.CreateRequest{TenantID: "t1", RequiredRole: "security-admin"})
	require.NoError(t, err)
	require.NoError(t, svc.Resolve(ctx, approval.ResolveRequest{
		TenantID: "t1", DecisionID: res.DecisionID, Action: approval.ActionApprove,
		ApproverID: "op1", ApproverRoles: []string{"security-admin"},
		Justification: "approved for testing",
	}))

	_, err = svc.Consume(ctx, res.DecisionToken)
	require.NoError(t, err)

	_, err = svc.Consume(ctx, res.DecisionToken)
	assert.True(t, clasperrors.Is(err, clasperrors.KindAlreadyResolved))
}

func TestSweeper_ExpiresPastDeadline(t *testing.T) {
	ctx := context.Background()
	store := approval.NewInMemoryStore()
	svc := approval.NewService(store, noopAudit{}, []byte("decision-secret"))

	res, err := svc.Create(ctx, approval.CreateRequest{
		TenantID: "t1", RequiredRole: "security-admin", ApprovalTTL: -time.Second, // already expired
	})
	require.NoError(t, err)

	sweeper := approval.NewSweeper(store, noopAudit{}, time.Millisecond)
	sweepCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	sweeper.Run(sweepCtx)

	d, err := svc.Get(ctx, "t1", res.DecisionID)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusExpired, d.Status)
}
