package tooltoken_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clasper-io/clasper/pkg/clasperrors"
	"github.com/clasper-io/clasper/pkg/tooltoken"
)

func newService() *tooltoken.Service {
	return tooltoken.NewService(tooltoken.NewInMemoryStore(), []byte("test-secret"))
}

func TestService_IssueVerifyConsume(t *testing.T) {
	ctx := context.Background()
	svc := newService()

	res, err := svc.Issue(ctx, tooltoken.IssueRequest{
		TenantID:    "t1",
		AdapterID:   "a1",
		ExecutionID: "e1",
		Tool:        "shell.exec",
		Scope:       map[string]interface{}{"path": "/tmp"},
		TTLSeconds:  60,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.NotEmpty(t, res.JTI)

	claims, row, err := svc.Verify(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, "t1", claims.TenantID)
	assert.Nil(t, row.UsedAt)

	_, err = svc.Consume(ctx, res.Token)
	require.NoError(t, err)

	_, err = svc.Consume(ctx, res.Token)
	assert.True(t, clasperrors.Is(err, clasperrors.KindToolTokenUsed))
}

// TestService_ConcurrentConsume_ExactlyOneWinner covers spec §8 property 3
// and scenario S6: of N concurrent consumes of the same jti, exactly one
// succeeds.
func TestService_ConcurrentConsume_ExactlyOneWinner(t *testing.T) {
	ctx := context.Background()
	svc := newService()

	res, err := svc.Issue(ctx, tooltoken.IssueRequest{
		TenantID:    "t1",
		AdapterID:   "a1",
		ExecutionID: "e1",
		Tool:        "shell.exec",
		Scope:       map[string]interface{}{},
		TTLSeconds:  60,
	})
	require.NoError(t, err)

	const concurrency = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer wg.Done()
			if _, err := svc.Consume(ctx, res.Token); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)

	// A subsequent consume must also fail.
	_, err = svc.Consume(ctx, res.Token)
	assert.True(t, clasperrors.Is(err, clasperrors.KindToolTokenUsed))
}

func TestService_Verify_UnknownToken(t *testing.T) {
	ctx := context.Background()
	svc := newService()
	other := tooltoken.NewService(tooltoken.NewInMemoryStore(), []byte("other-secret"))

	res, err := other.Issue(ctx, tooltoken.IssueRequest{
		TenantID: "t1", AdapterID: "a1", ExecutionID: "e1", Tool: "llm",
		Scope: map[string]interface{}{}, TTLSeconds: 60,
	})
	require.NoError(t, err)

	_, _, err = svc.Verify(ctx, res.Token)
	assert.True(t, clasperrors.Is(err, clasperrors.KindInvalidToolToken))
}
