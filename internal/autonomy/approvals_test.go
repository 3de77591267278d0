package autonomy

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/swarm-governor/internal/domain"
)

type recordingPublisher struct {
	mu        sync.Mutex
	decisions []domain.PendingApproval
}

func (p *recordingPublisher) PublishDecision(_ context.Context, a domain.PendingApproval) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.decisions = append(p.decisions, a)
	return nil
}

func TestApprovalLifecycle(t *testing.T) {
	ctx := context.Background()
	q := NewApprovalQueue(t.TempDir(), zap.NewNop())
	pub := &recordingPublisher{}
	q.SetPublisher(pub)

	first, err := q.Request("coyote", "Pay invoice", Context{"amount_usd": float64(900)}, "audit-1")
	require.NoError(t, err)
	assert.Len(t, first, 8)
	second, err := q.Request("vega", "Email investor", Context{}, "audit-2")
	require.NoError(t, err)

	pending, err := q.PendingApprovals()
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first, pending[0].RequestID)

	ok, err := q.Approve(ctx, first, "principal")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = q.Reject(ctx, first, "principal", "changed my mind")
	require.NoError(t, err)
	assert.False(t, ok, "resolved requests are terminal")

	ok, err = q.Reject(ctx, second, "principal", "not now")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = q.Approve(ctx, "nope", "principal")
	require.NoError(t, err)
	assert.False(t, ok)

	pending, err = q.PendingApprovals()
	require.NoError(t, err)
	assert.Empty(t, pending)

	got, err := q.Get(first)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, got.Status)
	assert.Equal(t, "principal", *got.ResolvedBy)

	byAudit, err := q.FindByAuditID("audit-2")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, byAudit.Status)
	assert.Equal(t, "not now", *byAudit.RejectionReason)

	_, err = q.Get("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.Len(t, pub.decisions, 2)
	assert.Equal(t, domain.StatusApproved, pub.decisions[0].Status)
}

func TestConcurrentRequestsAreAllKept(t *testing.T) {
	q := NewApprovalQueue(t.TempDir(), zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Request("coyote", "x", Context{}, "a")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	all, err := q.List()
	require.NoError(t, err)
	assert.Len(t, all, 10)
}
