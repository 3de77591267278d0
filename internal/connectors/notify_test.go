package connectors

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/swarm-governor/internal/domain"
)

type recordingSender struct {
	delivered []Alert
	err       error
}

func (s *recordingSender) Name() string { return "test" }

func (s *recordingSender) Deliver(_ context.Context, a Alert) error {
	if s.err != nil {
		return s.err
	}
	s.delivered = append(s.delivered, a)
	return nil
}

func newTestNotifier(t *testing.T, sender Sender, max int) (*RateLimitedNotifier, *time.Time) {
	t.Helper()
	clock := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	n := NewRateLimitedNotifier(sender, max, t.TempDir(), zap.NewNop())
	n.now = func() time.Time { return clock }
	return n, &clock
}

func TestRateLimitedNotifier_LimitsPerHour(t *testing.T) {
	sender := &recordingSender{}
	n, _ := newTestNotifier(t, sender, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := n.Send(ctx, "disk almost full", "normal")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := n.Send(ctx, "disk almost full", "normal")
	require.NoError(t, err)
	assert.False(t, ok, "third message in the same hour must be held back")
	assert.Len(t, sender.delivered, 2)

	recent, err := n.Recent(24)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "rate_limited", recent[2].Status)
}

func TestRateLimitedNotifier_EmergencyBypassesLimit(t *testing.T) {
	sender := &recordingSender{}
	n, _ := newTestNotifier(t, sender, 1)
	ctx := context.Background()

	ok, _ := n.Send(ctx, "first", "normal")
	require.True(t, ok)
	ok, _ = n.Send(ctx, "second", "normal")
	require.False(t, ok)

	for _, urgency := range []string{"critical", "emergency"} {
		ok, err := n.Send(ctx, "site offline", urgency)
		require.NoError(t, err)
		assert.True(t, ok, urgency)
	}
	assert.Len(t, sender.delivered, 3)
}

func TestRateLimitedNotifier_RefillsOverTime(t *testing.T) {
	sender := &recordingSender{}
	n, clock := newTestNotifier(t, sender, 1)
	ctx := context.Background()

	ok, _ := n.Send(ctx, "first", "normal")
	require.True(t, ok)
	ok, _ = n.Send(ctx, "second", "normal")
	require.False(t, ok)

	*clock = clock.Add(time.Hour)
	ok, err := n.Send(ctx, "third", "normal")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRateLimitedNotifier_DeliveryFailure(t *testing.T) {
	sender := &recordingSender{err: errors.New("gateway down")}
	n, _ := newTestNotifier(t, sender, 5)

	ok, err := n.Send(context.Background(), "hello", "high")
	assert.False(t, ok)
	require.ErrorIs(t, err, domain.ErrExternalCall)

	recent, err := n.Recent(1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "failed", recent[0].Status)
	assert.Equal(t, "gateway down", recent[0].Error)
}

func TestRateLimitedNotifier_TruncatesHistory(t *testing.T) {
	sender := &recordingSender{}
	n, _ := newTestNotifier(t, sender, 5)
	long := strings.Repeat("y", 250)

	_, err := n.Send(context.Background(), long, "")
	require.NoError(t, err)

	require.Len(t, sender.delivered, 1)
	assert.Equal(t, long, sender.delivered[0].Message)
	assert.Equal(t, "normal", sender.delivered[0].Urgency)

	recent, err := n.Recent(1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Len(t, recent[0].Message, 100)
}
