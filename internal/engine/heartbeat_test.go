package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/swarm-governor/internal/audit"
	"github.com/xela07ax/swarm-governor/internal/autonomy"
	"github.com/xela07ax/swarm-governor/internal/connectors"
	"github.com/xela07ax/swarm-governor/internal/domain"
	"github.com/xela07ax/swarm-governor/internal/outcome"
)

type fakeLocker struct {
	ok       bool
	err      error
	released int
}

func (l *fakeLocker) Acquire(context.Context, string, time.Duration) (func(context.Context) error, bool, error) {
	if l.err != nil || !l.ok {
		return nil, false, l.err
	}
	return func(context.Context) error {
		l.released++
		return nil
	}, true, nil
}

func newTestHeartbeat(t *testing.T, locker Locker) (*Heartbeat, *harness) {
	t.Helper()
	h := newHarness(t, connectors.NewScriptedClient("Decision: Heartbeat looks healthy overall\nAction: log_only"))
	hb := NewHeartbeat(HeartbeatDeps{
		Pipeline:  h.pipeline,
		Outcomes:  outcome.NewTracker(h.trail, zap.NewNop()),
		Approvals: h.autonomy.Approvals(),
		Audit:     h.trail,
		Budget:    h.router,
		Workspace: h.dir,
		Locker:    locker,
	}, zap.NewNop())
	return hb, h
}

func TestHeartbeatProcessesSummaryAndRecordsHistory(t *testing.T) {
	hb, h := newTestHeartbeat(t, nil)

	resp := hb.RunPeriodicCheck(context.Background())
	require.True(t, resp.Success, resp.Error)

	entries := h.trail.Query(audit.Filter{Trigger: domain.TriggerHeartbeat})
	require.Len(t, entries, 1)
	assert.Equal(t, HeartbeatSource, entries[0].Source)
	assert.Contains(t, entries[0].ContextSummary, "Heartbeat check complete.")

	recent, err := hb.Recent(5)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, resp.AuditID, recent[0].AuditID)
	names := []string{}
	for _, c := range recent[0].Checks {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"outcomes", "workspace", "pending_approvals", "audit"}, names)

	st, err := hb.Status()
	require.NoError(t, err)
	require.NotNil(t, st.LastHeartbeat)
	assert.Equal(t, resp.AuditID, st.LastHeartbeat.AuditID)
	assert.Equal(t, 1, st.Audit.TotalEntries)
}

func TestHeartbeatDoesNotOverlap(t *testing.T) {
	hb, h := newTestHeartbeat(t, nil)

	hb.running.Lock()
	resp := hb.RunPeriodicCheck(context.Background())
	hb.running.Unlock()

	assert.False(t, resp.Success)
	assert.Equal(t, domain.ErrHeartbeatRunning.Error(), resp.Error)
	assert.Empty(t, h.trail.Query(audit.Filter{}))

	resp = hb.RunPeriodicCheck(context.Background())
	assert.True(t, resp.Success, resp.Error)
}

func TestHeartbeatRespectsDistributedLock(t *testing.T) {
	held := &fakeLocker{ok: false}
	hb, _ := newTestHeartbeat(t, held)
	resp := hb.RunPeriodicCheck(context.Background())
	assert.False(t, resp.Success)
	assert.Equal(t, domain.ErrHeartbeatRunning.Error(), resp.Error)

	free := &fakeLocker{ok: true}
	hb, _ = newTestHeartbeat(t, free)
	resp = hb.RunPeriodicCheck(context.Background())
	assert.True(t, resp.Success, resp.Error)
	assert.Equal(t, 1, free.released)

	broken := &fakeLocker{err: errors.New("redis down")}
	hb, _ = newTestHeartbeat(t, broken)
	resp = hb.RunPeriodicCheck(context.Background())
	assert.True(t, resp.Success, "lock backend outage must not stop the local heartbeat")
}

func TestPendingApprovalsCheck(t *testing.T) {
	hb, h := newTestHeartbeat(t, nil)
	for i := 0; i < 6; i++ {
		_, err := h.autonomy.RequestApproval("vega", "email: follow up", autonomy.Context{}, "audit-x")
		require.NoError(t, err)
	}

	c := hb.checkPendingApprovals(context.Background())
	assert.Equal(t, domain.HealthWarning, c.State)
	assert.Equal(t, "6 approvals pending", c.Message)

	hb.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	c = hb.checkPendingApprovals(context.Background())
	assert.Equal(t, domain.HealthWarning, c.State)
	assert.Equal(t, "6 approvals waiting > 24 hours", c.Message)
}

func TestSummarizeListsAtMostThreeIssues(t *testing.T) {
	rec := domain.HeartbeatRecord{Checks: []domain.HealthCheck{
		{Name: "a", State: domain.HealthWarning, Message: "m1"},
		{Name: "b", State: domain.HealthOK, Message: "fine"},
		{Name: "c", State: domain.HealthError, Message: "m2"},
		{Name: "d", State: domain.HealthWarning, Message: "m3"},
		{Name: "e", State: domain.HealthWarning, Message: "m4"},
	}}
	rec.Overall = overall(rec.Checks)

	assert.Equal(t, domain.HealthError, rec.Overall)
	assert.Equal(t, "Heartbeat: error. 5 checks run. a: m1. c: m2. d: m3.", summarize(rec))
}
