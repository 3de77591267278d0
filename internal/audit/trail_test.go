package audit

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/swarm-governor/internal/domain"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestTrail(t *testing.T) (*Trail, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)}
	trail, err := NewTrail(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	trail.now = clock.Now
	return trail, clock
}

func entry(agent string, action domain.ActionKind) domain.AuditEntry {
	return domain.AuditEntry{
		AgentID:       agent,
		Trigger:       domain.TriggerManual,
		ActionType:    action,
		ActionResult:  domain.ResultSuccess,
		AutonomyLevel: domain.LevelAutonomous,
		CostUSD:       0.5,
		TokensUsed:    100,
	}
}

func TestLogAssignsIDAndTracksWorklist(t *testing.T) {
	trail, _ := newTestTrail(t)

	id, err := trail.Log(entry("coyote", domain.ActionEmail))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	_, err = trail.Log(entry("coyote", domain.ActionLogOnly))
	require.NoError(t, err)

	pending := trail.PendingOutcomes()
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)
	assert.Equal(t, domain.ActionEmail, pending[0].ActionType)

	_, err = os.Stat(filepath.Join(trail.Dir(), "2026-05-10.jsonl"))
	require.NoError(t, err)

	idx, err := loadIndex(trail.indexPath())
	require.NoError(t, err)
	assert.Equal(t, 2, idx.ByAgent["coyote"].Count)
}

func TestLoggedEntryReadsBackUnchanged(t *testing.T) {
	trail, clock := newTestTrail(t)
	e := entry("vega", domain.ActionAlert)
	e.ID = "fixed-id"
	e.Timestamp = clock.Now()
	e.ParentID = domain.StrPtr("parent")
	e.ActionDetails = map[string]any{"message": "disk full", "count": float64(2)}
	e.SkillsLoaded = []string{"ops"}

	_, err := trail.Log(e)
	require.NoError(t, err)

	got, err := trail.Get("fixed-id")
	require.NoError(t, err)
	if diff := cmp.Diff(e, got); diff != "" {
		t.Fatalf("entry changed on disk (-want +got):\n%s", diff)
	}
}

func TestUpdateOutcomeIsIdempotent(t *testing.T) {
	trail, clock := newTestTrail(t)
	id, err := trail.Log(entry("coyote", domain.ActionEmail))
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	value := 42.0
	ok, err := trail.UpdateOutcome(id, domain.OutcomeActedOn, &value, domain.StrPtr("replied"))
	require.NoError(t, err)
	require.True(t, ok)

	first, err := os.ReadFile(filepath.Join(trail.Dir(), "2026-05-10.jsonl"))
	require.NoError(t, err)

	clock.Advance(time.Hour)
	ok, err = trail.UpdateOutcome(id, domain.OutcomeActedOn, &value, domain.StrPtr("replied"))
	require.NoError(t, err)
	require.True(t, ok)

	second, err := os.ReadFile(filepath.Join(trail.Dir(), "2026-05-10.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
	assert.Empty(t, trail.PendingOutcomes())

	got, err := trail.Get(id)
	require.NoError(t, err)
	assert.True(t, got.OutcomeTracked)
	assert.Equal(t, domain.OutcomeActedOn, *got.OutcomeStatus)
	assert.Equal(t, 42.0, *got.OutcomeValueUSD)
}

func TestUpdateOutcomeUnknownIDIsNoop(t *testing.T) {
	trail, _ := newTestTrail(t)
	id, err := trail.Log(entry("coyote", domain.ActionEmail))
	require.NoError(t, err)

	before, err := os.ReadFile(filepath.Join(trail.Dir(), "2026-05-10.jsonl"))
	require.NoError(t, err)

	ok, err := trail.UpdateOutcome("missing", domain.OutcomeIgnored, nil, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	after, err := os.ReadFile(filepath.Join(trail.Dir(), "2026-05-10.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, before, after)
	require.Len(t, trail.PendingOutcomes(), 1)
	assert.Equal(t, id, trail.PendingOutcomes()[0].ID)
}

func TestUpdateOutcomeFindsOlderPartition(t *testing.T) {
	trail, clock := newTestTrail(t)
	id, err := trail.Log(entry("coyote", domain.ActionAlert))
	require.NoError(t, err)

	clock.Advance(3 * 24 * time.Hour)
	ok, err := trail.UpdateOutcome(id, domain.OutcomeIgnored, nil, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	clock.Advance(OutcomeSearchHorizon * 24 * time.Hour)
	ok, err = trail.UpdateOutcome(id, domain.OutcomeActedOn, nil, nil)
	require.NoError(t, err)
	assert.False(t, ok, "entries beyond the search horizon are not reachable")
}

func TestQueryOrderingAndFilters(t *testing.T) {
	trail, clock := newTestTrail(t)

	var ids []string
	for i, agent := range []string{"coyote", "vega", "coyote"} {
		id, err := trail.Log(entry(agent, domain.ActionEmail))
		require.NoError(t, err)
		ids = append(ids, id)
		if i == 0 {
			clock.Advance(24 * time.Hour)
		}
	}

	all := trail.Query(Filter{})
	require.Len(t, all, 3)
	for i, e := range all {
		assert.Equal(t, ids[i], e.ID)
	}

	coyote := trail.Query(Filter{AgentID: "coyote"})
	require.Len(t, coyote, 2)
	assert.Equal(t, ids[0], coyote[0].ID)
	assert.Equal(t, ids[2], coyote[1].ID)

	limited := trail.Query(Filter{Limit: 1})
	require.Len(t, limited, 1)
	assert.Equal(t, ids[0], limited[0].ID)

	todayOnly := trail.Query(Filter{Start: clock.Now()})
	assert.Len(t, todayOnly, 2)

	_, err := trail.UpdateOutcome(ids[1], domain.OutcomeRejected, nil, nil)
	require.NoError(t, err)
	rejected := trail.Query(Filter{Outcome: domain.OutcomeRejected})
	require.Len(t, rejected, 1)
	assert.Equal(t, ids[1], rejected[0].ID)
}

func TestQuerySkipsCorruptLines(t *testing.T) {
	trail, _ := newTestTrail(t)
	_, err := trail.Log(entry("coyote", domain.ActionEmail))
	require.NoError(t, err)

	f, err := os.OpenFile(filepath.Join(trail.Dir(), "2026-05-10.jsonl"), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = trail.Log(entry("vega", domain.ActionAlert))
	require.NoError(t, err)

	assert.Len(t, trail.Query(Filter{}), 2)
}

func TestStatsRatesAndMonotonicCost(t *testing.T) {
	trail, clock := newTestTrail(t)
	assert.Equal(t, 0.0, trail.Stats(7).SuccessRate)

	failed := entry("mason", domain.ActionAPICall)
	failed.ActionResult = domain.ResultFailure
	_, err := trail.Log(failed)
	require.NoError(t, err)

	clock.Advance(2 * 24 * time.Hour)
	id, err := trail.Log(entry("coyote", domain.ActionEmail))
	require.NoError(t, err)
	_, err = trail.Log(entry("coyote", domain.ActionLogOnly))
	require.NoError(t, err)
	_, err = trail.UpdateOutcome(id, domain.OutcomeActedOn, nil, nil)
	require.NoError(t, err)

	week := trail.Stats(7)
	assert.Equal(t, 3, week.TotalEntries)
	assert.InDelta(t, 2.0/3.0, week.SuccessRate, 1e-9)
	assert.InDelta(t, 1.0/3.0, week.OutcomeRate, 1e-9)
	assert.Equal(t, 2, week.ByAgent["coyote"])
	assert.Equal(t, 1, week.ByOutcome["acted_on"])
	assert.Equal(t, 300, week.TotalTokens)

	prev := -1.0
	for days := 0; days <= 5; days++ {
		cost := trail.Stats(days).TotalCostUSD
		assert.GreaterOrEqual(t, cost, prev)
		prev = cost
	}
}

func TestConcurrentLogsKeepEveryLine(t *testing.T) {
	trail, _ := newTestTrail(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := trail.Log(entry("coyote", domain.ActionEmail))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, trail.Query(Filter{}), 20)
	assert.Len(t, trail.PendingOutcomes(), 20)
}

func TestCorruptIndexStartsFresh(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "audit"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "audit", "index.json"), []byte("{"), 0o644))

	trail, err := NewTrail(dir, zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, trail.PendingOutcomes())
}

func TestTrailsShareWorkspace(t *testing.T) {
	dir := t.TempDir()
	clock := &fakeClock{t: time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)}
	open := func() *Trail {
		trail, err := NewTrail(dir, zap.NewNop())
		require.NoError(t, err)
		trail.now = clock.Now
		return trail
	}
	server, cli := open(), open()

	a, err := server.Log(entry("coyote", domain.ActionEmail))
	require.NoError(t, err)
	b, err := cli.Log(entry("vega", domain.ActionEmail))
	require.NoError(t, err)
	c, err := server.Log(entry("mason", domain.ActionAlert))
	require.NoError(t, err)

	ids := func(refs []domain.PendingRef) []string {
		out := []string{}
		for _, r := range refs {
			out = append(out, r.ID)
		}
		return out
	}
	assert.Equal(t, []string{a, b, c}, ids(server.PendingOutcomes()))
	assert.Equal(t, []string{a, b, c}, ids(cli.PendingOutcomes()))
	assert.Len(t, open().Query(Filter{}), 3)

	ok, err := cli.UpdateOutcome(a, domain.OutcomeActedOn, nil, domain.StrPtr("manual"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{b, c}, ids(server.PendingOutcomes()))

	// размеченный исход не перетирается автоматическим закрытием
	ok, err = server.ResolveOutcome(a, domain.OutcomeIgnored, nil, nil)
	require.NoError(t, err)
	assert.False(t, ok)
	got, err := server.Get(a)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeActedOn, *got.OutcomeStatus)
	assert.Equal(t, "manual", *got.OutcomeNotes)

	ok, err = server.ResolveOutcome(b, domain.OutcomeIgnored, nil, nil)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{c}, ids(cli.PendingOutcomes()))
}
