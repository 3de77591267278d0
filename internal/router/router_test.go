package router

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/swarm-governor/internal/domain"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestRouter(t *testing.T, mutate func(*Catalog)) (*Router, *clock) {
	t.Helper()
	dir := t.TempDir()
	if mutate != nil {
		c := DefaultCatalog()
		mutate(&c)
		require.NoError(t, saveCatalogFile(filepath.Join(dir, CatalogFileName), c))
	}
	r, err := NewRouter(dir, zap.NewNop())
	require.NoError(t, err)
	clk := &clock{t: time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)}
	r.now = clk.now
	return r, clk
}

func TestRoutePrecedence(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	cases := []struct {
		name   string
		agent  string
		task   string
		tokens int
		force  string
		want   string
	}{
		{"forced tier", "mason", "anything", 100, "opus", "opus"},
		{"unknown forced tier ignored", "mason", "anything", 100, "gpt-9", "haiku"},
		{"force high keyword", "mason", "Prepare the Investor Meeting deck", 100, "", "opus"},
		{"force low keyword", "coyote", "heartbeat sweep", 100, "", "haiku"},
		{"agent default", "vega", "classify this", 100, "", "sonnet"},
		{"task pattern", "stranger", "please classify tickets", 100, "", "haiku"},
		{"pattern order", "stranger", "negotiate and summarize", 100, "", "sonnet"},
		{"complexity threshold", "stranger", "hello there", 1500, "", "sonnet"},
		{"default", "stranger", "hello there", 50000, "", "sonnet"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := r.Route(tc.agent, tc.task, tc.tokens, tc.force)
			assert.Equal(t, tc.want, d.Tier)
			assert.True(t, d.WithinBudget)
		})
	}
}

func TestRouteCostEstimate(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	d := r.Route("stranger", "hello", 1000, "sonnet")
	// 500 * 3 / 1e6 + 1000 * 15 / 1e6
	assert.InDelta(t, 0.0165, d.EstimatedCostUSD, 1e-12)
	assert.Equal(t, "claude-sonnet-4-20250514", d.ModelID)

	d = r.Route("stranger", "hello", 0, "sonnet")
	assert.InDelta(t, 0.0165, d.EstimatedCostUSD, 1e-12, "zero estimate falls back to default")
}

func TestBudgetDowngrade(t *testing.T) {
	// sonnet оценивается ровно в $5 на 100k токенов
	r, _ := newTestRouter(t, func(c *Catalog) {
		c.Models["sonnet"] = Tier{ID: "balanced", CostPerMillionInput: 20, CostPerMillionOutput: 40}
		c.Models["haiku"] = Tier{ID: "cheap", CostPerMillionInput: 0.2, CostPerMillionOutput: 0.4}
		c.Budget.DailyLimitUSD = 50
		c.Budget.AgentLimits = map[string]float64{}
	})

	_, err := r.RecordUsage("coyote", "sonnet", 1_000_000, 675_000)
	require.NoError(t, err)
	require.InDelta(t, 47.0, r.AgentStatus("coyote").SpentUSD, 1e-9)

	d := r.Route("coyote", "draft a reply", 100_000, "sonnet")
	assert.Equal(t, "haiku", d.Tier)
	assert.True(t, d.WithinBudget)
	assert.InDelta(t, 0.05, d.EstimatedCostUSD, 1e-12)
	assert.Contains(t, d.Reason, "budget")
}

func TestCheapestTierIsNotDowngraded(t *testing.T) {
	r, _ := newTestRouter(t, func(c *Catalog) {
		c.Budget.DailyLimitUSD = 0.0001
	})
	d := r.Route("mason", "anything", 1000, "")
	assert.Equal(t, "haiku", d.Tier)
	assert.False(t, d.WithinBudget)
}

func TestAgentLimitDefaultsToDailyLimit(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	assert.Equal(t, 20.0, r.AgentStatus("coyote").LimitUSD)
	assert.Equal(t, 50.0, r.AgentStatus("newcomer").LimitUSD)
}

func TestRecordUsageAlertFiresOnCrossing(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	var alerts []domain.BudgetStatus
	r.OnBudgetAlert(func(s domain.BudgetStatus) { alerts = append(alerts, s) })

	// opus: 1M выходных токенов = $75; лимит 50, порог 80% = $40
	cost, err := r.RecordUsage("coyote", "opus", 0, 400_000)
	require.NoError(t, err)
	assert.InDelta(t, 30.0, cost, 1e-9)
	assert.Empty(t, alerts)

	_, err = r.RecordUsage("coyote", "opus", 0, 200_000)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.InDelta(t, 90.0, alerts[0].PercentUsed, 1e-9)
	assert.True(t, alerts[0].AlertTriggered)

	_, err = r.RecordUsage("coyote", "opus", 0, 10_000)
	require.NoError(t, err)
	assert.Len(t, alerts, 1, "alert fires once per crossing")
}

func TestRecordUsageUnknownTierUsesDefaultRates(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	cost, err := r.RecordUsage("coyote", "mystery", 1_000_000, 0)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, cost, 1e-9)
	assert.InDelta(t, 3.0, r.TodayStatus().ByTier["mystery"], 1e-9)
}

func TestLedgerPersistsAndRollsOver(t *testing.T) {
	r, clk := newTestRouter(t, nil)

	_, err := r.RecordUsage("vega", "sonnet", 1_000_000, 0)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(r.ledger.dir, "2026-04-02.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"daily_total": 3`)

	clk.t = clk.t.Add(24 * time.Hour)
	assert.Equal(t, 0.0, r.TodayStatus().SpentUSD)
	assert.Equal(t, "2026-04-03", r.TodayStatus().Date)

	_, err = r.RecordUsage("vega", "haiku", 1_000_000, 0)
	require.NoError(t, err)

	s := r.CostSummary(7)
	assert.InDelta(t, 3.25, s.TotalCostUSD, 1e-9)
	assert.InDelta(t, 3.25/7, s.DailyAverageUSD, 1e-9)
	assert.InDelta(t, 3.25/7/50, s.Utilization, 1e-9)
	assert.Len(t, s.ByDay, 2)
	assert.InDelta(t, 3.25, s.ByAgent["vega"], 1e-9)
}

func TestInvalidCatalogFallsBack(t *testing.T) {
	r, _ := newTestRouter(t, func(c *Catalog) {
		c.Routing.Default = "nonexistent"
	})
	assert.Equal(t, "sonnet", r.Catalog().Routing.Default)
	_, err := os.Stat(r.Path() + ".invalid")
	assert.NoError(t, err)
}

func TestLedgerSharedBetweenRouters(t *testing.T) {
	dir := t.TempDir()
	clk := &clock{t: time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)}
	open := func() *Router {
		r, err := NewRouter(dir, zap.NewNop())
		require.NoError(t, err)
		r.now = clk.now
		return r
	}
	server, cli := open(), open()

	// 1M входных токенов sonnet = $3
	_, err := server.RecordUsage("vega", "sonnet", 1_000_000, 0)
	require.NoError(t, err)
	_, err = cli.RecordUsage("vega", "sonnet", 1_000_000, 0)
	require.NoError(t, err)
	_, err = server.RecordUsage("mason", "sonnet", 1_000_000, 0)
	require.NoError(t, err)

	fresh := open()
	status := fresh.TodayStatus()
	assert.InDelta(t, 9.0, status.SpentUSD, 1e-9)
	assert.InDelta(t, 6.0, status.ByAgent["vega"], 1e-9)
	assert.InDelta(t, 9.0, server.TodayStatus().SpentUSD, 1e-9)
	assert.InDelta(t, 9.0, cli.TodayStatus().SpentUSD, 1e-9)
}

func TestUnreadableLedgerIsNotOverwritten(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	path := filepath.Join(r.ledger.dir, "2026-04-02.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"daily_total": 4`), 0o644))

	d := r.Route("vega", "classify this", 100, "opus")
	assert.Equal(t, "haiku", d.Tier)

	_, err := r.RecordUsage("vega", "sonnet", 1_000_000, 0)
	require.ErrorIs(t, err, domain.ErrParse)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"daily_total": 4`, string(data))
}
