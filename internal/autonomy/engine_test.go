package autonomy

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

func newTestEngine(t *testing.T, mutate func(*RuleDocument)) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	if mutate != nil {
		doc := DefaultRules()
		mutate(&doc)
		require.NoError(t, saveRuleFile(filepath.Join(dir, RulesFileName), doc))
	}
	e, err := NewEngine(dir, zap.NewNop())
	require.NoError(t, err)
	e.now = at(12, 0, 0)
	return e, dir
}

func at(h, m, s int) func() time.Time {
	return func() time.Time { return time.Date(2026, 6, 1, h, m, s, 0, time.Local) }
}

func TestDefaultRulesArePersisted(t *testing.T) {
	e, dir := newTestEngine(t, nil)

	data, err := os.ReadFile(filepath.Join(dir, RulesFileName))
	require.NoError(t, err)
	doc, err := decodeRules(data)
	require.NoError(t, err)
	assert.Equal(t, 50.0, doc.Global.MaxSpendAutonomous)
	assert.Equal(t, domain.LevelApprovalRequired, doc.Actions["financial"]["payment"].Level)
	assert.Equal(t, DefaultApprover, e.Approver())
}

func TestMalformedRulesFallBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, RulesFileName)
	require.NoError(t, os.WriteFile(path, []byte("global: [unterminated"), 0o644))

	e, err := NewEngine(dir, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, domain.LevelNotify, e.Rules().Global.DefaultLevel)

	_, err = os.Stat(path + ".invalid")
	assert.NoError(t, err)
}

func TestInvalidLevelRejected(t *testing.T) {
	e, _ := newTestEngine(t, func(d *RuleDocument) {
		d.Actions["code"]["deploy"] = ActionRule{Level: "whenever"}
	})
	// документ отвергнут целиком, действуют встроенные правила
	res := e.CheckPermission("coyote", "code", "deploy", Context{})
	assert.Equal(t, domain.LevelApprovalRequired, res.Level)
}

func TestQuietHoursStrictPolicy(t *testing.T) {
	e, _ := newTestEngine(t, func(d *RuleDocument) {
		d.Global.QuietHoursAction = QuietEmergencyOnly
	})

	cases := []struct {
		name    string
		now     func() time.Time
		ctx     Context
		blocked bool
	}{
		{"late evening", at(23, 30, 0), Context{}, true},
		{"start inclusive", at(22, 0, 0), Context{}, true},
		{"after midnight", at(3, 0, 0), Context{}, true},
		{"end inclusive", at(7, 0, 0), Context{}, true},
		{"just after end", at(7, 0, 1), Context{}, false},
		{"midday", at(12, 0, 0), Context{}, false},
		{"emergency passes", at(23, 30, 0), Context{"urgency": "emergency"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e.now = tc.now
			res := e.CheckPermission("coyote", "research", "web_search", tc.ctx)
			if tc.blocked {
				assert.False(t, res.Allowed)
				assert.Equal(t, domain.LevelApprovalRequired, res.Level)
				assert.Equal(t, []string{"quiet_hours"}, res.ConditionsFailed)
			} else {
				assert.True(t, res.Allowed)
			}
		})
	}
}

func TestQuietHoursBatchPolicyDoesNotDeny(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	e.now = at(23, 30, 0)

	res := e.CheckPermission("coyote", "research", "web_search", Context{})
	assert.True(t, res.Allowed)
	assert.Equal(t, domain.LevelAutonomous, res.Level)
}

func TestAlwaysEscalate(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	res := e.CheckPermission("coyote", "research", "web_search", Context{"estimated_impact_usd": float64(20000)})
	assert.False(t, res.Allowed)
	assert.Equal(t, domain.LevelApprovalRequired, res.Level)
	assert.Equal(t, "principal", res.RequiresApprover)
	assert.Equal(t, []string{"estimated_impact_usd > 10000"}, res.ConditionsFailed)

	res = e.CheckPermission("coyote", "research", "web_search", Context{"press_or_media": true})
	assert.False(t, res.Allowed)
}

func TestFinancialCeilings(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	res := e.CheckPermission("coyote", "research", "web_search", Context{"amount_usd": float64(15000)})
	assert.False(t, res.Allowed)
	assert.Equal(t, domain.LevelApprovalRequired, res.Level)
	assert.Equal(t, []string{"financial_limit"}, res.ConditionsFailed)

	res = e.CheckPermission("coyote", "research", "web_search", Context{"amount_usd": float64(200)})
	assert.True(t, res.Allowed)
	assert.Equal(t, domain.LevelNotify, res.Level)
	assert.Equal(t, "email", res.NotifyVia)

	res = e.CheckPermission("coyote", "research", "web_search", Context{"amount_usd": float64(200), "urgency": "high"})
	assert.Equal(t, "sms", res.NotifyVia)

	res = e.CheckPermission("coyote", "research", "web_search", Context{"amount_usd": float64(50)})
	assert.Equal(t, domain.LevelAutonomous, res.Level)
}

func TestBaseRuleAndDefaultLevel(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	res := e.CheckPermission("coyote", "financial", "payment", Context{"amount_usd": float64(200)})
	assert.False(t, res.Allowed)
	assert.Equal(t, domain.LevelApprovalRequired, res.Level)

	res = e.CheckPermission("coyote", "alert", "alert", Context{})
	assert.True(t, res.Allowed)
	assert.Equal(t, domain.LevelNotify, res.Level, "unknown action falls back to default level")

	res = e.CheckPermission("coyote", "alert", "sms", Context{"urgency": "low"})
	assert.Equal(t, domain.LevelAutonomous, res.Level)
	assert.Equal(t, []string{"urgency >= high"}, res.ConditionsFailed)
	assert.Empty(t, res.ConditionsMet)
}

func TestAgentOverrideAndApprovalRequiredIf(t *testing.T) {
	e, _ := newTestEngine(t, func(d *RuleDocument) {
		d.Agents["mason"] = AgentRules{
			TrustLevel: "medium",
			Overrides: map[string]ActionRule{
				"code.read_only": {Level: domain.LevelNotify, ApprovalRequiredIf: []string{`repo == "billing"`}},
			},
		}
	})

	res := e.CheckPermission("coyote", "code", "read_only", Context{})
	assert.Equal(t, domain.LevelAutonomous, res.Level)

	res = e.CheckPermission("mason", "code", "read_only", Context{"repo": "web"})
	assert.True(t, res.Allowed)
	assert.Equal(t, domain.LevelNotify, res.Level)

	res = e.CheckPermission("mason", "code", "read_only", Context{"repo": "billing"})
	assert.False(t, res.Allowed)
	assert.Equal(t, `Requires approval: repo == "billing"`, res.Reason)
}

func TestReloadPicksUpEdits(t *testing.T) {
	e, dir := newTestEngine(t, nil)

	doc := e.Rules()
	doc.Global.MaxSpendAutonomous = 1000
	doc.Global.MaxSpendNotify = 5000
	require.NoError(t, saveRuleFile(filepath.Join(dir, RulesFileName), doc))
	require.NoError(t, e.Reload())

	res := e.CheckPermission("coyote", "research", "web_search", Context{"amount_usd": float64(800)})
	assert.Equal(t, domain.LevelAutonomous, res.Level)
}
