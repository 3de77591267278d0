package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/swarm-governor/internal/audit"
	"github.com/xela07ax/swarm-governor/internal/autonomy"
	"github.com/xela07ax/swarm-governor/internal/connectors"
	"github.com/xela07ax/swarm-governor/internal/domain"
	"github.com/xela07ax/swarm-governor/internal/router"
)

type sentNote struct {
	message string
	urgency string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNote
	err  error
}

func (n *recordingNotifier) Send(_ context.Context, message, urgency string) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return false, n.err
	}
	n.sent = append(n.sent, sentNote{message: message, urgency: urgency})
	return true, nil
}

func (n *recordingNotifier) notes() []sentNote {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentNote(nil), n.sent...)
}

type harness struct {
	dir      string
	trail    *audit.Trail
	router   *router.Router
	autonomy *autonomy.Engine
	notifier *recordingNotifier
	pipeline *Pipeline
}

func newHarness(t *testing.T, llm connectors.ReasoningClient) *harness {
	t.Helper()
	dir := t.TempDir()
	logger := zap.NewNop()

	trail, err := audit.NewTrail(dir, logger)
	require.NoError(t, err)
	rt, err := router.NewRouter(dir, logger)
	require.NoError(t, err)
	eng, err := autonomy.NewEngine(dir, logger)
	require.NoError(t, err)

	h := &harness{dir: dir, trail: trail, router: rt, autonomy: eng, notifier: &recordingNotifier{}}
	h.pipeline = NewPipeline(Components{
		Audit:     trail,
		Router:    rt,
		Autonomy:  eng,
		Reasoning: llm,
		Notifier:  h.notifier,
		Executor:  connectors.NewLogExecutor(logger),
	}, Options{}, nil, logger)
	return h
}

func (h *harness) entries(t *testing.T) []domain.AuditEntry {
	t.Helper()
	return h.trail.Query(audit.Filter{})
}

func TestProcessRefundRequiresApproval(t *testing.T) {
	llm := connectors.NewScriptedClient("", connectors.ScriptedReply{
		Match: "refund",
		Text: "Decision: Schedule the customer refund\n" +
			"Action: api_call\n" +
			`Details: {"category": "financial", "type": "payment", "amount_usd": 200}`,
	})
	h := newHarness(t, llm)

	resp := h.pipeline.Process(context.Background(), Input{Text: "schedule a $200 refund", Trigger: domain.TriggerManual})

	require.True(t, resp.Success, resp.Error)
	assert.Nil(t, resp.ActionTaken)
	assert.Equal(t, domain.LevelApprovalRequired, resp.AutonomyLevel)
	assert.Equal(t, "Schedule the customer refund", resp.Decision)
	assert.NotEmpty(t, resp.TierUsed)

	entries := h.entries(t)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, resp.AuditID, e.ID)
	assert.Equal(t, domain.LevelApprovalRequired, e.AutonomyLevel)
	assert.Equal(t, domain.ResultAwaitingApproval, e.ActionResult)
	assert.True(t, e.ApprovalNeeded)
	assert.Equal(t, DefaultAgent, e.AgentID)
	assert.Equal(t, "schedule a $200 refund", e.ContextSummary)

	approval, err := h.autonomy.Approvals().FindByAuditID(resp.AuditID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, approval.Status)
	assert.Equal(t, "api_call: Schedule the customer refund", approval.Action)

	assert.Empty(t, h.notifier.notes())
}

func TestProcessNotifyLevelSendsNotification(t *testing.T) {
	llm := connectors.NewScriptedClient("Decision: Nothing needs to happen right now\nAction: log_only")
	h := newHarness(t, llm)

	resp := h.pipeline.Process(context.Background(), Input{Text: "morning status"})

	require.True(t, resp.Success, resp.Error)
	require.NotNil(t, resp.ActionTaken)
	assert.Equal(t, domain.ActionLogOnly, *resp.ActionTaken)
	assert.Equal(t, domain.LevelNotify, resp.AutonomyLevel)

	notes := h.notifier.notes()
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0].message, "Nothing needs to happen")
	assert.Equal(t, "normal", notes[0].urgency)

	entries := h.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ResultSuccess, entries[0].ActionResult)
	assert.Positive(t, entries[0].CostUSD)
	assert.Equal(t, resp.CostUSD, entries[0].CostUSD)
}

func TestProcessAlertGoesThroughNotifier(t *testing.T) {
	llm := connectors.NewScriptedClient("Decision: Tell the principal the site is down\n" +
		"Action: **alert**\n" +
		"Details:\n" +
		"```json\n" +
		`{"type": "sms", "urgency": "high",` + "\n" +
		`"message": "Site offline"}` + "\n" +
		"```")
	h := newHarness(t, llm)

	resp := h.pipeline.Process(context.Background(), Input{Text: "site monitor fired", Trigger: domain.TriggerWebhook, Source: "monitor"})

	require.True(t, resp.Success, resp.Error)
	require.NotNil(t, resp.ActionTaken)
	assert.Equal(t, domain.ActionAlert, *resp.ActionTaken)
	assert.Equal(t, domain.LevelAutonomous, resp.AutonomyLevel)

	notes := h.notifier.notes()
	require.Len(t, notes, 1)
	assert.Equal(t, sentNote{message: "Site offline", urgency: "high"}, notes[0])
}

func TestProcessReasoningFailureIsRecorded(t *testing.T) {
	llm := connectors.NewScriptedClient("", connectors.ScriptedReply{Err: errors.New("connection refused")})
	h := newHarness(t, llm)

	resp := h.pipeline.Process(context.Background(), Input{Text: "anything"})

	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "connection refused")
	assert.Equal(t, "Error during processing", resp.Decision)
	assert.Nil(t, resp.ActionTaken)

	entries := h.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, resp.AuditID, entries[0].ID)
	assert.Equal(t, domain.ResultFailure, entries[0].ActionResult)
	require.NotNil(t, entries[0].ErrorMessage)
	assert.Contains(t, *entries[0].ErrorMessage, domain.ErrExternalCall.Error())
}

func TestProcessNotifierFailureFailsPipeline(t *testing.T) {
	llm := connectors.NewScriptedClient("Decision: Send the alert to the principal\nAction: alert\nDetails: {\"message\": \"x\"}")
	h := newHarness(t, llm)
	h.notifier.err = errors.New("gateway down")

	resp := h.pipeline.Process(context.Background(), Input{Text: "alert please"})

	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "gateway down")
	require.Len(t, h.entries(t), 1)
}

type panickingClient struct{}

func (panickingClient) Complete(context.Context, connectors.CompletionRequest) (connectors.Completion, error) {
	panic("boom")
}

func TestProcessRecoversPanic(t *testing.T) {
	h := newHarness(t, panickingClient{})

	resp := h.pipeline.Process(context.Background(), Input{Text: "anything"})

	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "boom")
	entries := h.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ResultFailure, entries[0].ActionResult)
}

func TestDelegationIsBoundedByDepth(t *testing.T) {
	llm := connectors.NewScriptedClient("Decision: Hand this to mason\n" +
		"Action: delegate\n" +
		`Details: {"agent": "mason", "task": "keep delegating"}`)
	h := newHarness(t, llm)

	resp := h.pipeline.Process(context.Background(), Input{Text: "start the loop"})
	require.True(t, resp.Success, resp.Error)

	entries := h.entries(t)
	require.Len(t, entries, DefaultMaxDelegationDepth+2)

	byID := map[string]domain.AuditEntry{}
	for _, e := range entries {
		byID[e.ID] = e
	}
	top := byID[resp.AuditID]
	assert.Nil(t, top.ParentID)
	require.NotNil(t, top.DelegatedTo)
	assert.Equal(t, "mason", *top.DelegatedTo)

	// Самая глубокая запись отклонена ограничителем, её родитель видит неуспех делегирования
	var deepest domain.AuditEntry
	for _, e := range entries {
		if e.ErrorMessage != nil {
			deepest = e
		}
	}
	require.NotNil(t, deepest.ErrorMessage)
	assert.Contains(t, *deepest.ErrorMessage, domain.ErrDelegationDepth.Error())
	assert.Equal(t, "mason", deepest.AgentID)
	assert.Equal(t, domain.TriggerAgentRequest, deepest.Trigger)
	require.NotNil(t, deepest.ParentID)
	parent := byID[*deepest.ParentID]
	assert.Equal(t, domain.ResultFailure, parent.ActionResult)
	assert.Equal(t, "delegated_from_mason", deepest.Source)
	assert.Equal(t, domain.ResultSuccess, top.ActionResult)
}

func TestProcessPassesRoutingToClient(t *testing.T) {
	llm := connectors.NewScriptedClient("Decision: Nothing to do here today\nAction: log_only")
	h := newHarness(t, llm)
	h.pipeline.c.Context = connectors.NewKeywordContext(nil, connectors.Memory{ID: "m1", Category: "prefs", Content: "Prefers SMS", Tags: []string{"status"}})

	resp := h.pipeline.Process(context.Background(), Input{Text: "status update", ForceTier: "haiku"})
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "haiku", resp.TierUsed)

	calls := llm.Calls()
	require.Len(t, calls, 1)
	tier, ok := h.router.Tier("haiku")
	require.True(t, ok)
	assert.Equal(t, tier.ID, calls[0].ModelID)
	assert.Contains(t, calls[0].SystemPrompt, "[prefs] Prefers SMS")

	entries := h.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, []string{"m1"}, entries[0].MemoryRetrieved)
}

func TestProcessCarriesTraceID(t *testing.T) {
	llm := connectors.NewScriptedClient("Decision: Nothing to do here today\nAction: log_only")
	h := newHarness(t, llm)

	resp := h.pipeline.Process(WithTraceID(context.Background(), "trace-1"), Input{Text: "hello"})
	require.True(t, resp.Success)

	e, err := h.trail.Get(resp.AuditID)
	require.NoError(t, err)
	assert.Equal(t, "trace-1", e.InputData["trace_id"])
}
