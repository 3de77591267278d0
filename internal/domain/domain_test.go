package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditEntryWireRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 30, 0, 123456789, time.UTC)
	status := OutcomeActedOn
	value := 120.5

	cases := map[string]AuditEntry{
		"minimal": {
			ID:            "a1",
			Timestamp:     ts,
			AgentID:       "coyote",
			Trigger:       TriggerManual,
			ActionType:    ActionLogOnly,
			ActionResult:  ResultSuccess,
			AutonomyLevel: LevelAutonomous,
		},
		"full": {
			ID:               "a2",
			Timestamp:        ts,
			AgentID:          "vega",
			Trigger:          TriggerAgentRequest,
			Source:           "delegation",
			ParentID:         StrPtr("a1"),
			InputData:        map[string]any{"text": "hello", "n": float64(3)},
			ContextSummary:   "hello",
			MemoryRetrieved:  []string{"m1"},
			SkillsLoaded:     []string{},
			ModelUsed:        "claude-sonnet",
			TokensUsed:       1500,
			CostUSD:          0.0123,
			LatencyMS:        850,
			Decision:         "Send the digest",
			Confidence:       0.8,
			DelegatedTo:      StrPtr("mason"),
			ActionType:       ActionEmail,
			ActionDetails:    map[string]any{"to": "x@example.com", "nested": map[string]any{"ok": true}},
			ActionResult:     ResultAwaitingApproval,
			AutonomyLevel:    LevelApprovalRequired,
			ApprovalNeeded:   true,
			ErrorMessage:     StrPtr("boom"),
			OutcomeTracked:   true,
			OutcomeStatus:    &status,
			OutcomeTimestamp: &ts,
			OutcomeValueUSD:  &value,
			OutcomeNotes:     StrPtr("replied"),
		},
	}

	for name, entry := range cases {
		t.Run(name, func(t *testing.T) {
			raw, err := json.Marshal(entry)
			require.NoError(t, err)

			var decoded AuditEntry
			require.NoError(t, json.Unmarshal(raw, &decoded))
			if diff := cmp.Diff(entry, decoded); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAuditEntryNullableFieldsEncodeAsNull(t *testing.T) {
	raw, err := json.Marshal(AuditEntry{ID: "x", ActionType: ActionAlert})
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(raw, &generic))
	for _, key := range []string{"parent_audit_id", "outcome_status", "outcome_timestamp", "outcome_value_usd", "outcome_notes", "error_message"} {
		v, ok := generic[key]
		assert.True(t, ok, key)
		assert.Nil(t, v, key)
	}
}

func TestCategoryTableIsTotal(t *testing.T) {
	want := map[ActionKind]string{
		ActionAlert:           "alert",
		ActionEmail:           "communication",
		ActionAPICall:         "code",
		ActionCodeExecution:   "code",
		ActionDelegate:        "communication",
		ActionApprovalRequest: "communication",
		ActionLogOnly:         "research",
	}
	for kind, category := range want {
		assert.True(t, kind.Valid())
		assert.Equal(t, category, kind.Category(), kind)
	}
	assert.False(t, ActionKind("teleport").Valid())
}

func TestApprovalStateMachine(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := PendingApproval{RequestID: "r1", Status: StatusPending}

	assert.ErrorIs(t, a.CanTransitionTo(StatusPending), ErrInvalidTransition)
	require.NoError(t, a.Resolve(StatusRejected, "principal", StrPtr("too costly"), now))
	assert.Equal(t, StatusRejected, a.Status)
	assert.Equal(t, "too costly", *a.RejectionReason)

	assert.ErrorIs(t, a.Resolve(StatusApproved, "principal", nil, now), ErrAlreadyProcessed)
	assert.Equal(t, StatusRejected, a.Status)
}
