package domain

import "time"

// TriggerKind причина, по которой агент начал работу
type TriggerKind string

const (
	TriggerHeartbeat    TriggerKind = "heartbeat"
	TriggerWebhook      TriggerKind = "webhook"
	TriggerManual       TriggerKind = "manual"
	TriggerScheduled    TriggerKind = "scheduled"
	TriggerAgentRequest TriggerKind = "agent_request"
	TriggerEscalation   TriggerKind = "escalation"
)

func (t TriggerKind) Valid() bool {
	switch t {
	case TriggerHeartbeat, TriggerWebhook, TriggerManual, TriggerScheduled, TriggerAgentRequest, TriggerEscalation:
		return true
	}
	return false
}

// ActionKind вид действия, выбранного агентом
type ActionKind string

const (
	ActionAlert           ActionKind = "alert"
	ActionEmail           ActionKind = "email"
	ActionAPICall         ActionKind = "api_call"
	ActionCodeExecution   ActionKind = "code_execution"
	ActionDelegate        ActionKind = "delegate"
	ActionLogOnly         ActionKind = "log_only"
	ActionApprovalRequest ActionKind = "approval_request"
)

func (a ActionKind) Valid() bool {
	switch a {
	case ActionAlert, ActionEmail, ActionAPICall, ActionCodeExecution, ActionDelegate, ActionLogOnly, ActionApprovalRequest:
		return true
	}
	return false
}

// Category категория правил автономии для вида действия.
func (a ActionKind) Category() string {
	switch a {
	case ActionAlert:
		return "alert"
	case ActionEmail, ActionDelegate, ActionApprovalRequest:
		return "communication"
	case ActionAPICall, ActionCodeExecution:
		return "code"
	case ActionLogOnly:
		return "research"
	}
	return "research"
}

type ActionResult string

const (
	ResultSuccess          ActionResult = "success"
	ResultFailure          ActionResult = "failure"
	ResultPending          ActionResult = "pending"
	ResultAwaitingApproval ActionResult = "awaiting_approval"
	ResultRejected         ActionResult = "rejected"
)

func (r ActionResult) Valid() bool {
	switch r {
	case ResultSuccess, ResultFailure, ResultPending, ResultAwaitingApproval, ResultRejected:
		return true
	}
	return false
}

// OutcomeStatus что произошло в реальном мире после действия
type OutcomeStatus string

const (
	OutcomePending    OutcomeStatus = "pending"
	OutcomeActedOn    OutcomeStatus = "acted_on"
	OutcomeIgnored    OutcomeStatus = "ignored"
	OutcomeDelayed    OutcomeStatus = "delayed"
	OutcomeRejected   OutcomeStatus = "rejected"
	OutcomeSuperseded OutcomeStatus = "superseded"
)

func (o OutcomeStatus) Valid() bool {
	switch o {
	case OutcomePending, OutcomeActedOn, OutcomeIgnored, OutcomeDelayed, OutcomeRejected, OutcomeSuperseded:
		return true
	}
	return false
}

// AuditEntry одна неизменяемая запись журнала. Мутируют только поля outcome_*.
type AuditEntry struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	AgentID   string      `json:"agent_id"`
	Trigger   TriggerKind `json:"trigger_type"`
	Source    string      `json:"trigger_source"`
	ParentID  *string     `json:"parent_audit_id"`

	InputData       map[string]any `json:"input_data"`
	ContextSummary  string         `json:"context_summary"`
	MemoryRetrieved []string       `json:"memory_retrieved"`
	SkillsLoaded    []string       `json:"skills_loaded"`

	ModelUsed   string  `json:"model_used"`
	TokensUsed  int     `json:"tokens_used"`
	CostUSD     float64 `json:"cost_usd"`
	LatencyMS   int64   `json:"latency_ms"`
	Reasoning   string  `json:"reasoning"`
	Decision    string  `json:"decision"`
	Confidence  float64 `json:"confidence"`
	DelegatedTo *string `json:"delegated_to"`

	ActionType     ActionKind     `json:"action_type"`
	ActionDetails  map[string]any `json:"action_details"`
	ActionResult   ActionResult   `json:"action_result"`
	AutonomyLevel  AutonomyLevel  `json:"autonomy_level"`
	ApprovalNeeded bool           `json:"approval_required"`
	ErrorMessage   *string        `json:"error_message"`

	OutcomeTracked   bool           `json:"outcome_tracked"`
	OutcomeStatus    *OutcomeStatus `json:"outcome_status"`
	OutcomeTimestamp *time.Time     `json:"outcome_timestamp"`
	OutcomeValueUSD  *float64       `json:"outcome_value_usd"`
	OutcomeNotes     *string        `json:"outcome_notes"`
}

// NeedsOutcome запись попадает в рабочий список отслеживания исходов.
func (e *AuditEntry) NeedsOutcome() bool {
	return e.ActionType != ActionLogOnly && !e.OutcomeTracked
}

// PendingRef элемент рабочего списка ожидающих исходов
type PendingRef struct {
	ID         string     `json:"id"`
	Timestamp  time.Time  `json:"timestamp"`
	AgentID    string     `json:"agent_id"`
	ActionType ActionKind `json:"action_type"`
}

// AuditStats агрегаты по окну журнала
type AuditStats struct {
	PeriodDays   int            `json:"period_days"`
	TotalEntries int            `json:"total_entries"`
	ByAgent      map[string]int `json:"by_agent"`
	ByAction     map[string]int `json:"by_action"`
	ByOutcome    map[string]int `json:"by_outcome"`
	TotalCostUSD float64        `json:"total_cost_usd"`
	TotalTokens  int            `json:"total_tokens"`
	SuccessRate  float64        `json:"success_rate"`
	OutcomeRate  float64        `json:"outcome_rate"`
}

// StrPtr вспомогательный конструктор для nullable-полей
func StrPtr(s string) *string { return &s }
