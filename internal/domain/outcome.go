package domain

// DetectedOutcome результат эвристики трекера исходов
type DetectedOutcome struct {
	Status   OutcomeStatus `json:"status"`
	ValueUSD *float64      `json:"value_usd"`
	Notes    string        `json:"notes"`
}

type Effectiveness struct {
	Total         int     `json:"total"`
	ActedOn       int     `json:"acted_on"`
	Effectiveness float64 `json:"effectiveness"`
}

// EffectivenessReport сводка по исходам за окно
type EffectivenessReport struct {
	PeriodDays        int                      `json:"period_days"`
	AgentID           string                   `json:"agent_id,omitempty"`
	TotalActions      int                      `json:"total_actions"`
	OutcomesTracked   int                      `json:"outcomes_tracked"`
	TrackingRate      float64                  `json:"tracking_rate"`
	ByOutcome         map[string]int           `json:"by_outcome,omitempty"`
	ByAction          map[string]Effectiveness `json:"by_action_type,omitempty"`
	ByAgent           map[string]Effectiveness `json:"by_agent,omitempty"`
	ValueGeneratedUSD float64                  `json:"value_generated_usd"`
	Recommendations   []string                 `json:"recommendations"`
	Message           string                   `json:"message,omitempty"`
}

type ModelUsage struct {
	Count   int     `json:"count"`
	CostUSD float64 `json:"cost_usd"`
}

type AgentPerformance struct {
	AgentID           string                `json:"agent_id"`
	PeriodDays        int                   `json:"period_days"`
	TotalActions      int                   `json:"total_actions"`
	OutcomesTracked   int                   `json:"outcomes_tracked"`
	SuccessRate       float64               `json:"success_rate"`
	ActedOnRate       float64               `json:"acted_on_rate"`
	TotalCostUSD      float64               `json:"total_cost_usd"`
	TotalTokens       int                   `json:"total_tokens"`
	ValueGeneratedUSD float64               `json:"value_generated_usd"`
	ModelsUsed        map[string]ModelUsage `json:"models_used,omitempty"`
	ActionBreakdown   map[string]int        `json:"action_breakdown,omitempty"`
	Message           string                `json:"message,omitempty"`
}
