package domain

// RoutingDecision выбор тарифа модели для одного вызова
type RoutingDecision struct {
	Tier             string  `json:"tier"`
	ModelID          string  `json:"model_id"`
	Reason           string  `json:"reason"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
	WithinBudget     bool    `json:"within_budget"`
}

// CostLedger дневной учёт расходов. Один на дату.
type CostLedger struct {
	Date       string             `json:"date"`
	DailyTotal float64            `json:"daily_total"`
	ByAgent    map[string]float64 `json:"by_agent"`
	ByTier     map[string]float64 `json:"by_tier"`
}

func NewCostLedger(date string) CostLedger {
	return CostLedger{Date: date, ByAgent: map[string]float64{}, ByTier: map[string]float64{}}
}

// Clone копия без общих map
func (l CostLedger) Clone() CostLedger {
	out := NewCostLedger(l.Date)
	out.DailyTotal = l.DailyTotal
	for k, v := range l.ByAgent {
		out.ByAgent[k] = v
	}
	for k, v := range l.ByTier {
		out.ByTier[k] = v
	}
	return out
}

type BudgetStatus struct {
	Date           string             `json:"date"`
	AgentID        string             `json:"agent_id,omitempty"`
	SpentUSD       float64            `json:"spent_usd"`
	LimitUSD       float64            `json:"limit_usd"`
	RemainingUSD   float64            `json:"remaining_usd"`
	PercentUsed    float64            `json:"percent_used"`
	ByAgent        map[string]float64 `json:"by_agent,omitempty"`
	ByTier         map[string]float64 `json:"by_tier,omitempty"`
	AlertThreshold float64            `json:"alert_threshold_percent,omitempty"`
	AlertTriggered bool               `json:"alert_triggered,omitempty"`
}

type CostSummary struct {
	PeriodDays      int                `json:"period_days"`
	TotalCostUSD    float64            `json:"total_cost_usd"`
	ByDay           map[string]float64 `json:"by_day"`
	DailyAverageUSD float64            `json:"daily_average_usd"`
	ByAgent         map[string]float64 `json:"by_agent"`
	ByTier          map[string]float64 `json:"by_tier"`
	DailyLimitUSD   float64            `json:"daily_limit_usd"`
	Utilization     float64            `json:"utilization"`
}
