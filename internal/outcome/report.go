package outcome

import (
	"fmt"
	"sort"

	"github.com/xela07ax/swarm-governor/internal/audit"
	"github.com/xela07ax/swarm-governor/internal/domain"
)

const (
	lowEffectiveness  = 0.3
	highEffectiveness = 0.9
	minSampleSize     = 10
)

func (t *Tracker) window(agentID string, days int) []domain.AuditEntry {
	today := t.now()
	return t.audit.Query(audit.Filter{
		Start:   today.AddDate(0, 0, -days),
		End:     today,
		AgentID: agentID,
		Limit:   audit.StatsQueryLimit,
	})
}

// EffectivenessReport доля действий, на которые отреагировали, по видам и агентам
func (t *Tracker) EffectivenessReport(agentID string, days int) domain.EffectivenessReport {
	entries := t.window(agentID, days)
	r := domain.EffectivenessReport{
		PeriodDays:      days,
		AgentID:         agentID,
		TotalActions:    len(entries),
		Recommendations: []string{},
	}

	var tracked []domain.AuditEntry
	for _, e := range entries {
		if e.OutcomeStatus != nil {
			tracked = append(tracked, e)
		}
	}
	if len(tracked) == 0 {
		r.Message = "No outcome data available"
		return r
	}

	r.OutcomesTracked = len(tracked)
	r.TrackingRate = float64(len(tracked)) / float64(len(entries))
	r.ByOutcome = map[string]int{}
	r.ByAction = map[string]domain.Effectiveness{}
	r.ByAgent = map[string]domain.Effectiveness{}

	for _, e := range tracked {
		r.ByOutcome[string(*e.OutcomeStatus)]++
		actedOn := *e.OutcomeStatus == domain.OutcomeActedOn
		r.ByAction[string(e.ActionType)] = tally(r.ByAction[string(e.ActionType)], actedOn)
		r.ByAgent[e.AgentID] = tally(r.ByAgent[e.AgentID], actedOn)
		if e.OutcomeValueUSD != nil {
			r.ValueGeneratedUSD += *e.OutcomeValueUSD
		}
	}

	actions := make([]string, 0, len(r.ByAction))
	for a := range r.ByAction {
		actions = append(actions, a)
	}
	sort.Strings(actions)
	for _, a := range actions {
		s := r.ByAction[a]
		s.Effectiveness = float64(s.ActedOn) / float64(s.Total)
		r.ByAction[a] = s
		if s.Total < minSampleSize {
			continue
		}
		pct := fmt.Sprintf("%.0f%%", s.Effectiveness*100)
		switch {
		case s.Effectiveness < lowEffectiveness:
			r.Recommendations = append(r.Recommendations, fmt.Sprintf("Reduce %s actions - only %s acted upon", a, pct))
		case s.Effectiveness > highEffectiveness:
			r.Recommendations = append(r.Recommendations, fmt.Sprintf("%s highly effective (%s) - consider increasing autonomy", a, pct))
		}
	}
	for a, s := range r.ByAgent {
		s.Effectiveness = float64(s.ActedOn) / float64(s.Total)
		r.ByAgent[a] = s
	}
	return r
}

func tally(s domain.Effectiveness, actedOn bool) domain.Effectiveness {
	s.Total++
	if actedOn {
		s.ActedOn++
	}
	return s
}

// AgentPerformance расходы, ценность и структура действий одного агента
func (t *Tracker) AgentPerformance(agentID string, days int) domain.AgentPerformance {
	entries := t.window(agentID, days)
	p := domain.AgentPerformance{AgentID: agentID, PeriodDays: days}
	if len(entries) == 0 {
		p.Message = "No data for agent " + agentID
		return p
	}

	p.TotalActions = len(entries)
	p.ModelsUsed = map[string]domain.ModelUsage{}
	p.ActionBreakdown = map[string]int{}
	successes, actedOn := 0, 0
	for _, e := range entries {
		p.TotalCostUSD += e.CostUSD
		p.TotalTokens += e.TokensUsed
		if e.ActionResult == domain.ResultSuccess {
			successes++
		}
		if e.OutcomeStatus != nil {
			p.OutcomesTracked++
			if *e.OutcomeStatus == domain.OutcomeActedOn {
				actedOn++
			}
			if e.OutcomeValueUSD != nil {
				p.ValueGeneratedUSD += *e.OutcomeValueUSD
			}
		}
		model := e.ModelUsed
		if model == "" {
			model = "unknown"
		}
		mu := p.ModelsUsed[model]
		mu.Count++
		mu.CostUSD += e.CostUSD
		p.ModelsUsed[model] = mu
		p.ActionBreakdown[string(e.ActionType)]++
	}
	p.SuccessRate = float64(successes) / float64(len(entries))
	if p.OutcomesTracked > 0 {
		p.ActedOnRate = float64(actedOn) / float64(p.OutcomesTracked)
	}
	return p
}
