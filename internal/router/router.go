package router

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/swarm-governor/internal/domain"
)

// DefaultEstimatedTokens оценка, если вызывающий её не дал
const DefaultEstimatedTokens = 1000

// AlertFunc вызывается, когда дневной расход пересекает порог оповещения. Не должна блокировать.
type AlertFunc func(status domain.BudgetStatus)

// Router выбирает тариф модели и ведёт дневной бюджет.
type Router struct {
	path   string
	logger *zap.Logger
	now    func() time.Time
	ledger *Ledger
	alert  AlertFunc

	mu      sync.RWMutex
	catalog *compiledCatalog
}

func NewRouter(workspace string, logger *zap.Logger) (*Router, error) {
	r := &Router{
		path:   filepath.Join(workspace, CatalogFileName),
		logger: logger.Named("router"),
		now:    time.Now,
	}
	ledger, err := NewLedger(workspace, func() time.Time { return r.now() })
	if err != nil {
		return nil, err
	}
	r.ledger = ledger
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Router) Path() string { return r.path }

// OnBudgetAlert подписка на пересечение порога бюджета
func (r *Router) OnBudgetAlert(fn AlertFunc) {
	r.alert = fn
}

// Reload перечитывает каталог. Отсутствующий или некорректный каталог заменяется встроенным.
func (r *Router) Reload() error {
	c, err := loadCatalogFile(r.path)
	var cc *compiledCatalog
	if err == nil {
		cc, err = compileCatalog(c)
	}
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.Warn("tier catalog rejected, falling back to defaults", zap.String("path", r.path), zap.Error(err))
			if rerr := os.Rename(r.path, r.path+".invalid"); rerr != nil {
				r.logger.Warn("failed to preserve invalid catalog", zap.Error(rerr))
			}
		}
		cc, err = compileCatalog(DefaultCatalog())
		if err != nil {
			return err
		}
		if err := saveCatalogFile(r.path, cc.Catalog); err != nil {
			return fmt.Errorf("%w: write default catalog: %v", domain.ErrStorage, err)
		}
	}

	// Даже самый дешёвый тариф должен укладываться в потолок типового вызова
	if cost := cc.Models[cc.cheapest].EstimateCost(DefaultEstimatedTokens); cost > cc.Budget.DailyLimitUSD {
		r.logger.Warn("cheapest tier exceeds daily limit for a default call",
			zap.String("tier", cc.cheapest), zap.Float64("cost", cost))
	}

	r.mu.Lock()
	r.catalog = cc
	r.mu.Unlock()
	r.logger.Info("tier catalog loaded", zap.Int("tiers", len(cc.Models)), zap.String("cheapest", cc.cheapest))
	return nil
}

func (r *Router) snapshot() *compiledCatalog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.catalog
}

// Catalog копия действующего каталога
func (r *Router) Catalog() Catalog {
	return r.snapshot().Catalog
}

func (r *Router) Tier(name string) (Tier, bool) {
	t, ok := r.snapshot().Models[name]
	return t, ok
}

// Route порядок: явный тариф, ключевые слова high/low, агент, шаблон задачи, пороги сложности, дефолт.
// Затем проверка бюджета с понижением до самого дешёвого тарифа.
func (r *Router) Route(agentID, task string, estimatedTokens int, forceTier string) domain.RoutingDecision {
	c := r.snapshot()
	if estimatedTokens <= 0 {
		estimatedTokens = DefaultEstimatedTokens
	}

	tier, reason := r.selectTier(c, agentID, task, estimatedTokens, forceTier)
	cost := c.Models[tier].EstimateCost(estimatedTokens)

	ledger, err := r.ledger.Snapshot()
	within := err == nil &&
		ledger.DailyTotal+cost <= c.Budget.DailyLimitUSD &&
		ledger.ByAgent[agentID]+cost <= c.agentLimit(agentID)
	if err != nil {
		// расход неизвестен: бюджет считается исчерпанным
		r.logger.Warn("ledger unavailable, routing to cheapest tier", zap.Error(err))
	}

	if !within && tier != c.cheapest {
		r.logger.Info("routing downgraded by budget",
			zap.String("agent_id", agentID), zap.String("from", tier), zap.String("to", c.cheapest))
		tier = c.cheapest
		cost = c.Models[tier].EstimateCost(estimatedTokens)
		reason = fmt.Sprintf("Downgraded to %s due to budget constraints", tier)
		within = true
	}

	return domain.RoutingDecision{
		Tier:             tier,
		ModelID:          c.Models[tier].ID,
		Reason:           reason,
		EstimatedCostUSD: cost,
		WithinBudget:     within,
	}
}

func (r *Router) selectTier(c *compiledCatalog, agentID, task string, tokens int, forceTier string) (string, string) {
	if forceTier != "" {
		if _, ok := c.Models[forceTier]; ok {
			return forceTier, "Tier explicitly specified"
		}
		r.logger.Warn("ignoring unknown forced tier", zap.String("tier", forceTier))
	}

	lower := strings.ToLower(task)
	for _, kw := range c.Overrides.ForceHighTier {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return c.priciest, fmt.Sprintf("Force %s: contains '%s'", c.priciest, kw)
		}
	}
	for _, kw := range c.Overrides.ForceLowTier {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return c.cheapest, fmt.Sprintf("Force %s: contains '%s'", c.cheapest, kw)
		}
	}

	if tier, ok := c.Routing.ByAgent[agentID]; ok && tier != "" {
		return tier, fmt.Sprintf("Agent %s default: %s", agentID, tier)
	}
	for _, p := range c.patterns {
		if p.re.MatchString(lower) {
			return p.tier, "Task matches pattern: " + p.src
		}
	}
	for _, th := range c.Routing.ComplexityThresholds {
		if tokens <= th.MaxTokens {
			return th.Tier, fmt.Sprintf("Token count (%d) within %s range", tokens, th.Tier)
		}
	}
	return c.Routing.Default, "Default routing"
}

// RecordUsage учитывает фактический расход. Неизвестный тариф считается по ставкам дефолтного.
func (r *Router) RecordUsage(agentID, tier string, inputTokens, outputTokens int) (float64, error) {
	c := r.snapshot()
	t, ok := c.Models[tier]
	if !ok {
		t = c.Models[c.Routing.Default]
	}
	cost := t.ActualCost(inputTokens, outputTokens)

	before, after, err := r.ledger.Add(agentID, tier, cost)
	if err != nil {
		return cost, err
	}

	threshold := c.Budget.AlertAtPercent / 100 * c.Budget.DailyLimitUSD
	if c.Budget.AlertAtPercent > 0 && before.DailyTotal < threshold && after.DailyTotal >= threshold {
		status := statusOf(after, c)
		status.AlertTriggered = true
		r.logger.Warn("budget alert",
			zap.Float64("percent_used", status.PercentUsed),
			zap.Float64("spent", status.SpentUSD),
			zap.Float64("limit", status.LimitUSD),
		)
		if r.alert != nil {
			r.alert(status)
		}
	}
	return cost, nil
}

func statusOf(l domain.CostLedger, c *compiledCatalog) domain.BudgetStatus {
	limit := c.Budget.DailyLimitUSD
	return domain.BudgetStatus{
		Date:           l.Date,
		SpentUSD:       l.DailyTotal,
		LimitUSD:       limit,
		RemainingUSD:   limit - l.DailyTotal,
		PercentUsed:    percent(l.DailyTotal, limit),
		ByAgent:        l.ByAgent,
		ByTier:         l.ByTier,
		AlertThreshold: c.Budget.AlertAtPercent,
	}
}

func percent(spent, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return spent / limit * 100
}

func (r *Router) TodayStatus() domain.BudgetStatus {
	c := r.snapshot()
	l, err := r.ledger.Snapshot()
	if err != nil {
		r.logger.Warn("ledger unavailable", zap.Error(err))
	}
	return statusOf(l, c)
}

func (r *Router) AgentStatus(agentID string) domain.BudgetStatus {
	c := r.snapshot()
	l, err := r.ledger.Snapshot()
	if err != nil {
		r.logger.Warn("ledger unavailable", zap.Error(err))
	}
	limit := c.agentLimit(agentID)
	spent := l.ByAgent[agentID]
	return domain.BudgetStatus{
		Date:         l.Date,
		AgentID:      agentID,
		SpentUSD:     spent,
		LimitUSD:     limit,
		RemainingUSD: limit - spent,
		PercentUsed:  percent(spent, limit),
	}
}

// CostSummary сворачивает days дней, считая сегодняшний
func (r *Router) CostSummary(days int) domain.CostSummary {
	c := r.snapshot()
	s := domain.CostSummary{
		PeriodDays:    days,
		ByDay:         map[string]float64{},
		ByAgent:       map[string]float64{},
		ByTier:        map[string]float64{},
		DailyLimitUSD: c.Budget.DailyLimitUSD,
	}
	today := r.now()
	for i := 0; i < days; i++ {
		date := today.AddDate(0, 0, -i).Format(dateLayout)
		l, ok, err := r.ledger.Day(date)
		if err != nil {
			r.logger.Warn("skipping unreadable ledger", zap.String("date", date), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		s.ByDay[date] = l.DailyTotal
		s.TotalCostUSD += l.DailyTotal
		for a, v := range l.ByAgent {
			s.ByAgent[a] += v
		}
		for t, v := range l.ByTier {
			s.ByTier[t] += v
		}
	}
	if days > 0 {
		s.DailyAverageUSD = s.TotalCostUSD / float64(days)
		s.Utilization = s.DailyAverageUSD / c.Budget.DailyLimitUSD
	}
	return s
}
