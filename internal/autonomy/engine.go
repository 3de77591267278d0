package autonomy

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/swarm-governor/internal/domain"
)

// Engine решает, может ли агент выполнить действие без подписи принципала.
type Engine struct {
	path   string
	logger *zap.Logger
	now    func() time.Time

	mu    sync.RWMutex
	rules *ruleSet

	queue *ApprovalQueue
}

func NewEngine(workspace string, logger *zap.Logger) (*Engine, error) {
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create workspace: %v", domain.ErrStorage, err)
	}
	e := &Engine{
		path:   filepath.Join(workspace, RulesFileName),
		logger: logger.Named("autonomy"),
		now:    time.Now,
	}
	if err := e.Reload(); err != nil {
		return nil, err
	}
	e.queue = NewApprovalQueue(workspace, logger)
	return e, nil
}

func (e *Engine) Path() string { return e.path }

func (e *Engine) Approvals() *ApprovalQueue { return e.queue }

// Reload перечитывает документ правил. Отсутствующий или некорректный документ
// заменяется встроенным, испорченный файл сохраняется рядом с суффиксом .invalid.
func (e *Engine) Reload() error {
	doc, err := loadRuleFile(e.path)
	var rs *ruleSet
	if err == nil {
		rs, err = compile(doc)
	}
	if err != nil {
		if !isNotExist(err) {
			e.logger.Warn("rule document rejected, falling back to defaults", zap.String("path", e.path), zap.Error(err))
			if rerr := os.Rename(e.path, e.path+".invalid"); rerr != nil {
				e.logger.Warn("failed to preserve invalid rule document", zap.Error(rerr))
			}
		}
		rs, err = compile(DefaultRules())
		if err != nil {
			return err
		}
		if err := saveRuleFile(e.path, rs.doc); err != nil {
			return fmt.Errorf("%w: write default rules: %v", domain.ErrStorage, err)
		}
	}

	e.mu.Lock()
	e.rules = rs
	e.mu.Unlock()
	e.logger.Info("autonomy rules loaded", zap.String("version", rs.doc.Version), zap.Int("rules", len(rs.base)))
	return nil
}

// Rules копия действующего документа
func (e *Engine) Rules() RuleDocument {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rules.doc
}

func (e *Engine) Approver() string {
	return e.Rules().Global.Approver
}

// CheckPermission порядок проверок: тихие часы, обязательная эскалация, базовое правило,
// переопределение агента, условия, финансовые лимиты.
func (e *Engine) CheckPermission(agentID, category, actionType string, ctx Context) domain.PermissionResult {
	e.mu.RLock()
	rs := e.rules
	e.mu.RUnlock()
	g := rs.doc.Global

	if e.inQuietHours(rs) && g.QuietHoursAction == QuietEmergencyOnly && stringify(ctx["urgency"]) != "emergency" {
		return domain.PermissionResult{
			Allowed:          false,
			Level:            domain.LevelApprovalRequired,
			Reason:           "Quiet hours - non-emergency actions batched",
			ConditionsMet:    []string{},
			ConditionsFailed: []string{"quiet_hours"},
		}
	}

	for _, c := range rs.escalate {
		if c.Eval(ctx) {
			return domain.PermissionResult{
				Allowed:          false,
				Level:            domain.LevelApprovalRequired,
				Reason:           "Always escalate: " + c.String(),
				ConditionsMet:    []string{},
				ConditionsFailed: []string{c.String()},
				RequiresApprover: g.Approver,
			}
		}
	}

	rule := rs.resolve(agentID, category, actionType)
	met, failed := []string{}, []string{}
	for _, c := range rule.conditions {
		if c.Eval(ctx) {
			met = append(met, c.String())
		} else {
			failed = append(failed, c.String())
		}
	}

	for _, c := range rule.approvalIf {
		if c.Eval(ctx) {
			return domain.PermissionResult{
				Allowed:          false,
				Level:            domain.LevelApprovalRequired,
				Reason:           "Requires approval: " + c.String(),
				ConditionsMet:    met,
				ConditionsFailed: []string{c.String()},
				RequiresApprover: g.Approver,
			}
		}
	}

	level := rule.level
	if raw, ok := ctx["amount_usd"]; ok {
		if amount, ok := toNumber(raw); ok {
			if amount > g.MaxSpendNotify {
				return domain.PermissionResult{
					Allowed:          false,
					Level:            domain.LevelApprovalRequired,
					Reason:           fmt.Sprintf("Amount $%s exceeds limit $%s", stringify(amount), stringify(g.MaxSpendNotify)),
					ConditionsMet:    met,
					ConditionsFailed: []string{"financial_limit"},
					RequiresApprover: g.Approver,
				}
			}
			// Средний порог только ужесточает: approval_required не понижается до notify
			if amount > g.MaxSpendAutonomous && level == domain.LevelAutonomous {
				level = domain.LevelNotify
			}
		}
	}

	res := domain.PermissionResult{
		Allowed:          level != domain.LevelApprovalRequired,
		Level:            level,
		Reason:           fmt.Sprintf("Action permitted at %s level", level),
		ConditionsMet:    met,
		ConditionsFailed: failed,
	}
	if level == domain.LevelApprovalRequired {
		res.Reason = "Action requires approval"
		res.RequiresApprover = g.Approver
	}
	if level == domain.LevelNotify {
		res.NotifyVia = rs.method("normal", "email")
		if stringify(ctx["urgency"]) == "high" {
			res.NotifyVia = rs.method("urgent", "sms")
		}
	}
	return res
}

// inQuietHours окно может переходить через полночь, границы включительно
func (e *Engine) inQuietHours(rs *ruleSet) bool {
	now := e.now()
	sec := now.Hour()*3600 + now.Minute()*60 + now.Second()
	if rs.quietStart <= rs.quietEnd {
		return rs.quietStart <= sec && sec <= rs.quietEnd
	}
	return sec >= rs.quietStart || sec <= rs.quietEnd
}

// RequestApproval ставит действие в очередь на подпись
func (e *Engine) RequestApproval(agentID, description string, ctx Context, auditID string) (string, error) {
	return e.queue.Request(agentID, description, ctx, auditID)
}
