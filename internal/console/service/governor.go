package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xela07ax/swarm-governor/internal/audit"
	"github.com/xela07ax/swarm-governor/internal/autonomy"
	"github.com/xela07ax/swarm-governor/internal/domain"
	"github.com/xela07ax/swarm-governor/internal/engine"
	"github.com/xela07ax/swarm-governor/internal/outcome"
	"github.com/xela07ax/swarm-governor/internal/router"
)

// Governor собранные компоненты ядра. Общий для консоли и CLI.
type Governor struct {
	Pipeline  *engine.Pipeline
	Heartbeat *engine.Heartbeat
	Audit     *audit.Trail
	Router    *router.Router
	Autonomy  *autonomy.Engine
	Outcomes  *outcome.Tracker
}

// GovernorService фасад ядра для обработчиков консоли
type GovernorService struct {
	g      *Governor
	logger *zap.Logger
}

func NewGovernorService(g *Governor, logger *zap.Logger) *GovernorService {
	return &GovernorService{g: g, logger: logger.Named("governor-service")}
}

// --- Конвейер ---

func (s *GovernorService) Process(ctx context.Context, in engine.Input) engine.Response {
	return s.g.Pipeline.Process(ctx, in)
}

func (s *GovernorService) RunHeartbeat(ctx context.Context) engine.Response {
	return s.g.Heartbeat.RunPeriodicCheck(ctx)
}

func (s *GovernorService) Status(_ context.Context) (domain.SystemStatus, error) {
	return s.g.Heartbeat.Status()
}

// --- Журнал ---

func (s *GovernorService) ListAudit(_ context.Context, f audit.Filter) []domain.AuditEntry {
	return s.g.Audit.Query(f)
}

func (s *GovernorService) AuditStats(_ context.Context, days int) domain.AuditStats {
	return s.g.Audit.Stats(days)
}

func (s *GovernorService) PendingOutcomes(_ context.Context) []domain.PendingRef {
	return s.g.Audit.PendingOutcomes()
}

func (s *GovernorService) GetEntry(_ context.Context, id string) (domain.AuditEntry, error) {
	return s.g.Audit.Get(id)
}

// MarkOutcome ErrNotFound, если запись не найдена за горизонт поиска
func (s *GovernorService) MarkOutcome(_ context.Context, id string, status domain.OutcomeStatus, value *float64, notes *string) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown outcome status %q", domain.ErrParse, status)
	}
	ok, err := s.g.Outcomes.MarkOutcome(id, status, value, notes)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("audit entry %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// --- Расходы ---

func (s *GovernorService) TodayCosts(_ context.Context) domain.BudgetStatus {
	return s.g.Router.TodayStatus()
}

func (s *GovernorService) CostSummary(_ context.Context, days int) domain.CostSummary {
	return s.g.Router.CostSummary(days)
}

func (s *GovernorService) AgentCosts(_ context.Context, agentID string) domain.BudgetStatus {
	return s.g.Router.AgentStatus(agentID)
}

// --- Подписи ---

// ListApprovals status пустой: только ожидающие; "all": все
func (s *GovernorService) ListApprovals(_ context.Context, status string) ([]domain.PendingApproval, error) {
	q := s.g.Autonomy.Approvals()
	switch status {
	case "", string(domain.StatusPending):
		return q.PendingApprovals()
	case "all":
		return q.List()
	}
	all, err := q.List()
	if err != nil {
		return nil, err
	}
	out := []domain.PendingApproval{}
	for _, a := range all {
		if string(a.Status) == status {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *GovernorService) GetApproval(_ context.Context, id string) (domain.PendingApproval, error) {
	return s.g.Autonomy.Approvals().Get(id)
}

// DecideApproval ErrNotFound для неизвестного запроса, ErrAlreadyProcessed для решённого
func (s *GovernorService) DecideApproval(ctx context.Context, id string, approved bool, reviewer, comment string) error {
	q := s.g.Autonomy.Approvals()
	var (
		ok  bool
		err error
	)
	if approved {
		ok, err = q.Approve(ctx, id, reviewer)
	} else {
		ok, err = q.Reject(ctx, id, reviewer, comment)
	}
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if _, err := q.Get(id); err != nil {
		return err
	}
	return domain.ErrAlreadyProcessed
}

// --- Исходы ---

func (s *GovernorService) EffectivenessReport(_ context.Context, agentID string, days int) domain.EffectivenessReport {
	return s.g.Outcomes.EffectivenessReport(agentID, days)
}

func (s *GovernorService) AgentPerformance(_ context.Context, agentID string, days int) domain.AgentPerformance {
	return s.g.Outcomes.AgentPerformance(agentID, days)
}

func (s *GovernorService) CheckOutcomes(ctx context.Context) (int, error) {
	n, err := s.g.Outcomes.CheckPendingOutcomes(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("outcome check failed", zap.Error(err))
	}
	return n, err
}

// --- Правила ---

func (s *GovernorService) CheckPermission(_ context.Context, agentID, category, actionType string, ctx map[string]any) domain.PermissionResult {
	return s.g.Autonomy.CheckPermission(agentID, category, actionType, autonomy.Context(ctx))
}
