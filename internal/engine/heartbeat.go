package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/swarm-governor/internal/domain"
	"github.com/xela07ax/swarm-governor/internal/infra"
)

const (
	HeartbeatHistoryFileName = "heartbeat_history.jsonl"
	HeartbeatSource          = "periodic_heartbeat"

	DefaultHeartbeatLockTTL = 10 * time.Minute

	// пороги проверки очереди подписей
	pendingApprovalsWarn = 5
	staleApprovalAge     = 24 * time.Hour
)

type OutcomeChecker interface {
	CheckPendingOutcomes(ctx context.Context) (int, error)
}

type ApprovalLister interface {
	PendingApprovals() ([]domain.PendingApproval, error)
}

type AuditReader interface {
	Stats(days int) domain.AuditStats
	PendingOutcomes() []domain.PendingRef
}

type BudgetReader interface {
	TodayStatus() domain.BudgetStatus
}

// HealthFunc одна проверка здоровья рабочего каталога
type HealthFunc func(ctx context.Context) domain.HealthCheck

type HeartbeatDeps struct {
	Pipeline  *Pipeline
	Outcomes  OutcomeChecker
	Approvals ApprovalLister
	Audit     AuditReader
	Budget    BudgetReader
	Workspace string
	Locker    Locker // nil: только локальная блокировка
	LockTTL   time.Duration
	Metrics   *Metrics
}

// Heartbeat периодическая проверка. Прогоны не пересекаются ни внутри процесса, ни между инстансами (через Locker).
type Heartbeat struct {
	deps    HeartbeatDeps
	checks  []HealthFunc
	history string
	logger  *zap.Logger
	now     func() time.Time

	running sync.Mutex
	histMu  sync.Mutex
}

func NewHeartbeat(deps HeartbeatDeps, logger *zap.Logger) *Heartbeat {
	if deps.LockTTL <= 0 {
		deps.LockTTL = DefaultHeartbeatLockTTL
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics(nil)
	}
	h := &Heartbeat{
		deps:    deps,
		history: filepath.Join(deps.Workspace, HeartbeatHistoryFileName),
		logger:  logger.Named("heartbeat"),
		now:     time.Now,
	}
	h.checks = []HealthFunc{h.checkWorkspace, h.checkPendingApprovals, h.checkAudit}
	return h
}

// Register добавляет проверку в конец списка
func (h *Heartbeat) Register(fn HealthFunc) {
	h.checks = append(h.checks, fn)
}

// RunPeriodicCheck закрывает исходы, прогоняет проверки, пишет историю и проводит сводку через конвейер.
func (h *Heartbeat) RunPeriodicCheck(ctx context.Context) Response {
	if !h.running.TryLock() {
		return h.busy()
	}
	defer h.running.Unlock()

	if h.deps.Locker != nil {
		release, ok, err := h.deps.Locker.Acquire(ctx, infra.RedisKeyLockHeartbeat, h.deps.LockTTL)
		switch {
		case err != nil:
			// Redis недоступен: работаем под локальной блокировкой
			h.logger.Warn("distributed lock unavailable", zap.Error(err))
		case !ok:
			return h.busy()
		default:
			defer func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					h.logger.Warn("release heartbeat lock", zap.Error(err))
				}
			}()
		}
	}

	rec := domain.HeartbeatRecord{Timestamp: h.now().UTC()}

	resolved, err := h.deps.Outcomes.CheckPendingOutcomes(ctx)
	rec.OutcomesChecked = resolved
	outcomes := domain.HealthCheck{Name: "outcomes", State: domain.HealthOK, Message: fmt.Sprintf("%d outcomes resolved", resolved)}
	if err != nil {
		h.logger.Error("outcome check failed", zap.Error(err))
		outcomes.State, outcomes.Message = domain.HealthError, err.Error()
	}

	rec.Checks = append(rec.Checks, outcomes)
	for _, check := range h.checks {
		rec.Checks = append(rec.Checks, check(ctx))
	}
	rec.Overall = overall(rec.Checks)
	rec.Summary = summarize(rec)
	h.deps.Metrics.HeartbeatRuns.WithLabelValues(string(rec.Overall)).Inc()

	resp := h.deps.Pipeline.Process(ctx, Input{
		Text:    "Heartbeat check complete. " + rec.Summary,
		Trigger: domain.TriggerHeartbeat,
		Source:  HeartbeatSource,
	})
	rec.AuditID = resp.AuditID

	if err := h.record(rec); err != nil {
		h.logger.Error("heartbeat history not recorded", zap.Error(err))
	}
	return resp
}

func (h *Heartbeat) busy() Response {
	return Response{
		Success:       false,
		Decision:      "Heartbeat skipped",
		AutonomyLevel: domain.LevelNotify,
		SkillsUsed:    []string{},
		Error:         domain.ErrHeartbeatRunning.Error(),
	}
}

func overall(checks []domain.HealthCheck) domain.HealthState {
	state := domain.HealthOK
	for _, c := range checks {
		switch c.State {
		case domain.HealthError:
			return domain.HealthError
		case domain.HealthWarning:
			state = domain.HealthWarning
		}
	}
	return state
}

// summarize краткий текст для конвейера: статус, число проверок и до трёх проблем
func summarize(rec domain.HeartbeatRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Heartbeat: %s. %d checks run.", rec.Overall, len(rec.Checks))
	issues := 0
	for _, c := range rec.Checks {
		if c.State == domain.HealthOK || issues == 3 {
			continue
		}
		fmt.Fprintf(&b, " %s: %s.", c.Name, c.Message)
		issues++
	}
	return b.String()
}

func (h *Heartbeat) checkWorkspace(context.Context) domain.HealthCheck {
	missing := []string{}
	for _, dir := range []string{"audit", "costs"} {
		info, err := os.Stat(filepath.Join(h.deps.Workspace, dir))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return domain.HealthCheck{Name: "workspace", State: domain.HealthError, Message: err.Error()}
		}
		if err != nil || !info.IsDir() {
			missing = append(missing, dir)
		}
	}
	if len(missing) > 0 {
		return domain.HealthCheck{Name: "workspace", State: domain.HealthWarning, Message: "Missing directories: " + strings.Join(missing, ", ")}
	}
	return domain.HealthCheck{Name: "workspace", State: domain.HealthOK, Message: "All directories present"}
}

func (h *Heartbeat) checkPendingApprovals(context.Context) domain.HealthCheck {
	pending, err := h.deps.Approvals.PendingApprovals()
	if err != nil {
		return domain.HealthCheck{Name: "pending_approvals", State: domain.HealthError, Message: err.Error()}
	}
	cutoff := h.now().Add(-staleApprovalAge)
	stale := 0
	for _, a := range pending {
		if a.RequestedAt.Before(cutoff) {
			stale++
		}
	}
	switch {
	case stale > 0:
		return domain.HealthCheck{Name: "pending_approvals", State: domain.HealthWarning, Message: fmt.Sprintf("%d approvals waiting > 24 hours", stale)}
	case len(pending) > pendingApprovalsWarn:
		return domain.HealthCheck{Name: "pending_approvals", State: domain.HealthWarning, Message: fmt.Sprintf("%d approvals pending", len(pending))}
	}
	return domain.HealthCheck{Name: "pending_approvals", State: domain.HealthOK, Message: fmt.Sprintf("%d pending", len(pending))}
}

func (h *Heartbeat) checkAudit(context.Context) domain.HealthCheck {
	dir := filepath.Join(h.deps.Workspace, "audit")
	if _, err := os.Stat(dir); err != nil {
		return domain.HealthCheck{Name: "audit", State: domain.HealthWarning, Message: "Audit directory missing"}
	}
	data, err := os.ReadFile(filepath.Join(dir, h.now().Format("2006-01-02")+".jsonl"))
	if errors.Is(err, os.ErrNotExist) {
		return domain.HealthCheck{Name: "audit", State: domain.HealthOK, Message: "No entries today (may be normal)"}
	}
	if err != nil {
		return domain.HealthCheck{Name: "audit", State: domain.HealthError, Message: err.Error()}
	}
	return domain.HealthCheck{Name: "audit", State: domain.HealthOK, Message: fmt.Sprintf("%d entries today", bytes.Count(data, []byte("\n")))}
}

func (h *Heartbeat) record(rec domain.HeartbeatRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	h.histMu.Lock()
	defer h.histMu.Unlock()
	f, err := os.OpenFile(h.history, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open heartbeat history: %v", domain.ErrStorage, err)
	}
	defer f.Close()
	if _, err := f.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("%w: write heartbeat history: %v", domain.ErrStorage, err)
	}
	return nil
}

// Recent последние n прогонов, новые первыми. Повреждённые строки пропускаются.
func (h *Heartbeat) Recent(n int) ([]domain.HeartbeatRecord, error) {
	h.histMu.Lock()
	data, err := os.ReadFile(h.history)
	h.histMu.Unlock()
	if errors.Is(err, os.ErrNotExist) {
		return []domain.HeartbeatRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read heartbeat history: %v", domain.ErrStorage, err)
	}

	all := []domain.HeartbeatRecord{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var rec domain.HeartbeatRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		all = append(all, rec)
	}

	out := make([]domain.HeartbeatRecord, 0, n)
	for i := len(all) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

// Status сводка состояния системы
func (h *Heartbeat) Status() (domain.SystemStatus, error) {
	st := domain.SystemStatus{
		Audit:           h.deps.Audit.Stats(1),
		Budget:          h.deps.Budget.TodayStatus(),
		PendingOutcomes: len(h.deps.Audit.PendingOutcomes()),
	}
	pending, err := h.deps.Approvals.PendingApprovals()
	if err != nil {
		return st, err
	}
	st.PendingApprovals = len(pending)

	recent, err := h.Recent(1)
	if err != nil {
		return st, err
	}
	if len(recent) > 0 {
		st.LastHeartbeat = &recent[0]
	}
	return st, nil
}
