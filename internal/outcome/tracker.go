package outcome

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/swarm-governor/internal/audit"
	"github.com/xela07ax/swarm-governor/internal/domain"
)

const (
	// GracePeriod минимальный возраст записи перед проверкой исхода
	GracePeriod = time.Hour
	// StalenessHorizon после него запись без исхода закрывается как ignored
	StalenessHorizon = 7 * 24 * time.Hour
	StaleNote        = "No outcome detected within 7 days"
)

// AuditStore часть журнала, нужная трекеру
type AuditStore interface {
	PendingOutcomes() []domain.PendingRef
	UpdateOutcome(id string, status domain.OutcomeStatus, value *float64, notes *string) (bool, error)
	// ResolveOutcome не перезаписывает уже размеченный исход (например, ручную разметку из CLI)
	ResolveOutcome(id string, status domain.OutcomeStatus, value *float64, notes *string) (bool, error)
	Query(f audit.Filter) []domain.AuditEntry
}

type Tracker struct {
	audit      AuditStore
	heuristics []Heuristic
	logger     *zap.Logger
	now        func() time.Time
}

// NewTracker эвристики применяются в порядке регистрации
func NewTracker(store AuditStore, logger *zap.Logger, heuristics ...Heuristic) *Tracker {
	return &Tracker{
		audit:      store,
		heuristics: heuristics,
		logger:     logger.Named("outcomes"),
		now:        time.Now,
	}
}

func (t *Tracker) Register(h Heuristic) {
	t.heuristics = append(t.heuristics, h)
}

// CheckPendingOutcomes проходит рабочий список и возвращает число закрытых записей
func (t *Tracker) CheckPendingOutcomes(ctx context.Context) (int, error) {
	now := t.now()
	updated := 0
	for _, ref := range t.audit.PendingOutcomes() {
		if err := ctx.Err(); err != nil {
			return updated, err
		}
		age := now.Sub(ref.Timestamp)
		if age < GracePeriod {
			continue
		}

		resolved, err := t.detect(ctx, ref)
		if err != nil {
			return updated, err
		}
		if resolved {
			updated++
			continue
		}

		if age > StalenessHorizon {
			note := StaleNote
			ok, err := t.audit.ResolveOutcome(ref.ID, domain.OutcomeIgnored, nil, &note)
			if err != nil {
				return updated, fmt.Errorf("force-resolve %s: %w", ref.ID, err)
			}
			if ok {
				updated++
			}
		}
	}
	if updated > 0 {
		t.logger.Info("outcomes updated", zap.Int("count", updated))
	}
	return updated, nil
}

func (t *Tracker) detect(ctx context.Context, ref domain.PendingRef) (bool, error) {
	for _, h := range t.heuristics {
		if !h.AppliesTo(ref.ActionType) {
			continue
		}
		out, err := h.Detect(ctx, ref)
		if err != nil {
			t.logger.Warn("outcome heuristic failed",
				zap.String("heuristic", h.Name()), zap.String("audit_id", ref.ID), zap.Error(err))
			continue
		}
		if out == nil {
			continue
		}
		var notes *string
		if out.Notes != "" {
			notes = &out.Notes
		}
		ok, err := t.audit.ResolveOutcome(ref.ID, out.Status, out.ValueUSD, notes)
		if err != nil {
			return false, fmt.Errorf("apply %s outcome to %s: %w", h.Name(), ref.ID, err)
		}
		return ok, nil
	}
	return false, nil
}

// MarkOutcome ручная разметка исхода
func (t *Tracker) MarkOutcome(id string, status domain.OutcomeStatus, value *float64, notes *string) (bool, error) {
	return t.audit.UpdateOutcome(id, status, value, notes)
}
