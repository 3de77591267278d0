package audit

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/swarm-governor/internal/domain"
	"github.com/xela07ax/swarm-governor/internal/infra"
)

const (
	// OutcomeSearchHorizon сколько дневных партиций просматривает UpdateOutcome
	OutcomeSearchHorizon   = 30
	DefaultQueryWindowDays = 7
	DefaultQueryLimit      = 100
	StatsQueryLimit        = 10000
)

// Publisher получатель копий записей (см. Mirror)
type Publisher interface {
	Publish(entry domain.AuditEntry)
}

// Filter параметры выборки. Нулевые значения означают "без ограничения" или значение по умолчанию.
type Filter struct {
	Start   time.Time
	End     time.Time
	AgentID string
	Trigger domain.TriggerKind
	Action  domain.ActionKind
	Outcome domain.OutcomeStatus
	Limit   int
}

func (f Filter) match(e *domain.AuditEntry) bool {
	if f.AgentID != "" && e.AgentID != f.AgentID {
		return false
	}
	if f.Trigger != "" && e.Trigger != f.Trigger {
		return false
	}
	if f.Action != "" && e.ActionType != f.Action {
		return false
	}
	if f.Outcome != "" && (e.OutcomeStatus == nil || *e.OutcomeStatus != f.Outcome) {
		return false
	}
	return true
}

// Trail журнал действий: JSONL-файл на каждый день плюс index.json.
// Каталог делят serve и команды CLI, поэтому партиции и индекс меняются только под файловой
// блокировкой и перечитываются с диска перед каждым изменением.
type Trail struct {
	dir    string
	logger *zap.Logger
	now    func() time.Time
	mirror Publisher

	parts   partitionLocks
	indexMu sync.Mutex
}

func NewTrail(workspace string, logger *zap.Logger) (*Trail, error) {
	dir := filepath.Join(workspace, "audit")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create audit dir: %v", domain.ErrStorage, err)
	}
	t := &Trail{
		dir:    dir,
		logger: logger.With(zap.String("mod", "audit")),
		now:    time.Now,
	}
	if _, err := loadIndex(t.indexPath()); err != nil {
		t.logger.Warn("audit index unreadable, starting fresh", zap.Error(err))
	}
	return t, nil
}

// AttachMirror подключает асинхронную копию записей во внешнее хранилище
func (t *Trail) AttachMirror(p Publisher) {
	t.mirror = p
}

func (t *Trail) Dir() string { return t.dir }

func (t *Trail) indexPath() string { return filepath.Join(t.dir, "index.json") }

func (t *Trail) partitionPath(date string) string {
	return filepath.Join(t.dir, date+".jsonl")
}

// Log дописывает запись в партицию текущего дня и обновляет индекс.
func (t *Trail) Log(entry domain.AuditEntry) (string, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = t.now().UTC()
	}
	date := t.now().Format(dateLayout)

	unlock, err := t.lockPartition(date)
	if err != nil {
		return "", err
	}
	err = appendLine(t.partitionPath(date), entry)
	unlock()
	if err != nil {
		return "", fmt.Errorf("%w: append audit entry: %v", domain.ErrStorage, err)
	}

	if err := t.updateIndex(func(idx *index) bool {
		idx.record(entry)
		return true
	}); err != nil {
		return entry.ID, err
	}

	if t.mirror != nil {
		t.mirror.Publish(entry)
	}
	return entry.ID, nil
}

// UpdateOutcome записывает исход в существующую запись. false, если id не найден за горизонт.
func (t *Trail) UpdateOutcome(id string, status domain.OutcomeStatus, value *float64, notes *string) (bool, error) {
	return t.setOutcome(id, status, value, notes, true)
}

// ResolveOutcome как UpdateOutcome, но не трогает запись, у которой исход уже есть.
// false, если id не найден или исход уже размечен.
func (t *Trail) ResolveOutcome(id string, status domain.OutcomeStatus, value *float64, notes *string) (bool, error) {
	return t.setOutcome(id, status, value, notes, false)
}

func (t *Trail) setOutcome(id string, status domain.OutcomeStatus, value *float64, notes *string, overwrite bool) (bool, error) {
	if !status.Valid() {
		return false, fmt.Errorf("%w: unknown outcome status %q", domain.ErrParse, status)
	}
	today := dayStart(t.now())
	for back := 0; back < OutcomeSearchHorizon; back++ {
		date := today.AddDate(0, 0, -back).Format(dateLayout)
		updated, found, skipped, err := t.updateInPartition(date, id, status, value, notes, overwrite)
		if err != nil {
			return false, err
		}
		if !found {
			continue
		}

		if err := t.updateIndex(func(idx *index) bool { return idx.resolve(id) }); err != nil {
			return !skipped, err
		}
		if t.mirror != nil && updated != nil {
			t.mirror.Publish(*updated)
		}
		return !skipped, nil
	}
	return false, nil
}

// updateInPartition skipped=true: запись найдена, но исход уже размечен и перезапись запрещена
func (t *Trail) updateInPartition(date, id string, status domain.OutcomeStatus, value *float64, notes *string, overwrite bool) (updated *domain.AuditEntry, found, skipped bool, err error) {
	path := t.partitionPath(date)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, false, false, nil
	}
	unlock, err := t.lockPartition(date)
	if err != nil {
		return nil, false, false, err
	}
	defer unlock()

	lines, err := readPartition(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, false, nil
	}
	if err != nil {
		t.logger.Warn("audit partition unreadable", zap.String("date", date), zap.Error(err))
		return nil, false, false, nil
	}

	for i := range lines {
		e := lines[i].entry
		if e == nil || e.ID != id {
			continue
		}
		if !overwrite && e.OutcomeTracked {
			return nil, true, true, nil
		}
		if sameOutcome(e, status, value, notes) {
			return nil, true, false, nil
		}
		now := t.now().UTC()
		s := status
		e.OutcomeTracked = true
		e.OutcomeStatus = &s
		e.OutcomeTimestamp = &now
		e.OutcomeValueUSD = value
		e.OutcomeNotes = notes

		raw, err := encodeEntry(*e)
		if err != nil {
			return nil, true, false, err
		}
		lines[i].raw = raw
		if err := rewritePartition(path, lines); err != nil {
			return nil, true, false, fmt.Errorf("%w: rewrite partition %s: %v", domain.ErrStorage, date, err)
		}
		out := *e
		return &out, true, false, nil
	}
	return nil, false, false, nil
}

// sameOutcome повторное применение того же исхода ничего не меняет
func sameOutcome(e *domain.AuditEntry, status domain.OutcomeStatus, value *float64, notes *string) bool {
	if !e.OutcomeTracked || e.OutcomeStatus == nil || *e.OutcomeStatus != status {
		return false
	}
	if (e.OutcomeValueUSD == nil) != (value == nil) || (value != nil && *e.OutcomeValueUSD != *value) {
		return false
	}
	if (e.OutcomeNotes == nil) != (notes == nil) || (notes != nil && *e.OutcomeNotes != *notes) {
		return false
	}
	return true
}

// Query читает партиции по порядку дат и возвращает подходящие записи до лимита.
func (t *Trail) Query(f Filter) []domain.AuditEntry {
	today := dayStart(t.now())
	start := today.AddDate(0, 0, -DefaultQueryWindowDays)
	if !f.Start.IsZero() {
		start = dayStart(f.Start.In(today.Location()))
	}
	end := today
	if !f.End.IsZero() {
		end = dayStart(f.End.In(today.Location()))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	out := make([]domain.AuditEntry, 0)
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		date := day.Format(dateLayout)
		lines, err := t.readLocked(date)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				t.logger.Warn("skipping unreadable audit partition", zap.String("date", date), zap.Error(err))
			}
			continue
		}
		for _, l := range lines {
			if l.entry == nil {
				t.logger.Warn("skipping undecodable audit line", zap.String("date", date))
				continue
			}
			if !f.match(l.entry) {
				continue
			}
			out = append(out, *l.entry)
			if len(out) >= limit {
				return out
			}
		}
	}
	return out
}

// readLocked партиции переписываются через rename, поэтому чтению файловая блокировка не нужна
func (t *Trail) readLocked(date string) ([]line, error) {
	lock := t.parts.get(date)
	lock.Lock()
	defer lock.Unlock()
	return readPartition(t.partitionPath(date))
}

// lockPartition мьютекс даты и блокировка файла партиции
func (t *Trail) lockPartition(date string) (func(), error) {
	lock := t.parts.get(date)
	lock.Lock()
	unlock, err := infra.LockFile(t.partitionPath(date))
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	return func() {
		unlock()
		lock.Unlock()
	}, nil
}

// updateIndex перечитывает index.json под блокировкой, применяет fn и сохраняет, если fn вернула true
func (t *Trail) updateIndex(fn func(*index) bool) error {
	t.indexMu.Lock()
	defer t.indexMu.Unlock()
	unlock, err := infra.LockFile(t.indexPath())
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	defer unlock()

	idx, err := loadIndex(t.indexPath())
	if err != nil {
		// Индекс восстанавливается с нуля, партиции остаются источником истины
		t.logger.Warn("audit index unreadable, starting fresh", zap.Error(err))
	}
	if !fn(&idx) {
		return nil
	}
	if err := idx.save(t.indexPath()); err != nil {
		return fmt.Errorf("%w: save audit index: %v", domain.ErrStorage, err)
	}
	return nil
}

// Get ищет запись по id в пределах горизонта поиска исходов
func (t *Trail) Get(id string) (domain.AuditEntry, error) {
	today := dayStart(t.now())
	for back := 0; back < OutcomeSearchHorizon; back++ {
		lines, err := t.readLocked(today.AddDate(0, 0, -back).Format(dateLayout))
		if err != nil {
			continue
		}
		for _, l := range lines {
			if l.entry != nil && l.entry.ID == id {
				return *l.entry, nil
			}
		}
	}
	return domain.AuditEntry{}, fmt.Errorf("audit entry %s: %w", id, domain.ErrNotFound)
}

// Stats агрегаты за последние days дней включая сегодня
func (t *Trail) Stats(days int) domain.AuditStats {
	today := dayStart(t.now())
	entries := t.Query(Filter{Start: today.AddDate(0, 0, -days), End: today, Limit: StatsQueryLimit})

	stats := domain.AuditStats{
		PeriodDays:   days,
		TotalEntries: len(entries),
		ByAgent:      map[string]int{},
		ByAction:     map[string]int{},
		ByOutcome:    map[string]int{},
	}
	success, tracked := 0, 0
	for _, e := range entries {
		stats.ByAgent[e.AgentID]++
		stats.ByAction[string(e.ActionType)]++
		if e.OutcomeStatus != nil {
			stats.ByOutcome[string(*e.OutcomeStatus)]++
		}
		stats.TotalCostUSD += e.CostUSD
		stats.TotalTokens += e.TokensUsed
		if e.ActionResult == domain.ResultSuccess {
			success++
		}
		if e.OutcomeTracked {
			tracked++
		}
	}
	if n := len(entries); n > 0 {
		stats.SuccessRate = float64(success) / float64(n)
		stats.OutcomeRate = float64(tracked) / float64(n)
	}
	return stats
}

// PendingOutcomes рабочий список в том виде, в каком он сейчас лежит на диске
func (t *Trail) PendingOutcomes() []domain.PendingRef {
	idx, err := loadIndex(t.indexPath())
	if err != nil {
		t.logger.Warn("audit index unreadable", zap.Error(err))
	}
	return idx.PendingOutcomes
}
