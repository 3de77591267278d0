package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/xela07ax/swarm-governor/internal/domain"
	"github.com/xela07ax/swarm-governor/internal/infra"
)

const dateLayout = "2006-01-02"

// Ledger дневной учёт расходов. Файл дня общий для serve и команд CLI: каждое чтение и
// изменение идёт с диска под файловой блокировкой, в памяти ничего не кешируется.
type Ledger struct {
	dir string
	now func() time.Time

	mu sync.Mutex
}

func NewLedger(workspace string, now func() time.Time) (*Ledger, error) {
	dir := filepath.Join(workspace, "costs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create costs dir: %v", domain.ErrStorage, err)
	}
	return &Ledger{dir: dir, now: now}, nil
}

func (l *Ledger) path(date string) string {
	return filepath.Join(l.dir, date+".json")
}

// locked выполняет fn под мьютексом и блокировкой файла дня
func (l *Ledger) locked(date string, fn func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	unlock, err := infra.LockFile(l.path(date))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	defer unlock()
	return fn()
}

func (l *Ledger) read(date string) (domain.CostLedger, error) {
	data, err := os.ReadFile(l.path(date))
	if errors.Is(err, os.ErrNotExist) {
		return domain.NewCostLedger(date), nil
	}
	if err != nil {
		return domain.NewCostLedger(date), fmt.Errorf("%w: read ledger %s: %v", domain.ErrStorage, date, err)
	}
	out := domain.NewCostLedger(date)
	if err := json.Unmarshal(data, &out); err != nil {
		return domain.NewCostLedger(date), fmt.Errorf("%w: decode ledger %s: %v", domain.ErrParse, date, err)
	}
	out.Date = date
	if out.ByAgent == nil {
		out.ByAgent = map[string]float64{}
	}
	if out.ByTier == nil {
		out.ByTier = map[string]float64{}
	}
	return out, nil
}

// Snapshot учёт за сегодня
func (l *Ledger) Snapshot() (domain.CostLedger, error) {
	date := l.now().Format(dateLayout)
	cur := domain.NewCostLedger(date)
	err := l.locked(date, func() error {
		var err error
		cur, err = l.read(date)
		return err
	})
	return cur, err
}

// Add учитывает расход и сохраняет файл дня. Возвращает итоги до и после.
// Нечитаемый файл не перезаписывается: иначе накопленный расход обнулился бы.
func (l *Ledger) Add(agentID, tier string, cost float64) (before, after domain.CostLedger, err error) {
	date := l.now().Format(dateLayout)
	err = l.locked(date, func() error {
		cur, err := l.read(date)
		if err != nil {
			return err
		}
		before = cur.Clone()

		cur.DailyTotal += cost
		cur.ByAgent[agentID] += cost
		cur.ByTier[tier] += cost
		after = cur

		data, err := json.MarshalIndent(cur, "", "  ")
		if err != nil {
			return fmt.Errorf("encode ledger: %w", err)
		}
		if err := infra.WriteFileAtomic(l.path(date), data); err != nil {
			return fmt.Errorf("%w: write ledger: %v", domain.ErrStorage, err)
		}
		return nil
	})
	return before, after, err
}

// Day учёт за произвольную дату; ok=false, если файла нет
func (l *Ledger) Day(date string) (domain.CostLedger, bool, error) {
	if _, err := os.Stat(l.path(date)); errors.Is(err, os.ErrNotExist) {
		return domain.NewCostLedger(date), false, nil
	}
	var c domain.CostLedger
	err := l.locked(date, func() error {
		var err error
		c, err = l.read(date)
		return err
	})
	return c, err == nil, err
}
