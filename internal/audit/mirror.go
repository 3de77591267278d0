package audit

/*
Mirror асинхронно копирует записи журнала во внешнее хранилище (Postgres).

- Publish не блокирует конвейер: событие кладётся в буферизованный канал,
  при переполнении запись отбрасывается с ошибкой в логе (Load Shedding).
  Источником истины остаются JSONL-партиции, зеркало можно перезалить.
- Пакетная запись по таймеру или при достижении размера пачки.
- Drain Pattern: Stop закрывает канал и ждёт финальный flush.
*/

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/xela07ax/swarm-governor/internal/domain"
)

// Sink определяет, куда физически уходят копии записей
type Sink interface {
	// WriteBatch сохраняет пачку записей за один раз. Повторная запись того же id обновляет её.
	WriteBatch(ctx context.Context, entries []domain.AuditEntry) error
}

type MirrorOptions struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	// FillGauge необязательный датчик заполненности буфера
	FillGauge prometheus.Gauge
}

type Mirror struct {
	ch     chan domain.AuditEntry
	sink   Sink
	opts   MirrorOptions
	logger *zap.Logger
	wg     sync.WaitGroup

	// Publish держит RLock на время отправки, Stop закрывает канал под Lock
	mu     sync.RWMutex
	closed bool
}

func NewMirror(sink Sink, opts MirrorOptions, logger *zap.Logger) *Mirror {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 10000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 500 * time.Millisecond
	}
	return &Mirror{
		ch:     make(chan domain.AuditEntry, opts.BufferSize),
		sink:   sink,
		opts:   opts,
		logger: logger.With(zap.String("mod", "audit_mirror")),
	}
}

func (m *Mirror) Start() {
	m.wg.Add(1)
	go m.worker()
}

// Stop запирает вход в канал и ждёт, пока воркер всё допишет.
func (m *Mirror) Stop() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.logger.Info("stopping audit mirror: closing channel and flushing buffer")
	close(m.ch)
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("audit mirror stopped gracefully")
}

func (m *Mirror) Publish(entry domain.AuditEntry) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		m.logger.Warn("mirror entry dropped: mirror is stopping", zap.String("id", entry.ID))
		return
	}

	select {
	case m.ch <- entry:
	default:
		m.logger.Error("audit_mirror_overflow",
			zap.String("id", entry.ID),
			zap.String("agent_id", entry.AgentID),
		)
	}
}

func (m *Mirror) worker() {
	defer m.wg.Done()

	batch := make([]domain.AuditEntry, 0, m.opts.BatchSize)
	ticker := time.NewTicker(m.opts.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if m.opts.FillGauge != nil {
			m.opts.FillGauge.Set(float64(len(m.ch)))
		}
		if len(batch) == 0 {
			return
		}
		// Background: основной контекст к этому моменту может быть закрыт
		if err := m.sink.WriteBatch(context.Background(), batch); err != nil {
			m.logger.Error("audit mirror flush failed", zap.Int("size", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-m.ch:
			if !ok {
				flush()
				m.logger.Info("audit mirror worker finished")
				return
			}
			batch = append(batch, entry)
			if len(batch) >= m.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
