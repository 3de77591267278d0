package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xela07ax/swarm-governor/internal/domain"
	"github.com/xela07ax/swarm-governor/internal/infra"
)

const AlertHistoryFileName = "alert_history.jsonl"

// Notifier канал уведомлений принципала. false без ошибки: уведомление не отправлено (лимит).
type Notifier interface {
	Send(ctx context.Context, message, urgency string) (bool, error)
}

// Alert запись истории уведомлений
type Alert struct {
	Timestamp time.Time `json:"timestamp"`
	Urgency   string    `json:"urgency"`
	Message   string    `json:"message"`
	Channel   string    `json:"channel"`
	Status    string    `json:"status"` // sent, rate_limited, failed
	Error     string    `json:"error,omitempty"`
}

// Sender физическая доставка уведомления
type Sender interface {
	Name() string
	Deliver(ctx context.Context, alert Alert) error
}

// RateLimitedNotifier не больше maxPerHour уведомлений в час; critical и emergency проходят всегда
type RateLimitedNotifier struct {
	sender  Sender
	limiter *rate.Limiter
	history string
	logger  *zap.Logger
	now     func() time.Time

	mu sync.Mutex
}

func NewRateLimitedNotifier(sender Sender, maxPerHour int, workspace string, logger *zap.Logger) *RateLimitedNotifier {
	if maxPerHour <= 0 {
		maxPerHour = 5
	}
	return &RateLimitedNotifier{
		sender:  sender,
		limiter: rate.NewLimiter(rate.Every(time.Hour/time.Duration(maxPerHour)), maxPerHour),
		history: filepath.Join(workspace, AlertHistoryFileName),
		logger:  logger.Named("notifier"),
		now:     time.Now,
	}
}

func bypassesLimit(urgency string) bool {
	return urgency == "critical" || urgency == "emergency"
}

func (n *RateLimitedNotifier) Send(ctx context.Context, message, urgency string) (bool, error) {
	if urgency == "" {
		urgency = "normal"
	}
	now := n.now()
	a := Alert{Timestamp: now.UTC(), Urgency: urgency, Message: truncate(message, 100), Channel: n.sender.Name()}

	if !bypassesLimit(urgency) && !n.limiter.AllowN(now, 1) {
		a.Status = "rate_limited"
		a.Error = "Exceeded hourly rate limit"
		n.record(a)
		n.logger.Warn("notification rate limited", zap.String("urgency", urgency))
		return false, nil
	}

	full := a
	full.Message = message
	if err := n.sender.Deliver(ctx, full); err != nil {
		a.Status = "failed"
		a.Error = err.Error()
		n.record(a)
		return false, fmt.Errorf("%w: deliver notification via %s: %v", domain.ErrExternalCall, n.sender.Name(), err)
	}
	a.Status = "sent"
	n.record(a)
	return true, nil
}

// Recent уведомления за последние hours часов
func (n *RateLimitedNotifier) Recent(hours int) ([]Alert, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	data, err := os.ReadFile(n.history)
	if os.IsNotExist(err) {
		return []Alert{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read alert history: %v", domain.ErrStorage, err)
	}
	cutoff := n.now().Add(-time.Duration(hours) * time.Hour)
	out := []Alert{}
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var a Alert
		if err := dec.Decode(&a); err != nil {
			break
		}
		if a.Timestamp.After(cutoff) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (n *RateLimitedNotifier) record(a Alert) {
	raw, err := json.Marshal(a)
	if err != nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	f, err := os.OpenFile(n.history, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		n.logger.Warn("alert history unavailable", zap.Error(err))
		return
	}
	defer f.Close()
	if _, err := f.Write(append(raw, '\n')); err != nil {
		n.logger.Warn("alert history write failed", zap.Error(err))
	}
}

// LogSender пишет уведомление в журнал процесса. Используется, когда SMS/почта не подключены.
type LogSender struct {
	Logger *zap.Logger
}

func (LogSender) Name() string { return "log" }

func (s LogSender) Deliver(_ context.Context, a Alert) error {
	s.Logger.Info("NOTIFY", zap.String("urgency", a.Urgency), zap.String("message", a.Message))
	return nil
}

// RedisSender публикует уведомление в канал Pub/Sub, откуда его забирает шлюз доставки
type RedisSender struct {
	rdb     *redis.Client
	channel string
}

func NewRedisSender(rdb *redis.Client) *RedisSender {
	return &RedisSender{rdb: rdb, channel: infra.RedisChanAlerts}
}

func (RedisSender) Name() string { return "redis" }

func (s *RedisSender) Deliver(ctx context.Context, a Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return s.rdb.Publish(ctx, s.channel, payload).Err()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
