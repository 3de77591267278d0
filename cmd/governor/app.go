package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/swarm-governor/internal/audit"
	"github.com/xela07ax/swarm-governor/internal/autonomy"
	"github.com/xela07ax/swarm-governor/internal/connectors"
	"github.com/xela07ax/swarm-governor/internal/console/service"
	"github.com/xela07ax/swarm-governor/internal/domain"
	"github.com/xela07ax/swarm-governor/internal/engine"
	"github.com/xela07ax/swarm-governor/internal/infra"
	"github.com/xela07ax/swarm-governor/internal/outcome"
	"github.com/xela07ax/swarm-governor/internal/repository/postgres"
	"github.com/xela07ax/swarm-governor/internal/router"
)

// Ответ модели по умолчанию, пока не подключён настоящий провайдер
const defaultScriptedReply = "Decision: Acknowledge the request and keep it on record\nAction: log_only"

// app собранное ядро и ресурсы, которые нужно закрыть при выходе
type app struct {
	gov      *service.Governor
	metrics  *engine.Metrics
	registry *prometheus.Registry
	notifier *connectors.RateLimitedNotifier
	rdb      *redis.Client
	// nil без Postgres
	decisions *postgres.ApprovalRepo
	closers   []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func buildApp(ctx context.Context, cfg *infra.Config, logger *zap.Logger) (*app, error) {
	ws := cfg.Workspace.Path
	if err := os.MkdirAll(ws, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create workspace: %v", domain.ErrStorage, err)
	}

	a := &app{registry: prometheus.NewRegistry()}
	a.metrics = engine.NewMetrics(a.registry)

	trail, err := audit.NewTrail(ws, logger)
	if err != nil {
		return nil, err
	}
	rt, err := router.NewRouter(ws, logger)
	if err != nil {
		return nil, err
	}
	eng, err := autonomy.NewEngine(ws, logger)
	if err != nil {
		return nil, err
	}

	var publishers autonomy.Publishers
	if cfg.Redis.Addr != "" {
		a.rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		a.closers = append(a.closers, func() { _ = a.rdb.Close() })
		publishers = append(publishers, autonomy.NewRedisDecisionPublisher(a.rdb))
	}

	if cfg.Database.URL != "" {
		db, err := postgres.Open(cfg.Database.URL)
		if err != nil {
			a.Close()
			return nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		if err == nil && cfg.Database.Migrate {
			err = postgres.Migrate(pingCtx, db)
		}
		cancel()
		if err != nil {
			_ = db.Close()
			a.Close()
			return nil, fmt.Errorf("%w: postgres: %v", domain.ErrStorage, err)
		}
		mirror := audit.NewMirror(postgres.NewAuditRepo(db), audit.MirrorOptions{
			BufferSize:    cfg.Engine.AuditBufferSize,
			BatchSize:     cfg.Engine.AuditBatchSize,
			FlushInterval: cfg.Engine.AuditFlushInterval,
			FillGauge:     a.metrics.AuditBufferFill,
		}, logger)
		mirror.Start()
		trail.AttachMirror(mirror)
		a.decisions = postgres.NewApprovalRepo(db)
		publishers = append(publishers, a.decisions)
		a.closers = append(a.closers, func() {
			mirror.Stop()
			_ = db.Close()
		})
	}
	if len(publishers) > 0 {
		eng.Approvals().SetPublisher(publishers)
	}

	sender, err := newSender(cfg.Alerts.Sender, a.rdb, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.notifier = connectors.NewRateLimitedNotifier(sender, cfg.Alerts.MaxPerHour, ws, logger)
	rt.OnBudgetAlert(func(st domain.BudgetStatus) {
		msg := fmt.Sprintf("Budget alert: $%.2f of $%.2f spent today (%.0f%%)", st.SpentUSD, st.LimitUSD, st.PercentUsed)
		go func() {
			if _, err := a.notifier.Send(context.Background(), msg, "high"); err != nil {
				logger.Warn("budget alert not delivered", zap.Error(err))
			}
		}()
	})

	llm, err := newReasoningClient(cfg.LLM)
	if err != nil {
		a.Close()
		return nil, err
	}

	pipeline := engine.NewPipeline(engine.Components{
		Audit:     trail,
		Router:    rt,
		Autonomy:  eng,
		Reasoning: llm,
		Context:   connectors.NewKeywordContext(cfg.Engine.Skills),
		Notifier:  a.notifier,
		Executor:  connectors.NewLogExecutor(logger),
	}, engine.Options{
		DefaultAgent:       cfg.Engine.DefaultAgent,
		MaxDelegationDepth: cfg.Engine.MaxDelegationDepth,
		SystemPrompt:       cfg.Engine.SystemPrompt,
	}, a.metrics, logger)

	tracker := outcome.NewTracker(trail, logger,
		outcome.ApprovalResponse{Approvals: eng.Approvals()},
		outcome.AlertResponse(nil),
		outcome.EmailResponse(nil),
	)

	deps := engine.HeartbeatDeps{
		Pipeline:  pipeline,
		Outcomes:  tracker,
		Approvals: eng.Approvals(),
		Audit:     trail,
		Budget:    rt,
		Workspace: ws,
		LockTTL:   cfg.Engine.HeartbeatLockTTL,
		Metrics:   a.metrics,
	}
	if a.rdb != nil {
		deps.Locker = engine.NewRedisLocker(a.rdb)
	}

	a.gov = &service.Governor{
		Pipeline:  pipeline,
		Heartbeat: engine.NewHeartbeat(deps, logger),
		Audit:     trail,
		Router:    rt,
		Autonomy:  eng,
		Outcomes:  tracker,
	}
	return a, nil
}

func newSender(kind string, rdb *redis.Client, logger *zap.Logger) (connectors.Sender, error) {
	switch kind {
	case "", "log":
		return connectors.LogSender{Logger: logger.Named("notify")}, nil
	case "redis":
		if rdb == nil {
			return nil, errors.New("alerts.sender=redis requires redis.addr")
		}
		return connectors.NewRedisSender(rdb), nil
	}
	return nil, fmt.Errorf("unknown alerts.sender %q", kind)
}

func newReasoningClient(c infra.LLMConfig) (connectors.ReasoningClient, error) {
	var base connectors.ReasoningClient
	switch c.Provider {
	case "", "scripted":
		reply := c.ScriptedReply
		if reply == "" {
			reply = defaultScriptedReply
		}
		base = connectors.NewScriptedClient(reply)
	default:
		return nil, fmt.Errorf("unknown llm.provider %q", c.Provider)
	}
	return connectors.NewReliableClient(base, connectors.ReliabilityOptions{
		Timeout:           c.Timeout,
		Attempts:          c.RetryAttempts,
		RequestsPerSecond: c.RequestsPerSecond,
		Burst:             c.Burst,
		CBMaxRequests:     c.CBMaxRequests,
		CBInterval:        c.CBInterval,
		CBTimeout:         c.CBTimeout,
	}), nil
}

// withApp собирает ядро для одной команды и закрывает его по завершении
func withApp(ctx context.Context, fn func(a *app) error) error {
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
