package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/swarm-governor/internal/autonomy"
	"github.com/xela07ax/swarm-governor/internal/connectors"
	"github.com/xela07ax/swarm-governor/internal/domain"
)

const (
	DefaultAgent              = "coyote"
	DefaultMaxDelegationDepth = 3
	DefaultMaxTokens          = 4096
)

// AuditLog журнал, в который конвейер пишет итоговую запись
type AuditLog interface {
	Log(entry domain.AuditEntry) (string, error)
}

type ModelRouter interface {
	Route(agentID, task string, estimatedTokens int, forceTier string) domain.RoutingDecision
	RecordUsage(agentID, tier string, inputTokens, outputTokens int) (float64, error)
}

type PermissionChecker interface {
	CheckPermission(agentID, category, actionType string, ctx autonomy.Context) domain.PermissionResult
	RequestApproval(agentID, description string, ctx autonomy.Context, auditID string) (string, error)
}

// Components зависимости конвейера. Context, Notifier и Executor могут быть nil.
type Components struct {
	Audit     AuditLog
	Router    ModelRouter
	Autonomy  PermissionChecker
	Reasoning connectors.ReasoningClient
	Context   connectors.ContextProvider
	Notifier  connectors.Notifier
	Executor  connectors.ActionExecutor
}

type Options struct {
	DefaultAgent       string
	MaxDelegationDepth int
	SystemPrompt       string
	MaxTokens          int
}

// Input один запрос к конвейеру
type Input struct {
	Text      string             `json:"text"`
	Trigger   domain.TriggerKind `json:"trigger"`
	Source    string             `json:"source"`
	AgentID   string             `json:"agent_id"`
	ParentID  string             `json:"parent_audit_id,omitempty"`
	ForceTier string             `json:"force_tier,omitempty"`
}

type Response struct {
	Success       bool                 `json:"success"`
	AuditID       string               `json:"audit_id"`
	Decision      string               `json:"decision"`
	ActionTaken   *domain.ActionKind   `json:"action_taken"`
	AutonomyLevel domain.AutonomyLevel `json:"autonomy_level"`
	TierUsed      string               `json:"tier_used"`
	CostUSD       float64              `json:"cost_usd"`
	SkillsUsed    []string             `json:"skills_used"`
	Error         string               `json:"error,omitempty"`
}

// Pipeline проводит действие агента через маршрутизацию, модель, правила автономии и журнал.
type Pipeline struct {
	c       Components
	opts    Options
	metrics *Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewPipeline(c Components, opts Options, metrics *Metrics, logger *zap.Logger) *Pipeline {
	if opts.DefaultAgent == "" {
		opts.DefaultAgent = DefaultAgent
	}
	if opts.MaxDelegationDepth <= 0 {
		opts.MaxDelegationDepth = DefaultMaxDelegationDepth
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Pipeline{
		c:       c,
		opts:    opts,
		metrics: metrics,
		logger:  logger.Named("pipeline"),
		now:     time.Now,
	}
}

// run состояние одного прохода конвейера
type run struct {
	entry  domain.AuditEntry
	start  time.Time
	logged bool
}

// Process никогда не возвращает ошибку: любой сбой записывается в журнал и отражается в ответе.
func (p *Pipeline) Process(ctx context.Context, in Input) (resp Response) {
	if in.AgentID == "" {
		in.AgentID = p.opts.DefaultAgent
	}
	if !in.Trigger.Valid() {
		in.Trigger = domain.TriggerManual
	}
	start := p.now()
	p.metrics.TotalRequests.WithLabelValues(in.AgentID, string(in.Trigger)).Inc()

	r := &run{start: start, entry: domain.AuditEntry{
		ID:              uuid.NewString(),
		Timestamp:       start.UTC(),
		AgentID:         in.AgentID,
		Trigger:         in.Trigger,
		Source:          in.Source,
		InputData:       map[string]any{"text": in.Text},
		ContextSummary:  truncate(in.Text, 200),
		MemoryRetrieved: []string{},
		SkillsLoaded:    []string{},
		ActionType:      domain.ActionLogOnly,
		ActionDetails:   map[string]any{},
		ActionResult:    domain.ResultPending,
		AutonomyLevel:   domain.LevelNotify,
	}}
	if in.ParentID != "" {
		r.entry.ParentID = domain.StrPtr(in.ParentID)
	}
	if traceID := extractTraceID(ctx); traceID != "" {
		r.entry.InputData["trace_id"] = traceID
	}

	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("pipeline panic", zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
			resp = p.fail(r, fmt.Errorf("internal error: %v", rec))
		}
		status := "ok"
		if !resp.Success {
			status = "failed"
		}
		p.metrics.RequestDuration.WithLabelValues(in.AgentID, status).Observe(p.now().Sub(start).Seconds())
	}()

	if depth := delegationDepth(ctx); depth > p.opts.MaxDelegationDepth {
		return p.fail(r, fmt.Errorf("%w: depth %d, max %d", domain.ErrDelegationDepth, depth, p.opts.MaxDelegationDepth))
	}

	res, err := p.execute(ctx, r, in)
	if err != nil {
		return p.fail(r, err)
	}
	return res
}

func (p *Pipeline) execute(ctx context.Context, r *run, in Input) (Response, error) {
	e := &r.entry

	var memories []connectors.Memory
	if p.c.Context != nil {
		skills, mems, err := p.c.Context.Retrieve(ctx, in.Text)
		if err != nil {
			return Response{}, fmt.Errorf("%w: retrieve context: %v", domain.ErrExternalCall, err)
		}
		e.SkillsLoaded = skills
		memories = mems
		for _, m := range mems {
			e.MemoryRetrieved = append(e.MemoryRetrieved, m.ID)
		}
	}

	routing := p.c.Router.Route(in.AgentID, in.Text, 0, in.ForceTier)
	e.ModelUsed = routing.Tier

	completion, err := p.c.Reasoning.Complete(ctx, connectors.CompletionRequest{
		SystemPrompt: buildSystemPrompt(p.opts.SystemPrompt, e.SkillsLoaded, memories),
		ModelID:      routing.ModelID,
		MaxTokens:    p.opts.MaxTokens,
		Messages:     []connectors.Message{{Role: "user", Content: in.Text}},
	})
	if err != nil {
		if !errors.Is(err, domain.ErrExternalCall) {
			err = fmt.Errorf("%w: reasoning engine: %v", domain.ErrExternalCall, err)
		}
		return Response{}, err
	}

	reply := parseReply(completion.Text)
	e.Decision = reply.Decision
	e.Reasoning = truncate(completion.Text, 500)
	e.ActionType = reply.Action
	e.ActionDetails = reply.Details

	e.TokensUsed = completion.InputTokens + completion.OutputTokens
	cost, err := p.c.Router.RecordUsage(in.AgentID, routing.Tier, completion.InputTokens, completion.OutputTokens)
	e.CostUSD = cost
	if err != nil {
		return Response{}, err
	}
	p.metrics.CostUSD.WithLabelValues(routing.Tier).Add(cost)

	category, actionType := permissionKey(reply.Action, reply.Details)
	permCtx := autonomy.Context{"action_details": reply.Details, "confidence": e.Confidence}
	for k, v := range reply.Details {
		permCtx[k] = v
	}
	perm := p.c.Autonomy.CheckPermission(in.AgentID, category, actionType, permCtx)
	e.AutonomyLevel = perm.Level
	e.ApprovalNeeded = !perm.Allowed
	p.metrics.PermissionDecisions.WithLabelValues(string(perm.Level)).Inc()

	if perm.Allowed {
		result, err := p.perform(ctx, r, in, permCtx)
		if err != nil {
			return Response{}, err
		}
		e.ActionResult = result
		if perm.Level == domain.LevelNotify {
			if err := p.notify(ctx, e, perm); err != nil {
				return Response{}, err
			}
		}
	} else {
		e.ActionResult = domain.ResultAwaitingApproval
		desc := fmt.Sprintf("%s: %s", e.ActionType, e.Decision)
		reqID, err := p.c.Autonomy.RequestApproval(in.AgentID, desc, autonomy.Context(reply.Details), e.ID)
		if err != nil {
			return Response{}, err
		}
		p.logger.Info("approval requested",
			zap.String("audit_id", e.ID), zap.String("request_id", reqID), zap.String("reason", perm.Reason))
	}

	e.LatencyMS = p.now().Sub(r.start).Milliseconds()
	r.logged = true
	if _, err := p.c.Audit.Log(*e); err != nil {
		return Response{}, err
	}

	var taken *domain.ActionKind
	if perm.Allowed {
		kind := e.ActionType
		taken = &kind
	}
	return Response{
		Success:       true,
		AuditID:       e.ID,
		Decision:      e.Decision,
		ActionTaken:   taken,
		AutonomyLevel: perm.Level,
		TierUsed:      routing.Tier,
		CostUSD:       e.CostUSD,
		SkillsUsed:    e.SkillsLoaded,
	}, nil
}

// perform исполняет разрешённое действие
func (p *Pipeline) perform(ctx context.Context, r *run, in Input, permCtx autonomy.Context) (domain.ActionResult, error) {
	e := &r.entry
	details := e.ActionDetails
	ok := false

	switch e.ActionType {
	case domain.ActionLogOnly:
		ok = true
	case domain.ActionAlert:
		if p.c.Notifier == nil {
			return domain.ResultFailure, nil
		}
		sent, err := p.c.Notifier.Send(ctx, stringOr(details, "message", "Agent alert"), stringOr(details, "urgency", "normal"))
		if err != nil {
			return "", err
		}
		ok = sent
	case domain.ActionEmail, domain.ActionAPICall, domain.ActionCodeExecution:
		if p.c.Executor == nil {
			return domain.ResultFailure, nil
		}
		done, err := p.c.Executor.Execute(ctx, e.ActionType, details)
		if err != nil {
			return "", fmt.Errorf("%w: execute %s: %v", domain.ErrExternalCall, e.ActionType, err)
		}
		ok = done
	case domain.ActionDelegate:
		target, task := stringOr(details, "agent", ""), stringOr(details, "task", "")
		if target == "" || task == "" {
			return domain.ResultFailure, nil
		}
		e.DelegatedTo = domain.StrPtr(target)
		child := p.Process(withDelegation(ctx), Input{
			Text:     task,
			Trigger:  domain.TriggerAgentRequest,
			Source:   "delegated_from_" + in.AgentID,
			AgentID:  target,
			ParentID: e.ID,
		})
		ok = child.Success
	case domain.ActionApprovalRequest:
		desc := fmt.Sprintf("%s: %s", e.ActionType, e.Decision)
		if _, err := p.c.Autonomy.RequestApproval(in.AgentID, desc, permCtx, e.ID); err != nil {
			return "", err
		}
		return domain.ResultAwaitingApproval, nil
	}

	if ok {
		return domain.ResultSuccess, nil
	}
	return domain.ResultFailure, nil
}

// notify сообщает принципалу о действии, выполненном на уровне notify
func (p *Pipeline) notify(ctx context.Context, e *domain.AuditEntry, perm domain.PermissionResult) error {
	if p.c.Notifier == nil {
		return nil
	}
	urgency := "normal"
	if perm.NotifyVia == "sms" {
		urgency = "high"
	}
	msg := fmt.Sprintf("%s %s: %s", e.AgentID, e.ActionType, truncate(e.Decision, 100))
	sent, err := p.c.Notifier.Send(ctx, msg, urgency)
	if err != nil {
		return err
	}
	if !sent {
		p.logger.Warn("notification not sent", zap.String("audit_id", e.ID), zap.String("via", perm.NotifyVia))
	}
	return nil
}

// fail записывает неудачную запись (если финальная запись ещё не пыталась сохраниться) и формирует ответ
func (p *Pipeline) fail(r *run, err error) Response {
	e := &r.entry
	e.ActionResult = domain.ResultFailure
	e.ErrorMessage = domain.StrPtr(err.Error())
	e.LatencyMS = p.now().Sub(r.start).Milliseconds()
	p.metrics.ErrorTotal.WithLabelValues(errorType(err)).Inc()
	p.logger.Error("pipeline failed",
		zap.String("audit_id", e.ID), zap.String("agent_id", e.AgentID), zap.Error(err))

	if !r.logged {
		r.logged = true
		if _, logErr := p.c.Audit.Log(*e); logErr != nil {
			p.logger.Error("failed entry not persisted", zap.String("audit_id", e.ID), zap.Error(logErr))
		}
	}
	return Response{
		Success:       false,
		AuditID:       e.ID,
		Decision:      "Error during processing",
		AutonomyLevel: domain.LevelNotify,
		TierUsed:      e.ModelUsed,
		CostUSD:       e.CostUSD,
		SkillsUsed:    e.SkillsLoaded,
		Error:         err.Error(),
	}
}

func errorType(err error) string {
	switch {
	case errors.Is(err, domain.ErrExternalCall):
		return "external_call"
	case errors.Is(err, domain.ErrStorage):
		return "storage"
	case errors.Is(err, domain.ErrDelegationDepth):
		return "delegation_depth"
	}
	return "internal"
}

// permissionKey категория и тип правила. Поля category и type в деталях уточняют таблицу по виду действия.
func permissionKey(kind domain.ActionKind, details map[string]any) (string, string) {
	return stringOr(details, "category", kind.Category()), stringOr(details, "type", string(kind))
}

func stringOr(m map[string]any, key, fallback string) string {
	if s, ok := m[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
