package autonomy

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
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

const ApprovalsFileName = "pending_approvals.jsonl"

// DecisionPublisher уведомляет внешних слушателей о решении по запросу
type DecisionPublisher interface {
	PublishDecision(ctx context.Context, approval domain.PendingApproval) error
}

// ApprovalQueue файловая очередь запросов на подпись. Изменения сериализованы мьютексом и файловой блокировкой,
// очередь делят serve и команды CLI.
type ApprovalQueue struct {
	path      string
	logger    *zap.Logger
	now       func() time.Time
	publisher DecisionPublisher

	mu sync.Mutex
}

func NewApprovalQueue(workspace string, logger *zap.Logger) *ApprovalQueue {
	return &ApprovalQueue{
		path:   filepath.Join(workspace, ApprovalsFileName),
		logger: logger.Named("approvals"),
		now:    time.Now,
	}
}

func (q *ApprovalQueue) SetPublisher(p DecisionPublisher) {
	q.publisher = p
}

// Request добавляет запрос и возвращает короткий идентификатор
func (q *ApprovalQueue) Request(agentID, description string, ctx Context, auditID string) (string, error) {
	a := domain.PendingApproval{
		RequestID:   uuid.NewString()[:8],
		AuditID:     auditID,
		AgentID:     agentID,
		Action:      description,
		Context:     map[string]any(ctx),
		RequestedAt: q.now().UTC(),
		Status:      domain.StatusPending,
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("encode approval: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	unlock, err := infra.LockFile(q.path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	defer unlock()
	f, err := os.OpenFile(q.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("%w: open approval queue: %v", domain.ErrStorage, err)
	}
	if _, err := f.Write(append(raw, '\n')); err != nil {
		f.Close()
		return "", fmt.Errorf("%w: append approval: %v", domain.ErrStorage, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("%w: close approval queue: %v", domain.ErrStorage, err)
	}
	q.logger.Info("approval requested",
		zap.String("request_id", a.RequestID),
		zap.String("agent_id", agentID),
		zap.String("audit_id", auditID),
	)
	return a.RequestID, nil
}

// List все запросы в порядке поступления
func (q *ApprovalQueue) List() ([]domain.PendingApproval, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.readAll()
}

func (q *ApprovalQueue) PendingApprovals() ([]domain.PendingApproval, error) {
	all, err := q.List()
	if err != nil {
		return nil, err
	}
	out := make([]domain.PendingApproval, 0, len(all))
	for _, a := range all {
		if a.Status == domain.StatusPending {
			out = append(out, a)
		}
	}
	return out, nil
}

func (q *ApprovalQueue) Get(requestID string) (domain.PendingApproval, error) {
	return q.find(func(a domain.PendingApproval) bool { return a.RequestID == requestID }, "approval request "+requestID)
}

// FindByAuditID запрос, порождённый записью журнала
func (q *ApprovalQueue) FindByAuditID(auditID string) (domain.PendingApproval, error) {
	return q.find(func(a domain.PendingApproval) bool { return a.AuditID == auditID }, "approval for audit entry "+auditID)
}

func (q *ApprovalQueue) find(match func(domain.PendingApproval) bool, what string) (domain.PendingApproval, error) {
	all, err := q.List()
	if err != nil {
		return domain.PendingApproval{}, err
	}
	for _, a := range all {
		if match(a) {
			return a, nil
		}
	}
	return domain.PendingApproval{}, fmt.Errorf("%s: %w", what, domain.ErrNotFound)
}

func (q *ApprovalQueue) Approve(ctx context.Context, requestID, approver string) (bool, error) {
	return q.resolve(ctx, requestID, domain.StatusApproved, approver, nil)
}

func (q *ApprovalQueue) Reject(ctx context.Context, requestID, approver, reason string) (bool, error) {
	var r *string
	if reason != "" {
		r = &reason
	}
	return q.resolve(ctx, requestID, domain.StatusRejected, approver, r)
}

// resolve false, если запрос не найден или уже решён
func (q *ApprovalQueue) resolve(ctx context.Context, requestID string, next domain.ApprovalStatus, approver string, reason *string) (bool, error) {
	q.mu.Lock()
	unlock, err := infra.LockFile(q.path)
	if err != nil {
		q.mu.Unlock()
		return false, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	release := func() {
		unlock()
		q.mu.Unlock()
	}
	all, err := q.readAll()
	if err != nil {
		release()
		return false, err
	}
	var resolved *domain.PendingApproval
	for i := range all {
		if all[i].RequestID != requestID {
			continue
		}
		if err := all[i].Resolve(next, approver, reason, q.now().UTC()); err != nil {
			q.logger.Info("approval not resolved", zap.String("request_id", requestID), zap.Error(err))
			release()
			return false, nil
		}
		resolved = &all[i]
		break
	}
	if resolved == nil {
		release()
		return false, nil
	}
	err = q.writeAll(all)
	release()
	if err != nil {
		return false, err
	}

	q.logger.Info("approval resolved",
		zap.String("request_id", requestID),
		zap.String("status", string(next)),
		zap.String("by", approver),
	)
	if q.publisher != nil {
		if err := q.publisher.PublishDecision(ctx, *resolved); err != nil {
			q.logger.Warn("failed to publish approval decision", zap.String("request_id", requestID), zap.Error(err))
		}
	}
	return true, nil
}

func (q *ApprovalQueue) readAll() ([]domain.PendingApproval, error) {
	data, err := os.ReadFile(q.path)
	if isNotExist(err) {
		return []domain.PendingApproval{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read approval queue: %v", domain.ErrStorage, err)
	}
	out := []domain.PendingApproval{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var a domain.PendingApproval
		if err := json.Unmarshal(raw, &a); err != nil {
			q.logger.Warn("skipping undecodable approval line", zap.Error(err))
			continue
		}
		out = append(out, a)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan approval queue: %v", domain.ErrStorage, err)
	}
	return out, nil
}

func (q *ApprovalQueue) writeAll(all []domain.PendingApproval) error {
	var buf bytes.Buffer
	for _, a := range all {
		raw, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("encode approval: %w", err)
		}
		buf.Write(raw)
		buf.WriteByte('\n')
	}
	if err := infra.WriteFileAtomic(q.path, buf.Bytes()); err != nil {
		return fmt.Errorf("%w: replace approval queue: %v", domain.ErrStorage, err)
	}
	return nil
}
