package postgres

/*
approval_repo.go хранит решения принципала по запросам на подпись (Human-in-the-loop).
Источник истины файловая очередь; таблица нужна для отчётов и внешних систем.
*/

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/xela07ax/swarm-governor/internal/domain"
)

const ApprovalSchema = `
CREATE TABLE IF NOT EXISTS approval_decisions (
    request_id       TEXT PRIMARY KEY,
    audit_id         TEXT NOT NULL,
    agent_id         TEXT NOT NULL,
    action           TEXT NOT NULL,
    status           TEXT NOT NULL,
    requested_at     TIMESTAMPTZ NOT NULL,
    resolved_at      TIMESTAMPTZ,
    resolved_by      TEXT,
    rejection_reason TEXT,
    context          JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS approval_decisions_agent ON approval_decisions (agent_id, requested_at);
`

type ApprovalRepo struct {
	db *sql.DB
}

func NewApprovalRepo(db *sql.DB) *ApprovalRepo {
	return &ApprovalRepo{db: db}
}

// PublishDecision записывает решение. Повторное решение по тому же запросу игнорируется (Double Decision).
func (r *ApprovalRepo) PublishDecision(ctx context.Context, a domain.PendingApproval) error {
	row, err := decisionRow(a)
	if err != nil {
		return err
	}
	query := `INSERT INTO approval_decisions (request_id, audit_id, agent_id, action, status,
	requested_at, resolved_at, resolved_by, rejection_reason, context)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (request_id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, row...); err != nil {
		return fmt.Errorf("%w: insert approval decision %s: %v", domain.ErrStorage, a.RequestID, err)
	}
	return nil
}

// FindDecisions решения по агенту, новые первыми. Пустой agentID: все агенты.
func (r *ApprovalRepo) FindDecisions(ctx context.Context, agentID string, limit int) ([]domain.PendingApproval, error) {
	query := `SELECT request_id, audit_id, agent_id, action, status, requested_at,
	resolved_at, resolved_by, rejection_reason, context FROM approval_decisions`
	var args []any
	if agentID != "" {
		query += " WHERE agent_id = $1"
		args = append(args, agentID)
	}
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(" ORDER BY requested_at DESC LIMIT %d", limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query approval decisions: %v", domain.ErrStorage, err)
	}
	defer rows.Close()

	// Пустой слайс, чтобы в JSON был [] вместо null
	out := make([]domain.PendingApproval, 0)
	for rows.Next() {
		var (
			a          domain.PendingApproval
			resolvedAt sql.NullTime
			by, reason sql.NullString
			rawCtx     []byte
		)
		if err := rows.Scan(&a.RequestID, &a.AuditID, &a.AgentID, &a.Action, &a.Status, &a.RequestedAt,
			&resolvedAt, &by, &reason, &rawCtx); err != nil {
			return nil, fmt.Errorf("%w: scan approval decision: %v", domain.ErrStorage, err)
		}
		if resolvedAt.Valid {
			t := resolvedAt.Time
			a.ResolvedAt = &t
		}
		if by.Valid {
			a.ResolvedBy = &by.String
		}
		if reason.Valid {
			a.RejectionReason = &reason.String
		}
		if err := json.Unmarshal(rawCtx, &a.Context); err != nil {
			return nil, fmt.Errorf("%w: decode approval context: %v", domain.ErrParse, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: approval decisions iteration: %v", domain.ErrStorage, err)
	}
	return out, nil
}

func decisionRow(a domain.PendingApproval) ([]any, error) {
	ctx := a.Context
	if ctx == nil {
		ctx = map[string]any{}
	}
	raw, err := json.Marshal(ctx)
	if err != nil {
		return nil, fmt.Errorf("encode approval context %s: %w", a.RequestID, err)
	}
	return []any{
		a.RequestID, a.AuditID, a.AgentID, a.Action, string(a.Status),
		a.RequestedAt, a.ResolvedAt, a.ResolvedBy, a.RejectionReason, raw,
	}, nil
}
