package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xela07ax/swarm-governor/internal/domain"
)

// AuditSchema таблица зеркала журнала. Полная запись лежит в entry, остальные колонки для выборок.
const AuditSchema = `
CREATE TABLE IF NOT EXISTS audit_entries (
    id                TEXT PRIMARY KEY,
    timestamp         TIMESTAMPTZ NOT NULL,
    agent_id          TEXT NOT NULL,
    trigger_type      TEXT NOT NULL,
    action_type       TEXT NOT NULL,
    action_result     TEXT NOT NULL,
    autonomy_level    TEXT NOT NULL,
    model_used        TEXT NOT NULL,
    tokens_used       INTEGER NOT NULL,
    cost_usd          DOUBLE PRECISION NOT NULL,
    outcome_status    TEXT,
    outcome_value_usd DOUBLE PRECISION,
    entry             JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_entries_agent_ts ON audit_entries (agent_id, timestamp);
`

const auditColumns = 13

type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

// WriteBatch пакетный upsert. Внутри пачки один id может встретиться дважды
// (запись и обновление исхода), остаётся последняя версия.
func (r *AuditRepo) WriteBatch(ctx context.Context, entries []domain.AuditEntry) error {
	entries = lastByID(entries)
	if len(entries) == 0 {
		return nil
	}

	var placeholders strings.Builder
	vals := make([]any, 0, len(entries)*auditColumns)

	for i, e := range entries {
		p := i * auditColumns
		if i > 0 {
			placeholders.WriteString(",")
		}
		placeholders.WriteString("(")
		for c := 1; c <= auditColumns; c++ {
			if c > 1 {
				placeholders.WriteString(", ")
			}
			fmt.Fprintf(&placeholders, "$%d", p+c)
		}
		placeholders.WriteString(")")

		raw, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode entry %s: %w", e.ID, err)
		}
		var outcome *string
		if e.OutcomeStatus != nil {
			s := string(*e.OutcomeStatus)
			outcome = &s
		}
		vals = append(vals,
			e.ID, e.Timestamp, e.AgentID, string(e.Trigger), string(e.ActionType),
			string(e.ActionResult), string(e.AutonomyLevel), e.ModelUsed, e.TokensUsed, e.CostUSD,
			outcome, e.OutcomeValueUSD, raw,
		)
	}

	query := `INSERT INTO audit_entries (id, timestamp, agent_id, trigger_type, action_type,
	action_result, autonomy_level, model_used, tokens_used, cost_usd,
	outcome_status, outcome_value_usd, entry) VALUES ` + placeholders.String() + `
	ON CONFLICT (id) DO UPDATE SET
		outcome_status = EXCLUDED.outcome_status,
		outcome_value_usd = EXCLUDED.outcome_value_usd,
		entry = EXCLUDED.entry`

	if _, err := r.db.ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("%w: upsert audit batch: %v", domain.ErrStorage, err)
	}
	return nil
}

func lastByID(entries []domain.AuditEntry) []domain.AuditEntry {
	pos := make(map[string]int, len(entries))
	out := make([]domain.AuditEntry, 0, len(entries))
	for _, e := range entries {
		if i, ok := pos[e.ID]; ok {
			out[i] = e
			continue
		}
		pos[e.ID] = len(out)
		out = append(out, e)
	}
	return out
}
