package domain

import "time"

type HealthState string

const (
	HealthOK      HealthState = "ok"
	HealthWarning HealthState = "warning"
	HealthError   HealthState = "error"
)

type HealthCheck struct {
	Name    string      `json:"name"`
	State   HealthState `json:"status"`
	Message string      `json:"message"`
}

// HeartbeatRecord строка истории периодических проверок
type HeartbeatRecord struct {
	Timestamp       time.Time     `json:"timestamp"`
	Overall         HealthState   `json:"overall_status"`
	Checks          []HealthCheck `json:"checks"`
	OutcomesChecked int           `json:"outcomes_checked"`
	Summary         string        `json:"summary"`
	AuditID         string        `json:"audit_id,omitempty"`
}

// SystemStatus сводка для консоли и CLI
type SystemStatus struct {
	Audit            AuditStats       `json:"audit_today"`
	Budget           BudgetStatus     `json:"budget_today"`
	PendingApprovals int              `json:"pending_approvals"`
	PendingOutcomes  int              `json:"pending_outcomes"`
	LastHeartbeat    *HeartbeatRecord `json:"last_heartbeat"`
}
