package domain

import "time"

// Статусы State Machine
type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "pending"
	StatusApproved ApprovalStatus = "approved"
	StatusRejected ApprovalStatus = "rejected"
)

// PendingApproval запрос на подпись принципала. Хранится в очереди до решения.
type PendingApproval struct {
	RequestID   string         `json:"request_id"`
	AuditID     string         `json:"audit_id"`
	AgentID     string         `json:"agent_id"`
	Action      string         `json:"action"`
	Context     map[string]any `json:"context"`
	RequestedAt time.Time      `json:"requested_at"`
	Status      ApprovalStatus `json:"status"`

	ResolvedBy      *string    `json:"resolved_by"`
	ResolvedAt      *time.Time `json:"resolved_at"`
	RejectionReason *string    `json:"rejection_reason"`
}

// CanTransitionTo проверяет правила конечного автомата
func (a *PendingApproval) CanTransitionTo(next ApprovalStatus) error {
	if a.Status != StatusPending {
		return ErrAlreadyProcessed
	}
	if next == StatusPending {
		return ErrInvalidTransition
	}
	return nil
}

// Resolve переводит запрос в терминальное состояние.
func (a *PendingApproval) Resolve(next ApprovalStatus, by string, reason *string, at time.Time) error {
	if err := a.CanTransitionTo(next); err != nil {
		return err
	}
	a.Status = next
	a.ResolvedBy = &by
	a.ResolvedAt = &at
	if next == StatusRejected {
		a.RejectionReason = reason
	}
	return nil
}

// AutonomyLevel сколько свободы у агента для конкретного действия
type AutonomyLevel string

const (
	LevelAutonomous       AutonomyLevel = "autonomous"
	LevelNotify           AutonomyLevel = "notify"
	LevelApprovalRequired AutonomyLevel = "approval_required"
)

func (l AutonomyLevel) Valid() bool {
	switch l {
	case LevelAutonomous, LevelNotify, LevelApprovalRequired:
		return true
	}
	return false
}

// PermissionResult решение движка автономии. Не сохраняется.
type PermissionResult struct {
	Allowed          bool          `json:"allowed"`
	Level            AutonomyLevel `json:"level"`
	Reason           string        `json:"reason"`
	ConditionsMet    []string      `json:"conditions_met"`
	ConditionsFailed []string      `json:"conditions_failed"`
	RequiresApprover string        `json:"requires_approval_from,omitempty"`
	NotifyVia        string        `json:"notify_via,omitempty"`
}
