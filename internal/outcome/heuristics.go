package outcome

import (
	"context"
	"errors"

	"github.com/xela07ax/swarm-governor/internal/domain"
)

// Heuristic подключаемая стратегия, выясняющая судьбу прошлого действия
type Heuristic interface {
	Name() string
	AppliesTo(kind domain.ActionKind) bool
	// Detect nil без ошибки означает "пока неизвестно"
	Detect(ctx context.Context, ref domain.PendingRef) (*domain.DetectedOutcome, error)
}

// ApprovalLookup источник решений по запросам на подпись
type ApprovalLookup interface {
	FindByAuditID(auditID string) (domain.PendingApproval, error)
}

// ReplyLookup внешний коллаборатор, знающий об ответах на уведомления и письма
type ReplyLookup interface {
	LookupReply(ctx context.Context, ref domain.PendingRef) (*domain.DetectedOutcome, error)
}

// ApprovalResponse исход запроса на подпись по состоянию очереди
type ApprovalResponse struct {
	Approvals ApprovalLookup
}

func (ApprovalResponse) Name() string { return "approval_response" }

func (ApprovalResponse) AppliesTo(kind domain.ActionKind) bool {
	return kind == domain.ActionApprovalRequest
}

func (h ApprovalResponse) Detect(_ context.Context, ref domain.PendingRef) (*domain.DetectedOutcome, error) {
	a, err := h.Approvals.FindByAuditID(ref.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	switch a.Status {
	case domain.StatusApproved:
		return &domain.DetectedOutcome{Status: domain.OutcomeActedOn, Notes: "Approval granted"}, nil
	case domain.StatusRejected:
		reason := ""
		if a.RejectionReason != nil {
			reason = *a.RejectionReason
		}
		return &domain.DetectedOutcome{Status: domain.OutcomeRejected, Notes: "Approval denied: " + reason}, nil
	}
	return nil, nil
}

// ReplyResponse ответ принципала на уведомление (alert) или адресата на письмо (email)
type ReplyResponse struct {
	Kind    domain.ActionKind
	Replies ReplyLookup
}

func AlertResponse(replies ReplyLookup) ReplyResponse {
	return ReplyResponse{Kind: domain.ActionAlert, Replies: replies}
}

func EmailResponse(replies ReplyLookup) ReplyResponse {
	return ReplyResponse{Kind: domain.ActionEmail, Replies: replies}
}

func (h ReplyResponse) Name() string { return string(h.Kind) + "_response" }

func (h ReplyResponse) AppliesTo(kind domain.ActionKind) bool { return kind == h.Kind }

func (h ReplyResponse) Detect(ctx context.Context, ref domain.PendingRef) (*domain.DetectedOutcome, error) {
	if h.Replies == nil {
		return nil, nil
	}
	return h.Replies.LookupReply(ctx, ref)
}
