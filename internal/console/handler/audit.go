package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xela07ax/swarm-governor/internal/audit"
	"github.com/xela07ax/swarm-governor/internal/domain"
)

type AuditService interface {
	ListAudit(ctx context.Context, f audit.Filter) []domain.AuditEntry
	AuditStats(ctx context.Context, days int) domain.AuditStats
	PendingOutcomes(ctx context.Context) []domain.PendingRef
	GetEntry(ctx context.Context, id string) (domain.AuditEntry, error)
	MarkOutcome(ctx context.Context, id string, status domain.OutcomeStatus, value *float64, notes *string) error
}

type AuditHandler struct {
	service AuditService
}

func NewAuditHandler(s AuditService) *AuditHandler {
	return &AuditHandler{service: s}
}

// GetLogs возвращает записи журнала с фильтрацией
// GET /v1/audit?start=2026-01-01&end=2026-01-07&agent_id=...&trigger=...&action=...&outcome=...&limit=...
func (h *AuditHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.service.ListAudit(r.Context(), f))
}

func filterFromQuery(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	f := audit.Filter{
		AgentID: q.Get("agent_id"),
		Trigger: domain.TriggerKind(q.Get("trigger")),
		Action:  domain.ActionKind(q.Get("action")),
		Outcome: domain.OutcomeStatus(q.Get("outcome")),
		Limit:   intParam(r, "limit", 0),
	}
	for name, dst := range map[string]*time.Time{"start": &f.Start, "end": &f.End} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.ParseInLocation("2006-01-02", v, time.Local)
		if err != nil {
			return f, fmt.Errorf("%w: %s: %v", domain.ErrParse, name, err)
		}
		*dst = t
	}
	return f, nil
}

// GetStats GET /v1/audit/stats?days=7
func (h *AuditHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.AuditStats(r.Context(), intParam(r, "days", 7)))
}

func (h *AuditHandler) PendingOutcomes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.PendingOutcomes(r.Context()))
}

func (h *AuditHandler) Get(w http.ResponseWriter, r *http.Request) {
	e, err := h.service.GetEntry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

type OutcomeRequest struct {
	Status   domain.OutcomeStatus `json:"status"`
	ValueUSD *float64             `json:"value_usd"`
	Notes    *string              `json:"notes"`
}

// MarkOutcome POST /v1/audit/{id}/outcome
func (h *AuditHandler) MarkOutcome(w http.ResponseWriter, r *http.Request) {
	var req OutcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.service.MarkOutcome(r.Context(), chi.URLParam(r, "id"), req.Status, req.ValueUSD, req.Notes); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
