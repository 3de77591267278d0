package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xela07ax/swarm-governor/internal/domain"
)

type OutcomeService interface {
	EffectivenessReport(ctx context.Context, agentID string, days int) domain.EffectivenessReport
	AgentPerformance(ctx context.Context, agentID string, days int) domain.AgentPerformance
	CheckOutcomes(ctx context.Context) (int, error)
}

type OutcomeHandler struct {
	service OutcomeService
}

func NewOutcomeHandler(s OutcomeService) *OutcomeHandler {
	return &OutcomeHandler{service: s}
}

// Report GET /v1/outcomes/report?agent_id=...&days=30
func (h *OutcomeHandler) Report(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.EffectivenessReport(r.Context(), r.URL.Query().Get("agent_id"), intParam(r, "days", 30)))
}

func (h *OutcomeHandler) Agent(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.AgentPerformance(r.Context(), chi.URLParam(r, "id"), intParam(r, "days", 30)))
}

// Check POST /v1/outcomes/check: внеочередной проход по рабочему списку
func (h *OutcomeHandler) Check(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.CheckOutcomes(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": n})
}
