package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xela07ax/swarm-governor/internal/domain"
)

type CostService interface {
	TodayCosts(ctx context.Context) domain.BudgetStatus
	CostSummary(ctx context.Context, days int) domain.CostSummary
	AgentCosts(ctx context.Context, agentID string) domain.BudgetStatus
}

type CostHandler struct {
	service CostService
}

func NewCostHandler(s CostService) *CostHandler {
	return &CostHandler{service: s}
}

func (h *CostHandler) Today(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.TodayCosts(r.Context()))
}

// Summary GET /v1/costs/summary?days=7
func (h *CostHandler) Summary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.CostSummary(r.Context(), intParam(r, "days", 7)))
}

func (h *CostHandler) Agent(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.AgentCosts(r.Context(), chi.URLParam(r, "id")))
}
