package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/xela07ax/swarm-governor/internal/domain"
	"github.com/xela07ax/swarm-governor/internal/engine"
)

type PipelineService interface {
	Process(ctx context.Context, in engine.Input) engine.Response
	RunHeartbeat(ctx context.Context) engine.Response
	Status(ctx context.Context) (domain.SystemStatus, error)
	CheckPermission(ctx context.Context, agentID, category, actionType string, permCtx map[string]any) domain.PermissionResult
}

type PipelineHandler struct {
	service PipelineService
}

func NewPipelineHandler(s PipelineService) *PipelineHandler {
	return &PipelineHandler{service: s}
}

// Process POST /v1/process. Ответ 200 и при неуспехе конвейера: ошибка внутри тела.
func (h *PipelineHandler) Process(w http.ResponseWriter, r *http.Request) {
	var in engine.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Text == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}
	if in.Trigger == "" {
		in.Trigger = domain.TriggerWebhook
	}
	if !in.Trigger.Valid() {
		http.Error(w, "unknown trigger", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, h.service.Process(r.Context(), in))
}

func (h *PipelineHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	resp := h.service.RunHeartbeat(r.Context())
	status := http.StatusOK
	if resp.Error == domain.ErrHeartbeatRunning.Error() {
		status = http.StatusConflict
	}
	writeJSON(w, status, resp)
}

func (h *PipelineHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type PermissionRequest struct {
	AgentID  string         `json:"agent_id"`
	Category string         `json:"category"`
	Type     string         `json:"type"`
	Context  map[string]any `json:"context"`
}

// CheckPermission POST /v1/permissions/check: сухая проверка правил без исполнения
func (h *PipelineHandler) CheckPermission(w http.ResponseWriter, r *http.Request) {
	var req PermissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Category == "" || req.Type == "" {
		http.Error(w, "category and type are required", http.StatusBadRequest)
		return
	}
	if req.Context == nil {
		req.Context = map[string]any{}
	}
	writeJSON(w, http.StatusOK, h.service.CheckPermission(r.Context(), req.AgentID, req.Category, req.Type, req.Context))
}
