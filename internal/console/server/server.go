package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xela07ax/swarm-governor/internal/console/handler"
	"github.com/xela07ax/swarm-governor/internal/console/service"
	"github.com/xela07ax/swarm-governor/internal/domain"
	"github.com/xela07ax/swarm-governor/internal/engine"
	"github.com/xela07ax/swarm-governor/internal/infra/auth"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger

	// Интерфейс для проверки токенов (RS256)
	// Реализуется через embedding BaseValidator в AuthService
	authValidator auth.TokenValidator

	// Обработчики бизнес-доменов
	authHandler     *handler.AuthHandler     // /auth/token
	pipelineHandler *handler.PipelineHandler // /v1/process, /v1/heartbeat, /v1/status
	auditHandler    *handler.AuditHandler    // /v1/audit
	costHandler     *handler.CostHandler     // /v1/costs
	approvalHandler *handler.ApprovalHandler // /v1/approvals (HITL)
	outcomeHandler  *handler.OutcomeHandler  // /v1/outcomes
}

// NewConsoleServer инициализирует HTTP-консоль со всеми зависимостями
func NewConsoleServer(logger *zap.Logger, authService *service.AuthService, gov *service.GovernorService) *ConsoleServer {
	s := &ConsoleServer{
		router:          chi.NewRouter(),
		logger:          logger.Named("console-api"),
		authValidator:   authService,
		authHandler:     handler.NewAuthHandler(authService),
		pipelineHandler: handler.NewPipelineHandler(gov),
		auditHandler:    handler.NewAuditHandler(gov),
		costHandler:     handler.NewCostHandler(gov),
		approvalHandler: handler.NewApprovalHandler(gov),
		outcomeHandler:  handler.NewOutcomeHandler(gov),
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(engine.TracingMiddleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ (Открыты для всех) ---
	r.Group(func(r chi.Router) {
		// Логин должен быть доступен без токена
		r.Post("/auth/token", s.authHandler.Login)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требуют RS256 токен) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		// Чтение отчётов
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireScope(domain.ScopeRead))

			r.Get("/v1/status", s.pipelineHandler.Status)

			r.Get("/v1/audit", s.auditHandler.GetLogs)
			r.Get("/v1/audit/stats", s.auditHandler.GetStats)
			r.Get("/v1/audit/pending-outcomes", s.auditHandler.PendingOutcomes)
			r.Get("/v1/audit/{id}", s.auditHandler.Get)

			r.Get("/v1/costs/today", s.costHandler.Today)
			r.Get("/v1/costs/summary", s.costHandler.Summary)
			r.Get("/v1/costs/agents/{id}", s.costHandler.Agent)

			r.Get("/v1/outcomes/report", s.outcomeHandler.Report)
			r.Get("/v1/outcomes/agents/{id}", s.outcomeHandler.Agent)

			r.Post("/v1/permissions/check", s.pipelineHandler.CheckPermission)

			r.Get("/v1/approvals", s.approvalHandler.List) // Очередь запросов на подпись
			r.Get("/v1/approvals/{id}", s.approvalHandler.GetDetails)
		})

		// Human-in-the-loop: решение по запросу
		r.With(auth.RequireScope(domain.ScopeApprove)).Post("/v1/approvals/{id}/decide", s.approvalHandler.Decide)

		// Запуск конвейера и проверок
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireScope(domain.ScopeOperate))

			r.Post("/v1/process", s.pipelineHandler.Process)
			r.Post("/v1/heartbeat", s.pipelineHandler.Heartbeat)
			r.Post("/v1/outcomes/check", s.outcomeHandler.Check)
			r.Post("/v1/audit/{id}/outcome", s.auditHandler.MarkOutcome)
		})
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
