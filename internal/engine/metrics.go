package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: сколько времени занял проход конвейера (включая вызов модели)
	RequestDuration *prometheus.HistogramVec

	// Traffic: общее кол-во запросов
	TotalRequests *prometheus.CounterVec

	// Errors: классификация отказов
	ErrorTotal *prometheus.CounterVec

	// Решения правил автономии по уровням
	PermissionDecisions *prometheus.CounterVec

	// Расходы на модели, USD
	CostUSD *prometheus.CounterVec

	// Прогоны периодической проверки по итоговому статусу
	HeartbeatRuns *prometheus.CounterVec

	// Audit: заполненность буфера зеркала (backpressure)
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		RequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "governor_request_duration_seconds",
			Help:    "Histogram of pipeline latencies.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"agent_id", "status"}),

		TotalRequests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "governor_requests_total",
			Help: "Total number of processed inputs.",
		}, []string{"agent_id", "trigger"}),

		ErrorTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "governor_errors_total",
			Help: "Total number of failed pipeline runs by type.",
		}, []string{"type"}), // типы: external_call, storage, delegation_depth, internal

		PermissionDecisions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "governor_permission_decisions_total",
			Help: "Autonomy decisions by resolved level.",
		}, []string{"level"}),

		CostUSD: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "governor_model_cost_usd_total",
			Help: "Reasoning engine spend in USD by tier.",
		}, []string{"tier"}),

		HeartbeatRuns: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "governor_heartbeat_runs_total",
			Help: "Periodic check runs by overall status.",
		}, []string{"status"}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "governor_audit_mirror_buffer_utilization",
			Help: "Current number of entries in the audit mirror buffer.",
		}),
	}
}
