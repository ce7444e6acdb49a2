package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: время обработки запроса ретранслятором (включая внешний API)
	RequestDuration *prometheus.HistogramVec

	// Traffic: общее кол-во запросов
	TotalRequests *prometheus.CounterVec

	// Errors: классификация отказов
	ErrorTotal *prometheus.CounterVec

	// Saturation: предохранитель внешнего API (0 - ок, 1 - выбило)
	CircuitBreakerState prometheus.Gauge

	// Journal: заполненность буфера (backpressure)
	JournalBufferFill prometheus.Gauge

	// Audit: исходы записи в audit_log
	AuditWrites *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	// Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		RequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rvs_relay_request_duration_seconds",
			Help:    "Histogram of relay request latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"route", "status"}),

		TotalRequests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "rvs_relay_requests_total",
			Help: "Total number of relay requests.",
		}, []string{"route"}),

		ErrorTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "rvs_relay_errors_total",
			Help: "Total number of relay errors by type.",
		}, []string{"type"}), // типы: auth, timeout, unavailable, storage, bad_request

		CircuitBreakerState: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "rvs_everify_circuit_breaker_state",
			Help: "Current state of the upstream circuit breaker (0=closed, 1=open).",
		}),

		JournalBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "rvs_relay_journal_buffer_utilization",
			Help: "Current number of entries in relay journal buffer.",
		}),

		AuditWrites: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "rvs_audit_writes_total",
			Help: "Audit log write outcomes.",
		}, []string{"outcome"}), // ok, rejected, failed
	}
}
