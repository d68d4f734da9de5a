package http

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Sentinel-Gate/tapgate/internal/service"
)

// Metrics holds all Prometheus metrics for tapgate.
// Pass to components that need to record metrics.
type Metrics struct {
	MessagesTotal     *prometheus.CounterVec
	InterceptDuration *prometheus.HistogramVec
	InterceptorErrors *prometheus.CounterVec
	EngineConnections prometheus.Gauge
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
}

// Compile-time check that Metrics can observe the router.
var _ service.MessageObserver = (*Metrics)(nil)

// NewRegistry returns a registry carrying the Go runtime and process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		MessagesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tapgate",
				Name:      "messages_total",
				Help:      "Total number of intercepted messages decided by the engine",
			},
			[]string{"kind", "outcome"}, // kind=send/recv/close, outcome=unchanged/modified/notified
		),
		InterceptDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tapgate",
				Name:      "intercept_duration_seconds",
				Help:      "Time spent running a message through the interceptor chain",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		InterceptorErrors: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tapgate",
				Name:      "interceptor_errors_total",
				Help:      "Total interceptor failures",
			},
			[]string{"interceptor"},
		),
		EngineConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "tapgate",
				Name:      "engine_connections",
				Help:      "Number of connected instrumented processes",
			},
		),
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tapgate",
				Name:      "http_requests_total",
				Help:      "Total number of requests to the operations endpoint",
			},
			[]string{"method", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tapgate",
				Name:      "http_request_duration_seconds",
				Help:      "Operations endpoint request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
	}
}

// ObserveMessage records one decided message.
func (m *Metrics) ObserveMessage(kind, outcome string, elapsed time.Duration) {
	m.MessagesTotal.WithLabelValues(kind, outcome).Inc()
	m.InterceptDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// ObserveInterceptorError records one interceptor failure.
func (m *Metrics) ObserveInterceptorError(name string) {
	m.InterceptorErrors.WithLabelValues(name).Inc()
}
