package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the process-wide HTTP and relay metrics.
type Metrics struct {
	EndpointLatency *prometheus.HistogramVec
	AuditRelayed    prometheus.Counter
	AuditRelayErrs  prometheus.Counter
}

// New creates and registers all platform metrics.
func New() *Metrics {
	return &Metrics{
		EndpointLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "baobab_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern, method and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
		AuditRelayed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "baobab_audit_records_relayed_total",
			Help: "Outbox records published to the audit topic",
		}),
		AuditRelayErrs: promauto.NewCounter(prometheus.CounterOpts{
			Name: "baobab_audit_relay_errors_total",
			Help: "Failed outbox relay passes",
		}),
	}
}

// ObserveEndpointLatency records one request.
func (m *Metrics) ObserveEndpointLatency(route, method, status string, start time.Time) {
	m.EndpointLatency.WithLabelValues(route, method, status).Observe(time.Since(start).Seconds())
}

func (m *Metrics) AddAuditRelayed(n int) {
	m.AuditRelayed.Add(float64(n))
}

func (m *Metrics) IncrementAuditRelayErrors() {
	m.AuditRelayErrs.Inc()
}
