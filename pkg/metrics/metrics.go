package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeOK         = "ok"
	OutcomeBadRequest = "bad_request"
	OutcomeNotFound   = "not_found"
	OutcomeInternal   = "internal"

	DirectionCommit  = "commit"
	DirectionRelease = "release"
)

// Reservation collects lifecycle-manager metrics on a private registry.
type Reservation struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	units      *prometheus.CounterVec
}

func NewReservation(namespace string) *Reservation {
	m := &Reservation{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reservation",
			Name:      "operations_total",
			Help:      "Lifecycle operations segmented by operation and outcome.",
		}, []string{"operation", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reservation",
			Name:      "operation_duration_seconds",
			Help:      "Latency of lifecycle operations including the store transaction.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "units_total",
			Help:      "Resource units committed to or released from reservations.",
		}, []string{"direction"}),
	}
	m.registry.MustRegister(
		m.operations,
		m.latency,
		m.units,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Reservation) Observe(operation, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

func (m *Reservation) Units(direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.units.WithLabelValues(direction).Add(float64(n))
}

func (m *Reservation) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
