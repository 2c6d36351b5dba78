package metrics

import "github.com/prometheus/client_golang/prometheus"

// GatewayMetrics exposes counters/histograms for upstream calls and booking flows.
type GatewayMetrics struct {
	upstreamTotal   *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	retriesTotal    *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	cancellations   *prometheus.CounterVec
}

func NewGatewayMetrics(reg prometheus.Registerer) *GatewayMetrics {
	m := &GatewayMetrics{
		upstreamTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oncare",
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Total patient API requests by outcome",
		}, []string{"path", "outcome"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "oncare",
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Latency of patient API requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path"}),
		retriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oncare",
			Subsystem: "upstream",
			Name:      "retries_total",
			Help:      "Retries scheduled after a transient upstream failure",
		}, []string{"operation"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oncare",
			Subsystem: "booking",
			Name:      "transitions_total",
			Help:      "Booking session transitions by operation and outcome",
		}, []string{"operation", "outcome"}),
		cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oncare",
			Subsystem: "booking",
			Name:      "cancellations_total",
			Help:      "Finished cancellation attempts by outcome",
		}, []string{"outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.upstreamTotal, m.upstreamLatency, m.retriesTotal, m.transitions, m.cancellations)
	return m
}

// ObserveUpstream implements patientapi.Observer.
func (m *GatewayMetrics) ObserveUpstream(path, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.upstreamTotal.WithLabelValues(path, outcome).Inc()
	m.upstreamLatency.WithLabelValues(path).Observe(seconds)
}

// ObserveRetry implements retry.Observer.
func (m *GatewayMetrics) ObserveRetry(operation string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(operation).Inc()
}

func (m *GatewayMetrics) ObserveTransition(operation, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(operation, outcome).Inc()
}

func (m *GatewayMetrics) ObserveCancellation(outcome string) {
	if m == nil {
		return
	}
	m.cancellations.WithLabelValues(outcome).Inc()
}
