package orchestrator

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes Prometheus collectors for orchestrator activity. A nil
// *Metrics records nothing.
type Metrics struct {
	cacheLookups        *prometheus.CounterVec
	backendCalls        *prometheus.CounterVec
	signatureRejections prometheus.Counter
	pollTimeouts        prometheus.Counter
}

// MustNewMetrics registers the collectors with reg and panics on duplicate
// registration, like the promauto helpers.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "diffgrid",
				Subsystem: "orchestrator",
				Name:      "cache_lookups_total",
				Help:      "Result cache lookups by outcome.",
			},
			[]string{"result"},
		),
		backendCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "diffgrid",
				Subsystem: "orchestrator",
				Name:      "backend_calls_total",
				Help:      "Inference backend calls by operation and outcome.",
			},
			[]string{"op", "outcome"},
		),
		signatureRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "diffgrid",
			Subsystem: "orchestrator",
			Name:      "signature_rejections_total",
			Help:      "Submissions rejected for a signature mismatch.",
		}),
		pollTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "diffgrid",
			Subsystem: "orchestrator",
			Name:      "poll_timeouts_total",
			Help:      "Polls whose backend check timed out and were reported as still running.",
		}),
	}
	reg.MustRegister(m.cacheLookups, m.backendCalls, m.signatureRejections, m.pollTimeouts)
	return m
}

func (m *Metrics) cacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) backendCall(op, outcome string) {
	if m == nil {
		return
	}
	m.backendCalls.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) signatureRejected() {
	if m == nil {
		return
	}
	m.signatureRejections.Inc()
}

func (m *Metrics) pollTimedOut() {
	if m == nil {
		return
	}
	m.pollTimeouts.Inc()
}
