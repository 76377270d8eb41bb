package action

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the runner's Prometheus collectors. They are registered on an
// explicit Registerer so tests and embedders control the registry.
type Metrics struct {
	// actions counts finished Actions by kind and result (committed|aborted)
	actions *prometheus.CounterVec

	// duration tracks Action latency from begin to commit or abort
	duration *prometheus.HistogramVec

	// conflicts counts refused undos by reason
	conflicts *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		actions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "actiongraph_actions_total",
			Help: "Total Actions by kind and result",
		}, []string{"kind", "result"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "actiongraph_action_duration_seconds",
			Help:    "Action duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		}, []string{"kind"}),
		conflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "actiongraph_undo_conflicts_total",
			Help: "Total refused undos by conflict reason",
		}, []string{"reason"}),
	}
}

func (m *Metrics) observe(kind string, committed bool, seconds float64, err error) {
	if m == nil {
		return
	}
	result := "committed"
	if !committed {
		result = "aborted"
	}
	m.actions.WithLabelValues(kind, result).Inc()
	m.duration.WithLabelValues(kind).Observe(seconds)
	if reason, ok := conflictReason(err); ok {
		m.conflicts.WithLabelValues(reason).Inc()
	}
}
