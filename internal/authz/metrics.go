package authz

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for permission gate decisions.
type Metrics struct {
	decisionsTotal *prometheus.CounterVec
	registry       *prometheus.Registry
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "keygate"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authz",
			Name:      "decisions_total",
			Help:      "Total number of permission gate decisions",
		},
		[]string{"capability", "outcome"},
	)

	m.registry.MustRegister(m.decisionsTotal)

	return m
}

// RecordDecision records a gate decision.
func (m *Metrics) RecordDecision(capability, outcome string) {
	m.decisionsTotal.WithLabelValues(capability, outcome).Inc()
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// MustRegister registers the metrics with the given registry,
// tolerating duplicate registration on configuration reload.
func (m *Metrics) MustRegister(registry *prometheus.Registry) {
	if err := registry.Register(m.decisionsTotal); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			panic(err)
		}
	}
}
