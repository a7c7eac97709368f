// Package metrics provides Prometheus metrics for the MindLab play service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Option configures a Manager.
type Option func(*Manager)

// WithNamespace prefixes every metric name. Blank keeps "mindlab".
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithMetricsEnabled controls whether collectors land on the exposed
// registry.
func WithMetricsEnabled(enabled bool) Option {
	return func(m *Manager) {
		m.enabled = enabled
	}
}

// WithRefreshInterval sets how often the gauge updaters sample.
func WithRefreshInterval(interval time.Duration) Option {
	return func(m *Manager) {
		if interval > 0 {
			m.refreshInterval = interval
		}
	}
}

// WithServiceLabel attaches a constant service label to every metric so
// replicas of different deployments can share a Prometheus.
func WithServiceLabel(service string) Option {
	return func(m *Manager) {
		if service != "" {
			m.customLabels = map[string]string{"service": service}
		}
	}
}

// WithPrometheusRegistry registers collectors on registry instead of the
// default one.
func WithPrometheusRegistry(registry prometheus.Registerer) Option {
	return func(m *Manager) {
		if registry != nil {
			m.registry = registry
		}
	}
}

// Configure replaces the process-wide manager. Call it once at startup,
// before any handler captures GetRegistry.
func Configure(opts ...Option) {
	customRegistry = prometheus.NewRegistry()
	globalManager = NewManager(append(opts, WithPrometheusRegistry(customRegistry))...)
}
