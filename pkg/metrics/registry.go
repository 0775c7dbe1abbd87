// Package metrics defines observability interfaces for the restore driver,
// kept separate from any concrete backend so that core packages never import
// Prometheus directly. A backend registers itself via the
// Register*MetricsConstructor functions in this package's init().
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mu       sync.Mutex
	registry *prometheus.Registry
	enabled  bool
)

// InitRegistry creates the process-wide Prometheus registry and enables
// metrics collection. Must be called before any New*Metrics constructor if
// metrics are desired; otherwise all constructors return nil and every
// recording call in this package is a no-op.
func InitRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()

	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	enabled = true
	return registry
}

// GetRegistry returns the process-wide registry, creating it if necessary.
// Callers that only read (e.g. the /metrics HTTP handler) may call this
// without having called InitRegistry.
func GetRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()

	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled
}
