// Package metrics exposes Prometheus metrics for the gateway. Collection is
// opt-in: when InitRegistry is never called, every constructor returns nil
// and the nil receivers make recording a no-op.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	mu       sync.Mutex
	registry *prometheus.Registry
	enabled  bool
)

// InitRegistry creates the metrics registry and enables collection. It is
// idempotent.
func InitRegistry() {
	mu.Lock()
	defer mu.Unlock()
	if registry != nil {
		return
	}
	registry = prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	enabled = true
}

// GetRegistry returns the metrics registry, or nil when disabled.
func GetRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	return registry
}

// IsEnabled reports whether metrics collection is enabled.
func IsEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled
}

// ResetForTesting drops the registry so tests can re-init cleanly.
func ResetForTesting() {
	mu.Lock()
	defer mu.Unlock()
	registry = nil
	enabled = false
}
