package metric

import (
	"sync"

	"github.com/emr-interpretation-server/internal/domain"
)

// Registry maps metric names to registered metric definitions. Registration
// happens once at process startup; reads are safe for concurrent use. The
// name cache is rebuilt copy-on-write under the mutex so readers never
// observe a partially-built cache.
type Registry struct {
	mu      sync.RWMutex
	metrics []Metric
	byName  map[string]Metric
}

// NewRegistry creates an empty metric registry.
func NewRegistry() *Registry {
	return &Registry{byName: map[string]Metric{}}
}

// Register adds a metric to the registry. Registering the same metric name
// twice is idempotent.
func (r *Registry) Register(m Metric) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[m.Name()]; exists {
		return
	}
	r.metrics = append(r.metrics, m)

	rebuilt := make(map[string]Metric, len(r.metrics))
	for _, registered := range r.metrics {
		rebuilt[registered.Name()] = registered
	}
	r.byName = rebuilt
}

// Get resolves a metric by name, returning *domain.MetricNotFoundError for
// unregistered names.
func (r *Registry) Get(name string) (Metric, error) {
	r.mu.RLock()
	m, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &domain.MetricNotFoundError{Metric: name}
	}
	return m, nil
}

// All returns the registered metrics in registration order.
func (r *Registry) All() []Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Metric, len(r.metrics))
	copy(out, r.metrics)
	return out
}

// defaultRegistry is the process-wide registry. Built-ins are registered
// from RegisterBuiltins during bootstrap; runtime mutation is not expected.
var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}

// RegisterBuiltins registers the built-in metrics on a registry. Called once
// during process initialization.
func RegisterBuiltins(r *Registry) {
	r.Register(&PatientAgeMetric{})
	r.Register(&PatientGenderMetric{})
	r.Register(&EncounterTagMetric{})
}
