// Package metrics exports Prometheus metrics for field stores.
//
// A Collector observes one or more stores through their change and persist
// channels:
//
//	collector := metrics.New(metrics.WithRegistry(reg))
//	stop := collector.Observe(store)
//	defer stop()
//
// Metrics collected (with the default namespace):
//   - fieldstore_commits_total: committed snapshots by store and operation
//   - fieldstore_field_changes_total: touched fields by store and field
//   - fieldstore_persists_total: successful persists by store
//   - fieldstore_submits_total: submissions by store and outcome
//   - fieldstore_fields: registered fields by store
//   - fieldstore_invalid_fields: fields carrying validation errors by store
//   - fieldstore_hydrating: 1 while a store waits for deferred values
package metrics

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	fieldstore "github.com/goliatone/go-fieldstore"
)

// Config configures a Collector.
type Config struct {
	// Namespace is the metrics namespace (default: "fieldstore").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are added to every metric.
	ConstLabels prometheus.Labels

	// Registry defaults to prometheus.DefaultRegisterer.
	Registry prometheus.Registerer
}

// Option configures a Collector.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "fieldstore",
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Submit outcomes.
const (
	OutcomePersisted = "persisted"
	OutcomeSearched  = "searched"
	OutcomeInvalid   = "invalid"
	OutcomeError     = "error"
)

// Collector holds the store metrics. It is safe for concurrent use.
type Collector struct {
	commits   *prometheus.CounterVec
	changes   *prometheus.CounterVec
	persists  *prometheus.CounterVec
	submits   *prometheus.CounterVec
	fields    *prometheus.GaugeVec
	invalid   *prometheus.GaugeVec
	hydrating *prometheus.GaugeVec

	mu       sync.Mutex
	observed map[string]int
	versions map[string]uint64
}

// New registers the metrics on the configured registry. Registering twice on
// the same registry panics, as with promauto.
func New(opts ...Option) *Collector {
	config := defaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&config)
		}
	}
	if config.Registry == nil {
		config.Registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(config.Registry)

	return &Collector{
		commits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "commits_total",
			Help:        "Total number of committed store snapshots",
			ConstLabels: config.ConstLabels,
		}, []string{"store", "operation"}),

		changes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "field_changes_total",
			Help:        "Total number of field changes carried by tagged commits",
			ConstLabels: config.ConstLabels,
		}, []string{"store", "field"}),

		persists: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "persists_total",
			Help:        "Total number of successful persists",
			ConstLabels: config.ConstLabels,
		}, []string{"store"}),

		submits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "submits_total",
			Help:        "Total number of search submissions by outcome",
			ConstLabels: config.ConstLabels,
		}, []string{"store", "outcome"}),

		fields: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "fields",
			Help:        "Number of registered fields",
			ConstLabels: config.ConstLabels,
		}, []string{"store"}),

		invalid: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "invalid_fields",
			Help:        "Number of fields carrying validation errors",
			ConstLabels: config.ConstLabels,
		}, []string{"store"}),

		hydrating: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "hydrating",
			Help:        "Whether the store waits for deferred values (1) or not (0)",
			ConstLabels: config.ConstLabels,
		}, []string{"store"}),

		observed: map[string]int{},
		versions: map[string]uint64{},
	}
}

// Observe records the current state of store and every later commit and
// persist. The returned function stops observing; once the last observation
// of a store stops, its gauges are removed.
func (c *Collector) Observe(store *fieldstore.Store) fieldstore.Unsubscribe {
	if store == nil {
		return func() {}
	}
	id := store.ID()
	c.mu.Lock()
	c.observed[id]++
	c.mu.Unlock()

	c.recordGauges(id, store.State())
	stopChanges := store.OnStateChange(func(state fieldstore.State) {
		c.RecordState(id, state)
	})
	stopPersists := store.OnFieldPersisted(func(*fieldstore.Collection) {
		c.persists.WithLabelValues(id).Inc()
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			stopChanges()
			stopPersists()
			c.forget(id)
		})
	}
}

// RecordState accounts one committed snapshot of the store identified by id.
func (c *Collector) RecordState(id string, state fieldstore.State) {
	c.commits.WithLabelValues(id, operationLabel(state.Operation)).Inc()
	if state.Operation != fieldstore.OpNone {
		for _, name := range state.Touched {
			c.changes.WithLabelValues(id, name).Inc()
		}
	}
	c.recordGauges(id, state)
}

// RecordSubmit accounts the outcome of a submission.
func (c *Collector) RecordSubmit(id string, result fieldstore.SubmitResult) {
	c.submits.WithLabelValues(id, SubmitOutcome(result)).Inc()
}

// SubmitOutcome classifies a submission result.
func SubmitOutcome(result fieldstore.SubmitResult) string {
	switch {
	case errors.Is(result.Err, fieldstore.ErrInvalidFields):
		return OutcomeInvalid
	case result.Err != nil:
		return OutcomeError
	case result.Persisted:
		return OutcomePersisted
	default:
		return OutcomeSearched
	}
}

// recordGauges sets the gauges from state unless a newer version of the same
// store was already recorded; broadcasts of concurrent commits may arrive out
// of order.
func (c *Collector) recordGauges(id string, state fieldstore.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if last, ok := c.versions[id]; ok && state.Version < last {
		return
	}
	c.versions[id] = state.Version
	c.fields.WithLabelValues(id).Set(float64(state.Collection.Len()))
	c.invalid.WithLabelValues(id).Set(float64(len(state.Collection.Errors())))
	hydrating := 0.0
	if state.IsHydrating {
		hydrating = 1
	}
	c.hydrating.WithLabelValues(id).Set(hydrating)
}

func (c *Collector) forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observed[id]--
	if c.observed[id] > 0 {
		return
	}
	delete(c.observed, id)
	delete(c.versions, id)
	c.fields.DeleteLabelValues(id)
	c.invalid.DeleteLabelValues(id)
	c.hydrating.DeleteLabelValues(id)
}

func operationLabel(op fieldstore.Operation) string {
	if op == fieldstore.OpNone {
		return "none"
	}
	return string(op)
}
