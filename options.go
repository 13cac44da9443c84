package fieldstore

import (
	"io"
	"log/slog"
	"time"

	"github.com/goliatone/go-fieldstore/persistence"
	"github.com/goliatone/go-fieldstore/pkg/activity"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/goliatone/go-fieldstore"

// Option configures a Store.
type Option func(*storeConfig)

type storeConfig struct {
	adapter        persistence.Adapter
	validator      Validator
	failFast       bool
	logger         *slog.Logger
	tracer         trace.Tracer
	activityHooks  activity.Hooks
	activityConfig activity.Config
	activitySet    bool
	formatter      Formatter
	clock          func() time.Time
	id             string
	label          string
	monitor        *TaskMonitor
	err            error
}

func applyOptions(opts []Option) storeConfig {
	cfg := storeConfig{failFast: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.adapter == nil {
		cfg.adapter = persistence.NopAdapter{}
	}
	if cfg.validator == nil {
		cfg.validator = NewValidator(cfg.failFast)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.tracer == nil {
		cfg.tracer = otel.Tracer(instrumentationName)
	}
	if cfg.formatter == nil {
		cfg.formatter = DefaultFormatter()
	}
	if cfg.clock == nil {
		cfg.clock = time.Now
	}
	if cfg.id == "" {
		cfg.id = uuid.NewString()
	}
	if cfg.monitor == nil {
		cfg.monitor = NewTaskMonitor()
	}
	if !cfg.activitySet {
		cfg.activityConfig = activity.Config{Enabled: len(cfg.activityHooks) > 0}
	}
	return cfg
}

// WithAdapter sets the persistence adapter. Stores default to a NopAdapter.
func WithAdapter(adapter persistence.Adapter) Option {
	return func(cfg *storeConfig) {
		cfg.adapter = adapter
	}
}

// PersistInURL persists values in the query string of location.
func PersistInURL(location string, opts ...persistence.URLOption) Option {
	return func(cfg *storeConfig) {
		adapter, err := persistence.NewURLAdapter(location, opts...)
		if err != nil {
			cfg.err = err
			return
		}
		cfg.adapter = adapter
	}
}

// WithValidator replaces the rule validator.
func WithValidator(validator Validator) Option {
	return func(cfg *storeConfig) {
		cfg.validator = validator
	}
}

// WithFailFast selects the composition mode of the default validator. It is
// ignored when WithValidator is used.
func WithFailFast(failFast bool) Option {
	return func(cfg *storeConfig) {
		cfg.failFast = failFast
	}
}

// WithLogger sets the structured logger. Logs are discarded by default.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *storeConfig) {
		cfg.logger = logger
	}
}

// WithTracer sets the tracer used for register, persist and rehydrate spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(cfg *storeConfig) {
		cfg.tracer = tracer
	}
}

// WithActivityHooks fans every commit and persist out to hooks. Nil hooks are
// dropped and the slice is cloned.
func WithActivityHooks(hooks activity.Hooks) Option {
	normalized := activity.CloneHooks(hooks)
	return func(cfg *storeConfig) {
		cfg.activityHooks = normalized
	}
}

// WithActivityConfig overrides the emission defaults. Without it emission is
// enabled whenever hooks are configured.
func WithActivityConfig(config activity.Config) Option {
	return func(cfg *storeConfig) {
		cfg.activityConfig = config
		cfg.activitySet = true
	}
}

// WithErrorFormatter renders programmer errors.
func WithErrorFormatter(formatter Formatter) Option {
	return func(cfg *storeConfig) {
		cfg.formatter = formatter
	}
}

// WithClock replaces time.Now for UpdatedAt stamps.
func WithClock(clock func() time.Time) Option {
	return func(cfg *storeConfig) {
		cfg.clock = clock
	}
}

// WithID names the store. A random UUID is used by default.
func WithID(id string) Option {
	return func(cfg *storeConfig) {
		cfg.id = id
	}
}

// WithLabel attaches a human readable label used in activity events.
func WithLabel(label string) Option {
	return func(cfg *storeConfig) {
		cfg.label = label
	}
}

// WithTaskMonitor shares a hydration barrier between stores.
func WithTaskMonitor(monitor *TaskMonitor) Option {
	return func(cfg *storeConfig) {
		cfg.monitor = monitor
	}
}
