// Package fieldstore keeps the typed, validated and URL-persisted fields of a
// search form.
//
// A Store owns a set of fields registered at runtime. Every mutation commits
// a new immutable State which is broadcast to subscribers. Values are read
// from and written to a persistence.Adapter through per-field serializers,
// which may resolve asynchronously; WhenReady defers work until every pending
// hydration has settled.
//
//	store, _ := fieldstore.New(fieldstore.PersistInURL("/orders?q=boots"))
//	_ = store.Register(ctx, fieldstore.String("q", fieldstore.Submittable()))
//	_ = store.Set("q", "sandals")
//	_ = store.Persist(ctx)
//
// Validation rules run while the store lock is held. They read sibling fields
// through the Registry they are handed and must never call back into the
// Store.
package fieldstore

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/goliatone/go-fieldstore/persistence"
	"github.com/goliatone/go-fieldstore/pkg/activity"
	"go.opentelemetry.io/otel/attribute"
)

// Unsubscribe removes a listener. Calling it more than once is harmless.
type Unsubscribe = persistence.Unsubscribe

// Store is the field store facade. It is safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	cfg       storeConfig
	repo      *repository
	monitor   *TaskMonitor
	manager   *persistenceManager
	adapter   persistence.Adapter
	logger    *slog.Logger
	emitter   *activity.Emitter
	whitelist []string
	state     State
	version   uint64
	bus       eventBus
}

// New builds a store and reads the adapter once. A failing initial read is
// logged and treated as an empty dictionary.
func New(opts ...Option) (*Store, error) {
	cfg := applyOptions(opts)
	if cfg.err != nil {
		return nil, fmt.Errorf("fieldstore: configure store: %w", cfg.err)
	}

	s := &Store{
		cfg:     cfg,
		repo:    newRepository(cfg.validator, cfg.clock),
		monitor: cfg.monitor,
		adapter: cfg.adapter,
		logger:  cfg.logger.With(slog.String("store", cfg.id)),
		emitter: activity.NewEmitter(cfg.activityHooks, cfg.activityConfig),
	}
	s.manager = &persistenceManager{
		mu:      &s.mu,
		repo:    s.repo,
		monitor: s.monitor,
		adapter: s.adapter,
		logger:  s.logger,
	}

	dictionary, err := s.manager.read()
	if err != nil {
		s.logger.Warn("fieldstore: initial read failed", slog.Any("error", err))
		dictionary = persistence.Dictionary{}
	}
	s.manager.dictionary = dictionary

	s.mu.Lock()
	s.commitLocked(OpNone, nil)
	s.mu.Unlock()
	return s, nil
}

// MustNew is New for static setups; it panics on configuration errors.
func MustNew(opts ...Option) *Store {
	s, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return s
}

// ID returns the store identifier used in logs, spans and activity events.
func (s *Store) ID() string {
	return s.cfg.id
}

// Register adds a field. The value is resolved from the adapter, falling back
// to the default. A "register" state is broadcast at once; when the persisted
// value resolves asynchronously the field stays hydrating until it settles
// and a later "hydrate" state carries the result.
func (s *Store) Register(ctx context.Context, def Definition) (err error) {
	ctx, span := s.startSpan(ctx, spanRegister, attribute.String("fieldstore.field", def.Name))
	defer func() { endSpan(span, err) }()

	def, err = s.prepare(def)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.repo.Exists(def.Name) {
		err := &DuplicateFieldError{Name: def.Name, Registered: s.repo.names(), formatter: s.cfg.formatter}
		s.mu.Unlock()
		return err
	}
	parsed := s.manager.resolveLocked(def, def.Default)
	value := parsed.Value
	if parsed.Deferred {
		value = def.Default
	}
	if err := s.repo.create(Field{Definition: def, Value: value}, s.cfg.formatter); err != nil {
		s.mu.Unlock()
		return err
	}
	if !slices.Contains(s.whitelist, def.Name) {
		s.whitelist = append(s.whitelist, def.Name)
	}
	var token uint64
	if parsed.Deferred {
		token = s.manager.captureLocked(def.Name)
	}
	state := s.commitLocked(OpRegister, []string{def.Name})
	s.mu.Unlock()

	s.broadcast(ctx, state)

	if parsed.Deferred {
		span.SetAttributes(attribute.Bool("fieldstore.deferred", true))
		s.manager.process(ctx, def, token, parsed.Pending, func(resp HydrationResponse) func() {
			op := OpNone
			if len(resp.Touched) > 0 {
				op = OpHydrate
			}
			state := s.commitLocked(op, resp.Touched)
			return func() { s.broadcast(ctx, state) }
		})
	}
	return nil
}

// prepare checks a definition and fills in its serializer and normalized
// default.
func (s *Store) prepare(def Definition) (Definition, error) {
	def.Name = strings.TrimSpace(def.Name)
	if def.Name == "" {
		return def, fmt.Errorf("fieldstore: field name is required")
	}
	if !def.Type.Valid() {
		return def, fmt.Errorf("fieldstore: field %q has unsupported type %q", def.Name, def.Type)
	}
	if def.Serializer == nil {
		serializer, err := DefaultSerializer(def.Type)
		if err != nil {
			return def, fmt.Errorf("fieldstore: register %q: %w", def.Name, err)
		}
		def.Serializer = serializer
	}
	normalized, ok := normalize(def.Type, def.Default)
	if !ok {
		return def, &TypeMismatchError{Name: def.Name, Type: def.Type, Value: def.Default, formatter: s.cfg.formatter}
	}
	def.Default = normalized
	return def, nil
}

// Unregister removes a field. Unknown names are ignored. A field removed while
// hydrating releases its barrier capture and its late value is dropped. The
// name stays in the persistence whitelist.
func (s *Store) Unregister(name string) bool {
	s.mu.Lock()
	field, ok := s.repo.delete(name)
	if !ok {
		s.mu.Unlock()
		return false
	}
	state := s.commitLocked(OpUnregister, []string{name})
	s.mu.Unlock()

	s.broadcast(context.Background(), state)
	if field.hydration != 0 {
		s.monitor.Release()
	}
	return true
}

// Set writes value when it differs from the current one.
func (s *Store) Set(name string, value any) error {
	return s.write(OpSet, name, value)
}

// Flush is Set tagged as "flush", used for writes that should submit at once.
func (s *Store) Flush(name string, value any) error {
	return s.write(OpFlush, name, value)
}

func (s *Store) write(op Operation, name string, value any) error {
	s.mu.Lock()
	field, ok := s.repo.Get(name)
	if !ok {
		s.mu.Unlock()
		return &FieldNotFoundError{Name: name, Operation: op, formatter: s.cfg.formatter}
	}
	normalized, ok := normalize(field.Type, value)
	if !ok {
		s.mu.Unlock()
		return &TypeMismatchError{Name: name, Type: field.Type, Value: value, formatter: s.cfg.formatter}
	}
	if !s.repo.set(name, normalized) {
		s.mu.Unlock()
		return nil
	}
	state := s.commitLocked(op, []string{name})
	s.mu.Unlock()

	s.broadcast(context.Background(), state)
	return nil
}

// Update patches field metadata and broadcasts "update".
func (s *Store) Update(name string, meta Meta) error {
	s.mu.Lock()
	changed, err := s.repo.update(name, meta, s.cfg.formatter)
	if err != nil || !changed {
		s.mu.Unlock()
		return err
	}
	state := s.commitLocked(OpUpdate, []string{name})
	s.mu.Unlock()

	s.broadcast(context.Background(), state)
	return nil
}

// Revalidate reruns the rules of names, or of every field, and commits only
// when some error state changed. It is the way to refresh cross-field rules
// after a sibling changed.
func (s *Store) Revalidate(names ...string) bool {
	s.mu.Lock()
	if !s.repo.revalidate(names...) {
		s.mu.Unlock()
		return false
	}
	state := s.commitLocked(OpNone, nil)
	s.mu.Unlock()

	s.broadcast(context.Background(), state)
	return true
}

// Reset restores every field to values[name], or to its default when absent
// or nil. It returns the touched names; nil means nothing changed and nothing
// was broadcast. Values for unknown names are ignored.
func (s *Store) Reset(values map[string]any) ([]string, error) {
	s.mu.Lock()
	normalized := make(map[string]any, len(values))
	for name, value := range values {
		field, ok := s.repo.Get(name)
		if !ok {
			continue
		}
		v, ok := normalize(field.Type, value)
		if !ok {
			s.mu.Unlock()
			return nil, &TypeMismatchError{Name: name, Type: field.Type, Value: value, formatter: s.cfg.formatter}
		}
		normalized[name] = v
	}
	touched := s.repo.bulk(normalized)
	if len(touched) == 0 {
		s.mu.Unlock()
		return nil, nil
	}
	state := s.commitLocked(OpReset, touched)
	s.mu.Unlock()

	s.broadcast(context.Background(), state)
	return slices.Clone(touched), nil
}

// Clean drops every field and the whitelist and commits the empty state.
func (s *Store) Clean() {
	s.mu.Lock()
	hydrating := s.repo.clear()
	s.whitelist = nil
	state := s.commitLocked(OpNone, nil)
	s.mu.Unlock()

	s.broadcast(context.Background(), state)
	for range hydrating {
		s.monitor.Release()
	}
}

// Persist writes the active values through the adapter. Only keys of fields
// this store ever registered are overwritten. Persist listeners then receive
// the collection that was written.
func (s *Store) Persist(ctx context.Context) (err error) {
	ctx, span := s.startSpan(ctx, spanPersist)
	defer func() { endSpan(span, err) }()

	s.mu.Lock()
	collection := s.state.Collection
	version := s.version
	whitelist := append([]string{}, s.whitelist...)
	s.mu.Unlock()

	values := collection.Primitives()
	span.SetAttributes(attribute.Int("fieldstore.values", len(values)))
	if err := s.adapter.Write(values, whitelist); err != nil {
		return fmt.Errorf("fieldstore: persist: %w", err)
	}
	s.logger.Debug("fieldstore: persisted", slog.Int("values", len(values)), slog.Any("whitelist", whitelist))

	s.bus.persists.notify(collection)
	if s.emitter.Enabled() {
		event := activity.BuildPersistedEvent(activity.StoreEventInput{
			Values:     primitiveValues(values),
			Store:      s.storeContext(version),
			OccurredAt: s.cfg.clock(),
		})
		if err := s.emitter.Emit(ctx, event); err != nil {
			s.logger.Warn("fieldstore: activity hook failed", slog.String("verb", event.Verb), slog.Any("error", err))
		}
	}
	return nil
}

// Rehydrate re-reads the adapter and resolves every field again. A bare
// commit marks the start of asynchronous work and "rehydrate" carries the
// touched names once everything settled. It returns after all values settle.
func (s *Store) Rehydrate(ctx context.Context) (err error) {
	ctx, span := s.startSpan(ctx, spanRehydrate)
	defer func() { endSpan(span, err) }()

	processing := false
	for resp, err := range s.manager.rehydrate(ctx) {
		if err != nil {
			return fmt.Errorf("fieldstore: rehydrate: %w", err)
		}
		switch resp.Status {
		case HydrationProcessing:
			processing = true
			s.commit(ctx, OpNone, nil)
		case HydrationCompleted:
			span.SetAttributes(attribute.StringSlice("fieldstore.touched", resp.Touched))
			s.commit(ctx, OpRehydrate, resp.Touched)
		case HydrationUnchanged:
			if processing {
				s.commit(ctx, OpNone, nil)
			}
		}
	}
	return nil
}

// Subscribe registers a change listener without payload.
func (s *Store) Subscribe(listener func()) Unsubscribe {
	if listener == nil {
		return func() {}
	}
	return s.bus.subscribers.add(func(struct{}) { listener() })
}

// OnStateChange registers a listener receiving every committed State.
// Listeners run outside the store lock and may call back into the store.
func (s *Store) OnStateChange(listener func(State)) Unsubscribe {
	return s.bus.changes.add(listener)
}

// OnFieldPersisted registers a listener called after every successful Persist.
func (s *Store) OnFieldPersisted(listener func(*Collection)) Unsubscribe {
	return s.bus.persists.add(listener)
}

// OnPersistenceChange rehydrates whenever the adapter reports an external
// change, such as history navigation, then hands listener the new state.
func (s *Store) OnPersistenceChange(listener func(State)) Unsubscribe {
	return s.adapter.Subscribe(func() {
		if err := s.Rehydrate(context.Background()); err != nil {
			s.logger.Warn("fieldstore: rehydrate after persistence change failed", slog.Any("error", err))
			return
		}
		if listener != nil {
			listener(s.State())
		}
	})
}

// Listen returns a selector reading the current value of name.
func (s *Store) Listen(name string) func() (Field, bool) {
	return func() (Field, bool) {
		return s.Get(name)
	}
}

// WhenReady runs task once no hydration is pending. Tasks queued under the same
// key replace each other.
func (s *Store) WhenReady(key string, task func()) {
	s.monitor.WhenReady(key, task)
}

// State returns the last committed snapshot.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Collection returns the fields of the last committed snapshot.
func (s *Store) Collection() *Collection {
	return s.State().Collection
}

func (s *Store) Get(name string) (Field, bool) {
	return s.Collection().Get(name)
}

func (s *Store) Exists(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.Exists(name)
}

// IsHydrating reports whether any field is still waiting for its value.
func (s *Store) IsHydrating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.isHydrating()
}

// HasErrors reports whether any of names, or any field when names is empty,
// carries validation errors.
func (s *Store) HasErrors(names ...string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.errors.has(names...)
}

// Whitelist returns the names this store may overwrite when persisting.
func (s *Store) Whitelist() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.whitelist)
}

// RemoveChip flushes the field of chip without the chip value: the item is
// dropped from array fields and scalar fields are cleared.
func (s *Store) RemoveChip(chip Chip) error {
	value, ok := s.Collection().without(chip)
	if !ok {
		return &FieldNotFoundError{Name: chip.Field, Operation: "remove chip", formatter: s.cfg.formatter}
	}
	return s.Flush(chip.Field, value)
}

func (s *Store) commit(ctx context.Context, op Operation, touched []string) {
	s.mu.Lock()
	state := s.commitLocked(op, touched)
	s.mu.Unlock()
	s.broadcast(ctx, state)
}

// commitLocked snapshots the repository into a new State.
func (s *Store) commitLocked(op Operation, touched []string) State {
	s.version++
	fields, order := s.repo.snapshot()
	s.state = State{
		Collection:  newCollection(fields, order),
		Operation:   op,
		Touched:     slices.Clone(touched),
		IsHydrating: s.repo.isHydrating(),
		Version:     s.version,
	}
	return s.state
}

// broadcast notifies listeners and activity hooks of state. Broadcasts of
// concurrent commits may interleave; Version orders them.
func (s *Store) broadcast(ctx context.Context, state State) {
	s.logger.Debug("fieldstore: commit",
		slog.String("operation", string(state.Operation)),
		slog.Any("touched", state.Touched),
		slog.Uint64("version", state.Version),
		slog.Bool("hydrating", state.IsHydrating),
	)
	s.bus.subscribers.notify(struct{}{})
	s.bus.changes.notify(state)

	if !s.emitter.Enabled() {
		return
	}
	values := make(map[string]any, len(state.Touched))
	for _, name := range state.Touched {
		if field, ok := state.Collection.Get(name); ok {
			values[name] = field.Value
		}
	}
	event := activity.BuildStateChangedEvent(activity.StoreEventInput{
		Operation:  string(state.Operation),
		Touched:    state.Touched,
		Values:     values,
		Store:      s.storeContext(state.Version),
		OccurredAt: s.cfg.clock(),
	})
	if err := s.emitter.Emit(ctx, event); err != nil {
		s.logger.Warn("fieldstore: activity hook failed", slog.String("verb", event.Verb), slog.Any("error", err))
	}
}

func (s *Store) storeContext(version uint64) activity.StoreContext {
	return activity.StoreContext{ID: s.cfg.id, Label: s.cfg.label, Version: version}
}

// primitiveValues flattens a dictionary into strings and string slices.
func primitiveValues(dictionary persistence.Dictionary) map[string]any {
	out := make(map[string]any, len(dictionary))
	for name, value := range dictionary {
		if value.List {
			out[name] = value.Strings()
			continue
		}
		out[name] = value.String()
	}
	return out
}
