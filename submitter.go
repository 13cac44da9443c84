package fieldstore

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
)

// ReadyKey is the WhenReady key under which submissions are queued, so that
// repeated dispatches during hydration collapse into one.
const ReadyKey = "search-form"

// ErrInvalidFields is reported when a submission is refused because some field
// carries validation errors.
var ErrInvalidFields = errors.New("fieldstore: fields have validation errors")

// SearchFunc runs a search for the submitted fields. Returning false keeps the
// values out of the persistence adapter.
type SearchFunc func(ctx context.Context, fields *Collection) (bool, error)

// SubmitResult reports the outcome of one dispatch.
type SubmitResult struct {
	Searched  bool
	Persisted bool
	Err       error
}

// SubmitterOption configures a Submitter.
type SubmitterOption func(*Submitter)

// WithSubmitOnChange submits after every tagged commit instead of only after
// forced operations and changes to submittable fields.
func WithSubmitOnChange(enabled bool) SubmitterOption {
	return func(s *Submitter) {
		s.submitOnChange = enabled
	}
}

// WithChangeHandler is called with the collection of every tagged commit seen
// by Bind, before the auto-submit decision.
func WithChangeHandler(handler func(*Collection)) SubmitterOption {
	return func(s *Submitter) {
		s.onChange = handler
	}
}

// WithSubmitLogger sets the logger for search and persist failures.
func WithSubmitLogger(logger *slog.Logger) SubmitterOption {
	return func(s *Submitter) {
		s.logger = logger
	}
}

// Submitter drives searches from a store: it waits for hydration, refuses
// invalid forms and persists what was searched.
type Submitter struct {
	store          *Store
	search         SearchFunc
	submitOnChange bool
	onChange       func(*Collection)
	logger         *slog.Logger

	mu      sync.Mutex
	unbind  Unsubscribe
	waiting []chan SubmitResult
}

var forcedOperations = []Operation{OpReset, OpFlush}

// NewSubmitter builds a submitter for store. A nil search only persists.
func NewSubmitter(store *Store, search SearchFunc, opts ...SubmitterOption) (*Submitter, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	s := &Submitter{store: store, search: search, logger: store.logger}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Dispatch submits once the store is ready. Dispatches queued while the
// store hydrates collapse into one submission using the last persist flag.
// The returned channel receives exactly one result and is then closed.
func (s *Submitter) Dispatch(ctx context.Context, persist bool) <-chan SubmitResult {
	done := make(chan SubmitResult, 1)
	s.mu.Lock()
	s.waiting = append(s.waiting, done)
	s.mu.Unlock()

	s.store.WhenReady(ReadyKey, func() {
		// Only dispatches queued before the search starts share its result.
		s.mu.Lock()
		waiting := s.waiting
		s.waiting = nil
		s.mu.Unlock()
		if len(waiting) == 0 {
			return
		}
		result := s.submit(ctx, persist)
		for _, ch := range waiting {
			ch <- result
			close(ch)
		}
	})
	return done
}

func (s *Submitter) submit(ctx context.Context, persist bool) SubmitResult {
	if s.store.HasErrors() {
		return SubmitResult{Err: ErrInvalidFields}
	}
	result := SubmitResult{Searched: true}
	proceed := true
	if s.search != nil {
		var err error
		proceed, err = s.search(ctx, s.store.Collection())
		if err != nil {
			s.logger.Warn("fieldstore: search failed", slog.Any("error", err))
			result.Err = err
			return result
		}
	}
	if !proceed || !persist {
		return result
	}
	if err := s.store.Persist(ctx); err != nil {
		s.logger.Warn("fieldstore: persist after search failed", slog.Any("error", err))
		result.Err = err
		return result
	}
	result.Persisted = true
	return result
}

// Auto reports whether state should trigger a submission: always with submit
// on change, after reset and flush, and after set on a submittable field.
func (s *Submitter) Auto(state State) bool {
	if state.Operation == OpNone {
		return false
	}
	if s.submitOnChange || slices.Contains(forcedOperations, state.Operation) {
		return true
	}
	if state.Operation != OpSet {
		return false
	}
	return slices.ContainsFunc(state.Touched, func(name string) bool {
		field, ok := state.Collection.Get(name)
		return ok && field.Submittable
	})
}

// Refresh resets the store to values and searches without persisting when
// anything changed.
func (s *Submitter) Refresh(ctx context.Context, values map[string]any) (<-chan SubmitResult, error) {
	touched, err := s.store.Reset(values)
	if err != nil || len(touched) == 0 {
		return nil, err
	}
	return s.Dispatch(ctx, false), nil
}

// Bind subscribes the submitter to the store. Rehydrations that changed values
// search without persisting; other tagged commits go through Auto. Calling
// Bind again replaces the previous binding.
func (s *Submitter) Bind(ctx context.Context) Unsubscribe {
	unbind := s.store.OnStateChange(func(state State) {
		if state.Operation == OpNone {
			return
		}
		if s.onChange != nil {
			s.onChange(state.Collection)
		}
		if state.Operation == OpRehydrate {
			if len(state.Touched) > 0 {
				s.Dispatch(ctx, false)
			}
			return
		}
		if s.Auto(state) {
			s.Dispatch(ctx, true)
		}
	})

	s.mu.Lock()
	previous := s.unbind
	s.unbind = unbind
	s.mu.Unlock()
	if previous != nil {
		previous()
	}
	return unbind
}
