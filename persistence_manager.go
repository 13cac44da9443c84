package fieldstore

import (
	"context"
	"iter"
	"log/slog"
	"slices"
	"sync"

	"github.com/goliatone/go-fieldstore/persistence"
)

// persistenceManager bridges the adapter's raw dictionary and typed field
// values. It shares the store mutex and repository; methods suffixed Locked
// expect the mutex to be held.
type persistenceManager struct {
	mu         *sync.Mutex
	repo       *repository
	monitor    *TaskMonitor
	adapter    persistence.Adapter
	logger     *slog.Logger
	dictionary persistence.Dictionary
	nextToken  uint64
}

// read refreshes the cached dictionary from the adapter.
func (m *persistenceManager) read() (persistence.Dictionary, error) {
	dictionary, err := m.adapter.Read()
	if err != nil {
		return nil, err
	}
	if dictionary == nil {
		dictionary = persistence.Dictionary{}
	}
	return dictionary, nil
}

// resolveLocked looks up field in the last read dictionary and parses it.
// Absent keys resolve to fallback.
func (m *persistenceManager) resolveLocked(field Definition, fallback any) ParseValue {
	raw, ok := m.dictionary.Lookup(field.Name)
	if !ok || field.Serializer == nil {
		return immediate(fallback)
	}
	parsed, err := parse(field, field.Serializer, raw, fallback)
	if err != nil {
		m.logger.Warn("fieldstore: persisted value ignored", slog.String("field", field.Name), slog.Any("error", err))
	}
	return parsed
}

// captureLocked marks name as hydrating and returns its token. A field that is
// already hydrating keeps its monitor capture; the new token makes the older
// hydration stale so it never releases.
func (m *persistenceManager) captureLocked(name string) uint64 {
	field, ok := m.repo.Get(name)
	if !ok {
		return 0
	}
	if field.hydration == 0 {
		m.monitor.Capture()
	}
	m.nextToken++
	m.repo.markHydrating(name, m.nextToken)
	return m.nextToken
}

// process settles a deferred value in the background. When the hydration is
// still current, then runs under the store mutex with the response, the
// returned callback runs after unlocking, and the monitor is released last.
// Stale hydrations, for fields unregistered or rehydrated in the meantime, are
// dropped without releasing.
func (m *persistenceManager) process(ctx context.Context, field Definition, token uint64, pending *Deferred, then func(HydrationResponse) func()) {
	go func() {
		value := m.await(ctx, field, pending, field.Default)

		m.mu.Lock()
		current, dirty := m.repo.settle(field.Name, token, value)
		if !current {
			m.mu.Unlock()
			return
		}
		resp := HydrationResponse{Status: HydrationCompleted}
		if dirty {
			resp.Touched = []string{field.Name}
		}
		after := then(resp)
		m.mu.Unlock()

		if after != nil {
			after()
		}
		m.monitor.Release()
	}()
}

// await resolves pending to value ?? fallback. Failures resolve to fallback.
func (m *persistenceManager) await(ctx context.Context, field Definition, pending *Deferred, fallback any) any {
	value, ok := m.settleValue(ctx, field, pending)
	if !ok || value == nil {
		return fallback
	}
	return value
}

func (m *persistenceManager) settleValue(ctx context.Context, field Definition, pending *Deferred) (any, bool) {
	raw, err := pending.Await(ctx)
	if err != nil {
		m.logger.Warn("fieldstore: hydration failed", slog.String("field", field.Name), slog.Any("error", err))
		return nil, false
	}
	value, ok := normalize(field.Type, raw)
	if !ok {
		err := &TypeMismatchError{Name: field.Name, Type: field.Type, Value: raw}
		m.logger.Warn("fieldstore: hydration failed", slog.String("field", field.Name), slog.Any("error", err))
		return nil, false
	}
	return value, true
}

type hydrationJob struct {
	field   Definition
	token   uint64
	pending *Deferred
	prior   any
}

type hydrationResult struct {
	value any
	ok    bool
}

// rehydrate re-reads the adapter and resolves every registered field. It
// yields pending, then processing when deferred values are outstanding, and
// finally completed with the touched names or unchanged. An adapter error is
// yielded once and ends the sequence. Captures are always released even when
// the caller stops iterating early.
func (m *persistenceManager) rehydrate(ctx context.Context) iter.Seq2[HydrationResponse, error] {
	return func(yield func(HydrationResponse, error) bool) {
		dictionary, err := m.read()
		if err != nil {
			yield(HydrationResponse{}, err)
			return
		}
		if !yield(HydrationResponse{Status: HydrationPending}, nil) {
			return
		}

		m.mu.Lock()
		m.dictionary = dictionary
		var touched []string
		var jobs []hydrationJob
		for _, field := range m.repo.all() {
			parsed := m.resolveLocked(field.Definition, field.Default)
			if parsed.Deferred {
				jobs = append(jobs, hydrationJob{
					field:   field.Definition,
					token:   m.captureLocked(field.Name),
					pending: parsed.Pending,
					prior:   field.Value,
				})
				continue
			}
			if m.repo.set(field.Name, parsed.Value) {
				touched = append(touched, field.Name)
			}
		}
		m.mu.Unlock()

		if len(jobs) == 0 {
			if len(touched) == 0 {
				yield(HydrationResponse{Status: HydrationUnchanged}, nil)
				return
			}
			yield(HydrationResponse{Status: HydrationCompleted, Touched: touched}, nil)
			return
		}

		active := yield(HydrationResponse{Status: HydrationProcessing, Touched: touched}, nil)

		results := make([]hydrationResult, len(jobs))
		var wg sync.WaitGroup
		for i, job := range jobs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				value, ok := m.settleValue(ctx, job.field, job.pending)
				results[i] = hydrationResult{value: value, ok: ok}
			}()
		}
		wg.Wait()

		releases := 0
		m.mu.Lock()
		for i, job := range jobs {
			value := results[i].value
			switch {
			case !results[i].ok && job.prior != nil:
				value = job.prior
			case value == nil:
				value = job.field.Default
			}
			current, dirty := m.repo.settle(job.field.Name, job.token, value)
			if !current {
				continue
			}
			releases++
			if dirty && !slices.Contains(touched, job.field.Name) {
				touched = append(touched, job.field.Name)
			}
		}
		m.mu.Unlock()

		defer func() {
			for range releases {
				m.monitor.Release()
			}
		}()
		if !active {
			return
		}
		if len(touched) == 0 {
			yield(HydrationResponse{Status: HydrationUnchanged}, nil)
			return
		}
		yield(HydrationResponse{Status: HydrationCompleted, Touched: touched}, nil)
	}
}
