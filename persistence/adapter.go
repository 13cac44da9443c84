// Package persistence defines the boundary between a field store and the
// medium its values are persisted to (a URL query string, a saved-search
// store, memory).
package persistence

import (
	"slices"
	"sync"
)

// Unsubscribe detaches a previously registered callback.
type Unsubscribe func()

// Adapter reads and writes a flat dictionary of persisted values and notifies
// subscribers when the medium changes outside of the store's control.
type Adapter interface {
	Read() (Dictionary, error)
	// Write persists values. When whitelist is non-nil only keys named in the
	// whitelist are owned by the caller; every other persisted key survives.
	Write(values Dictionary, whitelist []string) error
	Subscribe(callback func()) Unsubscribe
}

// NopAdapter never persists anything. It is the adapter used when a store is
// created without one.
type NopAdapter struct{}

func (NopAdapter) Read() (Dictionary, error) { return Dictionary{}, nil }

func (NopAdapter) Write(Dictionary, []string) error { return nil }

func (NopAdapter) Subscribe(func()) Unsubscribe { return func() {} }

// MemoryAdapter keeps the persisted dictionary in memory. Replace simulates
// an external change and notifies subscribers.
type MemoryAdapter struct {
	mu     sync.RWMutex
	values Dictionary
	writes int
	subs   subscribers
}

// NewMemoryAdapter seeds the adapter with initial values.
func NewMemoryAdapter(initial Dictionary) *MemoryAdapter {
	return &MemoryAdapter{values: initial.Clone()}
}

func (a *MemoryAdapter) Read() (Dictionary, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.values.Clone(), nil
}

func (a *MemoryAdapter) Write(values Dictionary, whitelist []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.values = MergeWhitelisted(a.values, values, whitelist)
	a.writes++
	return nil
}

func (a *MemoryAdapter) Subscribe(callback func()) Unsubscribe {
	return a.subs.add(callback)
}

// Replace swaps the stored dictionary and notifies subscribers.
func (a *MemoryAdapter) Replace(values Dictionary) {
	a.mu.Lock()
	a.values = values.Clone()
	a.mu.Unlock()
	a.subs.notify()
}

// Writes reports how many writes the adapter accepted.
func (a *MemoryAdapter) Writes() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.writes
}

// MergeWhitelisted builds the dictionary that results from writing values on
// top of current. Keys of current that are not in the whitelist are kept;
// a nil whitelist replaces current entirely. Array keys written with the
// `name[]` convention are normalized before the whitelist lookup.
func MergeWhitelisted(current, values Dictionary, whitelist []string) Dictionary {
	out := Dictionary{}
	if whitelist != nil {
		for key, value := range current {
			if slices.Contains(whitelist, NormalizeKey(key)) {
				continue
			}
			out[key] = Value{Items: slices.Clone(value.Items), List: value.List}
		}
	}
	for key, value := range values {
		if value.IsZero() && !value.List {
			continue
		}
		out[key] = Value{Items: slices.Clone(value.Items), List: value.List}
	}
	return out
}

type subscribers struct {
	mu        sync.Mutex
	next      uint64
	callbacks map[uint64]func()
}

func (s *subscribers) add(callback func()) Unsubscribe {
	if callback == nil {
		return func() {}
	}
	s.mu.Lock()
	if s.callbacks == nil {
		s.callbacks = map[uint64]func(){}
	}
	s.next++
	id := s.next
	s.callbacks[id] = callback
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.callbacks, id)
			s.mu.Unlock()
		})
	}
}

func (s *subscribers) notify() {
	s.mu.Lock()
	ids := make([]uint64, 0, len(s.callbacks))
	for id := range s.callbacks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	callbacks := make([]func(), 0, len(ids))
	for _, id := range ids {
		callbacks = append(callbacks, s.callbacks[id])
	}
	s.mu.Unlock()

	for _, callback := range callbacks {
		callback()
	}
}

func (s *subscribers) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.callbacks)
}
