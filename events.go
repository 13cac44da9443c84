package fieldstore

import (
	"maps"
	"slices"
	"sync"
)

// listeners is a registry of callbacks notified outside its lock, so a
// callback may subscribe or unsubscribe while being notified.
type listeners[T any] struct {
	mu        sync.Mutex
	next      uint64
	callbacks map[uint64]func(T)
}

func (l *listeners[T]) add(callback func(T)) Unsubscribe {
	if callback == nil {
		return func() {}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.callbacks == nil {
		l.callbacks = make(map[uint64]func(T))
	}
	l.next++
	id := l.next
	l.callbacks[id] = callback
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.callbacks, id)
			l.mu.Unlock()
		})
	}
}

func (l *listeners[T]) notify(value T) {
	l.mu.Lock()
	ids := slices.Sorted(maps.Keys(l.callbacks))
	callbacks := make([]func(T), 0, len(ids))
	for _, id := range ids {
		callbacks = append(callbacks, l.callbacks[id])
	}
	l.mu.Unlock()
	for _, callback := range callbacks {
		callback(value)
	}
}

func (l *listeners[T]) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.callbacks)
}

// eventBus carries the change and persist channels.
type eventBus struct {
	subscribers listeners[struct{}]
	changes     listeners[State]
	persists    listeners[*Collection]
}
