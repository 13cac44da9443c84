package fieldstore

import (
	"context"
	"fmt"
	"sync"
)

// Deferred is a value that settles once, either resolved or rejected.
type Deferred struct {
	done  chan struct{}
	once  sync.Once
	value any
	err   error
}

// Defer runs fn in a new goroutine and settles with its result. A panic in fn
// rejects the deferred.
func Defer(fn func() (any, error)) *Deferred {
	d := &Deferred{done: make(chan struct{})}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.settle(nil, fmt.Errorf("fieldstore: deferred panicked: %v", r))
			}
		}()
		value, err := fn()
		d.settle(value, err)
	}()
	return d
}

// NewDeferred returns an unsettled deferred with its resolve and reject
// functions. Only the first call of either has an effect.
func NewDeferred() (*Deferred, func(any), func(error)) {
	d := &Deferred{done: make(chan struct{})}
	resolve := func(value any) { d.settle(value, nil) }
	reject := func(err error) {
		if err == nil {
			err = fmt.Errorf("fieldstore: deferred rejected")
		}
		d.settle(nil, err)
	}
	return d, resolve, reject
}

// Resolved returns a deferred already settled with value.
func Resolved(value any) *Deferred {
	d, resolve, _ := NewDeferred()
	resolve(value)
	return d
}

// Rejected returns a deferred already settled with err.
func Rejected(err error) *Deferred {
	d, _, reject := NewDeferred()
	reject(err)
	return d
}

func (d *Deferred) settle(value any, err error) {
	d.once.Do(func() {
		d.value = value
		d.err = err
		close(d.done)
	})
}

// Done is closed once the deferred settles.
func (d *Deferred) Done() <-chan struct{} {
	return d.done
}

// Settled reports whether the deferred has settled.
func (d *Deferred) Settled() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

// Await blocks until the deferred settles or ctx is done.
func (d *Deferred) Await(ctx context.Context) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-d.done:
		return d.value, d.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
