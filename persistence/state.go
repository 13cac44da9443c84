package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-fieldstore/pkg/state"
)

// StateOption configures a StateAdapter.
type StateOption func(*StateAdapter)

// WithStateContext sets the context used for store calls.
func WithStateContext(ctx context.Context) StateOption {
	return func(a *StateAdapter) {
		if ctx != nil {
			a.ctx = ctx
		}
	}
}

// WithFallbackScopes adds weaker scopes (team or system saved searches) that
// Read merges underneath the owner scope.
func WithFallbackScopes(scopes ...state.Scope) StateOption {
	return func(a *StateAdapter) {
		a.fallbacks = append(a.fallbacks, scopes...)
	}
}

// StateAdapter persists values as a saved search in a state.Store. Reads
// merge the owner scope with any fallback scopes; writes always target the
// owner scope.
type StateAdapter struct {
	store     state.Store[Dictionary]
	owner     state.Ref
	fallbacks []state.Scope
	ctx       context.Context
	subs      subscribers
}

// NewStateAdapter binds the adapter to the saved search identified by owner.
func NewStateAdapter(store state.Store[Dictionary], owner state.Ref, opts ...StateOption) (*StateAdapter, error) {
	if store == nil {
		return nil, fmt.Errorf("persistence: state store is required")
	}
	if _, err := owner.Identifier(); err != nil {
		return nil, fmt.Errorf("persistence: owner ref: %w", err)
	}
	a := &StateAdapter{store: store, owner: owner, ctx: context.Background()}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

func (a *StateAdapter) Read() (Dictionary, error) {
	resolved, err := a.Resolve()
	if errors.Is(err, state.ErrNoLayers) {
		return Dictionary{}, nil
	}
	if err != nil {
		return nil, err
	}
	return resolved.Value.Clone(), nil
}

// Resolve exposes the merged layers so callers can trace where a persisted
// value came from with state.TraceKey.
func (a *StateAdapter) Resolve() (state.Resolved[Dictionary], error) {
	scopes := append([]state.Scope{a.owner.Scope}, a.fallbacks...)
	resolver := state.Resolver[Dictionary]{Store: a.store}
	return resolver.Resolve(a.ctx, a.owner.Domain, scopes...)
}

func (a *StateAdapter) Write(values Dictionary, whitelist []string) error {
	resolver := state.Resolver[Dictionary]{Store: a.store}
	_, _, err := resolver.Mutate(a.ctx, a.owner, state.Meta{UpdatedAt: time.Now().UTC()}, func(current *Dictionary) error {
		*current = MergeWhitelisted(*current, values, whitelist)
		return nil
	})
	if err != nil {
		return fmt.Errorf("persistence: save %q: %w", a.owner.Domain, err)
	}
	return nil
}

func (a *StateAdapter) Subscribe(callback func()) Unsubscribe {
	return a.subs.add(callback)
}

// Changed notifies subscribers that the saved search was modified elsewhere
// (another session, an admin editing team defaults).
func (a *StateAdapter) Changed() {
	a.subs.notify()
}
