package state

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/goliatone/go-fieldstore/layering"
)

var ErrETagMismatch = errors.New("state: etag mismatch")

// ErrNoLayers is returned by Resolve when none of the requested scopes has a
// stored snapshot.
var ErrNoLayers = errors.New("state: no layers found")

const (
	// Recommended priorities for common layering patterns. Higher numbers win.
	ScopePrioritySystem = 100
	ScopePriorityTenant = 200
	ScopePriorityOrg    = 300
	ScopePriorityTeam   = 400
	ScopePriorityUser   = 500
)

// Scope names the owner of a saved snapshot and its precedence.
type Scope struct {
	Name     string         `json:"name"`
	Label    string         `json:"label,omitempty"`
	Priority int            `json:"priority"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ScopeOption configures optional scope fields.
type ScopeOption func(*Scope)

// WithScopeLabel sets a human readable label.
func WithScopeLabel(label string) ScopeOption {
	return func(s *Scope) {
		s.Label = label
	}
}

// WithScopeMetadata attaches metadata such as `user_id` or `team_id`.
func WithScopeMetadata(metadata map[string]any) ScopeOption {
	return func(s *Scope) {
		s.Metadata = maps.Clone(metadata)
	}
}

// NewScope builds a scope.
func NewScope(name string, priority int, opts ...ScopeOption) Scope {
	scope := Scope{Name: name, Priority: priority}
	for _, opt := range opts {
		if opt != nil {
			opt(&scope)
		}
	}
	return scope
}

// Ref identifies one persisted snapshot for one domain (typically a search
// form) and one scope.
type Ref struct {
	Domain string
	Scope  Scope
}

// Meta is storage-owned metadata used for trace/audit and concurrency control.
type Meta struct {
	SnapshotID string            `json:"snapshot_id,omitempty"`
	ETag       string            `json:"etag,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// Store loads/saves one snapshot for a single scope reference.
type Store[T any] interface {
	Load(ctx context.Context, ref Ref) (snapshot T, meta Meta, ok bool, err error)
	Save(ctx context.Context, ref Ref, snapshot T, meta Meta) (Meta, error)
}

type Mutator[T any] func(*T) error

func (r Ref) Identifier() (string, error) {
	switch r.Scope.Name {
	case "system":
		return fmt.Sprintf("system/%s", r.Domain), nil
	case "tenant", "org", "team", "user":
		metadataKey := r.Scope.Name + "_id"
		id, ok := r.Scope.Metadata[metadataKey]
		if !ok {
			return "", fmt.Errorf("missing metadata key %q for scope %q", metadataKey, r.Scope.Name)
		}
		idString, ok := id.(string)
		if !ok || idString == "" {
			return "", fmt.Errorf("missing metadata key %q for scope %q", metadataKey, r.Scope.Name)
		}
		return fmt.Sprintf("%s/%s/%s", r.Scope.Name, idString, r.Domain), nil
	default:
		return "", fmt.Errorf("unsupported scope name %q", r.Scope.Name)
	}
}

// Layer is one loaded snapshot tagged with the scope it came from.
type Layer[T any] struct {
	Scope      Scope
	Snapshot   T
	SnapshotID string
}

// Resolved is the merged value of several layers, strongest layer first.
type Resolved[T any] struct {
	Value  T
	Layers []Layer[T]
}

// Scopes lists the scopes that contributed a layer.
func (r Resolved[T]) Scopes() []Scope {
	out := make([]Scope, 0, len(r.Layers))
	for _, layer := range r.Layers {
		out = append(out, layer.Scope)
	}
	return out
}

// Resolver orchestrates scoped loads and merges them into a single value.
type Resolver[T any] struct {
	Store Store[T]
	// Validate runs against the mutated snapshot before Mutate saves it.
	Validate func(T) error
}

// Resolve loads the snapshot of every scope and merges them so that keys
// from higher priority scopes win.
func (r Resolver[T]) Resolve(ctx context.Context, domain string, scopes ...Scope) (Resolved[T], error) {
	if r.Store == nil {
		return Resolved[T]{}, fmt.Errorf("state: store is required")
	}
	if domain == "" {
		return Resolved[T]{}, fmt.Errorf("state: domain is required")
	}
	if len(scopes) == 0 {
		return Resolved[T]{}, fmt.Errorf("state: at least one scope is required")
	}

	layers, err := r.load(ctx, domain, scopes)
	if err != nil {
		return Resolved[T]{}, err
	}
	if len(layers) == 0 {
		return Resolved[T]{}, fmt.Errorf("%w for domain %q", ErrNoLayers, domain)
	}
	return merge(layers), nil
}

// ResolveWithDefaults behaves like Resolve but appends defaults as the
// weakest layer, so it never fails for lack of stored snapshots.
func (r Resolver[T]) ResolveWithDefaults(ctx context.Context, domain string, defaults T, scopes ...Scope) (Resolved[T], error) {
	if r.Store == nil {
		return Resolved[T]{}, fmt.Errorf("state: store is required")
	}
	if domain == "" {
		return Resolved[T]{}, fmt.Errorf("state: domain is required")
	}

	minPriority := 0
	for i, scope := range scopes {
		if scope.Name == "defaults" {
			return Resolved[T]{}, fmt.Errorf("state: scope name %q is reserved", "defaults")
		}
		if i == 0 || scope.Priority < minPriority {
			minPriority = scope.Priority
		}
	}

	layers, err := r.load(ctx, domain, scopes)
	if err != nil {
		return Resolved[T]{}, err
	}
	layers = append(layers, Layer[T]{
		Scope:    NewScope("defaults", minPriority-1, WithScopeLabel("Defaults")),
		Snapshot: defaults,
	})
	return merge(layers), nil
}

// Mutate loads one snapshot, applies fn, validates and saves it.
func (r Resolver[T]) Mutate(ctx context.Context, ref Ref, meta Meta, fn Mutator[T]) (T, Meta, error) {
	var zero T
	if r.Store == nil {
		return zero, Meta{}, fmt.Errorf("state: store is required")
	}
	if ref.Domain == "" {
		return zero, Meta{}, fmt.Errorf("state: domain is required")
	}
	if ref.Scope.Name == "" {
		return zero, Meta{}, fmt.Errorf("state: scope name is required")
	}
	if fn == nil {
		return zero, Meta{}, fmt.Errorf("state: mutator is required")
	}

	snapshot, loadedMeta, ok, err := r.Store.Load(ctx, ref)
	if err != nil {
		return zero, Meta{}, fmt.Errorf("state: load %q for scope %q: %w", ref.Domain, ref.Scope.Name, err)
	}
	if !ok {
		snapshot = zero
		loadedMeta = Meta{}
	}

	if meta.ETag != "" && loadedMeta.ETag != "" && meta.ETag != loadedMeta.ETag {
		return zero, loadedMeta, fmt.Errorf("%w: expected %q, got %q", ErrETagMismatch, meta.ETag, loadedMeta.ETag)
	}

	if err := fn(&snapshot); err != nil {
		return zero, loadedMeta, err
	}
	if r.Validate != nil {
		if err := r.Validate(snapshot); err != nil {
			return zero, loadedMeta, err
		}
	}

	savedMeta, err := r.Store.Save(ctx, ref, snapshot, mergeMeta(loadedMeta, meta))
	if err != nil {
		return zero, loadedMeta, fmt.Errorf("state: save %q for scope %q: %w", ref.Domain, ref.Scope.Name, err)
	}
	return snapshot, savedMeta, nil
}

func (r Resolver[T]) load(ctx context.Context, domain string, scopes []Scope) ([]Layer[T], error) {
	layers := make([]Layer[T], 0, len(scopes)+1)
	for _, scope := range scopes {
		snapshot, meta, ok, err := r.Store.Load(ctx, Ref{Domain: domain, Scope: scope})
		if err != nil {
			return nil, fmt.Errorf("state: load %q for scope %q: %w", domain, scope.Name, err)
		}
		if !ok {
			continue
		}
		layers = append(layers, Layer[T]{Scope: scope, Snapshot: snapshot, SnapshotID: meta.SnapshotID})
	}
	return layers, nil
}

func merge[T any](layers []Layer[T]) Resolved[T] {
	ordered := slices.Clone(layers)
	slices.SortStableFunc(ordered, func(a, b Layer[T]) int {
		return b.Scope.Priority - a.Scope.Priority
	})
	snapshots := make([]T, 0, len(ordered))
	for _, layer := range ordered {
		snapshots = append(snapshots, layer.Snapshot)
	}
	return Resolved[T]{
		Value:  layering.MergeLayers(snapshots...),
		Layers: ordered,
	}
}

func mergeMeta(base, override Meta) Meta {
	out := base
	if override.SnapshotID != "" {
		out.SnapshotID = override.SnapshotID
	}
	if override.ETag != "" {
		out.ETag = override.ETag
	}
	if !override.UpdatedAt.IsZero() {
		out.UpdatedAt = override.UpdatedAt
	}
	if override.Extra != nil {
		out.Extra = override.Extra
	}
	return out
}
