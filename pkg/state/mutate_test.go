package state_test

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-fieldstore/pkg/state"
)

type mutateStore[T any] struct {
	loadSnapshot T
	loadMeta     state.Meta
	loadOK       bool
	loadErr      error

	saveCalls  int
	savedMeta  state.Meta
	savedValue T
	saveReturn state.Meta
	saveErr    error
}

func (s *mutateStore[T]) Load(_ context.Context, _ state.Ref) (T, state.Meta, bool, error) {
	var zero T
	if s.loadErr != nil {
		return zero, state.Meta{}, false, s.loadErr
	}
	return s.loadSnapshot, s.loadMeta, s.loadOK, nil
}

func (s *mutateStore[T]) Save(_ context.Context, _ state.Ref, snapshot T, meta state.Meta) (state.Meta, error) {
	s.saveCalls++
	s.savedMeta = meta
	s.savedValue = snapshot
	if s.saveErr != nil {
		return state.Meta{}, s.saveErr
	}
	return s.saveReturn, nil
}

func TestResolverMutateValidationFailureDoesNotSave(t *testing.T) {
	store := &mutateStore[savedFilters]{
		loadSnapshot: savedFilters{"status": {"open"}},
		loadMeta:     state.Meta{SnapshotID: "snap-1", ETag: "v1"},
		loadOK:       true,
	}

	resolver := state.Resolver[savedFilters]{
		Store: store,
		Validate: func(v savedFilters) error {
			if len(v["status"]) == 0 {
				return errors.New("status is required")
			}
			return nil
		},
	}
	ref := state.Ref{Domain: "orders", Scope: userScope("u42")}

	_, _, err := resolver.Mutate(context.Background(), ref, state.Meta{ETag: "v1"}, func(v *savedFilters) error {
		delete(*v, "status")
		return nil
	})
	if err == nil || err.Error() != "status is required" {
		t.Fatalf("expected validation error, got %v", err)
	}
	if store.saveCalls != 0 {
		t.Fatalf("expected no save calls, got %d", store.saveCalls)
	}
}

func TestResolverMutatePropagatesMeta(t *testing.T) {
	store := &mutateStore[savedFilters]{
		loadSnapshot: savedFilters{"status": {"open"}},
		loadMeta:     state.Meta{SnapshotID: "snap-old", ETag: "v1"},
		loadOK:       true,
		saveReturn:   state.Meta{SnapshotID: "snap-new", ETag: "v2"},
	}

	resolver := state.Resolver[savedFilters]{Store: store}
	ref := state.Ref{Domain: "orders", Scope: userScope("u42")}

	value, gotMeta, err := resolver.Mutate(context.Background(), ref, state.Meta{ETag: "v1", Extra: map[string]string{"source": "url"}}, func(v *savedFilters) error {
		(*v)["status"] = []string{"closed"}
		return nil
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if value["status"][0] != "closed" {
		t.Fatalf("expected mutated value, got %v", value)
	}
	if gotMeta.SnapshotID != "snap-new" || gotMeta.ETag != "v2" {
		t.Fatalf("expected saved meta snap-new/v2, got %q/%q", gotMeta.SnapshotID, gotMeta.ETag)
	}
	if store.saveCalls != 1 {
		t.Fatalf("expected 1 save call, got %d", store.saveCalls)
	}
	if store.savedMeta.SnapshotID != "snap-old" || store.savedMeta.ETag != "v1" || store.savedMeta.Extra["source"] != "url" {
		t.Fatalf("expected merged save meta, got %+v", store.savedMeta)
	}
}

func TestResolverMutateStartsFromZeroWhenMissing(t *testing.T) {
	store := &mutateStore[savedFilters]{saveReturn: state.Meta{SnapshotID: "snap"}}
	resolver := state.Resolver[savedFilters]{Store: store}

	_, _, err := resolver.Mutate(context.Background(), state.Ref{Domain: "orders", Scope: userScope("u1")}, state.Meta{}, func(v *savedFilters) error {
		if *v != nil {
			t.Fatalf("expected nil snapshot for a missing record, got %v", *v)
		}
		*v = savedFilters{"q": {"shoes"}}
		return nil
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if store.savedValue["q"][0] != "shoes" {
		t.Fatalf("expected saved value, got %v", store.savedValue)
	}
}

func TestResolverMutateETagMismatch(t *testing.T) {
	store := &mutateStore[savedFilters]{
		loadSnapshot: savedFilters{},
		loadMeta:     state.Meta{SnapshotID: "snap-1", ETag: "v1"},
		loadOK:       true,
	}

	resolver := state.Resolver[savedFilters]{Store: store}
	_, _, err := resolver.Mutate(context.Background(), state.Ref{Domain: "orders", Scope: userScope("u42")}, state.Meta{ETag: "v2"}, func(*savedFilters) error {
		return nil
	})
	if !errors.Is(err, state.ErrETagMismatch) {
		t.Fatalf("expected ErrETagMismatch, got %v", err)
	}
	if store.saveCalls != 0 {
		t.Fatalf("expected no save calls, got %d", store.saveCalls)
	}
}

func TestResolverMutateWrapsLoadError(t *testing.T) {
	boom := errors.New("boom")
	store := &mutateStore[savedFilters]{loadErr: boom}
	resolver := state.Resolver[savedFilters]{Store: store}

	_, _, err := resolver.Mutate(context.Background(), state.Ref{Domain: "orders", Scope: userScope("u1")}, state.Meta{}, func(*savedFilters) error {
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped load error, got %v", err)
	}
}
