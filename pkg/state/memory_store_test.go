package state_test

import (
	"context"
	"testing"

	"github.com/goliatone/go-fieldstore/pkg/state"
)

func TestMemoryStoreStampsAndIsolatesSnapshots(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore[savedFilters]()
	ref := state.Ref{Domain: "orders", Scope: userScope("u1")}

	saved := savedFilters{"tags": {"a"}}
	first, err := store.Save(ctx, ref, saved, state.Meta{})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if first.SnapshotID == "" || first.ETag == "" || first.UpdatedAt.IsZero() {
		t.Fatalf("expected stamped meta, got %+v", first)
	}
	saved["tags"][0] = "mutated"

	loaded, meta, ok, err := store.Load(ctx, ref)
	if err != nil || !ok {
		t.Fatalf("load: ok=%t err=%v", ok, err)
	}
	if loaded["tags"][0] != "a" {
		t.Fatalf("expected stored snapshot isolated from caller, got %v", loaded)
	}
	if meta.ETag != first.ETag {
		t.Fatalf("expected loaded etag %q, got %q", first.ETag, meta.ETag)
	}

	second, err := store.Save(ctx, ref, loaded, meta)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if second.SnapshotID != first.SnapshotID || second.ETag == first.ETag {
		t.Fatalf("expected kept snapshot id and rotated etag, got %+v after %+v", second, first)
	}
}
