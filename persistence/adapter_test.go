package persistence

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"

	"github.com/goliatone/go-fieldstore/pkg/state"
)

func TestValueJSONShapes(t *testing.T) {
	payload, err := json.Marshal(Dictionary{"q": Scalar("a"), "tags": List("x", "y"), "empty": List()})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if got, want := string(payload), `{"empty":[],"q":"a","tags":["x","y"]}`; got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}

	var decoded Dictionary
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !decoded["tags"].Equal(List("x", "y")) || !decoded["q"].Equal(Scalar("a")) {
		t.Fatalf("unexpected decoded dictionary %#v", decoded)
	}
	if err := json.Unmarshal([]byte(`{"bad":[1]}`), &decoded); err == nil {
		t.Fatalf("expected error for non string list item")
	}
}

func TestMergeWhitelisted(t *testing.T) {
	current := Dictionary{"q": Scalar("old"), "tags[]": List("a"), "utm": Scalar("x")}
	values := Dictionary{"q": Scalar("new"), "skip": Value{}}

	got := MergeWhitelisted(current, values, []string{"q", "tags"})
	want := Dictionary{"q": Scalar("new"), "utm": Scalar("x")}
	if !reflect.DeepEqual(want, got) {
		t.Fatalf("merge mismatch:\nwant: %#v\n got: %#v", want, got)
	}

	replaced := MergeWhitelisted(current, values, nil)
	if len(replaced) != 1 {
		t.Fatalf("expected nil whitelist to replace everything, got %#v", replaced)
	}
}

func TestMemoryAdapterReplaceNotifies(t *testing.T) {
	adapter := NewMemoryAdapter(Dictionary{"q": Scalar("a")})
	var calls int
	adapter.Subscribe(func() { calls++ })

	adapter.Replace(Dictionary{"q": Scalar("b")})

	values, _ := adapter.Read()
	if values["q"].String() != "b" || calls != 1 {
		t.Fatalf("expected replaced value and one notification, got %v / %d", values, calls)
	}
	if err := adapter.Write(Dictionary{"q": Scalar("c")}, []string{"q"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if adapter.Writes() != 1 || calls != 1 {
		t.Fatalf("writes must not notify subscribers")
	}
}

func TestNopAdapter(t *testing.T) {
	var adapter Adapter = NopAdapter{}
	values, err := adapter.Read()
	if err != nil || len(values) != 0 {
		t.Fatalf("expected empty read, got %v %v", values, err)
	}
	if err := adapter.Write(Dictionary{"q": Scalar("a")}, nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	adapter.Subscribe(func() {})()
}

func TestStateAdapterLayersTeamDefaults(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore[Dictionary]()
	team := state.NewScope("team", state.ScopePriorityTeam, state.WithScopeMetadata(map[string]any{"team_id": "t1"}))
	user := state.NewScope("user", state.ScopePriorityUser, state.WithScopeMetadata(map[string]any{"user_id": "u1"}))

	if _, err := store.Save(ctx, state.Ref{Domain: "orders", Scope: team}, Dictionary{
		"status": Scalar("open"),
		"tags":   List("vip"),
	}, state.Meta{SnapshotID: "snap-team"}); err != nil {
		t.Fatalf("save team: %v", err)
	}

	adapter, err := NewStateAdapter(store, state.Ref{Domain: "orders", Scope: user}, WithFallbackScopes(team))
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}

	values, err := adapter.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if values["status"].String() != "open" {
		t.Fatalf("expected team default, got %v", values)
	}

	if err := adapter.Write(Dictionary{"status": Scalar("closed")}, []string{"status"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	values, _ = adapter.Read()
	if values["status"].String() != "closed" || !values["tags"].Equal(List("vip")) {
		t.Fatalf("expected user override over team tags, got %v", values)
	}

	resolved, err := adapter.Resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	winner, ok := state.TraceKey(resolved, "tags").Winner()
	if !ok || winner.Scope.Name != "team" || winner.SnapshotID != "snap-team" {
		t.Fatalf("expected tags traced to team snapshot, got %+v", winner)
	}
}

func TestStateAdapterEmptyStoreReadsEmpty(t *testing.T) {
	store := state.NewMemoryStore[Dictionary]()
	user := state.NewScope("user", state.ScopePriorityUser, state.WithScopeMetadata(map[string]any{"user_id": "u1"}))
	adapter, err := NewStateAdapter(store, state.Ref{Domain: "orders", Scope: user})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	values, err := adapter.Read()
	if err != nil || len(values) != 0 {
		t.Fatalf("expected empty dictionary, got %v %v", values, err)
	}

	var calls int
	adapter.Subscribe(func() { calls++ })
	adapter.Changed()
	if calls != 1 {
		t.Fatalf("expected change notification")
	}
}

func TestNewStateAdapterRejectsInvalidOwner(t *testing.T) {
	store := state.NewMemoryStore[Dictionary]()
	_, err := NewStateAdapter(store, state.Ref{Domain: "orders", Scope: state.NewScope("user", state.ScopePriorityUser)})
	if err == nil {
		t.Fatalf("expected error for user scope without user_id")
	}
}
