package persistence

import (
	"reflect"
	"testing"
)

func TestURLAdapterReadSplitsArrays(t *testing.T) {
	adapter, err := NewURLAdapter("https://example.com/orders?q=shoes&tags[]=b&tags[]=a&page=2")
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}

	got, err := adapter.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := Dictionary{
		"q":    Scalar("shoes"),
		"tags": List("b", "a"),
		"page": Scalar("2"),
	}
	if !reflect.DeepEqual(want, got) {
		t.Fatalf("read mismatch:\nwant: %#v\n got: %#v", want, got)
	}
}

func TestURLAdapterWritePreservesParamsOutsideWhitelist(t *testing.T) {
	adapter, err := NewURLAdapter("/search?utm_source=google&q=old&tags[]=x")
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}

	err = adapter.Write(Dictionary{"q": Scalar("new"), "tags": List("b", "a", "b")}, []string{"q", "tags"})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	if got, want := adapter.Location(), "/search?q=new&tags%5B%5D=a&tags%5B%5D=b&utm_source=google"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if adapter.Len() != 2 {
		t.Fatalf("expected a pushed history entry, got %d entries", adapter.Len())
	}
}

func TestURLAdapterWriteDropsClearedWhitelistedKeys(t *testing.T) {
	adapter, _ := NewURLAdapter("/search?q=old&keep=1")

	if err := adapter.Write(Dictionary{}, []string{"q"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := adapter.Location(); got != "/search?keep=1" {
		t.Fatalf("expected q removed, got %q", got)
	}
}

func TestURLAdapterSkipsUnchangedWrites(t *testing.T) {
	var navigations int
	adapter, _ := NewURLAdapter("/search?q=a", WithNavigator(func(string, URLMode) { navigations++ }))

	if err := adapter.Write(Dictionary{"q": Scalar("a")}, []string{"q"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if adapter.Len() != 1 || navigations != 0 {
		t.Fatalf("expected no navigation, got %d entries and %d navigations", adapter.Len(), navigations)
	}
}

func TestURLAdapterReplaceMode(t *testing.T) {
	var gotMode URLMode = -1
	adapter, _ := NewURLAdapter("/search", WithURLMode(ModeReplace), WithNavigator(func(_ string, mode URLMode) {
		gotMode = mode
	}))

	if err := adapter.Write(Dictionary{"q": Scalar("a")}, nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	if adapter.Len() != 1 {
		t.Fatalf("expected history entry replaced, got %d entries", adapter.Len())
	}
	if adapter.Location() != "/search?q=a" {
		t.Fatalf("unexpected location %q", adapter.Location())
	}
	if gotMode != ModeReplace {
		t.Fatalf("expected replace navigation, got %v", gotMode)
	}
}

func TestURLAdapterBackNotifiesSubscribers(t *testing.T) {
	adapter, _ := NewURLAdapter("/search?q=first")
	_ = adapter.Write(Dictionary{"q": Scalar("second")}, []string{"q"})

	var calls int
	unsubscribe := adapter.Subscribe(func() { calls++ })

	if !adapter.Back() {
		t.Fatalf("expected back navigation")
	}
	if calls != 1 {
		t.Fatalf("expected one notification, got %d", calls)
	}
	values, _ := adapter.Read()
	if values["q"].String() != "first" {
		t.Fatalf("expected previous query, got %v", values)
	}
	if adapter.Back() {
		t.Fatalf("expected back to stop at first entry")
	}

	unsubscribe()
	adapter.Forward()
	if calls != 1 {
		t.Fatalf("expected no notification after unsubscribe, got %d", calls)
	}
	if adapter.subs.len() != 0 {
		t.Fatalf("expected subscriber removed")
	}
}

func TestURLAdapterNavigateTruncatesForwardHistory(t *testing.T) {
	adapter, _ := NewURLAdapter("/a")
	_ = adapter.Write(Dictionary{"q": Scalar("1")}, nil)
	adapter.Back()

	if err := adapter.Navigate("/b?q=2"); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	if adapter.Len() != 2 || adapter.Location() != "/b?q=2" {
		t.Fatalf("unexpected history: len=%d location=%q", adapter.Len(), adapter.Location())
	}
}

func TestNormalizeKey(t *testing.T) {
	cases := map[string]string{
		"tags[]": "tags",
		"tags":   "tags",
		"[]":     "",
	}
	for in, want := range cases {
		if got := NormalizeKey(in); got != want {
			t.Fatalf("NormalizeKey(%q) = %q, want %q", in, got, want)
		}
	}
}
