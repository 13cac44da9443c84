package layering

import (
	"reflect"
	"testing"
)

type savedValue struct {
	Items []string
	List  bool
}

type savedSearch struct {
	Query   *string
	Values  map[string]savedValue
	Columns []string
	Limits  map[string]int
}

func strPtr(s string) *string { return &s }

func TestMergeLayersStrongestWins(t *testing.T) {
	user := savedSearch{
		Query:  strPtr("user"),
		Values: map[string]savedValue{"status": {Items: []string{"open"}}},
	}
	team := savedSearch{
		Query:   strPtr("team"),
		Values:  map[string]savedValue{"status": {Items: []string{"closed"}}, "tags": {Items: []string{"a", "b"}, List: true}},
		Columns: []string{"id", "title"},
		Limits:  map[string]int{"page": 20},
	}
	system := savedSearch{
		Limits: map[string]int{"page": 10, "max": 100},
	}

	got := MergeLayers(user, team, system)

	if got.Query == nil || *got.Query != "user" {
		t.Fatalf("expected user query to win, got %v", got.Query)
	}
	want := map[string]savedValue{
		"status": {Items: []string{"open"}},
		"tags":   {Items: []string{"a", "b"}, List: true},
	}
	if !reflect.DeepEqual(want, got.Values) {
		t.Fatalf("values mismatch:\nwant: %#v\n got: %#v", want, got.Values)
	}
	if !reflect.DeepEqual([]string{"id", "title"}, got.Columns) {
		t.Fatalf("expected team columns to fill the gap, got %v", got.Columns)
	}
	if got.Limits["page"] != 20 || got.Limits["max"] != 100 {
		t.Fatalf("expected merged limits, got %v", got.Limits)
	}
}

func TestMergeLayersDoesNotAliasInputs(t *testing.T) {
	strong := map[string][]string{"tags": {"a"}}
	weak := map[string][]string{"other": {"b"}}

	got := MergeLayers(strong, weak)
	got["tags"][0] = "changed"
	got["other"][0] = "changed"

	if strong["tags"][0] != "a" || weak["other"][0] != "b" {
		t.Fatalf("expected inputs untouched, got %v %v", strong, weak)
	}
}

func TestMergeLayersZeroInput(t *testing.T) {
	type sample struct {
		Value int
	}
	var zero sample
	if got := MergeLayers[sample](); got != zero {
		t.Fatalf("expected MergeLayers() to return zero value, got %+v", got)
	}
}

func TestCloneCopiesNestedValues(t *testing.T) {
	original := savedSearch{
		Query:  strPtr("q"),
		Values: map[string]savedValue{"tags": {Items: []string{"x"}, List: true}},
	}

	clone := Clone(original)
	*clone.Query = "changed"
	clone.Values["tags"].Items[0] = "changed"

	if *original.Query != "q" {
		t.Fatalf("expected query untouched, got %q", *original.Query)
	}
	if original.Values["tags"].Items[0] != "x" {
		t.Fatalf("expected nested slice untouched, got %v", original.Values["tags"].Items)
	}
}
