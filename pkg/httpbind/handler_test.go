package httpbind

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	fieldstore "github.com/goliatone/go-fieldstore"
	"github.com/goliatone/go-fieldstore/persistence"
)

type fixture struct {
	store   *fieldstore.Store
	adapter *persistence.MemoryAdapter
	handler *Handler
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	adapter := persistence.NewMemoryAdapter(nil)
	store, err := fieldstore.New(fieldstore.WithAdapter(adapter))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defs := []fieldstore.Definition{
		fieldstore.String("q", fieldstore.Submittable(), fieldstore.WithHumanizer(func(v any, _ *fieldstore.Collection) fieldstore.Label {
			return fieldstore.Text("Search: " + v.(string))
		})),
		fieldstore.Strings("tags"),
		fieldstore.Number("page", fieldstore.WithDefault(1), fieldstore.WithRules(fieldstore.AtLeast(1))),
		fieldstore.Date("from"),
	}
	for _, def := range defs {
		if err := store.Register(context.Background(), def); err != nil {
			t.Fatalf("register %s: %v", def.Name, err)
		}
	}
	handler, err := New(store, opts...)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return fixture{store: store, adapter: adapter, handler: handler}
}

func (f fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestNewRequiresStore(t *testing.T) {
	if _, err := New(nil); !errors.Is(err, fieldstore.ErrStoreRequired) {
		t.Fatalf("expected ErrStoreRequired, got %v", err)
	}
}

func TestSetAndFlushFields(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPut, "/fields/q", `{"value":"boots"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	view := decode[FieldView](t, rec)
	if view.Name != "q" || view.Value == nil || view.Value.String() != "boots" || !view.Submittable {
		t.Fatalf("unexpected field view %+v", view)
	}

	rec = f.do(t, http.MethodPost, "/fields/tags/flush", `{"value":["sale","new"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	tags, _ := f.store.Get("tags")
	if !slices.Equal(tags.Value.([]string), []string{"sale", "new"}) {
		t.Fatalf("unexpected tags %v", tags.Value)
	}
	if f.store.State().Operation != fieldstore.OpFlush {
		t.Fatalf("expected flush operation, got %q", f.store.State().Operation)
	}

	rec = f.do(t, http.MethodPut, "/fields/from", `{"value":"2024-06-10"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected date to decode, got %d: %s", rec.Code, rec.Body.String())
	}
	from, _ := f.store.Get("from")
	if got := from.Value.(time.Time); !got.Equal(time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected date %v", got)
	}

	rec = f.do(t, http.MethodPut, "/fields/q", `{"value":null}`)
	if rec.Code != http.StatusOK || decode[FieldView](t, rec).Value != nil {
		t.Fatalf("expected cleared field, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestFieldErrors(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"unknown field", http.MethodPut, "/fields/missing", `{"value":"x"}`, http.StatusNotFound},
		{"unknown get", http.MethodGet, "/fields/missing", "", http.StatusNotFound},
		{"bad number", http.MethodPut, "/fields/page", `{"value":"abc"}`, http.StatusUnprocessableEntity},
		{"bad body", http.MethodPut, "/fields/q", `{`, http.StatusBadRequest},
		{"bad wire value", http.MethodPut, "/fields/q", `{"value":3}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, tc.method, tc.path, tc.body)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
			if decode[errorResponse](t, rec).Error == "" {
				t.Fatalf("expected error message")
			}
		})
	}
}

func TestStateResetPersistRehydrate(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/reset", `{"values":{"q":"boots","tags":["a"],"unknown":"x"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset: %d %s", rec.Code, rec.Body.String())
	}
	if touched := decode[resetResponse](t, rec).Touched; !slices.Equal(touched, []string{"q", "tags"}) {
		t.Fatalf("unexpected touched %v", touched)
	}
	rec = f.do(t, http.MethodPost, "/reset", `{"values":{"q":"boots","tags":["a"]}}`)
	if touched := decode[resetResponse](t, rec).Touched; len(touched) != 0 {
		t.Fatalf("expected unchanged reset, got %v", touched)
	}

	rec = f.do(t, http.MethodPost, "/persist", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("persist: %d %s", rec.Code, rec.Body.String())
	}
	stored, _ := f.adapter.Read()
	if stored["q"].String() != "boots" || !stored["tags"].Equal(persistence.List("a")) {
		t.Fatalf("unexpected adapter content %+v", stored)
	}

	f.adapter.Replace(persistence.Dictionary{"q": persistence.Scalar("shoes"), "page": persistence.Scalar("4")})
	rec = f.do(t, http.MethodPost, "/rehydrate", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("rehydrate: %d %s", rec.Code, rec.Body.String())
	}
	state := decode[StateView](t, rec)
	if state.Operation != string(fieldstore.OpRehydrate) || state.Values["q"].String() != "shoes" || state.Values["page"].String() != "4" {
		t.Fatalf("unexpected state %+v", state)
	}

	rec = f.do(t, http.MethodGet, "/state", "")
	if got := decode[StateView](t, rec); got.Version != state.Version {
		t.Fatalf("expected same version, got %d and %d", got.Version, state.Version)
	}
}

func TestSubmitRoute(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(t, http.MethodPost, "/submit", ""); rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501 without submitter, got %d", rec.Code)
	}

	searches := 0
	submitter, err := fieldstore.NewSubmitter(f.store, func(context.Context, *fieldstore.Collection) (bool, error) {
		searches++
		return true, nil
	})
	if err != nil {
		t.Fatalf("submitter: %v", err)
	}
	var outcomes []fieldstore.SubmitResult
	handler, err := New(f.store, WithSubmitter(submitter), WithSubmitObserver(func(r fieldstore.SubmitResult) {
		outcomes = append(outcomes, r)
	}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	f.handler = handler

	rec := f.do(t, http.MethodPost, "/submit?persist=false", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("submit: %d %s", rec.Code, rec.Body.String())
	}
	if view := decode[SubmitView](t, rec); !view.Searched || view.Persisted {
		t.Fatalf("unexpected submit view %+v", view)
	}
	if f.adapter.Writes() != 0 {
		t.Fatalf("expected no write")
	}

	if err := f.store.Set("page", 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	rec = f.do(t, http.MethodPost, "/submit", "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for invalid fields, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/submit?persist=maybe", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad flag, got %d", rec.Code)
	}
	if searches != 1 || len(outcomes) != 2 {
		t.Fatalf("expected one search and two observed outcomes, got %d and %d", searches, len(outcomes))
	}
}

func TestChipsAndSchema(t *testing.T) {
	f := newFixture(t)
	if err := f.store.Set("q", "boots"); err != nil {
		t.Fatalf("set: %v", err)
	}

	chips := decode[[]fieldstore.Chip](t, f.do(t, http.MethodGet, "/chips?preserveOrder=true", ""))
	if len(chips) != 1 || chips[0].Label != "Search: boots" {
		t.Fatalf("unexpected chips %+v", chips)
	}

	rec := f.do(t, http.MethodGet, "/schema", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"param":"tags[]"`) {
		t.Fatalf("unexpected schema %d %s", rec.Code, rec.Body.String())
	}
}

func TestWatchStreamsSnapshots(t *testing.T) {
	f := newFixture(t)
	server := httptest.NewServer(f.handler)
	defer server.Close()
	defer f.handler.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/watch"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	read := func() StateView {
		t.Helper()
		if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
			t.Fatalf("deadline: %v", err)
		}
		var view StateView
		if err := conn.ReadJSON(&view); err != nil {
			t.Fatalf("read: %v", err)
		}
		return view
	}

	initial := read()
	if initial.Values["page"].String() != "1" {
		t.Fatalf("unexpected initial snapshot %+v", initial)
	}

	if err := f.store.Set("q", "boots"); err != nil {
		t.Fatalf("set: %v", err)
	}
	for {
		view := read()
		if view.Operation == string(fieldstore.OpSet) {
			if view.Values["q"].String() != "boots" || view.Version <= initial.Version {
				t.Fatalf("unexpected streamed snapshot %+v", view)
			}
			return
		}
	}
}
