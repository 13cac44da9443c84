package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	fieldstore "github.com/goliatone/go-fieldstore"
)

const formFile = `{
  "id": "products",
  "fields": [
    {"name": "q", "type": "string", "submittable": true, "label": "Search"},
    {"name": "tags", "type": "string[]", "label": "Tag"},
    {"name": "page", "type": "number", "default": "1", "rules": [{"kind": "range", "min": 1}]}
  ]
}`

func writeForm(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "form.json")
	if err := os.WriteFile(path, []byte(formFile), 0o600); err != nil {
		t.Fatalf("write form: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSpecFlagRequired(t *testing.T) {
	if _, err := execute(t, "inspect"); err == nil || !strings.Contains(err.Error(), "--spec") {
		t.Fatalf("expected missing spec error, got %v", err)
	}
}

func TestInspectHydratesFromLocation(t *testing.T) {
	spec := writeForm(t)
	out, err := execute(t, "inspect", "--spec", spec, "/search?q=boots&tags[]=sale&tags[]=new&page=0")
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	var report inspectReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if report.ID != "products" || report.Values["q"].String() != "boots" || report.Values["page"].String() != "0" {
		t.Fatalf("unexpected report %+v", report)
	}
	if !slices.Equal(report.Values["tags"].Strings(), []string{"sale", "new"}) {
		t.Fatalf("unexpected tags %v", report.Values["tags"])
	}
	if !slices.Equal(report.Submittable, []string{"q"}) {
		t.Fatalf("unexpected submittable %v", report.Submittable)
	}
	if report.Errors["page"] == nil {
		t.Fatalf("expected page error, got %+v", report.Errors)
	}
	labels := make([]string, 0, len(report.Chips))
	for _, chip := range report.Chips {
		labels = append(labels, chip.Label)
	}
	if !slices.Equal(labels, []string{"Search: boots", "Tag: sale", "Tag: new"}) {
		t.Fatalf("unexpected chips %v", labels)
	}
}

func TestInspectSetPersistsToLocation(t *testing.T) {
	spec := writeForm(t)
	out, err := execute(t, "inspect", "--spec", spec, "/search?page=3",
		"--set", "q=boots", "--set", "tags[]=sale", "--set", "tags=new")
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	var report inspectReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	location, err := url.Parse(report.Location)
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	query := location.Query()
	if location.Path != "/search" || query.Get("q") != "boots" || query.Get("page") != "3" {
		t.Fatalf("unexpected location %q", report.Location)
	}
	if !slices.Equal(query["tags[]"], []string{"new", "sale"}) {
		t.Fatalf("unexpected tags in location %q", report.Location)
	}
}

func TestInspectRejectsBadAssignments(t *testing.T) {
	spec := writeForm(t)
	cases := []struct {
		name string
		set  string
		want string
	}{
		{"no value", "q", "expected name=value"},
		{"unknown field", "missing=1", "missing"},
		{"bad number", "page=abc", "page"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := execute(t, "inspect", "--spec", spec, "--set", tc.set)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}

	_, err := execute(t, "inspect", "--spec", spec, "--set", "q=a", "--set", "q=b")
	if err == nil || !strings.Contains(err.Error(), "not an array") {
		t.Fatalf("expected scalar repeat error, got %v", err)
	}
	_, err = execute(t, "inspect", "--spec", spec, "--set", "nope=1")
	if !errors.Is(err, fieldstore.ErrFieldNotFound) {
		t.Fatalf("expected ErrFieldNotFound, got %v", err)
	}
}

func TestOpenAPIPrintsParameters(t *testing.T) {
	spec := writeForm(t)
	out, err := execute(t, "openapi", "--spec", spec, "--path", "/products", "--operation-id", "searchProducts")
	if err != nil {
		t.Fatalf("openapi: %v", err)
	}
	var doc struct {
		Info struct {
			Version string `json:"version"`
		} `json:"info"`
		Paths map[string]map[string]struct {
			OperationID string           `json:"operationId"`
			Parameters  []map[string]any `json:"parameters"`
		} `json:"paths"`
	}
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	operation, ok := doc.Paths["/products"]["get"]
	if !ok || operation.OperationID != "searchProducts" {
		t.Fatalf("unexpected paths %+v", doc.Paths)
	}
	if operation.Parameters[0]["description"] != "Search" {
		t.Fatalf("expected label as description, got %v", operation.Parameters[0])
	}
	names := make([]string, 0, len(operation.Parameters))
	for _, parameter := range operation.Parameters {
		names = append(names, parameter["name"].(string))
	}
	if !slices.Equal(names, []string{"q", "tags[]", "page"}) {
		t.Fatalf("unexpected parameters %v", names)
	}
	if doc.Info.Version != "1.0.0" {
		t.Fatalf("expected default info version, got %q", doc.Info.Version)
	}

	out, err = execute(t, "openapi", "--spec", spec, "--descriptors")
	if err != nil {
		t.Fatalf("descriptors: %v", err)
	}
	var descriptors []fieldstore.FieldDescriptor
	if err := json.Unmarshal([]byte(out), &descriptors); err != nil {
		t.Fatalf("decode descriptors %q: %v", out, err)
	}
	if len(descriptors) != 3 || descriptors[2].Default == nil || descriptors[2].Default.String() != "1" {
		t.Fatalf("unexpected descriptors %+v", descriptors)
	}
}

func newTestServer(t *testing.T, opts serveOptions) (*server, *httptest.Server) {
	t.Helper()
	root := &rootOptions{spec: writeForm(t)}
	srv, err := newServer(context.Background(), root, opts, root.logger(io.Discard))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return srv, ts
}

func send(t *testing.T, method, target, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, target, strings.NewReader(body))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, target, err)
	}
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func TestServeRoutesAndMetrics(t *testing.T) {
	_, ts := newTestServer(t, serveOptions{})

	if res := send(t, http.MethodPut, ts.URL+"/form/fields/q", `{"value":"boots"}`); res.StatusCode != http.StatusOK {
		t.Fatalf("set: %d", res.StatusCode)
	}
	if res := send(t, http.MethodPost, ts.URL+"/form/submit", ""); res.StatusCode != http.StatusOK {
		t.Fatalf("submit: %d", res.StatusCode)
	}
	if res := send(t, http.MethodGet, ts.URL+"/healthz", ""); res.StatusCode != http.StatusNoContent {
		t.Fatalf("healthz: %d", res.StatusCode)
	}

	res := send(t, http.MethodGet, ts.URL+"/metrics", "")
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	for _, line := range []string{
		`fieldstore_submits_total{outcome="persisted",store="products"} 1`,
		`fieldstore_persists_total{store="products"} 1`,
		`fieldstore_fields{store="products"} 3`,
	} {
		if !strings.Contains(string(body), line) {
			t.Fatalf("expected %q in metrics:\n%s", line, body)
		}
	}
}

func TestServeBindSearchesOnChange(t *testing.T) {
	srv, ts := newTestServer(t, serveOptions{bind: true})

	if res := send(t, http.MethodPut, ts.URL+"/form/fields/q", `{"value":"boots"}`); res.StatusCode != http.StatusOK {
		t.Fatalf("set: %d", res.StatusCode)
	}
	res := send(t, http.MethodGet, ts.URL+"/metrics", "")
	body, _ := io.ReadAll(res.Body)
	if !strings.Contains(string(body), `fieldstore_persists_total{store="products"} 1`) {
		t.Fatalf("expected bound submitter to persist:\n%s", body)
	}
	if srv.store.State().Collection.Primitives()["q"].String() != "boots" {
		t.Fatalf("unexpected store state")
	}
}

func TestServeSavesSearchesInBolt(t *testing.T) {
	db := filepath.Join(t.TempDir(), "searches.db")

	first, ts := newTestServer(t, serveOptions{db: db, user: "42"})
	if res := send(t, http.MethodPut, ts.URL+"/form/fields/q", `{"value":"boots"}`); res.StatusCode != http.StatusOK {
		t.Fatalf("set: %d", res.StatusCode)
	}
	if res := send(t, http.MethodPost, ts.URL+"/form/persist", ""); res.StatusCode != http.StatusOK {
		t.Fatalf("persist: %d", res.StatusCode)
	}
	ts.Close()
	first.Close()

	second, _ := newTestServer(t, serveOptions{db: db, user: "42"})
	if got := second.store.State().Collection.Primitives()["q"].String(); got != "boots" {
		t.Fatalf("expected saved search, got %q", got)
	}
	second.Close()

	other, _ := newTestServer(t, serveOptions{db: db, user: "7"})
	if _, ok := other.store.State().Collection.Primitives()["q"]; ok {
		t.Fatalf("expected another user to start empty")
	}
}

func TestServeUserRequiresDB(t *testing.T) {
	root := &rootOptions{spec: writeForm(t)}
	if _, err := newServer(context.Background(), root, serveOptions{user: "42"}, root.logger(io.Discard)); err == nil {
		t.Fatalf("expected --user without --db to fail")
	}
}
