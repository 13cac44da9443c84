package persistence

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"
)

// URLMode controls how a write is recorded in the navigation history.
type URLMode int

const (
	// ModePush adds a new history entry (default).
	ModePush URLMode = iota
	// ModeReplace replaces the current history entry.
	ModeReplace
)

func (m URLMode) String() string {
	if m == ModeReplace {
		return "replace"
	}
	return "push"
}

// Navigator is notified after every write that changed the location. Server
// side integrations use it to forward the new URL to the client.
type Navigator func(location string, mode URLMode)

// URLOption configures a URLAdapter.
type URLOption func(*URLAdapter)

// WithURLMode selects push or replace history semantics for writes.
func WithURLMode(mode URLMode) URLOption {
	return func(a *URLAdapter) {
		a.mode = mode
	}
}

// WithNavigator registers a callback invoked with the new location after a
// write changed the query string.
func WithNavigator(navigator Navigator) URLOption {
	return func(a *URLAdapter) {
		a.navigator = navigator
	}
}

// URLAdapter persists values in a URL query string using the `name[]=`
// repeated-key convention for arrays. It keeps its own navigation history so
// Back and Forward behave like browser history navigation: they move the
// location and notify subscribers.
type URLAdapter struct {
	mu        sync.RWMutex
	history   []string
	index     int
	mode      URLMode
	navigator Navigator
	subs      subscribers
}

// NewURLAdapter starts a history at location. Only the path and query
// components of location are kept.
func NewURLAdapter(location string, opts ...URLOption) (*URLAdapter, error) {
	normalized, err := normalizeLocation(location)
	if err != nil {
		return nil, err
	}
	a := &URLAdapter{history: []string{normalized}}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// Location returns the current path and query.
func (a *URLAdapter) Location() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.history[a.index]
}

// Len returns the number of history entries.
func (a *URLAdapter) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.history)
}

func (a *URLAdapter) Read() (Dictionary, error) {
	query, err := a.query()
	if err != nil {
		return nil, err
	}
	values := Dictionary{}
	for key, items := range query {
		if IsArrayKey(key) {
			values[NormalizeKey(key)] = List(items...)
			continue
		}
		if len(items) > 0 {
			values[key] = Scalar(items[0])
		}
	}
	return values, nil
}

func (a *URLAdapter) Write(values Dictionary, whitelist []string) error {
	current, err := a.query()
	if err != nil {
		return err
	}

	next := url.Values{}
	if whitelist != nil {
		for key, items := range current {
			if slices.Contains(whitelist, NormalizeKey(key)) {
				continue
			}
			next[key] = slices.Clone(items)
		}
	}

	for key, value := range values {
		if value.List {
			items := slices.Clone(value.Items)
			slices.Sort(items)
			items = slices.Compact(items)
			for _, item := range items {
				next.Add(ArrayKey(key), item)
			}
			continue
		}
		if value.IsZero() {
			continue
		}
		next.Add(key, value.Items[0])
	}

	encoded := next.Encode()
	if encoded == current.Encode() {
		return nil
	}

	a.mu.Lock()
	path := pathOf(a.history[a.index])
	location := path
	if encoded != "" {
		location = path + "?" + encoded
	}
	mode := a.mode
	if mode == ModeReplace {
		a.history[a.index] = location
	} else {
		a.history = append(a.history[:a.index+1], location)
		a.index = len(a.history) - 1
	}
	navigator := a.navigator
	a.mu.Unlock()

	if navigator != nil {
		navigator(location, mode)
	}
	return nil
}

func (a *URLAdapter) Subscribe(callback func()) Unsubscribe {
	return a.subs.add(callback)
}

// Navigate records an externally driven location change (a link follow or a
// server redirect) and notifies subscribers.
func (a *URLAdapter) Navigate(location string) error {
	normalized, err := normalizeLocation(location)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.history = append(a.history[:a.index+1], normalized)
	a.index = len(a.history) - 1
	a.mu.Unlock()
	a.subs.notify()
	return nil
}

// Back moves one entry back in history. It reports false at the first entry.
func (a *URLAdapter) Back() bool {
	return a.move(-1)
}

// Forward moves one entry forward in history. It reports false at the last
// entry.
func (a *URLAdapter) Forward() bool {
	return a.move(1)
}

func (a *URLAdapter) move(delta int) bool {
	a.mu.Lock()
	target := a.index + delta
	if target < 0 || target >= len(a.history) {
		a.mu.Unlock()
		return false
	}
	a.index = target
	a.mu.Unlock()
	a.subs.notify()
	return true
}

func (a *URLAdapter) query() (url.Values, error) {
	location := a.Location()
	_, raw, _ := strings.Cut(location, "?")
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, fmt.Errorf("persistence: parse query %q: %w", raw, err)
	}
	return values, nil
}

// IsArrayKey reports whether key uses the `name[]` convention.
func IsArrayKey(key string) bool {
	return strings.HasSuffix(key, "[]")
}

// NormalizeKey strips the `[]` suffix from array keys.
func NormalizeKey(key string) string {
	return strings.TrimSuffix(key, "[]")
}

// ArrayKey returns the `name[]` form of key.
func ArrayKey(key string) string {
	return key + "[]"
}

func normalizeLocation(location string) (string, error) {
	parsed, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("persistence: parse location %q: %w", location, err)
	}
	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	if parsed.RawQuery == "" {
		return path, nil
	}
	return path + "?" + parsed.RawQuery, nil
}

func pathOf(location string) string {
	path, _, _ := strings.Cut(location, "?")
	return path
}
