// Package httpbind exposes a field store over HTTP.
//
// Values travel in their persisted wire form: a string for scalar fields and
// a list of strings for array fields, decoded through each field's
// serializer. Routes:
//
//	GET  /state                current snapshot
//	GET  /fields/{name}        one field
//	PUT  /fields/{name}        set {"value": ...}
//	POST /fields/{name}/flush  flush {"value": ...}
//	POST /reset                reset {"values": {...}}
//	POST /persist              write the store to its adapter
//	POST /rehydrate            read the adapter back into the store
//	POST /submit               dispatch the submitter (?persist=false to skip)
//	GET  /chips                active filter chips
//	GET  /schema               field descriptors
//	GET  /watch                websocket stream of snapshots
package httpbind

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	fieldstore "github.com/goliatone/go-fieldstore"
	"github.com/goliatone/go-fieldstore/persistence"
)

// ErrSubmitterMissing is reported by /submit when no submitter was configured.
var ErrSubmitterMissing = errors.New("httpbind: submitter not configured")

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger for request and stream failures.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithSubmitter enables the /submit route.
func WithSubmitter(submitter *fieldstore.Submitter) Option {
	return func(h *Handler) {
		h.submitter = submitter
	}
}

// WithCheckOrigin replaces the websocket origin check. The default accepts
// same-origin requests only.
func WithCheckOrigin(check func(*http.Request) bool) Option {
	return func(h *Handler) {
		h.upgrader.CheckOrigin = check
	}
}

// WithSubmitObserver is called with the outcome of every /submit request.
func WithSubmitObserver(observe func(fieldstore.SubmitResult)) Option {
	return func(h *Handler) {
		h.onSubmit = observe
	}
}

// Handler serves a store. It implements http.Handler.
type Handler struct {
	store     *fieldstore.Store
	submitter *fieldstore.Submitter
	onSubmit  func(fieldstore.SubmitResult)
	logger    *slog.Logger
	upgrader  websocket.Upgrader
	router    chi.Router

	mu      sync.Mutex
	streams map[*websocket.Conn]struct{}
}

// New builds the handler and its routes.
func New(store *fieldstore.Store, opts ...Option) (*Handler, error) {
	if store == nil {
		return nil, fieldstore.ErrStoreRequired
	}
	h := &Handler{
		store:  store,
		logger: slog.Default(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		streams: map[*websocket.Conn]struct{}{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}

	r := chi.NewRouter()
	r.Get("/state", h.getState)
	r.Route("/fields/{name}", func(r chi.Router) {
		r.Get("/", h.getField)
		r.Put("/", h.setField)
		r.Post("/flush", h.flushField)
	})
	r.Post("/reset", h.reset)
	r.Post("/persist", h.persist)
	r.Post("/rehydrate", h.rehydrate)
	r.Post("/submit", h.submit)
	r.Get("/chips", h.chips)
	r.Get("/schema", h.schema)
	r.Get("/watch", h.watch)
	h.router = r
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// Close terminates every open /watch stream.
func (h *Handler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.streams {
		conn.Close()
		delete(h.streams, conn)
	}
}

type valueRequest struct {
	Value persistence.Value `json:"value"`
}

type resetRequest struct {
	Values map[string]persistence.Value `json:"values"`
}

type resetResponse struct {
	Touched []string `json:"touched"`
}

func (h *Handler) getState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, NewStateView(h.store.State()))
}

func (h *Handler) getField(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	field, ok := h.store.Get(name)
	if !ok {
		h.fail(w, &fieldstore.FieldNotFoundError{Name: name, Operation: "get"})
		return
	}
	writeJSON(w, http.StatusOK, NewFieldView(field))
}

func (h *Handler) setField(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, h.store.Set)
}

func (h *Handler) flushField(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, h.store.Flush)
}

func (h *Handler) write(w http.ResponseWriter, r *http.Request, apply func(string, any) error) {
	name := chi.URLParam(r, "name")
	var body valueRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("httpbind: decode body: %w", err))
		return
	}
	value, err := h.decodeValue(r.Context(), name, body.Value)
	if err != nil {
		h.fail(w, err)
		return
	}
	if err := apply(name, value); err != nil {
		h.fail(w, err)
		return
	}
	field, _ := h.store.Get(name)
	writeJSON(w, http.StatusOK, NewFieldView(field))
}

func (h *Handler) reset(w http.ResponseWriter, r *http.Request) {
	var body resetRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("httpbind: decode body: %w", err))
		return
	}
	values := make(map[string]any, len(body.Values))
	for name, raw := range body.Values {
		if !h.store.Exists(name) {
			continue
		}
		value, err := h.decodeValue(r.Context(), name, raw)
		if err != nil {
			h.fail(w, err)
			return
		}
		values[name] = value
	}
	touched, err := h.store.Reset(values)
	if err != nil {
		h.fail(w, err)
		return
	}
	if touched == nil {
		touched = []string{}
	}
	writeJSON(w, http.StatusOK, resetResponse{Touched: touched})
}

func (h *Handler) persist(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Persist(r.Context()); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewStateView(h.store.State()))
}

func (h *Handler) rehydrate(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Rehydrate(r.Context()); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewStateView(h.store.State()))
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	if h.submitter == nil {
		writeError(w, http.StatusNotImplemented, ErrSubmitterMissing)
		return
	}
	persist := true
	if raw := r.URL.Query().Get("persist"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("httpbind: persist flag: %w", err))
			return
		}
		persist = parsed
	}

	var result fieldstore.SubmitResult
	select {
	case result = <-h.submitter.Dispatch(r.Context(), persist):
	case <-r.Context().Done():
		writeError(w, http.StatusServiceUnavailable, r.Context().Err())
		return
	}
	if h.onSubmit != nil {
		h.onSubmit(result)
	}
	writeJSON(w, submitStatus(result), NewSubmitView(result))
}

func (h *Handler) chips(w http.ResponseWriter, r *http.Request) {
	preserve, _ := strconv.ParseBool(r.URL.Query().Get("preserveOrder"))
	chips := h.store.Collection().ActiveFilters(preserve)
	if chips == nil {
		chips = []fieldstore.Chip{}
	}
	writeJSON(w, http.StatusOK, chips)
}

func (h *Handler) schema(w http.ResponseWriter, _ *http.Request) {
	doc, err := h.store.Schema(nil)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// decodeValue turns a wire value into a field value through the field
// serializer, waiting for deferred results.
func (h *Handler) decodeValue(ctx context.Context, name string, raw persistence.Value) (any, error) {
	field, ok := h.store.Get(name)
	if !ok {
		return nil, &fieldstore.FieldNotFoundError{Name: name, Operation: "decode"}
	}
	if raw.IsZero() && !raw.List {
		return nil, nil
	}
	serializer := field.Serializer
	if serializer == nil {
		var err error
		if serializer, err = fieldstore.DefaultSerializer(field.Type); err != nil {
			return nil, err
		}
	}
	value, err := serializer.Unserialize(raw)
	if err != nil {
		return nil, &decodeError{name: name, err: err}
	}
	if deferred, ok := value.(*fieldstore.Deferred); ok {
		if value, err = deferred.Await(ctx); err != nil {
			return nil, &decodeError{name: name, err: err}
		}
	}
	return value, nil
}

type decodeError struct {
	name string
	err  error
}

func (e *decodeError) Error() string {
	return fmt.Sprintf("httpbind: decode %q: %v", e.name, e.err)
}

func (e *decodeError) Unwrap() error {
	return e.err
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Warn("httpbind: request failed", slog.Any("error", err))
	}
	writeError(w, status, err)
}

func statusFor(err error) int {
	var decodeErr *decodeError
	switch {
	case errors.Is(err, fieldstore.ErrFieldNotFound):
		return http.StatusNotFound
	case errors.Is(err, fieldstore.ErrTypeMismatch), errors.As(err, &decodeErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func submitStatus(result fieldstore.SubmitResult) int {
	switch {
	case errors.Is(result.Err, fieldstore.ErrInvalidFields):
		return http.StatusUnprocessableEntity
	case result.Err != nil:
		return http.StatusBadGateway
	default:
		return http.StatusOK
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
