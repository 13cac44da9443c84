package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	fieldstore "github.com/goliatone/go-fieldstore"
	"github.com/goliatone/go-fieldstore/persistence"
	"github.com/goliatone/go-fieldstore/pkg/activity"
	"github.com/goliatone/go-fieldstore/pkg/activity/usersink"
	"github.com/goliatone/go-fieldstore/pkg/httpbind"
	"github.com/goliatone/go-fieldstore/pkg/metrics"
	"github.com/goliatone/go-fieldstore/pkg/state"
	usertypes "github.com/goliatone/go-users/pkg/types"
)

type serveOptions struct {
	addr        string
	db          string
	user        string
	bind        bool
	audit       bool
	anyOrigin   bool
	shutdownTTL time.Duration
}

func serveCmd(root *rootOptions) *cobra.Command {
	opts := serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a form over HTTP",
		Long: `Serve the form over HTTP and websocket.

The form routes are mounted under /form and Prometheus metrics under
/metrics. Values are kept in memory unless --db names a bolt file, in which
case they are saved as the search of --user (or as the system search).

Examples:
  fieldstore serve --spec form.json
  fieldstore serve --spec form.json --db searches.db --user 42 --bind`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cmd.ErrOrStderr(), root, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.addr, "addr", "a", ":8080", "Address to listen on")
	cmd.Flags().StringVar(&opts.db, "db", "", "Bolt file holding saved searches")
	cmd.Flags().StringVar(&opts.user, "user", "", "Owner of the saved search (requires --db)")
	cmd.Flags().BoolVar(&opts.bind, "bind", false, "Search automatically after every change")
	cmd.Flags().BoolVar(&opts.audit, "audit", false, "Log store activity records")
	cmd.Flags().BoolVar(&opts.anyOrigin, "any-origin", false, "Accept websocket connections from any origin")
	cmd.Flags().DurationVar(&opts.shutdownTTL, "shutdown-timeout", 5*time.Second, "Grace period for open requests")
	return cmd
}

func runServe(ctx context.Context, logs io.Writer, root *rootOptions, opts serveOptions) error {
	logger := root.logger(logs)
	srv, err := newServer(ctx, root, opts, logger)
	if err != nil {
		return err
	}
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              opts.addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	logger.Info("fieldstore: serving", slog.String("addr", opts.addr), slog.String("store", srv.store.ID()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.shutdownTTL)
	defer cancel()
	srv.handler.Close()
	return httpServer.Shutdown(shutdownCtx)
}

// server wires one store to its HTTP surface and metrics.
type server struct {
	store   *fieldstore.Store
	handler *httpbind.Handler
	router  chi.Router
	cleanup []func()
}

func newServer(ctx context.Context, root *rootOptions, opts serveOptions, logger *slog.Logger) (*server, error) {
	file, err := root.load()
	if err != nil {
		return nil, err
	}
	srv := &server{}

	adapter, err := srv.adapter(ctx, file.ID, opts)
	if err != nil {
		return nil, err
	}
	storeOpts := []fieldstore.Option{
		fieldstore.WithAdapter(adapter),
		fieldstore.WithLogger(logger),
		fieldstore.WithTracer(otel.Tracer("github.com/goliatone/go-fieldstore/cmd/fieldstore")),
	}
	if opts.audit {
		storeOpts = append(storeOpts,
			fieldstore.WithActivityHooks(activity.Hooks{
				usersink.Hook{Sink: logSink{logger: logger}},
			}),
			fieldstore.WithActivityConfig(activity.Config{
				Enabled: true,
				Actor:   activity.Actor{ActorID: opts.user, UserID: opts.user},
			}),
		)
	}
	store, err := file.NewStore(ctx, storeOpts...)
	if err != nil {
		srv.Close()
		return nil, err
	}
	srv.store = store

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	collector := metrics.New(metrics.WithRegistry(registry))
	srv.cleanup = append(srv.cleanup, collector.Observe(store))

	submitter, err := fieldstore.NewSubmitter(store, searchLogger(logger), fieldstore.WithSubmitLogger(logger))
	if err != nil {
		srv.Close()
		return nil, err
	}
	if opts.bind {
		srv.cleanup = append(srv.cleanup, submitter.Bind(ctx))
	}

	handlerOpts := []httpbind.Option{
		httpbind.WithLogger(logger),
		httpbind.WithSubmitter(submitter),
		httpbind.WithSubmitObserver(func(result fieldstore.SubmitResult) {
			collector.RecordSubmit(store.ID(), result)
		}),
	}
	if opts.anyOrigin {
		handlerOpts = append(handlerOpts, httpbind.WithCheckOrigin(func(*http.Request) bool { return true }))
	}
	handler, err := httpbind.New(store, handlerOpts...)
	if err != nil {
		srv.Close()
		return nil, err
	}
	srv.handler = handler

	r := chi.NewRouter()
	r.Mount("/form", handler)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	srv.router = r
	return srv, nil
}

// adapter opens the bolt file when one is configured. The search is keyed by
// the form id.
func (s *server) adapter(ctx context.Context, domain string, opts serveOptions) (persistence.Adapter, error) {
	if opts.db == "" {
		if opts.user != "" {
			return nil, fmt.Errorf("--user requires --db")
		}
		return persistence.NewMemoryAdapter(nil), nil
	}
	if domain == "" {
		domain = "form"
	}
	bolt, err := state.OpenBoltStore[persistence.Dictionary](opts.db)
	if err != nil {
		return nil, err
	}
	s.cleanup = append(s.cleanup, func() { _ = bolt.Close() })

	ref := state.Ref{Domain: domain, Scope: state.NewScope("system", state.ScopePrioritySystem)}
	var fallbacks []state.Scope
	if opts.user != "" {
		fallbacks = append(fallbacks, ref.Scope)
		ref.Scope = state.NewScope("user", state.ScopePriorityUser,
			state.WithScopeMetadata(map[string]any{"user_id": opts.user}))
	}
	return persistence.NewStateAdapter(bolt, ref,
		persistence.WithStateContext(ctx),
		persistence.WithFallbackScopes(fallbacks...),
	)
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close releases subscriptions, streams and the bolt file, in reverse order.
func (s *server) Close() {
	if s.handler != nil {
		s.handler.Close()
	}
	for i := len(s.cleanup) - 1; i >= 0; i-- {
		s.cleanup[i]()
	}
	s.cleanup = nil
}

// searchLogger stands in for a search backend: it logs the submitted values.
func searchLogger(logger *slog.Logger) fieldstore.SearchFunc {
	return func(_ context.Context, fields *fieldstore.Collection) (bool, error) {
		logger.Info("fieldstore: search", slog.Any("values", fields.Actives().Primitives()))
		return true, nil
	}
}

type logSink struct {
	logger *slog.Logger
}

func (s logSink) Log(_ context.Context, record usertypes.ActivityRecord) error {
	s.logger.Info("fieldstore: activity",
		slog.String("verb", record.Verb),
		slog.String("object_type", record.ObjectType),
		slog.String("object_id", record.ObjectID),
		slog.Any("data", record.Data),
	)
	return nil
}
