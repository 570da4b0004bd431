// Package server is the HTTP surface of the gateway: bearer-authenticated
// query endpoints, the discovery document, liveness, and metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"kipgate/internal/config"
	"kipgate/internal/engine"
	"kipgate/internal/graph"
	"kipgate/internal/logging"
	"kipgate/internal/telemetry"
)

const shutdownGrace = 10 * time.Second

// Options wires a Server. Telemetry and Gatherer may be nil; the
// corresponding endpoint or background loop is skipped.
type Options struct {
	Config    *config.Config
	Engine    *engine.Engine
	Store     graph.Store
	Telemetry *telemetry.Buffer
	Gatherer  prometheus.Gatherer
}

// Server owns the router and the process run group.
type Server struct {
	cfg      *config.Config
	engine   *engine.Engine
	store    graph.Store
	tel      *telemetry.Buffer
	gatherer prometheus.Gatherer
}

// New builds a Server from its dependencies.
func New(opts Options) *Server {
	s := &Server{
		cfg:      opts.Config,
		engine:   opts.Engine,
		store:    opts.Store,
		tel:      opts.Telemetry,
		gatherer: opts.Gatherer,
	}
	if s.cfg.Server.AuthToken == "" {
		logging.Get(logging.CategoryHTTP).Warn("KIP_TOKEN is not set; all requests are accepted")
	}
	return s
}

// Router assembles the chi mux. The discovery document, liveness probe, and
// metrics are unauthenticated; everything else requires the bearer token.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(s.requestID)

	r.Get("/.well-known/ai-plugin.json", s.handleDiscovery)
	r.Get("/healthz", s.handleHealthz)
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics",
			promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.withTimeout)
		r.Post("/execute_kip", s.handleQuery(true))
		r.Post("/kql", s.handleQuery(false))
		r.Post("/propositions", s.handlePropositions)
	})
	return r
}

// Run serves HTTP and drives the telemetry flusher until ctx is canceled,
// then shuts the listener down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	if s.tel != nil {
		g.Go(func() error { return s.tel.Run(ctx) })
	}
	g.Go(func() error {
		logging.HTTP("Gateway listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		logging.HTTP("Shutting down")
		return srv.Shutdown(shutCtx)
	})
	return g.Wait()
}
