package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DebugConfig holds configuration for the operator facing server.
type DebugConfig struct {
	Address  string
	Gatherer prometheus.Gatherer
	// Pprof mounts the runtime profiler under /debug.
	Pprof  bool
	Logger *slog.Logger
}

// NewDebug creates a server for /metrics and, optionally, /debug/pprof.
func NewDebug(config DebugConfig) *Server {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		address: config.Address,
		handler: NewDebugRouter(config.Gatherer, config.Pprof),
		logger:  logger.With("server", "debug"),
	}
}

// NewDebugRouter returns the metrics and profiling routes.
func NewDebugRouter(gatherer prometheus.Gatherer, pprof bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	if pprof {
		r.Mount("/debug", middleware.Profiler())
	}
	return r
}
