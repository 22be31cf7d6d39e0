// Package server exposes a listener.Listener over HTTP.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/xerrors"

	"github.com/coder/csplistener/listener"
)

// ReportPaths are the routes browsers may post reports to.
var ReportPaths = []string{
	"/csp-reports",
	"/_/csp-reports",
	"/.well-known/csp-reports",
}

// DefaultRedirectURL is where GET / sends visitors.
const DefaultRedirectURL = "https://github.com/alphagov/browser-listener"

// Server serves CSP reports.
type Server struct {
	address    string
	handler    http.Handler
	logger     *slog.Logger
	httpServer *http.Server
	started    atomic.Bool

	listener net.Listener
}

// Config holds configuration for the report server
type Config struct {
	Address     string
	Listener    *listener.Listener
	Logger      *slog.Logger
	RedirectURL string
}

// New creates a new report server instance
func New(config Config) *Server {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		address: config.Address,
		handler: NewRouter(config.Listener, config.RedirectURL),
		logger:  logger,
	}
}

// NewRouter returns the report routes.
func NewRouter(l *listener.Listener, redirectURL string) http.Handler {
	if redirectURL == "" {
		redirectURL = DefaultRedirectURL
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodPost},
	}))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, redirectURL, http.StatusFound)
	})

	r.Group(func(r chi.Router) {
		r.Use(reportHeaders)
		for _, path := range ReportPaths {
			r.Post(path, reportHandler(l))
		}
	})

	return r
}

func reportHandler(l *listener.Listener) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := l.HandleReport(r)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(rec.Status)
		_, _ = io.WriteString(w, string(rec.Decision))
	}
}

// reportHeaders keeps report responses out of caches and search indexes.
func reportHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Robots-Tag", "noindex, nofollow, noimageindex")
		h.Set("Cache-Control", "public, max-age=0")
		h.Set("Pragma", "no-cache")
		h.Set("Expires", "0")
		next.ServeHTTP(w, r)
	})
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts listening and serving in the background.
func (s *Server) Start() error {
	if s.isStarted() {
		return nil
	}

	s.logger.Info("Starting CSP report listener", "address", s.address)
	var err error
	s.listener, err = net.Listen("tcp", s.address)
	if err != nil {
		s.logger.Error("Failed to create listener", "error", err)
		return xerrors.Errorf("listen on %s: %w", s.address, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelError),
	}
	s.started.Store(true)

	go func() {
		err := s.httpServer.Serve(s.listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server stopped unexpectedly", "error", err)
		}
	}()

	return nil
}

// Stop shuts the server down, waiting for in-flight reports until ctx is
// done.
func (s *Server) Stop(ctx context.Context) error {
	if s.isStopped() {
		return nil
	}
	s.started.Store(false)

	if s.httpServer == nil {
		s.logger.Error("unexpected nil server")
		return xerrors.New("unexpected nil server")
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Failed to shut down server", "error", err)
		return err
	}
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) isStarted() bool {
	return s.started.Load()
}

func (s *Server) isStopped() bool {
	return !s.started.Load()
}
