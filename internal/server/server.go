package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bourbonbuddy/tastecast/internal/metrics"
	"github.com/bourbonbuddy/tastecast/internal/relay"
	"github.com/gorilla/mux"
)

// Options configures the relay's HTTP surface.
type Options struct {
	Addr           string
	PollWait       time.Duration
	PollSessionTTL time.Duration
	CookieName     string
}

// Server wires the relay hub to HTTP.
type Server struct {
	opts     Options
	hub      *relay.Hub
	sessions *relay.PollSessions
	metrics  metrics.Collector
	logger   *slog.Logger
	router   *mux.Router
}

// New creates a server. Call Start (or Run) before serving requests.
func New(opts Options, collector metrics.Collector, logger *slog.Logger) *Server {
	if opts.PollWait <= 0 {
		opts.PollWait = 25 * time.Second
	}
	if opts.PollSessionTTL <= 0 {
		opts.PollSessionTTL = time.Minute
	}

	hub := relay.NewHub(collector, logger.With("component", "hub"))
	s := &Server{
		opts:     opts,
		hub:      hub,
		sessions: relay.NewPollSessions(hub, opts.PollSessionTTL, collector, logger.With("component", "poll")),
		metrics:  collector,
		logger:   logger,
		router:   mux.NewRouter(),
	}
	s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub exposes the relay hub.
func (s *Server) Hub() *relay.Hub {
	return s.hub
}

// Start runs the hub and the poll session reaper until ctx is done.
// Cancelling ctx sends every channel a restart notice.
func (s *Server) Start(ctx context.Context) {
	go s.hub.Run(ctx)
	go s.sessions.Reap(ctx, s.opts.PollSessionTTL/2)
}

// Run serves on Addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	s.Start(hubCtx)

	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting relay server", "addr", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("relay server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down relay server")
	stopHub()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
