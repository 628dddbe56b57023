// Package server assembles the facilitator's HTTP surface: the REST API,
// health endpoints, and API docs, behind one http.Server with graceful
// shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	httpSwagger "github.com/swaggo/http-swagger/v2"

	_ "github.com/agoramesh/facilitator/docs" // register swagger docs
	"github.com/agoramesh/facilitator/pkg/health"
)

// Version is set at build time.
var Version = "dev"

// Config configures the HTTP server.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// TLSCertFile and TLSKeyFile enable TLS when both are set.
	TLSCertFile string
	TLSKeyFile  string

	// Logger is the structured logger. Defaults to slog.Default().
	Logger *slog.Logger
}

// Server serves the facilitator API over HTTP.
type Server struct {
	cfg Config
	srv *http.Server
	log *slog.Logger
}

// New creates a server routing api under /api/v1/ alongside the health
// and docs endpoints.
func New(cfg Config, apiHandler http.Handler, checker *health.Checker) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/api/v1/", apiHandler)
	mux.HandleFunc("GET /healthz", checker.LivenessHandler())
	mux.HandleFunc("GET /readyz", checker.ReadinessHandler())
	mux.Handle("GET /swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	return &Server{
		cfg: cfg,
		log: cfg.Logger,
		srv: &http.Server{
			Addr:         cfg.Address,
			Handler:      mux,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
}

// Run serves until ctx is cancelled, then drains in-flight requests for
// at most ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "address", s.cfg.Address, "version", Version)
		errCh <- s.listen()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

// listen starts the listener, with TLS when configured.
func (s *Server) listen() error {
	var err error
	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		err = s.srv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	} else {
		err = s.srv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Handler returns the assembled mux, for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }
