// Package api provides the HTTP REST API for passage.
//
// Endpoints:
//
//	GET  /health      →  liveness probe
//	GET  /ready       →  readiness probe
//	POST /api/query   →  answer a question against the indexed corpus
//	POST /api/ingest  →  ingest documents into the index
//
// File structure:
//   - server.go: HTTP server setup and lifecycle
//   - middleware.go: HTTP middleware (request id, logging, recovery)
//   - health.go: health check endpoints (/health, /ready)
//   - query.go: question answering endpoint
//   - ingest.go: document ingestion endpoint
//   - response.go: JSON response helpers
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// DefaultAddr is the default address for the HTTP server.
	DefaultAddr = "127.0.0.1:3400"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout bounds header reads to keep slow-loris clients out.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	// Ingestion bodies can be large, hence the generous bound.
	ReadTimeout = 60 * time.Second

	// WriteTimeout is the maximum duration for writing the response.
	// Generation calls dominate it.
	WriteTimeout = 2 * time.Minute

	// IdleTimeout is the keep-alive idle bound.
	IdleTimeout = 2 * time.Minute
)

// ServerConfig contains the collaborators of the API server.
type ServerConfig struct {
	Logger   *slog.Logger
	Answerer Answerer      // Required
	Ingester Ingester      // Required
	Pool     *pgxpool.Pool // Optional: nil skips the database readiness probe
}

// Server is the HTTP server for passage's REST API.
type Server struct {
	mux    *http.ServeMux
	logger *slog.Logger
}

// NewServer creates a server with all routes registered.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Answerer == nil {
		return nil, errors.New("answerer is required")
	}
	if cfg.Ingester == nil {
		return nil, errors.New("ingester is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	NewHealthHandler(cfg.Pool, logger).RegisterRoutes(mux)
	NewQueryHandler(cfg.Answerer, logger).RegisterRoutes(mux)
	NewIngestHandler(cfg.Ingester, logger).RegisterRoutes(mux)

	return &Server{mux: mux, logger: logger}, nil
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery → request id → logging → routes.
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware(s.logger),
		requestIDMiddleware(),
		loggingMiddleware(s.logger),
	)
}

// Run starts the HTTP server and blocks until the context is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
