package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/passagedev/passage/api"
	"github.com/passagedev/passage/internal/app"
	"github.com/passagedev/passage/internal/config"
	"github.com/passagedev/passage/internal/log"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Serve exposes the retrieval pipeline over HTTP:

  GET  /health      liveness probe
  GET  /ready       readiness probe
  POST /api/query   answer a question
  POST /api/ingest  ingest documents`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := log.New(log.Config{})
	logger.Info("starting HTTP API server", "version", AppVersion)

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	srv, err := api.NewServer(api.ServerConfig{
		Logger:   logger,
		Answerer: a.Answer,
		Ingester: a.Pipeline,
		Pool:     a.Pool,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	addr := serveAddr
	if addr == "" {
		addr = cfg.ServerAddr
	}
	if err := srv.Run(ctx, addr); err != nil {
		return fmt.Errorf("HTTP server: %w", err)
	}
	return nil
}
