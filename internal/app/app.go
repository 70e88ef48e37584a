// Package app provides application initialization and dependency wiring.
//
// App is the container that builds the full retrieval stack from a Config:
// genkit with the selected provider plugin, the embedder decorators, the
// index backend, and the retrieval, prompt, ingestion, and answer
// components on top of them.
package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/passagedev/passage/internal/answer"
	"github.com/passagedev/passage/internal/chunk"
	"github.com/passagedev/passage/internal/config"
	"github.com/passagedev/passage/internal/embed"
	"github.com/passagedev/passage/internal/index"
	"github.com/passagedev/passage/internal/ingest"
	"github.com/passagedev/passage/internal/prompt"
	"github.com/passagedev/passage/internal/retrieve"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Genkit   *genkit.Genkit
	Embedder embed.Embedder
	Index    index.Index
	Pool     *pgxpool.Pool // nil for the memory backend

	Chunker   *chunk.Chunker
	Retriever *retrieve.Retriever
	Composer  *prompt.Composer
	Pipeline  *ingest.Pipeline
	Answer    *answer.Service

	otelShutdown func(context.Context) error
}

// Close releases all resources: the memory snapshot is persisted, the
// database pool closed, and pending trace spans flushed. Errors are
// collected rather than short-circuiting so every resource gets its
// shutdown attempt.
func (a *App) Close() error {
	var errs []error

	if err := a.PersistSnapshot(); err != nil {
		errs = append(errs, err)
	}

	if a.Pool != nil {
		a.Pool.Close()
		a.Logger.Debug("database pool closed")
	}

	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.otelShutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// PersistSnapshot writes the memory index to the configured snapshot path.
// It is a no-op for the postgres backend or when no path is configured.
func (a *App) PersistSnapshot() error {
	mem, ok := a.Index.(*index.Memory)
	if !ok || a.Config.SnapshotPath == "" {
		return nil
	}
	if err := mem.Persist(a.Config.SnapshotPath); err != nil {
		return err
	}
	a.Logger.Debug("index snapshot written", "path", a.Config.SnapshotPath)
	return nil
}
