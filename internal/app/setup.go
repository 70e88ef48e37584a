package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/passagedev/passage/db"
	"github.com/passagedev/passage/internal/answer"
	"github.com/passagedev/passage/internal/chunk"
	"github.com/passagedev/passage/internal/config"
	"github.com/passagedev/passage/internal/database"
	"github.com/passagedev/passage/internal/embed"
	"github.com/passagedev/passage/internal/index"
	"github.com/passagedev/passage/internal/ingest"
	"github.com/passagedev/passage/internal/log"
	"github.com/passagedev/passage/internal/observability"
	"github.com/passagedev/passage/internal/prompt"
	"github.com/passagedev/passage/internal/retrieve"
)

// Setup builds and initializes the application. The caller must Close the
// returned App; on error, everything already initialized is released here.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = log.New(log.Config{})
	}
	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	// Tracing must be wired before genkit.Init so spans from provider
	// calls reach the exporter.
	otelShutdown, err := observability.Setup(ctx, cfg.Tracing, logger)
	if err != nil {
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}
	a.otelShutdown = otelShutdown

	g, aiEmbedder, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	a.Embedder, err = provideEmbedder(aiEmbedder, cfg)
	if err != nil {
		return nil, fmt.Errorf("building embedder: %w", err)
	}

	a.Index, a.Pool, err = provideIndex(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("building index: %w", err)
	}

	a.Chunker, err = chunk.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("building chunker: %w", err)
	}

	a.Retriever = retrieve.New(a.Embedder, a.Index,
		retrieve.WithFetchMultiplier(cfg.FetchMultiplier),
		retrieve.WithMaxPerDocument(cfg.MaxPerDocument),
		retrieve.WithLogger(logger),
	)

	a.Composer, err = prompt.New(cfg.MaxContextChars, prompt.WithMinContextChars(cfg.MinContextChars))
	if err != nil {
		return nil, fmt.Errorf("building prompt composer: %w", err)
	}

	a.Pipeline = ingest.New(a.Chunker, a.Embedder, a.Index,
		ingest.WithWorkers(cfg.IngestWorkers),
		ingest.WithLogger(logger),
	)

	generator := answer.NewGenkitGenerator(g, cfg.FullModelName())
	a.Answer = answer.New(a.Retriever, a.Composer, generator,
		answer.WithSystemText(cfg.SystemPrompt),
		answer.WithLogger(logger),
	)

	return a, nil
}

// provideGenkit initializes genkit with the configured provider plugin and
// returns the provider's embedder handle.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, ai.Embedder, error) {
	switch cfg.Provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g := genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama has no auto-discovery; model and embedder are registered
		// explicitly.
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		logger.Info("initialized genkit with ollama provider",
			"model", cfg.ModelName, "host", cfg.OllamaHost)
		return g, ollama.Embedder(g, cfg.OllamaHost), nil

	default: // googleai
		g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, nil, errors.New("initializing genkit with googleai provider")
		}
		logger.Info("initialized genkit with googleai provider", "model", cfg.ModelName)
		return g, googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel), nil
	}
}

// provideEmbedder wraps the provider embedder with the configured
// decorators, innermost first: genkit adapter, rate limiter, LRU cache.
func provideEmbedder(aiEmbedder ai.Embedder, cfg *config.Config) (embed.Embedder, error) {
	if aiEmbedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}

	var embedder embed.Embedder = embed.NewGenkit(aiEmbedder, cfg.EmbedderDimension, cfg.EmbedderBatchSize)
	if cfg.EmbedderRPM > 0 {
		embedder = embed.NewRateLimited(embedder, cfg.EmbedderRPM)
	}
	if cfg.EmbedderCacheSize > 0 {
		cached, err := embed.NewCache(embedder, cfg.EmbedderCacheSize)
		if err != nil {
			return nil, err
		}
		embedder = cached
	}
	return embedder, nil
}

// provideIndex builds the configured index backend. For postgres it runs
// migrations and opens the pool; for memory it restores the snapshot when
// one exists.
func provideIndex(ctx context.Context, cfg *config.Config, logger log.Logger) (index.Index, *pgxpool.Pool, error) {
	metric, err := index.ParseMetric(cfg.IndexMetric)
	if err != nil {
		return nil, nil, err
	}

	switch cfg.IndexBackend {
	case config.IndexBackendPostgres:
		if err := db.Migrate(cfg.ConnURL(), logger); err != nil {
			return nil, nil, fmt.Errorf("running migrations: %w", err)
		}
		pool, err := database.Open(ctx, cfg.ConnURL())
		if err != nil {
			return nil, nil, err
		}
		idx, err := index.NewPostgres(pool, cfg.EmbedderDimension, metric, logger)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return idx, pool, nil

	default: // memory
		if cfg.SnapshotPath != "" {
			if _, statErr := os.Stat(cfg.SnapshotPath); statErr == nil {
				idx, err := index.RestoreMemory(cfg.SnapshotPath)
				if err != nil {
					return nil, nil, err
				}
				if idx.Dimension() != cfg.EmbedderDimension {
					return nil, nil, fmt.Errorf("%w: snapshot has %d, config expects %d",
						index.ErrDimensionMismatch, idx.Dimension(), cfg.EmbedderDimension)
				}
				logger.Info("index snapshot restored", "path", cfg.SnapshotPath)
				return idx, nil, nil
			}
		}
		idx, err := index.NewMemory(cfg.EmbedderDimension, metric)
		if err != nil {
			return nil, nil, err
		}
		return idx, nil, nil
	}
}
