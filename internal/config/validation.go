package config

import (
	"errors"
	"fmt"
	"os"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidChunkSize indicates chunk_size is out of range.
	ErrInvalidChunkSize = errors.New("invalid chunk size")

	// ErrInvalidChunkOverlap indicates chunk_overlap is out of range.
	ErrInvalidChunkOverlap = errors.New("invalid chunk overlap")

	// ErrInvalidProvider indicates the embedding provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrMissingAPIKey indicates a required provider API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidEmbedderModel indicates the embedder model name is empty.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidDimension indicates the embedder dimension is out of range.
	ErrInvalidDimension = errors.New("invalid embedder dimension")

	// ErrInvalidBatchSize indicates the embedder batch size is out of range.
	ErrInvalidBatchSize = errors.New("invalid embedder batch size")

	// ErrInvalidIndexBackend indicates an unknown index backend.
	ErrInvalidIndexBackend = errors.New("invalid index backend")

	// ErrInvalidIndexMetric indicates an unknown similarity metric.
	ErrInvalidIndexMetric = errors.New("invalid index metric")

	// ErrInvalidTopK indicates top_k is out of range.
	ErrInvalidTopK = errors.New("invalid top-k")

	// ErrInvalidFetchMultiplier indicates fetch_multiplier is out of range.
	ErrInvalidFetchMultiplier = errors.New("invalid fetch multiplier")

	// ErrInvalidContextBudget indicates the prompt context budget is invalid.
	ErrInvalidContextBudget = errors.New("invalid context budget")

	// ErrInvalidWorkers indicates ingest_workers is out of range.
	ErrInvalidWorkers = errors.New("invalid ingest workers")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is empty.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is empty.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")
)

// Upper bounds keeping obviously wrong values out. They are generous; the
// point is catching unit mistakes (bytes vs runes, ms vs s), not tuning.
const (
	maxChunkSize  = 1 << 20
	maxDimension  = 1 << 14
	maxBatchSize  = 2048
	maxTopK       = 1000
	maxMultiplier = 100
	maxWorkers    = 256
)

// Validate checks the configuration and returns the first problem found.
// All errors wrap a package sentinel so callers can use errors.Is.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// Chunking. overlap must leave room for the window to advance.
	if c.ChunkSize <= 0 || c.ChunkSize > maxChunkSize {
		return fmt.Errorf("%w: %d (want 1..%d)", ErrInvalidChunkSize, c.ChunkSize, maxChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: %d (want 0..chunk_size-1)", ErrInvalidChunkOverlap, c.ChunkOverlap)
	}

	// Embedder
	switch c.Provider {
	case ProviderGoogleAI:
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY must be set for provider %q", ErrMissingAPIKey, c.Provider)
		}
	case ProviderOllama:
		// Local provider, no key required.
	default:
		return fmt.Errorf("%w: %q (want %q or %q)", ErrInvalidProvider, c.Provider, ProviderGoogleAI, ProviderOllama)
	}
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: empty model name", ErrInvalidEmbedderModel)
	}
	if c.EmbedderDimension <= 0 || c.EmbedderDimension > maxDimension {
		return fmt.Errorf("%w: %d (want 1..%d)", ErrInvalidDimension, c.EmbedderDimension, maxDimension)
	}
	if c.EmbedderBatchSize <= 0 || c.EmbedderBatchSize > maxBatchSize {
		return fmt.Errorf("%w: %d (want 1..%d)", ErrInvalidBatchSize, c.EmbedderBatchSize, maxBatchSize)
	}

	// Index
	switch c.IndexBackend {
	case IndexBackendMemory, IndexBackendPostgres:
	default:
		return fmt.Errorf("%w: %q (want %q or %q)", ErrInvalidIndexBackend, c.IndexBackend, IndexBackendMemory, IndexBackendPostgres)
	}
	switch c.IndexMetric {
	case MetricCosine, MetricDot:
	default:
		return fmt.Errorf("%w: %q (want %q or %q)", ErrInvalidIndexMetric, c.IndexMetric, MetricCosine, MetricDot)
	}

	// Retrieval
	if c.TopK <= 0 || c.TopK > maxTopK {
		return fmt.Errorf("%w: %d (want 1..%d)", ErrInvalidTopK, c.TopK, maxTopK)
	}
	if c.FetchMultiplier < 1 || c.FetchMultiplier > maxMultiplier {
		return fmt.Errorf("%w: %d (want 1..%d)", ErrInvalidFetchMultiplier, c.FetchMultiplier, maxMultiplier)
	}
	if c.MaxPerDocument < 0 {
		return fmt.Errorf("%w: max_per_document %d (want >= 0)", ErrInvalidTopK, c.MaxPerDocument)
	}

	// Prompt
	if c.MinContextChars <= 0 {
		return fmt.Errorf("%w: min_context_chars %d (want > 0)", ErrInvalidContextBudget, c.MinContextChars)
	}
	if c.MaxContextChars < c.MinContextChars {
		return fmt.Errorf("%w: max_context_chars %d below minimum %d", ErrInvalidContextBudget, c.MaxContextChars, c.MinContextChars)
	}

	// Ingestion
	if c.IngestWorkers <= 0 || c.IngestWorkers > maxWorkers {
		return fmt.Errorf("%w: %d (want 1..%d)", ErrInvalidWorkers, c.IngestWorkers, maxWorkers)
	}

	// Storage is only validated when the postgres backend is selected; the
	// memory backend must work with no database at all.
	if c.IndexBackend == IndexBackendPostgres {
		if c.PostgresHost == "" {
			return fmt.Errorf("%w: empty host", ErrInvalidPostgresHost)
		}
		if c.PostgresPort <= 0 || c.PostgresPort > 65535 {
			return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
		}
		if c.PostgresDBName == "" {
			return fmt.Errorf("%w: empty database name", ErrInvalidPostgresDBName)
		}
	}

	return nil
}
