// Package retrieve turns a query string into a ranked list of passages.
//
// A Retriever embeds the query, searches the index with an inflated top-k
// when post-filtering is in play, applies exact-match metadata filters and
// the per-document cap, and assigns final ranks. It never calls a
// generative model; composing the prompt from the results is the prompt
// package's job.
package retrieve

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/passagedev/passage/internal/index"
)

// DefaultFetchMultiplier inflates the index search when filters or the
// per-document cap may discard raw hits.
const DefaultFetchMultiplier = 4

// Result is one retrieved passage. Rank is 0-based in final order; equal
// scores keep the index's deterministic id ordering.
type Result struct {
	ChunkID  string
	Text     string
	Metadata map[string]string
	Score    float32
	Rank     int
}

// Embedder is the slice of the embedding contract the retriever needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Searcher is the slice of the index contract the retriever needs.
type Searcher interface {
	Search(ctx context.Context, query []float32, topK int) ([]index.Hit, error)
}

// Option configures a Retriever at construction time.
type Option func(*Retriever)

// WithFetchMultiplier overrides the search inflation factor. Values below 1
// are ignored.
func WithFetchMultiplier(n int) Option {
	return func(r *Retriever) {
		if n >= 1 {
			r.fetchMultiplier = n
		}
	}
}

// WithMaxPerDocument caps how many chunks of a single document may appear
// in the final results. Zero means no cap.
func WithMaxPerDocument(n int) Option {
	return func(r *Retriever) {
		if n >= 0 {
			r.maxPerDocument = n
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Retriever) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// QueryOption configures a single Retrieve call.
type QueryOption func(*queryConfig)

type queryConfig struct {
	filters map[string]string
}

// WithFilter restricts results to passages whose metadata contains the
// exact key/value pair. Multiple filters combine with AND logic.
func WithFilter(key, value string) QueryOption {
	return func(c *queryConfig) {
		if c.filters == nil {
			c.filters = make(map[string]string)
		}
		c.filters[key] = value
	}
}

// Retriever orchestrates query embedding, index search, and ranking.
type Retriever struct {
	embedder        Embedder
	searcher        Searcher
	fetchMultiplier int
	maxPerDocument  int
	logger          *slog.Logger
}

// New returns a Retriever over the given embedder and index.
func New(embedder Embedder, searcher Searcher, opts ...Option) *Retriever {
	r := &Retriever{
		embedder:        embedder,
		searcher:        searcher,
		fetchMultiplier: DefaultFetchMultiplier,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve returns up to topK passages for the query, best first. An empty
// index yields an empty slice, not an error; a failure in embedding or
// search aborts the whole call.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int, opts ...QueryOption) ([]Result, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: got %d", index.ErrInvalidTopK, topK)
	}
	var cfg queryConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query %q: %w", query, err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedding query %q: got %d vectors, want 1", query, len(vectors))
	}

	// Filters and the per-document cap discard raw hits after the fact, so
	// over-fetch to keep topK fillable.
	fetchK := topK
	if len(cfg.filters) > 0 || r.maxPerDocument > 0 {
		fetchK = topK * r.fetchMultiplier
	}

	hits, err := r.searcher.Search(ctx, vectors[0], fetchK)
	if err != nil {
		return nil, fmt.Errorf("searching index for %q: %w", query, err)
	}

	results := make([]Result, 0, topK)
	perDocument := make(map[string]int)
	for _, hit := range hits {
		if !matchesFilters(hit.Metadata, cfg.filters) {
			continue
		}
		if r.maxPerDocument > 0 {
			docID := hit.Metadata["document_id"]
			if perDocument[docID] >= r.maxPerDocument {
				continue
			}
			perDocument[docID]++
		}
		results = append(results, Result{
			ChunkID:  hit.ChunkID,
			Text:     hit.Text,
			Metadata: hit.Metadata,
			Score:    hit.Score,
			Rank:     len(results),
		})
		if len(results) == topK {
			break
		}
	}

	r.logger.Debug("retrieved passages",
		"query_length", len(query),
		"top_k", topK,
		"fetched", len(hits),
		"returned", len(results))
	return results, nil
}

// matchesFilters reports whether metadata satisfies every filter exactly.
func matchesFilters(metadata, filters map[string]string) bool {
	for k, want := range filters {
		if metadata[k] != want {
			return false
		}
	}
	return true
}
