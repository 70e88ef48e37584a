// Package index stores embedded passages and serves nearest-neighbor
// queries over them.
//
// Two implementations satisfy the same contract, selected at construction
// time via configuration: Memory, a brute-force in-process index with file
// snapshots, and Postgres, backed by pgvector. The similarity metric is
// fixed per index instance; build time and query time always agree because
// both go through the same instance.
package index

import (
	"context"
	"errors"
	"fmt"
)

// Metric selects the similarity measure of an index instance.
type Metric string

const (
	// MetricCosine scores by cosine similarity in [-1, 1].
	MetricCosine Metric = "cosine"

	// MetricDot scores by inner product.
	MetricDot Metric = "dot"
)

var (
	// ErrDimensionMismatch indicates a vector whose length differs from the
	// index's configured dimension. This is a misconfiguration between the
	// embedder and the index; vectors are never truncated or padded.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrInvalidTopK indicates a non-positive top-k.
	ErrInvalidTopK = errors.New("top-k must be positive")

	// ErrUnknownMetric indicates an unsupported similarity metric.
	ErrUnknownMetric = errors.New("unknown similarity metric")

	// ErrSnapshotIO indicates a snapshot persistence failure.
	ErrSnapshotIO = errors.New("index snapshot I/O failed")
)

// Entry is one indexed passage. Entries are owned by the index and unique
// per ChunkID: upserting an existing id replaces vector, text, and metadata.
type Entry struct {
	ChunkID  string
	Vector   []float32
	Text     string
	Metadata map[string]string
}

// Hit is one search result. Hits are ordered by non-increasing score; equal
// scores are ordered by ascending chunk id.
type Hit struct {
	ChunkID  string
	Score    float32
	Text     string
	Metadata map[string]string
}

// Index is the vector index contract shared by all backends.
type Index interface {
	// Upsert inserts or replaces entries by chunk id. It rejects the whole
	// batch with ErrDimensionMismatch if any vector has the wrong length;
	// individual entries are never half-written.
	Upsert(ctx context.Context, entries []Entry) error

	// Search returns up to topK hits for the query vector, best first.
	Search(ctx context.Context, query []float32, topK int) ([]Hit, error)

	// Delete removes entries by chunk id. Unknown ids are ignored.
	Delete(ctx context.Context, chunkIDs []string) error

	// Count reports the number of entries currently indexed.
	Count(ctx context.Context) (int, error)

	// Dimension is the configured vector length.
	Dimension() int

	// SimilarityMetric is the metric fixed at construction.
	SimilarityMetric() Metric
}

// ParseMetric converts a configuration string into a Metric.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricCosine:
		return MetricCosine, nil
	case MetricDot:
		return MetricDot, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMetric, s)
	}
}

// checkDimensions validates a batch before any mutation is applied.
func checkDimensions(entries []Entry, dim int) error {
	for _, e := range entries {
		if len(e.Vector) != dim {
			return fmt.Errorf("%w: entry %q has %d, index expects %d",
				ErrDimensionMismatch, e.ChunkID, len(e.Vector), dim)
		}
	}
	return nil
}
