// Package embed defines the embedding capability used by the retrieval
// pipeline and its concrete backends.
//
// The core contract is Embedder: a pure mapping from texts to fixed-dimension
// vectors, one vector per input in input order. A provider failure fails the
// whole batch; partial results are never returned, so callers can retry a
// batch safely.
//
// Concrete backends (the Genkit bridge) and cross-cutting concerns (LRU
// caching, rate limiting) all satisfy the same interface, so they compose as
// plain decorators selected at construction time.
package embed

import (
	"context"
	"errors"
	"fmt"
)

// Embedder maps texts to fixed-length vectors.
//
// Implementations must return exactly one vector per input text, in input
// order, each of length Dimension(). Any per-item failure fails the whole
// call with a *BatchError carrying the affected input positions.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension is the fixed output vector length.
	Dimension() int
}

// ErrEmptyResponse indicates the provider returned no embeddings for a
// non-empty request.
var ErrEmptyResponse = errors.New("embedder returned no embeddings")

// ErrDimension indicates the provider returned a vector whose length does
// not match the configured dimension. This is a model/index misconfiguration
// and is never silently coerced.
var ErrDimension = errors.New("embedder returned vector of unexpected dimension")

// BatchError reports a provider failure for a batch of inputs. Indexes are
// the positions, in the caller's input slice, that were part of the failing
// provider call.
type BatchError struct {
	Indexes []int
	Err     error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("embedding batch failed (inputs %v): %v", e.Indexes, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// batchErr builds a *BatchError covering input positions [start, end).
func batchErr(start, end int, err error) *BatchError {
	idx := make([]int, 0, end-start)
	for i := start; i < end; i++ {
		idx = append(idx, i)
	}
	return &BatchError{Indexes: idx, Err: err}
}
