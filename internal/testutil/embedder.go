// Package testutil provides shared testing utilities for the passage
// project: a deterministic fake embedder, quiet loggers, and a pgvector
// test container, following the pattern of net/http/httptest.
package testutil

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
)

// FakeEmbedder is a deterministic, network-free Embedder implementation.
//
// Each text is embedded as a hashed bag-of-words: every lowercased word is
// hashed into one of Dim buckets and the resulting count vector is
// L2-normalized. Texts sharing vocabulary therefore get high cosine
// similarity, which is enough for retrieval tests to behave like the real
// thing without a provider.
type FakeEmbedder struct {
	Dim int

	// Err, when set, is returned by every Embed call.
	Err error

	mu    sync.Mutex
	calls int
}

// NewFakeEmbedder returns a FakeEmbedder with the given dimension.
func NewFakeEmbedder(dim int) *FakeEmbedder {
	return &FakeEmbedder{Dim: dim}
}

// Dimension implements embed.Embedder.
func (f *FakeEmbedder) Dimension() int { return f.Dim }

// Calls reports how many Embed calls were made.
func (f *FakeEmbedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Embed implements embed.Embedder deterministically.
func (f *FakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.Err != nil {
		return nil, f.Err
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.Vector(t)
	}
	return out, nil
}

// Vector returns the deterministic embedding of text.
func (f *FakeEmbedder) Vector(text string) []float32 {
	vec := make([]float32, f.Dim)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(word))
		vec[h.Sum64()%uint64(f.Dim)]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		// Embed nothing as a fixed unit vector so empty text is still valid.
		vec[0] = 1
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
