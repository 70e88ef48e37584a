package embed

import (
	"context"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
)

// Genkit adapts a Genkit ai.Embedder to the Embedder interface. It batches
// internally: inputs are sent to the provider in slices of at most batchSize.
type Genkit struct {
	embedder  ai.Embedder
	dim       int
	batchSize int
}

// NewGenkit wraps embedder. dim is the expected output dimension; every
// returned vector is checked against it. batchSize must be positive.
func NewGenkit(embedder ai.Embedder, dim, batchSize int) *Genkit {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Genkit{embedder: embedder, dim: dim, batchSize: batchSize}
}

// Dimension returns the configured vector length.
func (g *Genkit) Dimension() int { return g.dim }

// Embed embeds texts via the underlying provider. Cancellation surfaces as
// the context error; provider failures surface as *BatchError for the batch
// that failed.
func (g *Genkit) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += g.batchSize {
		end := start + g.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		vecs, err := g.embedBatch(ctx, texts[start:end])
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				// Cancellation is not a provider failure; propagate as-is.
				return nil, err
			}
			return nil, batchErr(start, end, err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (g *Genkit) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	input := make([]*ai.Document, len(texts))
	for i, t := range texts {
		input[i] = ai.DocumentFromText(t, nil)
	}

	resp, err := g.embedder.Embed(ctx, &ai.EmbedRequest{Input: input})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, ErrEmptyResponse
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("provider returned %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}

	vecs := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		if len(e.Embedding) != g.dim {
			return nil, fmt.Errorf("%w: got %d, want %d", ErrDimension, len(e.Embedding), g.dim)
		}
		vecs[i] = e.Embedding
	}
	return vecs, nil
}
