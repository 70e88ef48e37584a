// Package ingest feeds documents through chunking, embedding, and indexing.
//
// Documents are processed concurrently up to a worker limit; within one
// document the steps stay sequential. A document that fails is recorded in
// the report and does not stop the rest of the batch. Cancellation is the
// exception: it aborts the whole run and surfaces the context error.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/passagedev/passage/internal/chunk"
	"github.com/passagedev/passage/internal/index"
)

// DefaultWorkers bounds concurrent document processing when no limit is
// configured.
const DefaultWorkers = 4

// DocumentError records why one document was rejected.
type DocumentError struct {
	DocumentID string
	Err        error
}

func (e DocumentError) Error() string {
	return fmt.Sprintf("document %q: %v", e.DocumentID, e.Err)
}

func (e DocumentError) Unwrap() error { return e.Err }

// Report summarizes one Ingest call. Failed preserves no particular order;
// documents are processed concurrently.
type Report struct {
	Accepted int
	Failed   []DocumentError
}

// Embedder is the slice of the embedding contract the pipeline needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Indexer is the slice of the index contract the pipeline needs.
type Indexer interface {
	Upsert(ctx context.Context, entries []index.Entry) error
	Delete(ctx context.Context, chunkIDs []string) error
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithWorkers sets the concurrent document limit. Values below 1 are
// ignored.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n >= 1 {
			p.workers = n
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Pipeline ingests documents into a vector index.
//
// It tracks which chunk ids each source URI produced, so re-ingesting a
// modified document deletes its previous chunks before upserting the new
// set. The mapping lives for the pipeline's lifetime; a fresh pipeline over
// a durable index heals stale chunks only for sources it re-ingests,
// because chunk ids are deterministic per (document, offset).
type Pipeline struct {
	chunker  *chunk.Chunker
	embedder Embedder
	indexer  Indexer
	workers  int
	logger   *slog.Logger

	mu       sync.Mutex
	manifest map[string][]string // source URI -> chunk ids
}

// New returns a Pipeline over the given stages.
func New(chunker *chunk.Chunker, embedder Embedder, indexer Indexer, opts ...Option) *Pipeline {
	p := &Pipeline{
		chunker:  chunker,
		embedder: embedder,
		indexer:  indexer,
		workers:  DefaultWorkers,
		logger:   slog.Default(),
		manifest: make(map[string][]string),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest processes documents concurrently and reports per-document
// outcomes. A non-nil error is returned only for cancellation; provider
// and index failures land in the report instead.
func (p *Pipeline) Ingest(ctx context.Context, docs []chunk.Document) (Report, error) {
	var (
		report   Report
		reportMu sync.Mutex
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(p.workers)

	for _, doc := range docs {
		eg.Go(func() error {
			err := p.ingestOne(egCtx, doc)
			if err == nil {
				reportMu.Lock()
				report.Accepted++
				reportMu.Unlock()
				return nil
			}
			// Cancellation aborts the batch; it is not a document failure.
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			p.logger.Warn("document rejected", "document_id", doc.ID, "error", err)
			reportMu.Lock()
			report.Failed = append(report.Failed, DocumentError{DocumentID: doc.ID, Err: err})
			reportMu.Unlock()
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return report, err
	}

	p.logger.Info("ingestion finished",
		"documents", len(docs),
		"accepted", report.Accepted,
		"failed", len(report.Failed))
	return report, nil
}

// ChunkIDs reports the chunk ids currently tracked for a source URI. The
// returned slice is a copy.
func (p *Pipeline) ChunkIDs(sourceURI string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := p.manifest[sourceURI]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// ingestOne runs the sequential per-document stages: chunk, embed, delete
// any previous chunks of the same source, upsert, record.
func (p *Pipeline) ingestOne(ctx context.Context, doc chunk.Document) error {
	chunks := p.chunker.Split(doc)
	if len(chunks) == 0 {
		return fmt.Errorf("chunking: document %q has no text", doc.ID)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding %d chunks: %w", len(chunks), err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedding returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	entries := make([]index.Entry, len(chunks))
	newIDs := make([]string, len(chunks))
	for i, c := range chunks {
		entries[i] = index.Entry{
			ChunkID:  c.ID,
			Vector:   vectors[i],
			Text:     c.Text,
			Metadata: c.Metadata,
		}
		newIDs[i] = c.ID
	}

	// A modified document produces different chunk ids; deleting the old
	// set first prevents orphans. Stale ids not covered by the delete
	// cannot exist because the manifest holds exactly what was upserted.
	sourceURI := doc.SourceURI
	if sourceURI == "" {
		sourceURI = doc.ID
	}
	p.mu.Lock()
	oldIDs := p.manifest[sourceURI]
	p.mu.Unlock()

	if len(oldIDs) > 0 {
		if err := p.indexer.Delete(ctx, oldIDs); err != nil {
			return fmt.Errorf("deleting %d stale chunks: %w", len(oldIDs), err)
		}
	}
	if err := p.indexer.Upsert(ctx, entries); err != nil {
		return fmt.Errorf("indexing %d chunks: %w", len(entries), err)
	}

	p.mu.Lock()
	p.manifest[sourceURI] = newIDs
	p.mu.Unlock()

	p.logger.Debug("document indexed",
		"document_id", doc.ID,
		"source_uri", sourceURI,
		"chunks", len(chunks),
		"replaced", len(oldIDs))
	return nil
}
