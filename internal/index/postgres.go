package index

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Postgres is a pgvector-backed index over the passages table created by
// db/migrations. Durability comes from PostgreSQL itself; there is no
// snapshot file for this backend.
//
// Postgres is safe for concurrent use; per-entry atomicity is provided by
// the database (one INSERT ... ON CONFLICT per entry).
type Postgres struct {
	pool   *pgxpool.Pool
	dim    int
	metric Metric
	logger *slog.Logger
}

// NewPostgres returns an index using pool. dim must match the vector column
// width created by the migrations.
func NewPostgres(pool *pgxpool.Pool, dim int, metric Metric, logger *slog.Logger) (*Postgres, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension %d", ErrDimensionMismatch, dim)
	}
	if _, err := ParseMetric(string(metric)); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{pool: pool, dim: dim, metric: metric, logger: logger}, nil
}

// Dimension implements Index.
func (p *Postgres) Dimension() int { return p.dim }

// SimilarityMetric implements Index.
func (p *Postgres) SimilarityMetric() Metric { return p.metric }

// Upsert implements Index. All statements go through one pgx batch, each an
// atomic INSERT ... ON CONFLICT DO UPDATE keyed by chunk id.
func (p *Postgres) Upsert(ctx context.Context, entries []Entry) error {
	if err := checkDimensions(entries, p.dim); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	const query = `
		INSERT INTO passages (id, document_id, source_uri, content, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			document_id = EXCLUDED.document_id,
			source_uri  = EXCLUDED.source_uri,
			content     = EXCLUDED.content,
			embedding   = EXCLUDED.embedding,
			metadata    = EXCLUDED.metadata`

	batch := &pgx.Batch{}
	for _, e := range entries {
		metadataJSON, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata for %q: %w", e.ChunkID, err)
		}
		vec := pgvector.NewVector(e.Vector)
		batch.Queue(query,
			e.ChunkID,
			e.Metadata["document_id"],
			e.Metadata["source_uri"],
			e.Text,
			&vec,
			metadataJSON,
		)
	}

	results := p.pool.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()
	for range entries {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upserting entries: %w", err)
		}
	}
	return nil
}

// Search implements Index. Ordering is done in SQL: ascending distance, then
// ascending id for deterministic ties.
func (p *Postgres) Search(ctx context.Context, query []float32, topK int) ([]Hit, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidTopK, topK)
	}
	if len(query) != p.dim {
		return nil, fmt.Errorf("%w: query has %d, index expects %d", ErrDimensionMismatch, len(query), p.dim)
	}

	// <=> is cosine distance (similarity = 1 - distance); <#> is negative
	// inner product (similarity = -result).
	var sql string
	switch p.metric {
	case MetricCosine:
		sql = `
			SELECT id, content, metadata, 1 - (embedding <=> $1) AS score
			FROM passages
			ORDER BY embedding <=> $1, id
			LIMIT $2`
	case MetricDot:
		sql = `
			SELECT id, content, metadata, -(embedding <#> $1) AS score
			FROM passages
			ORDER BY embedding <#> $1, id
			LIMIT $2`
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, p.metric)
	}

	vec := pgvector.NewVector(query)
	rows, err := p.pool.Query(ctx, sql, &vec, topK)
	if err != nil {
		return nil, fmt.Errorf("searching passages: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			hit          Hit
			score        float64
			metadataJSON []byte
		)
		if err := rows.Scan(&hit.ChunkID, &hit.Text, &metadataJSON, &score); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		hit.Score = float32(score)
		if err := json.Unmarshal(metadataJSON, &hit.Metadata); err != nil {
			p.logger.Warn("unparseable passage metadata", "chunk_id", hit.ChunkID, "error", err)
			hit.Metadata = map[string]string{}
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading search rows: %w", err)
	}
	return hits, nil
}

// Delete implements Index. Unknown ids delete zero rows, which is fine.
func (p *Postgres) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	if _, err := p.pool.Exec(ctx, `DELETE FROM passages WHERE id = ANY($1)`, chunkIDs); err != nil {
		return fmt.Errorf("deleting passages: %w", err)
	}
	return nil
}

// Count implements Index.
func (p *Postgres) Count(ctx context.Context) (int, error) {
	var count int64
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM passages`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting passages: %w", err)
	}
	return int(count), nil
}
