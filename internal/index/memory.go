package index

import (
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/gofrs/flock"
)

// Memory is a brute-force in-process index. Every search scans all entries,
// which is exact and fast enough well into the hundreds of thousands of
// passages.
//
// Memory is safe for concurrent use: searches take a read lock and may run
// concurrently; upserts and deletes take the write lock, so a reader never
// observes a half-applied batch.
type Memory struct {
	dim    int
	metric Metric

	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemory returns an empty index with the given dimension and metric.
func NewMemory(dim int, metric Metric) (*Memory, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension %d", ErrDimensionMismatch, dim)
	}
	if _, err := ParseMetric(string(metric)); err != nil {
		return nil, err
	}
	return &Memory{
		dim:     dim,
		metric:  metric,
		entries: make(map[string]Entry),
	}, nil
}

// Dimension implements Index.
func (m *Memory) Dimension() int { return m.dim }

// SimilarityMetric implements Index.
func (m *Memory) SimilarityMetric() Metric { return m.metric }

// Upsert implements Index. The batch is validated before the lock is taken;
// either every entry is applied or none.
func (m *Memory) Upsert(ctx context.Context, entries []Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkDimensions(entries, m.dim); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.entries[e.ChunkID] = copyEntry(e)
	}
	return nil
}

// Search implements Index.
func (m *Memory) Search(ctx context.Context, query []float32, topK int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidTopK, topK)
	}
	if len(query) != m.dim {
		return nil, fmt.Errorf("%w: query has %d, index expects %d", ErrDimensionMismatch, len(query), m.dim)
	}

	m.mu.RLock()
	hits := make([]Hit, 0, len(m.entries))
	for _, e := range m.entries {
		hits = append(hits, Hit{
			ChunkID:  e.ChunkID,
			Score:    score(m.metric, query, e.Vector),
			Text:     e.Text,
			Metadata: e.Metadata,
		})
	}
	m.mu.RUnlock()

	// Best first; ties broken by ascending chunk id for determinism.
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})

	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Delete implements Index. Unknown ids are a no-op.
func (m *Memory) Delete(ctx context.Context, chunkIDs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range chunkIDs {
		delete(m.entries, id)
	}
	return nil
}

// Count implements Index.
func (m *Memory) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

func copyEntry(e Entry) Entry {
	vec := make([]float32, len(e.Vector))
	copy(vec, e.Vector)
	md := make(map[string]string, len(e.Metadata))
	for k, v := range e.Metadata {
		md[k] = v
	}
	return Entry{ChunkID: e.ChunkID, Vector: vec, Text: e.Text, Metadata: md}
}

func score(metric Metric, a, b []float32) float32 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	if metric == MetricDot {
		return float32(dot)
	}

	var na, nb float64
	for i := range a {
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// snapshot is the on-disk representation. The version guards against
// silently decoding an incompatible layout.
type snapshot struct {
	Version int
	Dim     int
	Metric  Metric
	Entries []Entry
}

const snapshotVersion = 1

// Persist writes the index to path. The snapshot is written to a temp file
// and renamed into place, under a file lock so concurrent processes sharing
// the path cannot interleave writes.
func (m *Memory) Persist(path string) error {
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("%w: locking %s: %v", ErrSnapshotIO, path, err)
	}
	defer func() { _ = lock.Unlock() }()

	m.mu.RLock()
	snap := snapshot{Version: snapshotVersion, Dim: m.dim, Metric: m.metric}
	snap.Entries = make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		snap.Entries = append(snap.Entries, e)
	}
	m.mu.RUnlock()

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSnapshotIO, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := gob.NewEncoder(tmp).Encode(snap); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: encoding: %v", ErrSnapshotIO, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrSnapshotIO, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("%w: %v", ErrSnapshotIO, err)
	}
	return nil
}

// RestoreMemory loads a snapshot previously written by Persist. The restored
// index returns the same search results as the one that was persisted.
func RestoreMemory(path string) (*Memory, error) {
	lock := flock.New(path + ".lock")
	if err := lock.RLock(); err != nil {
		return nil, fmt.Errorf("%w: locking %s: %v", ErrSnapshotIO, path, err)
	}
	defer func() { _ = lock.Unlock() }()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotIO, err)
	}
	defer func() { _ = f.Close() }()

	var snap snapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", ErrSnapshotIO, path, err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: snapshot version %d, want %d", ErrSnapshotIO, snap.Version, snapshotVersion)
	}

	m, err := NewMemory(snap.Dim, snap.Metric)
	if err != nil {
		return nil, err
	}
	for _, e := range snap.Entries {
		if len(e.Vector) != snap.Dim {
			return nil, fmt.Errorf("%w: snapshot entry %q has %d, want %d",
				ErrDimensionMismatch, e.ChunkID, len(e.Vector), snap.Dim)
		}
		m.entries[e.ChunkID] = e
	}
	return m, nil
}
