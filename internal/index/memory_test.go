package index

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"testing"
)

func mustMemory(t *testing.T, dim int, metric Metric) *Memory {
	t.Helper()
	m, err := NewMemory(dim, metric)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func entry(id string, vec ...float32) Entry {
	return Entry{ChunkID: id, Vector: vec, Text: "text-" + id, Metadata: map[string]string{"document_id": "doc-" + id}}
}

func TestNewMemory_Validation(t *testing.T) {
	if _, err := NewMemory(0, MetricCosine); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("zero dim: got %v", err)
	}
	if _, err := NewMemory(3, Metric("euclidean")); !errors.Is(err, ErrUnknownMetric) {
		t.Errorf("bad metric: got %v", err)
	}
}

func TestMemory_Upsert_RejectsWrongDimension(t *testing.T) {
	m := mustMemory(t, 3, MetricCosine)
	ctx := context.Background()

	err := m.Upsert(ctx, []Entry{entry("a", 1, 0, 0), entry("b", 1, 0)})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("got %v, want ErrDimensionMismatch", err)
	}

	// The batch is all-or-nothing: the valid entry must not be applied.
	if n, _ := m.Count(ctx); n != 0 {
		t.Errorf("Count = %d after rejected batch, want 0", n)
	}
}

func TestMemory_Upsert_Idempotent(t *testing.T) {
	m := mustMemory(t, 3, MetricCosine)
	ctx := context.Background()

	e := entry("a", 1, 0, 0)
	if err := m.Upsert(ctx, []Entry{e}); err != nil {
		t.Fatal(err)
	}
	if err := m.Upsert(ctx, []Entry{e}); err != nil {
		t.Fatal(err)
	}

	if n, _ := m.Count(ctx); n != 1 {
		t.Errorf("Count = %d, want 1 (upsert must not duplicate)", n)
	}
}

func TestMemory_Upsert_ReplacesByID(t *testing.T) {
	m := mustMemory(t, 3, MetricCosine)
	ctx := context.Background()

	if err := m.Upsert(ctx, []Entry{{ChunkID: "a", Vector: []float32{1, 0, 0}, Text: "old"}}); err != nil {
		t.Fatal(err)
	}
	if err := m.Upsert(ctx, []Entry{{ChunkID: "a", Vector: []float32{0, 1, 0}, Text: "new"}}); err != nil {
		t.Fatal(err)
	}

	hits, err := m.Search(ctx, []float32{0, 1, 0}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if hits[0].Text != "new" {
		t.Errorf("hit text = %q, want replaced entry", hits[0].Text)
	}
}

func TestMemory_Search_Validation(t *testing.T) {
	m := mustMemory(t, 3, MetricCosine)
	ctx := context.Background()

	if _, err := m.Search(ctx, []float32{1, 0, 0}, 0); !errors.Is(err, ErrInvalidTopK) {
		t.Errorf("topK=0: got %v", err)
	}
	if _, err := m.Search(ctx, []float32{1, 0}, 5); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("short query: got %v", err)
	}
}

func TestMemory_Search_EmptyIndex(t *testing.T) {
	m := mustMemory(t, 3, MetricCosine)
	hits, err := m.Search(context.Background(), []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("empty index search must not error: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("got %d hits from empty index", len(hits))
	}
}

func TestMemory_Search_OrderAndTruncation(t *testing.T) {
	m := mustMemory(t, 2, MetricCosine)
	ctx := context.Background()

	// Angles from the query (1, 0): a=0°, b=45°, c=90°, d=180°.
	err := m.Upsert(ctx, []Entry{
		entry("a", 1, 0),
		entry("b", 1, 1),
		entry("c", 0, 1),
		entry("d", -1, 0),
	})
	if err != nil {
		t.Fatal(err)
	}

	hits, err := m.Search(ctx, []float32{1, 0}, 3)
	if err != nil {
		t.Fatal(err)
	}

	if len(hits) != 3 {
		t.Fatalf("got %d hits, want topK=3", len(hits))
	}
	wantOrder := []string{"a", "b", "c"}
	for i, want := range wantOrder {
		if hits[i].ChunkID != want {
			t.Errorf("hit %d = %q, want %q", i, hits[i].ChunkID, want)
		}
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Score > hits[i-1].Score {
			t.Errorf("scores increase at %d", i)
		}
	}
}

func TestMemory_Search_TieBreakByChunkID(t *testing.T) {
	m := mustMemory(t, 2, MetricCosine)
	ctx := context.Background()

	// Identical vectors: identical scores, order must be id-ascending.
	err := m.Upsert(ctx, []Entry{entry("zz", 1, 0), entry("aa", 1, 0), entry("mm", 1, 0)})
	if err != nil {
		t.Fatal(err)
	}

	hits, err := m.Search(ctx, []float32{1, 0}, 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"aa", "mm", "zz"}
	for i := range want {
		if hits[i].ChunkID != want[i] {
			t.Errorf("tie order: hit %d = %q, want %q", i, hits[i].ChunkID, want[i])
		}
	}
}

func TestMemory_DotMetric(t *testing.T) {
	m := mustMemory(t, 2, MetricDot)
	ctx := context.Background()

	// Under inner product, magnitude matters: b beats a despite same angle.
	err := m.Upsert(ctx, []Entry{entry("a", 1, 0), entry("b", 5, 0)})
	if err != nil {
		t.Fatal(err)
	}

	hits, err := m.Search(ctx, []float32{1, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if hits[0].ChunkID != "b" {
		t.Errorf("dot metric: top hit = %q, want b", hits[0].ChunkID)
	}
	if hits[0].Score != 5 {
		t.Errorf("dot score = %v, want 5", hits[0].Score)
	}
}

func TestMemory_Delete(t *testing.T) {
	m := mustMemory(t, 2, MetricCosine)
	ctx := context.Background()

	if err := m.Upsert(ctx, []Entry{entry("a", 1, 0), entry("b", 0, 1)}); err != nil {
		t.Fatal(err)
	}

	// Deleting a mix of known and unknown ids succeeds.
	if err := m.Delete(ctx, []string{"a", "ghost"}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n, _ := m.Count(ctx); n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}

	hits, err := m.Search(ctx, []float32{1, 0}, 5)
	if err != nil {
		t.Fatal(err)
	}
	for _, h := range hits {
		if h.ChunkID == "a" {
			t.Error("deleted entry still returned by search")
		}
	}
}

func TestMemory_Upsert_CopiesVectors(t *testing.T) {
	m := mustMemory(t, 2, MetricCosine)
	ctx := context.Background()

	vec := []float32{1, 0}
	if err := m.Upsert(ctx, []Entry{{ChunkID: "a", Vector: vec}}); err != nil {
		t.Fatal(err)
	}
	vec[0] = -1 // caller mutates its slice after upsert

	hits, err := m.Search(ctx, []float32{1, 0}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if hits[0].Score < 0.99 {
		t.Errorf("index aliased the caller's vector; score = %v", hits[0].Score)
	}
}

func TestMemory_ConcurrentReadersAndWriters(t *testing.T) {
	m := mustMemory(t, 4, MetricCosine)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := fmt.Sprintf("w%d-%d", w, i)
				_ = m.Upsert(ctx, []Entry{entry(id, 1, 0, 0, 0)})
				_ = m.Delete(ctx, []string{fmt.Sprintf("w%d-%d", w, i/2)})
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if _, err := m.Search(ctx, []float32{1, 0, 0, 0}, 10); err != nil {
					t.Errorf("concurrent search: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestMemory_PersistRestore_RoundTrip(t *testing.T) {
	m := mustMemory(t, 3, MetricCosine)
	ctx := context.Background()

	err := m.Upsert(ctx, []Entry{
		entry("a", 1, 0, 0),
		entry("b", 0.5, 0.5, 0),
		entry("c", 0, 0, 1),
	})
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "index.snapshot")
	if err := m.Persist(path); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	restored, err := RestoreMemory(path)
	if err != nil {
		t.Fatalf("RestoreMemory: %v", err)
	}
	if restored.Dimension() != 3 || restored.SimilarityMetric() != MetricCosine {
		t.Errorf("restored config: dim=%d metric=%q", restored.Dimension(), restored.SimilarityMetric())
	}

	// Same queries, same ids, same scores.
	queries := [][]float32{{1, 0, 0}, {0, 1, 0}, {0.2, 0.3, 0.9}}
	for _, q := range queries {
		want, err := m.Search(ctx, q, 3)
		if err != nil {
			t.Fatal(err)
		}
		got, err := restored.Search(ctx, q, 3)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != len(want) {
			t.Fatalf("restored returned %d hits, want %d", len(got), len(want))
		}
		for i := range want {
			if got[i].ChunkID != want[i].ChunkID {
				t.Errorf("query %v: hit %d id %q, want %q", q, i, got[i].ChunkID, want[i].ChunkID)
			}
			if math.Abs(float64(got[i].Score-want[i].Score)) > 1e-6 {
				t.Errorf("query %v: hit %d score %v, want %v", q, i, got[i].Score, want[i].Score)
			}
			if got[i].Text != want[i].Text {
				t.Errorf("query %v: hit %d text differs", q, i)
			}
		}
	}
}

func TestRestoreMemory_MissingFile(t *testing.T) {
	_, err := RestoreMemory(filepath.Join(t.TempDir(), "nope.snapshot"))
	if !errors.Is(err, ErrSnapshotIO) {
		t.Errorf("got %v, want ErrSnapshotIO", err)
	}
}

func TestParseMetric(t *testing.T) {
	if _, err := ParseMetric("cosine"); err != nil {
		t.Error(err)
	}
	if _, err := ParseMetric("dot"); err != nil {
		t.Error(err)
	}
	if _, err := ParseMetric("l2"); !errors.Is(err, ErrUnknownMetric) {
		t.Errorf("got %v, want ErrUnknownMetric", err)
	}
}
