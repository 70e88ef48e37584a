package retrieve

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/passagedev/passage/internal/chunk"
	"github.com/passagedev/passage/internal/index"
	"github.com/passagedev/passage/internal/testutil"
)

type stubEmbedder struct {
	vectors [][]float32
	err     error
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.vectors, nil
}

type stubSearcher struct {
	hits     []index.Hit
	err      error
	gotTopKs []int
}

func (s *stubSearcher) Search(_ context.Context, _ []float32, topK int) ([]index.Hit, error) {
	s.gotTopKs = append(s.gotTopKs, topK)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.hits) > topK {
		return s.hits[:topK], nil
	}
	return s.hits, nil
}

func hit(id, docID string, score float32) index.Hit {
	return index.Hit{
		ChunkID:  id,
		Score:    score,
		Text:     "text-" + id,
		Metadata: map[string]string{"document_id": docID},
	}
}

func TestRetrieve_InvalidTopK(t *testing.T) {
	r := New(&stubEmbedder{}, &stubSearcher{}, WithLogger(testutil.NopLogger()))
	if _, err := r.Retrieve(context.Background(), "q", 0); !errors.Is(err, index.ErrInvalidTopK) {
		t.Errorf("got %v, want ErrInvalidTopK", err)
	}
}

func TestRetrieve_EmbedErrorAborts(t *testing.T) {
	embedErr := errors.New("provider down")
	searcher := &stubSearcher{hits: []index.Hit{hit("a", "d1", 0.9)}}
	r := New(&stubEmbedder{err: embedErr}, searcher, WithLogger(testutil.NopLogger()))

	_, err := r.Retrieve(context.Background(), "q", 3)
	if !errors.Is(err, embedErr) {
		t.Fatalf("got %v, want wrapped embed error", err)
	}
	if len(searcher.gotTopKs) != 0 {
		t.Error("search must not run when embedding fails")
	}
}

func TestRetrieve_SearchErrorAborts(t *testing.T) {
	searchErr := errors.New("index offline")
	r := New(
		&stubEmbedder{vectors: [][]float32{{1, 0}}},
		&stubSearcher{err: searchErr},
		WithLogger(testutil.NopLogger()),
	)
	if _, err := r.Retrieve(context.Background(), "q", 3); !errors.Is(err, searchErr) {
		t.Errorf("got %v, want wrapped search error", err)
	}
}

func TestRetrieve_NoFiltersSearchesExactTopK(t *testing.T) {
	searcher := &stubSearcher{hits: []index.Hit{hit("a", "d1", 0.9), hit("b", "d2", 0.8)}}
	r := New(&stubEmbedder{vectors: [][]float32{{1, 0}}}, searcher, WithLogger(testutil.NopLogger()))

	results, err := r.Retrieve(context.Background(), "q", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(searcher.gotTopKs) != 1 || searcher.gotTopKs[0] != 5 {
		t.Errorf("search called with %v, want [5]", searcher.gotTopKs)
	}
	for i, res := range results {
		if res.Rank != i {
			t.Errorf("result %d has rank %d", i, res.Rank)
		}
	}
}

func TestRetrieve_FiltersInflateFetchAndApply(t *testing.T) {
	searcher := &stubSearcher{hits: []index.Hit{
		hit("a", "d1", 0.9),
		hit("b", "d2", 0.8),
		hit("c", "d1", 0.7),
		hit("d", "d3", 0.6),
	}}
	r := New(&stubEmbedder{vectors: [][]float32{{1, 0}}}, searcher, WithLogger(testutil.NopLogger()))

	results, err := r.Retrieve(context.Background(), "q", 2, WithFilter("document_id", "d1"))
	if err != nil {
		t.Fatal(err)
	}

	if searcher.gotTopKs[0] != 2*DefaultFetchMultiplier {
		t.Errorf("filtered search fetched %d, want %d", searcher.gotTopKs[0], 2*DefaultFetchMultiplier)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].ChunkID != "a" || results[1].ChunkID != "c" {
		t.Errorf("filtered ids = %s,%s, want a,c", results[0].ChunkID, results[1].ChunkID)
	}
	if results[0].Rank != 0 || results[1].Rank != 1 {
		t.Errorf("ranks = %d,%d, want 0,1", results[0].Rank, results[1].Rank)
	}
}

func TestRetrieve_FiltersAreANDed(t *testing.T) {
	hits := []index.Hit{
		{ChunkID: "a", Score: 0.9, Metadata: map[string]string{"document_id": "d1", "lang": "en"}},
		{ChunkID: "b", Score: 0.8, Metadata: map[string]string{"document_id": "d1", "lang": "de"}},
	}
	r := New(&stubEmbedder{vectors: [][]float32{{1, 0}}}, &stubSearcher{hits: hits}, WithLogger(testutil.NopLogger()))

	results, err := r.Retrieve(context.Background(), "q", 5,
		WithFilter("document_id", "d1"),
		WithFilter("lang", "de"),
	)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ChunkID != "b" {
		t.Errorf("got %v, want only b", results)
	}
}

func TestRetrieve_MaxPerDocumentCap(t *testing.T) {
	searcher := &stubSearcher{hits: []index.Hit{
		hit("a1", "d1", 0.95),
		hit("a2", "d1", 0.90),
		hit("a3", "d1", 0.85),
		hit("b1", "d2", 0.80),
		hit("c1", "d3", 0.75),
	}}
	r := New(
		&stubEmbedder{vectors: [][]float32{{1, 0}}},
		searcher,
		WithMaxPerDocument(1),
		WithLogger(testutil.NopLogger()),
	)

	results, err := r.Retrieve(context.Background(), "q", 3)
	if err != nil {
		t.Fatal(err)
	}

	// The cap alone triggers over-fetching.
	if searcher.gotTopKs[0] != 3*DefaultFetchMultiplier {
		t.Errorf("capped search fetched %d, want %d", searcher.gotTopKs[0], 3*DefaultFetchMultiplier)
	}

	// Highest-scoring chunk per document survives, global order preserved.
	want := []string{"a1", "b1", "c1"}
	if len(results) != len(want) {
		t.Fatalf("got %d results, want %d", len(results), len(want))
	}
	for i, id := range want {
		if results[i].ChunkID != id {
			t.Errorf("result %d = %q, want %q", i, results[i].ChunkID, id)
		}
		if results[i].Rank != i {
			t.Errorf("result %d rank = %d", i, results[i].Rank)
		}
	}
}

func TestRetrieve_MaxPerDocumentKeepsUpToLimit(t *testing.T) {
	searcher := &stubSearcher{hits: []index.Hit{
		hit("a1", "d1", 0.95),
		hit("a2", "d1", 0.90),
		hit("a3", "d1", 0.85),
		hit("b1", "d2", 0.80),
	}}
	r := New(
		&stubEmbedder{vectors: [][]float32{{1, 0}}},
		searcher,
		WithMaxPerDocument(2),
		WithLogger(testutil.NopLogger()),
	)

	results, err := r.Retrieve(context.Background(), "q", 4)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a1", "a2", "b1"}
	if len(results) != len(want) {
		t.Fatalf("got %d results, want %d", len(results), len(want))
	}
	for i, id := range want {
		if results[i].ChunkID != id {
			t.Errorf("result %d = %q, want %q", i, results[i].ChunkID, id)
		}
	}
}

func TestRetrieve_EmptyIndexReturnsEmpty(t *testing.T) {
	embedder := testutil.NewFakeEmbedder(8)
	idx, err := index.NewMemory(8, index.MetricCosine)
	if err != nil {
		t.Fatal(err)
	}
	r := New(embedder, idx, WithLogger(testutil.NopLogger()))

	results, err := r.Retrieve(context.Background(), "anything at all", 5)
	if err != nil {
		t.Fatalf("empty index must not error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results from empty index", len(results))
	}
}

// Ingest a 500-char document with chunk_size=100, overlap=20, then query
// with a fragment copied verbatim from the third chunk: that chunk must
// come back at rank 0 with the top score.
func TestRetrieve_VerbatimFragmentFindsItsChunk(t *testing.T) {
	ctx := context.Background()

	sentences := []string{
		"The migration service copies rows in batches of one thousand.",
		"Replication lag is measured against the primary commit clock.",
		"Checkpoint files are written after every completed table.",
		"Operators can pause the copy phase without losing progress.",
		"A final verification pass compares row counts per partition.",
		"Cutover happens only after verification reports zero drift.",
		"Rollback restores the checkpoint taken before the cutover.",
		"Alerting fires when lag exceeds the configured threshold.",
	}
	text := strings.Join(sentences, " ")
	if len([]rune(text)) < 450 || len([]rune(text)) > 550 {
		t.Fatalf("fixture text is %d runes, want ~500", len([]rune(text)))
	}

	chunker, err := chunk.New(100, 20)
	if err != nil {
		t.Fatal(err)
	}
	doc := chunk.Document{ID: "doc-a", SourceURI: "mem://doc-a", Text: text}
	chunks := chunker.Split(doc)
	if len(chunks) < 4 {
		t.Fatalf("got %d chunks, want at least 4", len(chunks))
	}

	embedder := testutil.NewFakeEmbedder(64)
	idx, err := index.NewMemory(64, index.MetricCosine)
	if err != nil {
		t.Fatal(err)
	}

	entries := make([]index.Entry, 0, len(chunks))
	for _, c := range chunks {
		entries = append(entries, index.Entry{
			ChunkID:  c.ID,
			Vector:   embedder.Vector(c.Text),
			Text:     c.Text,
			Metadata: c.Metadata,
		})
	}
	if err := idx.Upsert(ctx, entries); err != nil {
		t.Fatal(err)
	}

	r := New(embedder, idx, WithLogger(testutil.NopLogger()))

	third := chunks[2]
	fragment := strings.TrimSpace(third.Text)

	results, err := r.Retrieve(ctx, fragment, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].ChunkID != third.ID {
		t.Errorf("top result = %q, want chunk %q", results[0].ChunkID, third.ID)
	}
	if results[0].Rank != 0 {
		t.Errorf("top result rank = %d, want 0", results[0].Rank)
	}
}
