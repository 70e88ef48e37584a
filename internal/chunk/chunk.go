// Package chunk splits documents into overlapping passages for embedding.
//
// The chunker slides a fixed-size window over the document text and prefers
// to end each window at a sentence or word boundary, so passages read as
// coherent text instead of cutting words in half. Offsets and sizes are
// measured in runes; the prompt budget downstream uses the same unit.
//
// Splitting is fully deterministic: the same document and configuration
// always produce the same boundaries and the same chunk ids.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"unicode"
)

var (
	// ErrChunkSize indicates a non-positive chunk size.
	ErrChunkSize = errors.New("chunk size must be positive")

	// ErrOverlap indicates an overlap outside [0, size).
	ErrOverlap = errors.New("overlap must satisfy 0 <= overlap < chunk size")
)

// Document is a unit of source text handed to the pipeline. Documents are
// immutable once ingested; re-ingestion under the same SourceURI supersedes
// the earlier version instead of mutating it.
type Document struct {
	ID        string
	SourceURI string
	Text      string
	Metadata  map[string]string
}

// Chunk is a contiguous sub-span of a document used as a retrieval unit.
// Start and End are rune offsets into the document text, End > Start.
// Chunks of one document form a covering, overlapping sequence ordered by
// Start.
type Chunk struct {
	ID         string
	DocumentID string
	Text       string
	Start      int
	End        int
	Metadata   map[string]string
}

// Chunker splits documents with a fixed window size and overlap.
type Chunker struct {
	size      int
	overlap   int
	tolerance int
}

// New returns a Chunker. size is the window length in runes; overlap is how
// many runes consecutive chunks share, 0 <= overlap < size.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrChunkSize, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: got overlap %d for size %d", ErrOverlap, overlap, size)
	}

	// The window end may move back up to tolerance runes to hit a natural
	// break. Capped so a shortened chunk still reaches past the overlap
	// region, which keeps start offsets strictly increasing.
	tolerance := size / 5
	if max := size - overlap - 1; tolerance > max {
		tolerance = max
	}

	return &Chunker{size: size, overlap: overlap, tolerance: tolerance}, nil
}

// Split cuts doc into overlapping chunks. An empty document yields no chunks;
// an empty remainder after the last full window is dropped, never emitted.
// Chunk metadata inherits the document metadata plus document_id and
// source_uri keys.
func (c *Chunker) Split(doc Document) []Chunk {
	runes := []rune(doc.Text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	var chunks []Chunk
	start := 0
	for {
		end := start + c.size
		if end >= n {
			end = n
		} else {
			end = c.naturalEnd(runes, start, end)
		}

		chunks = append(chunks, Chunk{
			ID:         ID(doc.ID, start),
			DocumentID: doc.ID,
			Text:       string(runes[start:end]),
			Start:      start,
			End:        end,
			Metadata:   c.chunkMetadata(doc),
		})

		if end == n {
			return chunks
		}
		// The next window begins exactly overlap runes before this end, so
		// consecutive chunks always share exactly overlap runes.
		start = end - c.overlap
	}
}

// naturalEnd moves end back by at most the tolerance to the nearest sentence
// terminator, falling back to the nearest whitespace, falling back to a hard
// cut. The returned end is exclusive and always > start.
func (c *Chunker) naturalEnd(runes []rune, start, end int) int {
	limit := end - c.tolerance

	for i := end - 1; i >= limit; i-- {
		if isSentenceEnd(runes[i]) {
			return i + 1
		}
	}
	for i := end - 1; i >= limit; i-- {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}
	return end
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '\n':
		return true
	}
	return false
}

func (c *Chunker) chunkMetadata(doc Document) map[string]string {
	md := make(map[string]string, len(doc.Metadata)+2)
	for k, v := range doc.Metadata {
		md[k] = v
	}
	md["document_id"] = doc.ID
	md["source_uri"] = doc.SourceURI
	return md
}

// ID derives the deterministic chunk id from the document id and the chunk's
// start offset.
func ID(docID string, start int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s#%d", docID, start)))
	return "chunk_" + hex.EncodeToString(sum[:16])
}
