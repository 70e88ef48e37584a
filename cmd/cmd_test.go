package cmd

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/passagedev/passage/internal/testutil"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestCollectDocuments_SingleFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeFile(t, dir, "notes.md", "# Notes\n\nSome text.")

	docs, err := collectDocuments([]string{path}, testutil.NopLogger())
	if err != nil {
		t.Fatalf("collectDocuments() error = %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("got %d documents, want 1", len(docs))
	}

	doc := docs[0]
	if doc.Text != "# Notes\n\nSome text." {
		t.Errorf("Text = %q", doc.Text)
	}
	if !strings.HasPrefix(doc.SourceURI, "file://") {
		t.Errorf("SourceURI = %q, want file:// prefix", doc.SourceURI)
	}
	if doc.Metadata["title"] != "notes.md" {
		t.Errorf("title = %q, want notes.md", doc.Metadata["title"])
	}
	if !filepath.IsAbs(doc.ID) {
		t.Errorf("ID = %q, want absolute path", doc.ID)
	}
}

func TestCollectDocuments_DirectoryWalk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "a.md", "alpha")
	writeFile(t, dir, "sub/b.txt", "beta")
	writeFile(t, dir, "sub/ignored.go", "package main")
	writeFile(t, dir, ".hidden/c.md", "hidden")
	writeFile(t, dir, "image.png", "\x89PNG")

	docs, err := collectDocuments([]string{dir}, testutil.NopLogger())
	if err != nil {
		t.Fatalf("collectDocuments() error = %v", err)
	}

	titles := make([]string, 0, len(docs))
	for _, d := range docs {
		titles = append(titles, d.Metadata["title"])
	}
	if len(docs) != 2 {
		t.Fatalf("got documents %v, want [a.md b.txt]", titles)
	}
	for _, want := range []string{"a.md", "b.txt"} {
		found := false
		for _, got := range titles {
			if got == want {
				found = true
			}
		}
		if !found {
			t.Errorf("missing document %s in %v", want, titles)
		}
	}
}

func TestCollectDocuments_MissingPath(t *testing.T) {
	t.Parallel()

	_, err := collectDocuments([]string{filepath.Join(t.TempDir(), "nope.md")}, testutil.NopLogger())
	if err == nil {
		t.Fatal("expected error for missing path")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error = %v, want wrapped os.ErrNotExist", err)
	}
}

func TestReadDocument_SkipsOversized(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeFile(t, dir, "big.txt", strings.Repeat("x", MaxIngestFileBytes+1))

	_, ok, err := readDocument(path, testutil.NopLogger())
	if err != nil {
		t.Fatalf("readDocument() error = %v", err)
	}
	if ok {
		t.Error("oversized file should be skipped, not ingested")
	}
}

func TestParseFilters(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     []string
		wantN   int
		wantErr bool
	}{
		{name: "empty", raw: nil, wantN: 0},
		{name: "single", raw: []string{"lang=go"}, wantN: 1},
		{name: "multiple", raw: []string{"lang=go", "team=infra"}, wantN: 2},
		{name: "value with equals", raw: []string{"expr=a=b"}, wantN: 1},
		{name: "missing separator", raw: []string{"lang"}, wantErr: true},
		{name: "empty key", raw: []string{"=go"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			opts, err := parseFilters(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseFilters(%v) = nil, want error", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseFilters(%v) error = %v", tt.raw, err)
			}
			if len(opts) != tt.wantN {
				t.Errorf("got %d options, want %d", len(opts), tt.wantN)
			}
		})
	}
}
