package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/passagedev/passage/internal/app"
	"github.com/passagedev/passage/internal/chunk"
	"github.com/passagedev/passage/internal/config"
	"github.com/passagedev/passage/internal/log"
)

// MaxIngestFileBytes caps how large a single file may be. Larger files are
// skipped with a warning rather than failing the run.
const MaxIngestFileBytes = 8 << 20 // 8 MiB

// textExtensions lists the file types ingested when walking a directory.
var textExtensions = map[string]bool{
	".md":       true,
	".markdown": true,
	".txt":      true,
	".rst":      true,
	".adoc":     true,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [path...]",
	Short: "Index documents from files or directories",
	Long: `Ingest reads text documents (Markdown, plain text, reStructuredText,
AsciiDoc), splits them into overlapping chunks, embeds the chunks, and
upserts them into the configured vector index.

Directories are walked recursively; hidden directories are skipped.
Re-ingesting a file replaces its previously indexed chunks.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := log.New(log.Config{})

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	docs, err := collectDocuments(args, logger)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return fmt.Errorf("no ingestable documents under %s", strings.Join(args, ", "))
	}

	report, err := a.Pipeline.Ingest(ctx, docs)
	if err != nil {
		return fmt.Errorf("ingesting documents: %w", err)
	}

	fmt.Printf("Ingested %d of %d documents\n", report.Accepted, len(docs))
	for _, f := range report.Failed {
		fmt.Printf("  failed: %s: %v\n", f.DocumentID, f.Err)
	}
	if len(report.Failed) > 0 {
		return fmt.Errorf("%d documents failed", len(report.Failed))
	}
	return nil
}

// collectDocuments expands the given paths into documents. Files are taken
// as-is; directories are walked for known text extensions.
func collectDocuments(paths []string, logger log.Logger) ([]chunk.Document, error) {
	var docs []chunk.Document

	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", root, err)
		}

		if !info.IsDir() {
			doc, ok, err := readDocument(root, logger)
			if err != nil {
				return nil, err
			}
			if ok {
				docs = append(docs, doc)
			}
			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			name := d.Name()
			if d.IsDir() {
				if strings.HasPrefix(name, ".") && path != root {
					return filepath.SkipDir
				}
				return nil
			}
			if !textExtensions[strings.ToLower(filepath.Ext(name))] {
				return nil
			}
			doc, ok, err := readDocument(path, logger)
			if err != nil {
				return err
			}
			if ok {
				docs = append(docs, doc)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", root, err)
		}
	}

	return docs, nil
}

// readDocument loads one file as a document. Oversized files are skipped,
// not fatal.
func readDocument(path string, logger log.Logger) (chunk.Document, bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return chunk.Document{}, false, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() > MaxIngestFileBytes {
		logger.Warn("skipping oversized file", "path", path, "size", info.Size())
		return chunk.Document{}, false, nil
	}

	data, err := os.ReadFile(path) // #nosec G304 -- paths come from the operator's command line
	if err != nil {
		return chunk.Document{}, false, fmt.Errorf("reading %s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return chunk.Document{
		ID:        abs,
		SourceURI: "file://" + abs,
		Text:      string(data),
		Metadata: map[string]string{
			"title": filepath.Base(path),
		},
	}, true, nil
}
