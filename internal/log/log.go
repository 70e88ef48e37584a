// Package log provides the shared logging setup for passage.
//
// Loggers are plain *slog.Logger values handed to components through their
// constructors. There is no package-level logger: a component that needs to
// log receives one, usually narrowed with logger.With("component", ...).
//
// Usage:
//
//	logger := log.New(log.Config{Level: slog.LevelDebug})
//	pipeline := ingest.New(cfg, embedder, idx, logger.With("component", "ingest"))
//
//	// tests
//	logger := log.NewNop()
package log

import (
	"io"
	"log/slog"
	"os"
)

// Logger aliases *slog.Logger so call sites depend on this package's name
// rather than spelling out log/slog everywhere.
type Logger = *slog.Logger

// Config controls handler construction.
type Config struct {
	// Level is the minimum level emitted. Zero value is slog.LevelInfo.
	Level slog.Level

	// JSON switches from text to JSON output.
	JSON bool

	// AddSource attaches file:line to every record.
	AddSource bool
}

// New returns a logger writing to stderr with the given configuration.
func New(cfg Config) Logger {
	return NewWithWriter(os.Stderr, cfg)
}

// NewWithWriter returns a logger writing to w. Tests use this to capture
// output in a bytes.Buffer.
func NewWithWriter(w io.Writer, cfg Config) Logger {
	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// NewNop returns a logger that discards everything. Test-only: production
// code should always run with a real handler.
func NewNop() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
