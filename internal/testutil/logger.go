package testutil

import (
	"io"
	"log/slog"
)

// NopLogger returns a logger that discards all output, for use in tests that
// would otherwise be noisy.
func NopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
