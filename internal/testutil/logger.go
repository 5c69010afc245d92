package testutil

import (
	"io"
	"log/slog"
)

// Logger returns a logger that discards everything; repository tests pass it
// where a component wants a *slog.Logger.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
