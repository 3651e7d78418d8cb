package logger

import (
	"log/slog"
	"os"
)

// New returns the process logger. Components take it through functional
// options so tests can substitute a discard handler.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}
