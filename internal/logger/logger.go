package logger

import (
	"io"
	"log/slog"
	"os"
)

// New returns a JSON logger at info level for prod and a text logger at
// debug level otherwise. Output goes to stderr so command output on stdout
// stays clean.
func New(env string) *slog.Logger {
	return NewWithWriter(env, os.Stderr)
}

func NewWithWriter(env string, w io.Writer) *slog.Logger {
	var h slog.Handler
	if env == "prod" {
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	return slog.New(h)
}
