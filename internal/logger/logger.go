// Package logger builds the process-wide slog logger.
package logger

import (
	"io"
	"log/slog"
	"os"
)

// Config selects the level and the output format ("json" or "text").
type Config struct {
	Level  slog.Level
	Format string
}

// New creates a logger writing to stdout and installs it as the default.
func New(cfg Config) *slog.Logger {
	return newLogger(os.Stdout, cfg)
}

func newLogger(w io.Writer, cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
