package stdiomux

import (
	"io"
	"log/slog"

	"github.com/wagiedev/stdiomux/internal/config"
	"github.com/wagiedev/stdiomux/internal/logging"
)

// NopLogger returns a logger that discards all output. It is the default
// when no logger is configured.
func NopLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// NewLogger builds the same logger the stdiomux command uses: level is one
// of debug, info, warn or error, and format is "text" or "json".
//
// Every component adds a "component" attribute, and endpoint-scoped records
// carry "endpoint".
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	return slog.New(logging.NewHandler(w, config.LoggingConfig{Level: level, Format: format}))
}
