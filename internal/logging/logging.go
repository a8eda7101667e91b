// Package logging configures structured slog output and redacts credentials
// from log records before they are emitted.
package logging

import (
	"io"
	"log/slog"
	"strings"
)

// New builds a JSON slog logger at the given level with redaction enabled.
// level accepts "debug", "info", "warn", "error"; anything else means info.
func New(w io.Writer, level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	base := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: l})
	return slog.New(NewRedactingHandler(base))
}
