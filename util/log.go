package util

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// NewLogger returns a slog.Logger writing to stdout. format may be "json" or "text".
func NewLogger(level, format string) *slog.Logger {
	return NewLoggerTo(os.Stdout, level, format)
}

func NewLoggerTo(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Trace logs how long the enclosing block took: defer util.Trace("process")().
func Trace(msg string) func() {
	start := time.Now()
	return func() {
		slog.Info(msg, "elapsed", time.Since(start).String())
	}
}
