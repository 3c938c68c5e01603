// Package logger initializes the process-wide slog logger used by the
// demo command and by engine.Player when no per-player logger is given.
package logger

import (
	"fmt"
	"log/slog"
	"os"
)

var globalLogger *slog.Logger

// InitLogger configures the global logger at the given level, one of
// "debug", "info", "warn", or "error".
func InitLogger(level string) error {
	var slogLevel slog.Level

	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "info":
		slogLevel = slog.LevelInfo
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		return fmt.Errorf("invalid log level: %s", level)
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slogLevel,
	})

	globalLogger = slog.New(handler)
	slog.SetDefault(globalLogger)

	return nil
}

// GetLogger returns the global logger, falling back to slog.Default if
// InitLogger has not been called.
func GetLogger() *slog.Logger {
	if globalLogger == nil {
		return slog.Default()
	}
	return globalLogger
}
