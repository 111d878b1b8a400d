package logging

import (
	"io"
	"log/slog"
	"os"
)

// Init installs the default logger. The level comes from LOG_LEVEL and
// defaults to errors only.
func Init() *slog.Logger {
	logger := New(os.Stderr, os.Getenv("LOG_LEVEL"))
	slog.SetDefault(logger)
	return logger
}

// New builds a text logger writing to w at the named level.
func New(w io.Writer, name string) *slog.Logger {
	return slog.New(
		slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: Level(name),
		}),
	)
}

// Level maps a LOG_LEVEL value to a slog level.
func Level(name string) slog.Level {
	switch name {
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	default:
		// "error", "production", "prod" and anything unknown.
		return slog.LevelError
	}
}
