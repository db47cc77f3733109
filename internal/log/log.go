package log

import (
	"log/slog"
	"os"
)

// Setup installs the default slog handler at the given level.
func Setup(logLevel string) {
	var level slog.Level

	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}

// WithComponent returns a logger tagged with the owning component.
func WithComponent(component string) *slog.Logger {
	return slog.With("component", component)
}
