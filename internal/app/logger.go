package app

import (
	"io"
	"log/slog"
	"strings"
)

// LogLevels are the accepted values of Config.LogLevel.
var LogLevels = []string{"debug", "info", "warn", "error"}

// parseLevel maps a level name to its slog level. Unknown names mean info.
func parseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newLogger creates the logger for one app. It does not set the global
// logger, allowing for isolated logger instances.
func newLogger(cfg *Config, logW io.Writer) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(logW, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(logW, handlerOpts))
}
