package daemonserver

import (
	"log/slog"
	"os"
	"strings"

	"switchboard/go-daemon/internal/bootstrap/daemonconfig"
	"switchboard/go-daemon/internal/platform/redactlog"
)

// NewLogger builds the daemon's logger from config, with sensitive
// attributes redacted before they reach the sink.
func NewLogger(cfg daemonconfig.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(strings.TrimSpace(cfg.Level)) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(redactlog.WrapHandler(handler))
}
