package app

import (
	"io"
	"log/slog"
)

// logLevels maps the accepted --log-level values. cli.Parse rejects
// anything else, so the fallback to info only covers a Config built by
// hand.
var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// newLogger builds the application logger over the injected writer. It
// never touches the slog default, so parallel App instances in tests stay
// isolated from each other.
func newLogger(appConfig *Config, outW io.Writer) *slog.Logger {
	level, ok := logLevels[appConfig.LogLevel]
	if !ok {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if appConfig.LogFormat == "json" {
		handler = slog.NewJSONHandler(outW, opts)
	} else {
		handler = slog.NewTextHandler(outW, opts)
	}
	return slog.New(handler)
}
