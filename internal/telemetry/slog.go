package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// SetupLogger installs the global slog default from config. format "json"
// selects a JSONHandler for production scraping; anything else gets the
// human-readable TextHandler. Level accepts debug/info/warn/error
// (case-insensitive) and falls back to info. All three Airlock binaries call
// this before anything else so even startup failures come out in the
// configured shape.
func SetupLogger(format, level string) {
	slog.SetDefault(slog.New(newHandler(os.Stdout, format, level)))
	slog.Info("logger initialised", "format", format, "level", parseLevel(level).String())
}

func newHandler(w io.Writer, format, level string) slog.Handler {
	lvl := parseLevel(level)
	opts := &slog.HandlerOptions{
		Level: lvl,
		// file:line attribution is only worth its cost when debugging
		AddSource: lvl == slog.LevelDebug,
	}
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func parseLevel(level string) slog.Level {
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
