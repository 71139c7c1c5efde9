// Package logging configures the ledger server's structured logger.
//
// Text output goes through tint for local runs; json is meant for log
// collectors. Every record carries the service name.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Service is attached to every record as the "service" attribute.
const Service = "splitledger"

// Log output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Setup builds a logger writing to w at the named level and format, and
// installs it as slog's default.
func Setup(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl := ParseLevel(level)

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "", FormatText:
		handler = tint.NewHandler(w, &tint.Options{
			Level:      lvl,
			TimeFormat: time.Kitchen,
			AddSource:  lvl == slog.LevelDebug,
		})
	case FormatJSON:
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	logger := slog.New(handler).With("service", Service)
	slog.SetDefault(logger)
	return logger, nil
}

// ParseLevel maps a level name to a slog.Level. Unknown names mean INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
