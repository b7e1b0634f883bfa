// Package logging builds the process-wide zerolog root logger. Components
// derive their own loggers from it with a "component" field.
package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New creates the root logger with the given level and format.
// format "console" gives human-readable output; anything else emits JSON.
func New(level, format string) zerolog.Logger {
	lvl := parseLevel(level)

	if format == "console" {
		cw := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
		return zerolog.New(cw).Level(lvl).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
