// Package logging builds the logr.Logger used by all simkube binaries, backed by zerolog.
package logging

import (
	"fmt"
	"io"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zerologr"
	"github.com/rs/zerolog"
)

// Supported output formats.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// ParseLevel maps a level name to a zerolog level. The empty string means info.
func ParseLevel(level string) (zerolog.Level, error) {
	switch level {
	case "trace":
		return zerolog.TraceLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "info", "":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("unsupported log level: %q", level)
	}
}

// IsValidFormat reports whether format is accepted by New. The empty string means console.
func IsValidFormat(format string) bool {
	return format == "" || format == FormatJSON || format == FormatConsole
}

// New returns a logger writing to w. logr verbosity V(1) maps to debug and V(2) to trace.
func New(w io.Writer, format, level string) (logr.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return logr.Logger{}, err
	}

	var zl zerolog.Logger
	switch format {
	case FormatJSON:
		zl = zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	case FormatConsole, "":
		zl = zerolog.New(
			zerolog.ConsoleWriter{
				Out:        w,
				TimeFormat: time.RFC3339,
			},
		).Level(lvl).With().Timestamp().Logger()
	default:
		return logr.Logger{}, fmt.Errorf("unsupported log format: %q", format)
	}

	return zerologr.New(&zl), nil
}
