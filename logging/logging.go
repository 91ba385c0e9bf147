// Package logging builds the process-wide structured logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config configures the logger.
type Config struct {
	// Level is the minimum severity: trace, debug, info, warn, error.
	// Unknown or empty means info.
	Level string

	// Pretty switches from JSON lines to human-readable console output.
	Pretty bool

	// Out is the destination. Default: stderr.
	Out io.Writer
}

// New builds a logger tagged with the component name.
func New(component string, cfg Config) zerolog.Logger {
	out := cfg.Out
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// Nop returns a logger that discards everything; components default to it
// when callers pass no logger.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
