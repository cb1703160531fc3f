// Package logging configures zerolog for PeeRly processes.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a logger writing to w. Development gets the human-readable
// console writer with caller info; every other env writes JSON lines.
func New(env, level string, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if env == "development" {
		log = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}).
			With().Timestamp().Caller().Logger()
	} else {
		log = zerolog.New(w).With().Timestamp().Logger()
	}
	return log.Level(lvl)
}

// Setup builds the process logger and installs RFC3339 timestamps.
func Setup(env, level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	return New(env, level, os.Stderr)
}

// Component tags log with the emitting component's name.
func Component(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

// Nop returns a disabled logger for callers that do not inject one.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
