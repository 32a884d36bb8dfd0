// Package logging configures zerolog for the job control binaries.
package logging

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ParseLevel returns the zerolog level named by s, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	if s == "" {
		return zerolog.InfoLevel
	}

	level, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil {
		return zerolog.InfoLevel
	}

	return level
}

// Configure sets the global level and returns a timestamped logger writing
// to w. Debug and trace loggers also record the caller.
func Configure(level string, w io.Writer) zerolog.Logger {
	l := ParseLevel(level)
	zerolog.SetGlobalLevel(l)

	logContext := zerolog.New(w).With().Timestamp()
	if l <= zerolog.DebugLevel {
		logContext = logContext.Caller()
	}

	return logContext.Logger().Level(l)
}

// Console wraps w in a human readable zerolog writer.
func Console(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
}
