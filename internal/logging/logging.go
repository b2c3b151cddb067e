// Package logging wires this module's structured logging onto
// github.com/go-kit/log, split into an info logger and a separately
// filterable debug logger.
package logging

import (
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// StructuredLogger is the logging interface callers plug in; it is
// satisfied directly by a go-kit/log.Logger.
type StructuredLogger interface {
	Log(keyVals ...interface{}) error
}

// NopLogger discards everything, and is the default when the caller
// supplies no logger.
func NopLogger() StructuredLogger { return log.NewNopLogger() }

// Default builds a logfmt logger to stderr, used when no logger is
// configured but the caller still wants to see something on a terminal.
func Default() StructuredLogger {
	return log.NewLogfmtLogger(os.Stderr)
}

// Split turns one configured logger into an info logger and a debug
// logger gated by the debug flag.
func Split(logger StructuredLogger, debug bool) (info StructuredLogger, dbg StructuredLogger) {
	base, ok := logger.(log.Logger)
	if !ok {
		base = log.LoggerFunc(logger.Log)
	}
	if debug {
		base = level.NewFilter(base, level.AllowDebug())
	} else {
		base = level.NewFilter(base, level.AllowInfo())
	}
	return level.Info(base), log.With(level.Debug(base), "caller", log.DefaultCaller)
}

// WithPrefix decorates logger with a component/connection prefix.
func WithPrefix(logger StructuredLogger, keyvals ...interface{}) StructuredLogger {
	base, ok := logger.(log.Logger)
	if !ok {
		base = log.LoggerFunc(logger.Log)
	}
	return log.WithPrefix(base, append([]interface{}{"ts", log.DefaultTimestampUTC}, keyvals...)...)
}
