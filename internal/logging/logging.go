// Package logging builds the broker's structured logger the same way
// cmd/tempo-federated-querier/main.go and friggdb.New construct theirs:
// a logfmt logger over a synchronized stdout writer, a UTC timestamp
// field, and a level filter.
package logging

import (
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Level selects the minimum severity a logger emits.
type Level int8

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// New returns a logfmt logger to stdout, timestamped, filtered to lvl.
func New(lvl Level) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stdout))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	switch lvl {
	case LevelDebug:
		return level.NewFilter(logger, level.AllowDebug())
	case LevelWarn:
		return level.NewFilter(logger, level.AllowWarn())
	case LevelError:
		return level.NewFilter(logger, level.AllowError())
	default:
		return level.NewFilter(logger, level.AllowInfo())
	}
}

// Debug, Info, Warn and Error are thin aliases over go-kit/log/level, kept
// here so call sites only need to import this package.
func Debug(logger log.Logger) log.Logger { return level.Debug(logger) }
func Info(logger log.Logger) log.Logger  { return level.Info(logger) }
func Warn(logger log.Logger) log.Logger  { return level.Warn(logger) }
func Error(logger log.Logger) log.Logger { return level.Error(logger) }

// With is a re-export of go-kit/log.With for call sites that only import
// this package.
func With(logger log.Logger, keyvals ...interface{}) log.Logger {
	return log.With(logger, keyvals...)
}
