// Package log provides a small structured-logging handle that components take
// by constructor injection instead of reaching for a process-wide sink.
package log

import (
	"go.uber.org/zap"
)

// Logger is the logging surface every component depends on. It is a thin
// wrapper over zap's SugaredLogger exposing a leveled Infow/Warnw/Errorw
// family, but nothing here is a package-level global: each component holds
// its own Logger, usually derived from a parent via With.
type Logger interface {
	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
	With(keysAndValues ...interface{}) Logger
	Sync() error
}

type zapLogger struct {
	s *zap.SugaredLogger
}

// New builds a production-configured Logger (JSON encoding, INFO level).
func New() Logger {
	l, err := zap.NewProduction()
	if err != nil {
		// Fall back to a logger that never errors construction.
		l = zap.NewNop()
	}
	return &zapLogger{s: l.Sugar()}
}

// NewDevelopment builds a console-friendly Logger for local/CLI use.
func NewDevelopment() Logger {
	l, err := zap.NewDevelopment()
	if err != nil {
		l = zap.NewNop()
	}
	return &zapLogger{s: l.Sugar()}
}

// Nop returns a Logger that discards everything, for tests.
func Nop() Logger {
	return &zapLogger{s: zap.NewNop().Sugar()}
}

func (z *zapLogger) Debugw(msg string, kv ...interface{}) { z.s.Debugw(msg, kv...) }
func (z *zapLogger) Infow(msg string, kv ...interface{})  { z.s.Infow(msg, kv...) }
func (z *zapLogger) Warnw(msg string, kv ...interface{})  { z.s.Warnw(msg, kv...) }
func (z *zapLogger) Errorw(msg string, kv ...interface{}) { z.s.Errorw(msg, kv...) }
func (z *zapLogger) Sync() error                          { return z.s.Sync() }

func (z *zapLogger) With(kv ...interface{}) Logger {
	return &zapLogger{s: z.s.With(kv...)}
}
