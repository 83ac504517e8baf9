// Package zaplog adapts *zap.Logger to adapter.Logger for hosts that
// wire WithWorkerLogger/WithPoolLogger to a zap-backed logger.
package zaplog

import (
	"go.uber.org/zap"

	"github.com/carvalhoven/dque/adapter"
)

type logger struct {
	z *zap.Logger
}

// New wraps an existing *zap.Logger. Pass zap.NewNop() in tests that don't
// care about log output but still want to exercise the Logger interface.
func New(z *zap.Logger) adapter.Logger {
	return &logger{z: z}
}

func (l *logger) Debug(msg string, fields ...adapter.Field) {
	l.z.Debug(msg, toZap(fields)...)
}

func (l *logger) Info(msg string, fields ...adapter.Field) {
	l.z.Info(msg, toZap(fields)...)
}

func (l *logger) Error(msg string, fields ...adapter.Field) {
	l.z.Error(msg, toZap(fields)...)
}

func (l *logger) With(fields ...adapter.Field) adapter.Logger {
	return &logger{z: l.z.With(toZap(fields)...)}
}

func toZap(fields []adapter.Field) []zap.Field {
	out := make([]zap.Field, len(fields))
	for i, f := range fields {
		out[i] = zap.Any(f.Key, f.Value)
	}
	return out
}
