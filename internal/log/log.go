// Package log is circledb's structured logging shim. Call sites look the
// way CockroachDB's util/log call sites do (context-first, printf-style
// leveled helpers); the backend is a zap.Logger rather than util/log's
// own OTLP-aware subsystem, which is out of proportion to a library of
// this size.
package log

import (
	"context"

	"go.uber.org/zap"
)

var base = mustBuild()

func mustBuild() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = true
	l, err := cfg.Build()
	if err != nil {
		// A logger that cannot be constructed is not worth failing the
		// process over; fall back to a no-op logger.
		return zap.NewNop()
	}
	return l
}

type ctxKey struct{}

// WithLogger attaches a *zap.Logger to ctx, overriding the package default
// for every log call made with the returned context.
func WithLogger(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

func from(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return base
}

// Infof logs an informational message.
func Infof(ctx context.Context, format string, args ...interface{}) {
	from(ctx).Sugar().Infof(format, args...)
}

// Warningf logs a warning.
func Warningf(ctx context.Context, format string, args ...interface{}) {
	from(ctx).Sugar().Warnf(format, args...)
}

// VEventf logs a verbose/debug-level event. The verbosity level argument is
// accepted for call-site parity with CockroachDB's log.VEventf(ctx, level,
// ...) but is not currently used to gate output.
func VEventf(ctx context.Context, _ int, format string, args ...interface{}) {
	from(ctx).Sugar().Debugf(format, args...)
}
