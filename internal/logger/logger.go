// Package logger provides the process-wide structured logger for the bridge.
package logger

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey struct{}

var (
	mu  sync.RWMutex
	log *zap.SugaredLogger
)

func init() {
	// A usable default so packages can log before Initialize runs.
	l, _ := zap.NewProduction()
	log = l.Sugar()
}

// Initialize configures the global logger. When quiet is set, only warnings
// and errors are emitted.
func Initialize(quiet bool) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if quiet {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	}
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return
	}
	mu.Lock()
	log = l.Sugar()
	mu.Unlock()
}

// WithContext returns a context carrying a logger enriched with the given
// key/value pairs. Handlers use it to stamp trace ids on every line.
func WithContext(ctx context.Context, keysAndValues ...any) context.Context {
	return context.WithValue(ctx, ctxKey{}, get().With(keysAndValues...))
}

// FromContext returns the request-scoped logger, or the global one.
func FromContext(ctx context.Context) *zap.SugaredLogger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.SugaredLogger); ok {
		return l
	}
	return get()
}

func get() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// Info logs a message at info level.
func Info(args ...any) { get().Info(args...) }

// Infof logs a formatted message at info level.
func Infof(format string, args ...any) { get().Infof(format, args...) }

// Warn logs a message at warn level.
func Warn(args ...any) { get().Warn(args...) }

// Warnf logs a formatted message at warn level.
func Warnf(format string, args ...any) { get().Warnf(format, args...) }

// Errorf logs a formatted message at error level.
func Errorf(format string, args ...any) { get().Errorf(format, args...) }

// Fatalf logs a formatted message and exits the process.
func Fatalf(format string, args ...any) { get().Fatalf(format, args...) }

// Sync flushes buffered log entries.
func Sync() { _ = get().Sync() }
