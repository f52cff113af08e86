// Package logger provides the context-scoped structured logger used across
// AegisTrader, a thin zap wrapper with additions required by §7: every
// logged error must carry service, instance, trace_id, and error_code.
package logger

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ryanflavor/aegistrader/internal/domain"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const loggerKey contextKey = "logger"

// PrepareLogger stores a new production logger in ctx and returns both.
func PrepareLogger(ctx context.Context) (context.Context, *zap.Logger) {
	logger := NewProductionLogger()
	return context.WithValue(ctx, loggerKey, logger), logger
}

// PrepareLoggerWithConfig stores a logger built from config in ctx, falling
// back to the production logger if config fails to build.
func PrepareLoggerWithConfig(ctx context.Context, config zap.Config) (context.Context, *zap.Logger) {
	logger, err := config.Build()
	if err != nil {
		logger = NewProductionLogger()
		logger.Error("failed to build logger from config, using production logger", zap.Error(err))
	}
	return context.WithValue(ctx, loggerKey, logger), logger
}

// GetLogger retrieves the logger from ctx, or a production logger if none
// was stored; never returns nil.
func GetLogger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return NewProductionLogger()
	}

	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok && logger != nil {
		return logger
	}

	return NewProductionLogger()
}

// WithFields returns ctx with a sub-logger carrying the given fields on top
// of whatever logger ctx already holds.
func WithFields(ctx context.Context, fields ...zap.Field) context.Context {
	logger := GetLogger(ctx)
	subLogger := logger.With(fields...)
	return context.WithValue(ctx, loggerKey, subLogger)
}

// WithComponent tags the logger in ctx with a "component" field.
func WithComponent(ctx context.Context, component string) context.Context {
	return WithFields(ctx, zap.String("component", component))
}

// NewProductionLogger builds an INFO+ JSON logger to stderr.
func NewProductionLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		return zap.NewNop()
	}

	return logger
}

// NewDevelopmentLogger builds a DEBUG+ human-readable console logger.
func NewDevelopmentLogger() *zap.Logger {
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	logger, err := config.Build()
	if err != nil {
		return zap.NewNop()
	}

	return logger
}

// NewLoggerFromEnv picks development or production logging based on
// AEGIS_ENV ("development"/"dev" selects development).
func NewLoggerFromEnv() *zap.Logger {
	env := os.Getenv("AEGIS_ENV")
	if env == "development" || env == "dev" {
		return NewDevelopmentLogger()
	}
	return NewProductionLogger()
}

// WithService tags the logger with "service" and "instance" fields, the
// minimum identifying context §7 requires on every log line emitted by a
// running service instance.
func WithService(ctx context.Context, service domain.ServiceName, instance domain.InstanceID) context.Context {
	return WithFields(ctx, zap.String("service", service.String()), zap.String("instance", instance.String()))
}

// WithTraceID tags the logger with "trace_id", required on every logged
// error per §7.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return WithFields(ctx, zap.String("trace_id", traceID))
}

// LogError logs an error at ERROR level with its error_code field set,
// matching §7's minimum logged-event shape (timestamp, level, service,
// instance, trace_id, error_code, message) when combined with WithService
// and WithTraceID.
func LogError(ctx context.Context, msg string, err error, fields ...zap.Field) {
	code := domain.CodeOf(err)
	allFields := append([]zap.Field{zap.String("error_code", string(code)), zap.Error(err)}, fields...)
	GetLogger(ctx).Error(msg, allFields...)
}

// Sync flushes buffered log entries; call before shutdown.
func Sync(ctx context.Context) error {
	logger := GetLogger(ctx)
	return logger.Sync()
}

// Fatal logs msg at FATAL and exits the process.
func Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	logger := GetLogger(ctx)
	logger.Fatal(msg, fields...)
}

// Fatalf logs a Sprintf-formatted message at FATAL and exits the process.
func Fatalf(ctx context.Context, format string, args ...interface{}) {
	logger := GetLogger(ctx)
	logger.Fatal(fmt.Sprintf(format, args...))
}

// WithLogger stores an existing logger in ctx.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}
