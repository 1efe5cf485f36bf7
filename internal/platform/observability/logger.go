package observability

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/platform/requestctx"
)

const defaultLogLevel = "info"

// NewLogger constructs a zap logger emitting Cloud Logging compatible JSON. LOG_LEVEL selects the level.
func NewLogger() (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL"))))); err != nil {
		_ = level.UnmarshalText([]byte(defaultLogLevel))
	}

	cfg := zap.Config{
		Level:    level,
		Encoding: "json",
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:    "message",
			TimeKey:       "timestamp",
			LevelKey:      "severity",
			CallerKey:     "caller",
			StacktraceKey: "stacktrace",
			EncodeTime:    zapcore.RFC3339NanoTimeEncoder,
			EncodeCaller:  zapcore.ShortCallerEncoder,
			EncodeLevel: func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
				enc.AppendString(strings.ToUpper(level.String()))
			},
		},
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}
	return cfg.Build()
}

// WithLogger injects the logger into the provided context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return requestctx.WithLogger(ctx, logger)
}

// FromContext retrieves the logger from context, defaulting to a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	return requestctx.Logger(ctx)
}

// EventLogger is the structured event callback services accept.
type EventLogger func(ctx context.Context, event string, fields map[string]any)

// ServiceLogger bridges service event callbacks to zap. The request-scoped logger wins over the
// fallback so request ids and trace ids follow the event. Events ending in "_failed" or
// containing "error" log at warn level, lifecycle events (created, applied, sent) at info and
// everything else at debug.
func ServiceLogger(fallback *zap.Logger, name string) EventLogger {
	if fallback == nil {
		fallback = zap.NewNop()
	}
	fallback = fallback.Named(name)
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := fallback
		if requestctx.HasLogger(ctx) {
			logger = requestctx.Logger(ctx).Named(name)
		}
		zapFields := make([]zap.Field, 0, len(fields))
		keys := make([]string, 0, len(fields))
		for key := range fields {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			zapFields = append(zapFields, fieldFor(key, fields[key]))
		}
		switch {
		case isWarnEvent(event):
			logger.Warn(event, zapFields...)
		case isInfoEvent(event):
			logger.Info(event, zapFields...)
		default:
			logger.Debug(event, zapFields...)
		}
	}
}

func isWarnEvent(event string) bool {
	return strings.HasSuffix(event, "_failed") ||
		strings.Contains(event, "error") ||
		strings.HasSuffix(event, ".exhausted") ||
		strings.HasSuffix(event, "_not_found") ||
		strings.HasSuffix(event, "_mismatch") ||
		strings.HasSuffix(event, "_fallback")
}

func isInfoEvent(event string) bool {
	for _, suffix := range []string{".created", ".applied", ".sent", ".swept"} {
		if strings.HasSuffix(event, suffix) {
			return true
		}
	}
	return false
}

func fieldFor(key string, value any) zap.Field {
	switch v := value.(type) {
	case error:
		return zap.NamedError(key, v)
	case time.Duration:
		return zap.Duration(key, v)
	case fmt.Stringer:
		return zap.Stringer(key, v)
	default:
		return zap.Any(key, v)
	}
}
