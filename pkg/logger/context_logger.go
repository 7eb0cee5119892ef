package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey string

const (
	// SessionIDKey carries the session id through request contexts.
	SessionIDKey contextKey = "session_id"
	// StreamConfigKey carries the bound profile config id.
	StreamConfigKey contextKey = "config_id"
	// DeviceIDKey carries the local device id.
	DeviceIDKey contextKey = "device_id"
)

// ContextLogger provides context-aware logging for protocol flows.
type ContextLogger struct {
	logger *zap.Logger
}

// NewContextLogger creates a new context logger.
func NewContextLogger(logger *zap.Logger) *ContextLogger {
	return &ContextLogger{logger: logger}
}

// New builds a production zap logger at the given level ("debug",
// "info", "warn", "error"). Unknown levels fall back to info.
func New(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return cfg.Build()
}

// WithContext returns a logger annotated with protocol identifiers found
// in the context.
func (cl *ContextLogger) WithContext(ctx context.Context) *zap.Logger {
	fields := []zapcore.Field{}
	for _, key := range []contextKey{SessionIDKey, StreamConfigKey, DeviceIDKey} {
		if v := ctx.Value(key); v != nil {
			if s, ok := v.(string); ok {
				fields = append(fields, zap.String(string(key), s))
			}
		}
	}
	if len(fields) == 0 {
		return cl.logger
	}
	return cl.logger.With(fields...)
}

// WithSession returns a logger bound to a session id.
func (cl *ContextLogger) WithSession(sessionID string) *zap.Logger {
	return cl.logger.With(zap.String(string(SessionIDKey), sessionID))
}

// WithError adds an error to the logger.
func (cl *ContextLogger) WithError(err error) *zap.Logger {
	return cl.logger.With(zap.Error(err))
}
