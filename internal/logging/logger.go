package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a structured logger. Production mode emits JSON, development
// mode emits human readable console output.
func NewLogger(level string, development bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// WithOperation enriches the logger with operation and scan identifiers.
func WithOperation(logger *zap.Logger, operation, scanID string) *zap.Logger {
	fields := []zap.Field{zap.String("operation", operation)}
	if scanID != "" {
		fields = append(fields, zap.String("scan_id", scanID))
	}
	return logger.With(fields...)
}
