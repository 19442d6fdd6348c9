package client

import (
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// Field represents a structured log field.
type Field = zap.Field

// Helper functions for creating fields
func String(key, val string) Field           { return zap.String(key, val) }
func Int(key string, val int) Field          { return zap.Int(key, val) }
func Int64(key string, val int64) Field      { return zap.Int64(key, val) }
func Uint64(key string, val uint64) Field    { return zap.Uint64(key, val) }
func Bool(key string, val bool) Field        { return zap.Bool(key, val) }
func Duration(key string, val time.Duration) Field {
	return zap.Duration(key, val)
}
func Error(key string, err error) Field {
	if err == nil {
		return zap.Skip()
	}
	return zap.String(key, err.Error())
}

// Logger is the interface for structured logging.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	WithFields(fields ...Field) Logger
}

// zapLogger implements Logger on top of a zap.Logger.
type zapLogger struct {
	logger *zap.Logger
}

// ParseLogLevel converts a string to a zap level. Unknown values map to info.
func ParseLogLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zap.DebugLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// NewLogger creates a JSON logger with the specified level and output.
// A level of "none" returns a no-op logger.
func NewLogger(level string, output io.Writer) Logger {
	if strings.EqualFold(level, "none") {
		return NewNoopLogger()
	}
	if output == nil {
		output = os.Stdout
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.MessageKey = "message"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.AddSync(output),
		zap.NewAtomicLevelAt(ParseLogLevel(level)),
	)

	return &zapLogger{logger: zap.New(core)}
}

// NewDefaultLogger creates a logger with INFO level writing to stdout.
func NewDefaultLogger() Logger {
	return NewLogger("info", os.Stdout)
}

// NewZapLogger adapts an existing zap.Logger.
func NewZapLogger(logger *zap.Logger) Logger {
	return &zapLogger{logger: logger}
}

// NewNoopLogger creates a logger that discards all output.
func NewNoopLogger() Logger {
	return &zapLogger{logger: zap.NewNop()}
}

// NewObserverLogger creates a logger that records entries in memory for tests.
func NewObserverLogger(level string) (Logger, *observer.ObservedLogs) {
	core, logs := observer.New(ParseLogLevel(level))
	return &zapLogger{logger: zap.New(core)}, logs
}

func (l *zapLogger) Debug(msg string, fields ...Field) {
	l.logger.Debug(msg, redactSensitiveFields(fields)...)
}

func (l *zapLogger) Info(msg string, fields ...Field) {
	l.logger.Info(msg, redactSensitiveFields(fields)...)
}

func (l *zapLogger) Warn(msg string, fields ...Field) {
	l.logger.Warn(msg, redactSensitiveFields(fields)...)
}

func (l *zapLogger) Error(msg string, fields ...Field) {
	l.logger.Error(msg, redactSensitiveFields(fields)...)
}

func (l *zapLogger) WithFields(fields ...Field) Logger {
	return &zapLogger{logger: l.logger.With(redactSensitiveFields(fields)...)}
}

var sensitiveKeys = map[string]bool{
	"password":      true,
	"token":         true,
	"secret":        true,
	"authorization": true,
	"api_key":       true,
	"apikey":        true,
	"auth":          true,
}

// redactSensitiveFields masks values for sensitive keys.
func redactSensitiveFields(fields []Field) []Field {
	var result []Field
	for i, field := range fields {
		if !sensitiveKeys[strings.ToLower(field.Key)] {
			continue
		}
		if result == nil {
			result = make([]Field, len(fields))
			copy(result, fields)
		}
		result[i] = zap.String(field.Key, "[REDACTED]")
	}
	if result == nil {
		return fields
	}
	return result
}
