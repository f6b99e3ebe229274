// Package logger provides structured logging for the server.
package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// contextKey is a type for context keys.
type contextKey string

const (
	// CorrelationIDKey is the context key for correlation IDs.
	CorrelationIDKey contextKey = "correlation_id"

	// RequestIDKey is the context key for request IDs.
	RequestIDKey contextKey = "request_id"

	// ProjectIDKey is the context key for project IDs.
	ProjectIDKey contextKey = "project_id"

	// SessionIDKey is the context key for session IDs.
	SessionIDKey contextKey = "session_id"
)

// Logger wraps a zap.SugaredLogger for the key/value call sites used
// throughout the server, keeping a *zap.Logger around for hot paths.
type Logger struct {
	sugar *zap.SugaredLogger
	core  *zap.Logger
}

// Config represents logger configuration.
type Config struct {
	Level    string
	Format   string // "json" or "console" ("text" is accepted as an alias)
	Output   io.Writer
	FilePath string
}

// New creates a new logger with the specified level, JSON output to stdout.
func New(level string) *Logger {
	return NewWithConfig(Config{
		Level:  level,
		Format: "json",
	})
}

// NewWithConfig creates a new logger with full configuration.
func NewWithConfig(cfg Config) *Logger {
	level := parseLevel(cfg.Level)
	console := cfg.Format == "console" || cfg.Format == "text"

	var encoderCfg zapcore.EncoderConfig
	if console {
		encoderCfg = zap.NewDevelopmentEncoderConfig()
	} else {
		encoderCfg = zap.NewProductionEncoderConfig()
	}
	encoderCfg.TimeKey = "time"
	encoderCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	encoderCfg.CallerKey = "source"
	encoderCfg.EncodeCaller = shortCallerEncoder

	var encoder zapcore.Encoder
	if console {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	var primary io.Writer = os.Stdout
	if cfg.Output != nil {
		primary = cfg.Output
	}
	writers := []zapcore.WriteSyncer{zapcore.AddSync(primary)}
	if cfg.FilePath != "" {
		if file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			writers = append(writers, zapcore.AddSync(file))
		}
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(writers...), level)
	// AddCallerSkip(1) accounts for Logger's own Info/Warn/Error/Debug
	// wrapper methods sitting between the call site and Sugar()'s Infow/etc.
	zl := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))

	return &Logger{sugar: zl.Sugar(), core: zl}
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func shortCallerEncoder(caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
	if !caller.Defined {
		enc.AppendString("undefined")
		return
	}
	enc.AppendString(fmt.Sprintf("%s:%d", filepathBase(caller.File), caller.Line))
}

func filepathBase(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

// WithContext returns a logger with context values added as fields.
func (l *Logger) WithContext(ctx context.Context, args ...interface{}) *Logger {
	var fields []interface{}

	if correlationID, ok := ctx.Value(CorrelationIDKey).(string); ok && correlationID != "" {
		fields = append(fields, "correlation_id", correlationID)
	}
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		fields = append(fields, "request_id", requestID)
	}
	if projectID, ok := ctx.Value(ProjectIDKey).(string); ok && projectID != "" {
		fields = append(fields, "project_id", projectID)
	}
	if sessionID, ok := ctx.Value(SessionIDKey).(string); ok && sessionID != "" {
		fields = append(fields, "session_id", sessionID)
	}

	fields = append(fields, args...)

	return &Logger{sugar: l.sugar.With(fields...), core: l.core}
}

// WithFields returns a logger with additional fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{sugar: l.sugar.With(args...), core: l.core}
}

// WithError returns a logger with an error field.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{sugar: l.sugar.With(formatErrorFields(err)...), core: l.core}
}

// Info logs msg at info level with alternating key/value pairs, matching
// the structured-logging call surface used across the tree.
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Infow(msg, keysAndValues...)
}

// Warn logs msg at warn level with alternating key/value pairs.
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.sugar.Warnw(msg, keysAndValues...)
}

// Error logs msg at error level with alternating key/value pairs.
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, keysAndValues...)
}

// Debug logs msg at debug level with alternating key/value pairs.
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

// Fatal logs a fatal error and exits the program.
func (l *Logger) Fatal(msg string, args ...interface{}) {
	l.Error(msg, args...)
	os.Exit(1)
}

// LogRequest logs an HTTP request with standard fields.
func (l *Logger) LogRequest(method, path string, statusCode int, duration time.Duration, size int64) {
	l.sugar.Infow("http_request",
		"method", method,
		"path", path,
		"status", statusCode,
		"duration", duration,
		"size", size,
	)
}

// NewNop creates a no-op logger for testing.
func NewNop() *Logger {
	zl := zap.NewNop()
	return &Logger{sugar: zl.Sugar(), core: zl}
}

// formatErrorFields builds key/value pairs describing err, including a
// stack trace when err originates from a runtime panic recovery.
func formatErrorFields(err error) []interface{} {
	fields := []interface{}{
		"error", err.Error(),
		"error_type", fmt.Sprintf("%T", err),
	}

	if _, ok := err.(runtime.Error); ok {
		buf := make([]byte, 4096)
		n := runtime.Stack(buf, false)
		fields = append(fields, "error_stack", string(buf[:n]))
	}

	return fields
}

// Close flushes any buffered log entries.
func (l *Logger) Close() error {
	return l.core.Sync()
}
