package logger

import (
	"context"
	"errors"
	"io"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	apperrors "github.com/globalchat/backend/internal/errors"
)

// Level represents the log level
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

func (l Level) zap() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLevel maps a level name to a Level. Unknown names yield LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger provides structured, request-aware logging on top of zap.
type Logger struct {
	base      *zap.Logger
	zl        *zap.Logger
	component string
}

// global default logger
var (
	defaultLogger = New(os.Stdout, LevelInfo, "")
	pkgLogger     = defaultLogger.withCallerSkip(1)
)

// New creates a new logger writing JSON lines to output.
func New(output io.Writer, level Level, component string) *Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.MessageKey = "message"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.Lock(zapcore.AddSync(output)),
		level.zap(),
	)
	base := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))
	return newWithBase(base, component)
}

func newWithBase(base *zap.Logger, component string) *Logger {
	zl := base
	if component != "" {
		zl = base.With(zap.String("component", component))
	}
	return &Logger{base: base, zl: zl, component: component}
}

// SetDefault sets the default logger
func SetDefault(l *Logger) {
	defaultLogger = l
	pkgLogger = l.withCallerSkip(1)
}

// Default returns the default logger
func Default() *Logger {
	return defaultLogger
}

// WithComponent creates a new logger with the specified component name
func (l *Logger) WithComponent(component string) *Logger {
	return newWithBase(l.base, component)
}

// Zap exposes the underlying zap logger for libraries that accept one.
func (l *Logger) Zap() *zap.Logger {
	return l.zl
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.base.Sync()
}

func (l *Logger) withCallerSkip(n int) *Logger {
	return newWithBase(l.base.WithOptions(zap.AddCallerSkip(n)), l.component)
}

func (l *Logger) fields(ctx context.Context, fields []map[string]interface{}, err error) []zap.Field {
	var out []zap.Field
	if ctx != nil {
		if requestID := apperrors.GetRequestID(ctx); requestID != "" {
			out = append(out, zap.String("request_id", requestID))
		}
	}
	if len(fields) > 0 && fields[0] != nil {
		keys := make([]string, 0, len(fields[0]))
		for k := range fields[0] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out = append(out, zap.Any(k, fields[0][k]))
		}
	}
	if err != nil {
		out = append(out, zap.Error(err))
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			out = append(out, zap.String("error_code", appErr.Code), zap.String("error_category", string(appErr.Category)))
		}
	}
	return out
}

// Debug logs a debug message
func (l *Logger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.zl.Debug(msg, l.fields(ctx, fields, nil)...)
}

// Info logs an info message
func (l *Logger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.zl.Info(msg, l.fields(ctx, fields, nil)...)
}

// Warn logs a warning message
func (l *Logger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.zl.Warn(msg, l.fields(ctx, fields, nil)...)
}

// Error logs an error message
func (l *Logger) Error(ctx context.Context, msg string, err error, fields ...map[string]interface{}) {
	l.zl.Error(msg, l.fields(ctx, fields, err)...)
}

// Package-level convenience functions

func Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	pkgLogger.Debug(ctx, msg, fields...)
}

func Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	pkgLogger.Info(ctx, msg, fields...)
}

func Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	pkgLogger.Warn(ctx, msg, fields...)
}

func Error(ctx context.Context, msg string, err error, fields ...map[string]interface{}) {
	pkgLogger.Error(ctx, msg, err, fields...)
}
