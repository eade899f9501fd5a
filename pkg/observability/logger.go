package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/platinummonkey/warden/pkg/contextkeys"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "INFO"
	}
}

// ParseLogLevel converts a level name into a LogLevel, defaulting to info
func ParseLogLevel(level string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

func (l LogLevel) toSlogLevel() slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger writes JSON lines through slog. Derived loggers share the handler.
type Logger struct {
	logger *slog.Logger
}

var fallbackLogger = NewLogger(InfoLevel, os.Stdout)

// NewLogger returns a JSON logger writing to output, or stdout when nil
func NewLogger(level LogLevel, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}
	return &Logger{logger: slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{
		Level: level.toSlogLevel(),
	}))}
}

// With returns a logger carrying the given key/value pairs
func (l *Logger) With(args ...interface{}) *Logger {
	if len(args) == 0 {
		return l
	}
	return &Logger{logger: l.logger.With(args...)}
}

func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.With(key, value)
}

// WithFields adds the fields in key order so output is stable
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]interface{}, 0, len(keys)*2)
	for _, k := range keys {
		args = append(args, k, fields[k])
	}
	return l.With(args...)
}

// WithError attaches err under "error"; a nil error returns l unchanged
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.With("error", err.Error())
}

func (l *Logger) Debug(message string) { l.logger.Debug(message) }
func (l *Logger) Info(message string)  { l.logger.Info(message) }
func (l *Logger) Warn(message string)  { l.logger.Warn(message) }
func (l *Logger) Error(message string) { l.logger.Error(message) }

func (l *Logger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

// WithLogger adds a logger to the context
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return contextkeys.WithLogger(ctx, logger)
}

// GetLogger returns the context logger, or a stdout logger when none is set
func GetLogger(ctx context.Context) *Logger {
	if logger, ok := contextkeys.Value[*Logger](ctx, contextkeys.LoggerKey); ok {
		return logger
	}
	return fallbackLogger
}

// FromContext returns the context logger tagged with the request id, the
// authenticated user and the active span
func FromContext(ctx context.Context) *Logger {
	logger := GetLogger(ctx)

	var args []interface{}
	if requestID := contextkeys.GetRequestID(ctx); requestID != "" {
		args = append(args, "request_id", requestID)
	}
	if userID, ok := contextkeys.GetUserID(ctx); ok {
		args = append(args, "user_id", userID)
	}
	args = append(args, traceFields(ctx)...)

	return logger.With(args...)
}
