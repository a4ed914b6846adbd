package logger

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"claude-gateway/internal"
)

// Level represents logging severity levels
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

// String returns the string representation of the log level
func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Emoji returns the emoji prefix for the log level
func (l Level) Emoji() string {
	switch l {
	case DEBUG:
		return "🔍"
	case INFO:
		return "ℹ️"
	case WARN:
		return "⚠️"
	case ERROR:
		return "❌"
	default:
		return "📝"
	}
}

// ParseLevel converts a level name to a Level, defaulting to INFO
func ParseLevel(name string) Level {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// Logger provides structured logging with context support
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})

	// WithField returns a new logger with an additional field
	WithField(key, value string) Logger

	// WithModel returns a new logger tagged with the request's model
	WithModel(model string) Logger

	// WithComponent returns a new logger tagged with a component name
	WithComponent(component string) Logger
}

// LoggerConfig provides configuration for logging behavior
type LoggerConfig interface {
	GetMinLogLevel() Level
}

// ContextLogger implements Logger with context awareness
type ContextLogger struct {
	ctx       context.Context
	config    LoggerConfig
	fields    map[string]string
	component string
}

// New creates a new context-aware logger
func New(ctx context.Context, config LoggerConfig) *ContextLogger {
	return &ContextLogger{
		ctx:    ctx,
		config: config,
		fields: make(map[string]string),
	}
}

// loggerContextKey is used to store logger in context
type loggerContextKey struct{}

// FromContext retrieves a logger from context, or creates a new one
func FromContext(ctx context.Context, config LoggerConfig) Logger {
	if l, ok := ctx.Value(loggerContextKey{}).(Logger); ok {
		return l
	}
	return New(ctx, config)
}

// WithContext stores a logger in the context
func WithContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, l)
}

func (l *ContextLogger) clone() *ContextLogger {
	fields := make(map[string]string, len(l.fields)+1)
	for k, v := range l.fields {
		fields[k] = v
	}
	return &ContextLogger{
		ctx:       l.ctx,
		config:    l.config,
		fields:    fields,
		component: l.component,
	}
}

// WithField returns a new logger with an additional field
func (l *ContextLogger) WithField(key, value string) Logger {
	c := l.clone()
	c.fields[key] = value
	return c
}

// WithModel returns a new logger tagged with the request's model
func (l *ContextLogger) WithModel(model string) Logger {
	return l.WithField("model", model)
}

// WithComponent returns a new logger tagged with a component name
func (l *ContextLogger) WithComponent(component string) Logger {
	c := l.clone()
	c.component = component
	return c
}

// shouldLog determines if a message should be logged at the given level
func (l *ContextLogger) shouldLog(level Level) bool {
	if l.config == nil {
		return level >= INFO
	}
	return level >= l.config.GetMinLogLevel()
}

// formatMessage creates the formatted log message with emoji, level,
// request ID, component and sorted fields
func (l *ContextLogger) formatMessage(level Level, format string, args ...interface{}) string {
	msg := fmt.Sprintf(format, args...)
	requestID := internal.GetRequestID(l.ctx)

	parts := []string{
		level.Emoji(),
		fmt.Sprintf("[%s]", level.String()),
		fmt.Sprintf("[%s]", requestID),
	}

	if l.component != "" {
		parts = append(parts, fmt.Sprintf("[%s]", l.component))
	}

	parts = append(parts, msg)

	if len(l.fields) > 0 {
		keys := make([]string, 0, len(l.fields))
		for k := range l.fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fieldParts := make([]string, 0, len(keys))
		for _, k := range keys {
			fieldParts = append(fieldParts, fmt.Sprintf("%s=%s", k, l.fields[k]))
		}
		parts = append(parts, fmt.Sprintf("fields={%s}", strings.Join(fieldParts, " ")))
	}

	return strings.Join(parts, " ")
}

// Debug logs a debug message
func (l *ContextLogger) Debug(format string, args ...interface{}) {
	if l.shouldLog(DEBUG) {
		log.Println(l.formatMessage(DEBUG, format, args...))
	}
}

// Info logs an info message
func (l *ContextLogger) Info(format string, args ...interface{}) {
	if l.shouldLog(INFO) {
		log.Println(l.formatMessage(INFO, format, args...))
	}
}

// Warn logs a warning message
func (l *ContextLogger) Warn(format string, args ...interface{}) {
	if l.shouldLog(WARN) {
		log.Println(l.formatMessage(WARN, format, args...))
	}
}

// Error logs an error message
func (l *ContextLogger) Error(format string, args ...interface{}) {
	if l.shouldLog(ERROR) {
		log.Println(l.formatMessage(ERROR, format, args...))
	}
}

// nopLogger discards everything. Useful for library embedders that
// bring their own logging.
type nopLogger struct{}

// NewNop returns a logger that discards all output
func NewNop() Logger { return nopLogger{} }

func (nopLogger) Debug(string, ...interface{})    {}
func (nopLogger) Info(string, ...interface{})     {}
func (nopLogger) Warn(string, ...interface{})     {}
func (nopLogger) Error(string, ...interface{})    {}
func (nopLogger) WithField(string, string) Logger { return nopLogger{} }
func (nopLogger) WithModel(string) Logger         { return nopLogger{} }
func (nopLogger) WithComponent(string) Logger     { return nopLogger{} }
