package core

import (
	"os"

	"github.com/rs/zerolog"
)

// Logger interface for structured logging
// Implementations can provide custom logging behavior (e.g., integration with logrus, zap, etc.)
type Logger interface {
	// Debug logs a debug message with optional fields
	Debug(msg string, fields ...Field)

	// Info logs an info message with optional fields
	Info(msg string, fields ...Field)

	// Warn logs a warning message with optional fields
	Warn(msg string, fields ...Field)

	// Error logs an error message with optional fields
	Error(msg string, fields ...Field)
}

// Field represents a key-value pair for structured logging
type Field struct {
	Key   string
	Value any
}

// F creates a new Field with the given key and value
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// ZerologLogger adapts a zerolog.Logger to Logger.
type ZerologLogger struct {
	l zerolog.Logger
}

// NewZerologLogger wraps l.
func NewZerologLogger(l zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{l: l}
}

// NewDefaultLogger returns a console logger on stderr that only emits
// warnings and errors.
func NewDefaultLogger() *ZerologLogger {
	l := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(zerolog.WarnLevel).
		With().Timestamp().Logger()
	return NewZerologLogger(l)
}

func (z *ZerologLogger) Debug(msg string, fields ...Field) {
	emit(z.l.Debug(), msg, fields)
}

func (z *ZerologLogger) Info(msg string, fields ...Field) {
	emit(z.l.Info(), msg, fields)
}

func (z *ZerologLogger) Warn(msg string, fields ...Field) {
	emit(z.l.Warn(), msg, fields)
}

func (z *ZerologLogger) Error(msg string, fields ...Field) {
	emit(z.l.Error(), msg, fields)
}

// DebugEnabled reports whether debug output would be written. Hot paths check it
// before building fields.
func (z *ZerologLogger) DebugEnabled() bool {
	return z.l.GetLevel() <= zerolog.DebugLevel
}

// emit writes the event; a nil event (level disabled) is a no-op.
func emit(e *zerolog.Event, msg string, fields []Field) {
	if e == nil {
		return
	}
	for _, f := range fields {
		if err, ok := f.Value.(error); ok {
			e = e.AnErr(f.Key, err)
			continue
		}
		e = e.Interface(f.Key, f.Value)
	}
	e.Msg(msg)
}

// NoOpLogger is a logger that discards all log messages
// Useful for tests or when logging is not desired
type NoOpLogger struct{}

// NewNoOpLogger creates a new NoOpLogger
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (l *NoOpLogger) Debug(msg string, fields ...Field) {}
func (l *NoOpLogger) Info(msg string, fields ...Field)  {}
func (l *NoOpLogger) Warn(msg string, fields ...Field)  {}
func (l *NoOpLogger) Error(msg string, fields ...Field) {}

// debugEnabler is implemented by loggers that can tell whether Debug output
// is discarded.
type debugEnabler interface {
	DebugEnabled() bool
}

func debugEnabled(l Logger) bool {
	switch l := l.(type) {
	case *NoOpLogger:
		return false
	case debugEnabler:
		return l.DebugEnabled()
	default:
		return true
	}
}
