// Package logger provides the structured, pluggable logging interface the
// core emits events through. The core never writes to stdout/stderr
// directly and never owns a logging sink of its own: callers inject a
// Logger (or accept the default JSON one) and decide where events go.
//
// Besides the generic field constructors, the package defines first-class
// helpers for the quantities this module actually reports: the host and
// observed digests of a pin mismatch, the endpoint and alternative-route
// host of a fallback, and application envelope codes.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log entry.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// String returns the textual form of a log level.
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Field is a single structured logging attribute.
type Field struct {
	Key   string
	Value interface{}
}

// String creates a string field.
func String(key, value string) Field { return Field{Key: key, Value: value} }

// Int creates an integer field.
func Int(key string, value int) Field { return Field{Key: key, Value: value} }

// Error creates an error field; a nil error logs as a nil value.
func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Host tags an entry with the remote host a connection event concerns.
func Host(host string) Field { return Field{Key: "host", Value: host} }

// Pins carries the SPKI digests observed on a presented certificate chain,
// logged when none of them matched the configured pin set.
func Pins(digests []string) Field { return Field{Key: "observed_pins", Value: digests} }

// Endpoint tags an entry with the logical API endpoint being dispatched.
func Endpoint(endpoint string) Field { return Field{Key: "endpoint", Value: endpoint} }

// Code carries an application envelope code.
func Code(code int) Field { return Field{Key: "code", Value: code} }

// Logger is the interface every session/transport/doh component logs
// through. Callers may supply their own implementation (e.g. to route
// events into an existing logging pipeline) instead of the default JSON
// sink; the core only depends on this interface.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	WithFields(fields ...Field) Logger
	SetLevel(level Level)
	GetLevel() Level
}

// StructuredLogger is the default Logger implementation: JSON lines written
// to an io.Writer.
type StructuredLogger struct {
	mu         sync.RWMutex
	level      Level
	output     io.Writer
	baseFields []Field
}

// NewLogger creates a structured logger writing to output, filtering below level.
func NewLogger(output io.Writer, level Level) *StructuredLogger {
	return &StructuredLogger{level: level, output: output}
}

// NewDefaultLogger returns a logger to stderr at InfoLevel, overridable via
// the SRPSESSION_LOG_LEVEL environment variable.
func NewDefaultLogger() *StructuredLogger {
	level := InfoLevel
	switch strings.ToUpper(os.Getenv("SRPSESSION_LOG_LEVEL")) {
	case "DEBUG":
		level = DebugLevel
	case "INFO":
		level = InfoLevel
	case "WARN":
		level = WarnLevel
	case "ERROR":
		level = ErrorLevel
	}
	return NewLogger(os.Stderr, level)
}

func (l *StructuredLogger) Debug(msg string, fields ...Field) { l.log(DebugLevel, msg, fields...) }
func (l *StructuredLogger) Info(msg string, fields ...Field)  { l.log(InfoLevel, msg, fields...) }
func (l *StructuredLogger) Warn(msg string, fields ...Field)  { l.log(WarnLevel, msg, fields...) }
func (l *StructuredLogger) Error(msg string, fields ...Field) { l.log(ErrorLevel, msg, fields...) }

// WithFields returns a logger that always includes the given fields.
func (l *StructuredLogger) WithFields(fields ...Field) Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	merged := make([]Field, len(l.baseFields)+len(fields))
	copy(merged, l.baseFields)
	copy(merged[len(l.baseFields):], fields)

	return &StructuredLogger{
		level:      l.level,
		output:     l.output,
		baseFields: merged,
	}
}

func (l *StructuredLogger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *StructuredLogger) GetLevel() Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

func (l *StructuredLogger) log(level Level, msg string, fields ...Field) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if level < l.level {
		return
	}

	entry := make(map[string]interface{}, 3+len(l.baseFields)+len(fields))
	entry["timestamp"] = time.Now().Format(time.RFC3339)
	entry["level"] = level.String()
	entry["message"] = msg

	for _, field := range l.baseFields {
		entry[field.Key] = field.Value
	}
	for _, field := range fields {
		entry[field.Key] = field.Value
	}

	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(l.output, `{"level":"ERROR","message":"failed to marshal log entry","error":"%v"}`+"\n", err)
		return
	}
	fmt.Fprintf(l.output, "%s\n", data)
}

// Noop discards all log entries; useful for tests that don't want output.
type Noop struct{}

func (Noop) Debug(string, ...Field)     {}
func (Noop) Info(string, ...Field)      {}
func (Noop) Warn(string, ...Field)      {}
func (Noop) Error(string, ...Field)     {}
func (Noop) WithFields(...Field) Logger { return Noop{} }
func (Noop) SetLevel(Level)             {}
func (Noop) GetLevel() Level            { return ErrorLevel }

var (
	defaultLoggerMu sync.RWMutex
	defaultLogger   Logger = NewDefaultLogger()
)

// SetDefaultLogger overrides the package default logger.
func SetDefaultLogger(l Logger) {
	defaultLoggerMu.Lock()
	defer defaultLoggerMu.Unlock()
	defaultLogger = l
}

// GetDefaultLogger returns the current package default logger, handed to
// components whose caller injected none.
func GetDefaultLogger() Logger {
	defaultLoggerMu.RLock()
	defer defaultLoggerMu.RUnlock()
	return defaultLogger
}
