package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity level of log messages
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

// Field represents a structured logging field
type Field struct {
	Key   string
	Value interface{}
}

// String creates a string field
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates an integer field
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Float64 creates a float64 field
func Float64(key string, value float64) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a boolean field
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Duration creates a duration field
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

// Error creates an error field
func Error(err error) Field {
	return Field{Key: "error", Value: err.Error()}
}

// Logger defines the interface for structured logging
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
}

// logEntry is the JSON shape of a single log line.
type logEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// StructuredLogger implements Logger, writing either human-readable text or
// JSON lines to an io.Writer (typically a logsink.RotatingWriter).
type StructuredLogger struct {
	level  LogLevel
	format string
	output io.Writer
	fields map[string]interface{}
	mu     sync.Mutex
}

// NewStructuredLogger creates a logger at the given level writing to out.
// Format is "text" or "json".
func NewStructuredLogger(level, format string, out io.Writer) *StructuredLogger {
	if out == nil {
		out = os.Stdout
	}
	return &StructuredLogger{
		level:  parseLogLevel(level),
		format: format,
		output: out,
		fields: make(map[string]interface{}),
	}
}

func parseLogLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Debug logs a debug message
func (l *StructuredLogger) Debug(msg string, fields ...Field) {
	if l.level <= DebugLevel {
		l.log(DebugLevel, msg, fields...)
	}
}

// Info logs an info message
func (l *StructuredLogger) Info(msg string, fields ...Field) {
	if l.level <= InfoLevel {
		l.log(InfoLevel, msg, fields...)
	}
}

// Warn logs a warning message
func (l *StructuredLogger) Warn(msg string, fields ...Field) {
	if l.level <= WarnLevel {
		l.log(WarnLevel, msg, fields...)
	}
}

// Error logs an error message
func (l *StructuredLogger) Error(msg string, fields ...Field) {
	l.log(ErrorLevel, msg, fields...)
}

// With creates a new logger carrying additional persistent fields
func (l *StructuredLogger) With(fields ...Field) Logger {
	newFields := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		newFields[k] = v
	}
	for _, field := range fields {
		newFields[field.Key] = field.Value
	}
	return &StructuredLogger{
		level:  l.level,
		format: l.format,
		output: l.output,
		fields: newFields,
	}
}

func (l *StructuredLogger) log(level LogLevel, msg string, fields ...Field) {
	entry := logEntry{
		Timestamp: time.Now().UTC(),
		Level:     level.String(),
		Message:   msg,
		Fields:    make(map[string]interface{}),
	}
	for k, v := range l.fields {
		entry.Fields[k] = v
	}
	for _, field := range fields {
		entry.Fields[field.Key] = field.Value
	}

	var line string
	if l.format == "json" {
		if data, err := json.Marshal(entry); err == nil {
			line = string(data) + "\n"
		} else {
			line = fmt.Sprintf("ERROR: failed to marshal log entry: %v\n", err)
		}
	} else {
		line = formatText(entry)
	}

	l.mu.Lock()
	l.output.Write([]byte(line))
	l.mu.Unlock()
}

func formatText(entry logEntry) string {
	var builder strings.Builder
	builder.WriteString(entry.Timestamp.Format("2006-01-02 15:04:05.000"))
	builder.WriteString(" [")
	builder.WriteString(entry.Level)
	builder.WriteString("] ")
	builder.WriteString(entry.Message)
	if len(entry.Fields) > 0 {
		builder.WriteString(" {")
		first := true
		for k, v := range entry.Fields {
			if !first {
				builder.WriteString(", ")
			}
			builder.WriteString(k)
			builder.WriteString("=")
			builder.WriteString(fmt.Sprintf("%v", v))
			first = false
		}
		builder.WriteString("}")
	}
	builder.WriteString("\n")
	return builder.String()
}

// DefaultLogger creates a text logger on stdout at info level.
func DefaultLogger() Logger {
	return NewStructuredLogger("info", "text", os.Stdout)
}

// NullLogger creates a logger that discards all output (useful for testing).
func NullLogger() Logger {
	return NewStructuredLogger("error", "json", io.Discard)
}
