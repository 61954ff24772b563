// Package logging provides the logging interface and default implementations
// for levelbind.
//
// Four levels (Error, Warn, Info, Debug) in the style of Badger and Pebble.
// Users can wrap their own structured loggers (slog, zap) if needed, or hand
// levelbind a single-method sink through NewSinkLogger.
//
// Log format: YYYY/MM/DD HH:MM:SS LEVEL [component] message
//
// Example: 2025/12/30 18:45:13 INFO [db] opened /tmp/db (backend=leveldb)
//
// Component namespace prefixes are used for filtering:
//   - [db] database handle operations
//   - [resource] auxiliary resource allocation and release
//   - [iter] iterator faults
//   - [runtime] engine registry loading
//   - [dump] dump export and import
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"reflect"
)

// Level represents the logging level.
type Level int

const (
	// LevelError logs only errors.
	LevelError Level = iota
	// LevelWarn logs warnings and errors.
	LevelWarn
	// LevelInfo logs info, warnings, and errors.
	LevelInfo
	// LevelDebug logs everything including debug messages.
	LevelDebug
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel returns the level named s (case-sensitive, as printed by String).
func ParseLevel(s string) (Level, error) {
	for l := LevelError; l <= LevelDebug; l++ {
		if l.String() == s {
			return l, nil
		}
	}
	return LevelWarn, fmt.Errorf("logging: unknown level %q", s)
}

// Logger defines the interface for levelbind logging.
//
// Concurrency: DefaultLogger, SinkLogger and Discard are safe for concurrent
// use. User-provided Logger implementations MUST be safe for concurrent use,
// since engines log from their own goroutines.
type Logger interface {
	// Errorf logs a formatted error message.
	Errorf(format string, args ...any)

	// Warnf logs a formatted warning message.
	Warnf(format string, args ...any)

	// Infof logs a formatted informational message.
	Infof(format string, args ...any)

	// Debugf logs a formatted debug message.
	Debugf(format string, args ...any)
}

// DefaultLogger is the default logger that writes to a specified output.
// It is stateless and safe for concurrent use (log.Logger is thread-safe).
// Level is read-only after construction; create a new logger to change level.
type DefaultLogger struct {
	logger *log.Logger
	level  Level
}

// NewDefaultLogger creates a new default logger with the specified level.
// It writes to stderr.
func NewDefaultLogger(level Level) *DefaultLogger {
	return NewLogger(os.Stderr, level)
}

// NewLogger creates a new logger with the specified output and level.
func NewLogger(w io.Writer, level Level) *DefaultLogger {
	return &DefaultLogger{
		logger: log.New(w, "", log.LstdFlags),
		level:  level,
	}
}

// Level returns the logging level.
func (l *DefaultLogger) Level() Level {
	return l.level
}

func (l *DefaultLogger) output(level Level, format string, args []any) {
	if l.level >= level {
		_ = l.logger.Output(3, level.String()+" "+fmt.Sprintf(format, args...))
	}
}

// Errorf logs a formatted error message.
func (l *DefaultLogger) Errorf(format string, args ...any) { l.output(LevelError, format, args) }

// Warnf logs a formatted warning message.
func (l *DefaultLogger) Warnf(format string, args ...any) { l.output(LevelWarn, format, args) }

// Infof logs a formatted informational message.
func (l *DefaultLogger) Infof(format string, args ...any) { l.output(LevelInfo, format, args) }

// Debugf logs a formatted debug message.
func (l *DefaultLogger) Debugf(format string, args ...any) { l.output(LevelDebug, format, args) }

// Sink receives one fully formatted line per message.
type Sink interface {
	Log(msg string)
}

// SinkLogger formats leveled messages into a Sink. Lines carry the level name
// but no timestamp; the sink owner decides how to stamp them.
type SinkLogger struct {
	sink  Sink
	level Level
}

// NewSinkLogger returns a logger forwarding messages at or above level to sink.
func NewSinkLogger(sink Sink, level Level) *SinkLogger {
	return &SinkLogger{sink: sink, level: level}
}

func (l *SinkLogger) output(level Level, format string, args []any) {
	if l.level >= level {
		l.sink.Log(level.String() + " " + fmt.Sprintf(format, args...))
	}
}

// Errorf implements Logger.
func (l *SinkLogger) Errorf(format string, args ...any) { l.output(LevelError, format, args) }

// Warnf implements Logger.
func (l *SinkLogger) Warnf(format string, args ...any) { l.output(LevelWarn, format, args) }

// Infof implements Logger.
func (l *SinkLogger) Infof(format string, args ...any) { l.output(LevelInfo, format, args) }

// Debugf implements Logger.
func (l *SinkLogger) Debugf(format string, args ...any) { l.output(LevelDebug, format, args) }

// Namespace prefixes for log messages.
// Use these with fmt.Sprintf to add namespace context.
const (
	// NSDB is the namespace for database handle operations.
	NSDB = "[db] "
	// NSResource is the namespace for auxiliary resource lifecycle.
	NSResource = "[resource] "
	// NSIter is the namespace for iterator operations.
	NSIter = "[iter] "
	// NSRuntime is the namespace for runtime loading.
	NSRuntime = "[runtime] "
	// NSDump is the namespace for dump export and import.
	NSDump = "[dump] "
)

// IsNil returns true if the logger is nil or a typed-nil.
// A typed-nil occurs when a nil pointer is assigned to an interface:
//
//	var l *MyLogger = nil
//	opts.Logger = l  // Interface is not nil, but underlying pointer is
//
// Calling methods on a typed-nil panics, so this function detects both cases.
func IsNil(l Logger) bool {
	if l == nil {
		return true
	}
	v := reflect.ValueOf(l)
	return v.Kind() == reflect.Ptr && v.IsNil()
}

// OrDefault returns the provided logger if it is valid (non-nil and not typed-nil),
// otherwise returns a default WARN-level logger.
func OrDefault(l Logger) Logger {
	if IsNil(l) {
		return NewDefaultLogger(LevelWarn)
	}
	return l
}
