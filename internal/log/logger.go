// Package log provides a small structured logger used across every
// component of the supervisor. It is deliberately hand-rolled rather
// than built on a third-party structured-logging library: the core
// only ever needs leveled, timestamped lines tagged with the caller's
// file and line, written to a single global sink. Worker stderr is not
// routed through it; internal/proc captures that in a Ring.
package log

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log line. Higher values are more
// severe.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

// String returns the textual form of the level, e.g. for formatting.
func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a case-insensitive level name, defaulting to Info
// for anything unrecognised.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return Debug
	case "info":
		return Info
	case "warn", "warning":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

// Logger is a thread-safe leveled logger writing to a single output.
type Logger struct {
	mu     sync.RWMutex
	level  Level
	output io.Writer
}

// New creates a Logger at the given level writing to output.
func New(level Level, output io.Writer) *Logger {
	return &Logger{level: level, output: output}
}

var (
	global     *Logger
	globalOnce sync.Once
)

// Global returns the process-wide default logger, initializing it at
// Info level on first use.
func Global() *Logger {
	globalOnce.Do(func() {
		global = New(Info, os.Stderr)
	})
	return global
}

// SetGlobal replaces the process-wide default logger (tests only).
func SetGlobal(l *Logger) {
	global = l
}

func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *Logger) Level() Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
}

func callerInfo() (string, int) {
	for depth := 2; depth <= 6; depth++ {
		_, file, line, ok := runtime.Caller(depth)
		if !ok {
			continue
		}
		if strings.Contains(file, "runtime/") || strings.Contains(file, "internal/log/logger.go") {
			continue
		}
		parts := strings.Split(file, "/")
		return parts[len(parts)-1], line
	}
	return "unknown", 0
}

func (l *Logger) format(level Level, msg string) string {
	file, line := callerInfo()
	ts := time.Now().Format("2006-01-02T15:04:05.000")
	return fmt.Sprintf("%s [%-5s] [%s:%d] %s\n", ts, level, file, line, msg)
}

func (l *Logger) log(level Level, msg string) {
	l.mu.RLock()
	shouldLog := level >= l.level
	out := l.output
	l.mu.RUnlock()
	if !shouldLog {
		return
	}
	fmt.Fprint(out, l.format(level, msg))
}

func (l *Logger) Debugf(format string, v ...interface{}) { l.log(Debug, fmt.Sprintf(format, v...)) }
func (l *Logger) Infof(format string, v ...interface{})  { l.log(Info, fmt.Sprintf(format, v...)) }
func (l *Logger) Warnf(format string, v ...interface{})  { l.log(Warn, fmt.Sprintf(format, v...)) }
func (l *Logger) Errorf(format string, v ...interface{}) { l.log(Error, fmt.Sprintf(format, v...)) }

// Debugf logs a formatted debug message on the global logger.
func Debugf(format string, v ...interface{}) { Global().Debugf(format, v...) }

// Infof logs a formatted info message on the global logger.
func Infof(format string, v ...interface{}) { Global().Infof(format, v...) }

// Warnf logs a formatted warning message on the global logger.
func Warnf(format string, v ...interface{}) { Global().Warnf(format, v...) }

// Errorf logs a formatted error message on the global logger.
func Errorf(format string, v ...interface{}) { Global().Errorf(format, v...) }

// SetGlobalLevel sets the level of the global logger.
func SetGlobalLevel(level Level) { Global().SetLevel(level) }

// SetGlobalLevelFromString parses level and sets it on the global logger.
func SetGlobalLevelFromString(level string) { Global().SetLevel(ParseLevel(level)) }
