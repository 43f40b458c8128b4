// SPDX-License-Identifier: MIT
package log

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync/atomic"
)

// LogLevel defines the severity of a log message.
type LogLevel uint32

// Constants for log levels.
const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// String returns the string representation of the LogLevel.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a string (case-insensitive) to a LogLevel.
// Returns LevelInfo and false if the string is not recognized.
func ParseLevel(levelStr string) (LogLevel, bool) {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "DEBUG":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN", "WARNING":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	case "FATAL":
		return LevelFatal, true
	default:
		return LevelInfo, false
	}
}

// --- Global Logger State ---

var currentLevel atomic.Uint32

// logger is shared by the package functions and every named Logger.
var logger = stdlog.New(os.Stderr, "", stdlog.Ldate|stdlog.Ltime|stdlog.Lmicroseconds)

func init() {
	SetLevel(LevelInfo)
}

// SetLevel sets the global logging level atomically.
func SetLevel(level LogLevel) {
	currentLevel.Store(uint32(level))
}

// GetLevel gets the current global logging level atomically.
func GetLevel() LogLevel {
	return LogLevel(currentLevel.Load())
}

// SetOutput redirects all log output. Used by the TUI to keep the terminal
// clean and by tests to capture lines.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

func shouldLog(level LogLevel) bool {
	return level >= GetLevel()
}

func emit(level LogLevel, msg string) {
	// Keep the level column aligned: DEBUG and ERROR are one rune wider.
	pad := " "
	if level == LevelDebug || level == LevelError || level == LevelFatal {
		pad = ""
	}
	logger.Printf("[%s] %s%s", level, pad, msg)
}

// --- Public Logging Functions ---

// Debugf logs a formatted debug message if the level is appropriate.
func Debugf(format string, v ...interface{}) {
	if shouldLog(LevelDebug) {
		emit(LevelDebug, fmt.Sprintf(format, v...))
	}
}

// Infof logs a formatted info message if the level is appropriate.
func Infof(format string, v ...interface{}) {
	if shouldLog(LevelInfo) {
		emit(LevelInfo, fmt.Sprintf(format, v...))
	}
}

// Warnf logs a formatted warning message if the level is appropriate.
func Warnf(format string, v ...interface{}) {
	if shouldLog(LevelWarn) {
		emit(LevelWarn, fmt.Sprintf(format, v...))
	}
}

// Errorf logs a formatted error message if the level is appropriate.
func Errorf(format string, v ...interface{}) {
	if shouldLog(LevelError) {
		emit(LevelError, fmt.Sprintf(format, v...))
	}
}

// Fatalf logs a formatted fatal message and exits the application.
// Fatal messages are always logged regardless of the current level.
func Fatalf(format string, v ...interface{}) {
	logger.Fatalf("[%s] %s", LevelFatal, fmt.Sprintf(format, v...))
}

// Logger prefixes every message with a component name, e.g.
// "SpectrumCoordinator[spectrum-0]: ...". It shares the global level.
type Logger struct {
	prefix string
}

// Named returns a Logger for the given component.
func Named(component string) *Logger {
	return &Logger{prefix: component + ": "}
}

// With returns a child logger whose component is qualified by sub.
func (l *Logger) With(sub string) *Logger {
	name := strings.TrimSuffix(l.prefix, ": ")
	return &Logger{prefix: name + "[" + sub + "]: "}
}

func (l *Logger) Debugf(format string, v ...interface{}) {
	if shouldLog(LevelDebug) {
		emit(LevelDebug, l.prefix+fmt.Sprintf(format, v...))
	}
}

func (l *Logger) Infof(format string, v ...interface{}) {
	if shouldLog(LevelInfo) {
		emit(LevelInfo, l.prefix+fmt.Sprintf(format, v...))
	}
}

func (l *Logger) Warnf(format string, v ...interface{}) {
	if shouldLog(LevelWarn) {
		emit(LevelWarn, l.prefix+fmt.Sprintf(format, v...))
	}
}

func (l *Logger) Errorf(format string, v ...interface{}) {
	if shouldLog(LevelError) {
		emit(LevelError, l.prefix+fmt.Sprintf(format, v...))
	}
}
