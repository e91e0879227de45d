package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level is the severity of a log line.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	SILENT
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "SILENT"}

var levelColors = [...]string{
	"\033[36m", // cyan
	"\033[32m", // green
	"\033[33m", // yellow
	"\033[31m", // red
	"",
}

const resetColor = "\033[0m"

// Logger writes leveled, module-tagged log lines.
type Logger struct {
	mu       sync.Mutex
	level    Level
	out      io.Writer
	useColor bool
}

var (
	defaultLogger = New(INFO, os.Stderr, false)
	defaultMu     sync.Mutex
)

// Init replaces the global logger. Call once at startup before any goroutines
// start logging.
func Init(level Level, out io.Writer, useColor bool) {
	defaultMu.Lock()
	defaultLogger = New(level, out, useColor)
	defaultMu.Unlock()
}

// New creates a Logger writing to out. A nil out defaults to stderr.
func New(level Level, out io.Writer, useColor bool) *Logger {
	if out == nil {
		out = os.Stderr
	}
	return &Logger{level: level, out: out, useColor: useColor}
}

// SetLevel changes the minimum level that is emitted.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

func (l *Logger) log(level Level, module, format string, args ...interface{}) {
	if level < DEBUG || level >= SILENT {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}

	tag := "[" + levelNames[level] + "]"
	if l.useColor {
		tag = levelColors[level] + tag + resetColor
	}
	ts := time.Now().Format("2006/01/02 15:04:05.000000")
	fmt.Fprintf(l.out, "%s %s [%s] %s\n", ts, tag, module, fmt.Sprintf(format, args...))
}

// Debug logs at DEBUG level.
func (l *Logger) Debug(module, format string, args ...interface{}) {
	l.log(DEBUG, module, format, args...)
}

// Info logs at INFO level.
func (l *Logger) Info(module, format string, args ...interface{}) {
	l.log(INFO, module, format, args...)
}

// Warn logs at WARN level.
func (l *Logger) Warn(module, format string, args ...interface{}) {
	l.log(WARN, module, format, args...)
}

// Error logs at ERROR level.
func (l *Logger) Error(module, format string, args ...interface{}) {
	l.log(ERROR, module, format, args...)
}

func global() *Logger {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultLogger
}

// Debug logs at DEBUG level using the global logger.
func Debug(module, format string, args ...interface{}) {
	global().Debug(module, format, args...)
}

// Info logs at INFO level using the global logger.
func Info(module, format string, args ...interface{}) {
	global().Info(module, format, args...)
}

// Warn logs at WARN level using the global logger.
func Warn(module, format string, args ...interface{}) {
	global().Warn(module, format, args...)
}

// Error logs at ERROR level using the global logger.
func Error(module, format string, args ...interface{}) {
	global().Error(module, format, args...)
}

// ParseLevel parses a level name as used by the -log-level flag.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "debug", "DEBUG":
		return DEBUG, nil
	case "info", "INFO":
		return INFO, nil
	case "warn", "WARN", "warning", "WARNING":
		return WARN, nil
	case "error", "ERROR":
		return ERROR, nil
	case "silent", "SILENT", "none", "NONE":
		return SILENT, nil
	}
	return INFO, fmt.Errorf("invalid log level: %s", s)
}

// String returns the level name.
func (l Level) String() string {
	if l < DEBUG || int(l) >= len(levelNames) {
		return "UNKNOWN"
	}
	return levelNames[l]
}
