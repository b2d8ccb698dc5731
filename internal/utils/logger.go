package utils

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// LogLevel represents an enumeration of log levels
type LogLevel int

const (
	Critical LogLevel = 50
	Error    LogLevel = 40
	Warning  LogLevel = 30
	Info     LogLevel = 20
	Debug    LogLevel = 10
	NotSet   LogLevel = 0
)

var (
	defaultLevel   = Info
	defaultLevelMu sync.RWMutex
)

func init() {
	SetDefaultLogLevel(LevelFromEnv())
}

// LevelFromEnv resolves the process log level. LOCAL=true forces debug output,
// otherwise LOG_LEVEL is parsed and Info is used when it is unset or unknown.
func LevelFromEnv() LogLevel {
	local := strings.ToLower(os.Getenv("LOCAL"))
	if local == "true" || local == "1" {
		return Debug
	}
	return ParseLogLevel(os.Getenv("LOG_LEVEL"))
}

// ParseLogLevel converts a textual level into a LogLevel.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return Debug
	case "warn", "warning":
		return Warning
	case "error":
		return Error
	case "critical":
		return Critical
	default:
		return Info
	}
}

// SetDefaultLogLevel changes the level picked up by loggers created without an explicit level.
func SetDefaultLogLevel(level LogLevel) {
	defaultLevelMu.Lock()
	defer defaultLevelMu.Unlock()
	defaultLevel = level
}

func currentDefaultLevel() LogLevel {
	defaultLevelMu.RLock()
	defer defaultLevelMu.RUnlock()
	return defaultLevel
}

// Logger provides structured logging with context
type Logger struct {
	prefix   string
	logger   *log.Logger
	fields   []interface{}
	mu       *sync.Mutex
	logLevel *LogLevel
}

// NewLogger creates a new logger with a given prefix
func NewLogger(prefix string, logLevel ...LogLevel) *Logger {
	return NewLoggerTo(os.Stdout, prefix, logLevel...)
}

// NewLoggerTo creates a logger writing to w, mostly useful in tests.
func NewLoggerTo(w io.Writer, prefix string, logLevel ...LogLevel) *Logger {
	level := currentDefaultLevel()
	if len(logLevel) > 0 {
		level = logLevel[0]
	}
	return &Logger{
		prefix:   prefix,
		logger:   log.New(w, fmt.Sprintf("[%s] ", prefix), log.LstdFlags),
		mu:       &sync.Mutex{},
		logLevel: &level,
	}
}

// With returns a child logger that appends keyvals to every message.
// The child shares its parent's output and level.
func (l *Logger) With(keyvals ...interface{}) *Logger {
	fields := make([]interface{}, 0, len(l.fields)+len(keyvals))
	fields = append(fields, l.fields...)
	fields = append(fields, keyvals...)
	return &Logger{
		prefix:   l.prefix,
		logger:   l.logger,
		fields:   fields,
		mu:       l.mu,
		logLevel: l.logLevel,
	}
}

// SetLogLevel sets the logging level
func (l *Logger) SetLogLevel(logLevel LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.logLevel = logLevel
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	l.emit(Debug, "DEBUG", msg, keyvals)
}

// Info logs an informational message
func (l *Logger) Info(msg string, keyvals ...interface{}) {
	l.emit(Info, "INFO", msg, keyvals)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	l.emit(Warning, "WARN", msg, keyvals)
}

// Error logs an error message
func (l *Logger) Error(msg string, keyvals ...interface{}) {
	l.emit(Error, "ERROR", msg, keyvals)
}

func (l *Logger) emit(level LogLevel, label, msg string, keyvals []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if *l.logLevel > level {
		return
	}
	l.logger.Println(formatMessage(label, msg, l.fields, keyvals))
}

// formatMessage formats a message with key-value pairs
func formatMessage(level, msg string, fields, keyvals []interface{}) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", level, msg)
	for _, kv := range [][]interface{}{fields, keyvals} {
		for i := 0; i+1 < len(kv); i += 2 {
			fmt.Fprintf(&b, " %v=%v", kv[i], kv[i+1])
		}
	}
	return b.String()
}
