// Package logging provides simple structured logging for the nvme core.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// Logger wraps stdlib log with level support and chainable key-value context.
type Logger struct {
	logger  *log.Logger
	level   LogLevel
	format  string
	noColor bool
	mu      *sync.Mutex
	fields  []field
}

type field struct {
	key string
	val any
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// LogLevel represents the available log levels
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Config holds logging configuration
type Config struct {
	Level   LogLevel
	Format  string // "text" (default) or "json"
	Output  io.Writer
	Sync    bool // force flush after every call (no-op for log.Logger, kept for API parity)
	NoColor bool
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Format: "text",
		Output: os.Stderr,
	}
}

// NewLogger creates a new logger
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}
	format := config.Format
	if format == "" {
		format = "text"
	}
	return &Logger{
		logger:  log.New(output, "", log.LstdFlags),
		level:   config.Level,
		format:  format,
		noColor: config.NoColor,
		mu:      &sync.Mutex{},
	}
}

// Default returns the default logger, creating it if necessary
func Default() *Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault sets the default logger
func SetDefault(logger *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

// WithController returns a logger that tags every message with the controller id.
func (l *Logger) WithController(id uint32) *Logger {
	return l.with("controller_id", id)
}

// WithQueue returns a logger that tags every message with a queue id.
func (l *Logger) WithQueue(qid int) *Logger {
	return l.with("queue_id", qid)
}

// WithCommand returns a logger that tags every message with a command id and opcode name.
func (l *Logger) WithCommand(commandID uint16, op string) *Logger {
	return l.with("command_id", commandID).with("op", op)
}

// WithError returns a logger that tags every message with an error.
func (l *Logger) WithError(err error) *Logger {
	return l.with("error", err)
}

func (l *Logger) with(key string, val any) *Logger {
	fields := make([]field, len(l.fields)+1)
	copy(fields, l.fields)
	fields[len(l.fields)] = field{key, val}
	return &Logger{
		logger:  l.logger,
		level:   l.level,
		format:  l.format,
		noColor: l.noColor,
		mu:      l.mu,
		fields:  fields,
	}
}

// formatArgs converts key-value pairs to a string
func formatArgs(fields []field, args []any) string {
	var result string
	for _, f := range fields {
		if result != "" {
			result += " "
		}
		result += fmt.Sprintf("%s=%v", f.key, f.val)
	}
	for i := 0; i+1 < len(args); i += 2 {
		if result != "" {
			result += " "
		}
		result += fmt.Sprintf("%v=%v", args[i], args[i+1])
	}
	if result != "" {
		return " " + result
	}
	return ""
}

func (l *Logger) log(level LogLevel, prefix, msg string, args ...any) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.format == "json" {
		l.logger.Printf(`{"level":%q,"msg":%q%s}`, prefix, msg, jsonFields(l.fields, args))
		return
	}
	l.logger.Printf("%s %s%s", prefix, msg, formatArgs(l.fields, args))
}

func jsonFields(fields []field, args []any) string {
	s := ""
	for _, f := range fields {
		s += fmt.Sprintf(`,%q:%q`, f.key, fmt.Sprintf("%v", f.val))
	}
	for i := 0; i+1 < len(args); i += 2 {
		s += fmt.Sprintf(`,%q:%q`, fmt.Sprintf("%v", args[i]), fmt.Sprintf("%v", args[i+1]))
	}
	return s
}

func (l *Logger) Debug(msg string, args ...any) { l.log(LevelDebug, "[DEBUG]", msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.log(LevelInfo, "[INFO]", msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(LevelWarn, "[WARN]", msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.log(LevelError, "[ERROR]", msg, args...) }

// Global convenience functions operating on the default logger.
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
