package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Level represents log level
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

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
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// slogLevel maps onto slog levels; FATAL sits above ERROR
func (l Level) slogLevel() slog.Level {
	switch l {
	case DEBUG:
		return slog.LevelDebug
	case WARN:
		return slog.LevelWarn
	case ERROR:
		return slog.LevelError
	case FATAL:
		return slog.LevelError + 4
	default:
		return slog.LevelInfo
	}
}

// DefaultLogDir is tried first by NewFileLogger
const DefaultLogDir = "/var/log/interpreter-runtime"

// Logger provides structured logging with file output support
type Logger struct {
	level      Level
	jsonFormat bool
	fields     map[string]interface{}
	component  string
	sink       *sink
}

// sink is shared by a logger and everything derived from it
type sink struct {
	mu      sync.Mutex
	output  io.Writer
	logFile *os.File
	handler slog.Handler
}

// NewLogger creates a new logger writing to stdout
func NewLogger(level Level, jsonFormat bool) *Logger {
	l := &Logger{
		level:      level,
		jsonFormat: jsonFormat,
		fields:     make(map[string]interface{}),
		sink:       &sink{},
	}
	l.SetOutput(os.Stdout)
	return l
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	l := NewLogger(FATAL+1, false)
	l.SetOutput(io.Discard)
	return l
}

// NewFileLogger creates a logger that writes to <DefaultLogDir>/<component>/<subcomponent>.log
// and stdout. Falls back to ./logs/<component>/ if the default dir is not writable.
func NewFileLogger(component, subComponent string, level Level, jsonFormat bool) (*Logger, error) {
	logPath := GetLogPath(component, subComponent)
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", filepath.Dir(logPath), err)
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", logPath, err)
	}

	logger := NewLogger(level, jsonFormat)
	logger.component = component
	if subComponent != "" {
		logger.component = component + "/" + subComponent
	}
	logger.sink.logFile = logFile
	logger.SetOutput(io.MultiWriter(logFile, os.Stdout))

	logger.Info("Logger initialized", map[string]interface{}{"path": logPath})
	return logger, nil
}

// SetOutput sets the output writer for this logger and all loggers derived from it
func (l *Logger) SetOutput(w io.Writer) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey && len(groups) == 0 {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl > slog.LevelError {
					a.Value = slog.StringValue(FATAL.String())
				}
			}
			return a
		},
	}

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.output = w
	if l.jsonFormat {
		l.sink.handler = slog.NewJSONHandler(w, opts)
	} else {
		l.sink.handler = slog.NewTextHandler(w, opts)
	}
}

// log writes a log entry
func (l *Logger) log(level Level, message string, fields map[string]interface{}) {
	if level < l.level {
		return
	}

	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]slog.Attr, 0, len(keys)+1)
	if l.component != "" {
		attrs = append(attrs, slog.String("component", l.component))
	}
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, merged[k]))
	}

	l.sink.mu.Lock()
	handler := l.sink.handler
	l.sink.mu.Unlock()

	slog.New(handler).LogAttrs(context.Background(), level.slogLevel(), message, attrs...)

	if level == FATAL {
		os.Exit(1)
	}
}

func firstFields(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

// Debug logs a debug message
func (l *Logger) Debug(message string, fields ...map[string]interface{}) {
	l.log(DEBUG, message, firstFields(fields))
}

// Info logs an info message
func (l *Logger) Info(message string, fields ...map[string]interface{}) {
	l.log(INFO, message, firstFields(fields))
}

// Warn logs a warning message
func (l *Logger) Warn(message string, fields ...map[string]interface{}) {
	l.log(WARN, message, firstFields(fields))
}

// Error logs an error message
func (l *Logger) Error(message string, fields ...map[string]interface{}) {
	l.log(ERROR, message, firstFields(fields))
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(message string, fields ...map[string]interface{}) {
	l.log(FATAL, message, firstFields(fields))
}

// WithField adds a field to the logger context
func (l *Logger) WithField(key string, value interface{}) *Logger {
	newFields := make(map[string]interface{}, len(l.fields)+1)
	for k, v := range l.fields {
		newFields[k] = v
	}
	newFields[key] = value
	return &Logger{
		level:      l.level,
		jsonFormat: l.jsonFormat,
		fields:     newFields,
		component:  l.component,
		sink:       l.sink,
	}
}

// WithComponent returns a logger tagged with a component name
func (l *Logger) WithComponent(component string) *Logger {
	newFields := make(map[string]interface{}, len(l.fields))
	for k, v := range l.fields {
		newFields[k] = v
	}
	return &Logger{
		level:      l.level,
		jsonFormat: l.jsonFormat,
		fields:     newFields,
		component:  component,
		sink:       l.sink,
	}
}

// Level returns the minimum level this logger emits
func (l *Logger) Level() Level {
	return l.level
}

// ParseLevel parses a log level string
func ParseLevel(level string) Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// Close closes the log file if opened
func (l *Logger) Close() error {
	if l.sink.logFile != nil {
		l.Info("Logger closing")
		return l.sink.logFile.Close()
	}
	return nil
}

// isWritable checks if directory is writable
func isWritable(path string) bool {
	if err := os.MkdirAll(path, 0755); err != nil {
		return false
	}
	testFile := filepath.Join(path, ".write_test")
	f, err := os.Create(testFile)
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(testFile)
	return true
}

// GetLogPath returns the expected log path for a component
func GetLogPath(component, subComponent string) string {
	baseDir := DefaultLogDir
	if !isWritable(baseDir) {
		baseDir = "./logs"
	}

	logFileName := component + ".log"
	if subComponent != "" {
		logFileName = subComponent + ".log"
	}
	return filepath.Join(baseDir, component, logFileName)
}
