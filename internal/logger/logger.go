package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogEntry is a captured WARN or ERROR record.
type LogEntry struct {
	Time    time.Time
	Level   slog.Level
	Message string
}

// ringBuffer is a fixed-size circular buffer for log entries.
type ringBuffer struct {
	mu      sync.RWMutex
	entries []LogEntry
	size    int
	head    int
	count   int

	warnCount  int
	errorCount int
}

func newRingBuffer(size int) *ringBuffer {
	return &ringBuffer{
		entries: make([]LogEntry, size),
		size:    size,
	}
}

func (rb *ringBuffer) add(entry LogEntry) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.entries[rb.head] = entry
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}

	if entry.Level == slog.LevelWarn {
		rb.warnCount++
	} else if entry.Level >= slog.LevelError {
		rb.errorCount++
	}
}

func (rb *ringBuffer) getAll() []LogEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	result := make([]LogEntry, rb.count)
	for i := 0; i < rb.count; i++ {
		idx := (rb.head - rb.count + i + rb.size) % rb.size
		result[i] = rb.entries[idx]
	}
	return result
}

func (rb *ringBuffer) getCounts() (warn, err int) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.warnCount, rb.errorCount
}

// captureHandler records WARN and ERROR entries and fans records out to
// every inner handler.
type captureHandler struct {
	inner  []slog.Handler
	buffer *ringBuffer
}

func (h *captureHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, inner := range h.inner {
		if inner.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *captureHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		h.buffer.add(LogEntry{
			Time:    r.Time,
			Level:   r.Level,
			Message: r.Message,
		})
	}
	var errs []error
	for _, inner := range h.inner {
		if inner.Enabled(ctx, r.Level) {
			errs = append(errs, inner.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	inner := make([]slog.Handler, len(h.inner))
	for i, handler := range h.inner {
		inner[i] = handler.WithAttrs(attrs)
	}
	return &captureHandler{inner: inner, buffer: h.buffer}
}

func (h *captureHandler) WithGroup(name string) slog.Handler {
	inner := make([]slog.Handler, len(h.inner))
	for i, handler := range h.inner {
		inner[i] = handler.WithGroup(name)
	}
	return &captureHandler{inner: inner, buffer: h.buffer}
}

var (
	// Log is the global structured logger
	Log *slog.Logger
	// logWriter is the rotating log writer
	logWriter *lumberjack.Logger
	// LogPath is the path to the current log file
	LogPath string
	// captured holds recent WARN/ERROR entries
	captured *ringBuffer
)

// LogLevel represents the logging level
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a config value to a LogLevel. Unknown values map to LevelInfo.
func ParseLevel(s string) LogLevel {
	switch s {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Options tunes InitLogger.
type Options struct {
	// Console, when set, also receives human-readable text records.
	Console io.Writer
}

// DefaultLogPath returns ~/.config/pipekit/pipekit.log.
func DefaultLogPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = os.TempDir()
	}
	return filepath.Join(homeDir, ".config", "pipekit", "pipekit.log")
}

// InitLogger initializes the global logger with the specified level and optional path.
// If logPath is empty, DefaultLogPath is used.
func InitLogger(level LogLevel, logPath string, opts ...Options) {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}

	if logPath == "" {
		logPath = DefaultLogPath()
	}
	_ = os.MkdirAll(filepath.Dir(logPath), 0755)
	LogPath = logPath

	logWriter = &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     7, // days
		Compress:   true,
	}

	handlerOpts := &slog.HandlerOptions{Level: level.slogLevel()}
	handlers := []slog.Handler{slog.NewJSONHandler(logWriter, handlerOpts)}
	if o.Console != nil {
		handlers = append(handlers, slog.NewTextHandler(o.Console, handlerOpts))
	}

	captured = newRingBuffer(100)
	Log = slog.New(&captureHandler{inner: handlers, buffer: captured})
	slog.SetDefault(Log)
}

// Close closes the log file
func Close() {
	if logWriter != nil {
		logWriter.Close()
	}
}

// getLogger returns the global logger, or the default slog logger if not initialized.
func getLogger() *slog.Logger {
	if Log != nil {
		return Log
	}
	return slog.Default()
}

// Debug logs a debug message
func Debug(msg string, args ...any) {
	getLogger().Debug(msg, args...)
}

// Info logs an info message
func Info(msg string, args ...any) {
	getLogger().Info(msg, args...)
}

// Warn logs a warning message
func Warn(msg string, args ...any) {
	getLogger().Warn(msg, args...)
}

// Error logs an error message
func Error(msg string, args ...any) {
	getLogger().Error(msg, args...)
}

// With creates a new logger with additional attributes
func With(args ...any) *slog.Logger {
	return getLogger().With(args...)
}

// GetCounts returns the number of warnings and errors logged since InitLogger.
func GetCounts() (warn, err int) {
	if captured == nil {
		return 0, 0
	}
	return captured.getCounts()
}

// GetEntries returns the most recent captured entries, oldest first.
func GetEntries() []LogEntry {
	if captured == nil {
		return nil
	}
	return captured.getAll()
}

// Format renders an entry as a single line.
func (e LogEntry) Format() string {
	levelStr := "INFO"
	switch e.Level {
	case slog.LevelDebug:
		levelStr = "DEBUG"
	case slog.LevelWarn:
		levelStr = "WARN"
	case slog.LevelError:
		levelStr = "ERROR"
	}
	return fmt.Sprintf("%s %-5s %s", e.Time.Format("15:04:05"), levelStr, e.Message)
}
