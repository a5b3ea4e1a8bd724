// Package logging provides structured logging with file and console output.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogEntry represents a single log entry for API clients
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Component string `json:"component"`
	Message   string `json:"message"`
	Data      string `json:"data,omitempty"`
}

// Logger wraps zerolog with file output and log history
type Logger struct {
	zlog    zerolog.Logger
	file    *os.File
	logPath string
	history *History
}

// Config holds logger configuration
type Config struct {
	LogDir     string // Directory for log files; empty disables the file
	Level      string // Minimum log level (default: info)
	MaxHistory int    // Max entries to keep in memory (default: 1000)
	Console    bool   // Also log to stderr
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		LogDir:     filepath.Join(home, ".talkingavatar", "logs"),
		Level:      "info",
		MaxHistory: 1000,
		Console:    true,
	}
}

// New creates a new Logger with file and console output
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	history := NewHistory(cfg.MaxHistory)
	writers := []io.Writer{history}

	var file *os.File
	var logPath string
	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		// Create log file with date-based name
		logFileName := fmt.Sprintf("talkingavatar_%s.log", time.Now().Format("2006-01-02"))
		logPath = filepath.Join(cfg.LogDir, logFileName)

		var err error
		file, err = os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, file)
	}

	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "15:04:05",
		})
	}

	zlog := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Str("app", "talkingavatar").
		Logger()

	logger := &Logger{
		zlog:    zlog,
		file:    file,
		logPath: logPath,
		history: history,
	}

	zlog.Debug().
		Str("component", "logging").
		Str("logFile", logPath).
		Str("level", level.String()).
		Msg("Logger initialized")

	return logger, nil
}

// SetOnLog sets a callback for real-time log streaming
func (l *Logger) SetOnLog(fn func(LogEntry)) {
	l.history.SetOnLog(fn)
}

// GetHistory returns recent log entries
func (l *Logger) GetHistory(limit int) []LogEntry {
	return l.history.Get(limit)
}

// GetLogPath returns the current log file path
func (l *Logger) GetLogPath() string {
	return l.logPath
}

// Close closes the log file
func (l *Logger) Close() error {
	l.zlog.Debug().Str("component", "logging").Msg("Logger shutting down")
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Component returns a zerolog.Logger with the component field set
func (l *Logger) Component(name string) zerolog.Logger {
	return l.zlog.With().Str("component", name).Logger()
}

// Zerolog returns the underlying zerolog.Logger
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

// History is an io.Writer that keeps the most recent zerolog events.
type History struct {
	mu      sync.RWMutex
	entries []LogEntry
	max     int
	onLog   func(LogEntry)
}

// NewHistory keeps up to max entries (default 1000).
func NewHistory(max int) *History {
	if max <= 0 {
		max = 1000
	}
	return &History{entries: make([]LogEntry, 0, max), max: max}
}

// SetOnLog registers a callback run for every new entry.
func (h *History) SetOnLog(fn func(LogEntry)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onLog = fn
}

// Write decodes one JSON event. Lines that are not JSON are kept verbatim.
func (h *History) Write(p []byte) (int, error) {
	entry := parseEntry(p)

	h.mu.Lock()
	h.entries = append(h.entries, entry)
	if len(h.entries) > h.max {
		// Remove oldest entries
		h.entries = h.entries[len(h.entries)-h.max:]
	}
	onLog := h.onLog
	h.mu.Unlock()

	if onLog != nil {
		go onLog(entry)
	}
	return len(p), nil
}

// Get returns up to limit of the most recent entries, oldest first.
func (h *History) Get(limit int) []LogEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if limit <= 0 || limit > len(h.entries) {
		limit = len(h.entries)
	}

	result := make([]LogEntry, limit)
	copy(result, h.entries[len(h.entries)-limit:])
	return result
}

func parseEntry(p []byte) LogEntry {
	var fields map[string]any
	if err := json.Unmarshal(p, &fields); err != nil {
		return LogEntry{
			Timestamp: time.Now().Format("15:04:05.000"),
			Message:   strings.TrimSpace(string(p)),
		}
	}

	entry := LogEntry{Timestamp: time.Now().Format("15:04:05.000")}
	if ts, ok := fields[zerolog.TimestampFieldName].(string); ok {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			entry.Timestamp = t.Format("15:04:05.000")
		}
	}
	entry.Level, _ = fields[zerolog.LevelFieldName].(string)
	entry.Message, _ = fields[zerolog.MessageFieldName].(string)
	entry.Component, _ = fields["component"].(string)

	for _, k := range []string{
		zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName, "component", "app",
	} {
		delete(fields, k)
	}
	entry.Data = formatData(fields)
	return entry
}

// formatData renders fields as sorted key=value pairs
func formatData(data map[string]any) string {
	if len(data) == 0 {
		return ""
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, data[k])
	}
	return strings.Join(parts, ", ")
}
