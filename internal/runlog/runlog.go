// Package runlog is the persistent, human-readable record of repair runs.
//
// Every record goes to an append-only file as a timestamped text line, and
// optionally to a second writer (the terminal) at the same time. The file
// can be truncated in place with Clear without reopening the logger.
package runlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// TimeLayout is the timestamp format of every file line.
const TimeLayout = "2006-01-02 15:04:05"

// Config controls where records go.
type Config struct {
	// Path of the log file. Parent directories are created.
	Path string
	// Level is the minimum level written to either destination.
	Level slog.Level
	// Console, when non-nil, receives the same records (e.g. os.Stderr).
	Console io.Writer
}

// Log owns the log file.
type Log struct {
	mu     sync.Mutex
	file   *os.File
	path   string
	logger *slog.Logger
}

// Open creates or appends to the file at cfg.Path.
func Open(cfg Config) (*Log, error) {
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("runlog: creating %s: %w", dir, err)
		}
	}
	file, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("runlog: opening %s: %w", cfg.Path, err)
	}

	l := &Log{file: file, path: cfg.Path}

	opts := &slog.HandlerOptions{
		Level:       cfg.Level,
		ReplaceAttr: formatTime,
	}
	handlers := []slog.Handler{slog.NewTextHandler(l, opts)}
	if cfg.Console != nil {
		handlers = append(handlers, slog.NewTextHandler(cfg.Console, &slog.HandlerOptions{Level: cfg.Level}))
	}

	var handler slog.Handler = handlers[0]
	if len(handlers) > 1 {
		handler = &multiHandler{handlers: handlers}
	}
	l.logger = slog.New(handler)
	return l, nil
}

// Logger returns the structured logger writing to this Log.
func (l *Log) Logger() *slog.Logger {
	return l.logger
}

// Path returns the file path.
func (l *Log) Path() string {
	return l.path
}

// Write appends p to the file. Safe for concurrent use.
func (l *Log) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return 0, os.ErrClosed
	}
	return l.file.Write(p)
}

// Clear truncates the file. Later records are appended from the start.
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return os.ErrClosed
	}
	if err := l.file.Truncate(0); err != nil {
		return fmt.Errorf("runlog: clearing %s: %w", l.path, err)
	}
	return nil
}

// Close flushes and closes the file. Calling it twice is harmless.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	syncErr := l.file.Sync()
	closeErr := l.file.Close()
	l.file = nil
	if syncErr != nil {
		return fmt.Errorf("runlog: sync: %w", syncErr)
	}
	return closeErr
}

func formatTime(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
		return slog.String(slog.TimeKey, a.Value.Time().Format(TimeLayout))
	}
	return a
}

// multiHandler fans out log records to multiple slog handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle sends the record to all enabled handlers. Every handler is tried;
// the first error is returned.
func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, r.Level) {
			continue
		}
		if err := handler.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}
