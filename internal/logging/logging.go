package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// Global structured logger. Initialized with a reasonable text handler.
var logger atomic.Pointer[slog.Logger]

func init() {
	l := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Store(l)
}

// L returns the current global logger.
func L() *slog.Logger { return logger.Load() }

// Set replaces the global logger.
func Set(l *slog.Logger) {
	if l != nil {
		logger.Store(l)
	}
}

// New creates a new logger with given level, format ("text" or "json"), and optional writer (defaults stderr).
func New(format string, level slog.Leveler, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	var h slog.Handler
	switch format {
	case "json":
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	default:
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}
	return slog.New(h)
}

// RotatingWriter is an io.Writer that reopens its underlying file under dir
// whenever the wall-clock date changes, naming each day's file <prefix>-<YYYYMMDD>.log.
// Day changes are detected lazily on Write, matching the ingest loop's single
// cooperative thread of execution (no background ticker needed).
type RotatingWriter struct {
	mu     sync.Mutex
	dir    string
	prefix string
	day    string
	file   *os.File
}

// NewRotatingWriter opens (or creates) today's log file under dir.
func NewRotatingWriter(dir, prefix string) (*RotatingWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: create log dir: %w", err)
	}
	w := &RotatingWriter{dir: dir, prefix: prefix}
	if err := w.rotate(time.Now()); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingWriter) rotate(now time.Time) error {
	day := now.Format("20060102")
	path := filepath.Join(w.dir, fmt.Sprintf("%s-%s.log", w.prefix, day))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("logging: open log file %s: %w", path, err)
	}
	prev := w.file
	w.file = f
	w.day = day
	if prev != nil {
		_ = prev.Close()
	}
	return nil
}

// Write implements io.Writer, rotating the file first if the date has changed.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	today := time.Now().Format("20060102")
	if today != w.day {
		if err := w.rotate(time.Now()); err != nil {
			return 0, err
		}
	}
	return w.file.Write(p)
}

// Close closes the underlying file.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Close()
}

var _ io.Writer = (*RotatingWriter)(nil)
