// Package logger provides structured logging for tempmail.
//
// It wraps log/slog with the two outputs the client needs: stderr for
// headless commands and a file for the terminal UI, where writing to the
// terminal would corrupt the screen.
//
// Initialize once at startup:
//
//	closer, err := logger.Initialize(cfg.Logging)
//	if err != nil {
//		return err
//	}
//	defer closer.Close()
//
// Components receive a *slog.Logger derived from Get:
//
//	log := logger.Get().With("component", "stream")
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nhle/tempmail/internal/model"
)

var (
	mu           sync.RWMutex
	globalLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// ParseLevel maps a config level name to a slog level. Unknown names
// resolve to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a logger writing to w in the configured format.
func New(w io.Writer, cfg model.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Initialize configures the process logger from cfg and installs it as
// the slog default. The returned closer releases the log file, if any.
func Initialize(cfg model.LoggingConfig) (io.Closer, error) {
	var (
		w      io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)

	switch strings.ToLower(cfg.Output) {
	case "", "stderr", "console":
	case "stdout":
		w = os.Stdout
	case "file":
		if cfg.File == "" {
			return nil, fmt.Errorf("logging.output is file but logging.file is empty")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, fmt.Errorf("creating log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening log file %s: %w", cfg.File, err)
		}
		w, closer = f, f
	default:
		return nil, fmt.Errorf("unknown logging.output %q", cfg.Output)
	}

	l := New(w, cfg)
	mu.Lock()
	globalLogger = l
	mu.Unlock()
	slog.SetDefault(l)

	return closer, nil
}

// Get returns the process logger.
func Get() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return globalLogger
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// OrDefault returns l, or the process logger tagged with component when
// l is nil.
func OrDefault(l *slog.Logger, component string) *slog.Logger {
	if l != nil {
		return l
	}
	return Get().With("component", component)
}
