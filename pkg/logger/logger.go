package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config describes how the process-wide loggers are built.
type Config struct {
	Level       string      `json:"level"`
	Format      string      `json:"format"`
	OutputPaths []string    `json:"output_paths"`
	AddSource   bool        `json:"add_source"`
	Audit       AuditConfig `json:"audit"`
}

// AuditConfig controls the dedicated audit trail. Audit records are always JSON.
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	Compress   bool   `json:"compress"`
}

var (
	mu            sync.RWMutex
	defaultLogger *slog.Logger
	auditLogger   *slog.Logger
	closers       []io.Closer
)

// Init builds the default and audit loggers. Calling it again replaces both
// and closes files opened by the previous configuration.
func Init(cfg Config) error {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level), AddSource: cfg.AddSource}

	var opened []io.Closer
	handler, err := buildHandler(cfg.Format, cfg.OutputPaths, opts, &opened)
	if err != nil {
		closeAll(opened)
		return err
	}
	base := slog.New(handler)

	audit := base
	if cfg.Audit.Enabled {
		if cfg.Audit.Path == "" {
			closeAll(opened)
			return errors.New("audit logger: path is required")
		}
		rf := newAuditWriter(cfg.Audit)
		opened = append(opened, rf)
		audit = slog.New(slog.NewJSONHandler(rf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	mu.Lock()
	previous := closers
	defaultLogger, auditLogger, closers = base, audit, opened
	mu.Unlock()
	closeAll(previous)
	return nil
}

// Use installs pre-built loggers, mostly for tests that capture output.
func Use(base, audit *slog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = base
	auditLogger = audit
}

func buildHandler(format string, outputs []string, opts *slog.HandlerOptions, opened *[]io.Closer) (slog.Handler, error) {
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}
	writers := make([]io.Writer, 0, len(outputs))
	for _, out := range outputs {
		w, closer, err := openWriter(out)
		if err != nil {
			return nil, err
		}
		if closer != nil {
			*opened = append(*opened, closer)
		}
		writers = append(writers, w)
	}

	writer := writers[0]
	if len(writers) > 1 {
		writer = io.MultiWriter(writers...)
	}
	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(writer, opts), nil
	}
	return slog.NewJSONHandler(writer, opts), nil
}

func openWriter(path string) (io.Writer, io.Closer, error) {
	switch strings.ToLower(path) {
	case "stdout", "":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	case "discard":
		return io.Discard, nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return file, file, nil
}

// newAuditWriter returns a size-rotated audit file. Backups are pruned by
// count and age.
func newAuditWriter(cfg AuditConfig) *lumberjack.Logger {
	w := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	if w.MaxSize <= 0 {
		w.MaxSize = 100
	}
	if w.MaxBackups <= 0 {
		w.MaxBackups = 7
	}
	if w.MaxAge <= 0 {
		w.MaxAge = 30
	}
	return w
}

func parseLevel(level string) slog.Level {
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

// L returns the default structured logger.
func L() *slog.Logger {
	mu.RLock()
	l := defaultLogger
	mu.RUnlock()
	if l != nil {
		return l
	}
	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return defaultLogger
}

// Audit returns the audit logger, falling back to the default logger.
func Audit() *slog.Logger {
	mu.RLock()
	l := auditLogger
	mu.RUnlock()
	if l == nil {
		return L()
	}
	return l
}

// Named returns a child logger tagged with a component name.
func Named(name string) *slog.Logger {
	return L().With(slog.String("component", name))
}

// ForAgent returns a child logger tagged with the agent kind.
func ForAgent(kind string) *slog.Logger {
	return Named("agent").With(slog.String("agent", kind))
}

// Sync closes every file opened by Init.
func Sync() error {
	mu.Lock()
	opened := closers
	closers = nil
	mu.Unlock()
	return closeAll(opened)
}

func closeAll(cs []io.Closer) error {
	var err error
	for _, c := range cs {
		err = errors.Join(err, c.Close())
	}
	return err
}
