package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileWriter appends audit entries as newline-delimited JSON to audit.log in
// a directory. Rotation by size and pruning of old files is left to
// lumberjack. IDs are not assigned.
type FileWriter struct {
	mu      sync.Mutex
	out     *lumberjack.Logger
	encoder *json.Encoder
	closed  bool
}

// FileWriterConfig configures the file writer
type FileWriterConfig struct {
	Dir        string // Directory holding audit.log and its rotations
	MaxSizeMB  int    // Rotate once audit.log reaches this many megabytes (default: 100)
	MaxBackups int    // Rotated files kept (default: 10)
	MaxAgeDays int    // Rotated files older than this are removed, 0 keeps them
	Compress   bool   // Gzip rotated files
}

// NewFileWriter opens (or creates) dir/audit.log for appending
func NewFileWriter(cfg FileWriterConfig) (*FileWriter, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("audit log directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 100
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 10
	}

	out := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Dir, "audit.log"),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	return &FileWriter{out: out, encoder: json.NewEncoder(out)}, nil
}

// Write implements Writer
func (w *FileWriter) Write(ctx context.Context, entry *Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("audit log file is closed")
	}
	if err := w.encoder.Encode(entry); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// Rotate moves audit.log aside now, whatever its size
func (w *FileWriter) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("audit log file is closed")
	}
	return w.out.Rotate()
}

// Close closes the current file
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	return w.out.Close()
}

// MultiWriter writes every entry to each writer in order. The first writer
// is the primary one: it runs first so the ID it assigns is kept.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a fan-out writer
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write implements Writer. All writers are attempted; the first error is returned.
func (m *MultiWriter) Write(ctx context.Context, entry *Entry) error {
	var firstErr error
	for _, w := range m.writers {
		if err := w.Write(ctx, entry); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
