package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// RotatingWriter is an io.Writer over a log file that rotates by size.
// Rotated captures sit next to the live file as path.1 (newest)
// through path.N (oldest).
type RotatingWriter struct {
	path     string
	maxBytes int64
	keep     int

	mu             sync.Mutex
	file           *os.File
	written        int64
	syncEveryWrite bool
}

// NewRotatingWriter opens (or creates) the log file at path, creating
// its directory as needed. maxSizeMB bounds the live file; keep is how
// many rotated captures survive. Writes sync to disk by default so a
// follower sees lines as they land.
func NewRotatingWriter(path string, maxSizeMB, keep int) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	w := &RotatingWriter{
		path:           path,
		maxBytes:       int64(maxSizeMB) * 1024 * 1024,
		keep:           keep,
		syncEveryWrite: true,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

// SetSyncEveryWrite toggles the per-write disk sync. Off trades
// driveseek-logs -f latency for throughput.
func (w *RotatingWriter) SetSyncEveryWrite(enabled bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.syncEveryWrite = enabled
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.written+int64(len(p)) > w.maxBytes {
		if err := w.rotate(); err != nil {
			// Keep logging into the oversized file rather than drop
			// the line.
			fmt.Fprintf(os.Stderr, "log rotation failed: %v\n", err)
		}
	}

	n, err := w.file.Write(p)
	w.written += int64(n)
	if err == nil && w.syncEveryWrite {
		_ = w.file.Sync()
	}
	return n, err
}

// Sync flushes buffered writes to disk.
func (w *RotatingWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

// Close closes the live file.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Close()
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	w.file = f
	w.written = info.Size()
	return nil
}

// rotate shifts every capture up one slot, drops the oldest off the
// end and starts a fresh live file.
func (w *RotatingWriter) rotate() error {
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("failed to close log file: %w", err)
		}
		w.file = nil
	}

	_ = os.Remove(w.slot(w.keep))
	for n := w.keep - 1; n >= 1; n-- {
		if _, err := os.Stat(w.slot(n)); err == nil {
			_ = os.Rename(w.slot(n), w.slot(n+1))
		}
	}
	if _, err := os.Stat(w.path); err == nil {
		if err := os.Rename(w.path, w.slot(1)); err != nil {
			return fmt.Errorf("failed to rotate log file: %w", err)
		}
	}

	w.written = 0
	return w.open()
}

func (w *RotatingWriter) slot(n int) string {
	return fmt.Sprintf("%s.%d", w.path, n)
}
