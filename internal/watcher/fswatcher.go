package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/driveseek/driveseek/internal/scanner"
)

// FsWatcher watches a drive root through fsnotify. Every directory
// under the root gets its own watch; directories that appear later are
// registered as their create events arrive.
type FsWatcher struct {
	root     string
	scanOpts scanner.Options
	fsw      *fsnotify.Watcher
	events   chan FileEvent
	errors   chan error
	stopCh   chan struct{}

	mu      sync.Mutex
	stopped bool
	dropped atomic.Uint64
}

var _ Watcher = (*FsWatcher)(nil)

// NewFsWatcher creates a watcher for root and registers watches for it
// and every directory underneath. Changes happening from here on are
// queued by the kernel until Start pumps them. Fails when the platform
// cannot provide filesystem notifications or the root cannot be
// watched; callers then fall back to polling.
func NewFsWatcher(root string, scanOpts scanner.Options, opts Options) (*FsWatcher, error) {
	opts = opts.WithDefaults()

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve drive root: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(absRoot); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", absRoot, err)
	}

	w := &FsWatcher{
		root:     absRoot,
		scanOpts: scanOpts,
		fsw:      fsw,
		events:   make(chan FileEvent, opts.EventBufferSize),
		errors:   make(chan error, 10),
		stopCh:   make(chan struct{}),
	}
	w.addTree(absRoot)
	return w, nil
}

// Start pumps events until Stop is called or ctx ends.
func (w *FsWatcher) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

// handle translates one fsnotify event, filters it against the scan
// options and forwards it.
func (w *FsWatcher) handle(ev fsnotify.Event) {
	abs := ev.Name

	var op Operation
	switch {
	case ev.Op&fsnotify.Create != 0:
		op = OpCreate
	case ev.Op&fsnotify.Write != 0:
		op = OpModify
	case ev.Op&fsnotify.Remove != 0:
		op = OpDelete
	case ev.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		// Chmod noise
		return
	}

	if w.scanOpts.Skips(w.root, abs) {
		return
	}

	isDir := false
	if info, err := os.Stat(abs); err == nil {
		isDir = info.IsDir()
	}

	// A directory that appears brings no events for the entries it
	// already contains, so register its whole subtree immediately.
	if op == OpCreate && isDir {
		w.addTree(abs)
	}

	w.emit(FileEvent{Path: abs, Operation: op, IsDir: isDir, Timestamp: time.Now()})
}

// addTree registers watches for start and every directory under it.
// Registration failures are reported on the error channel; one bad
// branch never stops the others.
func (w *FsWatcher) addTree(start string) {
	_ = filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != w.root && w.scanOpts.Skips(w.root, p) {
			return filepath.SkipDir
		}
		if addErr := w.fsw.Add(p); addErr != nil {
			w.emitError(fmt.Errorf("watch %s: %w", p, addErr))
		}
		return nil
	})
}

func (w *FsWatcher) emit(ev FileEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}

	select {
	case w.events <- ev:
	default:
		count := w.dropped.Add(1)
		slog.Warn("watch_event_dropped",
			slog.String("path", ev.Path),
			slog.String("op", ev.Operation.String()),
			slog.Uint64("total_dropped", count))
	}
}

func (w *FsWatcher) emitError(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}

	select {
	case w.errors <- err:
	default:
	}
}

// Stop stops the watcher and closes both channels.
func (w *FsWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true

	close(w.stopCh)
	err := w.fsw.Close()
	close(w.events)
	close(w.errors)
	return err
}

// Events returns the raw change stream.
func (w *FsWatcher) Events() <-chan FileEvent {
	return w.events
}

// Errors returns the non-fatal error stream.
func (w *FsWatcher) Errors() <-chan error {
	return w.errors
}

// Dropped returns how many events were discarded because the event
// buffer was full.
func (w *FsWatcher) Dropped() uint64 {
	return w.dropped.Load()
}

// Root returns the watched drive root.
func (w *FsWatcher) Root() string {
	return w.root
}
