package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/driveseek/driveseek/internal/scanner"
)

// PollingWatcher detects changes by rescanning the drive root on an
// interval and diffing against the previous pass. The fallback for
// filesystems where inotify is unavailable or unreliable, network
// mounts in particular.
type PollingWatcher struct {
	root     string
	scanOpts scanner.Options
	interval time.Duration
	seen     map[string]pollState
	events   chan FileEvent
	errors   chan error
	stopCh   chan struct{}

	mu      sync.Mutex
	stopped bool
}

type pollState struct {
	modTime time.Time
	size    int64
	isDir   bool
}

var _ Watcher = (*PollingWatcher)(nil)

// NewPollingWatcher creates a polling watcher for root.
func NewPollingWatcher(root string, scanOpts scanner.Options, opts Options) *PollingWatcher {
	opts = opts.WithDefaults()
	return &PollingWatcher{
		root:     root,
		scanOpts: scanOpts,
		interval: opts.PollInterval,
		seen:     make(map[string]pollState),
		events:   make(chan FileEvent, opts.EventBufferSize),
		errors:   make(chan error, 10),
		stopCh:   make(chan struct{}),
	}
}

// Start takes a baseline pass, then rescans on the interval until Stop
// is called or ctx ends.
func (p *PollingWatcher) Start(ctx context.Context) error {
	absRoot, err := filepath.Abs(p.root)
	if err != nil {
		return fmt.Errorf("resolve drive root: %w", err)
	}
	p.root = absRoot

	if err := p.baseline(); err != nil {
		return fmt.Errorf("baseline scan: %w", err)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = p.Stop()
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case <-ticker.C:
			if err := p.diff(); err != nil {
				p.emitError(err)
			}
		}
	}
}

// baseline records current state without emitting events.
func (p *PollingWatcher) baseline() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.walk(func(abs string, state pollState) {
		p.seen[abs] = state
	})
}

// diff rescans, emits create/modify events for changes, then delete
// events for paths that disappeared.
func (p *PollingWatcher) diff() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	current := make(map[string]pollState)
	err := p.walk(func(abs string, state pollState) {
		current[abs] = state

		prev, known := p.seen[abs]
		switch {
		case !known:
			p.emitLocked(FileEvent{
				Path:      abs,
				Operation: OpCreate,
				IsDir:     state.isDir,
				Timestamp: time.Now(),
			})
		case prev.modTime != state.modTime || prev.size != state.size:
			p.emitLocked(FileEvent{
				Path:      abs,
				Operation: OpModify,
				IsDir:     state.isDir,
				Timestamp: time.Now(),
			})
		}
	})
	if err != nil {
		return fmt.Errorf("rescan %s: %w", p.root, err)
	}

	for abs, prev := range p.seen {
		if _, ok := current[abs]; !ok {
			p.emitLocked(FileEvent{
				Path:      abs,
				Operation: OpDelete,
				IsDir:     prev.isDir,
				Timestamp: time.Now(),
			})
		}
	}

	p.seen = current
	return nil
}

// walk visits every entry under the root that the scan options keep,
// calling visit with its absolute path and state.
func (p *PollingWatcher) walk(visit func(abs string, state pollState)) error {
	return filepath.WalkDir(p.root, func(abs string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if abs == p.root {
			return nil
		}
		if p.scanOpts.Skips(p.root, abs) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		visit(abs, pollState{
			modTime: info.ModTime(),
			size:    info.Size(),
			isDir:   d.IsDir(),
		})
		return nil
	})
}

// emitLocked sends an event, dropping on a full buffer. Callers hold
// p.mu.
func (p *PollingWatcher) emitLocked(ev FileEvent) {
	if p.stopped {
		return
	}

	select {
	case p.events <- ev:
	default:
		slog.Warn("poll_event_dropped",
			slog.String("path", ev.Path),
			slog.String("op", ev.Operation.String()))
	}
}

func (p *PollingWatcher) emitError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}

	select {
	case p.errors <- err:
	default:
	}
}

// Stop stops the poller and closes both channels.
func (p *PollingWatcher) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil
	}
	p.stopped = true

	close(p.stopCh)
	close(p.events)
	close(p.errors)
	return nil
}

// Events returns the change stream.
func (p *PollingWatcher) Events() <-chan FileEvent {
	return p.events
}

// Errors returns the non-fatal error stream.
func (p *PollingWatcher) Errors() <-chan error {
	return p.errors
}
