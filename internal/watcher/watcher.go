package watcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/driveseek/driveseek/internal/scanner"
)

// Operation is the kind of filesystem change observed on a path.
type Operation int

const (
	// OpCreate indicates a new file or directory appeared.
	OpCreate Operation = iota
	// OpModify indicates an existing entry's content or metadata changed.
	OpModify
	// OpDelete indicates an entry was deleted.
	OpDelete
	// OpRename indicates an entry was moved away from this path. The
	// destination, if watched, produces its own create event.
	OpRename
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one filesystem change on a watched drive.
type FileEvent struct {
	// Path is the absolute path the change happened at.
	Path string

	// Operation is the kind of change.
	Operation Operation

	// IsDir reports whether the path was a directory, where that could
	// still be determined. Deleted paths cannot be stat'ed, so it is
	// false for deletions; the store resolves those by path instead.
	IsDir bool

	// Timestamp is when the change was observed.
	Timestamp time.Time
}

// Watcher watches one drive root for filesystem changes. Events are
// raw and bursty; feed them through a Debouncer before acting on them.
type Watcher interface {
	// Start begins watching and blocks until Stop is called or ctx
	// ends. Run it in its own goroutine.
	Start(ctx context.Context) error

	// Stop stops the watcher and closes both channels. Safe to call
	// more than once.
	Stop() error

	// Events returns the raw change stream.
	Events() <-chan FileEvent

	// Errors returns non-fatal watch errors; the watcher keeps running.
	Errors() <-chan error
}

// Options configures a watcher.
type Options struct {
	// DebounceWindow is how long a Debouncer holds events for
	// coalescing. Default 500ms.
	DebounceWindow time.Duration

	// PollInterval is the rescan interval of the polling fallback.
	// Default 5s.
	PollInterval time.Duration

	// EventBufferSize is the raw event channel capacity. Bursts beyond
	// it are dropped and counted. Default 1024.
	EventBufferSize int
}

// WithDefaults fills zero values with defaults.
func (o Options) WithDefaults() Options {
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = 500 * time.Millisecond
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = 1024
	}
	return o
}

// New returns a change notifier for root: inotify-backed where the
// platform provides it, periodic rescanning otherwise. scanOpts must
// be the same options the drive is scanned with, so watched changes
// honor the same exclusions as full walks.
func New(root string, scanOpts scanner.Options, opts Options) Watcher {
	w, err := NewFsWatcher(root, scanOpts, opts)
	if err != nil {
		slog.Warn("fsnotify_unavailable",
			slog.String("drive", root),
			slog.String("error", err.Error()))
		return NewPollingWatcher(root, scanOpts, opts)
	}
	return w
}
