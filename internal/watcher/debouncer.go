package watcher

import (
	"log/slog"
	"sync"
	"time"
)

// Debouncer coalesces change bursts per path so a file saved twenty
// times in a second costs one delta, not twenty. Events inside the
// window merge by operation sequence:
//
//	CREATE + MODIFY = CREATE   (still a new entry)
//	CREATE + DELETE = nothing  (never observed alive)
//	MODIFY + DELETE = DELETE
//	DELETE + CREATE = MODIFY   (entry was replaced)
//
// Batches are emitted on Output once the window closes.
type Debouncer struct {
	window time.Duration
	output chan []FileEvent

	mu      sync.Mutex
	pending map[string]FileEvent
	timer   *time.Timer
	stopped bool
}

// NewDebouncer creates a debouncer holding events for window before
// flushing them as one batch.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		output:  make(chan []FileEvent, 16),
		pending: make(map[string]FileEvent),
	}
}

// Add merges one event into the pending batch and (re)arms the flush
// timer.
func (d *Debouncer) Add(ev FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if cur, ok := d.pending[ev.Path]; ok {
		merged, keep := coalesce(cur, ev)
		if !keep {
			delete(d.pending, ev.Path)
		} else {
			d.pending[ev.Path] = merged
		}
	} else {
		d.pending[ev.Path] = ev
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// coalesce merges an incoming event into the pending one for the same
// path. keep=false means the pair cancelled out.
func coalesce(cur, in FileEvent) (merged FileEvent, keep bool) {
	switch cur.Operation {
	case OpCreate:
		switch in.Operation {
		case OpModify:
			in.Operation = OpCreate
			return in, true
		case OpDelete, OpRename:
			return FileEvent{}, false
		}
	case OpDelete, OpRename:
		if in.Operation == OpCreate {
			in.Operation = OpModify
			return in, true
		}
	}
	// MODIFY absorbing anything, repeats, and odd sequences: the
	// latest event wins.
	return in, true
}

// flush emits the pending batch. Runs on the timer goroutine.
func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || len(d.pending) == 0 {
		return
	}

	batch := make([]FileEvent, 0, len(d.pending))
	for _, ev := range d.pending {
		batch = append(batch, ev)
	}
	d.pending = make(map[string]FileEvent)

	select {
	case d.output <- batch:
	default:
		slog.Warn("debounce_batch_dropped", slog.Int("events", len(batch)))
	}
}

// Output returns the batch channel. Closed by Stop.
func (d *Debouncer) Output() <-chan []FileEvent {
	return d.output
}

// Stop drops pending events and closes the output channel. Safe to
// call more than once.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.stopped = true

	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}
