package lifecycle

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	seekerrors "github.com/driveseek/driveseek/internal/errors"
	"github.com/driveseek/driveseek/internal/store"
)

// buildTicket is one build's completion handle. err is written before
// done closes, so waiters may read it after the channel fires.
type buildTicket struct {
	done chan struct{}
	err  error
}

func (t *buildTicket) wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DriveHandle owns one drive's slot in the registry: the published
// generation and the state machine around it. The published store is
// behind an atomic pointer so searches never take the handle's lock.
type DriveHandle struct {
	root string

	current atomic.Pointer[store.DriveStore]

	mu         sync.Mutex
	state      State
	generation uint64 // last published generation, 0 = none
	failure    error
	progress   *BuildProgress
	ticket     *buildTicket // non-nil while Building
}

func newDriveHandle(root string) *DriveHandle {
	return &DriveHandle{
		root:  root,
		state: StateNotBuilt,
	}
}

// Root returns the drive's root path.
func (h *DriveHandle) Root() string {
	return h.root
}

// Store returns the published generation, or nil if none was ever
// published. The returned store stays valid while callers hold it even
// if a rebuild publishes a successor.
func (h *DriveHandle) Store() *store.DriveStore {
	return h.current.Load()
}

// State returns the drive's current position in the machine.
func (h *DriveHandle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Status snapshots the drive for callers.
func (h *DriveHandle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := Status{
		Drive:      h.root,
		State:      h.state,
		Generation: h.generation,
	}
	if ds := h.current.Load(); ds != nil {
		st.Count = ds.Len()
		st.BuiltAt = ds.Stats().BuiltAt
	}
	if h.failure != nil {
		st.Failure = h.failure.Error()
	}
	if h.state == StateBuilding && h.progress != nil {
		snap := h.progress.Snapshot()
		st.Progress = &snap
	}
	return st
}

// beginBuild transitions to Building and hands out the build's
// progress tracker and completion ticket. If a build is already in
// flight, joined is true and the returned ticket is the in-flight
// build's.
func (h *DriveHandle) beginBuild() (progress *BuildProgress, ticket *buildTicket, joined bool, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == StateBuilding {
		return nil, h.ticket, true, nil
	}
	if !validNext(h.state, StateBuilding) {
		return nil, nil, false, transitionError(h.root, h.state, StateBuilding)
	}

	h.state = StateBuilding
	h.failure = nil
	h.progress = newBuildProgress()
	h.ticket = &buildTicket{done: make(chan struct{})}
	return h.progress, h.ticket, false, nil
}

// finishBuild publishes the outcome of the in-flight build. On success
// the new generation swaps in atomically; on failure the previously
// published generation is left untouched.
func (h *DriveHandle) finishBuild(ds *store.DriveStore, buildErr error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if buildErr != nil {
		h.state = StateFailed
		h.failure = buildErr
	} else {
		ds.SetBuiltAt(time.Now())
		h.current.Store(ds)
		h.generation = ds.Generation()
		h.state = StateReady
	}
	h.progress = nil

	t := h.ticket
	h.ticket = nil
	t.err = buildErr
	close(t.done)
}

// nextGeneration reserves the generation number for a starting build.
func (h *DriveHandle) nextGeneration() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.generation + 1
}

// Registry holds one handle per configured drive, keyed by the cleaned
// root path. The drive set is fixed at construction; per-drive state
// lives in the handles.
type Registry struct {
	order  []string
	drives map[string]*DriveHandle
}

// NewRegistry creates handles for the given drive roots. Roots are
// cleaned so "/mnt/data/" and "/mnt/data" name the same drive;
// duplicates collapse to one handle.
func NewRegistry(roots []string) *Registry {
	r := &Registry{drives: make(map[string]*DriveHandle, len(roots))}
	for _, root := range roots {
		clean := filepath.Clean(root)
		if _, ok := r.drives[clean]; ok {
			continue
		}
		r.drives[clean] = newDriveHandle(clean)
		r.order = append(r.order, clean)
	}
	return r
}

// Handle resolves a drive root to its handle.
func (r *Registry) Handle(drive string) (*DriveHandle, error) {
	h, ok := r.drives[filepath.Clean(drive)]
	if !ok {
		return nil, seekerrors.New(seekerrors.ErrCodeUnknownDrive,
			"drive is not configured", nil).
			WithDetail("drive", drive).
			WithSuggestion("add the drive root to drives.roots and restart")
	}
	return h, nil
}

// Roots returns the configured drive roots in configuration order.
func (r *Registry) Roots() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Handles returns every handle in configuration order.
func (r *Registry) Handles() []*DriveHandle {
	out := make([]*DriveHandle, 0, len(r.order))
	for _, root := range r.order {
		out = append(out, r.drives[root])
	}
	return out
}
