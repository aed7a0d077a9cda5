package lifecycle

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	seekerrors "github.com/driveseek/driveseek/internal/errors"
	"github.com/driveseek/driveseek/internal/scanner"
	"github.com/driveseek/driveseek/internal/store"
)

// DefaultMaxConcurrentBuilds caps how many drives walk at once.
// Builds are disk-bound; a couple in parallel saturates most setups.
const DefaultMaxConcurrentBuilds = 2

// Scanner streams raw entries for a drive root.
type Scanner interface {
	Scan(ctx context.Context, root string) (<-chan scanner.Result, error)
}

// Catalog persists ready generations and restores them at startup.
type Catalog interface {
	// SaveGeneration replaces the drive's stored generation.
	SaveGeneration(ctx context.Context, drive string, gen uint64, ds *store.DriveStore) error
	// LoadGeneration returns the drive's stored entries and generation
	// number. A drive with no stored generation returns gen 0 and no
	// error.
	LoadGeneration(ctx context.Context, drive string) ([]store.RawEntry, uint64, error)
}

// EventKind labels a lifecycle event.
type EventKind string

const (
	// EventBuilding fires when a drive's walk starts.
	EventBuilding EventKind = "building"
	// EventReady fires when a generation is published.
	EventReady EventKind = "ready"
	// EventFailed fires when a build fails.
	EventFailed EventKind = "failed"
	// EventDelta fires when a watcher delta lands in a published store.
	EventDelta EventKind = "delta"
)

// Event is one lifecycle notification.
type Event struct {
	Kind       EventKind
	Drive      string
	Generation uint64
	Count      int
	Err        error
}

// EventSink receives lifecycle events. Sinks run on the build
// goroutine and must not block.
type EventSink func(Event)

// Manager coordinates builds, warm starts and deltas across the
// registry's drives.
type Manager struct {
	registry *Registry
	scan     Scanner
	catalog  Catalog
	sink     EventSink
	logger   *slog.Logger
	sem      *semaphore.Weighted

	// snapshotRetry absorbs catalog lock races with a second writer.
	snapshotRetry seekerrors.Backoff
}

// Option configures a Manager.
type Option func(*Manager)

// WithCatalog enables snapshot persistence and warm starts.
func WithCatalog(c Catalog) Option {
	return func(m *Manager) { m.catalog = c }
}

// WithEventSink routes lifecycle events to sink.
func WithEventSink(sink EventSink) Option {
	return func(m *Manager) { m.sink = sink }
}

// WithLogger sets the manager's logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMaxConcurrentBuilds bounds how many drives build at once.
// Values below one fall back to the default.
func WithMaxConcurrentBuilds(n int) Option {
	return func(m *Manager) {
		if n < 1 {
			n = DefaultMaxConcurrentBuilds
		}
		m.sem = semaphore.NewWeighted(int64(n))
	}
}

// NewManager creates a Manager over the given registry and scanner.
func NewManager(registry *Registry, scan Scanner, opts ...Option) *Manager {
	m := &Manager{
		registry:      registry,
		scan:          scan,
		logger:        slog.Default(),
		sem:           semaphore.NewWeighted(DefaultMaxConcurrentBuilds),
		snapshotRetry: seekerrors.SnapshotBackoff(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Registry exposes the drive registry for scope resolution.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Status reports one drive's state.
func (m *Manager) Status(drive string) (Status, error) {
	h, err := m.registry.Handle(drive)
	if err != nil {
		return Status{}, err
	}
	return h.Status(), nil
}

// StatusAll reports every configured drive in configuration order.
func (m *Manager) StatusAll() []Status {
	handles := m.registry.Handles()
	out := make([]Status, 0, len(handles))
	for _, h := range handles {
		out = append(out, h.Status())
	}
	return out
}

// Store returns drive's published generation. Drives that never
// published one report NotReady; a Failed drive with an older
// published generation still serves it.
func (m *Manager) Store(drive string) (*store.DriveStore, error) {
	h, err := m.registry.Handle(drive)
	if err != nil {
		return nil, err
	}
	ds := h.Store()
	if ds == nil {
		return nil, seekerrors.NotReadyError("drive has no built index", nil).
			WithDetail("drive", h.Root()).
			WithSuggestion("run an index build for this drive first")
	}
	return ds, nil
}

// ReadyStores returns the published store of every Ready drive in
// configuration order. Building and Failed drives are skipped.
func (m *Manager) ReadyStores() []*store.DriveStore {
	var out []*store.DriveStore
	for _, h := range m.registry.Handles() {
		if h.State() != StateReady {
			continue
		}
		if ds := h.Store(); ds != nil {
			out = append(out, ds)
		}
	}
	return out
}

// BuildOrRebuild walks drive and publishes a fresh generation,
// blocking until the build settles. A call that lands while the drive
// is already Building attaches to the in-flight build and returns its
// outcome instead of starting a second walk.
func (m *Manager) BuildOrRebuild(ctx context.Context, drive string) error {
	h, err := m.registry.Handle(drive)
	if err != nil {
		return err
	}

	progress, ticket, joined, err := h.beginBuild()
	if err != nil {
		return err
	}
	if joined {
		m.logger.Debug("index_build_coalesced", slog.String("drive", h.Root()))
		return ticket.wait(ctx)
	}

	gen := h.nextGeneration()
	ds, buildErr := m.runBuild(ctx, h, gen, progress)
	h.finishBuild(ds, buildErr)

	if buildErr != nil {
		attrs := []any{
			slog.String("drive", h.Root()),
			slog.Uint64("generation", gen),
		}
		for k, v := range seekerrors.FormatForLog(buildErr) {
			attrs = append(attrs, slog.Any(k, v))
		}
		m.logger.Error("index_build_failed", attrs...)
		m.emit(Event{Kind: EventFailed, Drive: h.Root(), Generation: gen, Err: buildErr})
		return buildErr
	}

	m.logger.Info("index_build_completed",
		slog.String("drive", h.Root()),
		slog.Uint64("generation", gen),
		slog.Int("count", ds.Len()))
	m.emit(Event{Kind: EventReady, Drive: h.Root(), Generation: gen, Count: ds.Len()})

	m.saveSnapshot(ctx, h.Root(), gen, ds)
	return nil
}

// runBuild performs the walk into a fresh store. Per-entry scan
// failures are counted and logged, never fatal; cancellation and a
// walk that cannot start are.
func (m *Manager) runBuild(ctx context.Context, h *DriveHandle, gen uint64, progress *BuildProgress) (*store.DriveStore, error) {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, seekerrors.BuildError("build slot acquisition interrupted", err).
			WithDetail("drive", h.Root())
	}
	defer m.sem.Release(1)

	m.logger.Info("index_build_started",
		slog.String("drive", h.Root()),
		slog.Uint64("generation", gen))
	m.emit(Event{Kind: EventBuilding, Drive: h.Root(), Generation: gen})

	results, err := m.scan.Scan(ctx, h.Root())
	if err != nil {
		return nil, seekerrors.BuildError("drive walk could not start", err).
			WithDetail("drive", h.Root())
	}

	ds := store.NewDriveStore(h.Root(), gen)
	for r := range results {
		if r.Err != nil {
			progress.ObserveError()
			m.logger.Warn("scan_entry_failed",
				slog.String("drive", h.Root()),
				slog.String("error", r.Err.Error()))
			continue
		}
		ds.Add(r.Entry)
		progress.Observe(r.Entry.IsDir)
	}
	if err := ctx.Err(); err != nil {
		return nil, seekerrors.New(seekerrors.ErrCodeWalkAborted, "drive walk aborted", err).
			WithDetail("drive", h.Root())
	}
	return ds, nil
}

// saveSnapshot persists a published generation best-effort. Lock
// races with another process writing the catalog get retried; a save
// that still fails is a warning, since the in-memory generation is
// already live.
func (m *Manager) saveSnapshot(ctx context.Context, drive string, gen uint64, ds *store.DriveStore) {
	if m.catalog == nil {
		return
	}
	err := seekerrors.Retry(ctx, m.snapshotRetry, func() error {
		return m.catalog.SaveGeneration(ctx, drive, gen, ds)
	})
	if err != nil {
		m.logger.Warn("snapshot_save_failed",
			slog.String("drive", drive),
			slog.Uint64("generation", gen),
			slog.String("error", err.Error()))
	}
}

// BuildAll builds every configured drive concurrently, bounded by the
// build semaphore, and reports per-drive outcomes. One drive's failure
// never stops the others.
func (m *Manager) BuildAll(ctx context.Context) (built []string, failed map[string]error) {
	var mu sync.Mutex
	okSet := make(map[string]bool)
	failed = make(map[string]error)

	g, gctx := errgroup.WithContext(ctx)
	for _, root := range m.registry.Roots() {
		root := root
		g.Go(func() error {
			if err := m.BuildOrRebuild(gctx, root); err != nil {
				mu.Lock()
				failed[root] = err
				mu.Unlock()
				return nil
			}
			mu.Lock()
			okSet[root] = true
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, root := range m.registry.Roots() {
		if okSet[root] {
			built = append(built, root)
		}
	}
	return built, failed
}

// WarmStart publishes stored generations without walking, so searches
// work immediately after a restart. Drives without a usable snapshot
// stay NotBuilt; catalog failures skip the drive with a warning. A
// later BuildOrRebuild replaces warm generations with fresh ones.
// Returns how many drives were published.
func (m *Manager) WarmStart(ctx context.Context) int {
	if m.catalog == nil {
		return 0
	}

	warmed := 0
	for _, h := range m.registry.Handles() {
		if ctx.Err() != nil {
			break
		}

		entries, gen, err := m.catalog.LoadGeneration(ctx, h.Root())
		if err != nil {
			m.logger.Warn("warm_start_skipped",
				slog.String("drive", h.Root()),
				slog.String("error", err.Error()))
			continue
		}
		if gen == 0 {
			continue
		}

		if err := m.publishLoaded(h, gen, entries); err != nil {
			m.logger.Warn("warm_start_skipped",
				slog.String("drive", h.Root()),
				slog.String("error", err.Error()))
			continue
		}
		warmed++
		m.logger.Info("warm_start_published",
			slog.String("drive", h.Root()),
			slog.Uint64("generation", gen),
			slog.Int("count", len(entries)))
		m.emit(Event{Kind: EventReady, Drive: h.Root(), Generation: gen, Count: len(entries)})
	}
	return warmed
}

// publishLoaded runs catalog entries through the regular build
// transitions so the machine never shortcuts NotBuilt straight to
// Ready.
func (m *Manager) publishLoaded(h *DriveHandle, gen uint64, entries []store.RawEntry) error {
	_, _, joined, err := h.beginBuild()
	if err != nil {
		return err
	}
	if joined {
		return seekerrors.InternalError("drive started building during warm start", nil).
			WithDetail("drive", h.Root())
	}

	ds := store.NewDriveStore(h.Root(), gen)
	for _, e := range entries {
		ds.Add(e)
	}
	h.finishBuild(ds, nil)
	return nil
}

// ApplyDelta feeds watcher changes into drive's published generation.
// Best-effort: with no published generation the delta is dropped.
// Added entries refresh already-indexed paths in place; removed ids
// that went stale across a rebuild are ignored.
func (m *Manager) ApplyDelta(ctx context.Context, drive string, added []store.RawEntry, removed []store.RecordID) error {
	h, err := m.registry.Handle(drive)
	if err != nil {
		return err
	}
	ds := h.Store()
	if ds == nil {
		m.logger.Debug("delta_dropped", slog.String("drive", h.Root()))
		return nil
	}

	for _, e := range added {
		ds.Add(e)
	}
	dropped := 0
	for _, id := range removed {
		if ds.RemoveID(id) {
			dropped++
		}
	}

	m.logger.Debug("delta_applied",
		slog.String("drive", h.Root()),
		slog.Int("added", len(added)),
		slog.Int("removed", dropped))
	m.emit(Event{Kind: EventDelta, Drive: h.Root(), Generation: ds.Generation(), Count: ds.Len()})
	return nil
}

// emit forwards ev to the sink when one is wired.
func (m *Manager) emit(ev Event) {
	if m.sink != nil {
		m.sink(ev)
	}
}
