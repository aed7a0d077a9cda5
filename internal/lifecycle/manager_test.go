package lifecycle

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	seekerrors "github.com/driveseek/driveseek/internal/errors"
	"github.com/driveseek/driveseek/internal/scanner"
	"github.com/driveseek/driveseek/internal/store"
)

// fakeScanner serves canned entries per root. An optional block
// channel holds the stream open so tests can observe the Building
// state.
type fakeScanner struct {
	mu        sync.Mutex
	entries   map[string][]store.RawEntry
	entryErrs map[string][]error
	scanErr   map[string]error
	calls     map[string]int
	block     chan struct{}
}

func newFakeScanner() *fakeScanner {
	return &fakeScanner{
		entries:   make(map[string][]store.RawEntry),
		entryErrs: make(map[string][]error),
		scanErr:   make(map[string]error),
		calls:     make(map[string]int),
	}
}

func (f *fakeScanner) set(root string, entries ...store.RawEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[root] = entries
}

func (f *fakeScanner) failWith(root string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanErr[root] = err
}

func (f *fakeScanner) callCount(root string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[root]
}

func (f *fakeScanner) Scan(ctx context.Context, root string) (<-chan scanner.Result, error) {
	f.mu.Lock()
	f.calls[root]++
	if err := f.scanErr[root]; err != nil {
		f.mu.Unlock()
		return nil, err
	}
	entries := slices.Clone(f.entries[root])
	entryErrs := slices.Clone(f.entryErrs[root])
	block := f.block
	f.mu.Unlock()

	ch := make(chan scanner.Result)
	go func() {
		defer close(ch)
		if block != nil {
			select {
			case <-block:
			case <-ctx.Done():
				return
			}
		}
		for _, err := range entryErrs {
			select {
			case ch <- scanner.Result{Err: err}:
			case <-ctx.Done():
				return
			}
		}
		for _, e := range entries {
			select {
			case ch <- scanner.Result{Entry: e}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

type storedGen struct {
	gen     uint64
	entries []store.RawEntry
}

// fakeCatalog keeps generations in memory. saveErr fails every save;
// saveFailures fails only that many before recovering, like a lock
// held briefly by another writer.
type fakeCatalog struct {
	mu           sync.Mutex
	stored       map[string]storedGen
	loadErr      map[string]error
	saveErr      error
	saveFailures int
	saveCalls    int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		stored:  make(map[string]storedGen),
		loadErr: make(map[string]error),
	}
}

func (f *fakeCatalog) SaveGeneration(_ context.Context, drive string, gen uint64, ds *store.DriveStore) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveCalls++
	if f.saveErr != nil {
		return f.saveErr
	}
	if f.saveFailures > 0 {
		f.saveFailures--
		return assert.AnError
	}
	var entries []store.RawEntry
	ds.ForEach(func(_ store.RecordID, rec *store.IndexedFile) bool {
		entries = append(entries, store.RawEntry{
			Path:  rec.Path,
			Name:  rec.Name,
			Size:  rec.Size,
			MTime: rec.MTime,
			IsDir: rec.IsDir,
			Attr:  rec.Attr,
		})
		return true
	})
	f.stored[drive] = storedGen{gen: gen, entries: entries}
	return nil
}

func (f *fakeCatalog) LoadGeneration(_ context.Context, drive string) ([]store.RawEntry, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.loadErr[drive]; err != nil {
		return nil, 0, err
	}
	sg, ok := f.stored[drive]
	if !ok {
		return nil, 0, nil
	}
	return sg.entries, sg.gen, nil
}

func (f *fakeCatalog) saved(drive string) (storedGen, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sg, ok := f.stored[drive]
	return sg, ok
}

// eventRecorder collects sink events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) sink() EventSink {
	return func(ev Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, ev)
	}
}

func (r *eventRecorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

// syncBuffer is a goroutine-safe log target.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func entry(path, name string, size int64) store.RawEntry {
	return store.RawEntry{
		Path:  path,
		Name:  name,
		Size:  size,
		MTime: time.Date(2024, 12, 10, 9, 0, 0, 0, time.UTC),
	}
}

func dir(path, name string) store.RawEntry {
	return store.RawEntry{
		Path:  path,
		Name:  name,
		MTime: time.Date(2024, 12, 10, 9, 0, 0, 0, time.UTC),
		IsDir: true,
	}
}

func TestManager_BuildPublishesGeneration(t *testing.T) {
	// Given: a drive with three entries
	scan := newFakeScanner()
	scan.set("/mnt/data",
		entry("/mnt/data/report.txt", "report.txt", 100),
		dir("/mnt/data/photos", "photos"),
		entry("/mnt/data/photos/beach.jpg", "beach.jpg", 2048),
	)
	rec := &eventRecorder{}
	m := NewManager(NewRegistry([]string{"/mnt/data"}), scan,
		WithLogger(quietLogger()), WithEventSink(rec.sink()))

	// When: the first build runs
	err := m.BuildOrRebuild(context.Background(), "/mnt/data")

	// Then: generation 1 is published and searchable
	require.NoError(t, err)

	st, err := m.Status("/mnt/data")
	require.NoError(t, err)
	assert.Equal(t, StateReady, st.State)
	assert.Equal(t, uint64(1), st.Generation)
	assert.Equal(t, 3, st.Count)
	assert.False(t, st.BuiltAt.IsZero())

	ds, err := m.Store("/mnt/data")
	require.NoError(t, err)
	assert.Equal(t, 3, ds.Len())

	assert.Equal(t, []EventKind{EventBuilding, EventReady}, rec.kinds())
}

func TestManager_PerEntryScanErrorsDoNotFailTheBuild(t *testing.T) {
	scan := newFakeScanner()
	scan.set("/mnt/data", entry("/mnt/data/ok.txt", "ok.txt", 1))
	scan.entryErrs["/mnt/data"] = []error{assert.AnError}

	m := NewManager(NewRegistry([]string{"/mnt/data"}), scan, WithLogger(quietLogger()))

	require.NoError(t, m.BuildOrRebuild(context.Background(), "/mnt/data"))

	st, _ := m.Status("/mnt/data")
	assert.Equal(t, StateReady, st.State)
	assert.Equal(t, 1, st.Count)
}

func TestManager_BuildFailureKeepsPriorGeneration(t *testing.T) {
	// Given: a drive whose first build succeeded
	scan := newFakeScanner()
	scan.set("/mnt/data", entry("/mnt/data/report.txt", "report.txt", 100))
	m := NewManager(NewRegistry([]string{"/mnt/data"}), scan, WithLogger(quietLogger()))
	require.NoError(t, m.BuildOrRebuild(context.Background(), "/mnt/data"))

	// When: the next walk cannot start
	scan.failWith("/mnt/data", assert.AnError)
	err := m.BuildOrRebuild(context.Background(), "/mnt/data")

	// Then: the drive is Failed but generation 1 still serves
	require.Error(t, err)
	assert.Equal(t, seekerrors.ErrCodeBuildFailed, seekerrors.GetCode(err))

	st, _ := m.Status("/mnt/data")
	assert.Equal(t, StateFailed, st.State)
	assert.Equal(t, uint64(1), st.Generation)
	assert.NotEmpty(t, st.Failure)

	ds, err := m.Store("/mnt/data")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ds.Generation())
	assert.Equal(t, 1, ds.Len())
}

func TestManager_RebuildReplacesGenerationWithoutDisturbingReaders(t *testing.T) {
	scan := newFakeScanner()
	scan.set("/mnt/data", entry("/mnt/data/a.txt", "a.txt", 1))
	m := NewManager(NewRegistry([]string{"/mnt/data"}), scan, WithLogger(quietLogger()))
	require.NoError(t, m.BuildOrRebuild(context.Background(), "/mnt/data"))

	old, err := m.Store("/mnt/data")
	require.NoError(t, err)

	scan.set("/mnt/data",
		entry("/mnt/data/a.txt", "a.txt", 1),
		entry("/mnt/data/b.txt", "b.txt", 2),
	)
	require.NoError(t, m.BuildOrRebuild(context.Background(), "/mnt/data"))

	fresh, err := m.Store("/mnt/data")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), fresh.Generation())
	assert.Equal(t, 2, fresh.Len())

	// A reader holding the old generation is untouched by the swap.
	assert.Equal(t, uint64(1), old.Generation())
	assert.Equal(t, 1, old.Len())
}

func TestManager_FailedDriveRecoversOnRetry(t *testing.T) {
	scan := newFakeScanner()
	scan.failWith("/mnt/data", assert.AnError)
	m := NewManager(NewRegistry([]string{"/mnt/data"}), scan, WithLogger(quietLogger()))

	require.Error(t, m.BuildOrRebuild(context.Background(), "/mnt/data"))

	scan.failWith("/mnt/data", nil)
	scan.set("/mnt/data", entry("/mnt/data/a.txt", "a.txt", 1))
	require.NoError(t, m.BuildOrRebuild(context.Background(), "/mnt/data"))

	st, _ := m.Status("/mnt/data")
	assert.Equal(t, StateReady, st.State)
	assert.Empty(t, st.Failure)
}

func TestManager_UnknownDrive(t *testing.T) {
	m := NewManager(NewRegistry([]string{"/mnt/data"}), newFakeScanner(), WithLogger(quietLogger()))

	err := m.BuildOrRebuild(context.Background(), "/mnt/ghost")
	assert.Equal(t, seekerrors.ErrCodeUnknownDrive, seekerrors.GetCode(err))

	_, err = m.Status("/mnt/ghost")
	assert.Equal(t, seekerrors.ErrCodeUnknownDrive, seekerrors.GetCode(err))
}

func TestManager_StoreBeforeFirstBuildIsNotReady(t *testing.T) {
	m := NewManager(NewRegistry([]string{"/mnt/data"}), newFakeScanner(), WithLogger(quietLogger()))

	_, err := m.Store("/mnt/data")

	require.Error(t, err)
	assert.Equal(t, seekerrors.ErrCodeIndexNotReady, seekerrors.GetCode(err))
}

func TestManager_ConcurrentRebuildRequestsCoalesce(t *testing.T) {
	scan := newFakeScanner()
	scan.set("/mnt/data", entry("/mnt/data/a.txt", "a.txt", 1))
	scan.block = make(chan struct{})

	logBuf := &syncBuffer{}
	logger := slog.New(slog.NewTextHandler(logBuf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	m := NewManager(NewRegistry([]string{"/mnt/data"}), scan, WithLogger(logger))

	var wg sync.WaitGroup
	errs := make([]error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[0] = m.BuildOrRebuild(context.Background(), "/mnt/data")
	}()

	require.Eventually(t, func() bool {
		st, err := m.Status("/mnt/data")
		return err == nil && st.State == StateBuilding
	}, time.Second, 5*time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[1] = m.BuildOrRebuild(context.Background(), "/mnt/data")
	}()

	// The second request must attach to the in-flight build before the
	// walk is released.
	require.Eventually(t, func() bool {
		return strings.Contains(logBuf.String(), "index_build_coalesced")
	}, time.Second, 5*time.Millisecond)

	close(scan.block)
	wg.Wait()

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
	assert.Equal(t, 1, scan.callCount("/mnt/data"), "coalesced request must not start a second walk")

	st, _ := m.Status("/mnt/data")
	assert.Equal(t, StateReady, st.State)
}

func TestManager_CancelledBuildFails(t *testing.T) {
	scan := newFakeScanner()
	scan.set("/mnt/data", entry("/mnt/data/a.txt", "a.txt", 1))
	scan.block = make(chan struct{}) // never released

	m := NewManager(NewRegistry([]string{"/mnt/data"}), scan, WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- m.BuildOrRebuild(ctx, "/mnt/data")
	}()

	// Wait until the walk is actually draining before cancelling.
	require.Eventually(t, func() bool {
		return scan.callCount("/mnt/data") == 1
	}, time.Second, 5*time.Millisecond)

	cancel()

	err := <-errCh
	require.Error(t, err)
	assert.Equal(t, seekerrors.ErrCodeWalkAborted, seekerrors.GetCode(err))

	st, _ := m.Status("/mnt/data")
	assert.Equal(t, StateFailed, st.State)
}

func TestManager_BuildAllIsolatesFailures(t *testing.T) {
	scan := newFakeScanner()
	scan.set("/mnt/data", entry("/mnt/data/a.txt", "a.txt", 1))
	scan.set("/mnt/media", entry("/mnt/media/song.mp3", "song.mp3", 1))
	scan.failWith("/mnt/media", assert.AnError)

	m := NewManager(NewRegistry([]string{"/mnt/data", "/mnt/media"}), scan, WithLogger(quietLogger()))

	built, failed := m.BuildAll(context.Background())

	assert.Equal(t, []string{"/mnt/data"}, built)
	require.Contains(t, failed, "/mnt/media")
	assert.Equal(t, seekerrors.ErrCodeBuildFailed, seekerrors.GetCode(failed["/mnt/media"]))

	// Only the successful drive serves searches.
	stores := m.ReadyStores()
	require.Len(t, stores, 1)
	assert.Equal(t, "/mnt/data", stores[0].Root())
}

func TestManager_ReadyStoresSkipsBuildingAndFailed(t *testing.T) {
	scan := newFakeScanner()
	scan.set("/mnt/data", entry("/mnt/data/a.txt", "a.txt", 1))
	m := NewManager(NewRegistry([]string{"/mnt/data", "/mnt/media"}), scan, WithLogger(quietLogger()))

	require.NoError(t, m.BuildOrRebuild(context.Background(), "/mnt/data"))

	// /mnt/media never built: skipped without error.
	stores := m.ReadyStores()
	require.Len(t, stores, 1)
	assert.Equal(t, "/mnt/data", stores[0].Root())
}

func TestManager_ApplyDelta(t *testing.T) {
	scan := newFakeScanner()
	scan.set("/mnt/data",
		entry("/mnt/data/keep.txt", "keep.txt", 1),
		entry("/mnt/data/doomed.txt", "doomed.txt", 2),
	)
	rec := &eventRecorder{}
	m := NewManager(NewRegistry([]string{"/mnt/data"}), scan,
		WithLogger(quietLogger()), WithEventSink(rec.sink()))
	require.NoError(t, m.BuildOrRebuild(context.Background(), "/mnt/data"))

	ds, err := m.Store("/mnt/data")
	require.NoError(t, err)
	doomedID, ok := ds.IDForPath("/mnt/data/doomed.txt")
	require.True(t, ok)

	err = m.ApplyDelta(context.Background(), "/mnt/data",
		[]store.RawEntry{entry("/mnt/data/new.txt", "new.txt", 3)},
		[]store.RecordID{doomedID},
	)
	require.NoError(t, err)

	assert.Equal(t, 2, ds.Len())
	_, ok = ds.IDForPath("/mnt/data/doomed.txt")
	assert.False(t, ok)
	_, ok = ds.IDForPath("/mnt/data/new.txt")
	assert.True(t, ok)

	kinds := rec.kinds()
	assert.Equal(t, EventDelta, kinds[len(kinds)-1])
}

func TestManager_ApplyDeltaDroppedWhenNothingPublished(t *testing.T) {
	m := NewManager(NewRegistry([]string{"/mnt/data"}), newFakeScanner(), WithLogger(quietLogger()))

	err := m.ApplyDelta(context.Background(), "/mnt/data",
		[]store.RawEntry{entry("/mnt/data/new.txt", "new.txt", 3)}, nil)

	assert.NoError(t, err, "deltas for unpublished drives are best-effort drops")
	_, err = m.Store("/mnt/data")
	assert.Error(t, err)
}

func TestManager_SnapshotSavedAfterBuild(t *testing.T) {
	scan := newFakeScanner()
	scan.set("/mnt/data", entry("/mnt/data/a.txt", "a.txt", 1))
	catalog := newFakeCatalog()
	m := NewManager(NewRegistry([]string{"/mnt/data"}), scan,
		WithLogger(quietLogger()), WithCatalog(catalog))

	require.NoError(t, m.BuildOrRebuild(context.Background(), "/mnt/data"))

	sg, ok := catalog.saved("/mnt/data")
	require.True(t, ok)
	assert.Equal(t, uint64(1), sg.gen)
	require.Len(t, sg.entries, 1)
	assert.Equal(t, "a.txt", sg.entries[0].Name)
}

func TestManager_SnapshotFailureDoesNotFailTheBuild(t *testing.T) {
	scan := newFakeScanner()
	scan.set("/mnt/data", entry("/mnt/data/a.txt", "a.txt", 1))
	catalog := newFakeCatalog()
	catalog.saveErr = assert.AnError
	m := NewManager(NewRegistry([]string{"/mnt/data"}), scan,
		WithLogger(quietLogger()), WithCatalog(catalog))
	m.snapshotRetry = seekerrors.Backoff{Attempts: 1}

	require.NoError(t, m.BuildOrRebuild(context.Background(), "/mnt/data"))

	st, _ := m.Status("/mnt/data")
	assert.Equal(t, StateReady, st.State)
}

func TestManager_SnapshotSaveRecoversFromLockRace(t *testing.T) {
	scan := newFakeScanner()
	scan.set("/mnt/data", entry("/mnt/data/a.txt", "a.txt", 1))
	catalog := newFakeCatalog()
	catalog.saveFailures = 2
	m := NewManager(NewRegistry([]string{"/mnt/data"}), scan,
		WithLogger(quietLogger()), WithCatalog(catalog))
	m.snapshotRetry = seekerrors.Backoff{Attempts: 3, Delay: time.Millisecond}

	require.NoError(t, m.BuildOrRebuild(context.Background(), "/mnt/data"))

	sg, ok := catalog.saved("/mnt/data")
	require.True(t, ok, "the third try should have landed")
	assert.Equal(t, uint64(1), sg.gen)
	assert.Equal(t, 3, catalog.saveCalls)
}

func TestManager_WarmStartPublishesStoredGenerations(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.stored["/mnt/data"] = storedGen{
		gen: 5,
		entries: []store.RawEntry{
			entry("/mnt/data/a.txt", "a.txt", 1),
			entry("/mnt/data/b.txt", "b.txt", 2),
		},
	}
	scan := newFakeScanner()
	scan.set("/mnt/data", entry("/mnt/data/fresh.txt", "fresh.txt", 3))

	rec := &eventRecorder{}
	m := NewManager(NewRegistry([]string{"/mnt/data", "/mnt/media"}), scan,
		WithLogger(quietLogger()), WithCatalog(catalog), WithEventSink(rec.sink()))

	warmed := m.WarmStart(context.Background())

	assert.Equal(t, 1, warmed)

	st, _ := m.Status("/mnt/data")
	assert.Equal(t, StateReady, st.State)
	assert.Equal(t, uint64(5), st.Generation)
	assert.Equal(t, 2, st.Count)

	// The drive with no snapshot stays unbuilt.
	st, _ = m.Status("/mnt/media")
	assert.Equal(t, StateNotBuilt, st.State)

	assert.Equal(t, []EventKind{EventReady}, rec.kinds())

	// A real rebuild continues the generation sequence.
	require.NoError(t, m.BuildOrRebuild(context.Background(), "/mnt/data"))
	st, _ = m.Status("/mnt/data")
	assert.Equal(t, uint64(6), st.Generation)
	assert.Equal(t, 1, st.Count)
}

func TestManager_WarmStartSkipsCatalogFailures(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.loadErr["/mnt/data"] = assert.AnError

	m := NewManager(NewRegistry([]string{"/mnt/data"}), newFakeScanner(),
		WithLogger(quietLogger()), WithCatalog(catalog))

	assert.Equal(t, 0, m.WarmStart(context.Background()))

	st, _ := m.Status("/mnt/data")
	assert.Equal(t, StateNotBuilt, st.State)
}

func TestManager_WarmStartWithoutCatalogIsANoOp(t *testing.T) {
	m := NewManager(NewRegistry([]string{"/mnt/data"}), newFakeScanner(), WithLogger(quietLogger()))

	assert.Equal(t, 0, m.WarmStart(context.Background()))
}
