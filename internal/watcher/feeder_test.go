package watcher

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	seekerrors "github.com/driveseek/driveseek/internal/errors"
	"github.com/driveseek/driveseek/internal/scanner"
	"github.com/driveseek/driveseek/internal/store"
)

type deltaCall struct {
	added   []store.RawEntry
	removed []store.RecordID
}

// fakeSink records the deltas a feeder resolves.
type fakeSink struct {
	ds       *store.DriveStore
	storeErr error

	mu    sync.Mutex
	calls []deltaCall
}

var _ DeltaSink = (*fakeSink)(nil)

func (s *fakeSink) Store(string) (*store.DriveStore, error) {
	if s.storeErr != nil {
		return nil, s.storeErr
	}
	return s.ds, nil
}

func (s *fakeSink) ApplyDelta(_ context.Context, _ string, added []store.RawEntry, removed []store.RecordID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, deltaCall{added: added, removed: removed})
	return nil
}

func (s *fakeSink) recorded() []deltaCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

func addRecord(ds *store.DriveStore, path string, isDir bool) store.RecordID {
	return ds.Add(store.RawEntry{
		Path:  path,
		Name:  filepath.Base(path),
		MTime: time.Date(2024, 12, 10, 9, 0, 0, 0, time.UTC),
		IsDir: isDir,
	})
}

func addedPaths(call deltaCall) []string {
	paths := make([]string, 0, len(call.added))
	for _, e := range call.added {
		paths = append(paths, e.Path)
	}
	return paths
}

func TestDeltaFeeder_UpsertsCreatedFile(t *testing.T) {
	tmpDir := t.TempDir()
	target := filepath.Join(tmpDir, "fresh.txt")
	require.NoError(t, os.WriteFile(target, []byte("hello"), 0o644))

	sink := &fakeSink{ds: store.NewDriveStore(tmpDir, 1)}
	f := NewDeltaFeeder(tmpDir, sink, scanner.Options{}, nil)

	f.Apply(context.Background(), []FileEvent{{Path: target, Operation: OpCreate}})

	calls := sink.recorded()
	require.Len(t, calls, 1)
	require.Len(t, calls[0].added, 1)
	entry := calls[0].added[0]
	assert.Equal(t, target, entry.Path)
	assert.Equal(t, "fresh.txt", entry.Name)
	assert.Equal(t, int64(5), entry.Size)
	assert.False(t, entry.IsDir)
	assert.Empty(t, calls[0].removed)
}

func TestDeltaFeeder_ModifiedFileCarriesFreshMetadata(t *testing.T) {
	tmpDir := t.TempDir()
	target := filepath.Join(tmpDir, "report.txt")
	require.NoError(t, os.WriteFile(target, []byte("v1"), 0o644))

	ds := store.NewDriveStore(tmpDir, 1)
	addRecord(ds, target, false)
	sink := &fakeSink{ds: ds}
	f := NewDeltaFeeder(tmpDir, sink, scanner.Options{}, nil)

	require.NoError(t, os.WriteFile(target, []byte("v2 longer"), 0o644))
	f.Apply(context.Background(), []FileEvent{{Path: target, Operation: OpModify}})

	calls := sink.recorded()
	require.Len(t, calls, 1)
	require.Len(t, calls[0].added, 1)
	assert.Equal(t, int64(9), calls[0].added[0].Size)
}

func TestDeltaFeeder_ResolvesDeletionsThroughStore(t *testing.T) {
	// Deleted paths cannot be stat'ed, so the feeder resolves them
	// against the published index instead. No files on disk needed.
	tmpDir := t.TempDir()
	ds := store.NewDriveStore(tmpDir, 1)
	logs := filepath.Join(tmpDir, "logs")
	idLogs := addRecord(ds, logs, true)
	idA := addRecord(ds, filepath.Join(logs, "a.txt"), false)
	idB := addRecord(ds, filepath.Join(logs, "b.txt"), false)
	addRecord(ds, filepath.Join(tmpDir, "keep.txt"), false)

	sink := &fakeSink{ds: ds}
	f := NewDeltaFeeder(tmpDir, sink, scanner.Options{}, nil)

	f.Apply(context.Background(), []FileEvent{{Path: logs, Operation: OpDelete}})

	calls := sink.recorded()
	require.Len(t, calls, 1)
	assert.Empty(t, calls[0].added)
	assert.ElementsMatch(t, []store.RecordID{idLogs, idA, idB}, calls[0].removed)
}

func TestDeltaFeeder_RenameRemovesOldPath(t *testing.T) {
	// A rename surfaces as RENAME for the old name and CREATE for the
	// new one; the old name is a removal.
	tmpDir := t.TempDir()
	ds := store.NewDriveStore(tmpDir, 1)
	old := filepath.Join(tmpDir, "draft.txt")
	id := addRecord(ds, old, false)

	sink := &fakeSink{ds: ds}
	f := NewDeltaFeeder(tmpDir, sink, scanner.Options{}, nil)

	f.Apply(context.Background(), []FileEvent{{Path: old, Operation: OpRename}})

	calls := sink.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, []store.RecordID{id}, calls[0].removed)
}

func TestDeltaFeeder_DropsBatchWithoutPublishedStore(t *testing.T) {
	tmpDir := t.TempDir()
	target := filepath.Join(tmpDir, "fresh.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))

	sink := &fakeSink{storeErr: seekerrors.NotReadyError("drive has no built index", nil)}
	f := NewDeltaFeeder(tmpDir, sink, scanner.Options{}, nil)

	f.Apply(context.Background(), []FileEvent{{Path: target, Operation: OpCreate}})

	assert.Empty(t, sink.recorded(), "batches wait for the next full build")
}

func TestDeltaFeeder_SkipsExcludedPaths(t *testing.T) {
	tmpDir := t.TempDir()
	target := filepath.Join(tmpDir, "scratch.tmp")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))

	sink := &fakeSink{ds: store.NewDriveStore(tmpDir, 1)}
	f := NewDeltaFeeder(tmpDir, sink, scanner.Options{Excludes: []string{"*.tmp"}}, nil)

	f.Apply(context.Background(), []FileEvent{{Path: target, Operation: OpCreate}})

	assert.Empty(t, sink.recorded())
}

func TestDeltaFeeder_IgnoresSymlinksByDefault(t *testing.T) {
	tmpDir := t.TempDir()
	real := filepath.Join(tmpDir, "real.txt")
	require.NoError(t, os.WriteFile(real, []byte("x"), 0o644))
	link := filepath.Join(tmpDir, "link.txt")
	require.NoError(t, os.Symlink(real, link))

	sink := &fakeSink{ds: store.NewDriveStore(tmpDir, 1)}
	f := NewDeltaFeeder(tmpDir, sink, scanner.Options{}, nil)

	f.Apply(context.Background(), []FileEvent{{Path: link, Operation: OpCreate}})

	assert.Empty(t, sink.recorded())
}

func TestDeltaFeeder_WalksCreatedDirectory(t *testing.T) {
	// A moved-in tree raises a single create event for its top, so the
	// feeder expands it the way a full build would.
	tmpDir := t.TempDir()
	incoming := filepath.Join(tmpDir, "incoming")
	require.NoError(t, os.MkdirAll(filepath.Join(incoming, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(incoming, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(incoming, "sub", "b.txt"), []byte("b"), 0o644))

	sink := &fakeSink{ds: store.NewDriveStore(tmpDir, 1)}
	f := NewDeltaFeeder(tmpDir, sink, scanner.Options{}, nil)

	f.Apply(context.Background(), []FileEvent{{Path: incoming, Operation: OpCreate, IsDir: true}})

	calls := sink.recorded()
	require.Len(t, calls, 1)
	assert.ElementsMatch(t, []string{
		incoming,
		filepath.Join(incoming, "a.txt"),
		filepath.Join(incoming, "sub"),
		filepath.Join(incoming, "sub", "b.txt"),
	}, addedPaths(calls[0]))
}

func TestDeltaFeeder_VanishedPathIsSkipped(t *testing.T) {
	tmpDir := t.TempDir()
	sink := &fakeSink{ds: store.NewDriveStore(tmpDir, 1)}
	f := NewDeltaFeeder(tmpDir, sink, scanner.Options{}, nil)

	f.Apply(context.Background(), []FileEvent{
		{Path: filepath.Join(tmpDir, "ghost.txt"), Operation: OpCreate},
	})

	assert.Empty(t, sink.recorded())
}

func TestDeltaFeeder_MixedBatchLandsInOneDelta(t *testing.T) {
	tmpDir := t.TempDir()
	fresh := filepath.Join(tmpDir, "fresh.txt")
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o644))

	ds := store.NewDriveStore(tmpDir, 1)
	doomed := filepath.Join(tmpDir, "doomed.txt")
	id := addRecord(ds, doomed, false)
	sink := &fakeSink{ds: ds}
	f := NewDeltaFeeder(tmpDir, sink, scanner.Options{}, nil)

	f.Apply(context.Background(), []FileEvent{
		{Path: fresh, Operation: OpCreate},
		{Path: doomed, Operation: OpDelete},
	})

	calls := sink.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{fresh}, addedPaths(calls[0]))
	assert.Equal(t, []store.RecordID{id}, calls[0].removed)
}

func TestDeltaFeeder_RunConsumesUntilClosed(t *testing.T) {
	tmpDir := t.TempDir()
	target := filepath.Join(tmpDir, "fresh.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))

	sink := &fakeSink{ds: store.NewDriveStore(tmpDir, 1)}
	f := NewDeltaFeeder(tmpDir, sink, scanner.Options{}, nil)

	batches := make(chan []FileEvent)
	done := make(chan struct{})
	go func() {
		f.Run(context.Background(), batches)
		close(done)
	}()

	batches <- []FileEvent{{Path: target, Operation: OpCreate}}
	close(batches)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after the channel closed")
	}
	require.Len(t, sink.recorded(), 1)
}

func TestDeltaFeeder_RunStopsOnContextCancel(t *testing.T) {
	sink := &fakeSink{ds: store.NewDriveStore(t.TempDir(), 1)}
	f := NewDeltaFeeder(t.TempDir(), sink, scanner.Options{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx, make(chan []FileEvent))
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return on cancellation")
	}
}
