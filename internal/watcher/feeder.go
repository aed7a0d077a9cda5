package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/driveseek/driveseek/internal/scanner"
	"github.com/driveseek/driveseek/internal/store"
)

// DeltaSink receives resolved filesystem deltas. The lifecycle manager
// satisfies it.
type DeltaSink interface {
	Store(drive string) (*store.DriveStore, error)
	ApplyDelta(ctx context.Context, drive string, added []store.RawEntry, removed []store.RecordID) error
}

// DeltaFeeder turns debounced change batches into index deltas:
// created and modified paths are stat'ed into raw entries, deleted
// paths resolve to record ids through the published store. Everything
// is best-effort; a drive without a published index drops its batches
// and waits for the next full build.
type DeltaFeeder struct {
	drive  string
	sink   DeltaSink
	scan   *scanner.Scanner
	opts   scanner.Options
	logger *slog.Logger
}

// NewDeltaFeeder creates a feeder for one drive. scanOpts must match
// the drive's scan configuration.
func NewDeltaFeeder(drive string, sink DeltaSink, scanOpts scanner.Options, logger *slog.Logger) *DeltaFeeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeltaFeeder{
		drive:  drive,
		sink:   sink,
		scan:   scanner.New(scanOpts),
		opts:   scanOpts,
		logger: logger,
	}
}

// Run consumes batches until the channel closes or ctx ends. Wire a
// Debouncer's Output here.
func (f *DeltaFeeder) Run(ctx context.Context, batches <-chan []FileEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case events, ok := <-batches:
			if !ok {
				return
			}
			f.Apply(ctx, events)
		}
	}
}

// Apply resolves one batch and hands it to the sink.
func (f *DeltaFeeder) Apply(ctx context.Context, events []FileEvent) {
	if len(events) == 0 {
		return
	}

	ds, err := f.sink.Store(f.drive)
	if err != nil {
		f.logger.Debug("delta_batch_dropped",
			slog.String("drive", f.drive),
			slog.Int("events", len(events)))
		return
	}

	var added []store.RawEntry
	var removed []store.RecordID
	for _, ev := range events {
		switch ev.Operation {
		case OpCreate, OpModify:
			added = append(added, f.resolveUpsert(ctx, ev.Path)...)
		case OpDelete, OpRename:
			removed = append(removed, ds.IDsUnder(ev.Path)...)
		}
	}
	if len(added) == 0 && len(removed) == 0 {
		return
	}

	if err := f.sink.ApplyDelta(ctx, f.drive, added, removed); err != nil {
		f.logger.Warn("delta_apply_failed",
			slog.String("drive", f.drive),
			slog.String("error", err.Error()))
	}
}

// resolveUpsert stats a created or modified path into raw entries. A
// directory is walked: the create event for a moved-in tree names only
// its top.
func (f *DeltaFeeder) resolveUpsert(ctx context.Context, path string) []store.RawEntry {
	if f.opts.Skips(f.drive, path) {
		return nil
	}

	info, err := os.Lstat(path)
	if err != nil {
		// Gone again before the batch flushed
		f.logger.Debug("delta_entry_vanished", slog.String("path", path))
		return nil
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		if !f.opts.FollowSymlinks {
			return nil
		}
		if info, err = os.Stat(path); err != nil {
			return nil
		}
	}

	if info.IsDir() {
		return f.scanTree(ctx, path)
	}

	base := filepath.Base(path)
	return []store.RawEntry{{
		Path:  path,
		Name:  base,
		Size:  info.Size(),
		MTime: info.ModTime(),
		Attr:  scanner.AttrFor(base, info.Mode()),
	}}
}

// scanTree walks a directory through the scanner so its entries carry
// the same exclusions and attributes a full build would give them.
func (f *DeltaFeeder) scanTree(ctx context.Context, dir string) []store.RawEntry {
	results, err := f.scan.ScanSubtree(ctx, f.drive, dir)
	if err != nil {
		f.logger.Debug("delta_subtree_skipped",
			slog.String("path", dir),
			slog.String("error", err.Error()))
		return nil
	}

	var entries []store.RawEntry
	for r := range results {
		if r.Err != nil {
			f.logger.Warn("delta_subtree_entry_failed", slog.String("error", r.Err.Error()))
			continue
		}
		entries = append(entries, r.Entry)
	}
	return entries
}
