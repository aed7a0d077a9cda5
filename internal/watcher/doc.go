// Package watcher keeps drive indexes fresh between rebuilds.
//
// The pipeline has three stages:
//   - A Watcher (fsnotify where available, polling otherwise) streams
//     raw change events for one drive root, filtered through the same
//     exclude rules the scanner applies.
//   - A Debouncer coalesces bursts per path inside a window, so a file
//     saved twenty times in a second costs one delta.
//   - A DeltaFeeder stats surviving paths into raw entries, resolves
//     deletions to record ids via the published store, and applies the
//     delta through the lifecycle manager.
//
// Usage:
//
//	w := watcher.New(root, scanOpts, watcher.Options{})
//	deb := watcher.NewDebouncer(500 * time.Millisecond)
//	feeder := watcher.NewDeltaFeeder(root, manager, scanOpts, logger)
//
//	go func() {
//	    for ev := range w.Events() {
//	        deb.Add(ev)
//	    }
//	    deb.Stop()
//	}()
//	go feeder.Run(ctx, deb.Output())
//	go w.Start(ctx)
//
// Everything downstream of the watcher is best-effort: batches for a
// drive with no published index are dropped, and the next full rebuild
// reconciles whatever slipped through.
package watcher
