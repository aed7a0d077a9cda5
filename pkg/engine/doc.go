// Package engine is the embeddable driveseek core: it assembles the
// drive registry, index lifecycle, search coordinator, filesystem
// watcher, snapshot catalog and query telemetry behind one handle.
// The daemon and the CLI are thin transports over this package;
// anything they can do, an importer can do in process.
//
// # Usage
//
// Build indexes, then search:
//
//	cfg := config.NewConfig()
//	cfg.Drives.Roots = []string{"/mnt/data"}
//
//	eng, err := engine.New(cfg)
//	if err != nil {
//	    return err
//	}
//	defer eng.Close()
//
//	if _, err := eng.BuildIndex(ctx, search.Scope{}); err != nil {
//	    return err
//	}
//
//	updates, err := eng.CompileAndSearch(ctx, "report ext:pdf", search.Scope{}, "")
//	if err != nil {
//	    return err
//	}
//	for u := range updates {
//	    switch {
//	    case u.Batch != nil:
//	        // stream results
//	    case u.Completion != nil:
//	        // final totals
//	    }
//	}
//
// StartWatching keeps published indexes fresh from filesystem
// notifications until the engine closes or the given context ends.
//
// # Thread safety
//
// An Engine is safe for concurrent use. Searches, builds and deltas
// may be issued from any goroutine; builds serialize per drive and
// searches always read an immutable published generation.
package engine
