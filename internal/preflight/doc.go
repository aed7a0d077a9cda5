// Package preflight validates the environment before indexing starts.
//
// The checks cover:
//   - Free disk space in the data directory (minimum 100MB)
//   - Available memory (minimum 1GB; indexes are memory-resident)
//   - Write permissions in the data directory
//   - File descriptor limits (minimum 1024)
//   - Inotify watch capacity for the filesystem watcher
//   - Each configured drive root existing and being readable
//
// Use the Checker type to run all validations:
//
//	checker := preflight.New()
//	results := checker.RunAll(ctx, dataDir, drives)
//	if checker.HasCriticalFailures(results) {
//	    // Refuse to index
//	}
package preflight
