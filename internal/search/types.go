// Package search evaluates compiled queries against published drive
// stores and streams results to callers in bounded batches. One
// Executor serves one store; the Coordinator fans out across drives,
// merges their batches onto a single update stream and enforces
// session supersession.
package search

import (
	"context"
	"time"

	"github.com/driveseek/driveseek/internal/store"
)

// DefaultLimit caps results per drive.
const DefaultLimit = 1000

// DefaultBatchSize is how many results ride in one batch.
const DefaultBatchSize = 200

// DefaultUpdateBuffer is the update channel capacity. The buffer is
// the backpressure: producers pause when the consumer falls behind.
const DefaultUpdateBuffer = 8

// Scope names which drives a search covers.
type Scope struct {
	// Drive is one drive root, or empty for every Ready drive.
	Drive string
}

// All reports whether the scope covers all Ready drives.
func (s Scope) All() bool {
	return s.Drive == ""
}

// String renders the scope for logs and telemetry.
func (s Scope) String() string {
	if s.All() {
		return "all"
	}
	return s.Drive
}

// Batch is one slice of results from one drive. Within a drive,
// batches arrive in index insertion order; across drives no order is
// promised.
type Batch struct {
	Drive   string
	Seq     int
	Results []store.IndexedFile
}

// DriveOutcome summarizes one drive's part in a completed search.
type DriveOutcome struct {
	Drive     string
	Count     int
	Truncated bool
}

// Completion terminates a search's update stream.
type Completion struct {
	Total     int
	Truncated bool
	Drives    []DriveOutcome
	Elapsed   time.Duration
}

// Update carries either a batch or the terminal completion. The
// update channel closes right after the completion; a close without
// one means the search was superseded or cancelled.
type Update struct {
	Batch      *Batch
	Completion *Completion
}

// StoreProvider resolves search scopes to published stores. The
// lifecycle manager satisfies it.
type StoreProvider interface {
	// Store returns drive's published generation or a coded error
	// (unknown drive, never built).
	Store(drive string) (*store.DriveStore, error)
	// ReadyStores returns every Ready drive's published store.
	ReadyStores() []*store.DriveStore
}

// MetricsRecorder observes completed searches.
type MetricsRecorder interface {
	RecordSearch(ctx context.Context, raw string, scope string, results int, elapsed time.Duration, truncated bool)
}
