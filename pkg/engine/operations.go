package engine

import (
	"context"
	"path/filepath"
	"time"

	seekerrors "github.com/driveseek/driveseek/internal/errors"
	"github.com/driveseek/driveseek/internal/lifecycle"
	"github.com/driveseek/driveseek/internal/search"
	"github.com/driveseek/driveseek/internal/store"
)

// BuildSummary reports one BuildIndex call.
type BuildSummary struct {
	// Built lists the drives that published a fresh generation, in
	// configuration order.
	Built []string

	// Failed maps each drive whose build failed to its error. Nil when
	// every drive built.
	Failed map[string]error

	// Elapsed is the wall time of the whole operation.
	Elapsed time.Duration
}

// StatusSummary reports index state across a scope.
type StatusSummary struct {
	// PerDrive holds one status per drive in configuration order.
	PerDrive []lifecycle.Status

	// ReadyCount is how many of those drives have a published
	// generation and are not mid-failure.
	ReadyCount int

	// TotalDrives is the number of drives in the scope.
	TotalDrives int

	// TotalFiles sums the record counts of the Ready drives.
	TotalFiles int
}

// Search runs one search described by p and streams updates on the
// returned channel: batches first, one completion last, then the
// channel closes. A close without a completion means the search was
// superseded or its context cancelled. Scope errors (unknown drive,
// index not built) fail synchronously before any channel exists.
func (e *Engine) Search(ctx context.Context, p search.Params) (<-chan search.Update, error) {
	return e.coordinator.Search(ctx, p)
}

// CompileAndSearch is Search for the common case: compile rawQuery and
// stream matches from scope. A non-empty sessionKey makes this search
// supersede the previous one issued under the same key.
func (e *Engine) CompileAndSearch(ctx context.Context, rawQuery string, scope search.Scope, sessionKey string) (<-chan search.Update, error) {
	return e.Search(ctx, search.Params{
		Raw:        rawQuery,
		Scope:      scope,
		SessionKey: sessionKey,
	})
}

// Supersede cancels the in-flight search registered under sessionKey,
// if any. Reports whether a search was cancelled.
func (e *Engine) Supersede(sessionKey string) bool {
	return e.coordinator.Supersede(sessionKey)
}

// BuildIndex walks the scope's drives and publishes fresh generations,
// blocking until every build settles. One drive's failure never stops
// the others; failures land in the summary instead. The returned error
// is reserved for requests that cannot start at all, such as naming a
// drive that is not configured.
func (e *Engine) BuildIndex(ctx context.Context, scope search.Scope) (BuildSummary, error) {
	start := e.now()
	var sum BuildSummary

	if scope.All() {
		built, failed := e.manager.BuildAll(ctx)
		sum.Built = built
		if len(failed) > 0 {
			sum.Failed = failed
		}
	} else {
		drive := filepath.Clean(scope.Drive)
		if err := e.manager.BuildOrRebuild(ctx, drive); err != nil {
			if seekerrors.GetCode(err) == seekerrors.ErrCodeUnknownDrive {
				return BuildSummary{}, err
			}
			sum.Failed = map[string]error{drive: err}
		} else {
			sum.Built = []string{drive}
		}
	}

	sum.Elapsed = e.now().Sub(start)
	return sum, nil
}

// WarmStart restores drives from the snapshot catalog and publishes
// the restored generations, returning how many drives came up warm.
// Without a catalog it is a no-op.
func (e *Engine) WarmStart(ctx context.Context) int {
	return e.manager.WarmStart(ctx)
}

// Status reports the scope's index state. Naming an unknown drive is
// an error; everything else is a snapshot of the drives as they are.
func (e *Engine) Status(scope search.Scope) (StatusSummary, error) {
	var statuses []lifecycle.Status
	if scope.All() {
		statuses = e.manager.StatusAll()
	} else {
		st, err := e.manager.Status(scope.Drive)
		if err != nil {
			return StatusSummary{}, err
		}
		statuses = []lifecycle.Status{st}
	}

	sum := StatusSummary{PerDrive: statuses, TotalDrives: len(statuses)}
	for _, st := range statuses {
		if st.State == lifecycle.StateReady {
			sum.ReadyCount++
			sum.TotalFiles += st.Count
		}
	}
	return sum, nil
}

// ApplyFsDelta folds filesystem changes into drive's published
// generation: added entries are upserted by path, removed record ids
// tombstoned. Callers normally never need this directly; the watcher
// pipeline behind StartWatching feeds it.
func (e *Engine) ApplyFsDelta(ctx context.Context, drive string, added []store.RawEntry, removed []store.RecordID) error {
	return e.manager.ApplyDelta(ctx, drive, added, removed)
}
