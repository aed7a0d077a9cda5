package search

import (
	"github.com/driveseek/driveseek/internal/query"
	"github.com/driveseek/driveseek/internal/store"
)

// Executor evaluates one compiled query against one store generation.
type Executor struct {
	store *store.DriveStore
	limit int
}

// NewExecutor creates an Executor capped at limit results per run.
// Limits below one fall back to the default.
func NewExecutor(ds *store.DriveStore, limit int) *Executor {
	if limit < 1 {
		limit = DefaultLimit
	}
	return &Executor{store: ds, limit: limit}
}

// Collect returns the capped result slice in index insertion order and
// whether the cap cut matches off. Candidate sets narrow the scan
// where the trigram and extension indexes allow; every candidate is
// still verified against the full query, so the result set always
// equals what a linear scan would produce.
func (e *Executor) Collect(q *query.Query) ([]store.IndexedFile, bool) {
	// A query with no keywords and no filters selects nothing, not
	// everything.
	if !q.Selective() {
		return nil, false
	}

	ids, noMatch := e.candidates(q)
	if noMatch {
		return nil, false
	}

	results := e.store.Collect(ids, q.Match, e.limit+1)
	if len(results) > e.limit {
		return results[:e.limit:e.limit], true
	}
	return results, false
}

// candidates computes the narrowing id set. nil means "scan every
// record"; noMatch means an index proved no record can match.
func (e *Executor) candidates(q *query.Query) (ids *store.IDSet, noMatch bool) {
	// Only name-restricted matching can lean on the trigram index: it
	// indexes names, and a path-inclusive atom may match on the path
	// alone, which no name candidate set covers.
	if q.NameOnly {
		for _, g := range q.Groups {
			set, unconstrained := e.groupCandidates(g)
			if unconstrained {
				continue
			}
			if set.IsEmpty() {
				return nil, true
			}
			if ids == nil {
				ids = set
			} else {
				ids.And(set)
				if ids.IsEmpty() {
					return nil, true
				}
			}
		}
	}

	// The extension index is a plain field match, so it narrows both
	// matching modes.
	if exts := q.Filters.Exts; len(exts) > 0 {
		extSet := store.NewIDSet()
		for _, ext := range exts {
			extSet.Or(e.store.IDsWithExt(ext))
		}
		if extSet.IsEmpty() {
			return nil, true
		}
		if ids == nil {
			ids = extSet
		} else {
			ids.And(extSet)
			if ids.IsEmpty() {
				return nil, true
			}
		}
	}

	// NOT atoms never narrow candidates. Their trigram sets are
	// supersets of the true matches, so subtracting them would drop
	// records that merely share trigrams with an excluded term; the
	// verify pass enforces exclusion instead.
	return ids, false
}

// groupCandidates unions the group's per-atom candidate sets. An atom
// the trigram index cannot serve makes the whole OR-group
// unconstrained.
func (e *Executor) groupCandidates(g query.Group) (*store.IDSet, bool) {
	out := store.NewIDSet()
	for _, a := range g {
		if !a.Trigramable() {
			return nil, true
		}
		set, ok := e.store.CandidatesFor(a.Text)
		if !ok {
			return nil, true
		}
		out.Or(set)
	}
	return out, false
}

// Count reports how many records match q without collecting them.
func (e *Executor) Count(q *query.Query) int {
	if !q.Selective() {
		return 0
	}
	ids, noMatch := e.candidates(q)
	if noMatch {
		return 0
	}
	return e.store.Count(ids, q.Match)
}
