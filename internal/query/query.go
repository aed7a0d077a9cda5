// Package query compiles Everything-style search strings into a
// normalized Query: an AND-list of OR-groups of keyword atoms, a NOT-list
// of excluded atoms, and a FilterSet of structured constraints
// (extension, size, modified time, path length, attributes, kind, path
// terms). Compilation is total: malformed or unrecognized filter tokens
// degrade to literal keyword atoms instead of failing.
package query

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/driveseek/driveseek/internal/store"
)

// Atom is a single keyword term, lowercase, with wildcards preserved.
type Atom struct {
	// Text is the lowercased term. Wildcard metacharacters are kept
	// verbatim, never pre-expanded.
	Text string

	// Wildcard is set when Text contains * or ?.
	Wildcard bool

	matcher *Matcher
}

func newAtom(text string) Atom {
	a := Atom{Text: text, Wildcard: HasWildcard(text)}
	if a.Wildcard {
		a.matcher = NewMatcher(text)
	}
	return a
}

// MatchString reports whether the atom matches s, which must already be
// lowercase. Literal atoms match by substring containment, wildcard atoms
// through the compiled matcher.
func (a Atom) MatchString(s string) bool {
	if a.Wildcard {
		return a.matcher.Match(s)
	}
	return strings.Contains(s, a.Text)
}

// matchFile checks the atom against a record's name, and when nameOnly is
// off, its full path as well.
func (a Atom) matchFile(f *store.IndexedFile, nameOnly bool) bool {
	if a.MatchString(f.NameLower) {
		return true
	}
	if nameOnly {
		return false
	}
	return a.MatchString(f.PathLower)
}

// Trigramable reports whether the atom can be served by the trigram
// index: literal, at least three bytes.
func (a Atom) Trigramable() bool {
	return !a.Wildcard && len(a.Text) >= 3
}

// Group is an OR-list of atoms; a record matches the group when any atom
// matches.
type Group []Atom

func newGroup(text string) Group {
	var g Group
	for _, part := range strings.Split(text, "|") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		g = append(g, newAtom(part))
	}
	return g
}

func (g Group) matchFile(f *store.IndexedFile, nameOnly bool) bool {
	for _, a := range g {
		if a.matchFile(f, nameOnly) {
			return true
		}
	}
	return false
}

// Kind restricts results to files or folders.
type Kind uint8

const (
	KindAny Kind = iota
	KindFile
	KindFolder
)

// Int64Range is an inclusive range. Max below Min matches nothing.
type Int64Range struct {
	Min int64
	Max int64
}

func (r Int64Range) contains(v int64) bool {
	return v >= r.Min && v <= r.Max
}

// IntRange is an inclusive range over ints.
type IntRange struct {
	Min int
	Max int
}

func (r IntRange) contains(v int) bool {
	return v >= r.Min && v <= r.Max
}

// TimeRange is half-open: [After, Before). A zero After means unbounded
// below, a zero Before unbounded above.
type TimeRange struct {
	After  time.Time
	Before time.Time
}

func (r TimeRange) contains(t time.Time) bool {
	if !r.After.IsZero() && t.Before(r.After) {
		return false
	}
	if !r.Before.IsZero() && !t.Before(r.Before) {
		return false
	}
	return true
}

// FilterSet holds the structured constraints extracted from filter
// tokens. The zero value constrains nothing.
type FilterSet struct {
	// Exts lists accepted extensions (lowercase, no dot). Empty means
	// any. A non-empty list excludes directories.
	Exts []string

	// Size bounds the file size in bytes.
	Size *Int64Range

	// Modified bounds the modification time.
	Modified *TimeRange

	// PathLen bounds the full path length in characters.
	PathLen *IntRange

	// Attr lists attribute bits a record must carry.
	Attr store.AttrMask

	// Kind restricts to files or folders.
	Kind Kind

	// Path holds OR-groups matched against the lowercase full path.
	Path []Group
}

// Empty reports whether the set constrains nothing.
func (fs *FilterSet) Empty() bool {
	return len(fs.Exts) == 0 &&
		fs.Size == nil &&
		fs.Modified == nil &&
		fs.PathLen == nil &&
		fs.Attr == 0 &&
		fs.Kind == KindAny &&
		len(fs.Path) == 0
}

// Match applies every constraint to the record.
func (fs *FilterSet) Match(f *store.IndexedFile) bool {
	switch fs.Kind {
	case KindFile:
		if f.IsDir {
			return false
		}
	case KindFolder:
		if !f.IsDir {
			return false
		}
	}
	if len(fs.Exts) > 0 {
		if f.IsDir {
			return false
		}
		found := false
		for _, ext := range fs.Exts {
			if f.Ext == ext {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if fs.Size != nil && !fs.Size.contains(f.Size) {
		return false
	}
	if fs.Modified != nil && !fs.Modified.contains(f.MTime) {
		return false
	}
	if fs.PathLen != nil && !fs.PathLen.contains(utf8.RuneCountInString(f.Path)) {
		return false
	}
	if fs.Attr != 0 && !f.Attr.Has(fs.Attr) {
		return false
	}
	for _, g := range fs.Path {
		matched := false
		for _, a := range g {
			if a.MatchString(f.PathLower) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// Query is a compiled search. It is immutable after compilation and safe
// for concurrent use.
type Query struct {
	// Raw is the string the query was compiled from.
	Raw string

	// Groups are ANDed: a record must match every group.
	Groups []Group

	// Not lists excluded atoms: a record matching any is rejected.
	Not []Atom

	// Filters holds the structured constraints.
	Filters FilterSet

	// NameOnly restricts keyword matching to file names. The default
	// matches against the full path as well.
	NameOnly bool

	// relative is set when a date filter was resolved against the
	// compile-time clock, which makes the query unfit for caching.
	relative bool
}

// Empty reports whether the query constrains nothing at all. An empty
// query returns no results rather than every record.
func (q *Query) Empty() bool {
	return len(q.Groups) == 0 && len(q.Not) == 0 && q.Filters.Empty()
}

// Selective reports whether the query has a positive selector: at least
// one keyword group or one filter. A query of only NOT atoms selects
// nothing rather than everything.
func (q *Query) Selective() bool {
	return len(q.Groups) > 0 || !q.Filters.Empty()
}

// WithNameOnly returns a query identical to q but restricted to
// file-name matching. q itself is never modified; compiled queries are
// shared through the cache. The copy is shallow, which is safe because
// groups, atoms and filters are immutable after compilation.
func (q *Query) WithNameOnly() *Query {
	if q.NameOnly {
		return q
	}
	clone := *q
	clone.NameOnly = true
	return &clone
}

// Cacheable reports whether the compiled form is stable over time.
// Queries with clock-relative date filters (dm:today, dm:7d) are not.
func (q *Query) Cacheable() bool {
	return !q.relative
}

// Match reports whether the record satisfies every group, no NOT atom,
// and the filter set.
func (q *Query) Match(f *store.IndexedFile) bool {
	for _, g := range q.Groups {
		if !g.matchFile(f, q.NameOnly) {
			return false
		}
	}
	for _, n := range q.Not {
		if n.matchFile(f, q.NameOnly) {
			return false
		}
	}
	return q.Filters.Match(f)
}
