package search

import (
	"sort"
	"strings"

	"github.com/driveseek/driveseek/internal/query"
	"github.com/driveseek/driveseek/internal/store"
)

// Match-quality classes, best first.
const (
	rankExact = iota
	rankPrefix
	rankNameContains
	rankPathOnly
)

type rankKey struct {
	class   int
	pos     int
	nameLen int
	depth   int
}

type rankedFile struct {
	key  rankKey
	file store.IndexedFile
}

// RankResults reorders results for presentation: exact name matches,
// then name prefixes, then other name hits, then records that matched
// only through their path. Ties break on match position, name length,
// path depth and finally name. Queries without keywords keep index
// order. The executor's insertion-order contract is untouched; this
// runs on the collected copy.
func RankResults(q *query.Query, results []store.IndexedFile) {
	if len(q.Groups) == 0 || len(results) < 2 {
		return
	}

	ranked := make([]rankedFile, len(results))
	for i, f := range results {
		ranked[i] = rankedFile{key: rankOf(q, &f), file: f}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := &ranked[i], &ranked[j]
		if a.key.class != b.key.class {
			return a.key.class < b.key.class
		}
		if a.key.pos != b.key.pos {
			return a.key.pos < b.key.pos
		}
		if a.key.nameLen != b.key.nameLen {
			return a.key.nameLen < b.key.nameLen
		}
		if a.key.depth != b.key.depth {
			return a.key.depth < b.key.depth
		}
		if a.file.NameLower != b.file.NameLower {
			return a.file.NameLower < b.file.NameLower
		}
		return a.file.PathLower < b.file.PathLower
	})

	for i := range ranked {
		results[i] = ranked[i].file
	}
}

// rankOf scores one record: the best class and position any keyword
// atom achieves against the name.
func rankOf(q *query.Query, f *store.IndexedFile) rankKey {
	key := rankKey{
		class:   rankPathOnly,
		pos:     len(f.NameLower),
		nameLen: len(f.NameLower),
		depth:   strings.Count(f.PathLower, "/"),
	}
	for _, g := range q.Groups {
		for _, a := range g {
			class, pos := atomRank(a, f.NameLower)
			if class < key.class || (class == key.class && pos < key.pos) {
				key.class = class
				key.pos = pos
			}
		}
	}
	return key
}

func atomRank(a query.Atom, nameLower string) (class, pos int) {
	if a.Wildcard {
		if a.MatchString(nameLower) {
			return rankNameContains, 0
		}
		return rankPathOnly, 0
	}
	idx := strings.Index(nameLower, a.Text)
	if idx < 0 {
		return rankPathOnly, 0
	}
	if nameLower == a.Text {
		return rankExact, 0
	}
	if idx == 0 {
		return rankPrefix, 0
	}
	return rankNameContains, idx
}
