package search

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/driveseek/driveseek/internal/query"
	"github.com/driveseek/driveseek/internal/store"
)

func collectAll(ds *store.DriveStore, q *query.Query) []store.IndexedFile {
	results, _ := NewExecutor(ds, 0).Collect(q)
	return results
}

func TestRankResults_ClassOrdering(t *testing.T) {
	// Given: one match of each quality class, inserted worst-first:
	// a path-only hit, a name that contains the term, a prefix, an
	// exact name
	ds := newFixtureStore(
		entry("/mnt/data/report/notes.txt", 1),
		entry("/mnt/data/annual_report.pdf", 2),
		entry("/mnt/data/report_2024.xlsx", 3),
		entry("/mnt/data/report", 4),
	)
	q := query.Compile("report")
	results := collectAll(ds, q)

	// When: ranked for presentation
	RankResults(q, results)

	// Then: exact, prefix, contains, path-only
	assert.Equal(t, []string{
		"/mnt/data/report",
		"/mnt/data/report_2024.xlsx",
		"/mnt/data/annual_report.pdf",
		"/mnt/data/report/notes.txt",
	}, resultPaths(results))
}

func TestRankResults_TieBreaksOnMatchPosition(t *testing.T) {
	ds := newFixtureStore(
		entry("/mnt/data/passport.txt", 1), // "port" at index 4
		entry("/mnt/data/reported.txt", 2), // "port" at index 2
	)
	q := query.Compile("port")
	results := collectAll(ds, q)

	RankResults(q, results)

	assert.Equal(t, []string{
		"/mnt/data/reported.txt",
		"/mnt/data/passport.txt",
	}, resultPaths(results))
}

func TestRankResults_TieBreaksOnNameLength(t *testing.T) {
	ds := newFixtureStore(
		entry("/mnt/data/report_archive.txt", 1),
		entry("/mnt/data/report.txt", 2),
	)
	q := query.Compile("report")
	results := collectAll(ds, q)

	RankResults(q, results)

	assert.Equal(t, []string{
		"/mnt/data/report.txt",
		"/mnt/data/report_archive.txt",
	}, resultPaths(results))
}

func TestRankResults_TieBreaksOnPathDepth(t *testing.T) {
	ds := newFixtureStore(
		entry("/mnt/data/archive/2023/report.txt", 1),
		entry("/mnt/data/report.txt", 2),
	)
	q := query.Compile("report")
	results := collectAll(ds, q)

	RankResults(q, results)

	assert.Equal(t, []string{
		"/mnt/data/report.txt",
		"/mnt/data/archive/2023/report.txt",
	}, resultPaths(results))
}

func TestRankResults_WildcardRanksNameMatches(t *testing.T) {
	ds := newFixtureStore(
		entry("/mnt/data/logs/readme.md", 1), // only the path matches
		entry("/mnt/data/logo.png", 2),
	)
	q := query.Compile("log?")
	results := collectAll(ds, q)

	RankResults(q, results)

	assert.Equal(t, []string{
		"/mnt/data/logo.png",
		"/mnt/data/logs/readme.md",
	}, resultPaths(results))
}

func TestRankResults_FilterOnlyQueryKeepsIndexOrder(t *testing.T) {
	ds := newFixtureStore(
		entry("/mnt/data/zzz.pdf", 1),
		entry("/mnt/data/aaa.pdf", 2),
	)
	q := query.Compile("ext:pdf")
	results := collectAll(ds, q)

	RankResults(q, results)

	assert.Equal(t, []string{
		"/mnt/data/zzz.pdf",
		"/mnt/data/aaa.pdf",
	}, resultPaths(results))
}

func TestRankResults_CaseInsensitive(t *testing.T) {
	ds := newFixtureStore(
		entry("/mnt/data/Notes_README.txt", 1),
		entry("/mnt/data/README", 2),
	)
	q := query.Compile("readme")
	results := collectAll(ds, q)

	RankResults(q, results)

	assert.Equal(t, []string{
		"/mnt/data/README",
		"/mnt/data/Notes_README.txt",
	}, resultPaths(results))
}
