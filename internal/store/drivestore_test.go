package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileEntry(path, name string, size int64) RawEntry {
	return RawEntry{
		Path:  path,
		Name:  name,
		Size:  size,
		MTime: time.Date(2024, 12, 10, 12, 0, 0, 0, time.UTC),
	}
}

func dirEntry(path, name string) RawEntry {
	return RawEntry{
		Path:  path,
		Name:  name,
		MTime: time.Date(2024, 12, 10, 12, 0, 0, 0, time.UTC),
		IsDir: true,
	}
}

// ============================================================================
// Record basics
// ============================================================================

func TestExtOf(t *testing.T) {
	tests := []struct {
		name     string
		expected string
	}{
		{"report.txt", "txt"},
		{"archive.tar.gz", "gz"},
		{"README", ""},
		{"photo.JPG", "jpg"},
		{".bashrc", ""},
		{"trailing.", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExtOf(tt.name))
		})
	}
}

func TestAttrMask(t *testing.T) {
	var none AttrMask
	assert.False(t, none.Has(AttrHidden))
	assert.Equal(t, "", none.String())

	h := AttrHidden
	assert.True(t, h.Has(AttrHidden))
	assert.False(t, h.Has(AttrReadOnly))
	assert.Equal(t, "h", h.String())

	hr := AttrHidden | AttrReadOnly
	assert.True(t, hr.Has(AttrReadOnly))
	assert.Equal(t, "hr", hr.String())
}

// ============================================================================
// Add / lookup
// ============================================================================

func TestDriveStore_AddAndRecord(t *testing.T) {
	// Given: an empty store for a drive root
	d := NewDriveStore("/mnt/data", 1)

	// When: adding a file
	id := d.Add(fileEntry("/mnt/data/docs/report.txt", "report.txt", 1024))

	// Then: the record is retrievable with precomputed lowercase fields
	rec, ok := d.Record(id)
	require.True(t, ok)
	assert.Equal(t, "report.txt", rec.Name)
	assert.Equal(t, "report.txt", rec.NameLower)
	assert.Equal(t, "/mnt/data/docs/report.txt", rec.Path)
	assert.Equal(t, "txt", rec.Ext)
	assert.Equal(t, int64(1024), rec.Size)
	assert.False(t, rec.IsDir)

	gotID, ok := d.IDForPath("/mnt/data/docs/report.txt")
	require.True(t, ok)
	assert.Equal(t, id, gotID)
	assert.Equal(t, 1, d.Len())
}

func TestDriveStore_LowercaseFieldsForMixedCase(t *testing.T) {
	d := NewDriveStore("/mnt/data", 1)

	id := d.Add(fileEntry("/mnt/data/Photos/IMG_001.JPG", "IMG_001.JPG", 2048))

	rec, ok := d.Record(id)
	require.True(t, ok)
	assert.Equal(t, "IMG_001.JPG", rec.Name)
	assert.Equal(t, "img_001.jpg", rec.NameLower)
	assert.Equal(t, "/mnt/data/photos/img_001.jpg", rec.PathLower)
	assert.Equal(t, "jpg", rec.Ext)
}

func TestDriveStore_AddSamePathRefreshesInPlace(t *testing.T) {
	// Given: a store with one file
	d := NewDriveStore("/mnt/data", 1)
	id := d.Add(fileEntry("/mnt/data/report.txt", "report.txt", 100))

	// When: the same path arrives again with new metadata
	later := fileEntry("/mnt/data/report.txt", "report.txt", 250)
	later.MTime = later.MTime.Add(time.Hour)
	id2 := d.Add(later)

	// Then: the record is updated in place, no new record appended
	assert.Equal(t, id, id2)
	assert.Equal(t, 1, d.Len())

	rec, ok := d.Record(id)
	require.True(t, ok)
	assert.Equal(t, int64(250), rec.Size)
	assert.Equal(t, later.MTime, rec.MTime)

	stats := d.Stats()
	assert.Equal(t, int64(250), stats.TotalSize)
}

func TestDriveStore_AddSamePathNewNameReplaces(t *testing.T) {
	// Given: a file at a path
	d := NewDriveStore("/mnt/data", 1)
	oldID := d.Add(fileEntry("/mnt/data/draft.txt", "draft.txt", 100))

	// When: the path is reused by a differently named entry
	newID := d.Add(fileEntry("/mnt/data/draft.txt", "Draft.TXT", 100))

	// Then: the old record is dead and the new one owns the path
	require.NotEqual(t, oldID, newID)
	_, ok := d.Record(oldID)
	assert.False(t, ok)

	rec, ok := d.Record(newID)
	require.True(t, ok)
	assert.Equal(t, "Draft.TXT", rec.Name)
	assert.Equal(t, 1, d.Len())
	assert.Empty(t, d.IDsWithName("draft.txt").Slice(), "old exact-name posting should not linger")
}

// ============================================================================
// Remove / RemoveTree
// ============================================================================

func TestDriveStore_Remove(t *testing.T) {
	// Given: two files
	d := NewDriveStore("/mnt/data", 1)
	id1 := d.Add(fileEntry("/mnt/data/report.txt", "report.txt", 100))
	d.Add(fileEntry("/mnt/data/notes.txt", "notes.txt", 50))

	// When: removing one
	removed := d.Remove("/mnt/data/report.txt")

	// Then: it is gone from every index
	assert.True(t, removed)
	assert.Equal(t, 1, d.Len())

	_, ok := d.Record(id1)
	assert.False(t, ok)
	_, ok = d.IDForPath("/mnt/data/report.txt")
	assert.False(t, ok)
	assert.True(t, d.IDsWithName("report.txt").IsEmpty())

	cands, ok := d.CandidatesFor("report")
	require.True(t, ok)
	assert.True(t, cands.IsEmpty())

	stats := d.Stats()
	assert.Equal(t, 1, stats.Files)
	assert.Equal(t, int64(50), stats.TotalSize)
}

func TestDriveStore_RemoveUnknownPath(t *testing.T) {
	d := NewDriveStore("/mnt/data", 1)

	assert.False(t, d.Remove("/mnt/data/ghost.txt"))
}

func TestDriveStore_RemoveID(t *testing.T) {
	d := NewDriveStore("/mnt/data", 1)
	id := d.Add(fileEntry("/mnt/data/report.txt", "report.txt", 100))

	assert.True(t, d.RemoveID(id))
	assert.Equal(t, 0, d.Len())

	// Stale and out-of-range ids are no-ops.
	assert.False(t, d.RemoveID(id))
	assert.False(t, d.RemoveID(RecordID(999)))
}

func TestDriveStore_RemoveTree(t *testing.T) {
	// Given: a directory with nested entries plus an unrelated sibling
	d := NewDriveStore("/mnt/data", 1)
	d.Add(dirEntry("/mnt/data/old", "old"))
	d.Add(fileEntry("/mnt/data/old/a.txt", "a.txt", 10))
	d.Add(fileEntry("/mnt/data/old/sub/b.txt", "b.txt", 20))
	d.Add(dirEntry("/mnt/data/old/sub", "sub"))
	d.Add(fileEntry("/mnt/data/older.txt", "older.txt", 30))

	// When: the directory is deleted
	n := d.RemoveTree("/mnt/data/old")

	// Then: the directory and its descendants are gone, the sibling with
	// the shared prefix survives
	assert.Equal(t, 4, n)
	assert.Equal(t, 1, d.Len())

	_, ok := d.IDForPath("/mnt/data/older.txt")
	assert.True(t, ok)
	_, ok = d.IDForPath("/mnt/data/old/sub/b.txt")
	assert.False(t, ok)
}

func TestDriveStore_RemoveTreeTrailingSlash(t *testing.T) {
	d := NewDriveStore("/mnt/data", 1)
	d.Add(dirEntry("/mnt/data/old", "old"))
	d.Add(fileEntry("/mnt/data/old/a.txt", "a.txt", 10))

	n := d.RemoveTree("/mnt/data/old/")

	assert.Equal(t, 2, n)
	assert.Equal(t, 0, d.Len())
}

func TestDriveStore_IDsUnder(t *testing.T) {
	d := NewDriveStore("/mnt/data", 1)
	dirID := d.Add(dirEntry("/mnt/data/old", "old"))
	aID := d.Add(fileEntry("/mnt/data/old/a.txt", "a.txt", 10))
	bID := d.Add(fileEntry("/mnt/data/old/sub/b.txt", "b.txt", 20))
	fileID := d.Add(fileEntry("/mnt/data/older.txt", "older.txt", 30))

	// A directory path resolves to itself plus descendants, but not to
	// a sibling sharing the name prefix.
	assert.ElementsMatch(t, []RecordID{dirID, aID, bID}, d.IDsUnder("/mnt/data/old"))

	// A file path resolves to exactly that record.
	assert.Equal(t, []RecordID{fileID}, d.IDsUnder("/mnt/data/older.txt"))

	// Unindexed paths resolve to nothing.
	assert.Empty(t, d.IDsUnder("/mnt/data/ghost"))

	// Resolution is read-only.
	assert.Equal(t, 4, d.Len())
}

// ============================================================================
// Name / extension lookups
// ============================================================================

func TestDriveStore_IDsWithName(t *testing.T) {
	// Given: two files sharing a lowercase name and one that differs
	d := NewDriveStore("/mnt/data", 1)
	id1 := d.Add(fileEntry("/mnt/data/a/README.md", "README.md", 10))
	id2 := d.Add(fileEntry("/mnt/data/b/readme.md", "readme.md", 20))
	d.Add(fileEntry("/mnt/data/readme.txt", "readme.txt", 30))

	// When: looking up the shared name
	got := d.IDsWithName("readme.md")

	// Then: both case variants match
	assert.ElementsMatch(t, []RecordID{id1, id2}, got.Slice())

	// And: mutating the returned set does not corrupt the store
	got.Add(999)
	assert.Equal(t, 2, d.IDsWithName("readme.md").Len())
}

func TestDriveStore_IDsWithExt(t *testing.T) {
	d := NewDriveStore("/mnt/data", 1)
	id1 := d.Add(fileEntry("/mnt/data/photo.jpg", "photo.jpg", 10))
	id2 := d.Add(fileEntry("/mnt/data/shot.JPG", "shot.JPG", 20))
	d.Add(fileEntry("/mnt/data/clip.png", "clip.png", 30))
	d.Add(dirEntry("/mnt/data/album.jpg", "album.jpg"))

	got := d.IDsWithExt("jpg")

	// Directories never join extension postings
	assert.ElementsMatch(t, []RecordID{id1, id2}, got.Slice())
	assert.True(t, d.IDsWithExt("gif").IsEmpty())
}

// ============================================================================
// Collect / Count
// ============================================================================

func TestDriveStore_CollectVerifiesCandidates(t *testing.T) {
	// Given: candidate ids wider than the true matches
	d := NewDriveStore("/mnt/data", 1)
	d.Add(fileEntry("/mnt/data/report.txt", "report.txt", 10))
	d.Add(fileEntry("/mnt/data/notes.txt", "notes.txt", 20))
	d.Add(fileEntry("/mnt/data/report.doc", "report.doc", 30))

	cands, ok := d.CandidatesFor("report")
	require.True(t, ok)

	// When: collecting with a verification predicate
	got := d.Collect(cands, func(f *IndexedFile) bool {
		return f.Ext == "txt"
	}, 0)

	// Then: only verified records come back
	require.Len(t, got, 1)
	assert.Equal(t, "report.txt", got[0].Name)
}

func TestDriveStore_CollectNilScansEverything(t *testing.T) {
	d := NewDriveStore("/mnt/data", 1)
	for i := 0; i < 5; i++ {
		d.Add(fileEntry(fmt.Sprintf("/mnt/data/f%d.txt", i), fmt.Sprintf("f%d.txt", i), 10))
	}
	d.Remove("/mnt/data/f2.txt")

	got := d.Collect(nil, func(*IndexedFile) bool { return true }, 0)

	assert.Len(t, got, 4, "removed records are skipped")
}

func TestDriveStore_CollectHonorsLimit(t *testing.T) {
	d := NewDriveStore("/mnt/data", 1)
	for i := 0; i < 10; i++ {
		d.Add(fileEntry(fmt.Sprintf("/mnt/data/f%d.txt", i), fmt.Sprintf("f%d.txt", i), 10))
	}

	got := d.Collect(nil, func(*IndexedFile) bool { return true }, 3)

	assert.Len(t, got, 3)
}

func TestDriveStore_CollectSkipsStaleCandidateIDs(t *testing.T) {
	// Given: a candidate set captured before a removal
	d := NewDriveStore("/mnt/data", 1)
	d.Add(fileEntry("/mnt/data/report.txt", "report.txt", 10))
	d.Add(fileEntry("/mnt/data/report.doc", "report.doc", 20))
	cands, ok := d.CandidatesFor("report")
	require.True(t, ok)
	d.Remove("/mnt/data/report.txt")

	// When: collecting with the stale set
	got := d.Collect(cands, func(*IndexedFile) bool { return true }, 0)

	// Then: the removed record does not resurface
	require.Len(t, got, 1)
	assert.Equal(t, "report.doc", got[0].Name)
}

func TestDriveStore_Count(t *testing.T) {
	d := NewDriveStore("/mnt/data", 1)
	d.Add(fileEntry("/mnt/data/a.txt", "a.txt", 10))
	d.Add(fileEntry("/mnt/data/b.txt", "b.txt", 20))
	d.Add(dirEntry("/mnt/data/sub", "sub"))

	n := d.Count(nil, func(f *IndexedFile) bool { return !f.IsDir })

	assert.Equal(t, 2, n)
}

// ============================================================================
// Stats / iteration
// ============================================================================

func TestDriveStore_Stats(t *testing.T) {
	d := NewDriveStore("/mnt/data", 3)
	d.Add(fileEntry("/mnt/data/a.txt", "a.txt", 100))
	d.Add(fileEntry("/mnt/data/b.log", "b.log", 200))
	d.Add(dirEntry("/mnt/data/sub", "sub"))

	stats := d.Stats()

	assert.Equal(t, "/mnt/data", stats.Root)
	assert.Equal(t, uint64(3), stats.Generation)
	assert.Equal(t, 2, stats.Files)
	assert.Equal(t, 1, stats.Dirs)
	assert.Equal(t, int64(300), stats.TotalSize)
	assert.Greater(t, stats.Trigrams, 0)
	assert.False(t, stats.BuiltAt.IsZero())
}

func TestDriveStore_ForEachStopsEarly(t *testing.T) {
	d := NewDriveStore("/mnt/data", 1)
	for i := 0; i < 5; i++ {
		d.Add(fileEntry(fmt.Sprintf("/mnt/data/f%d.txt", i), fmt.Sprintf("f%d.txt", i), 10))
	}

	var seen int
	d.ForEach(func(id RecordID, f *IndexedFile) bool {
		seen++
		return seen < 3
	})

	assert.Equal(t, 3, seen)
}

func TestDriveStore_AllIDsIsACopy(t *testing.T) {
	d := NewDriveStore("/mnt/data", 1)
	d.Add(fileEntry("/mnt/data/a.txt", "a.txt", 10))

	ids := d.AllIDs()
	ids.Add(500)

	assert.Equal(t, 1, d.AllIDs().Len())
}
