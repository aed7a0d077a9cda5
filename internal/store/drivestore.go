package store

import (
	"strings"
	"sync"
	"time"
)

// DriveStore holds the indexed records of one drive generation. Readers
// take the read lock per call; the watcher's delta path takes the write
// lock. A rebuild never mutates a published store, it produces a new one.
type DriveStore struct {
	mu sync.RWMutex

	root       string
	generation uint64
	builtAt    time.Time

	// records is append-only; alive tracks which ids are current.
	// Removed ids stay as tombstones until the next full rebuild.
	records []IndexedFile
	alive   *IDSet

	byPath   map[string]RecordID
	names    map[string]*IDSet
	exts     map[string]*IDSet
	trigrams *trigramIndex

	files     int
	dirs      int
	totalSize int64
}

// NewDriveStore creates an empty store for one drive generation.
func NewDriveStore(root string, generation uint64) *DriveStore {
	return &DriveStore{
		root:       root,
		generation: generation,
		builtAt:    time.Now(),
		alive:      NewIDSet(),
		byPath:     make(map[string]RecordID),
		names:      make(map[string]*IDSet),
		exts:       make(map[string]*IDSet),
		trigrams:   newTrigramIndex(),
	}
}

// Root returns the drive root this store indexes.
func (d *DriveStore) Root() string {
	return d.root
}

// Generation returns the generation number.
func (d *DriveStore) Generation() uint64 {
	return d.generation
}

// SetBuiltAt overrides the build timestamp. Used when restoring a
// persisted generation.
func (d *DriveStore) SetBuiltAt(t time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.builtAt = t
}

// Add indexes one entry and returns its record id. Adding a path that is
// already indexed updates it: metadata-only changes are applied in place,
// anything else tombstones the old record and appends a fresh one.
func (d *DriveStore) Add(e RawEntry) RecordID {
	d.mu.Lock()
	defer d.mu.Unlock()

	if id, ok := d.byPath[e.Path]; ok {
		old := &d.records[id]
		if old.Name == e.Name && old.IsDir == e.IsDir {
			// Same entry, refreshed metadata
			d.totalSize += e.Size - old.Size
			old.Size = e.Size
			old.MTime = e.MTime
			old.Attr = e.Attr
			return id
		}
		d.removeLocked(id)
	}

	rec := newRecord(e)
	id := RecordID(len(d.records))
	d.records = append(d.records, rec)
	d.alive.Add(id)
	d.byPath[rec.Path] = id

	nameSet, ok := d.names[rec.NameLower]
	if !ok {
		nameSet = NewIDSet()
		d.names[rec.NameLower] = nameSet
	}
	nameSet.Add(id)

	if !rec.IsDir && rec.Ext != "" {
		extSet, ok := d.exts[rec.Ext]
		if !ok {
			extSet = NewIDSet()
			d.exts[rec.Ext] = extSet
		}
		extSet.Add(id)
	}

	d.trigrams.add(rec.NameLower, id)

	if rec.IsDir {
		d.dirs++
	} else {
		d.files++
	}
	d.totalSize += rec.Size
	return id
}

// Remove drops the record for path. Returns false when the path is not
// indexed.
func (d *DriveStore) Remove(path string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	id, ok := d.byPath[path]
	if !ok {
		return false
	}
	d.removeLocked(id)
	return true
}

// RemoveID drops a record by its id. Stale ids (out of range or
// already removed) are ignored. Returns true if a live record died.
func (d *DriveStore) RemoveID(id RecordID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if int(id) >= len(d.records) || !d.alive.Contains(id) {
		return false
	}
	d.removeLocked(id)
	return true
}

// RemoveTree drops the record for dir and every record underneath it.
// Returns how many records were removed. Needed because a deleted
// directory produces a single filesystem event for the whole subtree.
func (d *DriveStore) RemoveTree(dir string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	dir = strings.TrimRight(dir, "/")
	prefix := dir + "/"
	var doomed []RecordID
	if id, ok := d.byPath[dir]; ok {
		doomed = append(doomed, id)
	}
	for path, id := range d.byPath {
		if strings.HasPrefix(path, prefix) {
			doomed = append(doomed, id)
		}
	}
	for _, id := range doomed {
		d.removeLocked(id)
	}
	return len(doomed)
}

func (d *DriveStore) removeLocked(id RecordID) {
	rec := &d.records[id]

	d.alive.Remove(id)
	delete(d.byPath, rec.Path)

	if set, ok := d.names[rec.NameLower]; ok {
		set.Remove(id)
		if set.IsEmpty() {
			delete(d.names, rec.NameLower)
		}
	}
	if rec.Ext != "" {
		if set, ok := d.exts[rec.Ext]; ok {
			set.Remove(id)
			if set.IsEmpty() {
				delete(d.exts, rec.Ext)
			}
		}
	}
	d.trigrams.remove(rec.NameLower, id)

	if rec.IsDir {
		d.dirs--
	} else {
		d.files--
	}
	d.totalSize -= rec.Size
}

// Record returns a copy of the record for id, or ok=false when the id is
// out of range or removed.
func (d *DriveStore) Record(id RecordID) (IndexedFile, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if int(id) >= len(d.records) || !d.alive.Contains(id) {
		return IndexedFile{}, false
	}
	return d.records[id], true
}

// IDForPath returns the record id currently indexed for path.
func (d *DriveStore) IDForPath(path string) (RecordID, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	id, ok := d.byPath[path]
	return id, ok
}

// IDsUnder returns the ids of the record at path and every live record
// beneath it. A deleted path cannot be stat'ed anymore, so this is how
// a deletion event resolves to record ids whether it named a file or a
// whole subtree.
func (d *DriveStore) IDsUnder(path string) []RecordID {
	d.mu.RLock()
	defer d.mu.RUnlock()

	path = strings.TrimRight(path, "/")
	prefix := path + "/"
	var ids []RecordID
	if id, ok := d.byPath[path]; ok {
		ids = append(ids, id)
	}
	for p, id := range d.byPath {
		if strings.HasPrefix(p, prefix) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Len returns the number of live records.
func (d *DriveStore) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.alive.Len()
}

// AllIDs returns a copy of the live id set.
func (d *DriveStore) AllIDs() *IDSet {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.alive.Clone()
}

// IDsWithName returns a copy of the ids whose lowercase name equals
// nameLower exactly. Exact-name hits are surfaced first in results.
func (d *DriveStore) IDsWithName(nameLower string) *IDSet {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if set, ok := d.names[nameLower]; ok {
		return set.Clone()
	}
	return NewIDSet()
}

// IDsWithExt returns a copy of the ids with the given lowercase
// extension (no dot).
func (d *DriveStore) IDsWithExt(ext string) *IDSet {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if set, ok := d.exts[ext]; ok {
		return set.Clone()
	}
	return NewIDSet()
}

// CandidatesFor returns the ids whose name can contain termLower,
// answered from the trigram index. ok=false means the term is too short
// for the index and the caller has to scan.
func (d *DriveStore) CandidatesFor(termLower string) (*IDSet, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.trigrams.candidates(termLower)
}

// Collect scans ids in ascending order under one read lock and returns
// up to limit records for which keep returns true. Ids that were removed
// since the candidate set was built are skipped. A nil ids scans every
// live record.
func (d *DriveStore) Collect(ids *IDSet, keep func(*IndexedFile) bool, limit int) []IndexedFile {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if ids == nil {
		ids = d.alive
	}

	var out []IndexedFile
	ids.Iterate(func(id RecordID) bool {
		if int(id) >= len(d.records) || !d.alive.Contains(id) {
			return true
		}
		rec := &d.records[id]
		if keep == nil || keep(rec) {
			out = append(out, *rec)
			if limit > 0 && len(out) >= limit {
				return false
			}
		}
		return true
	})
	return out
}

// Count scans like Collect but only counts matches, without a limit.
func (d *DriveStore) Count(ids *IDSet, keep func(*IndexedFile) bool) int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if ids == nil {
		ids = d.alive
	}

	n := 0
	ids.Iterate(func(id RecordID) bool {
		if int(id) >= len(d.records) || !d.alive.Contains(id) {
			return true
		}
		if keep == nil || keep(&d.records[id]) {
			n++
		}
		return true
	})
	return n
}

// ForEach calls fn for every live record in id order until fn returns
// false. Used by snapshot persistence.
func (d *DriveStore) ForEach(fn func(id RecordID, rec *IndexedFile) bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	d.alive.Iterate(func(id RecordID) bool {
		return fn(id, &d.records[id])
	})
}

// Stats returns a snapshot of the store's counters.
func (d *DriveStore) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return Stats{
		Root:       d.root,
		Generation: d.generation,
		Files:      d.files,
		Dirs:       d.dirs,
		TotalSize:  d.totalSize,
		Trigrams:   d.trigrams.size(),
		BuiltAt:    d.builtAt,
	}
}
