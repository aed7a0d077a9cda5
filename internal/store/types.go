// Package store provides the per-drive metadata index: a dense record
// array with name, extension and trigram indexes over it. One DriveStore
// is one immutable-ish generation; rebuilds produce a fresh store.
package store

import (
	"path/filepath"
	"strings"
	"time"
)

// RecordID identifies a file within one generation. IDs are dense append
// order and are only meaningful inside the generation that produced them.
type RecordID = uint32

// AttrMask is a bitset of filesystem attributes.
type AttrMask uint8

const (
	// AttrHidden marks dotfiles and files flagged hidden.
	AttrHidden AttrMask = 1 << iota
	// AttrReadOnly marks files without a write bit.
	AttrReadOnly
)

// Has reports whether all attributes in want are set.
func (a AttrMask) Has(want AttrMask) bool {
	return a&want == want
}

// String renders the mask in attrib: letter form ("h", "r", "hr").
func (a AttrMask) String() string {
	var b strings.Builder
	if a.Has(AttrHidden) {
		b.WriteByte('h')
	}
	if a.Has(AttrReadOnly) {
		b.WriteByte('r')
	}
	return b.String()
}

// RawEntry is what the filesystem scanner emits for one directory entry.
type RawEntry struct {
	Path  string // absolute path
	Name  string // base name
	Size  int64
	MTime time.Time
	IsDir bool
	Attr  AttrMask
}

// IndexedFile is one indexed record. NameLower and PathLower are stored
// so match verification never re-lowercases on the query path.
type IndexedFile struct {
	Name      string
	NameLower string
	Path      string
	PathLower string
	Ext       string // lowercase, no dot, empty for directories
	Size      int64
	MTime     time.Time
	IsDir     bool
	Attr      AttrMask
}

// newRecord builds an IndexedFile from a scanner entry.
func newRecord(e RawEntry) IndexedFile {
	rec := IndexedFile{
		Name:      e.Name,
		NameLower: strings.ToLower(e.Name),
		Path:      e.Path,
		PathLower: strings.ToLower(e.Path),
		Size:      e.Size,
		MTime:     e.MTime,
		IsDir:     e.IsDir,
		Attr:      e.Attr,
	}
	if !e.IsDir {
		rec.Ext = ExtOf(e.Name)
	}
	return rec
}

// ExtOf returns the lowercase extension of a name without the leading dot.
// Dotfiles like ".bashrc" have no extension.
func ExtOf(name string) string {
	ext := filepath.Ext(name)
	if ext == "" || ext == name {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// Stats summarizes one drive store generation.
type Stats struct {
	Root       string
	Generation uint64
	Files      int
	Dirs       int
	TotalSize  int64
	Trigrams   int
	BuiltAt    time.Time
}
