// Package scanner walks drive roots and streams raw filesystem entries
// to the index builder. Unreadable subdirectories degrade to per-entry
// errors so one bad branch never aborts a build, and cancellation is
// honored between entries.
package scanner

import (
	"path/filepath"
	"strings"

	"github.com/driveseek/driveseek/internal/store"
)

// Options configures a walk.
type Options struct {
	// Excludes lists patterns skipped during the walk. Absolute
	// patterns ("/proc") are path prefix matches. Patterns containing
	// wildcards (".Trash-*") glob against the base name and the
	// root-relative path. Plain patterns ("lost+found") match either
	// exactly.
	Excludes []string

	// SkipHidden leaves dot-prefixed files and directories out of the
	// stream entirely, subtree included.
	SkipHidden bool

	// FollowSymlinks reports symlinked entries with their target's
	// metadata. Off by default; symlinked directories are never
	// descended either way.
	FollowSymlinks bool

	// MaxDepth limits how deep the walk descends below the root.
	// Zero means unlimited; 1 visits only the root's direct children.
	MaxDepth int
}

// Skips reports whether the entry at abs, under the drive root, would
// be left out of a scan with these options. Every ancestor component
// is tested, since an event inside an excluded directory arrives
// without the walk-time pruning that would have hidden it.
func (o Options) Skips(root, abs string) bool {
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return true
	}
	rel = filepath.ToSlash(rel)

	parts := strings.Split(rel, "/")
	if o.MaxDepth > 0 && len(parts) > o.MaxDepth {
		return true
	}
	for i, base := range parts {
		if o.SkipHidden && strings.HasPrefix(base, ".") {
			return true
		}
		sub := strings.Join(parts[:i+1], "/")
		absSub := filepath.Join(root, filepath.FromSlash(sub))
		for _, pat := range o.Excludes {
			if matchPattern(pat, base, sub, absSub) {
				return true
			}
		}
	}
	return false
}

// Result is one walk outcome: a filesystem entry, or the error that
// kept an entry out of the stream.
type Result struct {
	Entry store.RawEntry
	Err   error
}
