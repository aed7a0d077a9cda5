package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/driveseek/driveseek/internal/store"
)

// resultBuffer is the channel capacity between the walker and the
// consumer. Large enough to ride out short indexing stalls without
// blocking the walk.
const resultBuffer = 256

// Scanner streams filesystem metadata from a drive root.
type Scanner struct {
	opts Options
}

// New creates a Scanner with the given walk options.
func New(opts Options) *Scanner {
	return &Scanner{opts: opts}
}

// Scan walks root and streams one Result per discovered entry. The
// channel is closed when the walk completes. The root is validated up
// front: a missing, unreadable or non-directory root fails the scan
// instead of producing an empty stream. The root itself is not
// reported as an entry.
func (s *Scanner) Scan(ctx context.Context, root string) (<-chan Result, error) {
	absRoot, err := validateDir(root)
	if err != nil {
		return nil, err
	}
	return s.stream(ctx, absRoot, absRoot), nil
}

// ScanSubtree walks dir, which must lie under root, streaming entries
// the way Scan would have reported them: relative exclude patterns and
// the depth limit are applied against root, not dir, and dir itself is
// reported. The watcher uses this to index a directory that appeared
// in one filesystem event.
func (s *Scanner) ScanSubtree(ctx context.Context, root, dir string) (<-chan Result, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	absDir, err := validateDir(dir)
	if err != nil {
		return nil, err
	}
	if absDir != absRoot && !strings.HasPrefix(absDir, absRoot+string(filepath.Separator)) {
		return nil, fmt.Errorf("%s is outside drive root %s", absDir, absRoot)
	}
	return s.stream(ctx, absDir, absRoot), nil
}

// validateDir resolves p and confirms it is a readable directory. The
// readability probe keeps an unreadable start from surfacing as a lone
// walk error deep in the stream.
func validateDir(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("root is not a directory: %s", abs)
	}

	f, err := os.Open(abs)
	if err != nil {
		return "", fmt.Errorf("open root: %w", err)
	}
	f.Close()
	return abs, nil
}

func (s *Scanner) stream(ctx context.Context, start, absRoot string) <-chan Result {
	results := make(chan Result, resultBuffer)

	go func() {
		defer close(results)
		s.walk(ctx, start, absRoot, results)
	}()

	return results
}

// walk performs the traversal from start, sending entries and
// per-entry errors on results until the tree is exhausted or ctx ends.
// Relative paths are computed against absRoot.
func (s *Scanner) walk(ctx context.Context, start, absRoot string, results chan<- Result) {
	err := filepath.WalkDir(start, func(p string, d fs.DirEntry, walkErr error) error {
		// Check cancellation between entries
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if walkErr != nil {
			s.send(ctx, results, Result{Err: fmt.Errorf("walk %s: %w", p, walkErr)})
			return nil
		}

		if p == absRoot {
			return nil
		}

		rel, err := filepath.Rel(absRoot, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		base := d.Name()

		if s.opts.SkipHidden && strings.HasPrefix(base, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if s.excluded(base, rel, p) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 && !s.opts.FollowSymlinks {
			return nil
		}

		entry, err := s.entry(p, base, d)
		if err != nil {
			s.send(ctx, results, Result{Err: err})
			return nil
		}

		if !s.send(ctx, results, Result{Entry: entry}) {
			return ctx.Err()
		}

		if d.IsDir() && s.atMaxDepth(rel) {
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil && ctx.Err() == nil {
		s.send(ctx, results, Result{Err: err})
	}
}

// entry builds the RawEntry for one directory entry. Symlinks reaching
// this point have FollowSymlinks on and are resolved to their target.
func (s *Scanner) entry(p, base string, d fs.DirEntry) (store.RawEntry, error) {
	var (
		info os.FileInfo
		err  error
	)
	if d.Type()&fs.ModeSymlink != 0 {
		info, err = os.Stat(p)
	} else {
		info, err = d.Info()
	}
	if err != nil {
		return store.RawEntry{}, fmt.Errorf("stat %s: %w", p, err)
	}

	e := store.RawEntry{
		Path:  p,
		Name:  base,
		MTime: info.ModTime(),
		IsDir: info.IsDir(),
		Attr:  AttrFor(base, info.Mode()),
	}
	if !e.IsDir {
		e.Size = info.Size()
	}
	return e, nil
}

// send delivers r unless ctx ends first.
func (s *Scanner) send(ctx context.Context, results chan<- Result, r Result) bool {
	select {
	case results <- r:
		return true
	case <-ctx.Done():
		return false
	}
}

// atMaxDepth reports whether a directory at rel sits on the depth
// limit and must not be descended.
func (s *Scanner) atMaxDepth(rel string) bool {
	if s.opts.MaxDepth <= 0 {
		return false
	}
	return strings.Count(rel, "/")+1 >= s.opts.MaxDepth
}

// excluded reports whether any exclude pattern matches the entry.
func (s *Scanner) excluded(base, rel, abs string) bool {
	for _, pat := range s.opts.Excludes {
		if matchPattern(pat, base, rel, abs) {
			return true
		}
	}
	return false
}

// matchPattern applies one exclude pattern: absolute patterns are
// prefix matches on the full path, wildcard patterns glob against the
// base name and the root-relative path, plain patterns match either
// exactly.
func matchPattern(pat, base, rel, abs string) bool {
	if strings.HasPrefix(pat, "/") {
		return abs == pat || strings.HasPrefix(abs, pat+"/")
	}
	if strings.ContainsAny(pat, "*?[") {
		if ok, _ := path.Match(pat, base); ok {
			return true
		}
		if ok, _ := path.Match(pat, rel); ok {
			return true
		}
		return false
	}
	return base == pat || rel == pat
}

// AttrFor derives the attribute mask for an entry: dot-prefixed names
// are hidden, entries without an owner write bit are readonly. The
// delta feeder shares this derivation so watched changes carry the
// same attributes a full scan would assign.
func AttrFor(base string, mode fs.FileMode) store.AttrMask {
	var attr store.AttrMask
	if strings.HasPrefix(base, ".") {
		attr |= store.AttrHidden
	}
	if mode.Perm()&0o200 == 0 {
		attr |= store.AttrReadOnly
	}
	return attr
}
