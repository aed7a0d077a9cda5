package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driveseek/driveseek/internal/store"
)

// writeTree materializes a path->content fixture under root.
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for p, content := range files {
		full := filepath.Join(root, p)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
}

// collect drains the result channel into entries keyed by base name.
func collect(t *testing.T, results <-chan Result) (map[string]store.RawEntry, []error) {
	t.Helper()
	entries := make(map[string]store.RawEntry)
	var errs []error
	for r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
			continue
		}
		entries[r.Entry.Name] = r.Entry
	}
	return entries, errs
}

func scan(t *testing.T, root string, opts Options) (map[string]store.RawEntry, []error) {
	t.Helper()
	results, err := New(opts).Scan(context.Background(), root)
	require.NoError(t, err)
	return collect(t, results)
}

func TestScanner_StreamsAllEntries(t *testing.T) {
	tmpDir := t.TempDir()
	writeTree(t, tmpDir, map[string]string{
		"report.txt":          "quarterly numbers",
		"photos/beach.jpg":    "jpegdata",
		"photos/raw/img.cr2":  "rawdata",
		"music/playlist.m3u8": "#EXTM3U",
	})

	entries, errs := scan(t, tmpDir, Options{})
	assert.Empty(t, errs)

	// 4 files plus the photos, photos/raw and music directories.
	assert.Len(t, entries, 7)

	report := entries["report.txt"]
	assert.Equal(t, filepath.Join(tmpDir, "report.txt"), report.Path)
	assert.Equal(t, int64(len("quarterly numbers")), report.Size)
	assert.False(t, report.IsDir)
	assert.False(t, report.MTime.IsZero())
	assert.Equal(t, store.AttrMask(0), report.Attr)

	photos := entries["photos"]
	assert.True(t, photos.IsDir)
	assert.Zero(t, photos.Size)
}

func TestScanner_RootNotReported(t *testing.T) {
	tmpDir := t.TempDir()
	writeTree(t, tmpDir, map[string]string{"a.txt": "a"})

	entries, _ := scan(t, tmpDir, Options{})

	assert.NotContains(t, entries, filepath.Base(tmpDir))
	assert.Len(t, entries, 1)
}

func TestScanner_EmptyDirectory(t *testing.T) {
	entries, errs := scan(t, t.TempDir(), Options{})
	assert.Empty(t, entries)
	assert.Empty(t, errs)
}

func TestScanner_ExcludePlainNameSkipsSubtree(t *testing.T) {
	tmpDir := t.TempDir()
	writeTree(t, tmpDir, map[string]string{
		"keep.txt":                "x",
		"lost+found/orphan.bin":   "x",
		"nested/lost+found/y.bin": "x",
	})

	entries, _ := scan(t, tmpDir, Options{Excludes: []string{"lost+found"}})

	assert.Contains(t, entries, "keep.txt")
	assert.Contains(t, entries, "nested")
	assert.NotContains(t, entries, "lost+found")
	assert.NotContains(t, entries, "orphan.bin")
	assert.NotContains(t, entries, "y.bin")
}

func TestScanner_ExcludeWildcardAgainstBaseName(t *testing.T) {
	tmpDir := t.TempDir()
	writeTree(t, tmpDir, map[string]string{
		".Trash-1000/files/deleted.doc": "x",
		"scratch.tmp":                   "x",
		"keep.txt":                      "x",
	})

	entries, _ := scan(t, tmpDir, Options{Excludes: []string{".Trash-*", "*.tmp"}})

	assert.NotContains(t, entries, ".Trash-1000")
	assert.NotContains(t, entries, "deleted.doc")
	assert.NotContains(t, entries, "scratch.tmp")
	assert.Contains(t, entries, "keep.txt")
}

func TestScanner_ExcludeWildcardAgainstRelativePath(t *testing.T) {
	tmpDir := t.TempDir()
	writeTree(t, tmpDir, map[string]string{
		"logs/app.log":  "x",
		"logs/keep.txt": "x",
	})

	entries, _ := scan(t, tmpDir, Options{Excludes: []string{"logs/*.log"}})

	assert.NotContains(t, entries, "app.log")
	assert.Contains(t, entries, "keep.txt")
	assert.Contains(t, entries, "logs")
}

func TestScanner_ExcludeAbsolutePrefix(t *testing.T) {
	tmpDir := t.TempDir()
	writeTree(t, tmpDir, map[string]string{
		"music/song.mp3": "x",
		"docs/note.txt":  "x",
	})

	entries, _ := scan(t, tmpDir, Options{Excludes: []string{filepath.Join(tmpDir, "music")}})

	assert.NotContains(t, entries, "music")
	assert.NotContains(t, entries, "song.mp3")
	assert.Contains(t, entries, "note.txt")
}

func TestScanner_SkipHidden(t *testing.T) {
	tmpDir := t.TempDir()
	writeTree(t, tmpDir, map[string]string{
		".cache/blob.bin": "x",
		".bashrc":         "x",
		"visible.txt":     "x",
	})

	t.Run("enabled drops dotfiles and their subtrees", func(t *testing.T) {
		entries, _ := scan(t, tmpDir, Options{SkipHidden: true})
		assert.NotContains(t, entries, ".cache")
		assert.NotContains(t, entries, "blob.bin")
		assert.NotContains(t, entries, ".bashrc")
		assert.Contains(t, entries, "visible.txt")
	})

	t.Run("disabled indexes them with the hidden attribute", func(t *testing.T) {
		entries, _ := scan(t, tmpDir, Options{})
		require.Contains(t, entries, ".bashrc")
		assert.True(t, entries[".bashrc"].Attr.Has(store.AttrHidden))
		require.Contains(t, entries, "visible.txt")
		assert.False(t, entries["visible.txt"].Attr.Has(store.AttrHidden))
	})
}

func TestScanner_ReadonlyAttr(t *testing.T) {
	tmpDir := t.TempDir()
	locked := filepath.Join(tmpDir, "locked.pdf")
	require.NoError(t, os.WriteFile(locked, []byte("x"), 0o444))

	entries, _ := scan(t, tmpDir, Options{})

	require.Contains(t, entries, "locked.pdf")
	assert.True(t, entries["locked.pdf"].Attr.Has(store.AttrReadOnly))
	assert.False(t, entries["locked.pdf"].Attr.Has(store.AttrHidden))
}

func TestScanner_UnreadableSubdirReportsAndContinues(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}

	tmpDir := t.TempDir()
	writeTree(t, tmpDir, map[string]string{
		"sealed/secret.txt": "x",
		"open/public.txt":   "x",
	})
	sealed := filepath.Join(tmpDir, "sealed")
	require.NoError(t, os.Chmod(sealed, 0o000))
	t.Cleanup(func() { _ = os.Chmod(sealed, 0o755) })

	entries, errs := scan(t, tmpDir, Options{})

	assert.NotEmpty(t, errs)
	assert.Contains(t, entries, "sealed", "the directory entry itself is still reported")
	assert.NotContains(t, entries, "secret.txt")
	assert.Contains(t, entries, "public.txt")
}

func TestScanner_UnreadableRootFails(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}

	tmpDir := t.TempDir()
	require.NoError(t, os.Chmod(tmpDir, 0o000))
	t.Cleanup(func() { _ = os.Chmod(tmpDir, 0o755) })

	_, err := New(Options{}).Scan(context.Background(), tmpDir)
	assert.Error(t, err)
}

func TestScanner_RootMustBeADirectory(t *testing.T) {
	tmpDir := t.TempDir()
	file := filepath.Join(tmpDir, "plain.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := New(Options{}).Scan(context.Background(), file)
	assert.ErrorContains(t, err, "not a directory")
}

func TestScanner_MissingRootFails(t *testing.T) {
	_, err := New(Options{}).Scan(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestScanner_SymlinksSkippedByDefault(t *testing.T) {
	tmpDir := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "target.txt"), []byte("abcdef"), 0o644))
	if err := os.Symlink(filepath.Join(outside, "target.txt"), filepath.Join(tmpDir, "link.txt")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	entries, errs := scan(t, tmpDir, Options{})

	assert.Empty(t, errs)
	assert.NotContains(t, entries, "link.txt")
}

func TestScanner_FollowSymlinksReportsTargetMetadata(t *testing.T) {
	tmpDir := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "target.txt"), []byte("abcdef"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(outside, "targetdir", "inner"), 0o755))
	if err := os.Symlink(filepath.Join(outside, "target.txt"), filepath.Join(tmpDir, "link.txt")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	require.NoError(t, os.Symlink(filepath.Join(outside, "targetdir"), filepath.Join(tmpDir, "linkdir")))

	entries, errs := scan(t, tmpDir, Options{FollowSymlinks: true})

	assert.Empty(t, errs)
	require.Contains(t, entries, "link.txt")
	assert.Equal(t, int64(6), entries["link.txt"].Size)
	assert.False(t, entries["link.txt"].IsDir)

	// The linked directory is reported but never descended.
	require.Contains(t, entries, "linkdir")
	assert.True(t, entries["linkdir"].IsDir)
	assert.NotContains(t, entries, "inner")
}

func TestScanner_MaxDepth(t *testing.T) {
	tmpDir := t.TempDir()
	writeTree(t, tmpDir, map[string]string{
		"top.txt":             "x",
		"sub/mid.txt":         "x",
		"sub/deep/bottom.txt": "x",
	})

	t.Run("depth one sees only direct children", func(t *testing.T) {
		entries, _ := scan(t, tmpDir, Options{MaxDepth: 1})
		assert.Contains(t, entries, "top.txt")
		assert.Contains(t, entries, "sub")
		assert.NotContains(t, entries, "mid.txt")
		assert.NotContains(t, entries, "deep")
	})

	t.Run("depth two stops below sub", func(t *testing.T) {
		entries, _ := scan(t, tmpDir, Options{MaxDepth: 2})
		assert.Contains(t, entries, "mid.txt")
		assert.Contains(t, entries, "deep")
		assert.NotContains(t, entries, "bottom.txt")
	})

	t.Run("zero is unlimited", func(t *testing.T) {
		entries, _ := scan(t, tmpDir, Options{})
		assert.Contains(t, entries, "bottom.txt")
	})
}

func TestScanner_ContextCancellationStopsTheWalk(t *testing.T) {
	tmpDir := t.TempDir()
	// Enough entries that the walker cannot finish inside the channel
	// buffer before the consumer cancels.
	const total = 600
	for i := 0; i < total; i++ {
		p := filepath.Join(tmpDir, fmt.Sprintf("dir%02d", i%20), fmt.Sprintf("file%03d.txt", i))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results, err := New(Options{}).Scan(ctx, tmpDir)
	require.NoError(t, err)

	count := 0
	for range results {
		count++
		if count == 5 {
			cancel()
		}
	}

	assert.Less(t, count, total, "walk kept going after cancellation")
}

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		name string
		pat  string
		base string
		rel  string
		abs  string
		want bool
	}{
		{"absolute prefix", "/proc", "cpuinfo", "cpuinfo", "/proc/cpuinfo", true},
		{"absolute exact", "/proc", "proc", "proc", "/proc", true},
		{"absolute near miss", "/proc", "cpuinfo", "cpuinfo", "/process/cpuinfo", false},
		{"wildcard base name", ".Trash-*", ".Trash-1000", ".Trash-1000", "/mnt/data/.Trash-1000", true},
		{"wildcard relative path", "logs/*.log", "app.log", "logs/app.log", "/mnt/data/logs/app.log", true},
		{"wildcard matches base of nested path", "*.log", "app.log", "logs/app.log", "/mnt/data/logs/app.log", true},
		{"plain base name", "lost+found", "lost+found", "media/lost+found", "/mnt/data/media/lost+found", true},
		{"plain relative path", "media/cache", "cache", "media/cache", "/mnt/data/media/cache", true},
		{"plain no match", "lost+found", "found", "media/found", "/mnt/data/media/found", false},
		{"question mark", "tmp?", "tmp1", "tmp1", "/mnt/data/tmp1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchPattern(tt.pat, tt.base, tt.rel, tt.abs))
		})
	}
}

func TestScanner_ScanSubtree(t *testing.T) {
	tmpDir := t.TempDir()
	writeTree(t, tmpDir, map[string]string{
		"incoming/a.txt":        "a",
		"incoming/nested/b.txt": "b",
		"outside.txt":           "c",
	})

	results, err := New(Options{}).ScanSubtree(
		context.Background(), tmpDir, filepath.Join(tmpDir, "incoming"))
	require.NoError(t, err)
	entries, errs := collect(t, results)

	assert.Empty(t, errs)
	// Unlike a full scan, the start directory itself is reported.
	assert.Len(t, entries, 4)
	assert.Contains(t, entries, "incoming")
	assert.Contains(t, entries, "nested")
	assert.Contains(t, entries, "b.txt")
	assert.NotContains(t, entries, "outside.txt")
}

func TestScanner_ScanSubtreeAppliesRootRelativeExcludes(t *testing.T) {
	tmpDir := t.TempDir()
	writeTree(t, tmpDir, map[string]string{
		"incoming/cache/x.bin": "x",
		"incoming/keep.txt":    "k",
	})

	// The pattern names the path from the drive root, not from the
	// subtree start.
	s := New(Options{Excludes: []string{"incoming/cache"}})
	results, err := s.ScanSubtree(context.Background(), tmpDir, filepath.Join(tmpDir, "incoming"))
	require.NoError(t, err)
	entries, _ := collect(t, results)

	assert.Contains(t, entries, "keep.txt")
	assert.NotContains(t, entries, "cache")
	assert.NotContains(t, entries, "x.bin")
}

func TestScanner_ScanSubtreeOutsideRootFails(t *testing.T) {
	tmpDir := t.TempDir()
	other := t.TempDir()

	_, err := New(Options{}).ScanSubtree(context.Background(), tmpDir, other)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside drive root")
}

func TestOptions_Skips(t *testing.T) {
	opts := Options{
		Excludes:   []string{"lost+found", "*.tmp", "/mnt/data/music"},
		SkipHidden: true,
	}
	root := "/mnt/data"

	tests := []struct {
		name string
		abs  string
		want bool
	}{
		{"ordinary file", "/mnt/data/docs/report.txt", false},
		{"hidden leaf", "/mnt/data/docs/.swapfile", true},
		{"inside hidden dir", "/mnt/data/.cache/pkg/a.txt", true},
		{"excluded name", "/mnt/data/lost+found", true},
		{"inside excluded name", "/mnt/data/lost+found/blk.bin", true},
		{"wildcard leaf", "/mnt/data/build/out.tmp", true},
		{"absolute exclude subtree", "/mnt/data/music/track.mp3", true},
		{"root itself", "/mnt/data", true},
		{"outside root", "/mnt/other/file.txt", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, opts.Skips(root, tt.abs))
		})
	}
}

func TestOptions_SkipsHonorsMaxDepth(t *testing.T) {
	opts := Options{MaxDepth: 2}

	assert.False(t, opts.Skips("/mnt/data", "/mnt/data/a"))
	assert.False(t, opts.Skips("/mnt/data", "/mnt/data/a/b"))
	assert.True(t, opts.Skips("/mnt/data", "/mnt/data/a/b/c"))
}
