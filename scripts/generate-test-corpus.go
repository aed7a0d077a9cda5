//go:build ignore

// Generates a synthetic directory tree for exercising index builds and
// searches against something bigger than the unit-test fixtures. Large
// entries are written sparse, so a million-file corpus stays cheap.
//
// Usage: go run scripts/generate-test-corpus.go -files 100000 -output /tmp/driveseek-corpus
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"
)

var (
	numFiles  = flag.Int("files", 10000, "number of files to generate")
	outputDir = flag.String("output", "testdata/corpus", "output directory")
	seed      = flag.Int64("seed", 42, "random seed, fixed for reproducible trees")
	hiddenPct = flag.Int("hidden", 3, "percent of files that are dot-prefixed")
)

// A category shapes one slice of the tree: where its files live, how
// they are named, and how big they get. Weights sum to 100.
type category struct {
	root    string
	subdirs []string
	stems   []string
	exts    []string
	minSize int64
	maxSize int64
	weight  int
}

var categories = []category{
	{
		root:    "Documents",
		subdirs: []string{"work", "personal", "archive", "archive/old", "drafts", "tax"},
		stems:   []string{"report", "invoice", "contract", "minutes", "budget", "proposal", "summary", "letter", "statement", "agenda"},
		exts:    []string{"pdf", "docx", "xlsx", "odt", "txt", "md"},
		minSize: 2 << 10, maxSize: 4 << 20, weight: 30,
	},
	{
		root:    "Pictures",
		subdirs: []string{"camera", "camera/raw", "screenshots", "wallpapers", "albums/summer", "albums/winter"},
		stems:   []string{"IMG", "DSC", "photo", "scan", "screenshot", "panorama"},
		exts:    []string{"jpg", "png", "heic", "nef", "gif"},
		minSize: 100 << 10, maxSize: 24 << 20, weight: 25,
	},
	{
		root:    "Music",
		subdirs: []string{"albums", "albums/live", "singles", "podcasts", "rips"},
		stems:   []string{"track", "song", "recording", "episode", "session", "mix"},
		exts:    []string{"mp3", "flac", "ogg", "m4a"},
		minSize: 2 << 20, maxSize: 60 << 20, weight: 15,
	},
	{
		root:    "Videos",
		subdirs: []string{"clips", "family", "tutorials", "raw"},
		stems:   []string{"clip", "movie", "recording", "capture", "lecture"},
		exts:    []string{"mp4", "mkv", "mov", "webm"},
		minSize: 20 << 20, maxSize: 2 << 30, weight: 10,
	},
	{
		root:    "Source",
		subdirs: []string{"projects/alpha", "projects/beta", "projects/beta/vendor", "snippets", "experiments"},
		stems:   []string{"main", "util", "server", "client", "parser", "model", "handler", "worker", "helper", "setup"},
		exts:    []string{"go", "py", "rs", "js", "c", "h", "sh", "sql", "json", "yaml"},
		minSize: 200, maxSize: 80 << 10, weight: 15,
	},
	{
		root:    "Downloads",
		subdirs: []string{"installers", "archives", "iso"},
		stems:   []string{"setup", "release", "bundle", "image", "backup", "dump"},
		exts:    []string{"zip", "tar.gz", "deb", "iso", "img", "dmg"},
		minSize: 1 << 20, maxSize: 4 << 30, weight: 5,
	},
}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))
	start := time.Now()

	files, logical, err := generate(rng)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate corpus: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated %d files (%.1f GB logical) under %s in %s\n",
		files, float64(logical)/float64(1<<30), *outputDir, time.Since(start).Round(time.Millisecond))
}

func generate(rng *rand.Rand) (int, int64, error) {
	made := make(map[string]bool)
	now := time.Now()

	var total int64
	for i := 0; i < *numFiles; i++ {
		cat := pick(rng)

		dir := filepath.Join(*outputDir, cat.root)
		if len(cat.subdirs) > 0 && rng.Intn(4) != 0 {
			dir = filepath.Join(dir, cat.subdirs[rng.Intn(len(cat.subdirs))])
		}
		if !made[dir] {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return i, total, err
			}
			made[dir] = true
		}

		name := fileName(rng, cat, i)
		if rng.Intn(100) < *hiddenPct {
			name = "." + name
		}

		size := cat.minSize
		if cat.maxSize > cat.minSize {
			size += rng.Int63n(cat.maxSize - cat.minSize)
		}
		path := filepath.Join(dir, name)
		if err := writeSparse(path, size); err != nil {
			return i, total, err
		}
		total += size

		// Spread modification times over the past three years so
		// date-modified filters have something to bite on.
		mtime := now.Add(-time.Duration(rng.Int63n(int64(3 * 365 * 24 * time.Hour))))
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			return i, total, err
		}
	}
	return *numFiles, total, nil
}

func pick(rng *rand.Rand) category {
	n := rng.Intn(100)
	for _, cat := range categories {
		if n < cat.weight {
			return cat
		}
		n -= cat.weight
	}
	return categories[0]
}

func fileName(rng *rand.Rand, cat category, index int) string {
	stem := cat.stems[rng.Intn(len(cat.stems))]
	ext := cat.exts[rng.Intn(len(cat.exts))]
	switch rng.Intn(3) {
	case 0:
		return fmt.Sprintf("%s-%04d.%s", stem, index, ext)
	case 1:
		year := 2022 + rng.Intn(4)
		return fmt.Sprintf("%s-%d-%02d.%s", stem, year, 1+rng.Intn(12), ext)
	default:
		return fmt.Sprintf("%s_%s_%03d.%s", stem, cat.stems[rng.Intn(len(cat.stems))], rng.Intn(1000), ext)
	}
}

// writeSparse creates a file of the given logical size without
// allocating its blocks. The index only ever reads sizes from stat.
func writeSparse(path string, size int64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
