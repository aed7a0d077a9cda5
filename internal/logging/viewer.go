package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogEntry is one parsed JSON log line.
type LogEntry struct {
	Time    time.Time
	Level   string
	Msg     string
	Source  string         // which process wrote it: engine, daemon
	Attrs   map[string]any // everything beyond the standard fields
	Raw     string         // the original line
	IsValid bool           // false when the line was not JSON
}

// ViewerConfig filters and styles the rendered log stream.
type ViewerConfig struct {
	Level      string         // drop entries below this level
	Pattern    *regexp.Regexp // drop lines not matching
	Since      time.Time      // when set, drop entries older than this
	NoColor    bool
	ShowSource bool // prefix entries with their source label
}

// Viewer tails, follows and renders DriveSeek log files.
type Viewer struct {
	config ViewerConfig
	out    io.Writer
}

// NewViewer creates a log viewer writing rendered entries to out.
func NewViewer(cfg ViewerConfig, out io.Writer) *Viewer {
	return &Viewer{config: cfg, out: out}
}

// scanBufSize bounds a single log line; slog lines with big attrs can
// run long.
const scanBufSize = 1024 * 1024

// Tail returns the filtered entries among the last n lines of path.
func (v *Viewer) Tail(path string, n int) ([]LogEntry, error) {
	lines, err := lastLines(path, n)
	if err != nil {
		return nil, err
	}

	var entries []LogEntry
	for _, line := range lines {
		if e := v.parseLine(line); v.matchesFilter(e) {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// TailMultiple merges the tails of several log files into one
// timeline, labeling each entry with the source its filename implies.
// Files that cannot be read are skipped. At most n entries come back.
func (v *Viewer) TailMultiple(paths []string, n int) ([]LogEntry, error) {
	var merged []LogEntry
	for _, path := range paths {
		lines, err := lastLines(path, n)
		if err != nil {
			continue
		}
		source := sourceFromPath(path)
		for _, line := range lines {
			e := v.parseLine(line)
			if e.Source == "" {
				e.Source = source
			}
			if v.matchesFilter(e) {
				merged = append(merged, e)
			}
		}
	}

	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Time.Before(merged[j].Time)
	})
	if len(merged) > n {
		merged = merged[len(merged)-n:]
	}
	return merged, nil
}

// lastLines reads path keeping only its final n lines, via a ring so a
// large log never sits in memory whole.
func lastLines(path string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	ring := make([]string, n)
	total := 0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, scanBufSize), scanBufSize)
	for scanner.Scan() {
		ring[total%n] = scanner.Text()
		total++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}

	count := total
	if count > n {
		count = n
	}
	out := make([]string, 0, count)
	for i := total - count; i < total; i++ {
		out = append(out, ring[i%n])
	}
	return out, nil
}

// Follow streams new entries from path into out until ctx ends.
func (v *Viewer) Follow(ctx context.Context, path string, out chan<- LogEntry) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	v.followFile(ctx, path, sourceFromPath(path), out)
	return nil
}

// FollowMultiple streams new entries from every readable path into
// out, each labeled with its source, until ctx ends. It fails only
// when none of the files exist.
func (v *Viewer) FollowMultiple(ctx context.Context, paths []string, out chan<- LogEntry) error {
	var readable []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			readable = append(readable, p)
		}
	}
	if len(readable) == 0 {
		return fmt.Errorf("no readable log files among %v", paths)
	}

	var wg sync.WaitGroup
	for _, p := range readable {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			v.followFile(ctx, path, sourceFromPath(path), out)
		}(p)
	}
	wg.Wait()
	return nil
}

// followFile polls path for appended lines, starting at the current
// end. When the file shrinks underneath us the writer has rotated it,
// so we reopen and read the fresh file from the top.
func (v *Viewer) followFile(ctx context.Context, path, source string, out chan<- LogEntry) {
	file, err := os.Open(path)
	if err != nil {
		return
	}
	defer func() { _ = file.Close() }()

	offset, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return
	}
	reader := bufio.NewReader(file)

	// A line can land in two chunks when we read mid-write; hold the
	// headless half until its newline shows up.
	var partial string

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if info, err := os.Stat(path); err == nil && info.Size() < offset {
			fresh, err := os.Open(path)
			if err != nil {
				continue
			}
			_ = file.Close()
			file = fresh
			offset = 0
			partial = ""
			reader = bufio.NewReader(file)
		}

		for {
			chunk, err := reader.ReadString('\n')
			offset += int64(len(chunk))
			if err != nil {
				partial += chunk
				break
			}
			line := partial + strings.TrimSuffix(chunk, "\n")
			partial = ""
			if line == "" {
				continue
			}
			e := v.parseLine(line)
			if e.Source == "" {
				e.Source = source
			}
			if !v.matchesFilter(e) {
				continue
			}
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Print renders entries to the viewer's output.
func (v *Viewer) Print(entries []LogEntry) {
	for _, e := range entries {
		fmt.Fprintln(v.out, v.FormatEntry(e))
	}
}

// FormatEntry renders one entry as a single display line. Lines that
// never parsed come back untouched.
func (v *Viewer) FormatEntry(e LogEntry) string {
	if !e.IsValid {
		return e.Raw
	}

	var b strings.Builder
	b.WriteString(e.Time.Format("15:04:05.000"))
	b.WriteByte(' ')
	b.WriteString(v.formatLevel(e.Level))
	b.WriteByte(' ')
	if v.config.ShowSource && e.Source != "" {
		b.WriteString(v.formatSource(e.Source))
		b.WriteByte(' ')
	}
	b.WriteString(e.Msg)

	// Stable attr order keeps repeated events visually diffable.
	keys := make([]string, 0, len(e.Attrs))
	for k := range e.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Attrs[k])
	}
	return b.String()
}

// parseLine decodes one JSON log line. Non-JSON lines come back with
// IsValid false and the raw text preserved.
func (v *Viewer) parseLine(line string) LogEntry {
	entry := LogEntry{Raw: line}

	var data map[string]any
	if err := json.Unmarshal([]byte(line), &data); err != nil {
		return entry
	}
	entry.IsValid = true

	if ts, ok := data["time"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			entry.Time = parsed
		}
	}
	entry.Level, _ = data["level"].(string)
	entry.Msg, _ = data["msg"].(string)
	entry.Source, _ = data["source"].(string)

	entry.Attrs = make(map[string]any)
	for k, val := range data {
		switch k {
		case "time", "level", "msg", "source":
		default:
			entry.Attrs[k] = val
		}
	}
	return entry
}

func (v *Viewer) matchesFilter(e LogEntry) bool {
	if v.config.Level != "" {
		if LevelFromString(e.Level) < LevelFromString(v.config.Level) {
			return false
		}
	}
	if v.config.Pattern != nil && !v.config.Pattern.MatchString(e.Raw) {
		return false
	}
	// Unparsed lines carry a zero timestamp, so a time floor drops
	// them along with old entries.
	if !v.config.Since.IsZero() && e.Time.Before(v.config.Since) {
		return false
	}
	return true
}

// formatLevel pads the level to a fixed five columns, colored unless
// colors are off.
func (v *Viewer) formatLevel(level string) string {
	label := strings.ToUpper(level)
	if len(label) > 5 {
		label = label[:5]
	}
	label = fmt.Sprintf("%-5s", label)

	if v.config.NoColor {
		return label
	}
	switch strings.ToLower(level) {
	case "debug":
		return "\033[90m" + label + "\033[0m"
	case "warn", "warning":
		return "\033[33m" + label + "\033[0m"
	case "error":
		return "\033[31m" + label + "\033[0m"
	case "info":
		return "\033[32m" + label + "\033[0m"
	default:
		return label
	}
}

func (v *Viewer) formatSource(source string) string {
	label := "[" + source + "]"
	if v.config.NoColor {
		return label
	}
	switch source {
	case "engine":
		return "\033[36m" + label + "\033[0m"
	case "daemon":
		return "\033[35m" + label + "\033[0m"
	default:
		return "\033[90m" + label + "\033[0m"
	}
}
