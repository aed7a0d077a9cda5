package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/driveseek/driveseek/internal/config"
	"github.com/driveseek/driveseek/internal/daemon"
	"github.com/driveseek/driveseek/internal/output"
	"github.com/driveseek/driveseek/internal/query"
	"github.com/driveseek/driveseek/internal/search"
	"github.com/driveseek/driveseek/internal/store"
	"github.com/driveseek/driveseek/pkg/engine"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	drive     string // restrict to one drive root
	limit     int    // 0 means the configured cap
	nameOnly  bool   // match names only, skip path matching
	json      bool
	useDaemon bool // search through a running daemon instead of in-process
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed drives by name and path",
		Long: `Search indexed drives by file name and path.

Plain terms match case-insensitively by substring; every term must
match. Wildcards (* and ?), alternatives (a|b), exclusions (!term)
and filters narrow the search:

  ext:jpg|png    extension is jpg or png
  size:>10mb     by size: >N, <N, =N or a..b with b/kb/mb/gb units
  dm:7d          modified in the last 7 days; also today, 24h,
                 2024-01-15 or 2024-01-01..2024-03-31
  file: folder:  only files, or only folders
  path:src       term must appear in the path, not just the name
  attrib:h       hidden (h) or read-only (r) files
  len:>260       path length in characters

Unknown filters stay literal keywords, so searching for "ratio:16"
works as typed.

Examples:
  driveseek search report
  driveseek search "*.pdf dm:today"
  driveseek search "invoice ext:xlsx size:>1mb" --drive /mnt/data
  driveseek search "vacation !2019 folder:" --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			raw := strings.Join(args, " ")
			return runSearch(ctx, cmd, raw, opts)
		},
	}

	cmd.Flags().StringVar(&opts.drive, "drive", "", "Search a single drive root (default: all ready drives)")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (0 uses the configured cap)")
	cmd.Flags().BoolVar(&opts.nameOnly, "name-only", false, "Match file names only, not full paths")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Output results as JSON")
	cmd.Flags().BoolVar(&opts.useDaemon, "daemon", false, "Search through a running daemon")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, raw string, opts searchOptions) error {
	cfg, err := requireConfig()
	if err != nil {
		return err
	}
	out := output.New(cmd.OutOrStdout())

	slog.Info("search_started",
		slog.String("query", raw),
		slog.String("drive", opts.drive),
		slog.Bool("daemon", opts.useDaemon))

	var (
		results []store.IndexedFile
		comp    search.Completion
	)
	if opts.useDaemon {
		results, comp, err = searchViaDaemon(ctx, cfg, raw, opts)
	} else {
		results, comp, err = searchLocal(ctx, cfg, raw, opts)
	}
	if err != nil {
		return err
	}

	// Re-rank for presentation: exact and prefix name matches first.
	search.RankResults(query.Compile(raw), results)

	slog.Info("search_complete",
		slog.String("mode", searchMode(opts.useDaemon)),
		slog.Int("results", comp.Total),
		slog.Duration("elapsed", comp.Elapsed))

	if opts.json {
		return renderSearchJSON(cmd, raw, results, comp)
	}
	renderSearchText(out, raw, results, comp)
	return nil
}

func searchMode(useDaemon bool) string {
	if useDaemon {
		return "daemon"
	}
	return "local"
}

// searchLocal opens the index in-process and runs the query against it.
func searchLocal(ctx context.Context, cfg *config.Config, raw string, opts searchOptions) ([]store.IndexedFile, search.Completion, error) {
	eng, err := engine.New(cfg)
	if err != nil {
		return nil, search.Completion{}, err
	}
	defer func() { _ = eng.Close() }()

	eng.WarmStart(ctx)
	sum, _ := eng.Status(search.Scope{})
	if sum.ReadyCount == 0 {
		return nil, search.Completion{}, fmt.Errorf("no index found. Run 'driveseek index' first, or search a running daemon with --daemon")
	}

	updates, err := eng.Search(ctx, search.Params{
		Raw:      raw,
		Scope:    search.Scope{Drive: opts.drive},
		NameOnly: opts.nameOnly,
		Limit:    opts.limit,
	})
	if err != nil {
		return nil, search.Completion{}, err
	}

	var (
		results []store.IndexedFile
		comp    search.Completion
	)
	for u := range updates {
		if u.Batch != nil {
			results = append(results, u.Batch.Results...)
		}
		if u.Completion != nil {
			comp = *u.Completion
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, search.Completion{}, err
	}
	return results, comp, nil
}

// searchViaDaemon streams the query through a running daemon's socket.
func searchViaDaemon(ctx context.Context, cfg *config.Config, raw string, opts searchOptions) ([]store.IndexedFile, search.Completion, error) {
	client := daemon.NewClient(daemonClientConfig(cfg))
	if !client.IsRunning() {
		return nil, search.Completion{}, fmt.Errorf("daemon is not running. Start it with 'driveseek daemon'")
	}

	var results []store.IndexedFile
	dcomp, err := client.Search(ctx, daemon.SearchParams{
		Query:    raw,
		Drive:    opts.drive,
		NameOnly: opts.nameOnly,
		Limit:    opts.limit,
	}, func(b daemon.Batch) {
		for _, r := range b.Results {
			results = append(results, fileFromResult(r))
		}
	})
	if err != nil {
		return nil, search.Completion{}, err
	}

	comp := search.Completion{
		Total:     dcomp.Total,
		Truncated: dcomp.Truncated,
		Elapsed:   dcomp.Elapsed,
	}
	for _, d := range dcomp.Drives {
		comp.Drives = append(comp.Drives, search.DriveOutcome{
			Drive:     d.Drive,
			Count:     d.Count,
			Truncated: d.Truncated,
		})
	}
	return results, comp, nil
}

// fileFromResult rebuilds an IndexedFile from its wire form so daemon
// and local results rank and render identically.
func fileFromResult(r daemon.Result) store.IndexedFile {
	return store.IndexedFile{
		Name:      r.Name,
		NameLower: strings.ToLower(r.Name),
		Path:      r.Path,
		PathLower: strings.ToLower(r.Path),
		Ext:       r.Ext,
		Size:      r.Size,
		MTime:     r.ModTime(),
		IsDir:     r.IsDir,
	}
}

func renderSearchText(out *output.Writer, raw string, results []store.IndexedFile, comp search.Completion) {
	if len(results) == 0 {
		out.Statusf("", "No results found for %q", raw)
		return
	}

	out.Statusf("🔍", "Found %d results for %q in %s:", comp.Total, raw, comp.Elapsed.Round(time.Millisecond))
	out.Newline()
	for _, f := range results {
		out.Line(f.Path)
	}
	if comp.Truncated {
		out.Newline()
		out.Status("💡", "Results truncated; raise --limit to see more")
	}
}

func renderSearchJSON(cmd *cobra.Command, raw string, results []store.IndexedFile, comp search.Completion) error {
	type resultJSON struct {
		Name  string `json:"name"`
		Path  string `json:"path"`
		Size  int64  `json:"size"`
		MTime string `json:"mtime"`
		IsDir bool   `json:"is_dir"`
		Ext   string `json:"ext,omitempty"`
	}
	payload := struct {
		Query     string       `json:"query"`
		Total     int          `json:"total"`
		Truncated bool         `json:"truncated"`
		ElapsedMS int64        `json:"elapsed_ms"`
		Results   []resultJSON `json:"results"`
	}{
		Query:     raw,
		Total:     comp.Total,
		Truncated: comp.Truncated,
		ElapsedMS: comp.Elapsed.Milliseconds(),
		Results:   make([]resultJSON, 0, len(results)),
	}
	for _, f := range results {
		payload.Results = append(payload.Results, resultJSON{
			Name:  f.Name,
			Path:  f.Path,
			Size:  f.Size,
			MTime: f.MTime.UTC().Format(time.RFC3339),
			IsDir: f.IsDir,
			Ext:   f.Ext,
		})
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}
