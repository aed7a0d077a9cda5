package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/driveseek/driveseek/internal/config"
	"github.com/driveseek/driveseek/internal/daemon"
	"github.com/driveseek/driveseek/internal/lifecycle"
	"github.com/driveseek/driveseek/internal/output"
	"github.com/driveseek/driveseek/pkg/engine"
)

// indexOptions holds CLI flags for index. snapshot stays nil unless the
// flag was set, so the configuration default wins otherwise.
type indexOptions struct {
	drives    []string
	snapshot  *bool
	json      bool
	useDaemon bool
}

func newIndexCmd() *cobra.Command {
	var (
		snapshot   bool
		jsonOutput bool
		useDaemon  bool
	)

	cmd := &cobra.Command{
		Use:   "index [drive...]",
		Short: "Build or rebuild drive indexes",
		Long: `Build or rebuild the metadata index for the named drives, or for
every configured drive when none are named.

Each drive's tree is walked and a fresh index generation is published
when the walk completes. A drive that fails to build keeps its previous
generation searchable; the failure is reported in the summary.

With snapshots enabled, built indexes persist to the snapshot catalog
so later runs warm-start instead of rescanning.

Examples:
  driveseek index                  # rebuild every configured drive
  driveseek index /mnt/data        # rebuild one drive
  driveseek index --snapshot=false # build without persisting
  driveseek index --daemon         # rebuild inside the running daemon`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := indexOptions{drives: args, json: jsonOutput, useDaemon: useDaemon}
			if cmd.Flags().Changed("snapshot") {
				opts.snapshot = &snapshot
			}
			return runIndex(ctx, cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&snapshot, "snapshot", true, "Persist built indexes to the snapshot catalog")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&useDaemon, "daemon", false, "Rebuild through the running daemon")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, opts indexOptions) error {
	cfg, err := requireConfig()
	if err != nil {
		return err
	}

	// Resolve drive arguments here so relative paths mean the caller's
	// working directory, not the daemon's.
	drives := make([]string, 0, len(opts.drives))
	for _, d := range opts.drives {
		abs, err := filepath.Abs(d)
		if err != nil {
			return fmt.Errorf("failed to resolve drive path %q: %w", d, err)
		}
		drives = append(drives, abs)
	}

	out := output.New(cmd.OutOrStdout())

	if opts.useDaemon {
		return runIndexViaDaemon(ctx, cmd, out, cfg, drives, opts.json)
	}

	if opts.snapshot != nil {
		cfg.Index.Snapshot.Enabled = *opts.snapshot
	}

	var engOpts []engine.Option
	if !opts.json {
		engOpts = append(engOpts, engine.WithEventSink(func(ev lifecycle.Event) {
			if ev.Kind == lifecycle.EventBuilding {
				out.Statusf("🔍", "Indexing %s...", ev.Drive)
			}
		}))
	}

	eng, err := engine.New(cfg, engOpts...)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	handler := &engineHandler{eng: eng}
	res, err := handler.Index(ctx, daemon.IndexParams{Drives: drives})
	if err != nil {
		return err
	}

	return renderIndexResult(cmd, out, res, driveCounts(handler.Status()), opts.json)
}

func runIndexViaDaemon(ctx context.Context, cmd *cobra.Command, out *output.Writer, cfg *config.Config, drives []string, jsonOutput bool) error {
	dcfg := daemonClientConfig(cfg)
	// A full rebuild can far outlast the normal request timeout.
	dcfg.Timeout = time.Hour
	client := daemon.NewClient(dcfg)

	if !client.IsRunning() {
		return fmt.Errorf("daemon is not running. Start it with 'driveseek daemon'")
	}

	if !jsonOutput {
		out.Status("🔍", "Rebuilding through the daemon...")
	}

	res, err := client.Index(ctx, daemon.IndexParams{Drives: drives})
	if err != nil {
		return fmt.Errorf("daemon rebuild failed: %w", err)
	}

	counts := make(map[string]int)
	if st, err := client.Status(ctx); err == nil {
		counts = driveCounts(*st)
	}
	return renderIndexResult(cmd, out, *res, counts, jsonOutput)
}

// driveCounts maps each drive to its indexed file count.
func driveCounts(st daemon.StatusResult) map[string]int {
	counts := make(map[string]int, len(st.Drives))
	for _, d := range st.Drives {
		counts[d.Drive] = d.Files
	}
	return counts
}

func renderIndexResult(cmd *cobra.Command, out *output.Writer, res daemon.IndexResult, counts map[string]int, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
		if len(res.Failed) > 0 {
			return fmt.Errorf("%d of %d drives failed to build", len(res.Failed), len(res.Built)+len(res.Failed))
		}
		return nil
	}

	elapsed := time.Duration(res.ElapsedMS) * time.Millisecond
	if len(res.Built) > 0 {
		if len(res.Built) == 1 {
			out.Successf("Indexed 1 drive in %s", elapsed)
		} else {
			out.Successf("Indexed %d drives in %s", len(res.Built), elapsed)
		}
		for _, drive := range res.Built {
			out.Statusf("", "%s: %d files", drive, counts[drive])
		}
	}

	if len(res.Failed) > 0 {
		failed := make([]string, 0, len(res.Failed))
		for drive := range res.Failed {
			failed = append(failed, drive)
		}
		sort.Strings(failed)

		out.Newline()
		for _, drive := range failed {
			out.Errorf("%s: %s", drive, res.Failed[drive])
		}
		return fmt.Errorf("%d of %d drives failed to build", len(failed), len(res.Built)+len(failed))
	}

	return nil
}
