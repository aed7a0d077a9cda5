// Command driveseek-logs renders the JSON logs written by driveseek
// and its daemon as a readable, optionally live, stream.
//
// The engine and the daemon log to separate files under
// ~/.driveseek/logs. Either can be viewed alone, or both merged into
// one timeline with --source all.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/driveseek/driveseek/internal/logging"
	"github.com/driveseek/driveseek/pkg/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type logsOptions struct {
	follow  bool
	lines   int
	level   string
	filter  string
	since   time.Duration
	noColor bool
	logFile string
	source  string
}

func newRootCmd() *cobra.Command {
	var opts logsOptions

	cmd := &cobra.Command{
		Use:     "driveseek-logs",
		Short:   "View DriveSeek logs",
		Version: version.Version,
		Long: `Render DriveSeek's JSON logs as a readable stream.

Sources:
  engine  CLI commands and in-process searches (~/.driveseek/logs/driveseek.log)
  daemon  the background daemon (~/.driveseek/logs/daemon.log)
  all     both, merged by timestamp

Examples:
  driveseek-logs                       last 50 engine entries
  driveseek-logs --source daemon -f    follow the daemon live
  driveseek-logs --source all --level warn
  driveseek-logs --since 15m --filter snapshot`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogs(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.BoolVarP(&opts.follow, "follow", "f", false, "Stream new entries until interrupted")
	f.IntVarP(&opts.lines, "lines", "n", 50, "Number of entries to show")
	f.StringVar(&opts.level, "level", "", "Minimum level to show (debug|info|warn|error)")
	f.StringVar(&opts.filter, "filter", "", "Only show lines matching this regex")
	f.DurationVar(&opts.since, "since", 0, "Only show entries newer than this age (e.g. 15m, 2h)")
	f.BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	f.StringVar(&opts.logFile, "file", "", "Read this file instead of the --source default")
	f.StringVar(&opts.source, "source", "engine", "Log source: engine, daemon, or all")

	return cmd
}

func runLogs(ctx context.Context, opts logsOptions) error {
	source := logging.ParseLogSource(opts.source)
	paths, err := logging.FindLogFileBySource(source, opts.logFile)
	if err != nil {
		return err
	}

	cfg := logging.ViewerConfig{
		Level:   opts.level,
		NoColor: opts.noColor,
		// Label each entry when more than one file feeds the view.
		ShowSource: source == logging.LogSourceAll || len(paths) > 1,
	}
	if opts.filter != "" {
		if cfg.Pattern, err = regexp.Compile(opts.filter); err != nil {
			return fmt.Errorf("invalid filter pattern: %w", err)
		}
	}
	if opts.since > 0 {
		cfg.Since = time.Now().Add(-opts.since)
	}
	viewer := logging.NewViewer(cfg, os.Stdout)

	for _, p := range paths {
		fmt.Fprintln(os.Stderr, "==> "+p)
	}

	if opts.follow {
		return followLogs(ctx, viewer, paths)
	}
	return tailLogs(viewer, paths, opts.lines)
}

func tailLogs(viewer *logging.Viewer, paths []string, n int) error {
	var entries []logging.LogEntry
	var err error
	if len(paths) == 1 {
		entries, err = viewer.Tail(paths[0], n)
	} else {
		entries, err = viewer.TailMultiple(paths, n)
	}
	if err != nil {
		return err
	}
	viewer.Print(entries)
	return nil
}

// followLogs streams appended entries to stdout until the user
// interrupts or the watcher fails.
func followLogs(ctx context.Context, viewer *logging.Viewer, paths []string) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fmt.Fprintln(os.Stderr, "==> streaming, Ctrl+C to stop")

	entries := make(chan logging.LogEntry, 128)
	errCh := make(chan error, 1)
	go func() {
		if len(paths) == 1 {
			errCh <- viewer.Follow(ctx, paths[0], entries)
			return
		}
		errCh <- viewer.FollowMultiple(ctx, paths, entries)
	}()

	for {
		select {
		case entry := <-entries:
			fmt.Println(viewer.FormatEntry(entry))
		case err := <-errCh:
			return err
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr)
			return nil
		}
	}
}
