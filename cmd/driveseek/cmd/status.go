package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/driveseek/driveseek/internal/config"
	"github.com/driveseek/driveseek/internal/daemon"
	"github.com/driveseek/driveseek/internal/output"
	"github.com/driveseek/driveseek/internal/profiling"
	"github.com/driveseek/driveseek/internal/search"
	"github.com/driveseek/driveseek/pkg/engine"
	"github.com/driveseek/driveseek/pkg/version"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index and daemon status",
		Long: `Display the state of every configured drive index and of the
daemon: which drives are ready, how many files each holds, when each
index was built, and whether a daemon is serving searches.

Asks a running daemon first; without one, the saved snapshots are
inspected in-process.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// statusEnvelope adds daemon liveness to the shared status payload.
type statusEnvelope struct {
	DaemonRunning bool `json:"daemon_running"`
	daemon.StatusResult
}

func runStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	cfg, err := requireConfig()
	if err != nil {
		return err
	}

	env, err := collectStatus(ctx, cfg)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(env)
	}

	renderStatusText(output.New(cmd.OutOrStdout()), env)
	return nil
}

// collectStatus asks a running daemon for its live view; otherwise the
// snapshots are loaded in-process so status works without a daemon.
func collectStatus(ctx context.Context, cfg *config.Config) (statusEnvelope, error) {
	client := daemon.NewClient(daemonClientConfig(cfg))
	if client.IsRunning() {
		st, err := client.Status(ctx)
		if err == nil {
			return statusEnvelope{DaemonRunning: true, StatusResult: *st}, nil
		}
		slog.Warn("daemon_status_failed", slog.String("error", err.Error()))
	}

	eng, err := engine.New(cfg)
	if err != nil {
		return statusEnvelope{}, err
	}
	defer func() { _ = eng.Close() }()

	eng.WarmStart(ctx)
	sum, _ := eng.Status(search.Scope{})

	env := statusEnvelope{StatusResult: statusResult(sum)}
	env.Version = version.Version
	return env, nil
}

func renderStatusText(out *output.Writer, env statusEnvelope) {
	if env.TotalDrives == 0 {
		out.Statusf("", "No drives configured. Add roots under drives: in the config, or run 'driveseek config init'.")
		return
	}

	out.Statusf("📊", "%d of %d drives ready, %d files indexed", env.ReadyCount, env.TotalDrives, env.TotalFiles)
	out.Newline()
	for _, d := range env.Drives {
		out.Status("", driveStatusLine(d))
	}
	out.Newline()

	if env.DaemonRunning {
		uptime := time.Duration(env.UptimeSecs) * time.Second
		line := fmt.Sprintf("Daemon running (pid %d, up %s", env.PID, uptime.Round(time.Second))
		if env.MemoryBytes > 0 {
			line += ", " + profiling.FormatBytes(env.MemoryBytes) + " heap"
		}
		out.Status("✅", line+")")
	} else {
		out.Dim("Daemon is not running; searches run in-process. Start it with 'driveseek daemon'.")
	}
}

// driveStatusLine renders one drive's state for the text view.
func driveStatusLine(d daemon.DriveStatus) string {
	switch d.State {
	case "ready":
		line := fmt.Sprintf("%s: ready, %d files (generation %d)", d.Drive, d.Files, d.Generation)
		if d.BuiltAt > 0 {
			line += ", built " + time.Unix(d.BuiltAt, 0).Format("2006-01-02 15:04")
		}
		return line
	case "failed":
		return fmt.Sprintf("%s: failed (%s)", d.Drive, d.Error)
	case "building":
		return fmt.Sprintf("%s: building...", d.Drive)
	default:
		return fmt.Sprintf("%s: not built", d.Drive)
	}
}
