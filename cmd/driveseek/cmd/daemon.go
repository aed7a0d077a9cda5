package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/driveseek/driveseek/internal/daemon"
	"github.com/driveseek/driveseek/internal/logging"
	"github.com/driveseek/driveseek/internal/output"
	"github.com/driveseek/driveseek/internal/preflight"
	"github.com/driveseek/driveseek/internal/profiling"
	"github.com/driveseek/driveseek/pkg/engine"
	"github.com/driveseek/driveseek/pkg/version"
)

func newDaemonCmd() *cobra.Command {
	var (
		foreground bool
		stop       bool
		status     bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run and manage the background search daemon",
		Long: `The daemon holds every drive index in memory and serves searches
over a unix socket, so queries skip index loading entirely. It also
watches configured drives and applies changes to the indexes as files
come and go.

Send SIGUSR1 to a running daemon to dump goroutine and memory
profiles under <data-dir>/debug/.

Examples:
  driveseek daemon              # start in the background
  driveseek daemon --foreground # run in this terminal (for debugging)
  driveseek daemon --status     # check whether it is running
  driveseek daemon --stop       # stop it`,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case stop:
				return runDaemonStop(cmd)
			case status:
				return runDaemonStatus(cmd.Context(), cmd, jsonOutput)
			case foreground:
				ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer cancel()
				return runDaemonForeground(ctx, cmd)
			default:
				return runDaemonBackground(cmd)
			}
		},
	}

	cmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in the foreground instead of detaching")
	cmd.Flags().BoolVar(&stop, "stop", false, "Stop the running daemon")
	cmd.Flags().BoolVar(&status, "status", false, "Show daemon status")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")

	return cmd
}

func runDaemonForeground(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := requireConfig()
	if err != nil {
		return err
	}
	out := output.New(cmd.OutOrStdout())

	dcfg := daemonClientConfig(cfg)
	if daemon.NewClient(dcfg).IsRunning() {
		out.Status("", "Daemon is already running")
		return nil
	}

	// File logging only when detached; --verbose echoes to stderr too.
	logPath := filepath.Join(cfg.LogDir(), "daemon.log")
	if cleanup, err := logging.SetupDaemonMode(logPath, cfg.Logging.Level, verbose); err == nil {
		defer cleanup()
	}

	out.Status("", "Starting daemon in foreground...")
	out.Statusf("", "Socket: %s", dcfg.SocketPath)
	out.Statusf("", "Logs: %s", logPath)
	out.Status("", "Press Ctrl+C to stop")
	out.Newline()

	// Preflight runs silently here, and only when the last pass is
	// stale. Failures point at doctor, which explains them.
	dataDir := cfg.ResolvedDataDir()
	if preflight.NeedsCheck(dataDir, preflight.DefaultMarkerMaxAge) {
		checker := preflight.New(preflight.WithOutput(io.Discard))
		results := checker.RunAll(ctx, dataDir, cfg.Roots())
		if checker.HasCriticalFailures(results) {
			return fmt.Errorf("system checks failed. Run 'driveseek doctor' for details")
		}
		if err := preflight.MarkPassed(dataDir); err != nil {
			slog.Warn("preflight_marker_write_failed", slog.String("error", err.Error()))
		}
	}

	eng, err := engine.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	defer func() { _ = eng.Close() }()

	if cfg.Index.WarmStart {
		restored := eng.WarmStart(ctx)
		slog.Info("daemon_warm_start", slog.Int("drives_restored", restored))
	}
	if cfg.Scan.Watch {
		if err := eng.StartWatching(ctx); err != nil {
			slog.Warn("watcher_start_failed", slog.String("error", err.Error()))
		}
	}

	// SIGUSR1 dumps goroutine and memory profiles without stopping
	// the daemon, for diagnosing a stuck watcher or search stream.
	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-usr1:
				writeDebugDump(filepath.Join(dataDir, "debug"))
			}
		}
	}()

	srv, err := daemon.NewServer(dcfg, &engineHandler{eng: eng},
		daemon.WithServerLogger(slog.Default()),
		daemon.WithVersion(version.Version))
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	return srv.ListenAndServe(ctx)
}

func runDaemonBackground(cmd *cobra.Command) error {
	cfg, err := requireConfig()
	if err != nil {
		return err
	}
	out := output.New(cmd.OutOrStdout())

	client := daemon.NewClient(daemonClientConfig(cfg))
	if client.IsRunning() {
		out.Status("", "Daemon is already running")
		return nil
	}

	out.Status("", "Starting daemon in background...")

	// Re-execute self detached, with the same config file.
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	args := []string{"daemon", "--foreground"}
	if cfgFile != "" {
		args = append(args, "--config", cfgFile)
	}

	bgCmd := exec.Command(execPath, args...)
	bgCmd.Stdout = nil
	bgCmd.Stderr = nil
	bgCmd.Stdin = nil
	bgCmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	if err := bgCmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Reap the child when it eventually exits, and catch it dying
	// during startup.
	done := make(chan error, 1)
	go func() { done <- bgCmd.Wait() }()

	for i := 0; i < 20; i++ {
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("daemon process exited unexpectedly: %w", err)
			}
			return fmt.Errorf("daemon process exited unexpectedly with code 0")
		default:
		}

		time.Sleep(100 * time.Millisecond)
		if client.IsRunning() {
			out.Successf("Daemon started (pid: %d)", bgCmd.Process.Pid)
			return nil
		}
	}

	return fmt.Errorf("daemon failed to start within timeout")
}

// writeDebugDump writes goroutine, heap and allocs profiles into dir,
// named by timestamp so repeated dumps never clobber each other.
func writeDebugDump(dir string) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Error("debug_dump_failed", slog.String("error", err.Error()))
		return
	}

	stamp := time.Now().Format("20060102-150405")
	prof := profiling.NewProfiler()
	dumps := map[string]func(string) error{
		"goroutine": prof.WriteGoroutine,
		"heap":      prof.WriteHeap,
		"allocs":    prof.WriteAllocs,
	}
	for kind, write := range dumps {
		path := filepath.Join(dir, fmt.Sprintf("%s-%s.prof", kind, stamp))
		if err := write(path); err != nil {
			slog.Error("debug_dump_failed",
				slog.String("kind", kind),
				slog.String("error", err.Error()))
			continue
		}
		slog.Info("debug_dump_written", slog.String("path", path))
	}
}

func runDaemonStop(cmd *cobra.Command) error {
	cfg, err := requireConfig()
	if err != nil {
		return err
	}
	out := output.New(cmd.OutOrStdout())

	pidFile := daemon.NewPIDFile(daemonClientConfig(cfg).PIDPath)
	if !pidFile.IsRunning() {
		out.Status("", "Daemon is not running")
		return nil
	}

	pid, err := pidFile.Read()
	if err != nil {
		return fmt.Errorf("failed to read PID: %w", err)
	}

	if err := pidFile.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}

	for i := 0; i < 50; i++ {
		time.Sleep(100 * time.Millisecond)
		if !pidFile.IsRunning() {
			out.Successf("Daemon stopped (was pid: %d)", pid)
			return nil
		}
	}

	out.Status("", "Daemon not responding, sending SIGKILL...")
	if err := pidFile.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill daemon: %w", err)
	}

	out.Success("Daemon killed")
	return nil
}

func runDaemonStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	cfg, err := requireConfig()
	if err != nil {
		return err
	}
	out := output.New(cmd.OutOrStdout())

	dcfg := daemonClientConfig(cfg)
	client := daemon.NewClient(dcfg)

	if !client.IsRunning() {
		if jsonOutput {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(statusEnvelope{DaemonRunning: false})
		}
		out.Status("", "Daemon is not running")
		out.Status("", "Run 'driveseek daemon' to start it")
		return nil
	}

	st, err := client.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(statusEnvelope{DaemonRunning: true, StatusResult: *st})
	}

	uptime := time.Duration(st.UptimeSecs) * time.Second
	out.Status("", "Daemon is running")
	out.Status("", fmt.Sprintf("  PID:          %d", st.PID))
	out.Status("", fmt.Sprintf("  Uptime:       %s", uptime.Round(time.Second)))
	out.Status("", fmt.Sprintf("  Drives ready: %d of %d", st.ReadyCount, st.TotalDrives))
	out.Status("", fmt.Sprintf("  Files:        %d", st.TotalFiles))
	out.Status("", fmt.Sprintf("  Socket:       %s", dcfg.SocketPath))

	return nil
}
