// Package cmd provides the CLI commands for driveseek.
package cmd

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/driveseek/driveseek/internal/config"
	"github.com/driveseek/driveseek/internal/logging"
	"github.com/driveseek/driveseek/internal/profiling"
	"github.com/driveseek/driveseek/pkg/version"
)

// Persistent flags shared by every command.
var (
	cfgFile string
	verbose bool
)

// Profiling flags
var (
	profileCPU   string
	profileMem   string
	profileTrace string
	profiler     = profiling.NewProfiler()
	cpuCleanup   func()
	traceCleanup func()
)

// Configuration and logging state for the current invocation.
var (
	cliCfg         *config.Config
	cfgErr         error
	loggingCleanup func()
)

// NewRootCmd creates the root command for the driveseek CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "driveseek",
		Short: "Instant file search across your drives",
		Long: `DriveSeek indexes file and directory metadata across drive roots
and answers name, wildcard and filter queries in milliseconds.

Indexes live in memory and persist to snapshots for instant warm
starts. The background daemon keeps them resident and fresh through
filesystem watching, so searches never wait for a rescan.

Run 'driveseek index' once, then 'driveseek search <query>'.

Exit codes: 0 success, 1 error, 3 index still building, 4 daemon
unreachable or already running.`,
		Version: version.Version,
		// main prints errors through the coded-error formatter, so
		// cobra must not print them a second time.
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("driveseek version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging to stderr")
	cmd.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileMem, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileTrace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = setupRunEnvironment
	cmd.PersistentPostRunE = teardownRunEnvironment

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newDaemonCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// setupRunEnvironment loads configuration, starts file logging and
// begins profiling when requested. It runs before every command.
func setupRunEnvironment(_ *cobra.Command, _ []string) error {
	// Config problems surface in the commands that need one, so
	// version and config init keep working with a broken file.
	cliCfg, cfgErr = config.Load(cfgFile)

	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if cliCfg != nil {
		logCfg.Level = cliCfg.Logging.Level
		logCfg.FilePath = filepath.Join(cliCfg.LogDir(), "driveseek.log")
		logCfg.MaxSizeMB = cliCfg.Logging.MaxSizeMB
		logCfg.MaxFiles = cliCfg.Logging.MaxFiles
	}
	if verbose {
		logCfg.Level = "debug"
		logCfg.WriteToStderr = true
	}
	if logger, cleanup, err := logging.Setup(logCfg); err == nil {
		loggingCleanup = cleanup
		slog.SetDefault(logger)
	}

	var err error
	if profileCPU != "" {
		cpuCleanup, err = profiler.StartCPU(profileCPU)
		if err != nil {
			return fmt.Errorf("failed to start CPU profile: %w", err)
		}
	}
	if profileTrace != "" {
		traceCleanup, err = profiler.StartTrace(profileTrace)
		if err != nil {
			if cpuCleanup != nil {
				cpuCleanup()
			}
			return fmt.Errorf("failed to start trace: %w", err)
		}
	}

	return nil
}

// teardownRunEnvironment stops profiling, writes the memory profile if
// requested and closes the log file. It runs after every command.
func teardownRunEnvironment(_ *cobra.Command, _ []string) error {
	if cpuCleanup != nil {
		cpuCleanup()
		cpuCleanup = nil
	}
	if traceCleanup != nil {
		traceCleanup()
		traceCleanup = nil
	}

	if profileMem != "" {
		if err := profiler.WriteHeap(profileMem); err != nil {
			return fmt.Errorf("failed to write memory profile: %w", err)
		}
	}

	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}

	return nil
}

// requireConfig returns the configuration loaded for this invocation.
// Commands that cannot work without one call this and fail on the
// error the root setup deferred.
func requireConfig() (*config.Config, error) {
	if cfgErr != nil {
		return nil, cfgErr
	}
	if cliCfg == nil {
		return config.Load(cfgFile)
	}
	return cliCfg, nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
