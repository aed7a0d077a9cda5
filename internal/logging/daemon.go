package logging

import (
	"log/slog"
)

// SetupDaemonMode initializes logging for the daemon process and
// installs the logger as the slog default. The daemon writes to its
// own log file so engine and daemon runs stay separable; echoToStderr
// additionally mirrors entries to stderr for foreground runs. A
// detached daemon must keep it off, since its stderr goes nowhere.
func SetupDaemonMode(logPath, level string, echoToStderr bool) (func(), error) {
	cfg := Config{
		Level:         level,
		FilePath:      logPath,
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: echoToStderr,
	}

	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}

	slog.SetDefault(logger)

	slog.Info("daemon_logging_initialized",
		slog.String("log_file", cfg.FilePath),
		slog.String("level", cfg.Level))

	return cleanup, nil
}
