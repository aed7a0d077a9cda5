package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultLogDir returns the default log directory (~/.driveseek/logs/).
// Falls back to temp directory if home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".driveseek", "logs")
	}
	return filepath.Join(home, ".driveseek", "logs")
}

// DefaultLogPath returns the default engine log path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "driveseek.log")
}

// DaemonLogPath returns the daemon log path.
func DaemonLogPath() string {
	return filepath.Join(DefaultLogDir(), "daemon.log")
}

// LogSource represents the source of logs to view.
type LogSource string

const (
	// LogSourceEngine is the engine/CLI logs (default).
	LogSourceEngine LogSource = "engine"
	// LogSourceDaemon is the background daemon logs.
	LogSourceDaemon LogSource = "daemon"
	// LogSourceAll combines all log sources.
	LogSourceAll LogSource = "all"
)

// FindLogFile attempts to find the log file for viewing.
// Priority:
// 1. Explicit path (if provided)
// 2. ~/.driveseek/logs/driveseek.log (global)
//
// Returns an error if no log file is found.
func FindLogFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit, nil
		}
		return "", fmt.Errorf("log file not found: %s", explicit)
	}

	// Try global path
	globalPath := DefaultLogPath()
	if _, err := os.Stat(globalPath); err == nil {
		return globalPath, nil
	}

	return "", fmt.Errorf("no log file found. The engine may not have run with --verbose yet.\nExpected at: %s", globalPath)
}

// FindLogFileBySource finds log files based on the source type.
// Returns a list of log file paths that exist.
func FindLogFileBySource(source LogSource, explicit string) ([]string, error) {
	// Explicit path takes precedence
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return []string{explicit}, nil
		}
		return nil, fmt.Errorf("log file not found: %s", explicit)
	}

	var paths []string
	var checked []string

	switch source {
	case LogSourceEngine:
		enginePath := DefaultLogPath()
		checked = append(checked, enginePath)
		if _, err := os.Stat(enginePath); err == nil {
			paths = append(paths, enginePath)
		}

	case LogSourceDaemon:
		daemonPath := DaemonLogPath()
		checked = append(checked, daemonPath)
		if _, err := os.Stat(daemonPath); err == nil {
			paths = append(paths, daemonPath)
		}

	case LogSourceAll:
		enginePath := DefaultLogPath()
		daemonPath := DaemonLogPath()
		checked = append(checked, enginePath, daemonPath)

		if _, err := os.Stat(enginePath); err == nil {
			paths = append(paths, enginePath)
		}
		if _, err := os.Stat(daemonPath); err == nil {
			paths = append(paths, daemonPath)
		}

	default:
		return nil, fmt.Errorf("unknown log source: %s (use: engine, daemon, all)", source)
	}

	if len(paths) == 0 {
		hint := getLogHint(source)
		return nil, fmt.Errorf("no log files found for source '%s'.\nChecked: %v\n\n%s", source, checked, hint)
	}

	return paths, nil
}

// ParseLogSource parses a string into a LogSource.
func ParseLogSource(s string) LogSource {
	switch s {
	case "daemon":
		return LogSourceDaemon
	case "all":
		return LogSourceAll
	default:
		return LogSourceEngine
	}
}

// getLogHint returns a helpful message on how to generate logs for the given source.
func getLogHint(source LogSource) string {
	switch source {
	case LogSourceEngine:
		return "To generate engine logs:\n  driveseek --verbose index"
	case LogSourceDaemon:
		return "To generate daemon logs:\n  driveseek daemon"
	case LogSourceAll:
		return "To generate logs:\n  Engine: driveseek --verbose index\n  Daemon: driveseek daemon"
	default:
		return ""
	}
}
