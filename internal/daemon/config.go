// Package daemon provides a background service that keeps drive
// indexes resident in memory. CLI search commands connect over a unix
// socket instead of rebuilding the index on every invocation; search
// responses stream result batches as drives report them.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds configuration for the daemon service.
type Config struct {
	// SocketPath is the unix domain socket path for IPC.
	SocketPath string

	// PIDPath is the file path for storing the daemon's process ID.
	PIDPath string

	// LockPath is the lock file guarding one daemon per data
	// directory.
	LockPath string

	// Timeout bounds a single-response request. Streamed search
	// responses are not subject to it.
	Timeout time.Duration

	// ShutdownGracePeriod is the time to wait for in-flight
	// connections during graceful shutdown.
	ShutdownGracePeriod time.Duration
}

// ConfigForDataDir derives daemon paths from a data directory.
func ConfigForDataDir(dataDir string) Config {
	return Config{
		SocketPath:          filepath.Join(dataDir, "daemon.sock"),
		PIDPath:             filepath.Join(dataDir, "daemon.pid"),
		LockPath:            filepath.Join(dataDir, "daemon.lock"),
		Timeout:             30 * time.Second,
		ShutdownGracePeriod: 10 * time.Second,
	}
}

// DefaultConfig returns a Config rooted in ~/.driveseek.
func DefaultConfig() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/tmp"
	}
	return ConfigForDataDir(filepath.Join(home, ".driveseek"))
}

// Validate checks that the configuration is valid.
func (c Config) Validate() error {
	if c.SocketPath == "" {
		return fmt.Errorf("socket path cannot be empty")
	}
	if c.PIDPath == "" {
		return fmt.Errorf("PID path cannot be empty")
	}
	if c.LockPath == "" {
		return fmt.Errorf("lock path cannot be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("shutdown grace period must be positive")
	}
	return nil
}

// EnsureDir creates the directories for the socket, PID and lock
// files if they don't exist.
func (c Config) EnsureDir() error {
	dirs := map[string]struct{}{
		filepath.Dir(c.SocketPath): {},
		filepath.Dir(c.PIDPath):    {},
		filepath.Dir(c.LockPath):   {},
	}
	for dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create daemon directory: %w", err)
		}
	}
	return nil
}
