package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	// MaxBackups caps how many backups of a config file are kept.
	// Writing a new backup prunes the oldest ones beyond the cap.
	MaxBackups = 3

	// BackupSuffix separates the config name from the timestamp in
	// backup filenames, e.g. config.yaml.bak.20260101-100000.
	BackupSuffix = ".bak"
)

// backupTimeFormat keeps backup names filesystem-safe and sortable.
const backupTimeFormat = "20060102-150405"

// BackupConfigFile copies configPath to a timestamped sibling file.
// Returns the backup path, or an empty string when no config exists.
func BackupConfigFile(configPath string) (string, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read config for backup: %w", err)
	}

	backupPath := configPath + BackupSuffix + "." + time.Now().Format(backupTimeFormat)
	if err := os.WriteFile(backupPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}

	pruneBackups(configPath)

	return backupPath, nil
}

// BackupUserConfig backs up the user config file, if one exists.
func BackupUserConfig() (string, error) {
	return BackupConfigFile(GetUserConfigPath())
}

// ListConfigBackups returns the backups of configPath, newest first.
func ListConfigBackups(configPath string) ([]string, error) {
	configDir := filepath.Dir(configPath)

	entries, err := os.ReadDir(configDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list config directory: %w", err)
	}

	type backup struct {
		path    string
		modTime time.Time
	}

	prefix := filepath.Base(configPath) + BackupSuffix + "."
	var found []backup
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		found = append(found, backup{
			path:    filepath.Join(configDir, entry.Name()),
			modTime: info.ModTime(),
		})
	}

	sort.Slice(found, func(i, j int) bool {
		return found[i].modTime.After(found[j].modTime)
	})

	paths := make([]string, len(found))
	for i, b := range found {
		paths[i] = b.path
	}
	return paths, nil
}

// ListUserConfigBackups returns the backups of the user config, newest first.
func ListUserConfigBackups() ([]string, error) {
	return ListConfigBackups(GetUserConfigPath())
}

// pruneBackups removes the oldest backups of configPath beyond MaxBackups.
// Removal is best-effort: a backup that cannot be deleted never fails the
// write that triggered the prune.
func pruneBackups(configPath string) {
	backups, err := ListConfigBackups(configPath)
	if err != nil {
		return
	}
	for _, path := range backups[min(len(backups), MaxBackups):] {
		_ = os.Remove(path)
	}
}

// RestoreConfigFile replaces the config at configPath with the contents
// of backupPath. The current config, if any, is backed up first so a
// restore can itself be undone.
func RestoreConfigFile(backupPath, configPath string) error {
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return fmt.Errorf("failed to read backup: %w", err)
	}

	if _, err := BackupConfigFile(configPath); err != nil {
		return fmt.Errorf("failed to back up current config before restore: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write restored config: %w", err)
	}

	return nil
}

// RestoreUserConfig restores the user config from a backup file.
func RestoreUserConfig(backupPath string) error {
	return RestoreConfigFile(backupPath, GetUserConfigPath())
}
