package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Edge Case Tests - These test scenarios that could cause silent failures
// or unexpected behavior.

// =============================================================================
// Config Merge Edge Cases
// =============================================================================

// TestLoad_ZeroValuesNotMerged tests that explicit zero values in config
// don't override defaults (potential silent failure).
func TestLoad_ZeroValuesNotMerged(t *testing.T) {
	// Given: config with explicit zero values
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	tmpDir := t.TempDir()
	configContent := `
version: 1
search:
  batch_size: 0
telemetry:
  recent_queries: 0
`
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0o644))

	// When: loading configuration
	cfg, err := Load(configPath)

	// Then: defaults are kept (zero values don't override)
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.Search.BatchSize, "Zero should not override default batch_size")
	assert.Equal(t, 100, cfg.Telemetry.RecentQueries, "Zero should not override default recent_queries")
	// Note: This documents the "can't set to zero" limitation
}

// TestLoad_NegativeValues_Validated tests that negative values are
// rejected by validation.
func TestLoad_NegativeValues_Validated(t *testing.T) {
	// Given: config with negative max_results
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	tmpDir := t.TempDir()
	configContent := `
version: 1
search:
  max_results: -10
`
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0o644))

	// When: loading configuration
	cfg, err := Load(configPath)

	// Then: validation error is returned
	require.Error(t, err)
	require.Nil(t, cfg)
	assert.Contains(t, err.Error(), "max_results")
}

// TestLoad_SnapshotPathOverride_CarriesEnabledFlag tests that a snapshot
// section with a path also applies its enabled flag.
func TestLoad_SnapshotPathOverride_CarriesEnabledFlag(t *testing.T) {
	// Given: a snapshot section disabling persistence at a custom path
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	tmpDir := t.TempDir()
	configContent := `
version: 1
index:
  snapshot:
    enabled: false
    path: /fast-disk/catalog.db
`
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0o644))

	// When: loading configuration
	cfg, err := Load(configPath)

	// Then: both fields apply together
	require.NoError(t, err)
	assert.False(t, cfg.Index.Snapshot.Enabled)
	assert.Equal(t, "/fast-disk/catalog.db", cfg.SnapshotPath())
}

// =============================================================================
// Config File Permission Edge Cases
// =============================================================================

// TestLoad_UnreadableConfigFile_ReturnsError tests that unreadable config
// files return an error.
func TestLoad_UnreadableConfigFile_ReturnsError(t *testing.T) {
	// Skip on CI or if running as root
	if os.Getuid() == 0 {
		t.Skip("Test requires non-root user")
	}

	// Given: a config file with no read permissions
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("version: 1"), 0o000))
	defer func() { _ = os.Chmod(configPath, 0o644) }()

	// When: loading configuration
	cfg, err := Load(configPath)

	// Then: error should be returned
	require.Error(t, err, "Load should fail for unreadable config file")
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "read", "Error should mention read failure")
}

// =============================================================================
// Path Helper Edge Cases
// =============================================================================

// TestExpandHome_Variants tests tilde expansion corner cases.
func TestExpandHome_Variants(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	tests := []struct {
		name     string
		path     string
		expected string
	}{
		{"bare tilde", "~", home},
		{"tilde slash", "~/docs", filepath.Join(home, "docs")},
		{"absolute untouched", "/mnt/data", "/mnt/data"},
		{"tilde mid-path untouched", "/mnt/~data", "/mnt/~data"},
		{"tilde user untouched", "~other/docs", "~other/docs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, expandHome(tt.path))
		})
	}
}

// TestIsTruthy_Variants tests boolean env var parsing.
func TestIsTruthy_Variants(t *testing.T) {
	tests := []struct {
		value    string
		expected bool
	}{
		{"true", true},
		{"TRUE", true},
		{"1", true},
		{"yes", true},
		{"on", true},
		{" true ", true},
		{"false", false},
		{"0", false},
		{"no", false},
		{"", false},
		{"maybe", false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			assert.Equal(t, tt.expected, isTruthy(tt.value))
		})
	}
}

// TestWatchDebounce_BadValueFallsBack tests the parsed-duration fallback.
// Validate normally rejects bad values; the method still has to cope when
// a Config is built by hand.
func TestWatchDebounce_BadValueFallsBack(t *testing.T) {
	cfg := NewConfig()
	cfg.Scan.WatchDebounce = "garbage"

	assert.Equal(t, 500*time.Millisecond, cfg.WatchDebounce())
}

// TestRequestTimeout_BadValueFallsBack tests the same fallback for the
// daemon request timeout.
func TestRequestTimeout_BadValueFallsBack(t *testing.T) {
	cfg := NewConfig()
	cfg.Daemon.RequestTimeout = "garbage"

	assert.Equal(t, 30*time.Second, cfg.RequestTimeout())
}

// =============================================================================
// Config JSON Marshaling Edge Cases
// =============================================================================

// TestConfig_JSON_RoundTrip tests that config can be marshaled to JSON
// and back without data loss for JSON-accessible fields.
func TestConfig_JSON_RoundTrip(t *testing.T) {
	// Given: a configuration with custom values
	cfg := NewConfig()
	cfg.Drives.Roots = []string{"/mnt/data"}
	cfg.Search.MaxResults = 2000
	cfg.Search.BatchSize = 100
	cfg.Logging.Level = "debug"

	// When: marshaling to JSON and back
	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	var parsed Config
	err = json.Unmarshal(data, &parsed)
	require.NoError(t, err)

	// Then: all JSON-accessible values are preserved
	assert.Equal(t, []string{"/mnt/data"}, parsed.Drives.Roots)
	assert.Equal(t, 2000, parsed.Search.MaxResults)
	assert.Equal(t, 100, parsed.Search.BatchSize)
	assert.Equal(t, "debug", parsed.Logging.Level)
}

// TestConfig_UnmarshalJSON_InvalidJSON_ReturnsError tests that invalid JSON
// returns an error.
func TestConfig_UnmarshalJSON_InvalidJSON_ReturnsError(t *testing.T) {
	// Given: invalid JSON
	invalidJSON := []byte("{invalid json")

	// When: unmarshaling
	var cfg Config
	err := json.Unmarshal(invalidJSON, &cfg)

	// Then: error is returned
	require.Error(t, err, "Unmarshal should fail for invalid JSON")
}

// =============================================================================
// Data Dir Edge Cases
// =============================================================================

// TestResolvedDataDir_TildeExpanded tests tilde handling in data_dir.
func TestResolvedDataDir_TildeExpanded(t *testing.T) {
	cfg := NewConfig()
	cfg.DataDir = "~/state/driveseek"

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "state", "driveseek"), cfg.ResolvedDataDir())
}
