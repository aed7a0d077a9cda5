package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete driveseek configuration.
type Config struct {
	Version int `yaml:"version" json:"version"`

	// DataDir is the directory holding index snapshots, telemetry and
	// daemon runtime files. Defaults to ~/.driveseek.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	Drives    DrivesConfig    `yaml:"drives" json:"drives"`
	Scan      ScanConfig      `yaml:"scan" json:"scan"`
	Index     IndexConfig     `yaml:"index" json:"index"`
	Search    SearchConfig    `yaml:"search" json:"search"`
	Daemon    DaemonConfig    `yaml:"daemon" json:"daemon"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
}

// DrivesConfig configures which drive roots are indexed.
type DrivesConfig struct {
	// Roots are the directory trees indexed as independent drives.
	// Empty means "the user's home directory".
	Roots []string `yaml:"roots" json:"roots"`

	// Exclude lists paths and names skipped during scans. Absolute
	// entries are prefix matches, entries with wildcards are matched
	// against the base name, plain entries match the base name exactly.
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// ScanConfig configures the filesystem walker and watcher.
type ScanConfig struct {
	// FollowSymlinks walks through symlinked directories. Off by default
	// to avoid cycles and double counting.
	FollowSymlinks bool `yaml:"follow_symlinks" json:"follow_symlinks"`

	// SkipHidden leaves dotfiles out of the index entirely. Default is
	// to index them; they stay filterable via attrib:h.
	SkipHidden bool `yaml:"skip_hidden" json:"skip_hidden"`

	// Watch keeps indexes fresh with filesystem notifications.
	Watch bool `yaml:"watch" json:"watch"`

	// WatchDebounce is how long to coalesce change bursts before
	// applying them (e.g., "500ms").
	WatchDebounce string `yaml:"watch_debounce" json:"watch_debounce"`
}

// IndexConfig configures index building and persistence.
type IndexConfig struct {
	// MaxConcurrentBuilds caps how many drives build at once.
	MaxConcurrentBuilds int `yaml:"max_concurrent_builds" json:"max_concurrent_builds"`

	// WarmStart loads persisted snapshots at startup instead of
	// rescanning everything.
	WarmStart bool `yaml:"warm_start" json:"warm_start"`

	Snapshot SnapshotConfig `yaml:"snapshot" json:"snapshot"`
}

// SnapshotConfig configures on-disk index persistence.
type SnapshotConfig struct {
	// Enabled persists each ready generation to the snapshot catalog.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Path is the snapshot catalog database. Empty means
	// <data_dir>/catalog.db.
	Path string `yaml:"path" json:"path"`
}

// SearchConfig configures query execution.
type SearchConfig struct {
	// MaxResults caps results collected per drive per search.
	MaxResults int `yaml:"max_results" json:"max_results"`

	// BatchSize is how many results each streamed batch carries.
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// QueryCacheSize is the compiled-query LRU capacity. Zero uses the
	// built-in default.
	QueryCacheSize int `yaml:"query_cache_size" json:"query_cache_size"`
}

// DaemonConfig configures the background daemon.
type DaemonConfig struct {
	// Socket is the unix socket the daemon listens on. Empty means
	// <data_dir>/daemon.sock.
	Socket string `yaml:"socket" json:"socket"`

	// RequestTimeout bounds a single daemon request (e.g., "30s").
	RequestTimeout string `yaml:"request_timeout" json:"request_timeout"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`

	// Dir is where log files are written. Empty means <data_dir>/logs.
	Dir string `yaml:"dir" json:"dir"`

	// MaxSizeMB rotates the log file when it exceeds this size.
	MaxSizeMB int `yaml:"max_size_mb" json:"max_size_mb"`

	// MaxFiles is how many rotated files to keep.
	MaxFiles int `yaml:"max_files" json:"max_files"`
}

// TelemetryConfig configures local query metrics.
type TelemetryConfig struct {
	// Enabled records per-query latency and counts. Everything stays on
	// the local machine.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Path is the metrics database. Empty means <data_dir>/telemetry.db.
	Path string `yaml:"path" json:"path"`

	// RecentQueries is how many recent query strings to keep in memory.
	RecentQueries int `yaml:"recent_queries" json:"recent_queries"`
}

// defaultExcludePatterns are always excluded.
var defaultExcludePatterns = []string{
	"/proc",
	"/sys",
	"/dev",
	"/run",
	"$RECYCLE.BIN",
	"System Volume Information",
	"lost+found",
	".Trash-*",
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		DataDir: DefaultDataDir(),
		Drives: DrivesConfig{
			Roots:   []string{},
			Exclude: defaultExcludePatterns,
		},
		Scan: ScanConfig{
			FollowSymlinks: false,
			SkipHidden:     false,
			Watch:          true,
			WatchDebounce:  "500ms",
		},
		Index: IndexConfig{
			MaxConcurrentBuilds: 2,
			WarmStart:           true,
			Snapshot: SnapshotConfig{
				Enabled: true,
				Path:    "", // Empty uses <data_dir>/catalog.db
			},
		},
		Search: SearchConfig{
			MaxResults:     1000,
			BatchSize:      200,
			QueryCacheSize: 256,
		},
		Daemon: DaemonConfig{
			Socket:         "", // Empty uses <data_dir>/daemon.sock
			RequestTimeout: "30s",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Dir:       "", // Empty uses <data_dir>/logs
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
		Telemetry: TelemetryConfig{
			Enabled:       true,
			Path:          "", // Empty uses <data_dir>/telemetry.db
			RecentQueries: 100,
		},
	}
}

// DefaultDataDir returns the default data directory (~/.driveseek).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to temp directory
		return filepath.Join(os.TempDir(), ".driveseek")
	}
	return filepath.Join(home, ".driveseek")
}

// GetUserConfigPath returns the path to the user configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/driveseek/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/driveseek/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "driveseek", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback - should rarely happen
		return filepath.Join(os.TempDir(), ".config", "driveseek", "config.yaml")
	}
	return filepath.Join(home, ".config", "driveseek", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist (that's OK).
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()

	// Check if file exists
	if !fileExists(configPath) {
		return nil, nil // No user config is fine
	}

	// Load the config
	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}

	return cfg, nil
}

// Load loads configuration. It applies sources in order of increasing
// precedence:
//  1. Hardcoded defaults
//  2. User config (~/.config/driveseek/config.yaml)
//  3. Explicit config file (the --config flag), when path is non-empty
//  4. Environment variables (DRIVESEEK_*)
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	// Step 1: Load user config (if exists)
	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	// Step 2: Load explicit config file (overrides user config)
	if path != "" {
		if !fileExists(path) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	// Step 3: Apply environment variable overrides (highest precedence)
	cfg.applyEnvOverrides()

	// Step 4: Validate the final configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	// Use a temporary struct for parsing to detect type errors
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// Merge parsed values with defaults (only non-zero values)
	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.DataDir != "" {
		c.DataDir = other.DataDir
	}

	// Drives
	if len(other.Drives.Roots) > 0 {
		c.Drives.Roots = other.Drives.Roots
	}
	if len(other.Drives.Exclude) > 0 {
		// Merge with defaults rather than replace
		c.Drives.Exclude = append(c.Drives.Exclude, other.Drives.Exclude...)
	}

	// Scan
	// Booleans can't distinguish "not set" from "set to false", so they
	// only merge when some other scan field signals the section was
	// present in the file.
	if other.Scan.WatchDebounce != "" {
		c.Scan.FollowSymlinks = other.Scan.FollowSymlinks
		c.Scan.SkipHidden = other.Scan.SkipHidden
		c.Scan.Watch = other.Scan.Watch
		c.Scan.WatchDebounce = other.Scan.WatchDebounce
	}

	// Index
	if other.Index.MaxConcurrentBuilds != 0 {
		c.Index.MaxConcurrentBuilds = other.Index.MaxConcurrentBuilds
		c.Index.WarmStart = other.Index.WarmStart
	}
	if other.Index.Snapshot.Path != "" {
		c.Index.Snapshot.Path = other.Index.Snapshot.Path
		c.Index.Snapshot.Enabled = other.Index.Snapshot.Enabled
	}

	// Search
	if other.Search.MaxResults != 0 {
		c.Search.MaxResults = other.Search.MaxResults
	}
	if other.Search.BatchSize != 0 {
		c.Search.BatchSize = other.Search.BatchSize
	}
	if other.Search.QueryCacheSize != 0 {
		c.Search.QueryCacheSize = other.Search.QueryCacheSize
	}

	// Daemon
	if other.Daemon.Socket != "" {
		c.Daemon.Socket = other.Daemon.Socket
	}
	if other.Daemon.RequestTimeout != "" {
		c.Daemon.RequestTimeout = other.Daemon.RequestTimeout
	}

	// Logging
	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.Dir != "" {
		c.Logging.Dir = other.Logging.Dir
	}
	if other.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = other.Logging.MaxSizeMB
	}
	if other.Logging.MaxFiles != 0 {
		c.Logging.MaxFiles = other.Logging.MaxFiles
	}

	// Telemetry
	if other.Telemetry.RecentQueries != 0 || other.Telemetry.Path != "" {
		c.Telemetry.Enabled = other.Telemetry.Enabled
	}
	if other.Telemetry.Path != "" {
		c.Telemetry.Path = other.Telemetry.Path
	}
	if other.Telemetry.RecentQueries != 0 {
		c.Telemetry.RecentQueries = other.Telemetry.RecentQueries
	}
}

// applyEnvOverrides applies DRIVESEEK_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DRIVESEEK_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	// Drive roots, separated by the platform list separator
	if v := os.Getenv("DRIVESEEK_DRIVES"); v != "" {
		if roots := filepath.SplitList(v); len(roots) > 0 {
			c.Drives.Roots = roots
		}
	}
	if v := os.Getenv("DRIVESEEK_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("DRIVESEEK_SOCKET"); v != "" {
		c.Daemon.Socket = v
	}
	if v := os.Getenv("DRIVESEEK_MAX_RESULTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.MaxResults = n
		}
	}
	if v := os.Getenv("DRIVESEEK_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.BatchSize = n
		}
	}
	if v := os.Getenv("DRIVESEEK_WATCH_DEBOUNCE"); v != "" {
		c.Scan.WatchDebounce = v
	}
	if v := os.Getenv("DRIVESEEK_SNAPSHOT"); v != "" {
		c.Index.Snapshot.Enabled = isTruthy(v)
	}
	if v := os.Getenv("DRIVESEEK_TELEMETRY"); v != "" {
		c.Telemetry.Enabled = isTruthy(v)
	}
}

// isTruthy interprets boolean-ish env var values.
func isTruthy(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	// Validate log level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}

	// Validate search limits
	if c.Search.MaxResults <= 0 {
		return fmt.Errorf("search.max_results must be positive, got %d", c.Search.MaxResults)
	}
	if c.Search.BatchSize <= 0 {
		return fmt.Errorf("search.batch_size must be positive, got %d", c.Search.BatchSize)
	}
	if c.Search.BatchSize > c.Search.MaxResults {
		return fmt.Errorf("search.batch_size (%d) must not exceed search.max_results (%d)", c.Search.BatchSize, c.Search.MaxResults)
	}
	if c.Search.QueryCacheSize < 0 {
		return fmt.Errorf("search.query_cache_size must be non-negative, got %d", c.Search.QueryCacheSize)
	}

	// Validate index options
	if c.Index.MaxConcurrentBuilds < 1 {
		return fmt.Errorf("index.max_concurrent_builds must be at least 1, got %d", c.Index.MaxConcurrentBuilds)
	}

	// Validate durations
	if d, err := time.ParseDuration(c.Scan.WatchDebounce); err != nil || d < 0 {
		return fmt.Errorf("scan.watch_debounce must be a non-negative duration, got %s", c.Scan.WatchDebounce)
	}
	if d, err := time.ParseDuration(c.Daemon.RequestTimeout); err != nil || d <= 0 {
		return fmt.Errorf("daemon.request_timeout must be a positive duration, got %s", c.Daemon.RequestTimeout)
	}

	// Validate drive roots are absolute
	for _, root := range c.Drives.Roots {
		if !filepath.IsAbs(expandHome(root)) {
			return fmt.Errorf("drives.roots entries must be absolute paths, got %s", root)
		}
	}

	if c.Telemetry.RecentQueries < 0 {
		return fmt.Errorf("telemetry.recent_queries must be non-negative, got %d", c.Telemetry.RecentQueries)
	}

	return nil
}

// Roots returns the cleaned drive roots to index. An empty configuration
// falls back to the user's home directory.
func (c *Config) Roots() []string {
	if len(c.Drives.Roots) == 0 {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		return []string{home}
	}

	roots := make([]string, 0, len(c.Drives.Roots))
	for _, root := range c.Drives.Roots {
		roots = append(roots, filepath.Clean(expandHome(root)))
	}
	return roots
}

// expandHome expands a leading ~ to the user's home directory.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
	}
	return path
}

// ResolvedDataDir returns the data directory, falling back to the default.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir != "" {
		return filepath.Clean(expandHome(c.DataDir))
	}
	return DefaultDataDir()
}

// LogDir returns the log directory.
func (c *Config) LogDir() string {
	if c.Logging.Dir != "" {
		return filepath.Clean(expandHome(c.Logging.Dir))
	}
	return filepath.Join(c.ResolvedDataDir(), "logs")
}

// SnapshotPath returns the snapshot catalog database path.
func (c *Config) SnapshotPath() string {
	if c.Index.Snapshot.Path != "" {
		return filepath.Clean(expandHome(c.Index.Snapshot.Path))
	}
	return filepath.Join(c.ResolvedDataDir(), "catalog.db")
}

// TelemetryPath returns the telemetry database path.
func (c *Config) TelemetryPath() string {
	if c.Telemetry.Path != "" {
		return filepath.Clean(expandHome(c.Telemetry.Path))
	}
	return filepath.Join(c.ResolvedDataDir(), "telemetry.db")
}

// SocketPath returns the daemon unix socket path.
func (c *Config) SocketPath() string {
	if c.Daemon.Socket != "" {
		return filepath.Clean(expandHome(c.Daemon.Socket))
	}
	return filepath.Join(c.ResolvedDataDir(), "daemon.sock")
}

// PIDPath returns the daemon pidfile path.
func (c *Config) PIDPath() string {
	return filepath.Join(c.ResolvedDataDir(), "daemon.pid")
}

// LockPath returns the data-dir lock file path.
func (c *Config) LockPath() string {
	return filepath.Join(c.ResolvedDataDir(), "daemon.lock")
}

// WatchDebounce returns the parsed watch debounce interval. Validate has
// already checked it parses.
func (c *Config) WatchDebounce() time.Duration {
	d, err := time.ParseDuration(c.Scan.WatchDebounce)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}

// RequestTimeout returns the parsed daemon request timeout.
func (c *Config) RequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.Daemon.RequestTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// MergeNewDefaults adds new default fields while preserving existing values.
// Returns a list of field names that were added with their default values.
func (c *Config) MergeNewDefaults() []string {
	defaults := NewConfig()
	var added []string

	if c.Search.MaxResults == 0 {
		c.Search.MaxResults = defaults.Search.MaxResults
		added = append(added, "search.max_results")
	}
	if c.Search.BatchSize == 0 {
		c.Search.BatchSize = defaults.Search.BatchSize
		added = append(added, "search.batch_size")
	}
	if c.Search.QueryCacheSize == 0 {
		c.Search.QueryCacheSize = defaults.Search.QueryCacheSize
		added = append(added, "search.query_cache_size")
	}

	if c.Index.MaxConcurrentBuilds == 0 {
		c.Index.MaxConcurrentBuilds = defaults.Index.MaxConcurrentBuilds
		added = append(added, "index.max_concurrent_builds")
	}

	if c.Scan.WatchDebounce == "" {
		c.Scan.WatchDebounce = defaults.Scan.WatchDebounce
		added = append(added, "scan.watch_debounce")
	}

	if c.Daemon.RequestTimeout == "" {
		c.Daemon.RequestTimeout = defaults.Daemon.RequestTimeout
		added = append(added, "daemon.request_timeout")
	}

	if c.Logging.Level == "" {
		c.Logging.Level = defaults.Logging.Level
		added = append(added, "logging.level")
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = defaults.Logging.MaxSizeMB
		added = append(added, "logging.max_size_mb")
	}
	if c.Logging.MaxFiles == 0 {
		c.Logging.MaxFiles = defaults.Logging.MaxFiles
		added = append(added, "logging.max_files")
	}

	if c.Telemetry.RecentQueries == 0 {
		c.Telemetry.RecentQueries = defaults.Telemetry.RecentQueries
		added = append(added, "telemetry.recent_queries")
	}

	return added
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
