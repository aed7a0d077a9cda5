package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// MarkerFile marks a data directory whose checks have passed, so the
// index command skips them until the marker goes stale.
const MarkerFile = ".preflight-ok"

// DefaultMarkerMaxAge is how long a passed check stays trusted.
const DefaultMarkerMaxAge = 7 * 24 * time.Hour

// NeedsCheck returns true if preflight checks should run: no marker,
// or a marker older than maxAge. maxAge <= 0 means markers never
// expire.
func NeedsCheck(dataDir string, maxAge time.Duration) bool {
	age, ok := markerAge(dataDir)
	if !ok {
		return true
	}
	return maxAge > 0 && age > maxAge
}

// MarkPassed records that preflight checks passed.
func MarkPassed(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create marker directory: %w", err)
	}
	content := []byte(time.Now().UTC().Format(time.RFC3339))
	return os.WriteFile(filepath.Join(dataDir, MarkerFile), content, 0o644)
}

// ClearMarker removes the marker, forcing a re-check on next run.
func ClearMarker(dataDir string) error {
	err := os.Remove(filepath.Join(dataDir, MarkerFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("remove marker file: %w", err)
	}
	return nil
}

// MarkerAge returns how long ago the checks passed, zero if the
// marker is missing or unreadable.
func MarkerAge(dataDir string) time.Duration {
	age, _ := markerAge(dataDir)
	return age
}

func markerAge(dataDir string) (time.Duration, bool) {
	content, err := os.ReadFile(filepath.Join(dataDir, MarkerFile))
	if err != nil {
		return 0, false
	}
	t, err := time.Parse(time.RFC3339, string(content))
	if err != nil {
		return 0, false
	}
	return time.Since(t), true
}
