package preflight

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// MinInotifyWatches is the watch budget below which the filesystem
// watcher is likely to run out on a large drive.
const MinInotifyWatches = 65536

const inotifyWatchesPath = "/proc/sys/fs/inotify/max_user_watches"

// CheckDrive checks that a configured drive root exists and can be
// listed.
func (c *Checker) CheckDrive(root string) CheckResult {
	result := CheckResult{
		Name:     "drive " + root,
		Required: true,
	}

	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			result.Status = StatusFail
			result.Message = "does not exist"
			return result
		}
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot stat: %v", err)
		return result
	}
	if !info.IsDir() {
		result.Status = StatusFail
		result.Message = "not a directory"
		return result
	}

	// Listing one entry proves read permission without walking the
	// whole tree. An empty drive reads back io.EOF, which is fine.
	f, err := os.Open(root)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot open: %v", err)
		return result
	}
	defer f.Close()
	if _, err := f.ReadDir(1); err != nil && !errors.Is(err, io.EOF) {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot list: %v", err)
		return result
	}

	result.Status = StatusPass
	result.Message = "readable"
	return result
}

// CheckWatchCapacity checks the kernel's inotify watch budget. The
// watcher registers one watch per directory, so a large drive can
// exhaust a default-sized budget.
func (c *Checker) CheckWatchCapacity() CheckResult {
	return c.checkWatchCapacityFromFile(inotifyWatchesPath)
}

func (c *Checker) checkWatchCapacityFromFile(path string) CheckResult {
	result := CheckResult{
		Name:     "inotify_watches",
		Required: false,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		// Non-Linux platforms have no inotify budget to check.
		result.Status = StatusPass
		result.Message = "not applicable on this platform"
		return result
	}

	limit, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("unreadable limit: %v", err)
		return result
	}

	if limit < MinInotifyWatches {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%d (recommended: %d)", limit, MinInotifyWatches)
		result.Details = fmt.Sprintf("Run 'sysctl fs.inotify.max_user_watches=%d' to raise it", MinInotifyWatches)
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%d (recommended: %d)", limit, MinInotifyWatches)
	return result
}
