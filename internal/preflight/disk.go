package preflight

import (
	"fmt"
	"syscall"
)

// MinFreeDiskBytes is the free-space floor for the data directory
// (200MB). The snapshot catalog plus its WAL for a million-record
// drive lands well under that, so hitting the floor means the disk
// is effectively full.
const MinFreeDiskBytes = 200 * 1024 * 1024

// CheckDiskSpace verifies the filesystem holding the data directory
// has room for snapshots and logs.
func (c *Checker) CheckDiskSpace(path string) CheckResult {
	result := CheckResult{
		Name:     "disk_space",
		Required: true,
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot stat filesystem: %v", err)
		return result
	}

	free := stat.Bavail * uint64(stat.Bsize)
	result.Message = fmt.Sprintf("%s free (minimum: %s)",
		formatBytes(free), formatBytes(MinFreeDiskBytes))

	if free < MinFreeDiskBytes {
		result.Status = StatusFail
		result.Details = "snapshots cannot be written; free space on the data directory's filesystem"
		return result
	}

	result.Status = StatusPass
	return result
}

// formatBytes renders a byte count in the largest unit that keeps the
// number above one.
func formatBytes(n uint64) string {
	units := []string{"KB", "MB", "GB", "TB"}

	if n < 1024 {
		return fmt.Sprintf("%d bytes", n)
	}
	v := float64(n)
	unit := ""
	for _, u := range units {
		v /= 1024
		unit = u
		if v < 1024 {
			break
		}
	}
	return fmt.Sprintf("%.1f %s", v, unit)
}
