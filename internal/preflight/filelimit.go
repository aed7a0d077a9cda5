package preflight

import (
	"fmt"
	"syscall"
)

// MinFileDescriptors is the soft-limit floor for open files. Scan
// workers hold directory handles concurrently, and the daemon adds
// the socket, the catalog and its WAL on top.
const MinFileDescriptors = 1024

// CheckFileDescriptors verifies the process may open enough files to
// scan and serve at the same time.
func (c *Checker) CheckFileDescriptors() CheckResult {
	result := CheckResult{
		Name:     "file_descriptors",
		Required: true,
	}

	var limit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot read RLIMIT_NOFILE: %v", err)
		return result
	}

	result.Message = fmt.Sprintf("%d (minimum: %d)", limit.Cur, MinFileDescriptors)

	if limit.Cur < MinFileDescriptors {
		result.Status = StatusFail
		if limit.Max >= MinFileDescriptors {
			result.Details = fmt.Sprintf(
				"the hard limit allows %d; raise the soft limit with 'ulimit -n %d'",
				limit.Max, MinFileDescriptors)
		} else {
			result.Details = "raise the hard limit in limits.conf, then 'ulimit -n'"
		}
		return result
	}

	result.Status = StatusPass
	return result
}
