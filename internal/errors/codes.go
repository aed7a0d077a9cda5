// Package errors provides structured error handling for driveseek.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Index build errors
//   - 2XX: Search errors
//   - 3XX: Snapshot/storage errors
//   - 4XX: Configuration errors
//   - 5XX: Daemon and internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryIndex indicates index build and lifecycle errors.
	CategoryIndex Category = "INDEX"
	// CategorySearch indicates query and search errors.
	CategorySearch Category = "SEARCH"
	// CategoryStorage indicates snapshot and database errors.
	CategoryStorage Category = "STORAGE"
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryInternal indicates daemon and unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Index build errors (100-199)
	ErrCodeBuildFailed       = "ERR_101_BUILD_FAILED"
	ErrCodeDriveUnavailable  = "ERR_102_DRIVE_UNAVAILABLE"
	ErrCodeWalkAborted       = "ERR_103_WALK_ABORTED"
	ErrCodeInvalidTransition = "ERR_104_INVALID_TRANSITION"
	ErrCodeUnknownDrive      = "ERR_105_UNKNOWN_DRIVE"

	// Search errors (200-299)
	ErrCodeIndexNotReady    = "ERR_201_INDEX_NOT_READY"
	ErrCodeSearchSuperseded = "ERR_202_SEARCH_SUPERSEDED"
	ErrCodeInvalidScope     = "ERR_203_INVALID_SCOPE"

	// Snapshot/storage errors (300-399)
	ErrCodeSnapshotCorrupt  = "ERR_301_SNAPSHOT_CORRUPT"
	ErrCodeSnapshotIO       = "ERR_302_SNAPSHOT_IO"
	ErrCodeSnapshotDisabled = "ERR_303_SNAPSHOT_DISABLED"

	// Config errors (400-499)
	ErrCodeConfigInvalid = "ERR_401_CONFIG_INVALID"
	ErrCodeConfigIO      = "ERR_402_CONFIG_IO"

	// Daemon and internal errors (500-599)
	ErrCodeDaemonRunning     = "ERR_501_DAEMON_RUNNING"
	ErrCodeSocketFailed      = "ERR_502_SOCKET_FAILED"
	ErrCodeLockHeld          = "ERR_503_LOCK_HELD"
	ErrCodeDaemonUnreachable = "ERR_504_DAEMON_UNREACHABLE"
	ErrCodeInternal          = "ERR_505_INTERNAL"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "101" from "ERR_101_BUILD_FAILED")
	numStr := code[4:7]
	if len(numStr) < 1 {
		return CategoryInternal
	}

	switch numStr[0] {
	case '1':
		return CategoryIndex
	case '2':
		return CategorySearch
	case '3':
		return CategoryStorage
	case '4':
		return CategoryConfig
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	// Fatal errors
	switch code {
	case ErrCodeSnapshotCorrupt, ErrCodeLockHeld:
		return SeverityFatal
	}

	// Retryable errors get warning severity
	if isRetryableCode(code) {
		return SeverityWarning
	}

	// Default to error severity
	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeDriveUnavailable, ErrCodeIndexNotReady, ErrCodeDaemonUnreachable:
		return true
	default:
		return false
	}
}
