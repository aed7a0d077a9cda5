// Package logging provides opt-in file-based logging with rotation for driveseek.
// When the --verbose flag is set, comprehensive logs are written to ~/.driveseek/logs/
// for debugging and troubleshooting.
//
// By default (without --verbose), logging is minimal and goes to stderr only.
package logging
