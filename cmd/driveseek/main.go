// Package main provides the entry point for the driveseek CLI.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/driveseek/driveseek/cmd/driveseek/cmd"
	seekerrors "github.com/driveseek/driveseek/internal/errors"
)

// Scripts wrapping driveseek can branch on the exit code instead of
// parsing stderr: 3 means the index is still building, 4 means the
// daemon could not be reached or is already running.
const (
	exitOK       = 0
	exitError    = 1
	exitNotReady = 3
	exitDaemon   = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	err := cmd.Execute()
	if err == nil {
		return exitOK
	}

	var se *seekerrors.SeekError
	if !errors.As(err, &se) {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return exitError
	}

	fmt.Fprint(os.Stderr, seekerrors.FormatForCLI(se))
	switch se.Code {
	case seekerrors.ErrCodeIndexNotReady:
		return exitNotReady
	case seekerrors.ErrCodeDaemonUnreachable, seekerrors.ErrCodeDaemonRunning, seekerrors.ErrCodeSocketFailed:
		return exitDaemon
	default:
		return exitError
	}
}
