package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/CO3302Group3/convoy/internal/client"
)

// Exit codes:
//
//	0  success
//	1  validation or usage failure
//	2  bring-up aborted
//	3  teardown timed out
const (
	exitOK         = 0
	exitValidation = 1
	exitAborted    = 2
	exitTeardown   = 3
)

// errAborted marks a bring-up that ended in run.aborted.
var errAborted = errors.New("bring-up aborted")

func main() {
	os.Exit(run())
}

func run() int {
	err := rootCmd.Execute()
	if err == nil {
		return exitOK
	}

	fmt.Fprintf(os.Stderr, "convoy: %v\n", err)
	return exitCode(err)
}

// exitCode maps a command error to the process exit code.
func exitCode(err error) int {
	var timeoutErr *client.TeardownTimeoutError
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errAborted):
		return exitAborted
	case errors.As(err, &timeoutErr):
		return exitTeardown
	default:
		return exitValidation
	}
}
