// Package main provides receiptctl, the command-line client for the
// warehouse receipt lifecycle service.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/mesh-intelligence/receipts/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "receiptctl:", err)
		return exitCode(err)
	}
	return exitSuccess
}

// exitCode maps the error taxonomy onto exit codes: anything the caller can
// fix is a user error.
func exitCode(err error) int {
	switch {
	case errors.Is(err, types.ErrValidation),
		errors.Is(err, types.ErrNotFound),
		errors.Is(err, types.ErrStateConflict),
		errors.Is(err, types.ErrPermission),
		errors.Is(err, errUsage):
		return exitUserError
	}
	return exitSysError
}
