package errutil

import (
	"errors"
	"log/slog"
	"os"
)

// ErrInvariant marks a broken internal invariant.
var ErrInvariant = errors.New("invariant violated")

// InvariantExitCode is the process exit code used by Assert.
const InvariantExitCode = 70

// exit is replaced in tests.
var exit = os.Exit

// LogMsg logs the error with a custom message if it is not nil.
func LogMsg(err error, msg string, args ...any) {
	if err != nil {
		allArgs := append([]any{"error", err}, args...)
		slog.Warn(msg, allArgs...)
	}
}

// ReportError logs an unexpected error.
// It funnels errors through a centralized reporting mechanism (currently slog).
func ReportError(err error, msg string, args ...any) {
	if err != nil {
		allArgs := append([]any{"error", err}, args...)
		slog.Error(msg, allArgs...)
	}
}

// Assert terminates the process when ok is false.
//
// Only for bookkeeping that, once wrong, makes every later decision wrong.
// Remote and request errors must never reach it.
func Assert(ok bool, msg string, args ...any) {
	if ok {
		return
	}
	ReportError(ErrInvariant, msg, args...)
	exit(InvariantExitCode)
}
