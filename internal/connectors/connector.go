// Package connectors defines the shell port pocketd uses to drive the device.
package connectors

import (
	"context"
	"errors"
	"time"
)

// ExecResult holds the result of a command execution.
type ExecResult struct {
	Command  string `json:"command"`
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// OK reports whether the command exited with status zero.
func (r *ExecResult) OK() bool {
	return r != nil && r.ExitCode == 0
}

// ExecOptions tunes a single Execute call.
type ExecOptions struct {
	// Timeout bounds the call; zero uses the executor default.
	Timeout time.Duration
	// Unprivileged runs the command as the daemon user instead of via su.
	Unprivileged bool
}

// ErrCommandNotAllowed is returned when a command is outside the allowlist.
var ErrCommandNotAllowed = errors.New("command not allowed")

// Shell runs shell command lines on the device.
//
// A non-zero exit status is reported through ExecResult, not as an error;
// errors are reserved for commands that could not be run or timed out.
type Shell interface {
	Execute(ctx context.Context, command string, opts ExecOptions) (*ExecResult, error)
}
