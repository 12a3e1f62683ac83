// Package localexec runs device shell commands through su with an allowlist.
package localexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/fentz26/pocketd/internal/connectors"
)

const (
	DefaultTimeout   = 10 * time.Second
	DefaultMaxOutput = 5 * 1024 * 1024
)

// DefaultAllowed is the set of binaries pocketd itself invokes.
var DefaultAllowed = []string{
	"input", "dumpsys", "am", "monkey", "cmd", "screencap", "uiautomator",
	"termux-notification", "termux-notification-remove", "which", "grep", "head",
}

// Options configures a LocalExec.
type Options struct {
	// Allowed lists the binaries that may start any pipeline segment.
	Allowed []string
	// SuPath and ShPath default to "su" and "sh".
	SuPath    string
	ShPath    string
	Timeout   time.Duration
	MaxOutput int
}

// LocalExec implements connectors.Shell for the local device.
type LocalExec struct {
	allowed   map[string]bool
	suPath    string
	shPath    string
	timeout   time.Duration
	maxOutput int
}

// New creates a new LocalExec connector.
func New(opts Options) *LocalExec {
	if len(opts.Allowed) == 0 {
		opts.Allowed = DefaultAllowed
	}
	if opts.SuPath == "" {
		opts.SuPath = "su"
	}
	if opts.ShPath == "" {
		opts.ShPath = "sh"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxOutput <= 0 {
		opts.MaxOutput = DefaultMaxOutput
	}

	allowed := make(map[string]bool, len(opts.Allowed))
	for _, name := range opts.Allowed {
		allowed[name] = true
	}
	return &LocalExec{
		allowed:   allowed,
		suPath:    opts.SuPath,
		shPath:    opts.ShPath,
		timeout:   opts.Timeout,
		maxOutput: opts.MaxOutput,
	}
}

// Name returns the connector identifier.
func (l *LocalExec) Name() string {
	return "localexec"
}

// IsAllowed checks that every pipeline segment of command starts with an
// allowed binary.
func (l *LocalExec) IsAllowed(command string) bool {
	if strings.TrimSpace(command) == "" {
		return false
	}
	if strings.ContainsAny(command, "`") || strings.Contains(command, "$(") {
		return false
	}

	segments, ok := splitPipeline(command)
	if !ok {
		return false
	}
	for _, segment := range segments {
		fields := strings.Fields(segment)
		if len(fields) == 0 {
			return false
		}
		if !l.allowed[fields[0]] {
			return false
		}
	}
	return true
}

// Execute runs command if it is allowed. As root the line runs under
// su -c with LD_LIBRARY_PATH unset so system binaries load /system libs.
func (l *LocalExec) Execute(ctx context.Context, command string, opts connectors.ExecOptions) (*connectors.ExecResult, error) {
	if !l.IsAllowed(command) {
		return nil, fmt.Errorf("%w: %s", connectors.ErrCommandNotAllowed, command)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = l.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var execCmd *exec.Cmd
	if opts.Unprivileged {
		execCmd = exec.CommandContext(ctx, l.shPath, "-c", command)
	} else {
		execCmd = exec.CommandContext(ctx, l.suPath, "-c", "unset LD_LIBRARY_PATH; "+command)
	}

	stdout := &cappedBuffer{max: l.maxOutput}
	stderr := &cappedBuffer{max: l.maxOutput}
	execCmd.Stdout = stdout
	execCmd.Stderr = stderr
	// Children of the shell may hold the pipes open after it is killed.
	execCmd.WaitDelay = time.Second

	err := execCmd.Run()

	if ctx.Err() != nil {
		return nil, fmt.Errorf("exec %q: %w", command, ctx.Err())
	}

	exitCode := 0
	if err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			exitCode = exitError.ExitCode()
		} else {
			return nil, fmt.Errorf("exec error: %w", err)
		}
	}

	return &connectors.ExecResult{
		Command:  command,
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// splitPipeline splits a command line on |, ||, &, &&, ; and newlines outside
// of quotes. It reports false for unterminated quotes.
func splitPipeline(command string) ([]string, bool) {
	var (
		segments []string
		current  strings.Builder
		quote    rune
	)
	runes := []rune(command)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
			current.WriteRune(r)
		case r == '\'' || r == '"':
			quote = r
			current.WriteRune(r)
		case r == '|' || r == '&' || r == ';' || r == '\n':
			if (r == '|' || r == '&') && i+1 < len(runes) && runes[i+1] == r {
				i++
			}
			segments = append(segments, current.String())
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	if quote != 0 {
		return nil, false
	}
	return append(segments, current.String()), true
}

// cappedBuffer keeps the first max bytes and silently drops the rest.
type cappedBuffer struct {
	buf bytes.Buffer
	max int
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if room := c.max - c.buf.Len(); room > 0 {
		if len(p) > room {
			c.buf.Write(p[:room])
		} else {
			c.buf.Write(p)
		}
	}
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	return c.buf.String()
}
