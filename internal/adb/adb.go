// Package adb drives Android devices through the adb debug bridge. It runs
// bridge commands, enumerates attached devices and wraps the handful of
// device-side commands the IUT controller needs (app lifecycle, input taps,
// file pulls, network address lookup).
package adb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os/exec"
	"strings"
	"time"
	"unicode"
)

// ErrNotFound is returned when the adb executable cannot be found.
var ErrNotFound = errors.New("adb: executable not found")

// Runner executes a bridge command, optionally scoped to one device serial,
// and returns its stdout with trailing whitespace removed.
type Runner interface {
	Run(ctx context.Context, serial string, args ...string) (string, error)
}

// CommandFailedError reports a bridge process that exited non-zero.
type CommandFailedError struct {
	Args     []string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *CommandFailedError) Error() string {
	msg := fmt.Sprintf("adb: command failed (exit %d): %s", e.ExitCode, strings.Join(e.Args, " "))
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// ExecRunner runs the adb binary as a child process.
type ExecRunner struct {
	path    string
	timeout time.Duration // per command, 0 means none
}

// Compile-time check that ExecRunner implements Runner.
var _ Runner = (*ExecRunner)(nil)

// NewExecRunner returns a Runner for the adb binary at path ("adb" searches PATH).
func NewExecRunner(path string, timeout time.Duration) *ExecRunner {
	if path == "" {
		path = "adb"
	}
	return &ExecRunner{path: path, timeout: timeout}
}

// Run executes `adb [-s serial] args...`. A non-zero exit returns a
// *CommandFailedError. Commands are never retried.
func (r *ExecRunner) Run(ctx context.Context, serial string, args ...string) (string, error) {
	argv := commandArgs(serial, args)
	slog.Debug("[ADB] exec", "args", append([]string{r.path}, argv...))

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.path, argv...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := strings.TrimRightFunc(stdout.String(), unicode.IsSpace)
	if err == nil {
		return out, nil
	}

	if ctx.Err() != nil {
		return out, fmt.Errorf("adb: %s: %w", strings.Join(argv, " "), ctx.Err())
	}

	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return out, &CommandFailedError{
			Args:     append([]string{r.path}, argv...),
			ExitCode: ee.ExitCode(),
			Stdout:   out,
			Stderr:   stderr.String(),
		}
	}

	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, r.path)
	}

	return out, fmt.Errorf("adb: run %s: %w", strings.Join(argv, " "), err)
}

// commandArgs prefixes args with the device selector when serial is set.
func commandArgs(serial string, args []string) []string {
	argv := make([]string, 0, len(args)+2)
	if serial != "" {
		argv = append(argv, "-s", serial)
	}
	return append(argv, args...)
}
