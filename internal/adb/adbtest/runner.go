// Package adbtest provides a scripted adb.Runner for tests.
package adbtest

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/chaz8081/btp-android/internal/adb"
)

// Call records one Run invocation.
type Call struct {
	Serial string
	Args   []string
}

// Line returns the call's arguments joined by spaces.
func (c Call) Line() string {
	return strings.Join(c.Args, " ")
}

// HandlerFunc produces the result of a scripted command.
type HandlerFunc func(serial string, args []string) (string, error)

// Runner is a fake adb.Runner. Commands are matched against registered
// argument prefixes; the longest matching prefix wins. Unmatched commands
// succeed with empty output.
type Runner struct {
	mu       sync.Mutex
	handlers map[string]HandlerFunc
	calls    []Call
}

// Compile-time check that Runner implements adb.Runner.
var _ adb.Runner = (*Runner)(nil)

// NewRunner returns an empty fake runner.
func NewRunner() *Runner {
	return &Runner{handlers: make(map[string]HandlerFunc)}
}

// On registers fn for commands whose space-joined args start with prefix.
func (r *Runner) On(prefix string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[prefix] = fn
}

// OnOutput makes commands matching prefix print out.
func (r *Runner) OnOutput(prefix, out string) {
	r.On(prefix, func(string, []string) (string, error) { return out, nil })
}

// OnError makes commands matching prefix fail with err.
func (r *Runner) OnError(prefix string, err error) {
	r.On(prefix, func(string, []string) (string, error) { return "", err })
}

// OnPull makes `pull <remote> <local>` write content to the local path.
func (r *Runner) OnPull(content string) {
	r.On("pull", func(_ string, args []string) (string, error) {
		if len(args) < 3 {
			return "", &adb.CommandFailedError{Args: args, ExitCode: 1}
		}
		if err := os.WriteFile(args[2], []byte(content), 0644); err != nil {
			return "", err
		}
		return "1 file pulled", nil
	})
}

// Run implements adb.Runner.
func (r *Runner) Run(ctx context.Context, serial string, args ...string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	r.mu.Lock()
	r.calls = append(r.calls, Call{Serial: serial, Args: append([]string(nil), args...)})
	line := strings.Join(args, " ")
	var (
		best    string
		handler HandlerFunc
	)
	for prefix, fn := range r.handlers {
		if strings.HasPrefix(line, prefix) && (handler == nil || len(prefix) > len(best)) {
			best, handler = prefix, fn
		}
	}
	r.mu.Unlock()

	if handler == nil {
		return "", nil
	}
	return handler(serial, args)
}

// Calls returns a copy of all recorded calls.
func (r *Runner) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// CallsWithPrefix returns recorded calls whose joined args start with prefix.
func (r *Runner) CallsWithPrefix(prefix string) []Call {
	var out []Call
	for _, c := range r.Calls() {
		if strings.HasPrefix(c.Line(), prefix) {
			out = append(out, c)
		}
	}
	return out
}
