// Package runner spawns the command triggered by a detected change and
// captures its standard output.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

// ErrNoCommand is returned when no command was given.
var ErrNoCommand = errors.New("no command given")

// SpawnError is returned when the command cannot be started at all
// (executable not found, permission denied).
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("could not start command %s: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// CommandSpec is the executable name and its ordered arguments.
type CommandSpec struct {
	Name string
	Args []string
}

// String returns the command line, space separated.
func (c CommandSpec) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// IsZero reports whether no command is set.
func (c CommandSpec) IsZero() bool {
	return c.Name == ""
}

// ParseCommandLine builds a CommandSpec from positional arguments.
//
// A single argument is split on whitespace, so a quoted command line
// works:
//
//	rerun "go build ./..."
//
// Several arguments are taken verbatim:
//
//	rerun -- go test -run 'TestFoo Bar' ./...
func ParseCommandLine(args []string) (CommandSpec, error) {
	var fields []string
	switch len(args) {
	case 0:
		return CommandSpec{}, ErrNoCommand
	case 1:
		fields = strings.Fields(args[0])
	default:
		fields = args
	}

	if len(fields) == 0 || fields[0] == "" {
		return CommandSpec{}, ErrNoCommand
	}

	spec := CommandSpec{Name: fields[0]}
	if len(fields) > 1 {
		spec.Args = append([]string(nil), fields[1:]...)
	}
	return spec, nil
}

// Result describes one finished command invocation.
type Result struct {
	// Stdout is the command's complete standard output.
	Stdout []byte

	// ExitCode is the process exit status (0 on success).
	ExitCode int

	// Duration is the wall time from start to exit.
	Duration time.Duration
}

// Success reports whether the command exited with status 0.
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// CommandRunner runs a command to completion and returns its output.
// A non-zero exit is reported in Result, not as an error; errors are
// reserved for failures to start or wait on the process.
type CommandRunner interface {
	Run(ctx context.Context, spec CommandSpec) (Result, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	// Dir is the working directory; empty means the current one.
	Dir string

	// Stderr receives the child's standard error. Defaults to os.Stderr.
	Stderr io.Writer

	// WaitDelay bounds how long Run waits for output pipes after the
	// context is cancelled. Zero means wait indefinitely.
	WaitDelay time.Duration
}

// NewExecRunner returns an ExecRunner that inherits the caller's stderr.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{Stderr: os.Stderr, WaitDelay: 2 * time.Second}
}

// Run starts spec, reads its stdout to completion and waits for it to exit.
// The child's stdin is the null device.
func (r *ExecRunner) Run(ctx context.Context, spec CommandSpec) (Result, error) {
	if spec.IsZero() {
		return Result{}, ErrNoCommand
	}

	cmd := exec.CommandContext(ctx, spec.Name, spec.Args...)
	cmd.Dir = r.Dir
	cmd.Stdin = nil

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = r.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	cmd.WaitDelay = r.WaitDelay
	configureProcessGroup(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, &SpawnError{Command: spec.String(), Err: err}
	}

	err := cmd.Wait()
	res := Result{
		Stdout:   stdout.Bytes(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, fmt.Errorf("waiting for %s: %w", spec, err)
	}

	return res, nil
}
