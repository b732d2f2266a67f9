// Package exec runs external commands such as skopeo and captures their output.
package exec

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Result holds the output from a completed command.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int

	// Duration is the wall time the command took.
	Duration time.Duration
}

// RunOptions describes one command invocation.
type RunOptions struct {
	Name string
	Args []string
}

// String renders the command line for logs and error messages.
func (o *RunOptions) String() string {
	return strings.TrimSpace(o.Name + " " + strings.Join(o.Args, " "))
}

// CommandError is returned when a command ran but exited non-zero.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s: exit status %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s: exit status %d: %s", e.Command, e.ExitCode, e.Stderr)
}

// Executor runs external commands.
//
//go:generate go run github.com/matryer/moq@latest -pkg mocks -out mocks/executor.go . Executor
type Executor interface {
	// Run executes a command and returns its captured output.
	// A non-zero exit is reported as *CommandError alongside the Result.
	Run(ctx context.Context, opts *RunOptions) (*Result, error)

	// LookPath searches for an executable in PATH.
	LookPath(name string) (string, error)
}
