package exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/jmgilman/digestpin/internal/slogger"
)

type executor struct{}

// New returns an Executor backed by os/exec. The child inherits the
// environment, so tools like skopeo find their usual auth files.
func New() Executor {
	return &executor{}
}

func (e *executor) Run(ctx context.Context, opts *RunOptions) (*Result, error) {
	log := slogger.L(ctx).With("command", opts.String())

	cmd := exec.CommandContext(ctx, opts.Name, opts.Args...) //nolint:gosec // fixed binary, reference arguments

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()

	result := &Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: cmd.ProcessState.ExitCode(),
		Duration: time.Since(start),
	}
	log.Debug("command finished", "exit_code", result.ExitCode, "duration", result.Duration)

	if err == nil {
		return result, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, fmt.Errorf("%s: %w", opts, ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return result, &CommandError{
			Command:  opts.String(),
			ExitCode: exitErr.ExitCode(),
			Stderr:   strings.TrimSpace(stderr.String()),
		}
	}
	return result, fmt.Errorf("run %s: %w", opts.Name, err)
}

func (e *executor) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}
