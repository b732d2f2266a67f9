// Command digestpin pins Tekton task bundle references to their newest digest.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmgilman/digestpin/internal/cmd"
)

func main() {
	os.Exit(Main())
}

// Main runs the CLI and returns the process exit code.
func Main() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return cmd.ExitCode(err)
	}
	return 0
}
