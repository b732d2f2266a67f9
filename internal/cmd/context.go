package cmd

import (
	"context"

	"github.com/jmgilman/digestpin/internal/config"
	"github.com/jmgilman/digestpin/internal/exec"
	"github.com/jmgilman/digestpin/internal/prompt"
)

type contextKey string

const depsKey contextKey = "deps"

// deps are the collaborators commands share. PersistentPreRunE stores them
// in the command context.
type deps struct {
	// Config is nil when the configuration could not be loaded.
	Config *config.Config
	Loader *config.Loader

	Executor exec.Executor
	Prompter prompt.Prompter
}

// withDeps adds d to the context.
func withDeps(ctx context.Context, d *deps) context.Context {
	return context.WithValue(ctx, depsKey, d)
}

// depsFrom returns the deps stored in ctx with missing collaborators
// filled in. Never returns nil.
func depsFrom(ctx context.Context) *deps {
	d := &deps{}
	if stored, ok := ctx.Value(depsKey).(*deps); ok && stored != nil {
		*d = *stored
	}
	if d.Executor == nil {
		d.Executor = exec.New()
	}
	if d.Prompter == nil {
		d.Prompter = prompt.New()
	}
	return d
}
