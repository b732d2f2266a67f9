// Package cmd implements the digestpin CLI commands using Cobra.
// The root command checks Tekton pipeline files for outdated image
// references and optionally pins them to the newest tag and digest.
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jmgilman/digestpin/internal/config"
	"github.com/jmgilman/digestpin/internal/exec"
	"github.com/jmgilman/digestpin/internal/prompt"
	"github.com/jmgilman/digestpin/internal/slogger"
)

// verbosity is the number of -v flags given.
var verbosity int

// timestamps adds timestamps to log records.
var timestamps bool

// logFormat selects the log record format.
var logFormat string

var rootCmd = &cobra.Command{
	Use:   "digestpin",
	Short: "Pin Tekton task bundle references to their newest digest",
	Long: `digestpin scans a directory of Tekton pipeline files for container image
references, finds the most recently created tag of each image in its
registry and reports references that are not pinned to that tag's digest.

With --update, outdated references are rewritten in place.`,
	Example: `  # Report outdated references in ./.tekton
  digestpin

  # Rewrite them
  digestpin --update

  # Only check push pipelines and skip deprecated tasks
  digestpin --file-pattern push --image-exclude-pattern deprecated`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger, err := slogger.New(slogger.Config{
			Verbosity:  verbosity,
			Output:     cmd.ErrOrStderr(),
			Format:     logFormat,
			Timestamps: timestamps,
		})
		if err != nil {
			return err
		}

		ctx := slogger.WithLogger(cmd.Context(), logger)

		loader, cfg := initConfig(ctx)
		cmd.SetContext(withDeps(ctx, &deps{
			Config:   cfg,
			Loader:   loader,
			Executor: exec.New(),
			Prompter: prompt.New(),
		}))

		return nil
	},
	RunE: runCheck,
}

// Execute adds all child commands to the root command and runs it with ctx.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "increase log verbosity (-v info, -vv debug)")
	rootCmd.PersistentFlags().BoolVar(&timestamps, "timestamps", false, "add timestamps to log output")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", slogger.FormatText, "log format (text, json, logfmt)")

	checkArgs.register(rootCmd)
}

// initConfig loads the configuration. Failures are logged and the built-in
// defaults are used instead, so a broken config file never blocks a check.
func initConfig(ctx context.Context) (*config.Loader, *config.Config) {
	log := slogger.L(ctx)

	loader, err := config.NewLoader()
	if err != nil {
		log.Error("failed to initialize config, using defaults", "error", err)
		return nil, nil
	}

	cfg, err := loader.Load()
	if err != nil {
		log.Error("failed to load config, using defaults", "error", err)
		return loader, nil
	}

	if err := cfg.Validate(); err != nil {
		log.Error("config validation failed", "error", err)
	}

	return loader, cfg
}

// defaultDataDir returns the data directory used when no config is loaded.
func defaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, config.DefaultDataDir), nil
}
