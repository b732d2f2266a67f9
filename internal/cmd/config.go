package cmd

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/jmgilman/digestpin/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "View and modify configuration",
	Long: `View and modify digestpin configuration.

With no arguments, displays the effective configuration, including values
from a .digestpin.yaml in the current directory.
With one argument, displays the value for the specified key.
With two arguments, sets the value for the specified key in the user
configuration file.`,
	Example: `  # Show all config
  digestpin config

  # Show value for a specific key
  digestpin config registry.backend

  # Set a value
  digestpin config registry.timeout 1m

  # Show which files are read
  digestpin config --path

  # Open config file in editor
  digestpin config --edit`,
	Args: cobra.RangeArgs(0, 2),
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)

	configCmd.Flags().Bool("edit", false, "open config file in $EDITOR")
	configCmd.Flags().Bool("path", false, "print the user and project config file paths")
}

func runConfig(cmd *cobra.Command, args []string) error {
	loader := depsFrom(cmd.Context()).Loader
	if loader == nil {
		var err error
		if loader, err = config.NewLoader(); err != nil {
			return fmt.Errorf("init config loader: %w", err)
		}
	}

	// Load creates the user file on first use.
	if _, err := loader.Load(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	c := configCommand{out: cmd.OutOrStdout(), loader: loader}

	if edit, _ := cmd.Flags().GetBool("edit"); edit {
		return c.edit(cmd)
	}
	if path, _ := cmd.Flags().GetBool("path"); path {
		return c.paths()
	}

	switch len(args) {
	case 0:
		return c.showAll()
	case 1:
		return c.show(args[0])
	default:
		return c.set(args[0], args[1])
	}
}

// configCommand implements the config subcommand against a loaded config.
type configCommand struct {
	out    io.Writer
	loader *config.Loader
}

func (c configCommand) edit(cmd *cobra.Command) error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		return config.ErrNoEditor
	}

	editorCmd := exec.CommandContext(cmd.Context(), editor, c.loader.Path())
	editorCmd.Stdin = cmd.InOrStdin()
	editorCmd.Stdout = c.out
	editorCmd.Stderr = cmd.ErrOrStderr()

	return editorCmd.Run()
}

func (c configCommand) paths() error {
	project := c.loader.ProjectPath()
	if _, err := os.Stat(project); err != nil {
		project += " (not present)"
	}
	_, err := fmt.Fprintf(c.out, "user:    %s\nproject: %s\n", c.loader.Path(), project)
	return err
}

func (c configCommand) showAll() error {
	return c.yaml(c.loader.All())
}

func (c configCommand) show(key string) error {
	value, err := c.loader.Get(key)
	if err != nil {
		return err
	}

	switch v := value.(type) {
	case nil:
		_, err = fmt.Fprintln(c.out)
	case map[string]any:
		err = c.yaml(v)
	default:
		_, err = fmt.Fprintln(c.out, v)
	}
	return err
}

func (c configCommand) set(key, value string) error {
	if err := c.loader.Set(key, value); err != nil {
		return err
	}

	_, err := fmt.Fprintf(c.out, "Set %s = %s\n", key, value)
	return err
}

func (c configCommand) yaml(v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	_, err = c.out.Write(data)
	return err
}
