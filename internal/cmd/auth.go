package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/spf13/cobra"

	"github.com/jmgilman/digestpin/internal/config"
	"github.com/jmgilman/digestpin/internal/keychain"
	"github.com/jmgilman/digestpin/internal/prompt"
	"github.com/jmgilman/digestpin/internal/registry"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage registry credentials",
	Long: `Manage credentials for private registries.

Credentials are stored in the system keychain and take precedence over
~/.docker/config.json when digestpin queries a registry.`,
}

var authLoginCmd = &cobra.Command{
	Use:   "login REGISTRY",
	Short: "Store credentials for a registry",
	Long: `Store a username and password or token for a registry.

The password is read from a masked prompt, or from the first line of stdin
when stdin is not a terminal.`,
	Example: `  # Log in interactively
  digestpin auth login quay.io

  # Log in from CI
  echo "$QUAY_TOKEN" | digestpin auth login quay.io --username robot+ci`,
	Args: cobra.ExactArgs(1),
	RunE: runAuthLogin,
}

var authLogoutCmd = &cobra.Command{
	Use:     "logout REGISTRY",
	Short:   "Remove stored credentials for a registry",
	Example: `  digestpin auth logout quay.io`,
	Args:    cobra.ExactArgs(1),
	RunE:    runAuthLogout,
}

var authUsername string

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)

	authLoginCmd.Flags().StringVarP(&authUsername, "username", "u", "", "registry username (prompted when omitted)")
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	host, err := registryHost(args[0])
	if err != nil {
		return err
	}

	d := depsFrom(cmd.Context())
	kc, err := openKeychain(d.Config)
	if err != nil {
		return err
	}

	return login(cmd.OutOrStdout(), kc, d.Prompter, host, authUsername)
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	host, err := registryHost(args[0])
	if err != nil {
		return err
	}

	kc, err := openKeychain(depsFrom(cmd.Context()).Config)
	if err != nil {
		return err
	}

	return logout(cmd.OutOrStdout(), kc, host)
}

// login prompts for the missing parts of a credential and stores it.
func login(out io.Writer, kc keychain.Keychain, p prompt.Prompter, host, username string) error {
	if username == "" {
		var err error
		username, err = p.Input(fmt.Sprintf("Username for %s:", host))
		if err != nil {
			return fmt.Errorf("read username: %w", err)
		}
		if username == "" {
			return errors.New("username must not be empty")
		}
	}

	password, err := p.Secret(fmt.Sprintf("Password or token for %s:", host))
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}

	if err := registry.SaveCredential(kc, host, registry.Credential{Username: username, Password: password}); err != nil {
		return fmt.Errorf("store credential: %w", err)
	}

	fmt.Fprintf(out, "Credentials for %s stored.\n", host)
	return nil
}

// logout removes the stored credential for host. Removing a credential
// that was never stored is not an error.
func logout(out io.Writer, kc keychain.Keychain, host string) error {
	if err := kc.Delete(host); err != nil {
		return fmt.Errorf("remove credential: %w", err)
	}

	fmt.Fprintf(out, "Credentials for %s removed.\n", host)
	return nil
}

// registryHost normalizes a registry argument the way lookups see it, so
// "docker.io" and "index.docker.io" share one entry.
func registryHost(arg string) (string, error) {
	reg, err := name.NewRegistry(arg)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", registry.ErrInvalidRef, arg, err)
	}
	return reg.RegistryStr(), nil
}

// openKeychain opens the keyring under the configured data directory.
func openKeychain(cfg *config.Config) (keychain.Keychain, error) {
	dir := ""
	if cfg != nil {
		dir = cfg.Storage.Keyring
	}
	if dir == "" {
		var err error
		if dir, err = defaultDataDir(); err != nil {
			return nil, err
		}
	}

	kc, err := keychain.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("initialize credential storage: %w", err)
	}
	return kc, nil
}
