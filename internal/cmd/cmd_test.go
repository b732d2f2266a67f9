package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/99designs/keyring"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmgilman/digestpin/internal/checker"
	"github.com/jmgilman/digestpin/internal/config"
	"github.com/jmgilman/digestpin/internal/exec/mocks"
	"github.com/jmgilman/digestpin/internal/keychain"
	promptmocks "github.com/jmgilman/digestpin/internal/prompt/mocks"
	"github.com/jmgilman/digestpin/internal/registry"
	"github.com/jmgilman/digestpin/internal/scan"
)

func parseCheckFlags(t *testing.T, args ...string) (*cobra.Command, *checkFlags) {
	t.Helper()

	c := &cobra.Command{Use: "digestpin"}
	f := &checkFlags{}
	f.register(c)
	require.NoError(t, c.ParseFlags(args))
	return c, f
}

func TestCheckSettings(t *testing.T) {
	cfg := &config.Config{
		Default:  config.DefaultConfig{Directory: "pipelines", Pattern: "quay.io/acme/"},
		Registry: config.RegistryConfig{Backend: registry.BackendSkopeo, Timeout: time.Minute, RateLimit: 5},
		Resolve:  config.ResolveConfig{Concurrency: 4},
		Output:   config.OutputConfig{Format: checker.FormatJSON},
		Storage:  config.StorageConfig{Keyring: "/var/lib/digestpin"},
	}

	t.Run("defaults without config", func(t *testing.T) {
		c, f := parseCheckFlags(t)

		s, err := f.settings(c, nil)
		require.NoError(t, err)
		assert.Equal(t, config.DefaultDirectory, s.Directory)
		assert.Equal(t, config.DefaultLinePattern, s.Filters.LinePattern)
		assert.Equal(t, registry.BackendRemote, s.Backend)
		assert.Equal(t, 1, s.Concurrency)
		assert.Equal(t, config.DefaultTimeout, s.Timeout)
		assert.Equal(t, checker.FormatText, s.Format)
		assert.False(t, s.Update)
	})

	t.Run("config overrides defaults", func(t *testing.T) {
		c, f := parseCheckFlags(t)

		s, err := f.settings(c, cfg)
		require.NoError(t, err)
		assert.Equal(t, "pipelines", s.Directory)
		assert.Equal(t, "quay.io/acme/", s.Filters.LinePattern)
		assert.Equal(t, registry.BackendSkopeo, s.Backend)
		assert.Equal(t, 4, s.Concurrency)
		assert.Equal(t, time.Minute, s.Timeout)
		assert.Equal(t, 5, s.RateLimit)
		assert.Equal(t, checker.FormatJSON, s.Format)
	})

	t.Run("flags override config", func(t *testing.T) {
		c, f := parseCheckFlags(t,
			"--directory", ".tekton",
			"--pattern", "ghcr.io/",
			"--backend", "remote",
			"--concurrency", "2",
			"--timeout", "5s",
			"-o", "yaml",
		)

		s, err := f.settings(c, cfg)
		require.NoError(t, err)
		assert.Equal(t, ".tekton", s.Directory)
		assert.Equal(t, "ghcr.io/", s.Filters.LinePattern)
		assert.Equal(t, registry.BackendRemote, s.Backend)
		assert.Equal(t, 2, s.Concurrency)
		assert.Equal(t, 5*time.Second, s.Timeout)
		assert.Equal(t, checker.FormatYAML, s.Format)
		assert.Equal(t, 5, s.RateLimit, "unset flags keep the config value")
	})

	t.Run("filters come from flags", func(t *testing.T) {
		c, f := parseCheckFlags(t,
			"--file-pattern", "push",
			"--file-exclude-pattern", "pull",
			"--image-pattern", "task-",
			"--image-exclude-pattern", "deprecated",
		)

		s, err := f.settings(c, nil)
		require.NoError(t, err)
		assert.Equal(t, scan.Filters{
			FileInclude:  "push",
			FileExclude:  "pull",
			ImageInclude: "task-",
			ImageExclude: "deprecated",
			LinePattern:  config.DefaultLinePattern,
		}, s.Filters)
	})

	t.Run("confirm implies update", func(t *testing.T) {
		c, f := parseCheckFlags(t, "--confirm")

		s, err := f.settings(c, nil)
		require.NoError(t, err)
		assert.True(t, s.Update)
		assert.True(t, s.Confirm)
	})

	t.Run("empty config values fall back", func(t *testing.T) {
		c, f := parseCheckFlags(t)

		s, err := f.settings(c, &config.Config{Resolve: config.ResolveConfig{Concurrency: 1}})
		require.NoError(t, err)
		assert.Equal(t, registry.BackendRemote, s.Backend)
		assert.Equal(t, checker.FormatText, s.Format)
	})

	t.Run("invalid values", func(t *testing.T) {
		tests := []struct {
			args []string
			want error
		}{
			{[]string{"--backend", "crane"}, config.ErrInvalidBackend},
			{[]string{"-o", "xml"}, config.ErrInvalidFormat},
			{[]string{"--concurrency", "0"}, config.ErrInvalidValue},
			{[]string{"--timeout", "-1s"}, config.ErrInvalidValue},
			{[]string{"--rate-limit", "-3"}, config.ErrInvalidValue},
		}

		for _, tt := range tests {
			t.Run(tt.args[0], func(t *testing.T) {
				c, f := parseCheckFlags(t, tt.args...)

				_, err := f.settings(c, nil)
				assert.ErrorIs(t, err, tt.want)
			})
		}
	})
}

func TestRunError(t *testing.T) {
	t.Run("missing directory exits 1", func(t *testing.T) {
		err := runError(nil, fmt.Errorf("%w: ./.tekton", scan.ErrDirectoryNotFound))

		assert.Equal(t, checker.ExitDirectoryNotFound, ExitCode(err))
		assert.ErrorIs(t, err, scan.ErrDirectoryNotFound)
	})

	t.Run("other errors pass through", func(t *testing.T) {
		err := runError(nil, context.Canceled)

		assert.Equal(t, 1, ExitCode(err))
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("clean report", func(t *testing.T) {
		assert.NoError(t, runError(&checker.Report{}, nil))
	})

	t.Run("resolution failures exit 2", func(t *testing.T) {
		report := &checker.Report{Summary: checker.Summary{References: 3, ResolveFailed: 1}}

		err := runError(report, nil)
		assert.Equal(t, checker.ExitRegistryFailure, ExitCode(err))
		assert.EqualError(t, err, "1 of 3 reference(s) could not be resolved")
	})

	t.Run("update failures exit 3", func(t *testing.T) {
		report := &checker.Report{Summary: checker.Summary{ResolveFailed: 1, UpdateFailed: 2}}

		err := runError(report, nil)
		assert.Equal(t, checker.ExitUpdateFailure, ExitCode(err))
		assert.EqualError(t, err, "2 update(s) failed, 0 file(s) unreadable")
	})
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"plain error", errors.New("boom"), 1},
		{"exit error", &ExitError{Code: 3}, 3},
		{"wrapped exit error", fmt.Errorf("run: %w", &ExitError{Code: 2, Err: errors.New("x")}), 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}

	assert.Equal(t, "exit status 3", (&ExitError{Code: 3}).Error())
}

func TestCheckDependencies(t *testing.T) {
	e := &mocks.ExecutorMock{
		LookPathFunc: func(name string) (string, error) {
			if name == "skopeo" {
				return "", errors.New("not found")
			}
			return "/usr/bin/" + name, nil
		},
	}

	assert.NoError(t, checkDependencies(e, "git"))
	assert.EqualError(t, checkDependencies(e, "skopeo"), "missing required dependencies: skopeo")
}

func TestFormatList(t *testing.T) {
	assert.Equal(t, "", formatList(nil))
	assert.Equal(t, "a", formatList([]string{"a"}))
	assert.Equal(t, "a and b", formatList([]string{"a", "b"}))
	assert.Equal(t, "a, b, and c", formatList([]string{"a", "b", "c"}))
}

func TestConfirmUpdate(t *testing.T) {
	p := &promptmocks.PrompterMock{
		ConfirmFunc: func(title, description string) (bool, error) {
			return true, nil
		},
	}

	ok, err := confirmUpdate(p)(context.Background(), ".tekton/push.yaml",
		[]string{"task-init:0.2@sha256:aaaaaa"}, "task-init:0.3@sha256:bbbbbb")
	require.NoError(t, err)
	assert.True(t, ok)

	calls := p.ConfirmCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Update .tekton/push.yaml?", calls[0].Title)
	assert.Equal(t, "task-init:0.2@sha256:aaaaaa\n  -> task-init:0.3@sha256:bbbbbb", calls[0].Description)
}

func TestLoginLogout(t *testing.T) {
	kc := keychain.New(keyring.NewArrayKeyring(nil))

	t.Run("login prompts for missing username", func(t *testing.T) {
		p := &promptmocks.PrompterMock{
			InputFunc:  func(string) (string, error) { return "robot", nil },
			SecretFunc: func(string) (string, error) { return "s3cret", nil },
		}
		var out bytes.Buffer

		require.NoError(t, login(&out, kc, p, "quay.io", ""))
		assert.Equal(t, "Credentials for quay.io stored.\n", out.String())
		assert.Len(t, p.InputCalls(), 1)

		stored, err := kc.Get("quay.io")
		require.NoError(t, err)
		assert.JSONEq(t, `{"username":"robot","password":"s3cret"}`, stored)
	})

	t.Run("login with username skips the prompt", func(t *testing.T) {
		p := &promptmocks.PrompterMock{
			SecretFunc: func(string) (string, error) { return "token", nil },
		}

		require.NoError(t, login(&bytes.Buffer{}, kc, p, "ghcr.io", "ci"))
		assert.Empty(t, p.InputCalls())
	})

	t.Run("canceled secret prompt stores nothing", func(t *testing.T) {
		p := &promptmocks.PrompterMock{
			SecretFunc: func(string) (string, error) { return "", errors.New("canceled by user") },
		}

		err := login(&bytes.Buffer{}, kc, p, "registry.example.com", "me")
		require.Error(t, err)

		_, err = kc.Get("registry.example.com")
		assert.ErrorIs(t, err, keychain.ErrNotFound)
	})

	t.Run("logout removes the credential", func(t *testing.T) {
		var out bytes.Buffer

		require.NoError(t, logout(&out, kc, "quay.io"))
		assert.Equal(t, "Credentials for quay.io removed.\n", out.String())

		_, err := kc.Get("quay.io")
		assert.ErrorIs(t, err, keychain.ErrNotFound)
	})
}

func TestRegistryHost(t *testing.T) {
	host, err := registryHost("quay.io")
	require.NoError(t, err)
	assert.Equal(t, "quay.io", host)

	host, err = registryHost("docker.io")
	require.NoError(t, err)
	assert.Equal(t, "index.docker.io", host)

	_, err = registryHost("not a registry")
	assert.ErrorIs(t, err, registry.ErrInvalidRef)
}

func TestDepsFrom(t *testing.T) {
	t.Run("empty context gets defaults", func(t *testing.T) {
		d := depsFrom(context.Background())
		assert.Nil(t, d.Config)
		assert.NotNil(t, d.Executor)
		assert.NotNil(t, d.Prompter)
	})

	t.Run("stored collaborators are kept", func(t *testing.T) {
		p := &promptmocks.PrompterMock{}
		cfg := &config.Config{}
		ctx := withDeps(context.Background(), &deps{Config: cfg, Prompter: p})

		d := depsFrom(ctx)
		assert.Same(t, cfg, d.Config)
		assert.Same(t, p, d.Prompter)
		assert.NotNil(t, d.Executor)
	})
}

func TestConfigCommand(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	loader, err := config.NewLoader()
	require.NoError(t, err)
	_, err = loader.Load()
	require.NoError(t, err)

	var out bytes.Buffer
	c := configCommand{out: &out, loader: loader}

	t.Run("show a value", func(t *testing.T) {
		out.Reset()
		require.NoError(t, c.show("registry.backend"))
		assert.Equal(t, "remote\n", out.String())
	})

	t.Run("show a section", func(t *testing.T) {
		out.Reset()
		require.NoError(t, c.show("default"))
		assert.Contains(t, out.String(), "directory: ./.tekton")
	})

	t.Run("set then show", func(t *testing.T) {
		out.Reset()
		require.NoError(t, c.set("resolve.concurrency", "4"))
		assert.Equal(t, "Set resolve.concurrency = 4\n", out.String())

		out.Reset()
		require.NoError(t, c.show("resolve.concurrency"))
		assert.Equal(t, "4\n", out.String())
	})

	t.Run("invalid key", func(t *testing.T) {
		assert.ErrorIs(t, c.show("runtime.name"), config.ErrInvalidKey)
	})

	t.Run("show all", func(t *testing.T) {
		out.Reset()
		require.NoError(t, c.showAll())
		assert.Contains(t, out.String(), "registry:")
		assert.Contains(t, out.String(), "backend: remote")
	})

	t.Run("paths", func(t *testing.T) {
		out.Reset()
		require.NoError(t, c.paths())
		assert.Contains(t, out.String(), "user:    "+loader.Path())
		assert.Contains(t, out.String(), ".digestpin.yaml (not present)")
	})
}
