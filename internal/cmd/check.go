package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/spf13/cobra"

	"github.com/jmgilman/digestpin/internal/checker"
	"github.com/jmgilman/digestpin/internal/config"
	"github.com/jmgilman/digestpin/internal/exec"
	"github.com/jmgilman/digestpin/internal/prompt"
	"github.com/jmgilman/digestpin/internal/registry"
	"github.com/jmgilman/digestpin/internal/resolver"
	"github.com/jmgilman/digestpin/internal/scan"
	"github.com/jmgilman/digestpin/internal/slogger"
	"github.com/jmgilman/digestpin/internal/spinner"
	"github.com/jmgilman/digestpin/internal/updater"
)

// checkArgs holds the root command's check flags.
var checkArgs checkFlags

// checkFlags are the raw flag values. Only flags the user set override the
// configuration.
type checkFlags struct {
	directory    string
	pattern      string
	fileInclude  string
	fileExclude  string
	imageInclude string
	imageExclude string
	update       bool
	backend      string
	insecure     bool
	concurrency  int
	timeout      time.Duration
	rateLimit    int
	confirm      bool
	output       string
}

// checkSettings is the effective configuration of one check run.
type checkSettings struct {
	Directory   string
	Filters     scan.Filters
	Update      bool
	Backend     string
	Insecure    bool
	Concurrency int
	Timeout     time.Duration
	RateLimit   int
	Confirm     bool
	Format      string
}

func (f *checkFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.directory, "directory", config.DefaultDirectory, "directory containing the pipeline files")
	flags.StringVar(&f.pattern, "pattern", config.DefaultLinePattern, "text that marks a line as an image reference")
	flags.StringVar(&f.fileInclude, "file-pattern", "", "only check files whose name contains this text")
	flags.StringVar(&f.fileExclude, "file-exclude-pattern", "", "skip files whose name contains this text")
	flags.StringVar(&f.imageInclude, "image-pattern", "", "only check images containing this text")
	flags.StringVar(&f.imageExclude, "image-exclude-pattern", "", "skip images containing this text")
	flags.BoolVar(&f.update, "update", false, "rewrite outdated references in place")
	flags.StringVar(&f.backend, "backend", registry.BackendRemote, "registry backend ("+strings.Join(config.ValidBackends(), ", ")+")")
	flags.BoolVar(&f.insecure, "insecure", false, "allow plain HTTP and unverified TLS registries")
	flags.IntVar(&f.concurrency, "concurrency", 1, "number of images resolved in parallel")
	flags.DurationVar(&f.timeout, "timeout", config.DefaultTimeout, "timeout for each registry query (0 disables)")
	flags.IntVar(&f.rateLimit, "rate-limit", 0, "maximum registry queries per second (0 disables)")
	flags.BoolVar(&f.confirm, "confirm", false, "ask before rewriting each file (implies --update)")
	flags.StringVarP(&f.output, "output", "o", checker.FormatText, "output format ("+strings.Join(config.ValidFormats(), ", ")+")")
}

// settings merges the flags the user set over cfg. A nil cfg falls back to
// the built-in defaults.
func (f *checkFlags) settings(cmd *cobra.Command, cfg *config.Config) (checkSettings, error) {
	s := checkSettings{
		Directory:   config.DefaultDirectory,
		Filters:     scan.Filters{LinePattern: config.DefaultLinePattern},
		Backend:     registry.BackendRemote,
		Concurrency: 1,
		Timeout:     config.DefaultTimeout,
		Format:      checker.FormatText,
	}

	if cfg != nil {
		s.Directory = cfg.Default.Directory
		s.Filters.LinePattern = cfg.Default.Pattern
		s.Backend = cfg.Registry.Backend
		s.Insecure = cfg.Registry.Insecure
		s.Timeout = cfg.Registry.Timeout
		s.RateLimit = cfg.Registry.RateLimit
		s.Concurrency = cfg.Resolve.Concurrency
		s.Format = cfg.Output.Format
	}

	flags := cmd.Flags()
	if flags.Changed("directory") {
		s.Directory = f.directory
	}
	if flags.Changed("pattern") {
		s.Filters.LinePattern = f.pattern
	}
	if flags.Changed("backend") {
		s.Backend = f.backend
	}
	if flags.Changed("insecure") {
		s.Insecure = f.insecure
	}
	if flags.Changed("concurrency") {
		s.Concurrency = f.concurrency
	}
	if flags.Changed("timeout") {
		s.Timeout = f.timeout
	}
	if flags.Changed("rate-limit") {
		s.RateLimit = f.rateLimit
	}
	if flags.Changed("output") {
		s.Format = f.output
	}

	s.Filters.FileInclude = f.fileInclude
	s.Filters.FileExclude = f.fileExclude
	s.Filters.ImageInclude = f.imageInclude
	s.Filters.ImageExclude = f.imageExclude
	s.Confirm = f.confirm
	s.Update = f.update || f.confirm

	if s.Backend == "" {
		s.Backend = registry.BackendRemote
	}
	if s.Format == "" {
		s.Format = checker.FormatText
	}

	return s, s.validate()
}

func (s checkSettings) validate() error {
	if !slices.Contains(config.ValidBackends(), s.Backend) {
		return fmt.Errorf("%w: %s (valid: %s)", config.ErrInvalidBackend, s.Backend, strings.Join(config.ValidBackends(), ", "))
	}
	if !slices.Contains(config.ValidFormats(), s.Format) {
		return fmt.Errorf("%w: %s (valid: %s)", config.ErrInvalidFormat, s.Format, strings.Join(config.ValidFormats(), ", "))
	}
	if s.Concurrency < 1 {
		return fmt.Errorf("%w: concurrency must be at least 1, got %d", config.ErrInvalidValue, s.Concurrency)
	}
	if s.Timeout < 0 {
		return fmt.Errorf("%w: timeout must not be negative, got %s", config.ErrInvalidValue, s.Timeout)
	}
	if s.RateLimit < 0 {
		return fmt.Errorf("%w: rate limit must not be negative, got %d", config.ErrInvalidValue, s.RateLimit)
	}
	return nil
}

func runCheck(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	d := depsFrom(ctx)

	s, err := checkArgs.settings(cmd, d.Config)
	if err != nil {
		return err
	}

	if s.Backend == registry.BackendSkopeo {
		if err := checkDependencies(d.Executor, "skopeo"); err != nil {
			return err
		}
	}

	client, err := registry.New(registry.ClientConfig{
		Insecure: s.Insecure,
		Keychain: registryKeychain(ctx, d.Config),
	}, registry.Options{
		Backend:   s.Backend,
		Timeout:   s.Timeout,
		RateLimit: s.RateLimit,
		Executor:  d.Executor,
	})
	if err != nil {
		return err
	}

	reporter, err := checker.NewReporter(s.Format, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	opts := checker.Options{
		Directory:   s.Directory,
		Filters:     s.Filters,
		Update:      s.Update,
		Concurrency: s.Concurrency,
		Reporter:    reporter,
	}
	if s.Confirm {
		opts.Confirm = confirmUpdate(d.Prompter)
	}

	c := checker.New(nil, resolver.NewCached(resolver.New(client)), updater.New(nil))

	var report *checker.Report
	run := func(progress io.Writer) error {
		opts.Progress = progress
		var runErr error
		report, runErr = c.Run(ctx, opts)
		return runErr
	}

	// Text output goes to the terminal as it happens, so only the
	// structured formats get a spinner.
	if s.Format != checker.FormatText && !s.Confirm && spinner.Enabled(os.Stderr) {
		err = spinner.New(cmd.ErrOrStderr(), "Resolving images").Run(run)
	} else {
		err = run(nil)
	}

	return runError(report, err)
}

// runError turns the result of a run into the error returned by the command.
func runError(report *checker.Report, err error) error {
	if err != nil {
		if errors.Is(err, scan.ErrDirectoryNotFound) {
			return &ExitError{Code: checker.ExitDirectoryNotFound, Err: err}
		}
		return err
	}

	code := report.ExitCode()
	if code == checker.ExitOK {
		return nil
	}

	sum := report.Summary
	var msg string
	switch code {
	case checker.ExitUpdateFailure:
		msg = fmt.Sprintf("%d update(s) failed, %d file(s) unreadable", sum.UpdateFailed, sum.FileErrors)
	default:
		msg = fmt.Sprintf("%d of %d reference(s) could not be resolved", sum.ResolveFailed, sum.References)
	}
	return &ExitError{Code: code, Err: errors.New(msg)}
}

// registryKeychain builds the registry credential chain. A keyring that
// cannot be opened leaves only the docker config credentials.
func registryKeychain(ctx context.Context, cfg *config.Config) authn.Keychain {
	kc, err := openKeychain(cfg)
	if err != nil {
		slogger.L(ctx).Debug("keyring unavailable, using docker credentials only", "error", err)
		return registry.NewKeychain(nil)
	}
	return registry.NewKeychain(kc)
}

// confirmUpdate asks through p before each file rewrite.
func confirmUpdate(p prompt.Prompter) checker.ConfirmFunc {
	return func(_ context.Context, path string, old []string, canonical string) (bool, error) {
		var desc strings.Builder
		for _, o := range old {
			fmt.Fprintf(&desc, "%s\n  -> %s\n", o, canonical)
		}
		return p.Confirm(fmt.Sprintf("Update %s?", path), strings.TrimRight(desc.String(), "\n"))
	}
}

// checkDependencies verifies that the external binaries are available.
func checkDependencies(e exec.Executor, deps ...string) error {
	var missing []string
	for _, dep := range deps {
		if _, err := e.LookPath(dep); err != nil {
			missing = append(missing, dep)
		}
	}

	if len(missing) > 0 {
		return errors.New("missing required dependencies: " + formatList(missing))
	}
	return nil
}

// formatList joins strings with commas and "and" before the last item.
func formatList(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	default:
		return strings.Join(items[:len(items)-1], ", ") + ", and " + items[len(items)-1]
	}
}
