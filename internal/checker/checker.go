// Package checker runs a full check: scan a directory, resolve every pinned
// image reference and optionally rewrite outdated files.
package checker

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/jmgilman/digestpin/internal/imageref"
	"github.com/jmgilman/digestpin/internal/resolver"
	"github.com/jmgilman/digestpin/internal/scan"
	"github.com/jmgilman/digestpin/internal/slogger"
	"github.com/jmgilman/digestpin/internal/updater"
)

// fileUpdater is the internal interface for file rewrites.
type fileUpdater interface {
	Apply(ctx context.Context, path, canonical string) (*updater.Result, error)
	Outdated(path, canonical string) (bool, error)
	Preview(path, canonical string) ([]string, error)
}

// statser is implemented by resolvers that track cache statistics.
type statser interface {
	Stats() resolver.Stats
}

// ConfirmFunc asks whether path may be rewritten, replacing old with canonical.
type ConfirmFunc func(ctx context.Context, path string, old []string, canonical string) (bool, error)

// Options configures a single run.
type Options struct {
	// Directory is scanned (non-recursively) for pipeline files.
	Directory string

	// Filters select files, lines and images.
	Filters scan.Filters

	// Update rewrites outdated files. Otherwise the run only reports.
	Update bool

	// Concurrency above 1 resolves distinct images in parallel before
	// the ordered reporting pass.
	Concurrency int

	// Confirm, when set, is asked before each rewrite.
	Confirm ConfirmFunc

	// Reporter receives results as they happen. Defaults to text on io.Discard.
	Reporter Reporter

	// Progress receives one status line per image being resolved.
	Progress io.Writer
}

// Checker orchestrates scanning, resolution and updates.
type Checker struct {
	fs       afero.Fs
	resolver resolver.Resolver
	updater  fileUpdater
}

// New creates a Checker. A nil fs means the OS filesystem.
func New(fs afero.Fs, res resolver.Resolver, upd fileUpdater) *Checker {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Checker{fs: fs, resolver: res, updater: upd}
}

// reference is an image reference found while reading a file.
type reference struct {
	file  string
	line  int
	image string
}

// Run performs a check. A missing directory aborts the run with an error
// wrapping scan.ErrDirectoryNotFound; every other failure is recorded in
// the report and the run continues.
func (c *Checker) Run(ctx context.Context, opts Options) (*Report, error) {
	log := slogger.L(ctx)

	reporter := opts.Reporter
	if reporter == nil {
		reporter = NewTextReporter(io.Discard)
	}
	progress := opts.Progress
	if progress == nil {
		progress = io.Discard
	}

	report := &Report{Directory: opts.Directory, Update: opts.Update}

	files, err := scan.NewScanner(c.fs, opts.Filters).Scan(ctx, opts.Directory)
	if err != nil {
		return nil, err
	}
	report.Files = files
	report.Summary.Files = len(files)

	refs := c.collect(ctx, files, opts.Filters, report)
	log.Info("found image references", "count", len(refs), "files", len(files))

	if opts.Concurrency > 1 {
		if err := c.prefetch(ctx, refs, opts.Concurrency, progress); err != nil {
			return report, err
		}
	}

	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		result, err := c.check(ctx, ref, opts, progress)
		if err != nil {
			return report, err
		}
		report.add(result)
		if err := reporter.Reference(result); err != nil {
			return report, fmt.Errorf("report reference: %w", err)
		}
	}

	if s, ok := c.resolver.(statser); ok {
		stats := s.Stats()
		report.Cache = &stats
		log.Debug("resolution cache", "hits", stats.Hits, "misses", stats.Misses, "images", stats.Entries)
	}

	if err := reporter.Finish(report); err != nil {
		return report, fmt.Errorf("report: %w", err)
	}
	return report, nil
}

// collect reads every file into a line snapshot and extracts the in-scope
// references. Unreadable files are recorded and skipped.
func (c *Checker) collect(ctx context.Context, files []string, filters scan.Filters, report *Report) []reference {
	log := slogger.L(ctx)
	pattern := filters.Pattern()

	var refs []reference
	for _, file := range files {
		lines, err := scan.ReadLines(c.fs, file)
		if err != nil {
			log.Error("failed to read file", "file", file, "error", err)
			report.FileErrors = append(report.FileErrors, FileError{File: file, Error: err.Error()})
			report.Summary.FileErrors++
			continue
		}

		for i, line := range lines {
			image, ok := scan.Extract(line, pattern)
			if !ok {
				continue
			}
			if !filters.ImageApplies(image) {
				log.Debug("excluding image", "image", image,
					"include", filters.ImageInclude, "exclude", filters.ImageExclude)
				continue
			}
			refs = append(refs, reference{file: file, line: i + 1, image: image})
		}
	}
	return refs
}

// prefetch resolves the distinct images of refs in parallel to warm the
// resolver's cache. Failures are left for the ordered pass to report.
func (c *Checker) prefetch(ctx context.Context, refs []reference, limit int, progress io.Writer) error {
	seen := make(map[string]bool)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, ref := range refs {
		parsed, err := imageref.Parse(ref.image)
		if err != nil {
			continue
		}
		bare := parsed.Bare()
		if seen[bare] {
			continue
		}
		seen[bare] = true

		g.Go(func() error {
			fmt.Fprintf(progress, "resolving %s\n", bare)
			if _, err := c.resolver.Resolve(gctx, bare); err != nil {
				slogger.L(gctx).Debug("prefetch failed", "image", bare, "error", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// check resolves one reference and applies or previews the update. The
// returned error is only set when the run must stop.
func (c *Checker) check(ctx context.Context, ref reference, opts Options, progress io.Writer) (*ReferenceResult, error) {
	ctx = slogger.With(ctx, "reference", fmt.Sprintf("%s:%d", ref.file, ref.line))
	log := slogger.L(ctx)
	result := &ReferenceResult{File: ref.file, Line: ref.line, Image: ref.image}

	parsed, err := imageref.Parse(ref.image)
	if err != nil {
		return fail(result, err), nil
	}
	result.BareImage = parsed.Bare()
	log.Debug("checking image", "image", ref.image, "bare", result.BareImage)

	fmt.Fprintf(progress, "resolving %s\n", result.BareImage)
	version, err := c.resolver.Resolve(ctx, result.BareImage)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Error("failed to resolve image", "image", result.BareImage, "error", err)
		return fail(result, err), nil
	}
	result.Resolved = version
	result.Canonical = version.String()

	if !opts.Update {
		outdated, err := c.updater.Outdated(ref.file, result.Canonical)
		if err != nil {
			log.Warn("failed to compare file", "error", err)
		}
		result.Outdated = outdated
		return result, nil
	}

	if opts.Confirm != nil {
		ok, err := c.confirm(ctx, ref.file, result.Canonical, opts.Confirm)
		if err != nil {
			return nil, err
		}
		if !ok {
			result.Skipped = true
			return result, nil
		}
	}

	update, err := c.updater.Apply(ctx, ref.file, result.Canonical)
	if err != nil {
		log.Error("failed to update file", "error", err)
	}
	result.Update = update
	return result, nil
}

// confirm asks before a rewrite that would change the file. Rewrites with
// nothing to replace go ahead so Apply reports their outcome.
func (c *Checker) confirm(ctx context.Context, path, canonical string, ask ConfirmFunc) (bool, error) {
	old, err := c.updater.Preview(path, canonical)
	if err != nil || len(old) == 0 {
		return true, nil
	}
	ok, err := ask(ctx, path, old, canonical)
	if err != nil {
		return false, fmt.Errorf("confirm update of %s: %w", path, err)
	}
	return ok, nil
}

func fail(result *ReferenceResult, err error) *ReferenceResult {
	result.Err = err
	result.Error = err.Error()
	return result
}
