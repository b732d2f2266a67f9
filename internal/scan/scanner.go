package scan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/spf13/afero"

	"github.com/jmgilman/digestpin/internal/slogger"
)

// ErrDirectoryNotFound is returned when the scan directory does not exist
// or is not a directory.
var ErrDirectoryNotFound = errors.New("directory not found")

// Scanner lists the pipeline files of a directory.
type Scanner struct {
	fs      afero.Fs
	filters Filters
}

// NewScanner creates a Scanner over fs. A nil fs means the OS filesystem.
func NewScanner(fs afero.Fs, filters Filters) *Scanner {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Scanner{fs: fs, filters: filters}
}

// Scan returns the regular files directly inside dir whose names pass the
// file filters, sorted by name. Subdirectories are not descended into.
func (s *Scanner) Scan(ctx context.Context, dir string) ([]string, error) {
	log := slogger.L(ctx)

	info, err := s.fs.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDirectoryNotFound, dir)
		}
		return nil, fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrDirectoryNotFound, dir)
	}

	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		path := JoinPath(dir, entry.Name())
		if !s.isRegular(entry, path) {
			continue
		}
		if !s.filters.FileApplies(entry.Name()) {
			log.Debug("excluding file", "file", entry.Name(),
				"include", s.filters.FileInclude, "exclude", s.filters.FileExclude)
			continue
		}
		files = append(files, path)
	}
	slices.Sort(files)

	log.Info("scanned directory", "directory", dir, "files", len(files))
	return files, nil
}

// isRegular reports whether entry is a regular file, following symlinks.
func (s *Scanner) isRegular(entry os.FileInfo, path string) bool {
	if entry.Mode()&os.ModeSymlink == 0 {
		return entry.Mode().IsRegular()
	}
	target, err := s.fs.Stat(path)
	return err == nil && target.Mode().IsRegular()
}

// ReadLines returns the lines of a file, split on "\n". Carriage returns
// stay attached to their line; lines are not length limited.
func ReadLines(fs afero.Fs, path string) ([]string, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n"), nil
}

// JoinPath builds dir + "/" + name, trimmed, with "//" collapsed to "/".
func JoinPath(dir, name string) string {
	return strings.ReplaceAll(strings.TrimSpace(dir+"/"+name), "//", "/")
}
