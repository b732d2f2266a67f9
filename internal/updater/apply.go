package updater

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/jmgilman/digestpin/internal/slogger"
)

const defaultLockTimeout = 5 * time.Second

// Updater rewrites files in place. Rewrites of the same path are serialized
// within the process and, on the OS filesystem, across processes.
type Updater struct {
	fs          afero.Fs
	locks       *pathLocks
	lockTimeout time.Duration
}

// Option configures an Updater.
type Option func(*Updater)

// WithLockTimeout bounds how long Apply waits for another process's file lock.
func WithLockTimeout(d time.Duration) Option {
	return func(u *Updater) {
		u.lockTimeout = d
	}
}

// New creates an Updater over fs. A nil fs means the OS filesystem.
func New(fs afero.Fs, opts ...Option) *Updater {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	u := &Updater{
		fs:          fs,
		locks:       newPathLocks(),
		lockTimeout: defaultLockTimeout,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Outdated reports whether the file at path lacks canonical.
func (u *Updater) Outdated(path, canonical string) (bool, error) {
	data, err := afero.ReadFile(u.fs, path)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	return NeedsUpdate(string(data), canonical), nil
}

// Preview returns the strings Apply would replace, without writing.
func (u *Updater) Preview(path, canonical string) ([]string, error) {
	data, err := afero.ReadFile(u.fs, path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if !NeedsUpdate(string(data), canonical) {
		return nil, nil
	}
	_, old := Rewrite(string(data), canonical)
	return old, nil
}

// Apply pins every outdated reference of canonical's image in path to
// canonical. A file already containing canonical is left alone. A file with
// no matching reference, or one that cannot be read or written, is reported
// as failed and left untouched; the returned error then wraps ErrUpdateFailed.
func (u *Updater) Apply(ctx context.Context, path, canonical string) (*Result, error) {
	log := slogger.L(ctx).With("file", path)
	log.Info("updating file", "version", canonical)

	result := &Result{Path: path, Canonical: canonical}
	fail := func(err error) (*Result, error) {
		err = fmt.Errorf("%w: %s: %w", ErrUpdateFailed, path, err)
		result.Status = StatusFailed
		result.Err = err
		result.Error = err.Error()
		return result, err
	}

	unlock := u.locks.lock(path)
	defer unlock()

	release, err := u.lockFile(ctx, path)
	if err != nil {
		return fail(err)
	}
	defer release()

	info, err := u.fs.Stat(path)
	if err != nil {
		return fail(err)
	}
	data, err := afero.ReadFile(u.fs, path)
	if err != nil {
		return fail(err)
	}

	if !NeedsUpdate(string(data), canonical) {
		log.Debug("file already pinned", "version", canonical)
		result.Status = StatusNoChangeNeeded
		return result, nil
	}

	updated, old := Rewrite(string(data), canonical)
	if len(old) == 0 {
		return fail(fmt.Errorf("no reference matching %s", Pattern(canonical)))
	}
	log.Debug("replacing references", "old", old, "new", canonical)

	if err := u.writeAtomic(path, []byte(updated), info.Mode().Perm()); err != nil {
		return fail(err)
	}

	result.Status = StatusUpdated
	result.Old = old
	return result, nil
}

// writeAtomic writes data to a temp file next to path and renames it over path.
func (u *Updater) writeAtomic(path string, data []byte, mode os.FileMode) error {
	tmp, err := afero.TempFile(u.fs, filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	// Clean up on error
	defer func() {
		if tmpPath != "" {
			_ = u.fs.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := u.fs.Chmod(tmpPath, mode); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}

	if err := u.fs.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	tmpPath = "" // Prevent cleanup
	return nil
}

// pathLocks hands out one mutex per path.
type pathLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newPathLocks() *pathLocks {
	return &pathLocks{locks: make(map[string]*sync.Mutex)}
}

func (p *pathLocks) lock(path string) func() {
	key := filepath.Clean(path)

	p.mu.Lock()
	m, ok := p.locks[key]
	if !ok {
		m = &sync.Mutex{}
		p.locks[key] = m
	}
	p.mu.Unlock()

	m.Lock()
	return m.Unlock
}
