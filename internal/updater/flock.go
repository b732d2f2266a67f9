package updater

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/afero"
)

// lockFile takes an exclusive advisory lock on path when the Updater works
// on the OS filesystem. Other filesystems only get the in-process lock.
func (u *Updater) lockFile(ctx context.Context, path string) (func(), error) {
	if _, ok := u.fs.(*afero.OsFs); !ok {
		return func() {}, nil
	}

	file, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s for locking: %w", path, err)
	}

	if err := u.acquireLock(ctx, file); err != nil {
		file.Close()
		return nil, err
	}

	return func() {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
	}, nil
}

// acquireLock polls for an exclusive lock until the lock timeout.
func (u *Updater) acquireLock(ctx context.Context, file *os.File) error {
	deadline := time.Now().Add(u.lockTimeout)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			return nil
		}
		if err != syscall.EWOULDBLOCK {
			return fmt.Errorf("acquire file lock: %w", err)
		}

		if time.Now().After(deadline) {
			return ErrLockTimeout
		}

		time.Sleep(10 * time.Millisecond)
	}
}
