// Package fsutil provides the small set of filesystem primitives the engine
// needs: directory creation, existence checks, and the per-directory
// advisory lockfile that prevents two instances from opening the same
// namespace directories concurrently (spec.md §4.2). The locking approach —
// an exclusive, non-blocking flock(2) held on a dedicated ".lockfile" for the
// lifetime of the process — follows the same flock-based directory locker
// pattern used elsewhere in the Go storage-engine corpus this project draws
// from.
package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned when a directory's lockfile is already held by
// another process.
var ErrLocked = errors.New("fsutil: directory already locked")

// LockFileName is the name of the advisory lockfile created in every locked
// directory.
const LockFileName = ".lockfile"

// Lock represents an exclusive advisory lock held on a directory's
// lockfile. The underlying file descriptor is kept open for as long as the
// Lock is held; closing it releases the flock.
type Lock struct {
	file *os.File
}

// LockDirectory creates (if needed) and exclusively locks dir/.lockfile.
// It returns ErrLocked if another process already holds the lock.
func LockDirectory(dir string) (*Lock, error) {
	if err := EnsureDir(dir); err != nil {
		return nil, err
	}

	path := filepath.Join(dir, LockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("fsutil: opening lockfile %s: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, dir)
		}
		return nil, fmt.Errorf("fsutil: locking %s: %w", path, err)
	}

	return &Lock{file: f}, nil
}

// Close releases the lock and closes the lockfile descriptor. Idempotent.
func (l *Lock) Close() error {
	if l == nil || l.file == nil {
		return nil
	}

	unlockErr := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil

	if unlockErr != nil {
		return fmt.Errorf("fsutil: unlocking: %w", unlockErr)
	}
	return closeErr
}
