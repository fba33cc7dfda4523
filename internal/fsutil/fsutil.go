package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureDir creates dir (and any missing parents) if it does not already
// exist, matching the teacher's filesystem storage driver convention of
// creating parent directories lazily on first write.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("fsutil: creating directory %s: %w", dir, err)
	}
	return nil
}

// Exists reports whether path exists, regardless of type.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsDir reports whether path exists and is a directory.
func IsDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

// ResolveDistinct resolves a and b to their absolute, symlink-evaluated form
// and returns an error if they refer to the same path. This backs the
// settings validation in spec.md §6: "datapath, indexpath: required
// absolute paths, must differ after realpath".
func ResolveDistinct(a, b string) (string, string, error) {
	ra, err := realpath(a)
	if err != nil {
		return "", "", fmt.Errorf("fsutil: resolving %s: %w", a, err)
	}
	rb, err := realpath(b)
	if err != nil {
		return "", "", fmt.Errorf("fsutil: resolving %s: %w", b, err)
	}
	if ra == rb {
		return "", "", fmt.Errorf("fsutil: datapath and indexpath must differ, both resolve to %s", ra)
	}
	return ra, rb, nil
}

// realpath resolves path to an absolute path, creating it first if missing
// so that EvalSymlinks has something to resolve (a fresh namespace root may
// not exist yet on first create).
func realpath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if err := EnsureDir(abs); err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}
