// Package fsutil provides the small set of filesystem helpers the registry
// and hook engine are built on. The registry's on-disk format is nothing but
// directories and symlinks, so these helpers are deliberately forgiving about
// absent paths: a missing directory lists as empty and a missing link unlinks
// as a no-op.
package fsutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"sort"
)

// EnsureDir creates directory and any missing parents.
func EnsureDir(directory string) error {
	return os.MkdirAll(directory, 0o755)
}

// ListDirSorted returns the names in directory sorted byte-wise. A missing
// directory yields an empty slice. Deterministic ordering is a contract here:
// hook processing and GC sweeps must not depend on readdir order.
func ListDirSorted(directory string) ([]string, error) {
	entries, err := os.ReadDir(directory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// UnlinkForce removes path without worrying about whether it exists.
func UnlinkForce(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// SymlinkForce creates the symlink link -> target, replacing any existing
// link. A reader racing with this call may briefly observe no link at all;
// registration pointers therefore never use it directly and go through
// SymlinkAtomic instead.
func SymlinkForce(target, link string) error {
	if err := UnlinkForce(link); err != nil {
		return err
	}
	return os.Symlink(target, link)
}

// SymlinkAtomic creates the symlink link -> target by writing a temporary
// name next to it and renaming into place, so a concurrent reader sees either
// the old target or the new one, never a missing link.
func SymlinkAtomic(target, link, tmp string) error {
	if err := SymlinkForce(target, tmp); err != nil {
		return err
	}
	return os.Rename(tmp, link)
}

// IsSymlink reports whether path is a symlink (without following it).
func IsSymlink(path string) bool {
	fi, err := os.Lstat(path)
	return err == nil && fi.Mode()&os.ModeSymlink != 0
}

// IsDir reports whether path is a directory (following symlinks).
func IsDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

// Exists reports whether path exists (following symlinks).
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// FindOnPath reports whether command is on the executable search path.
func FindOnPath(command string) bool {
	path, err := exec.LookPath(command)
	return err == nil && path != ""
}

// ChownRecursive changes ownership of path and everything below it.
// Symlinks are changed with Lchown and never followed.
func ChownRecursive(path string, uid, gid int) error {
	return filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return os.Lchown(p, uid, gid)
		}
		return os.Chown(p, uid, gid)
	})
}
