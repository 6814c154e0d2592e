package database

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/glorpus-work/pakt/pkg/fsutil"
	"github.com/glorpus-work/pakt/pkg/manifest"
)

// Pseudo-usernames, selected to be invalid as real usernames. The @ prefix
// alludes to group syntaxes used elsewhere.
const (
	// AllUsers registrations apply to every real user unless overridden.
	AllUsers = "@all"
	// GCInUse is a legacy marker once used to pin versions during GC.
	// It is ignored by resolution and cleaned up by Gc.
	GCInUse = "@gcinuse"
)

// HiddenVersion is the sentinel registration target meaning "explicitly
// removed for this user although a copy may still exist". @ is conveniently
// invalid in version strings too.
const HiddenVersion = "@hidden"

// RegistrationTmpPrefix is the rename-source prefix for atomic registration
// updates: .<package>.new next to the registration link.
const RegistrationTmpPrefix = "."

// UsersDir returns the registration tree of a database root. It lives
// outside any user's home directory so it can safely be walked as root.
func UsersDir(root string) string {
	return filepath.Join(root, manifest.MetaDir, "users")
}

// UserDir returns the registration directory of one user under a database
// root.
func UserDir(root, user string) string {
	return filepath.Join(UsersDir(root), user)
}

// IsValidLink reports whether path is a registration symlink pointing at a
// real version directory rather than a sentinel.
func IsValidLink(path string) bool {
	if !fsutil.IsSymlink(path) {
		return false
	}
	target, err := os.Readlink(path)
	return err == nil && !strings.HasPrefix(target, "@")
}

// LinkVersion returns the version a registration symlink points at, or ""
// when the link is absent or a sentinel.
func LinkVersion(path string) string {
	if !IsValidLink(path) {
		return ""
	}
	target, err := os.Readlink(path)
	if err != nil {
		return ""
	}
	return filepath.Base(target)
}
