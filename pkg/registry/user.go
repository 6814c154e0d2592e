package registry

import (
	"os"
	"path/filepath"

	"github.com/glorpus-work/pakt/pkg/database"
	"github.com/glorpus-work/pakt/pkg/errors"
	"github.com/glorpus-work/pakt/pkg/fsutil"
	"github.com/glorpus-work/pakt/pkg/manifest"
	"github.com/glorpus-work/pakt/pkg/priv"
)

// User is the registration view of one user (or pseudo-user) over the whole
// database stack. Resolution scans layers topmost to bottommost; within a
// layer the user's own entry takes precedence over @all's, and the first
// entry found wins, whether it names a version or the hidden sentinel.
type User struct {
	users *Users
	name  string
	guard *priv.Guard
}

// Registration is one resolved package registration.
type Registration struct {
	Package string
	Version string
}

// Name returns the user name.
func (c *User) Name() string { return c.name }

// Pseudo reports whether this is a reserved pseudo-user.
func (c *User) Pseudo() bool { return isPseudo(c.name) }

// Guard returns the privilege guard for this user's filesystem area. We can
// normally get away without dropping privilege for reads, but some
// filesystems are strict about how much they let root work with user files
// (NFS root_squash), so every operation on the user's area goes through the
// guard.
func (c *User) Guard() (*priv.Guard, error) {
	if c.guard != nil {
		return c.guard, nil
	}
	if c.Pseudo() || os.Getuid() != 0 {
		c.guard = priv.NewGuard(nil)
		return c.guard, nil
	}
	account, err := c.users.accounts.Lookup(c.name)
	if err != nil {
		return nil, err
	}
	c.guard = priv.NewGuard(account)
	return c.guard, nil
}

// overlayDir returns this user's registration directory in the overlay
// layer, the only one mutation may touch.
func (c *User) overlayDir() (string, error) {
	overlay, err := c.users.db.Overlay()
	if err != nil {
		return "", err
	}
	return database.UserDir(overlay.Root(), c.name), nil
}

// Version resolves the version of pkg visible to this user, or
// ErrHiddenPackage when the first registration found is the hidden sentinel,
// or ErrDoesNotExist when no scanned position has one.
func (c *User) Version(pkg string) (string, error) {
	var version string
	var resolveErr error
	guard, err := c.Guard()
	if err != nil {
		return "", err
	}
	err = guard.Run(func() error {
		version, resolveErr = c.resolve(pkg, func(linkPath string) string { return database.LinkVersion(linkPath) })
		return nil
	})
	if err != nil {
		return "", err
	}
	return version, resolveErr
}

// Path resolves pkg to its registration symlink path for this user, with the
// same precedence and hidden semantics as Version.
func (c *User) Path(pkg string) (string, error) {
	var path string
	var resolveErr error
	guard, err := c.Guard()
	if err != nil {
		return "", err
	}
	err = guard.Run(func() error {
		path, resolveErr = c.resolve(pkg, func(linkPath string) string { return linkPath })
		return nil
	})
	if err != nil {
		return "", err
	}
	return path, resolveErr
}

// resolve walks the scan order and applies pick to the first valid link.
func (c *User) resolve(pkg string, pick func(linkPath string) string) (string, error) {
	roots := c.users.db.Roots()
	for i := len(roots) - 1; i >= 0; i-- {
		candidates := []string{filepath.Join(database.UserDir(roots[i], c.name), pkg)}
		if c.name != database.AllUsers {
			candidates = append(candidates, filepath.Join(database.UserDir(roots[i], database.AllUsers), pkg))
		}
		for _, linkPath := range candidates {
			if database.IsValidLink(linkPath) {
				return pick(linkPath), nil
			}
			if fsutil.IsSymlink(linkPath) {
				return "", errors.Wrapf(errors.ErrHiddenPackage, "%s for user %s", pkg, c.name)
			}
		}
	}
	return "", errors.Wrapf(errors.ErrDoesNotExist, "%s in any database for user %s", pkg, c.name)
}

// PackageNames lists the packages visible to this user, topmost registration
// first, with hidden sentinels shadowing anything beneath them.
func (c *User) PackageNames() ([]string, error) {
	guard, err := c.Guard()
	if err != nil {
		return nil, err
	}
	var names []string
	err = guard.Run(func() error {
		seen := make(map[string]bool)
		hidden := make(map[string]bool)
		roots := c.users.db.Roots()
		for i := len(roots) - 1; i >= 0; i-- {
			dirs := []string{database.UserDir(roots[i], c.name)}
			if c.name != database.AllUsers {
				dirs = append(dirs, database.UserDir(roots[i], database.AllUsers))
			}
			for _, dir := range dirs {
				entries, err := fsutil.ListDirSorted(dir)
				if err != nil {
					return err
				}
				for _, entry := range entries {
					if seen[entry] || hidden[entry] {
						continue
					}
					linkPath := filepath.Join(dir, entry)
					if database.IsValidLink(linkPath) {
						seen[entry] = true
						names = append(names, entry)
					} else if fsutil.IsSymlink(linkPath) {
						hidden[entry] = true
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// Registrations resolves every visible package to its version.
func (c *User) Registrations() ([]Registration, error) {
	names, err := c.PackageNames()
	if err != nil {
		return nil, err
	}
	registrations := make([]Registration, 0, len(names))
	for _, pkg := range names {
		version, err := c.Version(pkg)
		if err != nil {
			// A concurrent removal between the scans; skip it.
			continue
		}
		registrations = append(registrations, Registration{Package: pkg, Version: version})
	}
	return registrations, nil
}

// Manifest returns pkg's manifest for this user's view, with per-user
// dynamic keys.
func (c *User) Manifest(pkg string) (manifest.Manifest, error) {
	return c.users.registrationManifest(c, pkg)
}

// ensureDB creates this user's overlay registration directory, owned by the
// user when running privileged.
func (c *User) ensureDB() error {
	if err := c.users.ensureDB(); err != nil {
		return err
	}
	dir, err := c.overlayDir()
	if err != nil {
		return err
	}
	if fsutil.Exists(dir) {
		return nil
	}
	if err := os.Mkdir(dir, 0o755); err != nil {
		return errors.Wrap(errors.ErrCreateDB, err.Error())
	}
	if os.Geteuid() == 0 && !c.Pseudo() {
		account, err := c.users.accounts.Lookup(c.name)
		if err != nil {
			return err
		}
		if err := os.Chown(dir, account.UID, account.GID); err != nil {
			return errors.Wrap(errors.ErrChownDB, err.Error())
		}
	}
	return nil
}

// SetVersion registers version of pkg for this user and runs install/upgrade
// hook processing. The registration pointer is updated by symlinking a
// temporary name and renaming into place, so readers observe the old or new
// target and nothing in between; re-registering the same version is a no-op.
func (c *User) SetVersion(pkg, version string) error {
	target, err := c.users.db.Path(pkg, version)
	if err != nil {
		return err
	}
	oldVersion, err := c.Version(pkg)
	if err != nil {
		oldVersion = ""
	}
	if err := c.ensureDB(); err != nil {
		return err
	}
	dir, err := c.overlayDir()
	if err != nil {
		return err
	}
	guard, err := c.Guard()
	if err != nil {
		return err
	}
	err = guard.Run(func() error {
		linkPath := filepath.Join(dir, pkg)
		if database.IsValidLink(linkPath) {
			if current, err := os.Readlink(linkPath); err == nil && current == target {
				return nil
			}
		}
		tmp := filepath.Join(dir, database.RegistrationTmpPrefix+pkg+".new")
		return fsutil.SymlinkAtomic(target, linkPath, tmp)
	})
	if err != nil {
		return err
	}
	if !c.Pseudo() && c.users.events != nil {
		return c.users.events.PackageInstallHooks(pkg, oldVersion, version, c.name)
	}
	return nil
}

// Remove unregisters pkg for this user. An own-layer registration is
// unlinked outright; a registration inherited from a lower layer or from
// @all is overridden with the hidden sentinel instead. Hook removal runs
// afterwards.
func (c *User) Remove(pkg string) error {
	dir, err := c.overlayDir()
	if err != nil {
		return err
	}
	guard, err := c.Guard()
	if err != nil {
		return err
	}
	var oldVersion string
	err = guard.Run(func() error {
		linkPath := filepath.Join(dir, pkg)
		if database.IsValidLink(linkPath) {
			oldVersion = database.LinkVersion(linkPath)
			return fsutil.UnlinkForce(linkPath)
		}
		version, resolveErr := c.resolve(pkg, func(p string) string { return database.LinkVersion(p) })
		if resolveErr != nil {
			return errors.Wrapf(errors.ErrDoesNotExist, "%s in any database for user %s", pkg, c.name)
		}
		oldVersion = version
		if err := c.ensureDB(); err != nil {
			return err
		}
		tmp := filepath.Join(dir, database.RegistrationTmpPrefix+pkg+".new")
		return fsutil.SymlinkAtomic(database.HiddenVersion, linkPath, tmp)
	})
	if err != nil {
		return err
	}
	if !c.Pseudo() && c.users.events != nil {
		return c.users.events.PackageRemoveHooks(pkg, oldVersion, c.name)
	}
	return nil
}

// IsRemovable reports whether Remove would act for this user: true for an
// own-layer registration or anything that can still be hidden, false when
// the entry is already hidden or simply absent.
func (c *User) IsRemovable(pkg string) bool {
	dir, err := c.overlayDir()
	if err != nil {
		return false
	}
	linkPath := filepath.Join(dir, pkg)
	if fsutil.Exists(linkPath) {
		return true
	}
	if fsutil.IsSymlink(linkPath) {
		// Already hidden (or dangling).
		return false
	}
	overlay, err := c.users.db.Overlay()
	if err != nil {
		return false
	}
	allPath := filepath.Join(database.UserDir(overlay.Root(), database.AllUsers), pkg)
	if database.IsValidLink(allPath) {
		return true
	}
	if fsutil.IsSymlink(allPath) {
		return false
	}
	// Not in the overlay, but a lower layer may still supply it; hiding is
	// always possible then.
	_, err = c.Version(pkg)
	return err == nil
}
