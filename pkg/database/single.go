package database

import (
	"os"
	"path/filepath"

	"github.com/glorpus-work/pakt/internal/logger"
	"github.com/glorpus-work/pakt/pkg/errors"
	"github.com/glorpus-work/pakt/pkg/fsutil"
	"github.com/glorpus-work/pakt/pkg/manifest"
)

// CurrentLink is the per-package symlink naming the current version within
// one database layer.
const CurrentLink = "current"

// InstalledPackage is one unpacked package version.
type InstalledPackage struct {
	Package string
	Version string
	Path    string
	// Writable is true only for versions living in the overlay layer.
	Writable bool
}

// SystemHooks runs system-scope hook processing on behalf of the database.
// It is implemented by the hook engine and injected at wiring time to keep
// the package dependencies acyclic.
type SystemHooks interface {
	PackageRemoveHooks(pkg, version string) error
}

// SingleDB is one root directory containing unpacked package/version trees:
// <root>/<package>/<version>/, with an optional <root>/<package>/current
// symlink, a .pakt metadata directory, and the per-user registration tree.
type SingleDB struct {
	root   string
	master *MultiDB
}

// Root returns the root directory of this layer.
func (d *SingleDB) Root() string { return d.root }

// Path returns the version directory for pkg/version in only this layer.
func (d *SingleDB) Path(pkg, version string) (string, error) {
	try := filepath.Join(d.root, pkg, version)
	if fsutil.Exists(try) {
		return try, nil
	}
	return "", errors.Wrapf(errors.ErrDoesNotExist, "%s %s in %s", pkg, version, d.root)
}

// Packages enumerates installed versions in only this layer, sorted by
// package then version name. With allVersions false, only versions named by
// a current symlink are returned; otherwise every version subdirectory is,
// skipping symlinked and non-directory entries and the reserved metadata
// directory.
func (d *SingleDB) Packages(allVersions bool) ([]InstalledPackage, error) {
	writable := d.master != nil && d.master.overlayUnchecked() == d
	var result []InstalledPackage
	names, err := fsutil.ListDirSorted(d.root)
	if err != nil {
		return nil, err
	}
	for _, pkg := range names {
		if pkg == manifest.MetaDir {
			continue
		}
		pkgPath := filepath.Join(d.root, pkg)
		if allVersions {
			versions, err := fsutil.ListDirSorted(pkgPath)
			if err != nil {
				return nil, err
			}
			for _, version := range versions {
				versionPath := filepath.Join(pkgPath, version)
				if fsutil.IsSymlink(versionPath) || !fsutil.IsDir(versionPath) {
					continue
				}
				result = append(result, InstalledPackage{
					Package: pkg, Version: version, Path: versionPath, Writable: writable,
				})
			}
		} else {
			currentPath := filepath.Join(pkgPath, CurrentLink)
			if !fsutil.IsSymlink(currentPath) {
				continue
			}
			version, err := os.Readlink(currentPath)
			if err != nil || filepath.Base(version) != version {
				// current must be a relative link to a sibling directory.
				continue
			}
			result = append(result, InstalledPackage{
				Package: pkg, Version: version, Path: currentPath, Writable: writable,
			})
		}
	}
	return result, nil
}

// Manifest returns the parsed manifest of pkg/version with the _directory
// dynamic key injected.
func (d *SingleDB) Manifest(pkg, version string) (manifest.Manifest, error) {
	dir, err := d.Path(pkg, version)
	if err != nil {
		return nil, err
	}
	m, err := manifest.Load(dir, pkg)
	if err != nil {
		return nil, err
	}
	m.SetDirectory(dir)
	return m, nil
}

// MaybeRemove deletes pkg/version unless some user (including @all) is
// registered to that exact version. A skipped removal is not an error; GC
// will revisit it.
func (d *SingleDB) MaybeRemove(pkg, version string) error {
	if _, err := d.Path(pkg, version); err != nil {
		return err
	}
	inUse, _, err := d.registrationsInUse()
	if err != nil {
		return err
	}
	if inUse[pkg][version] {
		logger.Debug("version still registered, not removing",
			logger.Fields{"package": pkg, "version": version})
		return nil
	}
	return d.remove(pkg, version)
}

// remove runs removal hooks and deletes the version tree, skipping the whole
// removal when an application from the package reports running. The running
// check is a precondition, not a lock: a racing registration at worst makes
// the next GC cycle skip again.
func (d *SingleDB) remove(pkg, version string) error {
	dir, err := d.Path(pkg, version)
	if err != nil {
		return err
	}
	if app, running := d.anyAppRunning(pkg, version, dir); running {
		logger.Warn("application still running, not removing",
			logger.Fields{"package": pkg, "version": version, "app": app})
		return nil
	}
	if d.master != nil && d.master.systemHooks != nil {
		if err := d.master.systemHooks.PackageRemoveHooks(pkg, version); err != nil {
			return err
		}
	}
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	// Drop a current link that pointed at the removed version, then prune
	// the package directory if nothing is left.
	pkgDir := filepath.Join(d.root, pkg)
	currentPath := filepath.Join(pkgDir, CurrentLink)
	if target, err := os.Readlink(currentPath); err == nil && target == version {
		if err := fsutil.UnlinkForce(currentPath); err != nil {
			return err
		}
	}
	if remaining, err := fsutil.ListDirSorted(pkgDir); err == nil && len(remaining) == 0 {
		return os.Remove(pkgDir)
	}
	return nil
}

// anyAppRunning consults the liveness oracle for every application the
// version's manifest declares hooks for.
func (d *SingleDB) anyAppRunning(pkg, version, dir string) (string, bool) {
	if d.master == nil || d.master.liveness == nil {
		return "", false
	}
	m, err := manifest.Load(dir, pkg)
	if err != nil {
		return "", false
	}
	for app := range m.Hooks() {
		appID := pkg + "_" + app + "_" + version
		if d.master.liveness.Running(appID) {
			return app, true
		}
	}
	return "", false
}

// registrationsInUse scans every layer's registration tree and returns a
// package -> set-of-versions multimap of versions some user is registered to,
// ignoring @gcinuse. It also returns the stale @gcinuse link paths found in
// this layer, the only one Gc may clean up.
func (d *SingleDB) registrationsInUse() (map[string]map[string]bool, []string, error) {
	inUse := make(map[string]map[string]bool)
	var stale []string
	roots := []string{d.root}
	if d.master != nil {
		roots = roots[:0]
		for _, layer := range d.master.layers {
			roots = append(roots, layer.root)
		}
	}
	for _, root := range roots {
		users, err := fsutil.ListDirSorted(UsersDir(root))
		if err != nil {
			return nil, nil, err
		}
		for _, user := range users {
			userDir := UserDir(root, user)
			if !fsutil.IsDir(userDir) {
				continue
			}
			links, err := fsutil.ListDirSorted(userDir)
			if err != nil {
				return nil, nil, err
			}
			for _, pkg := range links {
				path := filepath.Join(userDir, pkg)
				if user == GCInUse {
					// Markers on lower layers are read-only territory;
					// only our own may be cleaned up.
					if root == d.root {
						stale = append(stale, path)
					}
					continue
				}
				if version := LinkVersion(path); version != "" {
					if inUse[pkg] == nil {
						inUse[pkg] = make(map[string]bool)
					}
					inUse[pkg][version] = true
				}
			}
		}
	}
	return inUse, stale, nil
}

// Gc sweeps every on-disk version with no remaining registration. Per-item
// failures are logged and skipped so one broken package cannot wedge the
// sweep; stale @gcinuse markers are removed afterwards.
func (d *SingleDB) Gc() error {
	inUse, stale, err := d.registrationsInUse()
	if err != nil {
		return err
	}
	installed, err := d.Packages(true)
	if err != nil {
		return err
	}
	for _, pkg := range installed {
		if inUse[pkg.Package][pkg.Version] {
			continue
		}
		if err := d.remove(pkg.Package, pkg.Version); err != nil {
			logger.Warn("gc: failed to remove version",
				logger.Fields{"package": pkg.Package, "version": pkg.Version, "error": err.Error()})
		}
	}
	for _, path := range stale {
		if err := fsutil.UnlinkForce(path); err != nil {
			logger.Warn("gc: failed to remove stale marker",
				logger.Fields{"path": path, "error": err.Error()})
		}
	}
	// Our marker directory is empty now; drop it quietly.
	_ = os.Remove(UserDir(d.root, GCInUse))
	return nil
}

// EnsureOwnership repairs uid drift on every path that must be owned by the
// dedicated service account: the root, the package trees, and the top of the
// registration tree. Per-user registration directories belong to their users
// and are left alone. Failure to resolve the account itself is fatal
// misconfiguration.
func (d *SingleDB) EnsureOwnership() error {
	if d.master == nil {
		return errors.Wrap(errors.ErrInvalid, "database has no layer configuration")
	}
	account, err := d.master.accounts.Lookup(d.master.serviceUser)
	if err != nil {
		return errors.Wrapf(errors.ErrEnsureOwnership,
			"service account %q: %v", d.master.serviceUser, err)
	}
	if !fsutil.Exists(d.root) {
		return nil
	}
	if err := d.chownIfDrifted(d.root, account.UID, account.GID, false); err != nil {
		return err
	}
	names, err := fsutil.ListDirSorted(d.root)
	if err != nil {
		return errors.Wrap(errors.ErrEnsureOwnership, err.Error())
	}
	for _, name := range names {
		if name == manifest.MetaDir {
			continue
		}
		if err := d.chownIfDrifted(filepath.Join(d.root, name), account.UID, account.GID, true); err != nil {
			return err
		}
	}
	for _, path := range []string{filepath.Join(d.root, manifest.MetaDir), UsersDir(d.root)} {
		if fsutil.Exists(path) {
			if err := d.chownIfDrifted(path, account.UID, account.GID, false); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *SingleDB) chownIfDrifted(path string, uid, gid int, recursive bool) error {
	fi, err := os.Lstat(path)
	if err != nil {
		return errors.Wrap(errors.ErrEnsureOwnership, err.Error())
	}
	if owner, ok := statUID(fi); !ok || owner == uid {
		return nil
	}
	if recursive {
		err = fsutil.ChownRecursive(path, uid, gid)
	} else {
		err = os.Lchown(path, uid, gid)
	}
	if err != nil {
		return errors.Wrap(errors.ErrChownDB, err.Error())
	}
	return nil
}
