// Package installer deposits package archives into the writable database
// layer. An archive is a compressed tarball whose root is the version
// directory content, embedded manifest included; deposit validates the
// manifest and the declared frameworks, unpacks next to the destination and
// renames into place, then updates the layer's current pointer.
package installer

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mholt/archives"

	"github.com/glorpus-work/pakt/internal/logger"
	"github.com/glorpus-work/pakt/pkg/database"
	"github.com/glorpus-work/pakt/pkg/errors"
	"github.com/glorpus-work/pakt/pkg/framework"
	"github.com/glorpus-work/pakt/pkg/fsutil"
	"github.com/glorpus-work/pakt/pkg/manifest"
	pkgversion "github.com/glorpus-work/pakt/pkg/version"
)

// Events receives install notifications, implemented by the hook engine and
// injected at wiring time. A nil sink skips hook processing.
type Events interface {
	PackageInstallHooks(pkg, oldVersion, newVersion string) error
}

// Installer deposits archives into the overlay layer of a database stack.
type Installer struct {
	db         *database.MultiDB
	frameworks *framework.Registry
	events     Events
}

// New returns an Installer for db validating against frameworks.
func New(db *database.MultiDB, frameworks *framework.Registry) *Installer {
	return &Installer{db: db, frameworks: frameworks}
}

// SetEvents injects the hook engine.
func (i *Installer) SetEvents(events Events) { i.events = events }

// Install deposits the archive at archivePath and returns the package name
// and version it carried. Depositing a (package, version) that is already
// unpacked in the overlay is refused; the caller removes first if it really
// wants to replace the tree.
func (i *Installer) Install(ctx context.Context, archivePath string) (string, string, error) {
	fsys, err := archives.FileSystem(ctx, archivePath, nil)
	if err != nil {
		return "", "", errors.Wrapf(errors.ErrBadArchive, "%s: %v", archivePath, err)
	}
	if closer, ok := fsys.(io.Closer); ok {
		defer func() { _ = closer.Close() }()
	}

	pkg, m, err := embeddedManifest(fsys)
	if err != nil {
		return "", "", err
	}
	version := m.Version()
	if err := validateIdentity(pkg, m.Name(), version); err != nil {
		return "", "", err
	}
	if err := i.frameworks.Validate(m.Frameworks()); err != nil {
		return "", "", err
	}

	overlay, err := i.db.Overlay()
	if err != nil {
		return "", "", err
	}
	pkgDir := filepath.Join(overlay.Root(), pkg)
	dest := filepath.Join(pkgDir, version)
	if fsutil.Exists(dest) {
		return "", "", errors.Wrapf(errors.ErrAlreadyUnpacked, "%s %s", pkg, version)
	}

	// Unpack beside the destination and rename, so a crash mid-extract
	// leaves a droppable temp directory instead of a half-valid version.
	inProgress := filepath.Join(pkgDir, "."+version+".new")
	if err := os.RemoveAll(inProgress); err != nil {
		return "", "", err
	}
	if err := fsutil.EnsureDir(pkgDir); err != nil {
		return "", "", err
	}
	if err := extract(fsys, inProgress); err != nil {
		_ = os.RemoveAll(inProgress)
		return "", "", err
	}

	oldVersion := currentVersion(pkgDir)
	if err := os.Rename(inProgress, dest); err != nil {
		_ = os.RemoveAll(inProgress)
		return "", "", err
	}
	currentPath := filepath.Join(pkgDir, database.CurrentLink)
	tmp := filepath.Join(pkgDir, "."+database.CurrentLink+".new")
	if err := fsutil.SymlinkAtomic(version, currentPath, tmp); err != nil {
		return "", "", err
	}
	logger.Info("unpacked package",
		logger.Fields{"package": pkg, "version": version, "path": dest})

	if i.events != nil {
		return pkg, version, i.events.PackageInstallHooks(pkg, oldVersion, version)
	}
	return pkg, version, nil
}

// embeddedManifest locates the archive's manifest under the metadata
// directory; the file name carries the package name. Exactly one manifest
// must be present.
func embeddedManifest(fsys fs.FS) (string, manifest.Manifest, error) {
	entries, err := fs.ReadDir(fsys, filepath.ToSlash(manifest.InfoDir))
	if err != nil {
		return "", nil, errors.Wrapf(errors.ErrBadArchive, "no manifest directory: %v", err)
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), manifest.Suffix) {
			names = append(names, entry.Name())
		}
	}
	if len(names) != 1 {
		return "", nil, errors.Wrapf(errors.ErrBadArchive, "want exactly one manifest, found %d", len(names))
	}
	pkg := strings.TrimSuffix(names[0], manifest.Suffix)
	f, err := fsys.Open(filepath.ToSlash(filepath.Join(manifest.InfoDir, names[0])))
	if err != nil {
		return "", nil, errors.Wrap(errors.ErrBadArchive, err.Error())
	}
	defer func() { _ = f.Close() }()
	m, err := manifest.Read(f)
	if err != nil {
		return "", nil, err
	}
	return pkg, m, nil
}

// validateIdentity checks the joined naming convention the rest of the
// system relies on.
func validateIdentity(pkg, declared, version string) error {
	if pkg == "" || strings.ContainsAny(pkg, "_/") {
		return errors.Wrapf(errors.ErrBadManifest, "package name %q may not contain _ or / characters", pkg)
	}
	if declared != pkg {
		return errors.Wrapf(errors.ErrBadManifest, "manifest names %q, archive carries %q", declared, pkg)
	}
	if version == "" {
		return errors.Wrap(errors.ErrBadManifest, "manifest declares no version")
	}
	if err := pkgversion.Validate(version); err != nil {
		return err
	}
	return nil
}

// currentVersion reads the version a layer's current link names, or "".
func currentVersion(pkgDir string) string {
	target, err := os.Readlink(filepath.Join(pkgDir, database.CurrentLink))
	if err != nil || filepath.Base(target) != target {
		return ""
	}
	return target
}

// extract writes the archive filesystem below dest. Directories, regular
// files and symlinks are materialized; anything else is dropped with a
// warning.
func extract(fsys fs.FS, dest string) error {
	return fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		target := dest
		if path != "." {
			target = filepath.Join(dest, filepath.FromSlash(path))
		}
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			if ai, ok := info.(archives.FileInfo); ok && ai.LinkTarget != "" {
				return os.Symlink(ai.LinkTarget, target)
			}
			logger.Warn("skipping symlink with unreadable target",
				logger.Fields{"entry": path})
			return nil
		}
		if !info.Mode().IsRegular() {
			logger.Warn("skipping irregular archive entry",
				logger.Fields{"entry": path, "mode": info.Mode().String()})
			return nil
		}
		src, err := fsys.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = src.Close() }()
		out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, src); err != nil {
			_ = out.Close()
			return err
		}
		return out.Close()
	})
}
