package database

import (
	stderrors "errors"
	"os"

	"github.com/glorpus-work/pakt/pkg/errors"
	"github.com/glorpus-work/pakt/pkg/manifest"
	"github.com/glorpus-work/pakt/pkg/sysusers"
)

// MultiDB is an ordered stack of SingleDB layers: system-preinstalled roots
// first, the writable overlay last. Reads scan topmost (last added) to
// bottommost; all mutation goes to the overlay.
type MultiDB struct {
	layers      []*SingleDB
	serviceUser string
	accounts    *sysusers.Resolver
	liveness    Liveness
	systemHooks SystemHooks
}

// NewMultiDB returns an empty MultiDB. serviceUser is the account that owns
// the database trees; liveness may be nil when no running check is wanted.
func NewMultiDB(serviceUser string, accounts *sysusers.Resolver, liveness Liveness) *MultiDB {
	return &MultiDB{
		serviceUser: serviceUser,
		accounts:    accounts,
		liveness:    liveness,
	}
}

// SetSystemHooks injects the system-scope hook runner used during removals.
func (m *MultiDB) SetSystemHooks(h SystemHooks) { m.systemHooks = h }

// Add appends a layer. The last added layer is the writable overlay.
func (m *MultiDB) Add(root string) {
	m.layers = append(m.layers, &SingleDB{root: root, master: m})
}

// Len returns the number of configured layers.
func (m *MultiDB) Len() int { return len(m.layers) }

// Layer returns the i-th layer, bottommost first.
func (m *MultiDB) Layer(i int) *SingleDB { return m.layers[i] }

// Roots returns the layer roots, bottommost first.
func (m *MultiDB) Roots() []string {
	roots := make([]string, 0, len(m.layers))
	for _, layer := range m.layers {
		roots = append(roots, layer.root)
	}
	return roots
}

// Overlay returns the writable layer. Calling any mutator with zero
// configured layers is an ErrInvalid misconfiguration.
func (m *MultiDB) Overlay() (*SingleDB, error) {
	if len(m.layers) == 0 {
		return nil, errors.Wrap(errors.ErrInvalid, "no database layers configured")
	}
	return m.layers[len(m.layers)-1], nil
}

func (m *MultiDB) overlayUnchecked() *SingleDB {
	if len(m.layers) == 0 {
		return nil
	}
	return m.layers[len(m.layers)-1]
}

// Path looks pkg/version up across all layers, topmost first.
func (m *MultiDB) Path(pkg, version string) (string, error) {
	for i := len(m.layers) - 1; i >= 0; i-- {
		if path, err := m.layers[i].Path(pkg, version); err == nil {
			return path, nil
		}
	}
	return "", errors.Wrapf(errors.ErrDoesNotExist, "%s %s in any database", pkg, version)
}

// HasPackageVersion reports whether pkg/version is unpacked in any layer.
func (m *MultiDB) HasPackageVersion(pkg, version string) bool {
	_, err := m.Path(pkg, version)
	return err == nil
}

// Manifest returns the manifest of pkg/version from the first layer that has
// it, with dynamic keys reflecting that layer: _directory, and _removable
// true only for the overlay.
func (m *MultiDB) Manifest(pkg, version string) (manifest.Manifest, error) {
	for i := len(m.layers) - 1; i >= 0; i-- {
		mf, err := m.layers[i].Manifest(pkg, version)
		if err == nil {
			mf.SetRemovable(m.layers[i] == m.overlayUnchecked())
			return mf, nil
		}
		if !isNotExist(err) {
			return nil, err
		}
	}
	return nil, errors.Wrapf(errors.ErrDoesNotExist, "%s %s in any database", pkg, version)
}

// Packages merges layer enumerations topmost first: an entry shadows
// same-named entries (same package and version, when listing all versions)
// from lower layers.
func (m *MultiDB) Packages(allVersions bool) ([]InstalledPackage, error) {
	type key struct{ pkg, version string }
	seen := make(map[key]bool)
	var result []InstalledPackage
	for i := len(m.layers) - 1; i >= 0; i-- {
		entries, err := m.layers[i].Packages(allVersions)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			id := key{pkg: entry.Package}
			if allVersions {
				id.version = entry.Version
			}
			if seen[id] {
				continue
			}
			seen[id] = true
			result = append(result, entry)
		}
	}
	return result, nil
}

// MaybeRemove delegates to the overlay layer.
func (m *MultiDB) MaybeRemove(pkg, version string) error {
	overlay, err := m.Overlay()
	if err != nil {
		return err
	}
	return overlay.MaybeRemove(pkg, version)
}

// Gc delegates to the overlay layer.
func (m *MultiDB) Gc() error {
	overlay, err := m.Overlay()
	if err != nil {
		return err
	}
	return overlay.Gc()
}

// EnsureOwnership delegates to the overlay layer.
func (m *MultiDB) EnsureOwnership() error {
	overlay, err := m.Overlay()
	if err != nil {
		return err
	}
	return overlay.EnsureOwnership()
}

func isNotExist(err error) bool {
	return err != nil && (stderrors.Is(err, errors.ErrDoesNotExist) || os.IsNotExist(err))
}
