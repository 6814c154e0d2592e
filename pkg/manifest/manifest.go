// Package manifest reads the declarative manifest a package carries inside
// its unpacked tree. The manifest is a UTF-8 JSON object stored at
// <version-dir>/.pakt/info/<package>.manifest; it is immutable once unpacked.
// Keys prefixed "_" are dynamic: they are stripped on read and recomputed at
// query time by whichever database or registry scope is answering, so a
// stored manifest can never lie about its own location or removability.
package manifest

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/glorpus-work/pakt/pkg/errors"
)

// Reserved names inside an unpacked package tree.
const (
	MetaDir = ".pakt"
	InfoDir = ".pakt/info"
	// Suffix is the manifest file extension; the base name is the package.
	Suffix = ".manifest"
)

// Dynamic keys injected at query time.
const (
	KeyDirectory = "_directory"
	KeyRemovable = "_removable"
)

// Manifest is a parsed package manifest. Arbitrary keys are preserved so
// callers can print or export the whole document.
type Manifest map[string]interface{}

// Path returns the manifest path for package pkg under the version directory
// dir.
func Path(dir, pkg string) string {
	return filepath.Join(dir, InfoDir, pkg+Suffix)
}

// Read parses a manifest from r. Anything but a JSON object is rejected with
// ErrBadManifest, and stored dynamic keys are stripped.
func Read(r io.Reader) (Manifest, error) {
	decoder := json.NewDecoder(r)
	var raw interface{}
	if err := decoder.Decode(&raw); err != nil {
		return nil, errors.Wrap(errors.ErrBadManifest, err.Error())
	}
	object, ok := raw.(map[string]interface{})
	if !ok {
		return nil, errors.Wrap(errors.ErrBadManifest, "not a JSON object")
	}
	for key := range object {
		if strings.HasPrefix(key, "_") {
			delete(object, key)
		}
	}
	return Manifest(object), nil
}

// Load reads the manifest for pkg from its unpacked version directory.
func Load(dir, pkg string) (Manifest, error) {
	f, err := os.Open(Path(dir, pkg))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	m, err := Read(f)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", pkg, dir)
	}
	return m, nil
}

func (m Manifest) getString(key string) string {
	if value, ok := m[key].(string); ok {
		return value
	}
	return ""
}

// Name returns the package name.
func (m Manifest) Name() string { return m.getString("name") }

// Version returns the package version string.
func (m Manifest) Version() string { return m.getString("version") }

// Title returns the human-readable title, if any.
func (m Manifest) Title() string { return m.getString("title") }

// Frameworks returns the framework identifiers the package depends on. The
// field is a comma-separated list.
func (m Manifest) Frameworks() []string {
	var frameworks []string
	for _, field := range strings.Split(m.getString("framework"), ",") {
		if field = strings.TrimSpace(field); field != "" {
			frameworks = append(frameworks, field)
		}
	}
	return frameworks
}

// InstalledSize returns the declared installed size in kilobytes, or 0. The
// field may be stored as a JSON number or as a decimal string.
func (m Manifest) InstalledSize() int64 {
	switch value := m["installed-size"].(type) {
	case float64:
		return int64(value)
	case string:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}

// Hooks returns the hook attachments declared by the package:
// application name -> hook name -> relative path. Malformed entries are
// dropped rather than failing the whole manifest.
func (m Manifest) Hooks() map[string]map[string]string {
	hooks := make(map[string]map[string]string)
	apps, ok := m["hooks"].(map[string]interface{})
	if !ok {
		return hooks
	}
	for app, rawAttachments := range apps {
		attachments, ok := rawAttachments.(map[string]interface{})
		if !ok {
			continue
		}
		byHook := make(map[string]string, len(attachments))
		for hookName, rawPath := range attachments {
			if relPath, ok := rawPath.(string); ok {
				byHook[hookName] = relPath
			}
		}
		hooks[app] = byHook
	}
	return hooks
}

// SetDirectory records the unpacked directory as the _directory dynamic key.
func (m Manifest) SetDirectory(dir string) { m[KeyDirectory] = dir }

// SetRemovable records whether the requesting scope could remove the package.
func (m Manifest) SetRemovable(removable bool) { m[KeyRemovable] = removable }
