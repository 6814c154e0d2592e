// Package framework reads the declarations of the runtime frameworks
// available on a system and validates package framework requirements against
// them. A framework is declared by dropping a deb822-style file into the
// frameworks directory; a package naming an undeclared framework is refused
// at deposit time.
package framework

import (
	"path/filepath"
	"strings"
	"unicode"

	goversion "github.com/hashicorp/go-version"

	"github.com/glorpus-work/pakt/pkg/deb822"
	"github.com/glorpus-work/pakt/pkg/errors"
	"github.com/glorpus-work/pakt/pkg/fsutil"
)

// DeclarationSuffix is the extension of framework declaration files.
const DeclarationSuffix = ".framework"

// Registry reads framework declarations from one directory.
type Registry struct {
	dir string
}

// NewRegistry returns a Registry over dir.
func NewRegistry(dir string) *Registry {
	return &Registry{dir: dir}
}

// Framework is one declared framework.
type Framework struct {
	name   string
	fields deb822.Paragraph
}

// Open loads the declaration of name.
func (r *Registry) Open(name string) (*Framework, error) {
	fields, err := deb822.ParseFile(filepath.Join(r.dir, name+DeclarationSuffix))
	if err != nil {
		return nil, errors.Wrapf(errors.ErrMissingFramework, "%q", name)
	}
	return &Framework{name: name, fields: fields}, nil
}

// Has reports whether name is declared.
func (r *Registry) Has(name string) bool {
	return fsutil.Exists(filepath.Join(r.dir, name+DeclarationSuffix))
}

// Names lists the declared frameworks in sorted order.
func (r *Registry) Names() ([]string, error) {
	entries, err := fsutil.ListDirSorted(r.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if strings.HasSuffix(entry, DeclarationSuffix) {
			names = append(names, strings.TrimSuffix(entry, DeclarationSuffix))
		}
	}
	return names, nil
}

// Name returns the framework's declared name.
func (f *Framework) Name() string { return f.name }

// splitBase separates a framework name like ubuntu-sdk-15.04 into its base
// name and trailing version. Names without a numeric tail have no version
// part.
func splitBase(name string) (base, version string) {
	i := strings.LastIndex(name, "-")
	if i < 0 || i+1 >= len(name) || !unicode.IsDigit(rune(name[i+1])) {
		return name, ""
	}
	return name[:i], name[i+1:]
}

// BaseName returns the declared Base-Name, falling back to stripping the
// version tail off the framework name.
func (f *Framework) BaseName() string {
	if value, ok := f.fields.Get("base-name"); ok {
		return value
	}
	base, _ := splitBase(f.name)
	return base
}

// BaseVersion returns the declared Base-Version, falling back to the version
// tail of the framework name.
func (f *Framework) BaseVersion() (*goversion.Version, error) {
	raw, ok := f.fields.Get("base-version")
	if !ok {
		_, raw = splitBase(f.name)
	}
	if raw == "" {
		return nil, errors.Wrapf(errors.ErrBadVersion, "framework %s declares no base version", f.name)
	}
	v, err := goversion.NewVersion(raw)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrBadVersion, "framework %s: %v", f.name, err)
	}
	return v, nil
}

// Validate checks that every required framework is declared, reporting all
// missing ones at once.
func (r *Registry) Validate(required []string) error {
	var missing []string
	for _, name := range required {
		if !r.Has(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return errors.Wrapf(errors.ErrMissingFramework, "%s", strings.Join(missing, ", "))
	}
	return nil
}
