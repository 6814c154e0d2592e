// Package registry tracks which version of each package every user (and
// pseudo-user) has registered. The store is deliberately the simplest
// database imaginable: a directory of symlinks per user per layer, so that no
// prior failure can ever wedge future registrations. A registration symlink
// points either at the version directory or at the @hidden sentinel, meaning
// the package was explicitly removed for that user even though a copy still
// exists elsewhere.
package registry

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/glorpus-work/pakt/pkg/database"
	"github.com/glorpus-work/pakt/pkg/errors"
	"github.com/glorpus-work/pakt/pkg/fsutil"
	"github.com/glorpus-work/pakt/pkg/manifest"
	"github.com/glorpus-work/pakt/pkg/sysusers"
)

// HookEvents is invoked by the registry on registration transitions. It is
// implemented by the hook engine and injected at wiring time; a nil events
// sink simply skips hook processing.
type HookEvents interface {
	PackageInstallHooks(pkg, oldVersion, newVersion, user string) error
	PackageRemoveHooks(pkg, oldVersion, user string) error
}

// Users is the registry over all users of a database stack.
type Users struct {
	db          *database.MultiDB
	accounts    *sysusers.Resolver
	serviceUser string
	events      HookEvents
	byName      map[string]*User
}

// NewUsers returns a Users registry for db. serviceUser owns the shared
// registration tree tops.
func NewUsers(db *database.MultiDB, accounts *sysusers.Resolver, serviceUser string) *Users {
	return &Users{db: db, accounts: accounts, serviceUser: serviceUser, byName: make(map[string]*User)}
}

// SetEvents injects the hook engine.
func (u *Users) SetEvents(events HookEvents) { u.events = events }

// DB returns the underlying database stack.
func (u *Users) DB() *database.MultiDB { return u.db }

// Names lists every user (including pseudo-users) with a registration
// directory in any layer, sorted and deduplicated.
func (u *Users) Names() ([]string, error) {
	seen := make(map[string]bool)
	var names []string
	for _, root := range u.db.Roots() {
		entries, err := fsutil.ListDirSorted(database.UsersDir(root))
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if seen[entry] || !fsutil.IsDir(database.UserDir(root, entry)) {
				continue
			}
			seen[entry] = true
			names = append(names, entry)
		}
	}
	return names, nil
}

// Get returns the registry view of name, requiring that the user has a
// registration directory in some layer.
func (u *Users) Get(name string) (*User, error) {
	for _, root := range u.db.Roots() {
		if fsutil.IsDir(database.UserDir(root, name)) {
			return u.User(name), nil
		}
	}
	return nil, errors.Wrapf(errors.ErrDoesNotExist, "user %s in any database", name)
}

// User returns the registry view of name without an existence check. Views
// are cached per name: every operation on one user must go through the same
// privilege guard, or a nested drop would regain privilege on a guard whose
// count never saw the outer drop.
func (u *Users) User(name string) *User {
	if view, ok := u.byName[name]; ok {
		return view
	}
	view := &User{users: u, name: name}
	u.byName[name] = view
	return view
}

// AllUsers returns the @all pseudo-user view.
func (u *Users) AllUsers() *User {
	return u.User(database.AllUsers)
}

// ensureDB creates the shared registration tree of the overlay layer, owned
// by the service account when running privileged.
func (u *Users) ensureDB() error {
	overlay, err := u.db.Overlay()
	if err != nil {
		return err
	}
	var created []string
	path := database.UsersDir(overlay.Root())
	for !fsutil.Exists(path) {
		created = append(created, path)
		path = filepath.Dir(path)
	}
	for i := len(created) - 1; i >= 0; i-- {
		if err := os.Mkdir(created[i], 0o755); err != nil {
			return errors.Wrap(errors.ErrCreateDB, err.Error())
		}
		if os.Geteuid() == 0 {
			account, err := u.accounts.Lookup(u.serviceUser)
			if err != nil {
				return errors.Wrapf(errors.ErrCreateDB, "service account %q: %v", u.serviceUser, err)
			}
			if err := os.Chown(created[i], account.UID, account.GID); err != nil {
				return errors.Wrap(errors.ErrChownDB, err.Error())
			}
		}
	}
	return nil
}

// isPseudo reports whether name is a reserved pseudo-user.
func isPseudo(name string) bool {
	return strings.HasPrefix(name, "@")
}

// registrationManifest overlays per-user dynamic keys on the manifest of the
// version user has registered for pkg.
func (u *Users) registrationManifest(user *User, pkg string) (manifest.Manifest, error) {
	version, err := user.Version(pkg)
	if err != nil {
		return nil, err
	}
	m, err := u.db.Manifest(pkg, version)
	if err != nil {
		return nil, err
	}
	m.SetRemovable(user.IsRemovable(pkg))
	return m, nil
}
